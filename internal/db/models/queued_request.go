package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Field names for the queued request model
const (
	// QueueStatusField is the field name for the queue entry status
	QueueStatusField = "status"
	// QueueNotBeforeField is the field name for the earliest-retry timestamp
	QueueNotBeforeField = "not_before"
	// QueuePriorityField is the field name for the drain priority
	QueuePriorityField = "priority"
)

// DefaultMaxAttempts is the attempt cap for a deferred request when the
// enqueuer does not set one
const DefaultMaxAttempts = 5

// QueueStatus represents the current state of a deferred request
type QueueStatus string

// Queue status constants
const (
	// QueueStatusQueued indicates the request is waiting for its retry time
	QueueStatusQueued QueueStatus = "queued"
	// QueueStatusProcessing indicates a tick is currently executing the request
	QueueStatusProcessing QueueStatus = "processing"
	// QueueStatusCompleted indicates the request executed successfully
	QueueStatusCompleted QueueStatus = "completed"
	// QueueStatusFailed indicates the request permanently failed
	QueueStatusFailed QueueStatus = "failed"
)

// QueuedRequest is one deferred remote call waiting for budget or backoff
type QueuedRequest struct {
	gorm.Model
	RequestID   string          `json:"request_id" gorm:"not null; uniqueIndex"`
	OwnerID     uint            `json:"owner_id" gorm:"not null; index"`
	AccountID   string          `json:"account_id" gorm:"not null; index"` // target remote resource
	Payload     json.RawMessage `json:"payload" gorm:"type:jsonb"`         // opaque action payload
	NotBefore   time.Time       `json:"not_before" gorm:"not null; index"`
	Attempts    int             `json:"attempts" gorm:"not null; default:0"`
	MaxAttempts int             `json:"max_attempts" gorm:"not null"`
	Priority    int             `json:"priority" gorm:"not null; default:0; index"`
	Status      QueueStatus     `json:"status" gorm:"not null; index"`
	LastError   string          `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time       `json:"created_at" gorm:"index"`
}

// String returns the string representation of the queue status
func (s QueueStatus) String() string {
	return string(s)
}

// ParseQueueStatus converts a string to a QueueStatus type
func ParseQueueStatus(str string) (QueueStatus, error) {
	switch str {
	case string(QueueStatusQueued):
		return QueueStatusQueued, nil
	case string(QueueStatusProcessing):
		return QueueStatusProcessing, nil
	case string(QueueStatusCompleted):
		return QueueStatusCompleted, nil
	case string(QueueStatusFailed):
		return QueueStatusFailed, nil
	default:
		return QueueStatusQueued, fmt.Errorf("invalid queue status: %s", str)
	}
}

// UnmarshalJSON implements json.Unmarshaler for QueueStatus
func (s *QueueStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status, err := ParseQueueStatus(str)
	if err != nil {
		return err
	}

	*s = status
	return nil
}

// Exhausted reports whether the request has used up its attempt budget
func (q *QueuedRequest) Exhausted() bool {
	return q.Attempts >= q.MaxAttempts
}

// Validate ensures that the queued request data is valid
func (q *QueuedRequest) Validate() error {
	if q.RequestID == "" {
		return fmt.Errorf("queued request ID cannot be empty")
	}
	if q.AccountID == "" {
		return fmt.Errorf("queued request account ID cannot be empty")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new queued request
func (q *QueuedRequest) BeforeCreate(_ *gorm.DB) error {
	if q.Status == "" {
		q.Status = QueueStatusQueued
	}
	if q.MaxAttempts == 0 {
		q.MaxAttempts = DefaultMaxAttempts
	}
	return q.Validate()
}
