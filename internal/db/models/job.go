package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Field names for the job model
const (
	// JobStatusField is the database field name for the job status
	JobStatusField = "status"
	// JobCreatedAtField is the database field name for the job creation timestamp
	JobCreatedAtField = "created_at"
)

// DefaultRetryBudget is the number of retry attempts a job gets before it
// becomes eligible for rollback
const DefaultRetryBudget = 3

// JobStatus represents the current state of a bulk creation job
type JobStatus int

// Job status constants
const (
	// JobStatusUnknown represents an unknown or invalid job status
	JobStatusUnknown JobStatus = iota
	// JobStatusPending indicates the job has been opened but no remote call was made yet
	JobStatusPending
	// JobStatusInProgress indicates the job is creating entities
	JobStatusInProgress
	// JobStatusCompleted indicates every requested entity was created
	JobStatusCompleted
	// JobStatusFailed indicates the job gave up before reaching the requested counts
	JobStatusFailed
	// JobStatusRolledBack indicates the job's remote entities were compensated away
	JobStatusRolledBack
)

var jobStatusNames = []string{
	"unknown",
	"pending",
	"in_progress",
	"completed",
	"failed",
	"rolled_back",
}

// JobError is one entry in a job's error history
type JobError struct {
	Attempt    int       `json:"attempt"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Job represents one bulk creation request: one campaign plus N ad-set/ad pairs
type Job struct {
	gorm.Model
	Name              string          `json:"name" gorm:"not null; index"`
	OwnerID           uint            `json:"owner_id" gorm:"not null; index"`
	AccountID         string          `json:"account_id" gorm:"not null; index"` // target remote ad account
	// Unique only for non-empty keys; jobs opened without a key never collide
	IdempotencyKey    string          `json:"idempotency_key,omitempty" gorm:"index:idx_jobs_idempotency_key,unique,where:idempotency_key <> ''"`
	RequestedParents  int             `json:"requested_parents" gorm:"not null"`
	RequestedChildren int             `json:"requested_children" gorm:"not null"`
	ParentsCreated    int             `json:"parents_created" gorm:"not null; default:0"`
	ChildrenCreated   int             `json:"children_created" gorm:"not null; default:0"`
	RetryCount        int             `json:"retry_count" gorm:"not null; default:0"`
	RetryBudget       int             `json:"retry_budget" gorm:"not null"`
	RemoteParentID    string          `json:"remote_parent_id,omitempty" gorm:"index"`
	Status            JobStatus       `json:"status" gorm:"index"`
	Error             string          `json:"error,omitempty" gorm:"type:text"`
	ErrorHistory      json.RawMessage `json:"error_history,omitempty" gorm:"type:jsonb"`
	CreatedAt         time.Time       `json:"created_at" gorm:"index"`
}

// IsTerminal reports whether the job status allows no further mutation
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusRolledBack:
		return true
	default:
		return false
	}
}

// ParseJobStatus converts a string representation of a job status to JobStatus type
func ParseJobStatus(str string) (JobStatus, error) {
	for i, status := range jobStatusNames {
		if status == str {
			return JobStatus(i), nil
		}
	}
	return JobStatusUnknown, fmt.Errorf("invalid job status: %s", str)
}

func (s JobStatus) String() string {
	if int(s) >= len(jobStatusNames) {
		return jobStatusNames[JobStatusUnknown]
	}
	return jobStatusNames[s]
}

// MarshalJSON implements the json.Marshaler interface for JobStatus
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for JobStatus
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status, err := ParseJobStatus(str)
	if err != nil {
		return err
	}

	*s = status
	return nil
}

// Validate ensures that the job data is valid
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if j.AccountID == "" {
		return fmt.Errorf("job account ID cannot be empty")
	}
	if j.RequestedParents < 1 {
		return fmt.Errorf("requested parents must be at least 1, got %d", j.RequestedParents)
	}
	if j.RequestedChildren < 0 {
		return fmt.Errorf("requested children cannot be negative, got %d", j.RequestedChildren)
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new job
func (j *Job) BeforeCreate(_ *gorm.DB) error {
	if j.Status == JobStatusUnknown {
		j.Status = JobStatusPending
	}
	if j.RetryBudget == 0 {
		j.RetryBudget = DefaultRetryBudget
	}
	return j.Validate()
}

// AppendError adds an entry to the job's error history
func (j *Job) AppendError(attempt int, msg string, at time.Time) error {
	var history []JobError
	if len(j.ErrorHistory) > 0 {
		if err := json.Unmarshal(j.ErrorHistory, &history); err != nil {
			return fmt.Errorf("failed to decode error history: %w", err)
		}
	}
	history = append(history, JobError{Attempt: attempt, Message: msg, OccurredAt: at})
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode error history: %w", err)
	}
	j.ErrorHistory = raw
	j.Error = msg
	return nil
}
