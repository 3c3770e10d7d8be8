package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Field names for the slot model
const (
	// SlotStatusField is the field name for slot status
	SlotStatusField = "status"
	// SlotKindField is the field name for slot kind
	SlotKindField = "kind"
	// SlotNumberField is the field name for the slot number
	SlotNumberField = "slot_number"
)

// SlotKind distinguishes the two entity kinds a slot can track
type SlotKind string

// Slot kind constants
const (
	// SlotKindParent tracks a campaign entity
	SlotKindParent SlotKind = "parent"
	// SlotKindChild tracks an ad-set/ad entity under the campaign
	SlotKindChild SlotKind = "child"
)

// SlotStatus represents the current state of a slot
type SlotStatus string

// Slot status constants
const (
	// SlotStatusPending indicates no remote entity exists for this slot yet
	SlotStatusPending SlotStatus = "pending"
	// SlotStatusDeferred indicates a queued request owns this slot; creation
	// runs must not touch it until the queue resolves it
	SlotStatusDeferred SlotStatus = "deferred"
	// SlotStatusCreated indicates the remote entity was created
	SlotStatusCreated SlotStatus = "created"
	// SlotStatusFailed indicates creation failed for this slot
	SlotStatusFailed SlotStatus = "failed"
	// SlotStatusRolledBack indicates the remote entity was deleted during rollback
	SlotStatusRolledBack SlotStatus = "rolled_back"
)

// Slot is a pre-allocated ledger entry for one entity a job expects to create.
// Slots are never deleted, only status-transitioned; rolled_back rows are kept
// for audit.
type Slot struct {
	gorm.Model
	JobID      uint       `json:"job_id" gorm:"not null; index; uniqueIndex:idx_job_slot_kind"`
	SlotNumber int        `json:"slot_number" gorm:"not null; uniqueIndex:idx_job_slot_kind"` // 1-based, stable
	Kind       SlotKind   `json:"kind" gorm:"not null; uniqueIndex:idx_job_slot_kind"`
	Status     SlotStatus `json:"status" gorm:"not null; index"`
	RemoteID   string     `json:"remote_id,omitempty" gorm:"index"`
	Label      string     `json:"label" gorm:"not null"`
	Error      string     `json:"error,omitempty" gorm:"type:text"`
	CreatedAt  time.Time  `json:"created_at" gorm:"index"`
}

// String returns the string representation of the slot status
func (s SlotStatus) String() string {
	return string(s)
}

// ParseSlotStatus converts a string to a SlotStatus type
func ParseSlotStatus(str string) (SlotStatus, error) {
	switch str {
	case string(SlotStatusPending):
		return SlotStatusPending, nil
	case string(SlotStatusDeferred):
		return SlotStatusDeferred, nil
	case string(SlotStatusCreated):
		return SlotStatusCreated, nil
	case string(SlotStatusFailed):
		return SlotStatusFailed, nil
	case string(SlotStatusRolledBack):
		return SlotStatusRolledBack, nil
	default:
		return SlotStatusPending, fmt.Errorf("invalid slot status: %s", str)
	}
}

// UnmarshalJSON implements json.Unmarshaler for SlotStatus
func (s *SlotStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status, err := ParseSlotStatus(str)
	if err != nil {
		return err
	}

	*s = status
	return nil
}

// Validate ensures that the slot data is valid
func (s *Slot) Validate() error {
	if s.JobID == 0 {
		return fmt.Errorf("slot must belong to a job")
	}
	if s.SlotNumber < 1 {
		return fmt.Errorf("slot number must be 1-based, got %d", s.SlotNumber)
	}
	if s.Kind != SlotKindParent && s.Kind != SlotKindChild {
		return fmt.Errorf("invalid slot kind: %s", s.Kind)
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new slot
func (s *Slot) BeforeCreate(_ *gorm.DB) error {
	if s.Status == "" {
		s.Status = SlotStatusPending
	}
	return s.Validate()
}
