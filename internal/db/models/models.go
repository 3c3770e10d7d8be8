// Package models defines the persistent records of the bulk creation engine
package models

import "github.com/promolab/blast/internal/logger"

const (
	// DefaultLimit is the max number of rows that are retrieved from the DB per listing API call
	DefaultLimit = 50

	// AdminID is the owner ID that bypasses owner scoping in queries
	AdminID = uint(0)
)

// StatusFilter represents how to filter rows by status
type StatusFilter string

const (
	// StatusFilterEqual indicates filtering for rows with matching status
	StatusFilterEqual StatusFilter = "equal"
	// StatusFilterNotEqual indicates filtering for rows with non-matching status
	StatusFilterNotEqual StatusFilter = "not_equal"
)

// ListOptions represents pagination and filtering options for list operations
type ListOptions struct {
	Limit        int          `json:"limit"`  // Number of items to return
	Offset       int          `json:"offset"` // Number of items to skip
	JobStatus    *JobStatus   `json:"job_status,omitempty"`
	QueueStatus  *QueueStatus `json:"queue_status,omitempty"`
	StatusFilter StatusFilter `json:"status_filter,omitempty"`
}

// ValidateOwnerID ensures an owner ID can be used to scope a query.
// AdminID is accepted and disables scoping.
func ValidateOwnerID(ownerID uint) error {
	if ownerID == AdminID {
		logger.Debug("query not scoped to an owner")
	}
	return nil
}
