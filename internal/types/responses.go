package types

import (
	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/services"
)

// JobProgressResponse is a job together with its slot ledger
type JobProgressResponse struct {
	Job   *models.Job   `json:"job"`
	Slots []models.Slot `json:"slots"`
}

// JobListResponse is a page of jobs
type JobListResponse struct {
	Jobs []models.Job `json:"jobs"`
}

// QueueListResponse is a page of deferred requests
type QueueListResponse struct {
	Requests []models.QueuedRequest `json:"requests"`
}

// EnqueueResponse identifies a freshly deferred request
type EnqueueResponse struct {
	RequestID string `json:"request_id"`
}

// RunJobResponse reports one creation run
type RunJobResponse struct {
	Run services.RunResult `json:"run"`
}

// RollbackJobResponse reports one compensation run
type RollbackJobResponse struct {
	Rollback services.RollbackResult `json:"rollback"`
}
