// Package services implements the business logic of the bulk creation engine
// on top of the repository and platform layers
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/db/repos"
	"github.com/promolab/blast/internal/logger"
	"github.com/promolab/blast/internal/platform"
)

// FailureAction is the verdict reached after a job attempt fails
type FailureAction string

// Failure actions
const (
	// ActionRetry leaves the job in progress for another attempt
	ActionRetry FailureAction = "retry"
	// ActionRollback marks the job for compensation of everything it created
	ActionRollback FailureAction = "rollback"
)

// Rollback severities
const (
	// SeverityWarning marks rollbacks caused by an exhausted retry budget
	SeverityWarning = "warning"
	// SeverityCritical marks rollbacks caused by a permanent platform rejection
	SeverityCritical = "critical"
)

// FailureDecision is the outcome of HandleFailure: either another attempt with
// the remaining work, or a rollback with a reason and severity
type FailureDecision struct {
	Action FailureAction `json:"action"`
	// Attempt is the attempt number just recorded, valid for ActionRetry
	Attempt int `json:"attempt,omitempty"`
	// Remaining is the number of children still missing, valid for ActionRetry
	Remaining int `json:"remaining,omitempty"`
	// Reason explains an ActionRollback verdict
	Reason string `json:"reason,omitempty"`
	// Severity grades an ActionRollback verdict
	Severity string `json:"severity,omitempty"`
}

// ReconcileResult compares the local slot ledger against the remote platform
type ReconcileResult struct {
	// ParentMissing is true when the job's campaign no longer exists remotely
	ParentMissing bool `json:"parent_missing"`
	// ChildrenActual is the authoritative count of surviving children
	ChildrenActual int `json:"children_actual"`
	// Remaining is how many children still need to be created, never negative
	Remaining int `json:"remaining"`
}

// JobService tracks bulk creation jobs and their slot ledgers
type JobService struct {
	repo     *repos.JobRepository
	slotRepo *repos.SlotRepository
	client   platform.Client
	rollback *RollbackService
}

// NewJobService creates a new job service instance
func NewJobService(repo *repos.JobRepository, slotRepo *repos.SlotRepository, client platform.Client, rollback *RollbackService) *JobService {
	return &JobService{repo: repo, slotRepo: slotRepo, client: client, rollback: rollback}
}

// Open registers a new job and pre-allocates its slot ledger: one parent slot
// for the campaign and one child slot per requested ad. When the idempotency
// key already names a job, that job is returned instead of creating a second
// one.
func (s *JobService) Open(ctx context.Context, job *models.Job) (*models.Job, error) {
	// One campaign per job; the pair parents hang off it and are not slotted
	job.RequestedParents = 1
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	if job.IdempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, job.IdempotencyKey)
		if err == nil {
			logger.InfoWithFields("idempotency key already registered, returning existing job", map[string]interface{}{
				"job_id": existing.ID,
				"key":    job.IdempotencyKey,
			})
			return existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	slots := make([]models.Slot, 0, job.RequestedChildren+1)
	slots = append(slots, models.Slot{
		JobID:      job.ID,
		SlotNumber: 1,
		Kind:       models.SlotKindParent,
		Status:     models.SlotStatusPending,
		Label:      fmt.Sprintf("%s-campaign", job.Name),
	})
	for i := 1; i <= job.RequestedChildren; i++ {
		slots = append(slots, models.Slot{
			JobID:      job.ID,
			SlotNumber: i,
			Kind:       models.SlotKindChild,
			Status:     models.SlotStatusPending,
			Label:      fmt.Sprintf("%s-%d", job.Name, i),
		})
	}
	if err := s.slotRepo.CreateBatch(ctx, slots); err != nil {
		return nil, fmt.Errorf("failed to allocate slots for job %d: %w", job.ID, err)
	}

	logger.InfoWithFields("opened job", map[string]interface{}{
		"job_id":   job.ID,
		"owner_id": job.OwnerID,
		"children": job.RequestedChildren,
	})
	return job, nil
}

// Get retrieves a job scoped to its owner
func (s *JobService) Get(ctx context.Context, ownerID, jobID uint) (*models.Job, error) {
	return s.repo.GetByID(ctx, ownerID, jobID)
}

// List returns jobs for an owner, optionally filtered by status
func (s *JobService) List(ctx context.Context, ownerID uint, opts *models.ListOptions) ([]models.Job, error) {
	status := models.JobStatusUnknown
	if opts != nil && opts.JobStatus != nil {
		status = *opts.JobStatus
	}
	return s.repo.List(ctx, status, ownerID, opts)
}

// Slots returns the slot ledger of a job
func (s *JobService) Slots(ctx context.Context, ownerID, jobID uint) ([]models.Slot, error) {
	if _, err := s.repo.GetByID(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	return s.slotRepo.GetByJobID(ctx, jobID)
}

// PendingChildren returns up to limit retryable child slots, slot number ascending
func (s *JobService) PendingChildren(ctx context.Context, jobID uint, limit int) ([]models.Slot, error) {
	return s.slotRepo.NextPending(ctx, jobID, models.SlotKindChild, limit)
}

// RecordCreated marks a slot created and refreshes the job counters. Recording
// the same slot twice is an error, and so is recording a child beyond the
// requested count: the counters can never overshoot the request.
func (s *JobService) RecordCreated(ctx context.Context, job *models.Job, kind models.SlotKind, slotNumber int, remoteID string) error {
	if kind == models.SlotKindChild {
		created, err := s.slotRepo.CountByKindAndStatus(ctx, job.ID, models.SlotKindChild, models.SlotStatusCreated)
		if err != nil {
			return err
		}
		if int(created) >= job.RequestedChildren {
			return fmt.Errorf("job %d already has all %d children recorded", job.ID, job.RequestedChildren)
		}
	}

	if err := s.slotRepo.MarkCreated(ctx, job.ID, kind, slotNumber, remoteID); err != nil {
		return err
	}
	if kind == models.SlotKindParent {
		if err := s.repo.SetRemoteParentID(ctx, job.ID, remoteID); err != nil {
			return err
		}
		job.RemoteParentID = remoteID
	}
	return s.refreshCounters(ctx, job)
}

// RecordFailed marks a slot failed without touching the counters
func (s *JobService) RecordFailed(ctx context.Context, job *models.Job, kind models.SlotKind, slotNumber int, errMsg string) error {
	return s.slotRepo.MarkFailed(ctx, job.ID, kind, slotNumber, errMsg)
}

// RecordDeferred hands a child slot to the deferred queue. The bool reports
// whether the claim landed; a slot that resolved in the meantime refuses it.
func (s *JobService) RecordDeferred(ctx context.Context, job *models.Job, slotNumber int) (bool, error) {
	return s.slotRepo.MarkDeferred(ctx, job.ID, models.SlotKindChild, slotNumber)
}

// Reconcile computes how much work a job still has. The remote child count is
// authoritative: when it disagrees with the local ledger the remote value wins
// and the counters are corrected, so crashes between a remote create and its
// local record never cause re-creation.
func (s *JobService) Reconcile(ctx context.Context, job *models.Job) (ReconcileResult, error) {
	created, err := s.slotRepo.CountByKindAndStatus(ctx, job.ID, models.SlotKindChild, models.SlotStatusCreated)
	if err != nil {
		return ReconcileResult{}, err
	}
	result := ReconcileResult{ChildrenActual: int(created)}

	if job.RemoteParentID == "" {
		result.ParentMissing = true
		result.Remaining = job.RequestedChildren
		return result, nil
	}

	remote, err := s.client.CountChildren(ctx, job.RemoteParentID)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		// The campaign is gone remotely and the deletion cascaded, so nothing
		// recorded as created actually survives. The ledger is demoted to
		// retryable and the next run rebuilds from scratch.
		result.ParentMissing = true
		result.ChildrenActual = 0
		if err := s.slotRepo.ResetCreated(ctx, job.ID, "campaign deleted remotely"); err != nil {
			return ReconcileResult{}, err
		}
		if err := s.repo.SetRemoteParentID(ctx, job.ID, ""); err != nil {
			return ReconcileResult{}, err
		}
		job.RemoteParentID = ""
	case err != nil:
		return ReconcileResult{}, fmt.Errorf("failed to count remote children of job %d: %w", job.ID, err)
	default:
		if remote != int(created) {
			logger.WarnWithFields("ledger disagrees with remote child count, remote wins", map[string]interface{}{
				"job_id": job.ID,
				"local":  created,
				"remote": remote,
			})
		}
		result.ChildrenActual = remote
	}

	result.Remaining = job.RequestedChildren - result.ChildrenActual
	if result.Remaining < 0 {
		result.Remaining = 0
	}

	parents := 0
	if !result.ParentMissing {
		parents = 1
	}
	if err := s.repo.UpdateCounters(ctx, job.ID, parents, result.ChildrenActual); err != nil {
		return ReconcileResult{}, err
	}
	job.ParentsCreated = parents
	job.ChildrenCreated = result.ChildrenActual
	return result, nil
}

// HandleFailure records a failed attempt and decides between another retry
// and a rollback. Eligibility is the rollback service's call; this only
// records the attempt and phrases the verdict.
func (s *JobService) HandleFailure(ctx context.Context, job *models.Job, class platform.ErrorClass, cause string, remaining int) (FailureDecision, error) {
	job.RetryCount++
	if err := job.AppendError(job.RetryCount, cause, time.Now().UTC()); err != nil {
		return FailureDecision{}, err
	}
	job.Error = cause
	if err := s.repo.Update(ctx, job); err != nil {
		return FailureDecision{}, err
	}

	if s.rollback.ShouldRollback(job, class) {
		reason := fmt.Sprintf("retry budget of %d spent: %s", job.RetryBudget, cause)
		severity := SeverityWarning
		switch {
		case class == platform.ClassPermanent:
			reason = fmt.Sprintf("permanent platform rejection: %s", cause)
			severity = SeverityCritical
		case job.Status == models.JobStatusFailed && job.RetryCount < job.RetryBudget:
			reason = fmt.Sprintf("job already failed: %s", cause)
		}
		return FailureDecision{
			Action:   ActionRollback,
			Reason:   reason,
			Severity: severity,
		}, nil
	}
	return FailureDecision{
		Action:    ActionRetry,
		Attempt:   job.RetryCount,
		Remaining: remaining,
	}, nil
}

// MarkStatus transitions a job's status
func (s *JobService) MarkStatus(ctx context.Context, jobID uint, status models.JobStatus, errMsg string) error {
	return s.repo.UpdateStatus(ctx, jobID, status, errMsg)
}

func (s *JobService) refreshCounters(ctx context.Context, job *models.Job) error {
	parents, err := s.slotRepo.CountByKindAndStatus(ctx, job.ID, models.SlotKindParent, models.SlotStatusCreated)
	if err != nil {
		return err
	}
	children, err := s.slotRepo.CountByKindAndStatus(ctx, job.ID, models.SlotKindChild, models.SlotStatusCreated)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateCounters(ctx, job.ID, int(parents), int(children)); err != nil {
		return err
	}
	job.ParentsCreated = int(parents)
	job.ChildrenCreated = int(children)
	return nil
}
