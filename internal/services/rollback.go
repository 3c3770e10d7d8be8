package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/db/repos"
	"github.com/promolab/blast/internal/logger"
	"github.com/promolab/blast/internal/platform"
)

// RollbackResult summarizes one compensation run
type RollbackResult struct {
	JobID           uint   `json:"job_id"`
	EntitiesDeleted int    `json:"entities_deleted"`
	EntitiesFailed  int    `json:"entities_failed"`
	Reason          string `json:"reason"`
}

// RollbackService compensates a failed job by deleting everything it created
// on the platform, children before the parent
type RollbackService struct {
	repo     *repos.JobRepository
	slotRepo *repos.SlotRepository
	client   platform.Client
}

// NewRollbackService creates a new rollback service instance
func NewRollbackService(repo *repos.JobRepository, slotRepo *repos.SlotRepository, client platform.Client) *RollbackService {
	return &RollbackService{repo: repo, slotRepo: slotRepo, client: client}
}

// ShouldRollback reports whether a failed attempt warrants compensation
// instead of another retry: permanent platform rejections, jobs already
// marked failed, and jobs whose retry budget is spent all roll back.
func (s *RollbackService) ShouldRollback(job *models.Job, class platform.ErrorClass) bool {
	if class == platform.ClassPermanent {
		return true
	}
	if job.Status == models.JobStatusFailed {
		return true
	}
	return job.RetryCount >= job.RetryBudget
}

// Execute deletes every created entity of a job. Children go first so the
// parent is never deleted out from under a surviving child; an entity already
// gone remotely counts as deleted. The job transitions to rolled back even
// when some deletions fail: EntitiesFailed in the result carries the leak for
// operator alerting, and the undeleted slots keep their created status and
// cause.
func (s *RollbackService) Execute(ctx context.Context, job *models.Job, reason string) (RollbackResult, error) {
	result := RollbackResult{JobID: job.ID, Reason: reason}

	// Ordered children first, then the parent
	slots, err := s.slotRepo.GetCreatedForRollback(ctx, job.ID)
	if err != nil {
		return result, fmt.Errorf("failed to load slots of job %d: %w", job.ID, err)
	}

	logger.WarnWithFields("rolling back job", map[string]interface{}{
		"job_id":   job.ID,
		"reason":   reason,
		"entities": len(slots),
	})

	for _, slot := range slots {
		if slot.RemoteID == "" {
			continue
		}
		err := s.client.DeleteEntity(ctx, slot.RemoteID)
		if err != nil && !errors.Is(err, platform.ErrNotFound) {
			result.EntitiesFailed++
			if dbErr := s.slotRepo.SetError(ctx, slot.ID, fmt.Sprintf("rollback: %v", err)); dbErr != nil {
				logger.Errorf("failed to record rollback error on slot %d: %v", slot.ID, dbErr)
			}
			continue
		}
		result.EntitiesDeleted++
		if dbErr := s.slotRepo.MarkRolledBack(ctx, slot.ID); dbErr != nil {
			logger.Errorf("failed to mark slot %d rolled back: %v", slot.ID, dbErr)
		}
	}

	note := reason
	if result.EntitiesFailed > 0 {
		note = fmt.Sprintf("rollback incomplete: %d of %d deletions failed (%s)",
			result.EntitiesFailed, result.EntitiesDeleted+result.EntitiesFailed, reason)
		logger.ErrorWithFields("rollback left remote entities behind", map[string]interface{}{
			"job_id":  job.ID,
			"deleted": result.EntitiesDeleted,
			"failed":  result.EntitiesFailed,
		})
	}

	if err := s.repo.ForceStatus(ctx, job.ID, models.JobStatusRolledBack, note); err != nil {
		return result, err
	}

	// Counters follow the ledger: slots whose deletion failed stay created
	parents, err := s.slotRepo.CountByKindAndStatus(ctx, job.ID, models.SlotKindParent, models.SlotStatusCreated)
	if err != nil {
		return result, err
	}
	children, err := s.slotRepo.CountByKindAndStatus(ctx, job.ID, models.SlotKindChild, models.SlotStatusCreated)
	if err != nil {
		return result, err
	}
	if err := s.repo.UpdateCounters(ctx, job.ID, int(parents), int(children)); err != nil {
		return result, err
	}
	logger.InfoWithFields("rollback complete", map[string]interface{}{
		"job_id":  job.ID,
		"deleted": result.EntitiesDeleted,
		"failed":  result.EntitiesFailed,
	})
	return result, nil
}
