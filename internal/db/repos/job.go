// Package repos provides access to the engine's database records
package repos

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/promolab/blast/internal/db/models"
)

// JobRepository provides access to job-related database operations
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create creates a new job in the database
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if err := models.ValidateOwnerID(job.OwnerID); err != nil {
		return fmt.Errorf("invalid owner_id: %w", err)
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID.
// If the ownerID is the admin ID, the job is returned regardless of the owner.
func (r *JobRepository) GetByID(ctx context.Context, ownerID, id uint) (*models.Job, error) {
	var job models.Job
	qry := &models.Job{Model: gorm.Model{ID: id}}
	if ownerID != models.AdminID {
		qry.OwnerID = ownerID
	}
	err := r.db.WithContext(ctx).Where(qry).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetByIdempotencyKey retrieves a job by its idempotency key
func (r *JobRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where(&models.Job{IdempotencyKey: key}).First(&job).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get job by idempotency key: %w", err)
	}
	return &job, nil
}

// Update persists a job, refusing to mutate jobs already in a terminal state.
// The terminal check reads the stored row, not the in-memory copy, so a stale
// caller cannot resurrect a completed or rolled back job.
func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	stored, err := r.GetByID(ctx, models.AdminID, job.ID)
	if err != nil {
		return err
	}
	if stored.Status.IsTerminal() && stored.Status != job.Status {
		return fmt.Errorf("job %d is %s and cannot be updated", job.ID, stored.Status)
	}
	return r.db.WithContext(ctx).Save(job).Error
}

// UpdateStatus updates the status of a job along with its error message
func (r *JobRepository) UpdateStatus(ctx context.Context, id uint, status models.JobStatus, errMsg string) error {
	stored, err := r.GetByID(ctx, models.AdminID, id)
	if err != nil {
		return err
	}
	if stored.Status.IsTerminal() {
		return fmt.Errorf("job %d is %s and cannot change status", id, stored.Status)
	}
	return r.db.WithContext(ctx).Model(&models.Job{}).
		Where(&models.Job{Model: gorm.Model{ID: id}}).
		Updates(map[string]interface{}{
			"status": status,
			"error":  errMsg,
		}).Error
}

// ForceStatus updates a job's status without the terminal-state guard. Used
// by rollback, which legitimately moves jobs out of the failed state.
func (r *JobRepository) ForceStatus(ctx context.Context, id uint, status models.JobStatus, errMsg string) error {
	return r.db.WithContext(ctx).Model(&models.Job{}).
		Where(&models.Job{Model: gorm.Model{ID: id}}).
		Updates(map[string]interface{}{
			"status": status,
			"error":  errMsg,
		}).Error
}

// UpdateCounters sets the created-entity counters of a job
func (r *JobRepository) UpdateCounters(ctx context.Context, id uint, parents, children int) error {
	return r.db.WithContext(ctx).Model(&models.Job{}).
		Where(&models.Job{Model: gorm.Model{ID: id}}).
		Updates(map[string]interface{}{
			"parents_created":  parents,
			"children_created": children,
		}).Error
}

// SetRemoteParentID records the remote campaign ID once it is known
func (r *JobRepository) SetRemoteParentID(ctx context.Context, id uint, remoteID string) error {
	return r.db.WithContext(ctx).Model(&models.Job{}).
		Where(&models.Job{Model: gorm.Model{ID: id}}).
		Update("remote_parent_id", remoteID).Error
}

// List returns jobs filtered by status and owner
func (r *JobRepository) List(ctx context.Context, status models.JobStatus, ownerID uint, opts *models.ListOptions) ([]models.Job, error) {
	var jobs []models.Job
	query := r.db.WithContext(ctx).Model(&models.Job{})

	if status != models.JobStatusUnknown {
		query = query.Where(models.JobStatusField+" = ?", status)
	}
	if ownerID != models.AdminID {
		query = query.Where("owner_id = ?", ownerID)
	}
	if opts != nil {
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Offset(opts.Offset)
		}
	}

	err := query.Order(models.JobCreatedAtField + " DESC").Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Count returns the number of jobs matching the status and owner filters
func (r *JobRepository) Count(ctx context.Context, status models.JobStatus, ownerID uint) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.Job{})
	if status != models.JobStatusUnknown {
		query = query.Where(models.JobStatusField+" = ?", status)
	}
	if ownerID != models.AdminID {
		query = query.Where("owner_id = ?", ownerID)
	}
	err := query.Count(&count).Error
	return count, err
}
