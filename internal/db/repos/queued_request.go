package repos

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/promolab/blast/internal/db/models"
)

// QueuedRequestRepository provides access to deferred request database operations
type QueuedRequestRepository struct {
	db *gorm.DB
}

// NewQueuedRequestRepository creates a new queued request repository instance
func NewQueuedRequestRepository(db *gorm.DB) *QueuedRequestRepository {
	return &QueuedRequestRepository{db: db}
}

// Create creates a new queued request in the database
func (r *QueuedRequestRepository) Create(ctx context.Context, req *models.QueuedRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

// GetByRequestID retrieves a queued request by its request ID
func (r *QueuedRequestRepository) GetByRequestID(ctx context.Context, requestID string) (*models.QueuedRequest, error) {
	var req models.QueuedRequest
	err := r.db.WithContext(ctx).Where(&models.QueuedRequest{RequestID: requestID}).First(&req).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get queued request: %w", err)
	}
	return &req, nil
}

// DueRequests retrieves up to limit queued requests whose retry time has
// arrived and whose attempt budget is not exhausted. Requests are drained
// priority ascending, then oldest first, to prevent starvation.
func (r *QueuedRequestRepository) DueRequests(ctx context.Context, now time.Time, limit int) ([]models.QueuedRequest, error) {
	var reqs []models.QueuedRequest
	err := r.db.WithContext(ctx).
		Where(models.QueueStatusField+" = ?", models.QueueStatusQueued).
		Where(models.QueueNotBeforeField+" <= ?", now).
		Where("attempts < max_attempts").
		Order(models.QueuePriorityField + " ASC").
		Order(models.JobCreatedAtField + " ASC").
		Limit(limit).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get due requests: %w", err)
	}
	return reqs, nil
}

// MarkProcessing claims a queued request for execution. The status guard makes
// the claim a no-op if another tick already took it.
func (r *QueuedRequestRepository) MarkProcessing(ctx context.Context, requestID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.QueuedRequest{}).
		Where(&models.QueuedRequest{RequestID: requestID}).
		Where(models.QueueStatusField+" = ?", models.QueueStatusQueued).
		Update(models.QueueStatusField, models.QueueStatusProcessing)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkCompleted transitions a request to completed
func (r *QueuedRequestRepository) MarkCompleted(ctx context.Context, requestID string) error {
	return r.db.WithContext(ctx).Model(&models.QueuedRequest{}).
		Where(&models.QueuedRequest{RequestID: requestID}).
		Update(models.QueueStatusField, models.QueueStatusCompleted).Error
}

// MarkFailed transitions a request to failed with a final error note
func (r *QueuedRequestRepository) MarkFailed(ctx context.Context, requestID string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&models.QueuedRequest{}).
		Where(&models.QueuedRequest{RequestID: requestID}).
		Updates(map[string]interface{}{
			models.QueueStatusField: models.QueueStatusFailed,
			"last_error":            errMsg,
		}).Error
}

// Requeue puts a processing request back in the queue with a new retry time.
// countAttempt is false when the request is being re-deferred for budget
// reasons rather than an execution failure.
func (r *QueuedRequestRepository) Requeue(ctx context.Context, requestID string, notBefore time.Time, countAttempt bool, errMsg string) error {
	updates := map[string]interface{}{
		models.QueueStatusField:    models.QueueStatusQueued,
		models.QueueNotBeforeField: notBefore,
		"last_error":               errMsg,
	}
	if countAttempt {
		updates["attempts"] = gorm.Expr("attempts + 1")
	}
	return r.db.WithContext(ctx).Model(&models.QueuedRequest{}).
		Where(&models.QueuedRequest{RequestID: requestID}).
		Updates(updates).Error
}

// ListByOwner retrieves an owner's queued requests, newest first
func (r *QueuedRequestRepository) ListByOwner(ctx context.Context, ownerID uint, opts *models.ListOptions) ([]models.QueuedRequest, error) {
	var reqs []models.QueuedRequest
	query := r.db.WithContext(ctx).Model(&models.QueuedRequest{})
	if ownerID != models.AdminID {
		query = query.Where("owner_id = ?", ownerID)
	}
	if opts != nil {
		if opts.QueueStatus != nil {
			query = query.Where(models.QueueStatusField+" = ?", *opts.QueueStatus)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Offset(opts.Offset)
		}
	}
	err := query.Order(models.JobCreatedAtField + " DESC").Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list queued requests: %w", err)
	}
	return reqs, nil
}
