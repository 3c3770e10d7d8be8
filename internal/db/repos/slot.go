package repos

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/promolab/blast/internal/db/models"
)

// SlotRepository provides access to slot-related database operations
type SlotRepository struct {
	db *gorm.DB
}

// NewSlotRepository creates a new slot repository instance
func NewSlotRepository(db *gorm.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

// CreateBatch pre-allocates all slots for a job in one insert
func (r *SlotRepository) CreateBatch(ctx context.Context, slots []models.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&slots).Error
}

// GetByJobID retrieves all slots for a given job, slot number ascending
func (r *SlotRepository) GetByJobID(ctx context.Context, jobID uint) ([]models.Slot, error) {
	var slots []models.Slot
	err := r.db.WithContext(ctx).
		Where(&models.Slot{JobID: jobID}).
		Order(models.SlotNumberField + " ASC").
		Find(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get slots for job %d: %w", jobID, err)
	}
	return slots, nil
}

// Get retrieves one slot by job, kind and slot number
func (r *SlotRepository) Get(ctx context.Context, jobID uint, kind models.SlotKind, slotNumber int) (*models.Slot, error) {
	var slot models.Slot
	err := r.db.WithContext(ctx).
		Where(&models.Slot{JobID: jobID, Kind: kind, SlotNumber: slotNumber}).
		First(&slot).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get slot %d/%s for job %d: %w", slotNumber, kind, jobID, err)
	}
	return &slot, nil
}

// MarkCreated transitions a slot to created and records its remote ID
func (r *SlotRepository) MarkCreated(ctx context.Context, jobID uint, kind models.SlotKind, slotNumber int, remoteID string) error {
	result := r.db.WithContext(ctx).Model(&models.Slot{}).
		Where(&models.Slot{JobID: jobID, Kind: kind, SlotNumber: slotNumber}).
		Where(models.SlotStatusField+" <> ?", models.SlotStatusCreated).
		Updates(map[string]interface{}{
			"status":    models.SlotStatusCreated,
			"remote_id": remoteID,
			"error":     "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("slot %d/%s for job %d already created", slotNumber, kind, jobID)
	}
	return nil
}

// MarkDeferred hands a slot to the deferred queue. Only retryable slots can
// be claimed; the bool reports whether the claim landed. A slot that resolved
// in the meantime (created or rolled back) refuses the claim, so a queued
// replay can detect it lost the slot before touching the platform.
func (r *SlotRepository) MarkDeferred(ctx context.Context, jobID uint, kind models.SlotKind, slotNumber int) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Slot{}).
		Where(&models.Slot{JobID: jobID, Kind: kind, SlotNumber: slotNumber}).
		Where(models.SlotStatusField+" IN ?", []models.SlotStatus{
			models.SlotStatusPending, models.SlotStatusFailed, models.SlotStatusDeferred,
		}).
		Update(models.SlotStatusField, models.SlotStatusDeferred)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkFailed transitions a slot to failed with an error note
func (r *SlotRepository) MarkFailed(ctx context.Context, jobID uint, kind models.SlotKind, slotNumber int, errMsg string) error {
	return r.db.WithContext(ctx).Model(&models.Slot{}).
		Where(&models.Slot{JobID: jobID, Kind: kind, SlotNumber: slotNumber}).
		Updates(map[string]interface{}{
			"status": models.SlotStatusFailed,
			"error":  errMsg,
		}).Error
}

// MarkRolledBack transitions a slot to rolled_back. The row is kept for audit.
func (r *SlotRepository) MarkRolledBack(ctx context.Context, slotID uint) error {
	return r.db.WithContext(ctx).Model(&models.Slot{}).
		Where(&models.Slot{Model: gorm.Model{ID: slotID}}).
		Update(models.SlotStatusField, models.SlotStatusRolledBack).Error
}

// SetError records a deletion failure on a slot without changing its status
func (r *SlotRepository) SetError(ctx context.Context, slotID uint, errMsg string) error {
	return r.db.WithContext(ctx).Model(&models.Slot{}).
		Where(&models.Slot{Model: gorm.Model{ID: slotID}}).
		Update("error", errMsg).Error
}

// ResetCreated demotes every created slot of a job back to failed, keeping the
// cause on each row. Used when the remote campaign vanished: the platform
// cascades the deletion, so nothing recorded as created actually survives.
func (r *SlotRepository) ResetCreated(ctx context.Context, jobID uint, errMsg string) error {
	return r.db.WithContext(ctx).Model(&models.Slot{}).
		Where(&models.Slot{JobID: jobID, Status: models.SlotStatusCreated}).
		Updates(map[string]interface{}{
			"status":    models.SlotStatusFailed,
			"remote_id": "",
			"error":     errMsg,
		}).Error
}

// CountByKindAndStatus counts a job's slots of one kind in one status
func (r *SlotRepository) CountByKindAndStatus(ctx context.Context, jobID uint, kind models.SlotKind, status models.SlotStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Slot{}).
		Where(&models.Slot{JobID: jobID, Kind: kind, Status: status}).
		Count(&count).Error
	return count, err
}

// GetCreatedForRollback retrieves a job's created slots ordered child kind
// before parent kind. The remote platform refuses to delete a campaign that
// still has ads under it, so children go first.
func (r *SlotRepository) GetCreatedForRollback(ctx context.Context, jobID uint) ([]models.Slot, error) {
	var slots []models.Slot
	err := r.db.WithContext(ctx).
		Where(&models.Slot{JobID: jobID, Status: models.SlotStatusCreated}).
		Order(models.SlotKindField + " ASC"). // "child" sorts before "parent"
		Order(models.SlotNumberField + " ASC").
		Find(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get created slots for job %d: %w", jobID, err)
	}
	return slots, nil
}

// NextPending retrieves up to limit retryable slots of one kind, slot number
// ascending. Failed slots count as retryable: a new attempt picks them up
// again alongside the never-attempted ones. Deferred slots are excluded; the
// queued request that owns them resolves them instead.
func (r *SlotRepository) NextPending(ctx context.Context, jobID uint, kind models.SlotKind, limit int) ([]models.Slot, error) {
	var slots []models.Slot
	query := r.db.WithContext(ctx).
		Where(&models.Slot{JobID: jobID, Kind: kind}).
		Where(models.SlotStatusField+" IN ?", []models.SlotStatus{models.SlotStatusPending, models.SlotStatusFailed}).
		Order(models.SlotNumberField + " ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get pending slots for job %d: %w", jobID, err)
	}
	return slots, nil
}
