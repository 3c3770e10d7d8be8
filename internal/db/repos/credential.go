package repos

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/promolab/blast/internal/db/models"
)

// CredentialRepository provides access to credential-related database operations
type CredentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a new credential repository instance
func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Create creates a new credential in the database
func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	return r.db.WithContext(ctx).Create(cred).Error
}

// GetByID retrieves a credential by its ID
func (r *CredentialRepository) GetByID(ctx context.Context, id uint) (*models.Credential, error) {
	var cred models.Credential
	err := r.db.WithContext(ctx).First(&cred, id).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// ListActive retrieves all active credentials, least used first
func (r *CredentialRepository) ListActive(ctx context.Context) ([]models.Credential, error) {
	var creds []models.Credential
	err := r.db.WithContext(ctx).
		Where(&models.Credential{Active: true}).
		Order(models.CredentialUsageField + " ASC").
		Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

// AddUsage increments a credential's usage counter and, when the window
// allowance is crossed, stamps the reset timestamp.
func (r *CredentialRepository) AddUsage(ctx context.Context, id uint, callsUsed int, resetAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cred models.Credential
		if err := tx.First(&cred, id).Error; err != nil {
			return fmt.Errorf("failed to get credential: %w", err)
		}

		updates := map[string]interface{}{
			models.CredentialUsageField: gorm.Expr(models.CredentialUsageField+" + ?", callsUsed),
		}
		if cred.UsageCount+callsUsed >= cred.UsageLimit && cred.ResetAt == nil {
			updates[models.CredentialResetAtField] = resetAt
		}

		return tx.Model(&models.Credential{}).
			Where(&models.Credential{Model: gorm.Model{ID: id}}).
			Updates(updates).Error
	})
}

// ResetExpired zeroes the usage of every credential whose window has elapsed
// and returns the number of credentials reset
func (r *CredentialRepository) ResetExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Credential{}).
		Where(models.CredentialResetAtField+" IS NOT NULL AND "+models.CredentialResetAtField+" <= ?", now).
		Updates(map[string]interface{}{
			models.CredentialUsageField:   0,
			models.CredentialResetAtField: nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset credentials: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SetActive flips a credential's active flag
func (r *CredentialRepository) SetActive(ctx context.Context, id uint, active bool) error {
	return r.db.WithContext(ctx).Model(&models.Credential{}).
		Where(&models.Credential{Model: gorm.Model{ID: id}}).
		Update("active", active).Error
}
