package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Field names for the credential model
const (
	// CredentialUsageField is the field name for the usage counter
	CredentialUsageField = "usage_count"
	// CredentialResetAtField is the field name for the window reset timestamp
	CredentialResetAtField = "reset_at"
)

// DefaultUsageLimit is the per-window call allowance assumed for a credential
// when the remote platform does not report one
const DefaultUsageLimit = 200

// Credential is one usable platform API credential with an independent rate
// budget. Credentials are shared across concurrent jobs; usage counters are
// only mutated through CredentialRepository so updates stay serialized.
type Credential struct {
	gorm.Model
	Name        string     `json:"name" gorm:"not null; uniqueIndex"`
	AccessToken string     `json:"-" gorm:"not null"` // opaque to the engine
	UsageCount  int        `json:"usage_count" gorm:"not null; default:0"`
	UsageLimit  int        `json:"usage_limit" gorm:"not null"`
	ResetAt     *time.Time `json:"reset_at,omitempty"`
	Active      bool       `json:"active" gorm:"not null; default:true; index"`
}

// Saturation returns the used fraction of the credential's window allowance
func (c *Credential) Saturation() float64 {
	if c.UsageLimit <= 0 {
		return 1
	}
	return float64(c.UsageCount) / float64(c.UsageLimit)
}

// Validate ensures that the credential data is valid
func (c *Credential) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("credential name cannot be empty")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("credential access token cannot be empty")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new credential
func (c *Credential) BeforeCreate(_ *gorm.DB) error {
	if c.UsageLimit == 0 {
		c.UsageLimit = DefaultUsageLimit
	}
	return c.Validate()
}
