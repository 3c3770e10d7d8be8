// Package platform defines the boundary to the remote ads platform API
package platform

import (
	"context"
	"errors"
	"time"
)

// EntityKind identifies the remote object type an operation targets
type EntityKind string

// Remote entity kinds
const (
	// KindCampaign is the top-level container entity, one per job
	KindCampaign EntityKind = "campaign"
	// KindAdSet is the pair parent, living directly under a campaign
	KindAdSet EntityKind = "adset"
	// KindAd is the pair child, living under an ad set
	KindAd EntityKind = "ad"
)

// ErrNotFound is returned by DeleteEntity when the entity is already gone
var ErrNotFound = errors.New("entity not found")

// RemoteEntity is the platform's handle for a created object
type RemoteEntity struct {
	ID string `json:"id"`
}

// UsageSnapshot is the rate budget state the platform reported on the most
// recent response
type UsageSnapshot struct {
	CallsUsed    int           `json:"calls_used"`
	CallsAllowed int           `json:"calls_allowed"`
	ResetIn      time.Duration `json:"reset_in"`
}

// Percentage returns the used fraction of the reported call allowance
func (u UsageSnapshot) Percentage() float64 {
	if u.CallsAllowed <= 0 {
		return 0
	}
	return float64(u.CallsUsed) / float64(u.CallsAllowed)
}

// Client is the remote ads platform API. Implementations must be safe for
// concurrent use; the engine overlaps calls from many jobs.
type Client interface {
	// CreateEntity creates a single entity. parentRef names the immediate
	// container: empty for campaigns, a campaign ID for ad sets, an ad set ID
	// for ads.
	CreateEntity(ctx context.Context, kind EntityKind, parentRef string, fields map[string]interface{}) (RemoteEntity, error)

	// DeleteEntity removes an entity. Returns ErrNotFound when it is already gone.
	DeleteEntity(ctx context.Context, id string) error

	// BatchSubmit executes up to MaxBatchOperations operations in one call.
	// The returned slice has one result per operation, in submission order.
	// An error return means the whole call failed; individual operation
	// failures are reported in their OpResult.
	BatchSubmit(ctx context.Context, ops []Operation) ([]OpResult, error)

	// CountChildren returns the authoritative number of ads under a campaign,
	// counting through ad sets. Returns ErrNotFound when the campaign itself
	// is gone.
	CountChildren(ctx context.Context, parentID string) (int, error)

	// Usage returns the budget metadata from the most recent response
	Usage() UsageSnapshot
}

// MaxBatchOperations is the platform's cap on operations per batch call
const MaxBatchOperations = 50
