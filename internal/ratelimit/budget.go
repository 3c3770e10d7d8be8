package ratelimit

import (
	"sync"
	"time"

	"github.com/promolab/blast/internal/logger"
	"github.com/promolab/blast/internal/platform"
)

// DefaultBudgetThreshold is the used fraction of the platform call allowance
// above which new calls are deferred until the window resets
const DefaultBudgetThreshold = 0.8

// Decision is the outcome of an admission check
type Decision struct {
	// Allowed reports whether the call may proceed immediately
	Allowed bool
	// ResetAt is the time the budget window resets; zero when Allowed
	ResetAt time.Time
}

type budgetKey struct {
	ownerID   uint
	accountID string
}

type budgetState struct {
	snapshot   platform.UsageSnapshot
	observedAt time.Time
}

// BudgetTracker tracks remote-reported call usage per (owner, account) and
// decides whether a new call may proceed. This is advisory admission control:
// the remote side enforces the real quota, the tracker just keeps the engine
// comfortably under it. False positives and false negatives are both
// tolerated.
type BudgetTracker struct {
	threshold float64
	now       func() time.Time

	mu     sync.Mutex
	states map[budgetKey]budgetState
}

// NewBudgetTracker creates a budget tracker with the given deferral threshold
func NewBudgetTracker(threshold float64) *BudgetTracker {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultBudgetThreshold
	}
	return &BudgetTracker{
		threshold: threshold,
		now:       time.Now,
		states:    make(map[budgetKey]budgetState),
	}
}

// Observe feeds the usage metadata the platform reported on a response
func (t *BudgetTracker) Observe(ownerID uint, accountID string, usage platform.UsageSnapshot) {
	if usage.CallsAllowed <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[budgetKey{ownerID, accountID}] = budgetState{
		snapshot:   usage,
		observedAt: t.now(),
	}

	if usage.Percentage() >= t.threshold {
		logger.WarnWithFields("rate budget above threshold", map[string]interface{}{
			"owner_id":   ownerID,
			"account_id": accountID,
			"used":       usage.CallsUsed,
			"allowed":    usage.CallsAllowed,
		})
	}
}

// CheckAndConsume decides whether a call for the given owner and account may
// proceed now. When the tracked usage is at or above the threshold the call
// must be deferred until ResetAt.
func (t *BudgetTracker) CheckAndConsume(ownerID uint, accountID string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[budgetKey{ownerID, accountID}]
	if !ok {
		return Decision{Allowed: true}
	}

	resetAt := state.observedAt.Add(state.snapshot.ResetIn)
	if !t.now().Before(resetAt) {
		// Window elapsed since the last observation; stale state is dropped.
		delete(t.states, budgetKey{ownerID, accountID})
		return Decision{Allowed: true}
	}

	if state.snapshot.Percentage() >= t.threshold {
		return Decision{Allowed: false, ResetAt: resetAt}
	}

	// Count the admitted call locally so a burst between responses cannot
	// sail past the threshold unobserved.
	state.snapshot.CallsUsed++
	t.states[budgetKey{ownerID, accountID}] = state

	return Decision{Allowed: true}
}

// ResetAt returns the tracked window reset time for the given owner and
// account, zero when no usage has been observed or the window elapsed
func (t *BudgetTracker) ResetAt(ownerID uint, accountID string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[budgetKey{ownerID, accountID}]
	if !ok {
		return time.Time{}
	}
	resetAt := state.observedAt.Add(state.snapshot.ResetIn)
	if !t.now().Before(resetAt) {
		return time.Time{}
	}
	return resetAt
}

// SetNow overrides the tracker clock. Test hook.
func (t *BudgetTracker) SetNow(now func() time.Time) {
	t.now = now
}
