package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/promolab/blast/internal/platform"
)

func TestBudgetAllowsWithoutObservation(t *testing.T) {
	tracker := NewBudgetTracker(0)

	decision := tracker.CheckAndConsume(1, "act_1")
	assert.True(t, decision.Allowed)
}

func TestBudgetBlocksAtThreshold(t *testing.T) {
	tracker := NewBudgetTracker(0.8)

	tracker.Observe(1, "act_1", platform.UsageSnapshot{
		CallsUsed:    80,
		CallsAllowed: 100,
		ResetIn:      time.Hour,
	})

	decision := tracker.CheckAndConsume(1, "act_1")
	assert.False(t, decision.Allowed)
	assert.False(t, decision.ResetAt.IsZero())

	// Another account under the same owner is unaffected
	assert.True(t, tracker.CheckAndConsume(1, "act_2").Allowed)
}

func TestBudgetCountsAdmittedCallsLocally(t *testing.T) {
	tracker := NewBudgetTracker(0.8)

	tracker.Observe(1, "act_1", platform.UsageSnapshot{
		CallsUsed:    78,
		CallsAllowed: 100,
		ResetIn:      time.Hour,
	})

	// Two calls fit below the threshold; the third hits it even though the
	// platform never reported again
	assert.True(t, tracker.CheckAndConsume(1, "act_1").Allowed)
	assert.True(t, tracker.CheckAndConsume(1, "act_1").Allowed)
	assert.False(t, tracker.CheckAndConsume(1, "act_1").Allowed)
}

func TestBudgetDropsStaleStateAfterReset(t *testing.T) {
	tracker := NewBudgetTracker(0.8)
	base := time.Now()
	tracker.SetNow(func() time.Time { return base })

	tracker.Observe(1, "act_1", platform.UsageSnapshot{
		CallsUsed:    95,
		CallsAllowed: 100,
		ResetIn:      30 * time.Minute,
	})
	assert.False(t, tracker.CheckAndConsume(1, "act_1").Allowed)

	// Window elapsed: the stale snapshot no longer blocks
	tracker.SetNow(func() time.Time { return base.Add(31 * time.Minute) })
	assert.True(t, tracker.CheckAndConsume(1, "act_1").Allowed)
}

func TestBudgetIgnoresSnapshotsWithoutAllowance(t *testing.T) {
	tracker := NewBudgetTracker(0.8)

	tracker.Observe(1, "act_1", platform.UsageSnapshot{CallsUsed: 99})
	assert.True(t, tracker.CheckAndConsume(1, "act_1").Allowed)
}
