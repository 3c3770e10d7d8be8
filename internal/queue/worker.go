package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/db/repos"
	"github.com/promolab/blast/internal/logger"
	"github.com/promolab/blast/internal/platform"
	"github.com/promolab/blast/internal/ratelimit"
)

// Worker defaults
const (
	// DefaultTickInterval is how often the queue is drained
	DefaultTickInterval = time.Minute
	// DefaultDrainLimit is the max number of requests taken per tick
	DefaultDrainLimit = 10
)

// Executor runs the remote call a queued request stands for
type Executor func(ctx context.Context, req *models.QueuedRequest) error

// WorkerOptions configures the queue worker
type WorkerOptions struct {
	TickInterval time.Duration
	DrainLimit   int
}

// Worker drains the deferred request queue on a periodic tick. Ticks are
// single-flight: a tick that fires while the previous one is still draining
// is a no-op, so at most one sweep is ever in flight.
type Worker struct {
	repo    *repos.QueuedRequestRepository
	budget  *ratelimit.BudgetTracker
	execute Executor
	opts    WorkerOptions
	now     func() time.Time

	tickMu  sync.Mutex
	ticking bool
}

// NewWorker creates a queue worker
func NewWorker(repo *repos.QueuedRequestRepository, budget *ratelimit.BudgetTracker, execute Executor, opts WorkerOptions) *Worker {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.DrainLimit <= 0 {
		opts.DrainLimit = DefaultDrainLimit
	}
	return &Worker{
		repo:    repo,
		budget:  budget,
		execute: execute,
		opts:    opts,
		now:     time.Now,
	}
}

// SetExecutor installs the executor after construction. Breaks the cycle
// between the worker and the service whose requests it executes; must be
// called before Start.
func (w *Worker) SetExecutor(execute Executor) {
	w.execute = execute
}

// Enqueue defers a remote call. Returns the queue request ID.
func (w *Worker) Enqueue(ctx context.Context, ownerID uint, accountID string, payload json.RawMessage, notBefore time.Time, priority int) (string, error) {
	req := &models.QueuedRequest{
		RequestID: uuid.NewString(),
		OwnerID:   ownerID,
		AccountID: accountID,
		Payload:   payload,
		NotBefore: notBefore,
		Priority:  priority,
	}
	if err := w.repo.Create(ctx, req); err != nil {
		return "", err
	}

	logger.DebugWithFields("deferred request enqueued", map[string]interface{}{
		"request_id": req.RequestID,
		"owner_id":   ownerID,
		"account_id": accountID,
		"not_before": notBefore,
	})
	return req.RequestID, nil
}

// Start runs the periodic tick loop until the context is cancelled
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("queue worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick drains one batch of due requests. Skipped when a prior tick is still
// running.
func (w *Worker) Tick(ctx context.Context) {
	w.tickMu.Lock()
	if w.ticking {
		w.tickMu.Unlock()
		logger.Debug("queue tick skipped, previous tick still draining")
		return
	}
	w.ticking = true
	w.tickMu.Unlock()

	defer func() {
		w.tickMu.Lock()
		w.ticking = false
		w.tickMu.Unlock()
	}()

	due, err := w.repo.DueRequests(ctx, w.now(), w.opts.DrainLimit)
	if err != nil {
		logger.Errorf("queue tick: failed to load due requests: %v", err)
		return
	}

	for i := range due {
		w.processRequest(ctx, &due[i])
	}
}

func (w *Worker) processRequest(ctx context.Context, req *models.QueuedRequest) {
	claimed, err := w.repo.MarkProcessing(ctx, req.RequestID)
	if err != nil {
		logger.Errorf("queue: failed to claim request %s: %v", req.RequestID, err)
		return
	}
	if !claimed {
		return
	}

	// Re-check the budget before executing. If still blocked, the request is
	// re-deferred to the new reset time without spending an attempt - it never
	// ran, so it is not double-deferred by stacking backoff on backoff.
	if decision := w.budget.CheckAndConsume(req.OwnerID, req.AccountID); !decision.Allowed {
		notBefore := decision.ResetAt
		if notBefore.IsZero() {
			notBefore = w.now().Add(QuotaBackoff(0))
		}
		if err := w.repo.Requeue(ctx, req.RequestID, notBefore, false, "deferred: rate budget exhausted"); err != nil {
			logger.Errorf("queue: failed to re-defer request %s: %v", req.RequestID, err)
		}
		return
	}

	if err := w.execute(ctx, req); err != nil {
		w.handleFailure(ctx, req, err)
		return
	}

	if err := w.repo.MarkCompleted(ctx, req.RequestID); err != nil {
		logger.Errorf("queue: failed to complete request %s: %v", req.RequestID, err)
		return
	}
	logger.InfoWithFields("deferred request completed", map[string]interface{}{
		"request_id": req.RequestID,
		"attempts":   req.Attempts,
	})
}

func (w *Worker) handleFailure(ctx context.Context, req *models.QueuedRequest, execErr error) {
	class := platform.Classify(execErr)

	// Permanent errors are dead on arrival, attempts remaining or not.
	if class == platform.ClassPermanent {
		if err := w.repo.MarkFailed(ctx, req.RequestID, execErr.Error()); err != nil {
			logger.Errorf("queue: failed to fail request %s: %v", req.RequestID, err)
		}
		logger.WarnWithFields("deferred request permanently failed", map[string]interface{}{
			"request_id": req.RequestID,
			"error":      execErr.Error(),
		})
		return
	}

	if req.Attempts+1 >= req.MaxAttempts {
		if err := w.repo.MarkFailed(ctx, req.RequestID, execErr.Error()); err != nil {
			logger.Errorf("queue: failed to fail request %s: %v", req.RequestID, err)
		}
		logger.WarnWithFields("deferred request exhausted its attempts", map[string]interface{}{
			"request_id": req.RequestID,
			"attempts":   req.Attempts + 1,
		})
		return
	}

	var delay time.Duration
	switch class {
	case platform.ClassQuota:
		// Align the retry with the window reset the platform reported
		var resetIn time.Duration
		if resetAt := w.budget.ResetAt(req.OwnerID, req.AccountID); resetAt.After(w.now()) {
			resetIn = resetAt.Sub(w.now())
		}
		delay = QuotaBackoff(resetIn)
	default:
		delay = TransientBackoff(req.Attempts)
	}

	if err := w.repo.Requeue(ctx, req.RequestID, w.now().Add(delay), true, execErr.Error()); err != nil {
		logger.Errorf("queue: failed to requeue request %s: %v", req.RequestID, err)
		return
	}
	logger.DebugWithFields("deferred request requeued", map[string]interface{}{
		"request_id": req.RequestID,
		"attempt":    req.Attempts + 1,
		"class":      class.String(),
		"delay":      delay.String(),
	})
}

// SetNow overrides the worker clock. Test hook.
func (w *Worker) SetNow(now func() time.Time) {
	w.now = now
}
