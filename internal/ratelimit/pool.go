// Package ratelimit provides admission control against the platform's shared
// call budget: a pool of interchangeable credentials and an advisory
// per-account budget tracker.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/db/repos"
	"github.com/promolab/blast/internal/logger"
)

// Pool defaults
const (
	// DefaultHighWaterMark is the usage fraction above which a credential is
	// not handed out
	DefaultHighWaterMark = 0.9
	// DefaultWindow is the rate window length assumed when the platform does
	// not report a reset time
	DefaultWindow = time.Hour
	// DefaultSweepInterval is how often elapsed windows are reset
	DefaultSweepInterval = time.Minute
)

// PoolOptions configures a credential pool
type PoolOptions struct {
	HighWaterMark float64
	Window        time.Duration
}

// CredentialPool hands out the least-loaded active credential with spare
// capacity. Counter updates go through the repository inside a single mutex
// so concurrent jobs cannot double-spend a credential's remaining budget.
type CredentialPool struct {
	repo          *repos.CredentialRepository
	highWaterMark float64
	window        time.Duration
	now           func() time.Time

	mu sync.Mutex
}

// NewCredentialPool creates a credential pool over the given repository
func NewCredentialPool(repo *repos.CredentialRepository, opts PoolOptions) *CredentialPool {
	if opts.HighWaterMark <= 0 || opts.HighWaterMark > 1 {
		opts.HighWaterMark = DefaultHighWaterMark
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &CredentialPool{
		repo:          repo,
		highWaterMark: opts.HighWaterMark,
		window:        opts.Window,
		now:           time.Now,
	}
}

// Acquire returns the least-loaded active credential whose usage is below the
// high-water mark. A false return is a normal backpressure signal, not an
// error: every credential is saturated and the caller should defer its work.
func (p *CredentialPool) Acquire(ctx context.Context) (*models.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	creds, err := p.repo.ListActive(ctx)
	if err != nil {
		logger.Errorf("credential pool: failed to list credentials: %v", err)
		return nil, false
	}

	for i := range creds {
		cred := &creds[i]
		if cred.Saturation() < p.highWaterMark {
			return cred, true
		}
	}
	return nil, false
}

// Release records callsUsed against the credential. Crossing the window
// allowance stamps the reset timestamp so the sweeper can zero the counter
// once the window elapses.
func (p *CredentialPool) Release(ctx context.Context, cred *models.Credential, callsUsed int) error {
	if cred == nil || callsUsed <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repo.AddUsage(ctx, cred.ID, callsUsed, p.now().Add(p.window))
}

// StartSweeper runs the background sweep that resets usage for credentials
// whose window has elapsed. It returns when the context is cancelled.
func (p *CredentialPool) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("credential pool: sweeper stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep resets every credential whose window has elapsed
func (p *CredentialPool) Sweep(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reset, err := p.repo.ResetExpired(ctx, p.now())
	if err != nil {
		logger.Errorf("credential pool: sweep failed: %v", err)
		return
	}
	if reset > 0 {
		logger.InfoWithFields("credential pool: windows reset", map[string]interface{}{
			"credentials": reset,
		})
	}
}

// SetNow overrides the pool clock. Test hook.
func (p *CredentialPool) SetNow(now func() time.Time) {
	p.now = now
}
