package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/db/repos"
	"github.com/promolab/blast/internal/platform"
	"github.com/promolab/blast/internal/ratelimit"
)

type WorkerTestSuite struct {
	suite.Suite
	db     *gorm.DB
	ctx    context.Context
	repo   *repos.QueuedRequestRepository
	budget *ratelimit.BudgetTracker
	worker *Worker

	executed []string
	execErr  error
}

func TestWorker(t *testing.T) {
	suite.Run(t, new(WorkerTestSuite))
}

func (s *WorkerTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_json=1"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")
	require.NoError(s.T(), db.AutoMigrate(&models.QueuedRequest{}))

	s.db = db
	s.ctx = context.Background()
	s.repo = repos.NewQueuedRequestRepository(db)
	s.budget = ratelimit.NewBudgetTracker(ratelimit.DefaultBudgetThreshold)
	s.executed = nil
	s.execErr = nil
	s.worker = NewWorker(s.repo, s.budget, func(ctx context.Context, req *models.QueuedRequest) error {
		s.executed = append(s.executed, req.RequestID)
		return s.execErr
	}, WorkerOptions{})
}

func (s *WorkerTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

func (s *WorkerTestSuite) enqueue(notBefore time.Time) string {
	id, err := s.worker.Enqueue(s.ctx, 1, "act_1234", []byte(`{"job_id":1,"slot_number":2}`), notBefore, 0)
	s.Require().NoError(err)
	return id
}

func (s *WorkerTestSuite) request(id string) *models.QueuedRequest {
	req, err := s.repo.GetByRequestID(s.ctx, id)
	s.Require().NoError(err)
	return req
}

func (s *WorkerTestSuite) TestTickDrainsOnlyDueRequests() {
	due := s.enqueue(time.Now().Add(-time.Second))
	future := s.enqueue(time.Now().Add(time.Hour))

	s.worker.Tick(s.ctx)

	s.Equal([]string{due}, s.executed)
	s.Equal(models.QueueStatusCompleted, s.request(due).Status)
	s.Equal(models.QueueStatusQueued, s.request(future).Status)
}

func (s *WorkerTestSuite) TestBudgetBlockedRequeueSpendsNoAttempt() {
	id := s.enqueue(time.Now().Add(-time.Second))

	s.budget.Observe(1, "act_1234", platform.UsageSnapshot{
		CallsUsed:    95,
		CallsAllowed: 100,
		ResetIn:      time.Hour,
	})

	s.worker.Tick(s.ctx)

	s.Empty(s.executed, "blocked request must not reach the executor")
	req := s.request(id)
	s.Equal(models.QueueStatusQueued, req.Status)
	s.Equal(0, req.Attempts)
	s.Contains(req.LastError, "rate budget exhausted")
	s.True(req.NotBefore.After(time.Now()), "retry time should be pushed into the budget reset")
}

func (s *WorkerTestSuite) TestTransientFailureRequeuesWithBackoff() {
	id := s.enqueue(time.Now().Add(-time.Second))
	s.execErr = &platform.APIError{StatusCode: http.StatusInternalServerError, Message: "upstream hiccup"}

	s.worker.Tick(s.ctx)

	req := s.request(id)
	s.Equal(models.QueueStatusQueued, req.Status)
	s.Equal(1, req.Attempts)
	s.Contains(req.LastError, "upstream hiccup")
	s.True(req.NotBefore.After(time.Now()))
}

func (s *WorkerTestSuite) TestPermanentFailureFailsImmediately() {
	id := s.enqueue(time.Now().Add(-time.Second))
	s.execErr = &platform.APIError{StatusCode: http.StatusBadRequest, Code: 100, Message: "invalid parameter"}

	s.worker.Tick(s.ctx)

	req := s.request(id)
	s.Equal(models.QueueStatusFailed, req.Status)
	s.Contains(req.LastError, "invalid parameter")
	s.Len(s.executed, 1)
}

func (s *WorkerTestSuite) TestAttemptExhaustionFailsRequest() {
	id := s.enqueue(time.Now().Add(-time.Second))
	s.execErr = errors.New("connection reset")

	// Drive the request through its attempt budget; each requeue pushes
	// not_before into the future, so the clock jumps past the backoff.
	for attempt := 0; attempt < models.DefaultMaxAttempts; attempt++ {
		offset := time.Duration(attempt+1) * time.Hour
		s.worker.SetNow(func() time.Time { return time.Now().Add(offset) })
		s.worker.Tick(s.ctx)
	}

	req := s.request(id)
	s.Equal(models.QueueStatusFailed, req.Status)
	s.Equal(models.DefaultMaxAttempts-1, req.Attempts, "final attempt fails instead of requeueing")
	s.Len(s.executed, models.DefaultMaxAttempts)
}

func (s *WorkerTestSuite) TestSuccessCompletesRequest() {
	id := s.enqueue(time.Now().Add(-time.Second))

	s.worker.Tick(s.ctx)

	s.Equal(models.QueueStatusCompleted, s.request(id).Status)

	// A completed request never runs again.
	s.worker.Tick(s.ctx)
	s.Len(s.executed, 1)
}

func (s *WorkerTestSuite) TestTickHonorsDrainLimit() {
	limited := NewWorker(s.repo, s.budget, func(ctx context.Context, req *models.QueuedRequest) error {
		s.executed = append(s.executed, req.RequestID)
		return nil
	}, WorkerOptions{DrainLimit: 3})

	for i := 0; i < 5; i++ {
		s.enqueue(time.Now().Add(-time.Second))
	}

	limited.Tick(s.ctx)
	s.Len(s.executed, 3)

	limited.Tick(s.ctx)
	s.Len(s.executed, 5)
}

func (s *WorkerTestSuite) TestTickIsSingleFlight() {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls int

	blocking := NewWorker(s.repo, s.budget, func(ctx context.Context, req *models.QueuedRequest) error {
		calls++
		close(started)
		<-release
		return nil
	}, WorkerOptions{})

	s.enqueue(time.Now().Add(-time.Second))

	done := make(chan struct{})
	go func() {
		blocking.Tick(s.ctx)
		close(done)
	}()

	<-started
	// The overlapping tick must return without draining anything.
	blocking.Tick(s.ctx)
	s.Equal(1, calls)

	close(release)
	<-done
}

func (s *WorkerTestSuite) TestQuotaFailureWaitsForFreshWindow() {
	id := s.enqueue(time.Now().Add(-time.Second))
	s.execErr = &platform.APIError{StatusCode: http.StatusTooManyRequests, Message: "call volume exceeded"}

	before := time.Now()
	s.worker.Tick(s.ctx)

	req := s.request(id)
	s.Equal(models.QueueStatusQueued, req.Status)
	s.Equal(1, req.Attempts)
	// Quota backoff without a reported reset defaults to a multi-minute wait,
	// well beyond any transient first-attempt delay.
	s.True(req.NotBefore.After(before.Add(4*time.Minute)), fmt.Sprintf("not_before %s too soon", req.NotBefore))
}

func (s *WorkerTestSuite) TestQuotaFailureAlignsWithBudgetReset() {
	id := s.enqueue(time.Now().Add(-time.Second))
	s.execErr = &platform.APIError{StatusCode: http.StatusTooManyRequests, Message: "call volume exceeded"}

	// Usage below the threshold so the request reaches the executor, but with
	// a known window reset well past the default quota delay
	s.budget.Observe(1, "act_1234", platform.UsageSnapshot{
		CallsUsed:    50,
		CallsAllowed: 100,
		ResetIn:      20 * time.Minute,
	})

	before := time.Now()
	s.worker.Tick(s.ctx)

	s.Equal([]string{id}, s.executed)
	req := s.request(id)
	s.Equal(models.QueueStatusQueued, req.Status)
	// The retry lands just past the reported reset, not at the flat default
	s.True(req.NotBefore.After(before.Add(19*time.Minute)), fmt.Sprintf("not_before %s ignores the reported reset", req.NotBefore))
	s.True(req.NotBefore.Before(before.Add(22*time.Minute)), fmt.Sprintf("not_before %s overshoots the reset", req.NotBefore))
}
