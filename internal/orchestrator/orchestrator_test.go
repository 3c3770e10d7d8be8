package orchestrator

import (
	"context"
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
	"github.com/promolab/blast/internal/queue"
	"github.com/promolab/blast/internal/ratelimit"
)

type OrchestratorTestSuite struct {
	suite.Suite
	db        *gorm.DB
	ctx       context.Context
	mock      *platform.MockClient
	credRepo  *repos.CredentialRepository
	queueRepo *repos.QueuedRequestRepository
	pool      *ratelimit.CredentialPool
	budget    *ratelimit.BudgetTracker
	orch      *Orchestrator

	job        *models.Job
	campaignID string
}

func TestOrchestrator(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}

func (s *OrchestratorTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_json=1"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")
	require.NoError(s.T(), db.AutoMigrate(&models.Credential{}, &models.QueuedRequest{}))

	s.db = db
	s.ctx = context.Background()
	s.mock = platform.NewMockClient()
	s.credRepo = repos.NewCredentialRepository(db)
	s.queueRepo = repos.NewQueuedRequestRepository(db)
	s.pool = ratelimit.NewCredentialPool(s.credRepo, ratelimit.PoolOptions{})
	s.budget = ratelimit.NewBudgetTracker(ratelimit.DefaultBudgetThreshold)
	worker := queue.NewWorker(s.queueRepo, s.budget, nil, queue.WorkerOptions{})
	s.orch = New(s.mock, s.pool, s.budget, worker)

	s.job = &models.Job{
		Model:     gorm.Model{ID: 1},
		OwnerID:   42,
		AccountID: "act_1234",
	}

	campaign, err := s.mock.CreateEntity(s.ctx, platform.KindCampaign, "", nil)
	s.Require().NoError(err)
	s.campaignID = campaign.ID
}

func (s *OrchestratorTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

func (s *OrchestratorTestSuite) addCredential() {
	cred := &models.Credential{Name: "cred", AccessToken: "token", Active: true}
	s.Require().NoError(s.credRepo.Create(s.ctx, cred))
}

func (s *OrchestratorTestSuite) makePairs(n int) []Pair {
	pairs := make([]Pair, 0, n)
	for i := 1; i <= n; i++ {
		pairs = append(pairs, Pair{SlotNumber: i, Label: fmt.Sprintf("spring-%d", i)})
	}
	return pairs
}

func (s *OrchestratorTestSuite) queuedCount() int {
	reqs, err := s.queueRepo.ListByOwner(s.ctx, s.job.OwnerID, nil)
	s.Require().NoError(err)
	return len(reqs)
}

func (s *OrchestratorTestSuite) TestAtomicPairsAllSucceed() {
	s.addCredential()

	result, err := s.orch.CreatePairs(s.ctx, s.job, s.campaignID, s.makePairs(3), Options{})
	s.Require().NoError(err)

	s.Equal(3, result.Requested)
	s.Equal(3, result.Succeeded)
	s.Equal(0, result.Deferred)
	s.InDelta(100.0, result.SuccessRate, 0.01)
	for _, out := range result.Outcomes {
		s.NotEmpty(out.ParentID)
		s.NotEmpty(out.ChildID)
	}

	// One batch call per pair in atomic mode
	s.Equal(3, s.mock.BatchCalls())
	s.Equal(3, s.mock.EntityCount(platform.KindAdSet))
	s.Equal(3, s.mock.EntityCount(platform.KindAd))
}

func (s *OrchestratorTestSuite) TestFailedChildDeletesItsParent() {
	s.addCredential()
	s.mock.FailOps["spring-2-ad"] = platform.OpResult{
		StatusCode: http.StatusBadRequest,
		ErrorCode:  100,
		Message:    "invalid creative",
	}

	result, err := s.orch.CreatePairs(s.ctx, s.job, s.campaignID, s.makePairs(3), Options{})
	s.Require().NoError(err)

	s.Equal(2, result.Succeeded)
	s.InDelta(66.66, result.SuccessRate, 0.1)

	var failed PairOutcome
	for _, out := range result.Outcomes {
		if out.SlotNumber == 2 {
			failed = out
		}
	}
	s.Contains(failed.Error, "child failed")
	s.Equal(platform.ClassPermanent, failed.Class)

	// The ad set whose ad failed must not survive
	s.Equal(2, s.mock.EntityCount(platform.KindAdSet))
	s.Equal(2, s.mock.EntityCount(platform.KindAd))
}

func (s *OrchestratorTestSuite) TestFailedParentLeavesNothing() {
	s.addCredential()
	s.mock.FailOps["spring-1-adset"] = platform.OpResult{
		StatusCode: http.StatusBadRequest,
		ErrorCode:  100,
		Message:    "invalid targeting",
	}

	result, err := s.orch.CreatePairs(s.ctx, s.job, s.campaignID, s.makePairs(1), Options{})
	s.Require().NoError(err)

	s.Equal(0, result.Succeeded)
	s.Contains(result.Outcomes[0].Error, "parent failed")
	s.Equal(0, s.mock.EntityCount(platform.KindAdSet))
	s.Equal(0, s.mock.EntityCount(platform.KindAd))
}

func (s *OrchestratorTestSuite) TestBulkModePacksPairsIntoOneCall() {
	s.addCredential()

	result, err := s.orch.CreatePairs(s.ctx, s.job, s.campaignID, s.makePairs(5), Options{Bulk: true})
	s.Require().NoError(err)

	s.Equal(5, result.Succeeded)
	s.Equal(1, s.mock.BatchCalls())
	s.Equal(5, s.mock.EntityCount(platform.KindAd))
}

func (s *OrchestratorTestSuite) TestBulkQualityFallbackRetriesFailedPairsAtomically() {
	s.addCredential()
	// Half the batch fails: 0.5 is below the quality threshold, so the failed
	// pairs are re-run one batch call per pair.
	s.mock.FailOps["spring-1-ad"] = platform.OpResult{StatusCode: http.StatusInternalServerError, Message: "upstream error"}
	s.mock.FailOps["spring-3-ad"] = platform.OpResult{StatusCode: http.StatusInternalServerError, Message: "upstream error"}

	result, err := s.orch.CreatePairs(s.ctx, s.job, s.campaignID, s.makePairs(4), Options{Bulk: true})
	s.Require().NoError(err)

	// One bulk call plus one atomic call per retried pair
	s.Equal(3, s.mock.BatchCalls())
	s.Len(result.Outcomes, 4)
	s.Equal(2, result.Succeeded)

	// The scripted failures persist, so the retried pairs fail again and their
	// ad sets are swept both times.
	s.Equal(2, s.mock.EntityCount(platform.KindAdSet))
	s.Equal(2, s.mock.EntityCount(platform.KindAd))
}

func (s *OrchestratorTestSuite) TestBulkAboveThresholdSkipsFallback() {
	s.addCredential()
	s.mock.FailOps["spring-1-ad"] = platform.OpResult{StatusCode: http.StatusInternalServerError, Message: "upstream error"}

	result, err := s.orch.CreatePairs(s.ctx, s.job, s.campaignID, s.makePairs(10), Options{Bulk: true})
	s.Require().NoError(err)

	// 9 of 10 meets the default threshold: no atomic retries
	s.Equal(1, s.mock.BatchCalls())
	s.Equal(9, result.Succeeded)
}

func (s *OrchestratorTestSuite) TestBudgetBlockDefersPairs() {
	s.addCredential()
	s.budget.Observe(s.job.OwnerID, s.job.AccountID, platform.UsageSnapshot{
		CallsUsed:    90,
		CallsAllowed: 100,
		ResetIn:      time.Hour,
	})

	result, err := s.orch.CreatePairs(s.ctx, s.job, s.campaignID, s.makePairs(2), Options{})
	s.Require().NoError(err)

	s.Equal(0, result.Succeeded)
	s.Equal(2, result.Deferred)
	s.Equal(0, s.mock.BatchCalls(), "blocked pairs never reach the platform")
	s.Equal(2, s.queuedCount())
}

func (s *OrchestratorTestSuite) TestPoolExhaustionDefersEverythingPending() {
	// No credentials at all: the first acquire fails and the rest of the run
	// is pushed to the queue without further acquire attempts.
	result, err := s.orch.CreatePairs(s.ctx, s.job, s.campaignID, s.makePairs(4), Options{})
	s.Require().NoError(err)

	s.Equal(0, result.Succeeded)
	s.Equal(4, result.Deferred)
	s.Equal(0, s.mock.BatchCalls())
	s.Equal(4, s.queuedCount())
}

func (s *OrchestratorTestSuite) TestExecutePairDoesNotDefer() {
	pair := Pair{SlotNumber: 1, Label: "spring-1"}

	// Saturated pool surfaces as an error, never as a queue row
	_, err := s.orch.ExecutePair(s.ctx, s.job, s.campaignID, pair)
	s.Require().Error(err)
	s.Equal(platform.ClassTransient, platform.Classify(err))
	s.Equal(0, s.queuedCount())

	s.addCredential()
	outcome, err := s.orch.ExecutePair(s.ctx, s.job, s.campaignID, pair)
	s.Require().NoError(err)
	s.True(outcome.Succeeded())
	s.NotEmpty(outcome.ParentID)
	s.NotEmpty(outcome.ChildID)
}

func (s *OrchestratorTestSuite) TestCreatePairsRequiresCampaign() {
	_, err := s.orch.CreatePairs(s.ctx, s.job, "", s.makePairs(1), Options{})
	s.Require().Error(err)
}

func (s *OrchestratorTestSuite) TestWholeBatchErrorMarksEveryPairFailed() {
	s.addCredential()
	s.mock.FailBatch = &platform.APIError{StatusCode: http.StatusServiceUnavailable, Message: "maintenance"}

	result, err := s.orch.CreatePairs(s.ctx, s.job, s.campaignID, s.makePairs(2), Options{})
	s.Require().NoError(err)

	s.Equal(0, result.Succeeded)
	for _, out := range result.Outcomes {
		s.Contains(out.Error, "maintenance")
		s.Equal(platform.ClassTransient, out.Class)
	}
}
