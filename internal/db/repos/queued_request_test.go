package repos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/promolab/blast/internal/db/models"
)

type QueuedRequestRepositoryTestSuite struct {
	DBRepositoryTestSuite
}

func TestQueuedRequestRepository(t *testing.T) {
	suite.Run(t, new(QueuedRequestRepositoryTestSuite))
}

func (s *QueuedRequestRepositoryTestSuite) TestCreate() {
	req := s.createTestQueuedRequest(s.randomOwnerID(), time.Now())
	s.NotZero(req.ID)
	s.Equal(models.QueueStatusQueued, req.Status)
	s.Equal(models.DefaultMaxAttempts, req.MaxAttempts)
}

func (s *QueuedRequestRepositoryTestSuite) TestDueRequestsHonorsNotBefore() {
	ownerID := s.randomOwnerID()
	due := s.createTestQueuedRequest(ownerID, time.Now().Add(-time.Minute))
	s.createTestQueuedRequest(ownerID, time.Now().Add(time.Hour))

	requests, err := s.queueRepo.DueRequests(s.ctx, time.Now(), 10)
	s.NoError(err)
	s.Require().Len(requests, 1)
	s.Equal(due.RequestID, requests[0].RequestID)
}

func (s *QueuedRequestRepositoryTestSuite) TestDueRequestsOrdersByPriorityThenAge() {
	ownerID := s.randomOwnerID()
	old := time.Now().Add(-time.Hour)

	low := s.createTestQueuedRequest(ownerID, old)
	urgentReq := &models.QueuedRequest{
		RequestID: "urgent-1",
		OwnerID:   ownerID,
		AccountID: "act_1234",
		Payload:   []byte(`{}`),
		NotBefore: time.Now().Add(-time.Minute),
		Priority:  -1,
	}
	s.Require().NoError(s.queueRepo.Create(s.ctx, urgentReq))

	requests, err := s.queueRepo.DueRequests(s.ctx, time.Now(), 10)
	s.NoError(err)
	s.Require().Len(requests, 2)
	s.Equal("urgent-1", requests[0].RequestID)
	s.Equal(low.RequestID, requests[1].RequestID)
}

func (s *QueuedRequestRepositoryTestSuite) TestMarkProcessingClaimsOnce() {
	req := s.createTestQueuedRequest(s.randomOwnerID(), time.Now().Add(-time.Minute))

	claimed, err := s.queueRepo.MarkProcessing(s.ctx, req.RequestID)
	s.NoError(err)
	s.True(claimed)

	// A concurrent tick cannot claim the same request
	claimed, err = s.queueRepo.MarkProcessing(s.ctx, req.RequestID)
	s.NoError(err)
	s.False(claimed)
}

func (s *QueuedRequestRepositoryTestSuite) TestRequeueCountsAttemptsOnlyWhenAsked() {
	req := s.createTestQueuedRequest(s.randomOwnerID(), time.Now().Add(-time.Minute))
	_, err := s.queueRepo.MarkProcessing(s.ctx, req.RequestID)
	s.NoError(err)

	// Budget-blocked requeue does not burn an attempt
	s.NoError(s.queueRepo.Requeue(s.ctx, req.RequestID, time.Now().Add(time.Minute), false, "budget exhausted"))
	updated, err := s.queueRepo.GetByRequestID(s.ctx, req.RequestID)
	s.NoError(err)
	s.Zero(updated.Attempts)
	s.Equal(models.QueueStatusQueued, updated.Status)

	// A real failure does
	_, err = s.queueRepo.MarkProcessing(s.ctx, req.RequestID)
	s.NoError(err)
	s.NoError(s.queueRepo.Requeue(s.ctx, req.RequestID, time.Now().Add(time.Minute), true, "transient error"))
	updated, err = s.queueRepo.GetByRequestID(s.ctx, req.RequestID)
	s.NoError(err)
	s.Equal(1, updated.Attempts)
	s.Equal("transient error", updated.LastError)
}

func (s *QueuedRequestRepositoryTestSuite) TestMarkCompletedAndFailed() {
	ownerID := s.randomOwnerID()
	done := s.createTestQueuedRequest(ownerID, time.Now().Add(-time.Minute))
	dead := s.createTestQueuedRequest(ownerID, time.Now().Add(-time.Minute))

	s.NoError(s.queueRepo.MarkCompleted(s.ctx, done.RequestID))
	s.NoError(s.queueRepo.MarkFailed(s.ctx, dead.RequestID, "permanent rejection"))

	requests, err := s.queueRepo.DueRequests(s.ctx, time.Now(), 10)
	s.NoError(err)
	s.Empty(requests)

	updated, err := s.queueRepo.GetByRequestID(s.ctx, dead.RequestID)
	s.NoError(err)
	s.Equal(models.QueueStatusFailed, updated.Status)
	s.Equal("permanent rejection", updated.LastError)
}

func (s *QueuedRequestRepositoryTestSuite) TestListByOwner() {
	ownerID := s.randomOwnerID()
	s.createTestQueuedRequest(ownerID, time.Now())
	s.createTestQueuedRequest(ownerID, time.Now())
	s.createTestQueuedRequest(s.randomOwnerID(), time.Now())

	requests, err := s.queueRepo.ListByOwner(s.ctx, ownerID, nil)
	s.NoError(err)
	s.Len(requests, 2)
}
