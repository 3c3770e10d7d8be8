package repos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/promolab/blast/internal/db/models"
)

type JobRepositoryTestSuite struct {
	DBRepositoryTestSuite
}

func TestJobRepository(t *testing.T) {
	suite.Run(t, new(JobRepositoryTestSuite))
}

func (s *JobRepositoryTestSuite) TestCreate() {
	job := s.createTestJob()
	s.NotZero(job.ID)
	s.Equal(models.JobStatusPending, job.Status)
	s.Equal(models.DefaultRetryBudget, job.RetryBudget)
}

func (s *JobRepositoryTestSuite) TestGetByID() {
	original := s.createTestJob()

	// Test getting with OwnerID
	found, err := s.jobRepo.GetByID(s.ctx, original.OwnerID, original.ID)
	s.NoError(err)
	s.Equal(original.ID, found.ID)
	s.Equal(original.Name, found.Name)

	// Test getting without OwnerID (admin mode)
	found, err = s.jobRepo.GetByID(s.ctx, models.AdminID, original.ID)
	s.NoError(err)
	s.Equal(original.ID, found.ID)

	// Test with wrong OwnerID
	_, err = s.jobRepo.GetByID(s.ctx, original.OwnerID+1, original.ID)
	s.Error(err)

	// Test with non-existent ID
	_, err = s.jobRepo.GetByID(s.ctx, original.OwnerID, 999)
	s.Error(err)
}

func (s *JobRepositoryTestSuite) TestGetByIdempotencyKey() {
	job := s.createTestJob()
	job.IdempotencyKey = "key-123"
	s.NoError(s.jobRepo.Update(s.ctx, job))

	found, err := s.jobRepo.GetByIdempotencyKey(s.ctx, "key-123")
	s.NoError(err)
	s.Equal(job.ID, found.ID)

	_, err = s.jobRepo.GetByIdempotencyKey(s.ctx, "no-such-key")
	s.Error(err)
}

func (s *JobRepositoryTestSuite) TestUpdateRefusesTerminalJobs() {
	job := s.createTestJob()

	s.NoError(s.jobRepo.UpdateStatus(s.ctx, job.ID, models.JobStatusCompleted, ""))

	// A stale in-memory copy cannot resurrect a completed job
	job.Status = models.JobStatusInProgress
	s.Error(s.jobRepo.Update(s.ctx, job))

	s.Error(s.jobRepo.UpdateStatus(s.ctx, job.ID, models.JobStatusInProgress, ""))
}

func (s *JobRepositoryTestSuite) TestForceStatus() {
	job := s.createTestJob()
	s.NoError(s.jobRepo.UpdateStatus(s.ctx, job.ID, models.JobStatusFailed, "boom"))

	// ForceStatus moves a job out of a terminal state
	s.NoError(s.jobRepo.ForceStatus(s.ctx, job.ID, models.JobStatusRolledBack, "compensated"))

	updated, err := s.jobRepo.GetByID(s.ctx, models.AdminID, job.ID)
	s.NoError(err)
	s.Equal(models.JobStatusRolledBack, updated.Status)
	s.Equal("compensated", updated.Error)
}

func (s *JobRepositoryTestSuite) TestUpdateCounters() {
	job := s.createTestJob()

	s.NoError(s.jobRepo.UpdateCounters(s.ctx, job.ID, 1, 8))

	updated, err := s.jobRepo.GetByID(s.ctx, job.OwnerID, job.ID)
	s.NoError(err)
	s.Equal(1, updated.ParentsCreated)
	s.Equal(8, updated.ChildrenCreated)
}

func (s *JobRepositoryTestSuite) TestSetRemoteParentID() {
	job := s.createTestJob()

	s.NoError(s.jobRepo.SetRemoteParentID(s.ctx, job.ID, "campaign-1"))

	updated, err := s.jobRepo.GetByID(s.ctx, job.OwnerID, job.ID)
	s.NoError(err)
	s.Equal("campaign-1", updated.RemoteParentID)
}

func (s *JobRepositoryTestSuite) TestList() {
	ownerID := s.randomOwnerID()
	first := s.createTestJobForOwner(ownerID)
	second := s.createTestJobForOwner(ownerID)
	s.createTestJob() // different owner

	s.NoError(s.jobRepo.UpdateStatus(s.ctx, second.ID, models.JobStatusCompleted, ""))

	jobs, err := s.jobRepo.List(s.ctx, models.JobStatusUnknown, ownerID, nil)
	s.NoError(err)
	s.Len(jobs, 2)

	jobs, err = s.jobRepo.List(s.ctx, models.JobStatusCompleted, ownerID, nil)
	s.NoError(err)
	s.Len(jobs, 1)
	s.Equal(second.ID, jobs[0].ID)

	jobs, err = s.jobRepo.List(s.ctx, models.JobStatusPending, ownerID, &models.ListOptions{Limit: 1})
	s.NoError(err)
	s.Len(jobs, 1)
	s.Equal(first.ID, jobs[0].ID)
}

func (s *JobRepositoryTestSuite) TestCount() {
	ownerID := s.randomOwnerID()
	s.createTestJobForOwner(ownerID)
	s.createTestJobForOwner(ownerID)

	count, err := s.jobRepo.Count(s.ctx, models.JobStatusPending, ownerID)
	s.NoError(err)
	s.Equal(int64(2), count)

	count, err = s.jobRepo.Count(s.ctx, models.JobStatusCompleted, ownerID)
	s.NoError(err)
	s.Zero(count)
}

func (s *JobRepositoryTestSuite) TestAppendError() {
	job := s.createTestJob()

	now := time.Now().UTC()
	s.NoError(job.AppendError(1, "first failure", now))
	s.NoError(job.AppendError(2, "second failure", now.Add(time.Minute)))
	s.NoError(s.jobRepo.Update(s.ctx, job))

	updated, err := s.jobRepo.GetByID(s.ctx, job.OwnerID, job.ID)
	s.NoError(err)
	s.Contains(string(updated.ErrorHistory), "first failure")
	s.Contains(string(updated.ErrorHistory), "second failure")
}
