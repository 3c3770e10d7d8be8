package repos

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/promolab/blast/internal/db/models"
)

// DBRepositoryTestSuite provides a base test suite for repository tests
type DBRepositoryTestSuite struct {
	suite.Suite
	db        *gorm.DB
	ctx       context.Context
	jobRepo   *JobRepository
	slotRepo  *SlotRepository
	credRepo  *CredentialRepository
	queueRepo *QueuedRequestRepository
}

// randomOwnerID creates a random owner ID using crypto/rand
func (s *DBRepositoryTestSuite) randomOwnerID() uint {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	s.Require().NoError(err, "Failed to generate random owner ID")
	return uint(n.Uint64() + 1) // +1 to avoid 0
}

func (s *DBRepositoryTestSuite) SetupTest() {
	// Create new in-memory database with JSON support
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_json=1"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")

	err = db.AutoMigrate(&models.Job{}, &models.Slot{}, &models.Credential{}, &models.QueuedRequest{})
	require.NoError(s.T(), err, "Failed to run database migrations")

	s.db = db
	s.jobRepo = NewJobRepository(s.db)
	s.slotRepo = NewSlotRepository(s.db)
	s.credRepo = NewCredentialRepository(s.db)
	s.queueRepo = NewQueuedRequestRepository(s.db)
	s.ctx = context.Background()
}

func (s *DBRepositoryTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// Helper methods for creating test data

func (s *DBRepositoryTestSuite) createTestJob() *models.Job {
	return s.createTestJobForOwner(s.randomOwnerID())
}

func (s *DBRepositoryTestSuite) createTestJobForOwner(ownerID uint) *models.Job {
	job := &models.Job{
		Name:              "test-job",
		OwnerID:           ownerID,
		AccountID:         "act_1234",
		RequestedParents:  1,
		RequestedChildren: 10,
	}
	err := s.jobRepo.Create(s.ctx, job)
	s.Require().NoError(err, "Failed to create test job")
	return job
}

func (s *DBRepositoryTestSuite) createTestSlots(jobID uint, children int) []models.Slot {
	slots := []models.Slot{{
		JobID:      jobID,
		SlotNumber: 1,
		Kind:       models.SlotKindParent,
		Status:     models.SlotStatusPending,
		Label:      "test-job-campaign",
	}}
	for i := 1; i <= children; i++ {
		slots = append(slots, models.Slot{
			JobID:      jobID,
			SlotNumber: i,
			Kind:       models.SlotKindChild,
			Status:     models.SlotStatusPending,
			Label:      fmt.Sprintf("test-job-%d", i),
		})
	}
	err := s.slotRepo.CreateBatch(s.ctx, slots)
	s.Require().NoError(err, "Failed to create test slots")
	return slots
}

func (s *DBRepositoryTestSuite) createTestCredential(name string) *models.Credential {
	cred := &models.Credential{
		Name:        name,
		AccessToken: "token-" + name,
		Active:      true,
	}
	err := s.credRepo.Create(s.ctx, cred)
	s.Require().NoError(err, "Failed to create test credential")
	return cred
}

func (s *DBRepositoryTestSuite) createTestQueuedRequest(ownerID uint, notBefore time.Time) *models.QueuedRequest {
	req := &models.QueuedRequest{
		RequestID: fmt.Sprintf("req-%d-%d", ownerID, time.Now().UnixNano()),
		OwnerID:   ownerID,
		AccountID: "act_1234",
		Payload:   []byte(`{"job_id":1,"slot_number":1}`),
		NotBefore: notBefore,
	}
	err := s.queueRepo.Create(s.ctx, req)
	s.Require().NoError(err, "Failed to create test queued request")
	return req
}
