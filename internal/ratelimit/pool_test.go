package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/db/repos"
)

type CredentialPoolTestSuite struct {
	suite.Suite
	db   *gorm.DB
	ctx  context.Context
	repo *repos.CredentialRepository
	pool *CredentialPool
}

func TestCredentialPool(t *testing.T) {
	suite.Run(t, new(CredentialPoolTestSuite))
}

func (s *CredentialPoolTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_json=1"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")
	require.NoError(s.T(), db.AutoMigrate(&models.Credential{}))

	s.db = db
	s.ctx = context.Background()
	s.repo = repos.NewCredentialRepository(db)
	s.pool = NewCredentialPool(s.repo, PoolOptions{})
}

func (s *CredentialPoolTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

func (s *CredentialPoolTestSuite) addCredential(name string, used int) *models.Credential {
	cred := &models.Credential{
		Name:        name,
		AccessToken: "token-" + name,
		UsageCount:  used,
		Active:      true,
	}
	s.Require().NoError(s.repo.Create(s.ctx, cred))
	return cred
}

func (s *CredentialPoolTestSuite) TestAcquirePicksLeastLoaded() {
	s.addCredential("busy", 100)
	idle := s.addCredential("idle", 5)

	cred, ok := s.pool.Acquire(s.ctx)
	s.Require().True(ok)
	s.Equal(idle.ID, cred.ID)
}

func (s *CredentialPoolTestSuite) TestAcquireSkipsSaturated() {
	// 0.9 of the default 200-call allowance is 180
	s.addCredential("hot", 185)
	warm := s.addCredential("warm", 170)

	cred, ok := s.pool.Acquire(s.ctx)
	s.Require().True(ok)
	s.Equal(warm.ID, cred.ID)
}

func (s *CredentialPoolTestSuite) TestAcquireBackpressureWhenAllSaturated() {
	s.addCredential("hot-1", 190)
	s.addCredential("hot-2", 199)

	_, ok := s.pool.Acquire(s.ctx)
	s.False(ok)
}

func (s *CredentialPoolTestSuite) TestAcquireBackpressureWhenEmpty() {
	_, ok := s.pool.Acquire(s.ctx)
	s.False(ok)
}

func (s *CredentialPoolTestSuite) TestReleaseRecordsUsage() {
	cred := s.addCredential("primary", 0)

	s.NoError(s.pool.Release(s.ctx, cred, 3))

	updated, err := s.repo.GetByID(s.ctx, cred.ID)
	s.NoError(err)
	s.Equal(3, updated.UsageCount)
}

func (s *CredentialPoolTestSuite) TestSweepResetsElapsedWindows() {
	cred := s.addCredential("primary", models.DefaultUsageLimit-1)

	// Saturate the credential; its reset is stamped one window out
	s.NoError(s.pool.Release(s.ctx, cred, 5))
	_, ok := s.pool.Acquire(s.ctx)
	s.False(ok)

	// Jump past the window and sweep
	s.pool.SetNow(func() time.Time { return time.Now().Add(2 * time.Hour) })
	s.pool.Sweep(s.ctx)

	recovered, ok := s.pool.Acquire(s.ctx)
	s.Require().True(ok)
	s.Equal(cred.ID, recovered.ID)
	s.Zero(recovered.UsageCount)
}
