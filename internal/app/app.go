// Package app assembles the engine: database, platform client, rate limiting,
// queue worker, services and the HTTP surface
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	"github.com/promolab/blast/internal/api/v1/handlers"
	v1 "github.com/promolab/blast/internal/api/v1/routes"
	"github.com/promolab/blast/internal/constants"
	"github.com/promolab/blast/internal/db/repos"
	"github.com/promolab/blast/internal/orchestrator"
	"github.com/promolab/blast/internal/platform"
	"github.com/promolab/blast/internal/queue"
	"github.com/promolab/blast/internal/ratelimit"
	"github.com/promolab/blast/internal/services"
)

// SweepInterval is how often expired credential windows are reset
const SweepInterval = time.Minute

// App is the assembled engine
type App struct {
	Fiber  *fiber.App
	Bulk   *services.BulkService
	Worker *queue.Worker
	Pool   *ratelimit.CredentialPool
}

// New builds the engine from its parts. A nil client gets the HTTP client
// configured from the environment.
func New(database *gorm.DB, client platform.Client) (*App, error) {
	if client == nil {
		var err error
		client, err = platform.NewHTTPClient(platform.HTTPOptions{
			BaseURL:     os.Getenv(constants.EnvPlatformBaseURL),
			AccountID:   os.Getenv(constants.EnvPlatformAccountID),
			AccessToken: os.Getenv(constants.EnvPlatformToken),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create platform client: %w", err)
		}
	}

	jobRepo := repos.NewJobRepository(database)
	slotRepo := repos.NewSlotRepository(database)
	credRepo := repos.NewCredentialRepository(database)
	queueRepo := repos.NewQueuedRequestRepository(database)

	pool := ratelimit.NewCredentialPool(credRepo, ratelimit.PoolOptions{})
	budget := ratelimit.NewBudgetTracker(ratelimit.DefaultBudgetThreshold)

	rollbackSvc := services.NewRollbackService(jobRepo, slotRepo, client)
	jobSvc := services.NewJobService(jobRepo, slotRepo, client, rollbackSvc)

	// The worker and the bulk service reference each other: the orchestrator
	// defers pairs into the queue, the queue executes them through the service
	worker := queue.NewWorker(queueRepo, budget, nil, queue.WorkerOptions{})
	orch := orchestrator.New(client, pool, budget, worker)
	bulk := services.NewBulkService(jobSvc, rollbackSvc, orch, queueRepo, worker, client, pool, budget)
	worker.SetExecutor(bulk.ExecuteDeferred)

	jobHandler := handlers.NewJobHandler(bulk)
	queueHandler := handlers.NewQueueHandler(bulk, worker)
	credHandler := handlers.NewCredentialHandler(credRepo)

	fiberApp := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	fiberApp.Use(fiberlogger.New())
	fiberApp.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	v1.Register(fiberApp, v1.Handlers{
		Jobs:        jobHandler,
		Queue:       queueHandler,
		Credentials: credHandler,
	})

	return &App{
		Fiber:  fiberApp,
		Bulk:   bulk,
		Worker: worker,
		Pool:   pool,
	}, nil
}

// Start launches the background loops and serves HTTP on addr
func (a *App) Start(ctx context.Context, addr string) error {
	go a.Worker.Start(ctx)
	go a.Pool.StartSweeper(ctx, SweepInterval)
	return a.Fiber.Listen(addr)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
