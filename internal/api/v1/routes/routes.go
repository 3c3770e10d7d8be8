// Package routes wires the v1 endpoints to their handlers
package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/promolab/blast/internal/api/v1/handlers"
)

// DefaultBaseURL is the base URL clients fall back to
const DefaultBaseURL = "http://localhost:8080"

// Endpoint paths, shared with the API client
const (
	JobsEndpoint        = "/api/v1/jobs"
	QueueEndpoint       = "/api/v1/queue"
	CredentialsEndpoint = "/api/v1/credentials"
)

// Handlers bundles the handler instances the router needs
type Handlers struct {
	Jobs        *handlers.JobHandler
	Queue       *handlers.QueueHandler
	Credentials *handlers.CredentialHandler
}

// SetupRoutes configures all the v1 routes
func SetupRoutes(router fiber.Router, h Handlers) {
	jobs := router.Group("/jobs")
	jobs.Post("/", h.Jobs.CreateJob)
	jobs.Get("/", h.Jobs.ListJobs)
	jobs.Get("/:id", h.Jobs.GetJob)
	jobs.Post("/:id/run", h.Jobs.RunJob)
	jobs.Post("/:id/rollback", h.Jobs.RollbackJob)

	queue := router.Group("/queue")
	queue.Post("/", h.Queue.EnqueueRequest)
	queue.Get("/", h.Queue.ListQueue)
	queue.Post("/tick", h.Queue.TickQueue)

	creds := router.Group("/credentials")
	creds.Post("/", h.Credentials.CreateCredential)
	creds.Get("/", h.Credentials.ListCredentials)
}

// Register registers the v1 routes
func Register(app *fiber.App, h Handlers) {
	v1Group := app.Group("/api/v1")
	SetupRoutes(v1Group, h)
}
