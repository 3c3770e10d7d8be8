package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/queue"
	"github.com/promolab/blast/internal/services"
	"github.com/promolab/blast/internal/types"
)

// QueueHandler handles HTTP requests for the deferred request queue
type QueueHandler struct {
	service *services.BulkService
	worker  *queue.Worker
}

// NewQueueHandler creates a new queue handler instance
func NewQueueHandler(s *services.BulkService, w *queue.Worker) *QueueHandler {
	return &QueueHandler{service: s, worker: w}
}

// ListQueue handles the request to list the caller's deferred requests
func (h *QueueHandler) ListQueue(c *fiber.Ctx) error {
	opts := &models.ListOptions{
		Limit:  c.QueryInt("limit", models.DefaultLimit),
		Offset: c.QueryInt("offset", 0),
	}
	if statusStr := c.Query("status"); statusStr != "" {
		status, err := models.ParseQueueStatus(statusStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).
				JSON(errInvalidInput("invalid queue status"))
		}
		opts.QueueStatus = &status
	}

	requests, err := h.service.QueueStatus(c.Context(), ownerID(c), opts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: types.QueueListResponse{Requests: requests},
	})
}

// EnqueueRequest handles the request to defer a remote call until a later time
func (h *QueueHandler) EnqueueRequest(c *fiber.Ctx) error {
	var req types.EnqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}

	requestID, err := h.service.EnqueueDeferred(c.Context(), ownerID(c), req.AccountID, req.Payload, req.NotBefore)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.Status(fiber.StatusCreated).
		JSON(Response{
			Slug: SuccessSlug,
			Data: types.EnqueueResponse{RequestID: requestID},
		})
}

// TickQueue handles the request to drain the queue immediately instead of
// waiting for the next scheduled tick
func (h *QueueHandler) TickQueue(c *fiber.Ctx) error {
	h.worker.Tick(c.Context())
	return c.JSON(Response{
		Slug: SuccessSlug,
	})
}
