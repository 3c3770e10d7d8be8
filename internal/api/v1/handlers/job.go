// Package handlers implements the HTTP endpoints of the v1 API
package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/services"
	"github.com/promolab/blast/internal/types"
)

// OwnerHeader carries the calling owner's ID.
// TODO: derive the owner from an authenticated session instead of a header.
const OwnerHeader = "X-Owner-ID"

// JobHandler handles HTTP requests for job operations
type JobHandler struct {
	service *services.BulkService
}

// NewJobHandler creates a new job handler instance
func NewJobHandler(s *services.BulkService) *JobHandler {
	return &JobHandler{service: s}
}

// CreateJob handles the request to open a new bulk creation job
func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	var req types.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}

	job := &models.Job{
		Name:              req.Name,
		OwnerID:           ownerID(c),
		AccountID:         req.AccountID,
		IdempotencyKey:    req.IdempotencyKey,
		RequestedChildren: req.ChildCount,
	}
	job, err := h.service.StartJob(c.Context(), job)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.Status(fiber.StatusCreated).
		JSON(Response{
			Slug: SuccessSlug,
			Data: job,
		})
}

// GetJob handles the request to fetch a job with its slot ledger
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	jobID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(fmt.Sprintf("invalid job id: %v", err)))
	}

	job, slots, err := h.service.GetProgress(c.Context(), ownerID(c), uint(jobID))
	if err != nil {
		if isNotFound(err) {
			return c.Status(fiber.StatusNotFound).
				JSON(errGeneral(err.Error()))
		}
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: types.JobProgressResponse{Job: job, Slots: slots},
	})
}

// ListJobs handles the request to list the caller's jobs
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	opts := &models.ListOptions{
		Limit:  c.QueryInt("limit", models.DefaultLimit),
		Offset: c.QueryInt("offset", 0),
	}
	if statusStr := c.Query("status"); statusStr != "" {
		status, err := models.ParseJobStatus(statusStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).
				JSON(errInvalidInput("invalid job status"))
		}
		opts.JobStatus = &status
	}

	jobs, err := h.service.ListJobs(c.Context(), ownerID(c), opts)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: types.JobListResponse{Jobs: jobs},
	})
}

// RunJob handles the request to start a creation run
func (h *JobHandler) RunJob(c *fiber.Ctx) error {
	jobID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(fmt.Sprintf("invalid job id: %v", err)))
	}

	var req types.RunJobRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).
				JSON(errInvalidInput(err.Error()))
		}
	}

	run, err := h.service.RunBulkCreate(c.Context(), ownerID(c), uint(jobID), services.RunOptions{Bulk: req.Bulk})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrJobRunning):
			return c.Status(fiber.StatusConflict).
				JSON(errGeneral(err.Error()))
		case isNotFound(err):
			return c.Status(fiber.StatusNotFound).
				JSON(errGeneral(err.Error()))
		default:
			return c.Status(fiber.StatusInternalServerError).
				JSON(errServer(err.Error()))
		}
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: types.RunJobResponse{Run: run},
	})
}

// RollbackJob handles the request to compensate a job
func (h *JobHandler) RollbackJob(c *fiber.Ctx) error {
	jobID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(fmt.Sprintf("invalid job id: %v", err)))
	}

	var req types.RollbackJobRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).
				JSON(errInvalidInput(err.Error()))
		}
	}

	result, err := h.service.Rollback(c.Context(), ownerID(c), uint(jobID), req.Reason)
	if err != nil {
		if isNotFound(err) {
			return c.Status(fiber.StatusNotFound).
				JSON(errGeneral(err.Error()))
		}
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: types.RollbackJobResponse{Rollback: result},
	})
}

func ownerID(c *fiber.Ctx) uint {
	raw := c.Get(OwnerHeader)
	if raw == "" {
		return models.AdminID
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return models.AdminID
	}
	return uint(id)
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}
