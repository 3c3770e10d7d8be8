package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/promolab/blast/internal/db"
	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/db/repos"
	"github.com/promolab/blast/internal/types"
)

// CredentialHandler handles HTTP requests for the credential pool
type CredentialHandler struct {
	repo *repos.CredentialRepository
}

// NewCredentialHandler creates a new credential handler instance
func NewCredentialHandler(r *repos.CredentialRepository) *CredentialHandler {
	return &CredentialHandler{repo: r}
}

// CreateCredential handles the request to register a platform access token
func (h *CredentialHandler) CreateCredential(c *fiber.Ctx) error {
	var req types.CreateCredentialRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(errInvalidInput(err.Error()))
	}

	cred := &models.Credential{
		Name:        req.Name,
		AccessToken: req.AccessToken,
		UsageLimit:  req.UsageLimit,
		Active:      true,
	}
	if err := h.repo.Create(c.Context(), cred); err != nil {
		if db.IsDuplicateKeyError(err) {
			return c.Status(fiber.StatusConflict).
				JSON(errGeneral(fmt.Sprintf("credential %q already exists", req.Name)))
		}
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.Status(fiber.StatusCreated).
		JSON(Response{
			Slug: SuccessSlug,
			Data: cred,
		})
}

// ListCredentials handles the request to list the active credential pool
func (h *CredentialHandler) ListCredentials(c *fiber.Ctx) error {
	creds, err := h.repo.ListActive(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(errServer(err.Error()))
	}

	return c.JSON(Response{
		Slug: SuccessSlug,
		Data: creds,
	})
}
