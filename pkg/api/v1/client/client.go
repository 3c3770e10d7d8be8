// Package client provides a Go client for the engine's HTTP API
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/promolab/blast/internal/api/v1/handlers"
	"github.com/promolab/blast/internal/api/v1/routes"
	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/services"
	"github.com/promolab/blast/internal/types"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// Client defines the interface for interacting with the engine API
type Client interface {
	// Job methods
	CreateJob(ctx context.Context, req types.CreateJobRequest) (*models.Job, error)
	GetJob(ctx context.Context, id uint) (*types.JobProgressResponse, error)
	ListJobs(ctx context.Context, opts *models.ListOptions) ([]models.Job, error)
	RunJob(ctx context.Context, id uint, req types.RunJobRequest) (*services.RunResult, error)
	RollbackJob(ctx context.Context, id uint, req types.RollbackJobRequest) (*services.RollbackResult, error)

	// Queue methods
	EnqueueDeferred(ctx context.Context, req types.EnqueueRequest) (string, error)
	ListQueue(ctx context.Context, opts *models.ListOptions) ([]models.QueuedRequest, error)
	TickQueue(ctx context.Context) error

	// Credential methods
	CreateCredential(ctx context.Context, req types.CreateCredentialRequest) (*models.Credential, error)
	ListCredentials(ctx context.Context) ([]models.Credential, error)

	// Health check
	HealthCheck(ctx context.Context) (map[string]string, error)
}

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// OwnerID scopes every request to one owner
	OwnerID uint

	// Timeout is the request timeout
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL: routes.DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIClient implements the Client interface
type APIClient struct {
	baseURL string
	ownerID uint
	timeout time.Duration
}

var _ Client = &APIClient{}

// NewClient creates a new API client with the given options
func NewClient(opts *Options) (*APIClient, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &APIClient{
		baseURL: opts.BaseURL,
		ownerID: opts.OwnerID,
		timeout: timeout,
	}, nil
}

// CreateJob opens a new bulk creation job
func (c *APIClient) CreateJob(ctx context.Context, req types.CreateJobRequest) (*models.Job, error) {
	var job models.Job
	err := c.executeRequest(ctx, http.MethodPost, routes.JobsEndpoint, req, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches a job together with its slot ledger
func (c *APIClient) GetJob(ctx context.Context, id uint) (*types.JobProgressResponse, error) {
	var progress types.JobProgressResponse
	endpoint := fmt.Sprintf("%s/%d", routes.JobsEndpoint, id)
	if err := c.executeRequest(ctx, http.MethodGet, endpoint, nil, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

// ListJobs lists the owner's jobs
func (c *APIClient) ListJobs(ctx context.Context, opts *models.ListOptions) ([]models.Job, error) {
	var list types.JobListResponse
	endpoint := routes.JobsEndpoint + listQuery(opts)
	if err := c.executeRequest(ctx, http.MethodGet, endpoint, nil, &list); err != nil {
		return nil, err
	}
	return list.Jobs, nil
}

// RunJob starts a creation run for a job
func (c *APIClient) RunJob(ctx context.Context, id uint, req types.RunJobRequest) (*services.RunResult, error) {
	var resp types.RunJobResponse
	endpoint := fmt.Sprintf("%s/%d/run", routes.JobsEndpoint, id)
	if err := c.executeRequest(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

// RollbackJob compensates a job
func (c *APIClient) RollbackJob(ctx context.Context, id uint, req types.RollbackJobRequest) (*services.RollbackResult, error) {
	var resp types.RollbackJobResponse
	endpoint := fmt.Sprintf("%s/%d/rollback", routes.JobsEndpoint, id)
	if err := c.executeRequest(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Rollback, nil
}

// EnqueueDeferred parks a remote call payload in the deferred queue and
// returns the queue request ID
func (c *APIClient) EnqueueDeferred(ctx context.Context, req types.EnqueueRequest) (string, error) {
	var resp types.EnqueueResponse
	if err := c.executeRequest(ctx, http.MethodPost, routes.QueueEndpoint, req, &resp); err != nil {
		return "", err
	}
	return resp.RequestID, nil
}

// ListQueue lists the owner's deferred requests
func (c *APIClient) ListQueue(ctx context.Context, opts *models.ListOptions) ([]models.QueuedRequest, error) {
	var list types.QueueListResponse
	endpoint := routes.QueueEndpoint + listQuery(opts)
	if err := c.executeRequest(ctx, http.MethodGet, endpoint, nil, &list); err != nil {
		return nil, err
	}
	return list.Requests, nil
}

// TickQueue drains the deferred queue immediately
func (c *APIClient) TickQueue(ctx context.Context) error {
	return c.executeRequest(ctx, http.MethodPost, routes.QueueEndpoint+"/tick", nil, nil)
}

// CreateCredential registers a platform access token with the pool
func (c *APIClient) CreateCredential(ctx context.Context, req types.CreateCredentialRequest) (*models.Credential, error) {
	var cred models.Credential
	if err := c.executeRequest(ctx, http.MethodPost, routes.CredentialsEndpoint, req, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// ListCredentials lists the active credential pool
func (c *APIClient) ListCredentials(ctx context.Context) ([]models.Credential, error) {
	var creds []models.Credential
	if err := c.executeRequest(ctx, http.MethodGet, routes.CredentialsEndpoint, nil, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// HealthCheck checks whether the API is up
func (c *APIClient) HealthCheck(ctx context.Context) (map[string]string, error) {
	agent, err := c.createAgent(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("health check failed: %v", errs[0])
	}
	if statusCode != fiber.StatusOK {
		return nil, fmt.Errorf("health check returned status %d", statusCode)
	}
	var health map[string]string
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return health, nil
}

// createAgent creates a new Fiber Agent for the given method and endpoint
func (c *APIClient) createAgent(ctx context.Context, method, endpoint string, body interface{}) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	case http.MethodDelete:
		agent = fiber.Delete(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	agent.Set("Content-Type", "application/json")
	agent.Set("Accept", "application/json")
	agent.Set(handlers.OwnerHeader, strconv.FormatUint(uint64(c.ownerID), 10))

	if body != nil {
		agent.JSON(body)
	}
	return agent, nil
}

// executeRequest sends the request and decodes the response envelope into v
func (c *APIClient) executeRequest(ctx context.Context, method, endpoint string, body, v interface{}) error {
	agent, err := c.createAgent(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	statusCode, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("request failed: %v", errs[0])
	}

	var envelope struct {
		Slug  handlers.Slug   `json:"slug"`
		Error string          `json:"error"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", statusCode, err)
	}
	if envelope.Slug != handlers.SuccessSlug {
		return fmt.Errorf("API error (status %d): %s", statusCode, envelope.Error)
	}
	if v != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, v); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

func listQuery(opts *models.ListOptions) string {
	if opts == nil {
		return ""
	}
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.JobStatus != nil {
		query.Set("status", opts.JobStatus.String())
	}
	if opts.QueueStatus != nil {
		query.Set("status", opts.QueueStatus.String())
	}
	if len(query) == 0 {
		return ""
	}
	return "?" + query.Encode()
}
