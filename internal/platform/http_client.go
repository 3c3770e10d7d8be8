package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	fiber "github.com/gofiber/fiber/v2"
)

// Default request timeouts. Batch calls carry large payloads and get more time.
const (
	// DefaultTimeout is the timeout for single-entity calls
	DefaultTimeout = 30 * time.Second
	// DefaultBatchTimeout is the timeout for batch calls
	DefaultBatchTimeout = 120 * time.Second
)

// Usage metadata headers reported by the platform on every response
const (
	headerUsageCallCount = "X-Usage-Call-Count"
	headerUsageCallLimit = "X-Usage-Call-Limit"
	headerUsageResetSecs = "X-Usage-Reset-Seconds"
)

// HTTPOptions contains configuration options for the HTTP platform client
type HTTPOptions struct {
	// BaseURL is the base URL of the platform API
	BaseURL string

	// AccountID is the remote ad account all calls are scoped to
	AccountID string

	// AccessToken authenticates every request
	AccessToken string

	// Timeout is the single-entity request timeout
	Timeout time.Duration

	// BatchTimeout is the batch request timeout
	BatchTimeout time.Duration
}

// HTTPClient implements Client against the platform's HTTP API
type HTTPClient struct {
	baseURL      string
	accountID    string
	accessToken  string
	timeout      time.Duration
	batchTimeout time.Duration

	usageMu sync.RWMutex
	usage   UsageSnapshot
}

var _ Client = &HTTPClient{}

// NewHTTPClient creates a platform client with the given options
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("platform base URL is required")
	}
	if opts.AccountID == "" {
		return nil, fmt.Errorf("platform account ID is required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BatchTimeout == 0 {
		opts.BatchTimeout = DefaultBatchTimeout
	}
	return &HTTPClient{
		baseURL:      opts.BaseURL,
		accountID:    opts.AccountID,
		accessToken:  opts.AccessToken,
		timeout:      opts.Timeout,
		batchTimeout: opts.BatchTimeout,
	}, nil
}

// createAgent creates a new Fiber agent for the given method and endpoint
func (c *HTTPClient) createAgent(ctx context.Context, method, endpoint string, body interface{}, timeout time.Duration) (*fiber.Agent, error) {
	fullURL := fmt.Sprintf("%s/%s/%s", c.baseURL, c.accountID, endpoint)

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
		agent.Timeout(timeout)
	}

	agent.Set("Content-Type", "application/json")
	agent.Set("Accept", "application/json")
	agent.Set("Authorization", "Bearer "+c.accessToken)

	if body != nil {
		agent.JSON(body)
	}

	return agent, nil
}

// doRequest sends the HTTP request, records usage metadata, and decodes the
// response into v
func (c *HTTPClient) doRequest(agent *fiber.Agent, v interface{}) error {
	resp := fiber.AcquireResponse()
	defer fiber.ReleaseResponse(resp)
	agent.SetResponse(resp)

	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("error sending request: %w", errs[0])
	}

	c.recordUsage(
		string(resp.Header.Peek(headerUsageCallCount)),
		string(resp.Header.Peek(headerUsageCallLimit)),
		string(resp.Header.Peek(headerUsageResetSecs)),
	)

	if statusCode < 200 || statusCode >= 300 {
		return decodeAPIError(statusCode, body)
	}

	if v != nil && len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("error decoding response: %w", err)
		}
	}

	return nil
}

func decodeAPIError(statusCode int, body []byte) error {
	var wire struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return &APIError{StatusCode: statusCode, Message: string(body)}
	}
	return &APIError{StatusCode: statusCode, Code: wire.Error.Code, Message: wire.Error.Message}
}

func (c *HTTPClient) recordUsage(used, limit, resetSecs string) {
	usedN, err := strconv.Atoi(used)
	if err != nil {
		return
	}
	limitN, err := strconv.Atoi(limit)
	if err != nil {
		return
	}
	resetN, err := strconv.Atoi(resetSecs)
	if err != nil {
		resetN = 0
	}

	c.usageMu.Lock()
	c.usage = UsageSnapshot{
		CallsUsed:    usedN,
		CallsAllowed: limitN,
		ResetIn:      time.Duration(resetN) * time.Second,
	}
	c.usageMu.Unlock()
}

// CreateEntity creates a single entity
func (c *HTTPClient) CreateEntity(ctx context.Context, kind EntityKind, parentRef string, fields map[string]interface{}) (RemoteEntity, error) {
	body := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}

	var endpoint string
	switch kind {
	case KindCampaign:
		endpoint = "campaigns"
	case KindAdSet:
		endpoint = "adsets"
		body["campaign_id"] = parentRef
	case KindAd:
		endpoint = "ads"
		body["adset_id"] = parentRef
	default:
		return RemoteEntity{}, fmt.Errorf("unknown entity kind: %s", kind)
	}

	agent, err := c.createAgent(ctx, http.MethodPost, endpoint, body, c.timeout)
	if err != nil {
		return RemoteEntity{}, err
	}

	var entity RemoteEntity
	if err := c.doRequest(agent, &entity); err != nil {
		return RemoteEntity{}, fmt.Errorf("failed to create %s: %w", kind, err)
	}
	return entity, nil
}

// DeleteEntity removes an entity; ErrNotFound means it was already gone
func (c *HTTPClient) DeleteEntity(ctx context.Context, id string) error {
	agent, err := c.createAgent(ctx, http.MethodDelete, id, nil, c.timeout)
	if err != nil {
		return err
	}

	err = c.doRequest(agent, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete entity %s: %w", id, err)
	}
	return nil
}

// BatchSubmit executes a set of operations in one platform call
func (c *HTTPClient) BatchSubmit(ctx context.Context, ops []Operation) ([]OpResult, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	if len(ops) > MaxBatchOperations {
		return nil, fmt.Errorf("batch of %d exceeds the %d operation cap", len(ops), MaxBatchOperations)
	}

	wireOps := make([]json.RawMessage, 0, len(ops))
	for _, op := range ops {
		raw, err := op.MarshalWire()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize operation %q: %w", op.Name, err)
		}
		wireOps = append(wireOps, raw)
	}

	agent, err := c.createAgent(ctx, http.MethodPost, "batch", map[string]interface{}{"batch": wireOps}, c.batchTimeout)
	if err != nil {
		return nil, err
	}

	var results []OpResult
	if err := c.doRequest(agent, &results); err != nil {
		return nil, fmt.Errorf("batch call failed: %w", err)
	}
	if len(results) != len(ops) {
		return nil, fmt.Errorf("batch returned %d results for %d operations", len(results), len(ops))
	}
	for i := range results {
		if results[i].Name == "" {
			results[i].Name = ops[i].Name
		}
	}
	return results, nil
}

// CountChildren returns the number of ads under a campaign
func (c *HTTPClient) CountChildren(ctx context.Context, parentID string) (int, error) {
	agent, err := c.createAgent(ctx, http.MethodGet, parentID+"/ads?summary=total_count", nil, c.timeout)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Summary struct {
			TotalCount int `json:"total_count"`
		} `json:"summary"`
	}
	err = c.doRequest(agent, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to count children of %s: %w", parentID, err)
	}
	return resp.Summary.TotalCount, nil
}

// Usage returns the budget metadata from the most recent response
func (c *HTTPClient) Usage() UsageSnapshot {
	c.usageMu.RLock()
	defer c.usageMu.RUnlock()
	return c.usage
}
