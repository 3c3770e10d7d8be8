// Package types defines the request and response shapes of the HTTP API
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// CreateJobRequest opens a new bulk creation job
type CreateJobRequest struct {
	// Name seeds the deterministic labels of every entity the job creates
	Name string `json:"name"`
	// AccountID is the target remote ad account
	AccountID string `json:"account_id"`
	// ChildCount is how many ad pairs the job should create
	ChildCount int `json:"child_count"`
	// IdempotencyKey dedupes job creation across client retries
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Validate checks the request for required fields
func (r *CreateJobRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if r.ChildCount <= 0 {
		return fmt.Errorf("child_count must be positive")
	}
	return nil
}

// RunJobRequest starts a creation run for an open job
type RunJobRequest struct {
	// Bulk opts in to many-pairs-per-call batching
	Bulk bool `json:"bulk"`
}

// RollbackJobRequest asks for compensation of everything a job created
type RollbackJobRequest struct {
	Reason string `json:"reason,omitempty"`
}

// EnqueueRequest parks a remote call payload in the deferred queue
type EnqueueRequest struct {
	// AccountID is the remote ad account the deferred call targets
	AccountID string `json:"account_id"`
	// Payload is the opaque call descriptor the queue executor replays
	Payload json.RawMessage `json:"payload"`
	// NotBefore is the earliest time the queue may take the request; zero
	// means the next tick
	NotBefore time.Time `json:"not_before,omitempty"`
}

// Validate checks the request for required fields
func (r *EnqueueRequest) Validate() error {
	if r.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if !json.Valid(r.Payload) {
		return fmt.Errorf("payload must be valid JSON")
	}
	return nil
}

// CreateCredentialRequest registers a platform access token with the pool
type CreateCredentialRequest struct {
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	UsageLimit  int    `json:"usage_limit,omitempty"`
}

// Validate checks the request for required fields
func (r *CreateCredentialRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.AccessToken == "" {
		return fmt.Errorf("access_token is required")
	}
	return nil
}
