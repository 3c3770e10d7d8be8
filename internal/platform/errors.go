package platform

import (
	"errors"
	"fmt"
	"net"
)

// ErrorClass buckets remote failures into the retry taxonomy
type ErrorClass int

// Error classes
const (
	// ClassTransient covers timeouts, 5xx and connection resets; retried with
	// short backoff
	ClassTransient ErrorClass = iota
	// ClassQuota covers rate limit rejections; deferred until the window resets
	ClassQuota
	// ClassPermanent covers invalid parameters, policy violations and expired
	// credentials; never retried
	ClassPermanent
)

func (c ErrorClass) String() string {
	switch c {
	case ClassQuota:
		return "quota"
	case ClassPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Platform error codes that signal a rate limit rejection regardless of the
// HTTP status
const (
	codeRateLimitApp  = 17
	codeRateLimitUser = 613
)

// Platform error codes that are never worth retrying
const (
	codeInvalidParameter = 100
	codePermissionDenied = 200
	codeExpiredToken     = 190
	codePolicyViolation  = 368
	codeAccountDisabled  = 2446
)

// APIError is a structured error response from the platform
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// Classify buckets an error into the retry taxonomy. Unknown errors are
// treated as transient so they get a bounded retry rather than an immediate
// rollback.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return classifyAPI(apiErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassTransient
}

func classifyAPI(e *APIError) ErrorClass {
	switch e.Code {
	case codeRateLimitApp, codeRateLimitUser:
		return ClassQuota
	case codeInvalidParameter, codePermissionDenied, codeExpiredToken,
		codePolicyViolation, codeAccountDisabled:
		return ClassPermanent
	}

	switch {
	case e.StatusCode == 429:
		return ClassQuota
	case e.StatusCode >= 500:
		return ClassTransient
	case e.StatusCode >= 400:
		return ClassPermanent
	default:
		return ClassTransient
	}
}
