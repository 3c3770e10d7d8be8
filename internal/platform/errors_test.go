package platform

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{
			name: "http 429 is quota",
			err:  &APIError{StatusCode: http.StatusTooManyRequests, Message: "slow down"},
			want: ClassQuota,
		},
		{
			name: "app rate limit code is quota regardless of status",
			err:  &APIError{StatusCode: http.StatusBadRequest, Code: 17, Message: "call volume"},
			want: ClassQuota,
		},
		{
			name: "user rate limit code is quota",
			err:  &APIError{StatusCode: http.StatusForbidden, Code: 613, Message: "too many calls"},
			want: ClassQuota,
		},
		{
			name: "invalid parameter is permanent",
			err:  &APIError{StatusCode: http.StatusBadRequest, Code: 100, Message: "bad field"},
			want: ClassPermanent,
		},
		{
			name: "expired token is permanent",
			err:  &APIError{StatusCode: http.StatusUnauthorized, Code: 190, Message: "expired"},
			want: ClassPermanent,
		},
		{
			name: "policy violation is permanent",
			err:  &APIError{StatusCode: http.StatusBadRequest, Code: 368, Message: "policy"},
			want: ClassPermanent,
		},
		{
			name: "account disabled is permanent",
			err:  &APIError{StatusCode: http.StatusForbidden, Code: 2446, Message: "disabled"},
			want: ClassPermanent,
		},
		{
			name: "uncoded 4xx is permanent",
			err:  &APIError{StatusCode: http.StatusNotFound, Message: "missing"},
			want: ClassPermanent,
		},
		{
			name: "5xx is transient",
			err:  &APIError{StatusCode: http.StatusInternalServerError, Message: "oops"},
			want: ClassTransient,
		},
		{
			name: "network error is transient",
			err:  &net.OpError{Op: "dial", Err: errors.New("connection refused")},
			want: ClassTransient,
		},
		{
			name: "wrapped api error keeps its class",
			err:  fmt.Errorf("batch failed: %w", &APIError{StatusCode: http.StatusTooManyRequests}),
			want: ClassQuota,
		},
		{
			name: "unknown error defaults to transient",
			err:  errors.New("something odd"),
			want: ClassTransient,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
