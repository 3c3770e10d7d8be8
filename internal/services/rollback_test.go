package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/platform"
)

func TestShouldRollback(t *testing.T) {
	svc := &RollbackService{}

	tests := []struct {
		name  string
		job   *models.Job
		class platform.ErrorClass
		want  bool
	}{
		{
			name:  "permanent rejection rolls back immediately",
			job:   &models.Job{Status: models.JobStatusInProgress, RetryCount: 0, RetryBudget: 3},
			class: platform.ClassPermanent,
			want:  true,
		},
		{
			name:  "job already marked failed rolls back",
			job:   &models.Job{Status: models.JobStatusFailed, RetryCount: 1, RetryBudget: 3},
			class: platform.ClassTransient,
			want:  true,
		},
		{
			name:  "retry budget spent rolls back",
			job:   &models.Job{Status: models.JobStatusInProgress, RetryCount: 3, RetryBudget: 3},
			class: platform.ClassTransient,
			want:  true,
		},
		{
			name:  "transient failure with retries left stays retryable",
			job:   &models.Job{Status: models.JobStatusInProgress, RetryCount: 1, RetryBudget: 3},
			class: platform.ClassTransient,
			want:  false,
		},
		{
			name:  "quota failure with retries left stays retryable",
			job:   &models.Job{Status: models.JobStatusInProgress, RetryCount: 0, RetryBudget: 3},
			class: platform.ClassQuota,
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.ShouldRollback(tt.job, tt.class))
		})
	}
}
