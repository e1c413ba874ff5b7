package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType(t *testing.T) {
	assert.Equal(t, "fulfill_order", string(JobTypeFulfillOrder))
}

func TestJobStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		expected string
	}{
		{"Pending", JobStatusPending, "pending"},
		{"Processing", JobStatusProcessing, "processing"},
		{"Completed", JobStatusCompleted, "completed"},
		{"Failed", JobStatusFailed, "failed"},
		{"Retrying", JobStatusRetrying, "retrying"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.status))
		})
	}
}

func TestJob_StatusTransitions(t *testing.T) {
	job := &Job{
		ID:         "test-job",
		Type:       JobTypeFulfillOrder,
		Status:     JobStatusPending,
		MaxRetries: 3,
	}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.WithinDuration(t, time.Now(), *job.ProcessedAt, time.Second)

	job.MarkAsFailed("redis unavailable")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "redis unavailable", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
}

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{
			name:      "retries remaining",
			job:       &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3},
			retryable: true,
		},
		{
			name:      "no retries remaining",
			job:       &Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3},
			retryable: false,
		},
		{
			name:      "over the limit",
			job:       &Job{Status: JobStatusFailed, RetryCount: 5, MaxRetries: 3},
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestFulfillOrderJobPayload(t *testing.T) {
	payload := FulfillOrderJobPayload{OrderID: 42}

	m := payload.ToMap()
	assert.Equal(t, uint(42), m["order_id"])

	restored, err := FulfillOrderJobPayloadFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, uint(42), restored.OrderID)
}

func TestFulfillOrderJobPayloadFromMap_JSONNumbers(t *testing.T) {
	// payloads read back from Redis carry float64 values
	restored, err := FulfillOrderJobPayloadFromMap(map[string]interface{}{"order_id": float64(7)})
	require.NoError(t, err)
	assert.Equal(t, uint(7), restored.OrderID)
}

func TestDedupeRedisKey(t *testing.T) {
	key := dedupeRedisKey(JobTypeFulfillOrder, "order:42")
	assert.Equal(t, "job_dedupe:fulfill_order:order:42", key)
}
