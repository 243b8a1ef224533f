/*
Package jobqueue configuration - tunable parameters for the River job queue.

# Quick reference

Performance:
  - Increase MaxWorkers for more concurrent attachment cleanups
  - DeleteTimeout bounds a single object delete against the storage backend

Reliability:
  - MaxAttempts and RetryPolicy decide how long a failing cleanup keeps retrying.
    Objects that still cannot be deleted after the last attempt are left behind
    and the job is kept in River's jobs table with its errors for inspection.

Database:
  - PostgreSQL with River's migrations applied (`teamdesk migrate`)
*/
package jobqueue

import (
	"math"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Worker Configuration
	MaxWorkers int // Number of concurrent workers processing jobs (default: 5)

	// Retry Configuration
	MaxAttempts int           // Attempts per job including the first (default: 10)
	RetryPolicy RetryPolicy   // Retry timing and backoff configuration
	JobTimeout  time.Duration // Maximum time a single job can run (default: 2 minutes)

	// DeleteTimeout bounds one object delete inside a job
	DeleteTimeout time.Duration
}

// RetryPolicy defines how failed jobs are retried
type RetryPolicy struct {
	// InitialInterval is the time to wait before the first retry
	InitialInterval time.Duration // default: 5 seconds

	// MaxInterval is the maximum time to wait between retries
	MaxInterval time.Duration // default: 30 minutes

	// Multiplier is the factor by which the interval increases after each retry
	Multiplier float64 // default: 2.0 (exponential backoff)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:  5,
		MaxAttempts: 10,
		RetryPolicy: RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaxInterval:     30 * time.Minute,
			Multiplier:      2.0,
		},
		JobTimeout:    2 * time.Minute,
		DeleteTimeout: 15 * time.Second,
	}
}

// DevelopmentQueueConfig returns a configuration that fails fast
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	config.MaxWorkers = 2
	config.MaxAttempts = 3
	config.RetryPolicy.InitialInterval = time.Second
	config.RetryPolicy.MaxInterval = 10 * time.Second

	return config
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}

// NextRetry implements river.ClientRetryPolicy with capped exponential backoff
func (c *QueueConfig) NextRetry(job *rivertype.JobRow) time.Time {
	return time.Now().Add(c.retryDelay(job.Attempt))
}

// retryDelay is the wait after the given 1-based attempt failed
func (c *QueueConfig) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	p := c.RetryPolicy
	delay := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxInterval) || math.IsInf(delay, 1) {
		delay = float64(p.MaxInterval)
	}
	return time.Duration(delay)
}
