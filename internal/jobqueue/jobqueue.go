/*
Package jobqueue provides a River-based job queue that deletes stored message
attachments after their messages are gone.

For configuration options, retry policies, and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog"

	"github.com/teamdesk/internal/storage"
)

// AttachmentCleanupArgs represents the arguments for an attachment cleanup job
type AttachmentCleanupArgs struct {
	ConversationID string   `json:"conversation_id"`
	Keys           []string `json:"keys"`
}

// Kind returns the job kind for River
func (AttachmentCleanupArgs) Kind() string {
	return "attachment_cleanup"
}

// AttachmentCleanupWorker deletes the objects named by a cleanup job
type AttachmentCleanupWorker struct {
	river.WorkerDefaults[AttachmentCleanupArgs]
	blobs  storage.Store
	config *QueueConfig
	logger zerolog.Logger
}

// Timeout bounds the whole job
func (w *AttachmentCleanupWorker) Timeout(*river.Job[AttachmentCleanupArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work deletes every key. Any failure fails the job so River retries it;
// deleting an already deleted object is harmless.
func (w *AttachmentCleanupWorker) Work(ctx context.Context, job *river.Job[AttachmentCleanupArgs]) error {
	args := job.Args
	logger := w.logger.With().
		Int64("job_id", job.ID).
		Int("attempt", job.Attempt).
		Str("conversation_id", args.ConversationID).
		Logger()

	var errs []error
	for _, key := range args.Keys {
		dctx, cancel := context.WithTimeout(ctx, w.config.DeleteTimeout)
		err := w.blobs.Delete(dctx, key)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("attachment delete failed")
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to delete %d of %d attachments: %w", len(errs), len(args.Keys), errors.Join(errs...))
	}

	logger.Debug().Int("keys", len(args.Keys)).Msg("attachments deleted")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	config *QueueConfig
	logger zerolog.Logger
	work   bool
}

// NewJobQueue creates a job queue on pool. When blobs is nil the client can
// only insert jobs and Start is a no-op, which is what the API process uses
// when workers run elsewhere.
func NewJobQueue(pool *pgxpool.Pool, config *QueueConfig, blobs storage.Store, logger zerolog.Logger) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}
	logger = logger.With().Str("component", "jobqueue").Logger()

	riverConfig := &river.Config{
		MaxAttempts: config.MaxAttempts,
		JobTimeout:  config.JobTimeout,
		RetryPolicy: config,
	}
	if blobs != nil {
		workers := river.NewWorkers()
		river.AddWorker(workers, &AttachmentCleanupWorker{blobs: blobs, config: config, logger: logger})
		riverConfig.Queues = config.RiverQueueConfig()
		riverConfig.Workers = workers
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, config: config, logger: logger, work: blobs != nil}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	if !jq.work {
		return nil
	}
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	if !jq.work {
		return nil
	}
	return jq.client.Stop(ctx)
}

// Cleanup queues an attachment cleanup job. It satisfies
// messaging.AttachmentCleaner.
func (jq *JobQueue) Cleanup(ctx context.Context, conversationID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	args := AttachmentCleanupArgs{ConversationID: conversationID, Keys: keys}

	res, err := jq.client.Insert(ctx, args, &river.InsertOpts{MaxAttempts: jq.config.MaxAttempts})
	if err != nil {
		return fmt.Errorf("failed to queue attachment cleanup job: %w", err)
	}

	jq.logger.Debug().Int64("job_id", res.Job.ID).Str("conversation_id", conversationID).Int("keys", len(keys)).Msg("attachment cleanup queued")
	return nil
}
