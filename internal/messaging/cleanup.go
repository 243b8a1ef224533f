package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/teamdesk/internal/retry"
	"github.com/teamdesk/internal/storage"
)

// AttachmentCleaner removes stored objects that no message references any
// more. Implementations may work asynchronously.
type AttachmentCleaner interface {
	Cleanup(ctx context.Context, conversationID string, keys []string) error
}

// InlineCleaner deletes objects during the request with a short backoff
type InlineCleaner struct {
	blobs  storage.Store
	config retry.RetryConfig
	logger zerolog.Logger
}

func NewInlineCleaner(blobs storage.Store, logger zerolog.Logger) *InlineCleaner {
	return &InlineCleaner{blobs: blobs, config: retry.StorageRetryConfig(), logger: logger}
}

// Cleanup tries every key and reports the ones that could not be deleted
func (c *InlineCleaner) Cleanup(ctx context.Context, conversationID string, keys []string) error {
	if c.blobs == nil {
		return nil
	}
	var errs []error
	for _, key := range keys {
		key := key
		logger := c.logger.With().Str("conversation_id", conversationID).Str("key", key).Logger()
		result := retry.RetryWithBackoff(ctx, c.config, func() error {
			return c.blobs.Delete(ctx, key)
		}, &logger)
		if !result.Success {
			errs = append(errs, fmt.Errorf("%s: %w", key, result.LastError))
		}
	}
	return errors.Join(errs...)
}
