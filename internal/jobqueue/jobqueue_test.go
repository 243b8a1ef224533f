package jobqueue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamdesk/internal/storage"
)

func TestAttachmentCleanupArgs_Kind(t *testing.T) {
	assert.Equal(t, "attachment_cleanup", AttachmentCleanupArgs{}.Kind())
}

func TestRetryDelay(t *testing.T) {
	config := DefaultQueueConfig()

	assert.Equal(t, 5*time.Second, config.retryDelay(1))
	assert.Equal(t, 10*time.Second, config.retryDelay(2))
	assert.Equal(t, 40*time.Second, config.retryDelay(4))
	assert.Equal(t, 30*time.Minute, config.retryDelay(20))
	assert.Equal(t, 30*time.Minute, config.retryDelay(5000))
}

func TestNextRetry(t *testing.T) {
	config := DevelopmentQueueConfig()
	before := time.Now()
	next := config.NextRetry(&rivertype.JobRow{Attempt: 2})
	assert.WithinDuration(t, before.Add(2*time.Second), next, time.Second)
}

func TestRiverQueueConfig(t *testing.T) {
	queues := DefaultQueueConfig().RiverQueueConfig()
	require.Contains(t, queues, river.QueueDefault)
	assert.Equal(t, 5, queues[river.QueueDefault].MaxWorkers)
}

func uploadKeys(t *testing.T, blobs *storage.MemoryStore, n int) []string {
	t.Helper()
	keys := make([]string, n)
	for i := range keys {
		obj, err := blobs.Upload(context.Background(), &storage.File{Name: "a.png", Body: strings.NewReader("x")}, "messages")
		require.NoError(t, err)
		keys[i] = obj.Key
	}
	return keys
}

func TestAttachmentCleanupWorker_DeletesAllKeys(t *testing.T) {
	blobs := storage.NewMemoryStore()
	keys := uploadKeys(t, blobs, 2)

	w := &AttachmentCleanupWorker{blobs: blobs, config: DefaultQueueConfig(), logger: zerolog.Nop()}
	job := &river.Job[AttachmentCleanupArgs]{
		JobRow: &rivertype.JobRow{ID: 7, Attempt: 1},
		Args:   AttachmentCleanupArgs{ConversationID: "c1", Keys: keys},
	}

	require.NoError(t, w.Work(context.Background(), job))
	assert.Empty(t, blobs.Keys())
	assert.ElementsMatch(t, keys, blobs.Deleted())
}

func TestAttachmentCleanupWorker_FailureFailsJob(t *testing.T) {
	blobs := storage.NewMemoryStore()
	keys := uploadKeys(t, blobs, 1)
	blobs.DeleteErr = errors.New("503 service unavailable")

	w := &AttachmentCleanupWorker{blobs: blobs, config: DefaultQueueConfig(), logger: zerolog.Nop()}
	job := &river.Job[AttachmentCleanupArgs]{
		JobRow: &rivertype.JobRow{ID: 8, Attempt: 1},
		Args:   AttachmentCleanupArgs{ConversationID: "c1", Keys: keys},
	}

	err := w.Work(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), keys[0])
}
