package messaging

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/teamdesk/internal/storage"
)

// maxParallelUploads bounds concurrent uploads of one fan-out
const maxParallelUploads = 4

// Send appends a message to a conversation. A text payload with a non-empty
// body, whitespace included, yields one message; anything else requires
// attachments and yields one image message per file.
func (s *Service) Send(ctx context.Context, conversationID, callerID string, payload Payload, files []*storage.File) (*SendResult, error) {
	if payload.ContentType == "" {
		payload.ContentType = ContentText
	}
	if !payload.ContentType.Valid() {
		return nil, badRequest("Invalid message type %q", payload.ContentType)
	}

	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := authorize(conv, callerID); err != nil {
		return nil, err
	}

	if payload.ContentType == ContentText && payload.Body != "" {
		msg := s.textMessage(conv, callerID, payload.Body, s.now())
		if err := s.store.AppendMessages(ctx, conv.ID, []*Message{msg}); err != nil {
			return nil, fmt.Errorf("failed to append message: %w", err)
		}
		if err := s.hydrate(ctx, msg); err != nil {
			return nil, err
		}
		return &SendResult{Messages: []*Message{msg}}, nil
	}

	if len(files) == 0 {
		return nil, badRequest(msgMediaRequired)
	}
	if len(files) > s.limits.MaxAttachments {
		return nil, badRequest("You can upload at most %d files", s.limits.MaxAttachments)
	}

	objects, err := s.uploadAll(ctx, conv.ID, files)
	if err != nil {
		return nil, err
	}

	now := s.now()
	receiver := receiverFor(conv, callerID)
	msgs := make([]*Message, len(objects))
	keys := make([]string, len(objects))
	for i, obj := range objects {
		key := obj.Key
		keys[i] = key
		msgs[i] = &Message{
			ID:             s.newMessageID(),
			ConversationID: conv.ID,
			SenderID:       callerID,
			ReceiverID:     receiver,
			ContentType:    ContentImage,
			AttachmentKey:  &key,
			SentAt:         now,
		}
	}

	if err := s.store.AppendMessages(ctx, conv.ID, msgs); err != nil {
		s.cleanupAttachments(ctx, conv.ID, keys)
		return nil, fmt.Errorf("failed to append attachment messages: %w", err)
	}
	if err := s.hydrate(ctx, msgs...); err != nil {
		return nil, err
	}

	s.logger.Debug().Str("conversation_id", conv.ID).Str("sender_id", callerID).Int("files", len(msgs)).Msg("attachments sent")
	return &SendResult{Messages: msgs, Fanout: true}, nil
}

// uploadAll uploads files in parallel, keeping their order. When any upload
// fails the objects already stored are cleaned up.
func (s *Service) uploadAll(ctx context.Context, conversationID string, files []*storage.File) ([]*storage.Object, error) {
	for i, f := range files {
		if f == nil || f.Body == nil {
			return nil, badRequest("File %d is empty", i+1)
		}
	}

	objects := make([]*storage.Object, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			obj, err := s.blobs.Upload(gctx, f, s.limits.UploadNamespace)
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", f.Name, err)
			}
			objects[i] = obj
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		return objects, nil
	}

	var uploaded []string
	for _, obj := range objects {
		if obj != nil {
			uploaded = append(uploaded, obj.Key)
		}
	}
	s.cleanupAttachments(ctx, conversationID, uploaded)
	return nil, err
}
