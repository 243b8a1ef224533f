package messaging

import (
	"context"
	"fmt"
)

// MarkRead marks everything the caller received in a conversation as read
// and returns how many messages changed state. Direct conversations flip the
// per-message flag; groups advance the caller's read cursor.
func (s *Service) MarkRead(ctx context.Context, conversationID, callerID string) (int64, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if err := authorize(conv, callerID); err != nil {
		return 0, err
	}

	if !conv.IsGroup() {
		n, err := s.store.MarkDirectRead(ctx, conv.ID, callerID)
		if err != nil {
			return 0, fmt.Errorf("failed to mark messages read: %w", err)
		}
		return n, nil
	}

	n, err := s.store.MarkGroupRead(ctx, conv.ID, callerID, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to advance read cursor: %w", err)
	}
	return n, nil
}
