package messaging

import (
	"context"
	"errors"
	"fmt"
)

// DeleteMessage removes a message sent by callerID. Its attachment, if any,
// is cleaned up after the record is gone.
func (s *Service) DeleteMessage(ctx context.Context, messageID, callerID string) (*Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("Message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	if msg.SenderID != callerID {
		return nil, forbidden("You are not authorized to delete this message.")
	}

	deleted, err := s.store.DeleteMessage(ctx, msg.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("Message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}
	if deleted.HasAttachment() {
		s.cleanupAttachments(ctx, deleted.ConversationID, []string{*deleted.AttachmentKey})
	}
	return deleted, nil
}

// DeleteConversation removes a conversation with all its messages. Groups
// may be deleted by their creator or an admin, direct conversations by
// either participant.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, callerID string) (*Conversation, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Roster().CanAdminister(callerID) {
		return nil, forbidden("You are not authorized to delete this conversation.")
	}
	return s.purge(ctx, conv.ID)
}

// purge deletes a conversation and hands its attachment keys to the cleaner
func (s *Service) purge(ctx context.Context, conversationID string) (*Conversation, error) {
	keys, err := s.store.AttachmentKeys(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect attachments: %w", err)
	}
	deleted, err := s.store.DeleteConversation(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(msgRoomNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete conversation: %w", err)
	}
	s.cleanupAttachments(ctx, conversationID, keys)
	s.logger.Info().Str("conversation_id", conversationID).Int("attachments", len(keys)).Msg("conversation deleted")
	return deleted, nil
}
