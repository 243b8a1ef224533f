package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InitiateDirect finds or creates the direct conversation between callerID
// and receiverID and appends a text message to it.
func (s *Service) InitiateDirect(ctx context.Context, callerID, receiverID, text string) (*InitiateResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, badRequest("Message is required")
	}
	if receiverID == "" {
		return nil, badRequest("Receiver is required")
	}
	if receiverID == callerID {
		return nil, badRequest(msgCannotMessageSelf)
	}

	if _, err := s.store.GetUser(ctx, receiverID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("Receiver not found")
		}
		return nil, fmt.Errorf("failed to load receiver: %w", err)
	}

	existing, err := s.store.FindDirect(ctx, callerID, receiverID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up direct conversation: %w", err)
	}

	if existing == nil {
		now := s.now()
		pair := NewDirectPair(callerID, receiverID)
		conv := &Conversation{
			ID:             s.newConversationID(),
			Kind:           KindDirect,
			Direct:         &pair,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		msg := s.textMessage(conv, callerID, text, now)

		err = s.store.CreateDirect(ctx, conv, msg)
		switch {
		case err == nil:
			if err := s.hydrate(ctx, msg); err != nil {
				return nil, err
			}
			s.logger.Debug().Str("conversation_id", conv.ID).Str("sender_id", callerID).Msg("direct conversation created")
			return &InitiateResult{ConversationID: conv.ID, Message: msg, Created: true}, nil
		case errors.Is(err, ErrDirectExists):
			// lost the race against the other participant; fall through to append
			existing, err = s.store.FindDirect(ctx, callerID, receiverID)
			if err != nil {
				return nil, fmt.Errorf("failed to load concurrently created conversation: %w", err)
			}
		default:
			return nil, fmt.Errorf("failed to create direct conversation: %w", err)
		}
	}

	msg := s.textMessage(existing, callerID, text, s.now())
	if err := s.store.AppendMessages(ctx, existing.ID, []*Message{msg}); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	if err := s.hydrate(ctx, msg); err != nil {
		return nil, err
	}
	return &InitiateResult{ConversationID: existing.ID, Message: msg}, nil
}

func (s *Service) textMessage(conv *Conversation, senderID, text string, at time.Time) *Message {
	return &Message{
		ID:             s.newMessageID(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverFor(conv, senderID),
		ContentType:    ContentText,
		Body:           text,
		SentAt:         at,
	}
}

// CreateGroup creates a group owned by callerID. The caller becomes its
// first admin; memberIDs are added as regular members.
func (s *Service) CreateGroup(ctx context.Context, callerID, name string, memberIDs []string) (*Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, badRequest("Group name is required")
	}
	members := dedupe(memberIDs, callerID)
	if len(members) == 0 {
		return nil, badRequest("At least one member is required")
	}
	missing, err := s.store.MissingUsers(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("failed to verify members: %w", err)
	}
	if len(missing) > 0 {
		return nil, badRequest("Unknown members: %s", strings.Join(missing, ", "))
	}

	now := s.now()
	creator := callerID
	conv := &Conversation{
		ID:             s.newConversationID(),
		Kind:           KindGroup,
		Name:           &name,
		CreatorID:      &creator,
		CreatedAt:      now,
		LastActivityAt: now,
		Members:        make([]Membership, 0, len(members)+1),
	}
	conv.Members = append(conv.Members, Membership{ConversationID: conv.ID, UserID: callerID, IsAdmin: true, JoinedAt: now})
	for _, id := range members {
		conv.Members = append(conv.Members, Membership{ConversationID: conv.ID, UserID: id, JoinedAt: now})
	}

	if err := s.store.CreateGroup(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	s.logger.Info().Str("conversation_id", conv.ID).Str("creator_id", callerID).Int("members", len(conv.Members)).Msg("group created")

	return s.loadConversation(ctx, conv.ID)
}
