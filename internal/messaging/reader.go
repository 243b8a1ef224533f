package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/teamdesk/pkg/models"
)

// ListMessages returns one page of a conversation's history, newest first.
// The page resumes strictly after cursor when it is set.
func (s *Service) ListMessages(ctx context.Context, conversationID, callerID, cursor string, limit int) (*MessagePage, error) {
	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := authorize(conv, callerID); err != nil {
		return nil, err
	}
	limit = s.pageSize(limit, s.limits.MessagePageSize)

	msgs, err := s.store.ListMessages(ctx, conv.ID, cursor, limit)
	if errors.Is(err, ErrCursorNotFound) {
		return nil, badRequest("Invalid cursor")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if err := s.hydrate(ctx, msgs...); err != nil {
		return nil, err
	}

	page := &MessagePage{
		Conversation: conv,
		Messages:     msgs,
		HasMore:      len(msgs) == limit,
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1].ID
		page.NextCursor = &last
	}
	if other, ok := conv.Roster().Counterpart(callerID); ok {
		if page.OtherUser, err = s.userSummary(ctx, other); err != nil {
			return nil, err
		}
	}
	return page, nil
}

// ListConversations returns the caller's sidebar ordered by last activity
func (s *Service) ListConversations(ctx context.Context, callerID, search, cursor string, limit int) (*ConversationPage, error) {
	limit = s.pageSize(limit, s.limits.SidebarPageSize)
	rows, err := s.store.ListConversations(ctx, ConversationQuery{
		UserID: callerID,
		Search: search,
		Cursor: cursor,
		Limit:  limit,
	})
	if errors.Is(err, ErrCursorNotFound) {
		return nil, badRequest("Invalid cursor")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	previews := make([]*Message, 0, len(rows))
	for _, r := range rows {
		if r.LastMessage != nil {
			previews = append(previews, r.LastMessage)
		}
	}
	if err := s.hydrate(ctx, previews...); err != nil {
		return nil, err
	}

	page := &ConversationPage{Conversations: rows, HasMore: len(rows) == limit}
	if len(rows) > 0 {
		last := rows[len(rows)-1].ID
		page.NextCursor = &last
	}
	return page, nil
}

// ListUsers returns the active users the caller can start a conversation with
func (s *Service) ListUsers(ctx context.Context, callerID, search string, page, limit int) (*UserPage, error) {
	if page < 1 {
		page = 1
	}
	limit = s.pageSize(limit, s.limits.UsersPageSize)

	users, total, err := s.store.ListMessageableUsers(ctx, UserQuery{
		ExcludeID: callerID,
		Search:    search,
		Offset:    (page - 1) * limit,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if users == nil {
		users = []*models.User{}
	}
	return &UserPage{Users: users, Pagination: models.NewPagination(page, limit, total)}, nil
}
