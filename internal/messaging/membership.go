package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AddMembers adds regular members to a group and returns how many were new.
// Users that are already members are skipped.
func (s *Service) AddMembers(ctx context.Context, conversationID, callerID string, memberIDs []string) (int, error) {
	conv, roster, err := s.loadGroup(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !roster.CanAdminister(callerID) {
		return 0, forbidden("Only admins can add members")
	}

	var fresh []string
	for _, id := range dedupe(memberIDs, "") {
		if !roster.Includes(id) {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	missing, err := s.store.MissingUsers(ctx, fresh)
	if err != nil {
		return 0, fmt.Errorf("failed to verify members: %w", err)
	}
	if len(missing) > 0 {
		return 0, badRequest("Unknown members: %s", strings.Join(missing, ", "))
	}

	now := s.now()
	members := make([]Membership, 0, len(fresh))
	for _, id := range fresh {
		members = append(members, Membership{ConversationID: conv.ID, UserID: id, JoinedAt: now})
	}
	n, err := s.store.AddMembers(ctx, conv.ID, members)
	if err != nil {
		return 0, fmt.Errorf("failed to add members: %w", err)
	}
	s.logger.Debug().Str("conversation_id", conv.ID).Str("actor_id", callerID).Int("added", n).Msg("group members added")
	return n, nil
}

// RemoveMember removes targetID from a group. Anyone may leave. Removing
// somebody else takes admin rights, and nobody but the creator can take the
// creator out. When the last admin leaves the earliest joined member is
// promoted; when the last member leaves the group is deleted.
func (s *Service) RemoveMember(ctx context.Context, conversationID, callerID, targetID string) (*RemoveResult, error) {
	conv, roster, err := s.loadGroup(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !roster.Includes(targetID) {
		return nil, notFound("Member not found in group")
	}

	self := targetID == callerID
	if !self {
		if !roster.CanAdminister(callerID) {
			return nil, forbidden("You do not have permission to remove members")
		}
		if roster.isCreator(targetID) {
			return nil, forbidden("Admins cannot remove the group creator")
		}
	}

	removal, err := s.store.RemoveMember(ctx, conv.ID, targetID, successor)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("Member not found in group")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to remove member: %w", err)
	}

	result := &RemoveResult{Left: self, GroupDeleted: removal.GroupDeleted, PromotedAdmin: removal.Promoted}
	if removal.GroupDeleted {
		s.cleanupAttachments(ctx, conv.ID, removal.AttachmentKeys)
		s.logger.Info().Str("conversation_id", conv.ID).Int("attachments", len(removal.AttachmentKeys)).Msg("empty group deleted")
		return result, nil
	}

	s.logger.Debug().
		Str("conversation_id", conv.ID).
		Str("actor_id", callerID).
		Str("target_id", targetID).
		Str("promoted", removal.Promoted).
		Msg("group member removed")
	return result, nil
}

// successor returns the member to promote when nobody left is an admin: the
// earliest joined, ties broken by user id. It returns "" when an admin remains.
func successor(remaining []Membership) string {
	var pick *Membership
	for i := range remaining {
		m := &remaining[i]
		if m.IsAdmin {
			return ""
		}
		if pick == nil || m.JoinedAt.Before(pick.JoinedAt) ||
			(m.JoinedAt.Equal(pick.JoinedAt) && m.UserID < pick.UserID) {
			pick = m
		}
	}
	if pick == nil {
		return ""
	}
	return pick.UserID
}

// UpdateGroup changes the name or avatar of a group
func (s *Service) UpdateGroup(ctx context.Context, conversationID, callerID string, patch GroupPatch) (*Conversation, error) {
	conv, roster, err := s.loadGroup(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !roster.CanAdminister(callerID) {
		return nil, forbidden("Only admins can update group details")
	}
	if patch.Empty() {
		return nil, badRequest("No fields to update")
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, badRequest("Group name cannot be empty")
		}
		patch.Name = &name
	}

	updated, err := s.store.UpdateGroup(ctx, conv.ID, patch)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(msgGroupNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update group: %w", err)
	}
	return updated, nil
}
