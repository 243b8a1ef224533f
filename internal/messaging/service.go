package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/teamdesk/internal/storage"
	"github.com/teamdesk/pkg/models"
)

// Limits bounds page sizes and uploads
type Limits struct {
	MessagePageSize int
	SidebarPageSize int
	UsersPageSize   int
	MaxPageSize     int
	MaxAttachments  int
	UploadNamespace string
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{
		MessagePageSize: 20,
		SidebarPageSize: 10,
		UsersPageSize:   20,
		MaxPageSize:     100,
		MaxAttachments:  5,
		UploadNamespace: "messages",
	}
}

// Service implements conversation resolution, message dispatch, the read
// model, receipts, deletion and group membership on top of a Store.
type Service struct {
	store   Store
	blobs   storage.Store
	cleaner AttachmentCleaner
	logger  zerolog.Logger
	limits  Limits

	now               func() time.Time
	newConversationID func() string
	newMessageID      func() string
}

// NewService wires the service. Attachment cleanup defaults to inline deletes
// against blobs; use WithCleaner to hand it to the job queue instead.
func NewService(store Store, blobs storage.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:             store,
		blobs:             blobs,
		cleaner:           NewInlineCleaner(blobs, logger),
		logger:            logger.With().Str("component", "messaging").Logger(),
		limits:            DefaultLimits(),
		now:               func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newConversationID: uuid.NewString,
		newMessageID:      func() string { return ulid.Make().String() },
	}
}

// WithLimits replaces the default limits. Zero fields keep their default.
func (s *Service) WithLimits(l Limits) *Service {
	d := DefaultLimits()
	if l.MessagePageSize <= 0 {
		l.MessagePageSize = d.MessagePageSize
	}
	if l.SidebarPageSize <= 0 {
		l.SidebarPageSize = d.SidebarPageSize
	}
	if l.UsersPageSize <= 0 {
		l.UsersPageSize = d.UsersPageSize
	}
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = d.MaxPageSize
	}
	if l.MaxAttachments <= 0 {
		l.MaxAttachments = d.MaxAttachments
	}
	if l.UploadNamespace == "" {
		l.UploadNamespace = d.UploadNamespace
	}
	s.limits = l
	return s
}

// WithCleaner replaces the attachment cleaner
func (s *Service) WithCleaner(c AttachmentCleaner) *Service {
	if c != nil {
		s.cleaner = c
	}
	return s
}

// Limits returns the effective limits
func (s *Service) Limits() Limits { return s.limits }

// loadConversation fetches a conversation, mapping absence to NotFound
func (s *Service) loadConversation(ctx context.Context, id string) (*Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound(msgRoomNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	return conv, nil
}

// loadGroup is loadConversation restricted to groups
func (s *Service) loadGroup(ctx context.Context, id string) (*Conversation, groupRoster, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, ErrNotFound) || (err == nil && !conv.IsGroup()) {
		return nil, groupRoster{}, notFound(msgGroupNotFound)
	}
	if err != nil {
		return nil, groupRoster{}, fmt.Errorf("failed to load group %s: %w", id, err)
	}
	return conv, conv.Roster().(groupRoster), nil
}

// authorize checks that callerID participates in conv
func authorize(conv *Conversation, callerID string) error {
	if conv.Roster().Includes(callerID) {
		return nil
	}
	if conv.IsGroup() {
		return forbidden(msgNotGroupMember)
	}
	return forbidden(msgNotParticipant)
}

// receiverFor returns the implicit receiver of a message sent by senderID
func receiverFor(conv *Conversation, senderID string) *string {
	if conv.IsGroup() {
		return nil
	}
	other, ok := conv.Roster().Counterpart(senderID)
	if !ok {
		return nil
	}
	return &other
}

func (s *Service) pageSize(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > s.limits.MaxPageSize {
		return s.limits.MaxPageSize
	}
	return limit
}

// hydrate attaches sender and receiver summaries to msgs
func (s *Service) hydrate(ctx context.Context, msgs ...*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	ids := make([]string, 0, 2)
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, m := range msgs {
		if m == nil {
			continue
		}
		add(m.SenderID)
		if m.ReceiverID != nil {
			add(*m.ReceiverID)
		}
	}
	users, err := s.store.UserSummaries(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load user summaries: %w", err)
	}
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if u, ok := users[m.SenderID]; ok {
			u := u
			m.Sender = &u
		}
		if m.ReceiverID != nil {
			if u, ok := users[*m.ReceiverID]; ok {
				u := u
				m.Receiver = &u
			}
		}
	}
	return nil
}

func (s *Service) userSummary(ctx context.Context, id string) (*models.UserSummary, error) {
	users, err := s.store.UserSummaries(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("failed to load user summary: %w", err)
	}
	if u, ok := users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

// cleanupAttachments hands keys to the cleaner. Failures are logged and
// swallowed; the caller's primary change has already been committed.
func (s *Service) cleanupAttachments(ctx context.Context, conversationID string, keys []string) {
	if len(keys) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.cleaner.Cleanup(ctx, conversationID, keys); err != nil {
		s.logger.Warn().
			Err(err).
			Str("conversation_id", conversationID).
			Strs("keys", keys).
			Msg("attachment cleanup failed")
	}
}

// dedupe returns ids without duplicates, blanks and exclude, keeping order
func dedupe(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
