package messaging

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/teamdesk/pkg/models"
)

// ErrCursorNotFound is returned by list queries when the cursor row does not
// belong to the listed set.
var ErrCursorNotFound = errors.New("cursor not found")

// UserQuery filters messageable users
type UserQuery struct {
	ExcludeID string
	Search    string
	Offset    int
	Limit     int
}

// ConversationQuery filters the sidebar of one user
type ConversationQuery struct {
	UserID string
	Search string
	Cursor string
	Limit  int
}

// Store is the storage access layer of the messaging core. Every method is a
// single unit of work.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	UserSummaries(ctx context.Context, ids []string) (map[string]models.UserSummary, error)
	MissingUsers(ctx context.Context, ids []string) ([]string, error)
	ListMessageableUsers(ctx context.Context, q UserQuery) ([]*models.User, int, error)

	GetConversation(ctx context.Context, id string) (*Conversation, error)
	FindDirect(ctx context.Context, a, b string) (*Conversation, error)
	// CreateDirect inserts the conversation and its first message. It returns
	// ErrDirectExists when the unordered pair is already taken.
	CreateDirect(ctx context.Context, conv *Conversation, first *Message) error
	// CreateGroup inserts the conversation together with conv.Members.
	CreateGroup(ctx context.Context, conv *Conversation) error
	UpdateGroup(ctx context.Context, id string, patch GroupPatch) (*Conversation, error)
	// DeleteConversation removes the conversation, its messages and memberships.
	DeleteConversation(ctx context.Context, id string) (*Conversation, error)
	AttachmentKeys(ctx context.Context, conversationID string) ([]string, error)

	// AppendMessages inserts msgs and advances last_activity_at to the newest
	// sent_at without ever moving it backwards.
	AppendMessages(ctx context.Context, conversationID string, msgs []*Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// ListMessages returns up to limit messages ordered by sent_at desc, id
	// desc, strictly after the cursor message when cursor is set.
	ListMessages(ctx context.Context, conversationID, cursor string, limit int) ([]*Message, error)
	DeleteMessage(ctx context.Context, id string) (*Message, error)

	// ListConversations returns sidebar rows ordered by last_activity_at desc,
	// id desc, strictly after the cursor conversation when cursor is set.
	ListConversations(ctx context.Context, q ConversationQuery) ([]*ConversationSummary, error)
	MarkDirectRead(ctx context.Context, conversationID, userID string) (int64, error)
	// MarkGroupRead advances the member's read cursor to at and returns how
	// many messages from others it moved past, counted in the same unit of work.
	MarkGroupRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error)

	// AddMembers inserts non-admin memberships, skipping users already present.
	// It returns the number of rows inserted.
	AddMembers(ctx context.Context, conversationID string, members []Membership) (int, error)
	// RemoveMember deletes a membership while holding the group locked. The
	// roster left behind is read under that lock: when it is empty the group
	// and its messages are deleted, otherwise pick chooses who to promote.
	RemoveMember(ctx context.Context, conversationID, userID string, pick SuccessorFunc) (*MemberRemoval, error)
}

// SuccessorFunc returns the member to promote given the remaining roster, or
// "" when no promotion is needed.
type SuccessorFunc func(remaining []Membership) string

// MemberRemoval is what RemoveMember did to the group
type MemberRemoval struct {
	Promoted     string
	GroupDeleted bool
	// AttachmentKeys of the deleted group's messages, left for the caller to clean up
	AttachmentKeys []string
}

// InMemoryStore is a threadsafe in-memory store for tests
type InMemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	conversations map[string]*Conversation
	members       map[string]map[string]Membership
	messages      map[string]*Message
	byRoom        map[string][]string
	directs       map[[2]string]string

	// FailCreateDirect, when set, makes the next CreateDirect behave as if a
	// concurrent request created the pair first.
	FailCreateDirect func(conv *Conversation) *Conversation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:         make(map[string]*models.User),
		conversations: make(map[string]*Conversation),
		members:       make(map[string]map[string]Membership),
		messages:      make(map[string]*Message),
		byRoom:        make(map[string][]string),
		directs:       make(map[[2]string]string),
	}
}

// PutUser seeds an identity record
func (s *InMemoryStore) PutUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	if cp.Status == "" {
		cp.Status = models.UserStatusActive
	}
	s.users[u.ID] = &cp
}

func (s *InMemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemoryStore) UserSummaries(ctx context.Context, ids []string) (map[string]models.UserSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.UserSummary, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u.Summary()
		}
	}
	return out, nil
}

func (s *InMemoryStore) MissingUsers(ctx context.Context, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []string
	for _, id := range ids {
		u, ok := s.users[id]
		if !ok || u.DeletedAt != nil {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *InMemoryStore) ListMessageableUsers(ctx context.Context, q UserQuery) ([]*models.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(q.Search))
	var matched []*models.User
	for _, u := range s.users {
		if u.ID == q.ExcludeID || !u.IsMessageable() {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(u.Name), search) && !strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		cp := *u
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name == matched[j].Name {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].Name < matched[j].Name
	})
	total := len(matched)
	if q.Offset >= total {
		return []*models.User{}, total, nil
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > total {
		end = total
	}
	return matched[q.Offset:end], total, nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationLocked(id)
}

func (s *InMemoryStore) conversationLocked(id string) (*Conversation, error) {
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneConversation(c)
	if c.Kind == KindGroup {
		cp.Members = s.membersLocked(id)
	}
	return cp, nil
}

func (s *InMemoryStore) membersLocked(id string) []Membership {
	out := make([]Membership, 0, len(s.members[id]))
	for _, m := range s.members[id] {
		if u, ok := s.users[m.UserID]; ok {
			sum := u.Summary()
			m.User = &sum
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (s *InMemoryStore) FindDirect(ctx context.Context, a, b string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	low, high := NewDirectPair(a, b).Normalized()
	id, ok := s.directs[[2]string{low, high}]
	if !ok {
		return nil, ErrNotFound
	}
	return s.conversationLocked(id)
}

func (s *InMemoryStore) CreateDirect(ctx context.Context, conv *Conversation, first *Message) error {
	if hook := s.FailCreateDirect; hook != nil {
		s.FailCreateDirect = nil
		if winner := hook(conv); winner != nil {
			s.mu.Lock()
			low, high := winner.Direct.Normalized()
			s.conversations[winner.ID] = cloneConversation(winner)
			s.directs[[2]string{low, high}] = winner.ID
			s.mu.Unlock()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	low, high := conv.Direct.Normalized()
	key := [2]string{low, high}
	if _, ok := s.directs[key]; ok {
		return ErrDirectExists
	}
	s.conversations[conv.ID] = cloneConversation(conv)
	s.directs[key] = conv.ID
	s.insertMessageLocked(first)
	return nil
}

func (s *InMemoryStore) CreateGroup(ctx context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cloneConversation(conv)
	stored.Members = nil
	s.conversations[conv.ID] = stored
	set := make(map[string]Membership, len(conv.Members))
	for _, m := range conv.Members {
		m.User = nil
		set[m.UserID] = m
	}
	s.members[conv.ID] = set
	return nil
}

func (s *InMemoryStore) UpdateGroup(ctx context.Context, id string, patch GroupPatch) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.Kind != KindGroup {
		return nil, ErrNotFound
	}
	if patch.Name != nil {
		v := *patch.Name
		c.Name = &v
	}
	if patch.Avatar != nil {
		v := *patch.Avatar
		c.Avatar = &v
	}
	return s.conversationLocked(id)
}

func (s *InMemoryStore) DeleteConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.conversationLocked(id)
	if err != nil {
		return nil, err
	}
	s.deleteConversationLocked(conv)
	return conv, nil
}

func (s *InMemoryStore) deleteConversationLocked(conv *Conversation) {
	for _, mid := range s.byRoom[conv.ID] {
		delete(s.messages, mid)
	}
	delete(s.byRoom, conv.ID)
	delete(s.members, conv.ID)
	delete(s.conversations, conv.ID)
	if conv.Direct != nil {
		low, high := conv.Direct.Normalized()
		delete(s.directs, [2]string{low, high})
	}
}

func (s *InMemoryStore) AttachmentKeys(ctx context.Context, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attachmentKeysLocked(conversationID), nil
}

func (s *InMemoryStore) attachmentKeysLocked(conversationID string) []string {
	var keys []string
	for _, mid := range s.byRoom[conversationID] {
		if m := s.messages[mid]; m != nil && m.HasAttachment() {
			keys = append(keys, *m.AttachmentKey)
		}
	}
	return keys
}

func (s *InMemoryStore) AppendMessages(ctx context.Context, conversationID string, msgs []*Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return ErrNotFound
	}
	for _, m := range msgs {
		s.insertMessageLocked(m)
	}
	return nil
}

func (s *InMemoryStore) insertMessageLocked(m *Message) {
	cp := *m
	cp.Sender, cp.Receiver = nil, nil
	s.messages[m.ID] = &cp
	s.byRoom[m.ConversationID] = append(s.byRoom[m.ConversationID], m.ID)
	if c, ok := s.conversations[m.ConversationID]; ok && m.SentAt.After(c.LastActivityAt) {
		c.LastActivityAt = m.SentAt
	}
}

func (s *InMemoryStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// sortedMessagesLocked returns the conversation history newest first
func (s *InMemoryStore) sortedMessagesLocked(conversationID string) []*Message {
	ids := s.byRoom[conversationID]
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SentAt.After(out[j].SentAt)
	})
	return out
}

func (s *InMemoryStore) ListMessages(ctx context.Context, conversationID, cursor string, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.sortedMessagesLocked(conversationID)
	start := 0
	if cursor != "" {
		start = -1
		for i, m := range all {
			if m.ID == cursor {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, ErrCursorNotFound
		}
	}
	out := make([]*Message, 0, limit)
	for i := start; i < len(all) && len(out) < limit; i++ {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) DeleteMessage(ctx context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.messages, id)
	ids := s.byRoom[m.ConversationID]
	for i, mid := range ids {
		if mid == id {
			s.byRoom[m.ConversationID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	cp := *m
	return &cp, nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context, q ConversationQuery) ([]*ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(q.Search))
	var rows []*ConversationSummary
	for id, c := range s.conversations {
		row := &ConversationSummary{Conversation: *cloneConversation(c)}
		switch c.Kind {
		case KindGroup:
			if _, ok := s.members[id][q.UserID]; !ok {
				continue
			}
			if search != "" && (c.Name == nil || !strings.Contains(strings.ToLower(*c.Name), search)) {
				continue
			}
		default:
			other, ok := c.Direct.Counterpart(q.UserID)
			if !ok {
				continue
			}
			u, known := s.users[other]
			if search != "" && (!known || !strings.Contains(strings.ToLower(u.Name), search)) {
				continue
			}
			if known {
				sum := u.Summary()
				row.OtherUser = &sum
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].LastActivityAt.Equal(rows[j].LastActivityAt) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].LastActivityAt.After(rows[j].LastActivityAt)
	})
	start := 0
	if q.Cursor != "" {
		start = -1
		for i, r := range rows {
			if r.ID == q.Cursor {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, ErrCursorNotFound
		}
	}
	out := make([]*ConversationSummary, 0, q.Limit)
	for i := start; i < len(rows) && len(out) < q.Limit; i++ {
		r := rows[i]
		if msgs := s.sortedMessagesLocked(r.ID); len(msgs) > 0 {
			last := *msgs[0]
			r.LastMessage = &last
		}
		r.UnreadCount = s.unreadLocked(r.ID, q.UserID)
		out = append(out, r)
	}
	return out, nil
}

func (s *InMemoryStore) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadLocked(conversationID, userID), nil
}

func (s *InMemoryStore) unreadLocked(conversationID, userID string) int {
	c, ok := s.conversations[conversationID]
	if !ok {
		return 0
	}
	n := 0
	if c.Kind == KindGroup {
		m, ok := s.members[conversationID][userID]
		if !ok {
			return 0
		}
		since := m.JoinedAt
		if m.LastReadAt != nil {
			since = *m.LastReadAt
		}
		for _, mid := range s.byRoom[conversationID] {
			msg := s.messages[mid]
			if msg.SenderID != userID && msg.SentAt.After(since) {
				n++
			}
		}
		return n
	}
	for _, mid := range s.byRoom[conversationID] {
		msg := s.messages[mid]
		if msg.ReceiverID != nil && *msg.ReceiverID == userID && !msg.IsRead {
			n++
		}
	}
	return n
}

func (s *InMemoryStore) MarkDirectRead(ctx context.Context, conversationID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, mid := range s.byRoom[conversationID] {
		msg := s.messages[mid]
		if msg.ReceiverID != nil && *msg.ReceiverID == userID && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) MarkGroupRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[conversationID][userID]
	if !ok {
		return 0, ErrNotFound
	}
	since := m.JoinedAt
	if m.LastReadAt != nil {
		since = *m.LastReadAt
	}
	var n int64
	for _, mid := range s.byRoom[conversationID] {
		msg := s.messages[mid]
		if msg.SenderID != userID && msg.SentAt.After(since) && !msg.SentAt.After(at) {
			n++
		}
	}
	if m.LastReadAt == nil || at.After(*m.LastReadAt) {
		t := at
		m.LastReadAt = &t
	}
	s.members[conversationID][userID] = m
	return n, nil
}

func (s *InMemoryStore) AddMembers(ctx context.Context, conversationID string, members []Membership) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[conversationID]
	if !ok {
		return 0, ErrNotFound
	}
	n := 0
	for _, m := range members {
		if _, exists := set[m.UserID]; exists {
			continue
		}
		m.User = nil
		set[m.UserID] = m
		n++
	}
	return n, nil
}

func (s *InMemoryStore) RemoveMember(ctx context.Context, conversationID, userID string, pick SuccessorFunc) (*MemberRemoval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.Kind != KindGroup {
		return nil, ErrNotFound
	}
	set := s.members[conversationID]
	if _, ok := set[userID]; !ok {
		return nil, ErrNotFound
	}
	delete(set, userID)

	out := &MemberRemoval{}
	if len(set) == 0 {
		out.AttachmentKeys = s.attachmentKeysLocked(conversationID)
		s.deleteConversationLocked(conv)
		out.GroupDeleted = true
		return out, nil
	}
	remaining := make([]Membership, 0, len(set))
	for _, m := range set {
		remaining = append(remaining, m)
	}
	if pick != nil {
		out.Promoted = pick(remaining)
	}
	if m, ok := set[out.Promoted]; ok {
		m.IsAdmin = true
		set[out.Promoted] = m
	}
	return out, nil
}

func cloneConversation(c *Conversation) *Conversation {
	cp := *c
	if c.Direct != nil {
		d := *c.Direct
		cp.Direct = &d
	}
	if c.Members != nil {
		cp.Members = append([]Membership(nil), c.Members...)
	}
	return &cp
}
