package messaging

import (
	"time"

	"github.com/teamdesk/pkg/models"
)

// Kind distinguishes direct conversations from groups
type Kind string

const (
	KindDirect Kind = "DIRECT"
	KindGroup  Kind = "GROUP"
)

// ContentType is the payload kind of a message
type ContentType string

const (
	ContentText  ContentType = "TEXT"
	ContentImage ContentType = "IMAGE"
)

// Valid reports whether the content type is known
func (c ContentType) Valid() bool {
	return c == ContentText || c == ContentImage
}

// Conversation is a room holding messages. Exactly one of Direct or Members
// is meaningful, selected by Kind.
type Conversation struct {
	ID             string       `json:"id"`
	Kind           Kind         `json:"kind"`
	Name           *string      `json:"name,omitempty"`
	Avatar         *string      `json:"avatar,omitempty"`
	CreatorID      *string      `json:"creator_id,omitempty"`
	Direct         *DirectPair  `json:"direct,omitempty"`
	Members        []Membership `json:"members,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}

// IsGroup reports whether the conversation is a group
func (c *Conversation) IsGroup() bool { return c.Kind == KindGroup }

// Roster returns the participant set of the conversation
func (c *Conversation) Roster() Roster {
	if c.Kind == KindGroup {
		creator := ""
		if c.CreatorID != nil {
			creator = *c.CreatorID
		}
		return newGroupRoster(creator, c.Members)
	}
	if c.Direct == nil {
		return DirectPair{}
	}
	return *c.Direct
}

// Membership is a user's participation record in a group
type Membership struct {
	ConversationID string              `json:"conversation_id"`
	UserID         string              `json:"user_id"`
	IsAdmin        bool                `json:"is_admin"`
	JoinedAt       time.Time           `json:"joined_at"`
	LastReadAt     *time.Time          `json:"last_read_at,omitempty"`
	User           *models.UserSummary `json:"user,omitempty"`
}

// Message is a single entry of a conversation
type Message struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	ReceiverID     *string             `json:"receiver_id"`
	ContentType    ContentType         `json:"content_type"`
	Body           string              `json:"body"`
	AttachmentKey  *string             `json:"attachment_key,omitempty"`
	SentAt         time.Time           `json:"sent_at"`
	IsRead         bool                `json:"is_read"`
	Sender         *models.UserSummary `json:"sender,omitempty"`
	Receiver       *models.UserSummary `json:"receiver,omitempty"`
}

// HasAttachment reports whether the message references a stored object
func (m *Message) HasAttachment() bool {
	return m.AttachmentKey != nil && *m.AttachmentKey != ""
}

// Payload is the body of a send request
type Payload struct {
	ContentType ContentType `json:"type"`
	Body        string      `json:"message"`
}

// GroupPatch carries the mutable group metadata
type GroupPatch struct {
	Name   *string `json:"name,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p GroupPatch) Empty() bool { return p.Name == nil && p.Avatar == nil }

// MessagePage is one cursor page of a conversation's history
type MessagePage struct {
	Conversation *Conversation       `json:"conversation"`
	OtherUser    *models.UserSummary `json:"other_user"`
	Messages     []*Message          `json:"messages"`
	NextCursor   *string             `json:"cursor"`
	HasMore      bool                `json:"has_more"`
}

// ConversationSummary is one sidebar row
type ConversationSummary struct {
	Conversation
	OtherUser   *models.UserSummary `json:"other_user"`
	LastMessage *Message            `json:"last_message"`
	UnreadCount int                 `json:"unread_count"`
}

// ConversationPage is one cursor page of the sidebar
type ConversationPage struct {
	Conversations []*ConversationSummary `json:"conversations"`
	NextCursor    *string                `json:"cursor"`
	HasMore       bool                   `json:"has_more"`
}

// InitiateResult is returned by InitiateDirect
type InitiateResult struct {
	ConversationID string   `json:"room_id"`
	Message        *Message `json:"message"`
	Created        bool     `json:"created"`
}

// SendResult is returned by Send. Fanout is set when the request carried
// attachments and produced one message per file.
type SendResult struct {
	Messages []*Message
	Fanout   bool
}

// RemoveResult describes the outcome of RemoveMember
type RemoveResult struct {
	Left          bool   `json:"left"`
	GroupDeleted  bool   `json:"group_deleted"`
	PromotedAdmin string `json:"promoted_admin,omitempty"`
}

// UserPage is an offset page of messageable users
type UserPage struct {
	Users      []*models.User    `json:"users"`
	Pagination models.Pagination `json:"pagination"`
}
