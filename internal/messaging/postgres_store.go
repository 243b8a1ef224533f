package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/teamdesk/pkg/models"
)

const (
	pgUniqueViolation    = "23505"
	directPairConstraint = "conversations_direct_pair_key"

	conversationColumns = `c.id, c.kind, c.name, c.avatar, c.creator_id, c.participant_a, c.participant_b, c.created_at, c.last_activity_at`
	messageColumns      = `id, conversation_id, sender_id, receiver_id, content_type, body, attachment_key, sent_at, is_read`
)

// PostgresStore implements Store on database/sql with lib/pq
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

type scanner interface {
	Scan(dest ...interface{}) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	var avatar sql.NullString
	var deletedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
        SELECT id, name, email, avatar, status, deleted_at, created_at
        FROM users WHERE id=$1 AND deleted_at IS NULL
    `, id).Scan(&u.ID, &u.Name, &u.Email, &avatar, &u.Status, &deletedAt, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Avatar = stringPtr(avatar)
	if deletedAt.Valid {
		u.DeletedAt = &deletedAt.Time
	}
	return &u, nil
}

func (s *PostgresStore) UserSummaries(ctx context.Context, ids []string) (map[string]models.UserSummary, error) {
	out := make(map[string]models.UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, avatar FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var u models.UserSummary
		var avatar sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &avatar); err != nil {
			return nil, err
		}
		u.Avatar = stringPtr(avatar)
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (s *PostgresStore) MissingUsers(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT x.id FROM unnest($1::text[]) AS x(id)
        LEFT JOIN users u ON u.id = x.id AND u.deleted_at IS NULL
        WHERE u.id IS NULL
    `, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var missing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		missing = append(missing, id)
	}
	return missing, rows.Err()
}

func (s *PostgresStore) ListMessageableUsers(ctx context.Context, q UserQuery) ([]*models.User, int, error) {
	pattern := likePattern(q.Search)
	const where = `
        WHERE id <> $1 AND status = 'ACTIVE' AND deleted_at IS NULL
          AND ($2 = '' OR name ILIKE $2 OR email ILIKE $2)`

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`+where, q.ExcludeID, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := interface{}(nil)
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, name, email, avatar, status, created_at FROM users`+where+`
        ORDER BY name ASC, id ASC
        LIMIT $3 OFFSET $4
    `, q.ExcludeID, pattern, limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]*models.User, 0)
	for rows.Next() {
		var u models.User
		var avatar sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &avatar, &u.Status, &u.CreatedAt); err != nil {
			return nil, 0, err
		}
		u.Avatar = stringPtr(avatar)
		out = append(out, &u)
	}
	return out, total, rows.Err()
}

func scanConversation(row scanner) (*Conversation, error) {
	var c Conversation
	var kind string
	var name, avatar, creator, a, b sql.NullString
	if err := row.Scan(&c.ID, &kind, &name, &avatar, &creator, &a, &b, &c.CreatedAt, &c.LastActivityAt); err != nil {
		return nil, err
	}
	c.Kind = Kind(kind)
	c.Name = stringPtr(name)
	c.Avatar = stringPtr(avatar)
	c.CreatorID = stringPtr(creator)
	if c.Kind == KindDirect {
		pair := NewDirectPair(a.String, b.String)
		c.Direct = &pair
	}
	return &c, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.IsGroup() {
		if c.Members, err = s.members(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *PostgresStore) members(ctx context.Context, conversationID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT cm.user_id, cm.is_admin, cm.joined_at, cm.last_read_at, u.name, u.avatar
        FROM conversation_members cm
        LEFT JOIN users u ON u.id = cm.user_id
        WHERE cm.conversation_id=$1
        ORDER BY cm.joined_at ASC, cm.user_id ASC
    `, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Membership, 0)
	for rows.Next() {
		m := Membership{ConversationID: conversationID}
		var lastRead sql.NullTime
		var name, avatar sql.NullString
		if err := rows.Scan(&m.UserID, &m.IsAdmin, &m.JoinedAt, &lastRead, &name, &avatar); err != nil {
			return nil, err
		}
		if lastRead.Valid {
			m.LastReadAt = &lastRead.Time
		}
		if name.Valid {
			m.User = &models.UserSummary{ID: m.UserID, Name: name.String, Avatar: stringPtr(avatar)}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindDirect(ctx context.Context, a, b string) (*Conversation, error) {
	low, high := NewDirectPair(a, b).Normalized()
	c, err := scanConversation(s.db.QueryRowContext(ctx, `
        SELECT `+conversationColumns+` FROM conversations c
        WHERE c.direct_low=$1 AND c.direct_high=$2
    `, low, high))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) CreateDirect(ctx context.Context, conv *Conversation, first *Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO conversations (id, kind, participant_a, participant_b, created_at, last_activity_at)
            VALUES ($1, 'DIRECT', $2, $3, $4, $5)
        `, conv.ID, conv.Direct.A, conv.Direct.B, conv.CreatedAt, conv.LastActivityAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation && pqErr.Constraint == directPairConstraint {
				return ErrDirectExists
			}
			return err
		}
		if err := insertMessage(ctx, tx, first); err != nil {
			return err
		}
		return touchActivity(ctx, tx, conv.ID, first.SentAt)
	})
}

func (s *PostgresStore) CreateGroup(ctx context.Context, conv *Conversation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO conversations (id, kind, name, avatar, creator_id, created_at, last_activity_at)
            VALUES ($1, 'GROUP', $2, $3, $4, $5, $6)
        `, conv.ID, conv.Name, conv.Avatar, conv.CreatorID, conv.CreatedAt, conv.LastActivityAt)
		if err != nil {
			return err
		}
		for _, m := range conv.Members {
			if _, err := insertMember(ctx, tx, conv.ID, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertMember(ctx context.Context, tx *sql.Tx, conversationID string, m Membership) (int64, error) {
	res, err := tx.ExecContext(ctx, `
        INSERT INTO conversation_members (conversation_id, user_id, is_admin, joined_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (conversation_id, user_id) DO NOTHING
    `, conversationID, m.UserID, m.IsAdmin, m.JoinedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) UpdateGroup(ctx context.Context, id string, patch GroupPatch) (*Conversation, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE conversations
        SET name = COALESCE($2, name), avatar = COALESCE($3, avatar)
        WHERE id=$1 AND kind='GROUP'
    `, id, patch.Name, patch.Avatar)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetConversation(ctx, id)
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) (*Conversation, error) {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id=$1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *PostgresStore) AttachmentKeys(ctx context.Context, conversationID string) ([]string, error) {
	return attachmentKeys(ctx, s.db, conversationID)
}

func attachmentKeys(ctx context.Context, q queryer, conversationID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT attachment_key FROM messages
        WHERE conversation_id=$1 AND attachment_key IS NOT NULL
    `, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func insertMessage(ctx context.Context, tx *sql.Tx, m *Message) error {
	_, err := tx.ExecContext(ctx, `
        INSERT INTO messages (`+messageColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, m.ID, m.ConversationID, m.SenderID, m.ReceiverID, string(m.ContentType), m.Body, m.AttachmentKey, m.SentAt, m.IsRead)
	return err
}

// touchActivity advances last_activity_at without moving it backwards
func touchActivity(ctx context.Context, tx *sql.Tx, conversationID string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
        UPDATE conversations SET last_activity_at = GREATEST(last_activity_at, $2) WHERE id=$1
    `, conversationID, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessages(ctx context.Context, conversationID string, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		newest := msgs[0].SentAt
		for _, m := range msgs {
			if m.SentAt.After(newest) {
				newest = m.SentAt
			}
		}
		// lock the conversation row first so a concurrent delete cannot interleave
		if err := touchActivity(ctx, tx, conversationID, newest); err != nil {
			return err
		}
		for _, m := range msgs {
			if err := insertMessage(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var receiver, key sql.NullString
	var contentType string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &receiver, &contentType, &m.Body, &key, &m.SentAt, &m.IsRead); err != nil {
		return nil, err
	}
	m.ContentType = ContentType(contentType)
	m.ReceiverID = stringPtr(receiver)
	m.AttachmentKey = stringPtr(key)
	return &m, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID, cursor string, limit int) ([]*Message, error) {
	var after *time.Time
	if cursor != "" {
		var at time.Time
		err := s.db.QueryRowContext(ctx, `SELECT sent_at FROM messages WHERE id=$1 AND conversation_id=$2`, cursor, conversationID).Scan(&at)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCursorNotFound
		}
		if err != nil {
			return nil, err
		}
		after = &at
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1
          AND ($2::timestamptz IS NULL OR (sent_at, id) < ($2::timestamptz, $3::text))
        ORDER BY sent_at DESC, id DESC
        LIMIT $4
    `, conversationID, after, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `DELETE FROM messages WHERE id=$1 RETURNING `+messageColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// unreadExpr counts unread messages of c for the user bound to $1. Groups use
// the member's read cursor; direct conversations use the per-message flag.
const unreadExpr = `
    CASE WHEN c.kind = 'GROUP' THEN (
        SELECT count(*) FROM messages x
        WHERE x.conversation_id = c.id AND x.sender_id <> $1
          AND x.sent_at > COALESCE(cm.last_read_at, cm.joined_at)
    ) ELSE (
        SELECT count(*) FROM messages x
        WHERE x.conversation_id = c.id AND x.receiver_id = $1 AND NOT x.is_read
    ) END`

func (s *PostgresStore) ListConversations(ctx context.Context, q ConversationQuery) ([]*ConversationSummary, error) {
	var afterAt *time.Time
	if q.Cursor != "" {
		var at time.Time
		err := s.db.QueryRowContext(ctx, `
            SELECT c.last_activity_at FROM conversations c
            LEFT JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = $2
            WHERE c.id = $1
              AND (cm.user_id IS NOT NULL OR (c.kind = 'DIRECT' AND $2 IN (c.participant_a, c.participant_b)))
        `, q.Cursor, q.UserID).Scan(&at)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCursorNotFound
		}
		if err != nil {
			return nil, err
		}
		afterAt = &at
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT `+conversationColumns+`,
               ou.id, ou.name, ou.avatar,
               lm.id, lm.conversation_id, lm.sender_id, lm.receiver_id, lm.content_type, lm.body, lm.attachment_key, lm.sent_at, lm.is_read,
               `+unreadExpr+`
        FROM conversations c
        LEFT JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = $1
        LEFT JOIN users ou ON c.kind = 'DIRECT'
             AND ou.id = CASE WHEN c.participant_a = $1 THEN c.participant_b ELSE c.participant_a END
        LEFT JOIN LATERAL (
            SELECT `+messageColumns+` FROM messages m
            WHERE m.conversation_id = c.id
            ORDER BY m.sent_at DESC, m.id DESC
            LIMIT 1
        ) lm ON true
        WHERE (cm.user_id IS NOT NULL OR (c.kind = 'DIRECT' AND $1 IN (c.participant_a, c.participant_b)))
          AND ($2 = '' OR (c.kind = 'GROUP' AND c.name ILIKE $2) OR (c.kind = 'DIRECT' AND ou.name ILIKE $2))
          AND ($3::timestamptz IS NULL OR (c.last_activity_at, c.id) < ($3::timestamptz, $4::text))
        ORDER BY c.last_activity_at DESC, c.id DESC
        LIMIT $5
    `, q.UserID, likePattern(q.Search), afterAt, q.Cursor, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*ConversationSummary, 0, q.Limit)
	for rows.Next() {
		var c Conversation
		var kind string
		var name, avatar, creator, a, b sql.NullString
		var ouID, ouName, ouAvatar sql.NullString
		var lmID, lmConv, lmSender, lmReceiver, lmType, lmBody, lmKey sql.NullString
		var lmSentAt sql.NullTime
		var lmRead sql.NullBool
		var unread int
		if err := rows.Scan(
			&c.ID, &kind, &name, &avatar, &creator, &a, &b, &c.CreatedAt, &c.LastActivityAt,
			&ouID, &ouName, &ouAvatar,
			&lmID, &lmConv, &lmSender, &lmReceiver, &lmType, &lmBody, &lmKey, &lmSentAt, &lmRead,
			&unread,
		); err != nil {
			return nil, err
		}
		c.Kind = Kind(kind)
		c.Name = stringPtr(name)
		c.Avatar = stringPtr(avatar)
		c.CreatorID = stringPtr(creator)
		if c.Kind == KindDirect {
			pair := NewDirectPair(a.String, b.String)
			c.Direct = &pair
		}

		row := &ConversationSummary{Conversation: c, UnreadCount: unread}
		if ouID.Valid {
			row.OtherUser = &models.UserSummary{ID: ouID.String, Name: ouName.String, Avatar: stringPtr(ouAvatar)}
		}
		if lmID.Valid {
			row.LastMessage = &Message{
				ID:             lmID.String,
				ConversationID: lmConv.String,
				SenderID:       lmSender.String,
				ReceiverID:     stringPtr(lmReceiver),
				ContentType:    ContentType(lmType.String),
				Body:           lmBody.String,
				AttachmentKey:  stringPtr(lmKey),
				SentAt:         lmSentAt.Time,
				IsRead:         lmRead.Bool,
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkDirectRead(ctx context.Context, conversationID, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE messages SET is_read = true
        WHERE conversation_id=$1 AND receiver_id=$2 AND NOT is_read
    `, conversationID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) MarkGroupRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var since time.Time
		err := tx.QueryRowContext(ctx, `
            SELECT COALESCE(last_read_at, joined_at) FROM conversation_members
            WHERE conversation_id=$1 AND user_id=$2
            FOR UPDATE
        `, conversationID, userID).Scan(&since)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
            WITH advanced AS (
                UPDATE conversation_members
                SET last_read_at = GREATEST(COALESCE(last_read_at, $3), $3)
                WHERE conversation_id=$1 AND user_id=$2
                RETURNING user_id
            )
            SELECT count(*) FROM messages
            WHERE conversation_id=$1 AND sender_id <> $2
              AND sent_at > $4 AND sent_at <= $3
              AND EXISTS (SELECT 1 FROM advanced)
        `, conversationID, userID, at, since).Scan(&n)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresStore) AddMembers(ctx context.Context, conversationID string, members []Membership) (int, error) {
	var added int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var kind string
		err := tx.QueryRowContext(ctx, `SELECT kind FROM conversations WHERE id=$1 FOR UPDATE`, conversationID).Scan(&kind)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && Kind(kind) != KindGroup) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		for _, m := range members {
			n, err := insertMember(ctx, tx, conversationID, m)
			if err != nil {
				return err
			}
			added += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, conversationID, userID string, pick SuccessorFunc) (*MemberRemoval, error) {
	out := &MemberRemoval{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var kind string
		err := tx.QueryRowContext(ctx, `SELECT kind FROM conversations WHERE id=$1 FOR UPDATE`, conversationID).Scan(&kind)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && Kind(kind) != KindGroup) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM conversation_members WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		remaining, err := lockedRoster(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			if out.AttachmentKeys, err = attachmentKeys(ctx, tx, conversationID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id=$1`, conversationID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, conversationID); err != nil {
				return err
			}
			out.GroupDeleted = true
			return nil
		}

		if pick != nil {
			out.Promoted = pick(remaining)
		}
		if out.Promoted == "" {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
            UPDATE conversation_members SET is_admin = true
            WHERE conversation_id=$1 AND user_id=$2
        `, conversationID, out.Promoted)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lockedRoster reads the memberships left in a group whose row the caller
// already holds FOR UPDATE
func lockedRoster(ctx context.Context, tx *sql.Tx, conversationID string) ([]Membership, error) {
	rows, err := tx.QueryContext(ctx, `
        SELECT user_id, is_admin, joined_at FROM conversation_members
        WHERE conversation_id=$1
        ORDER BY joined_at ASC, user_id ASC
    `, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Membership
	for rows.Next() {
		m := Membership{ConversationID: conversationID}
		if err := rows.Scan(&m.UserID, &m.IsAdmin, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// likePattern turns a search term into an ILIKE pattern, or "" for no filter
func likePattern(search string) string {
	search = strings.TrimSpace(search)
	if search == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(search) + "%"
}
