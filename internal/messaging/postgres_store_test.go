package messaging

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamdesk/internal/database"
	"github.com/teamdesk/internal/storage"
)

// newPostgresFixture runs the service against a real database. Users get
// random ids so runs do not collide.
func newPostgresFixture(t *testing.T) (*Service, *sql.DB, map[string]string) {
	t.Helper()
	url := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := database.NewDB(ctx, database.Options{URL: url}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.ApplySchema(ctx, db))

	ids := map[string]string{}
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		id := uuid.NewString()
		ids[strings.ToLower(name)] = id
		_, err := db.ExecContext(ctx, `INSERT INTO users (id, name, email) VALUES ($1, $2, $3)`, id, name, id+"@example.com")
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		for _, id := range ids {
			db.Exec(`DELETE FROM conversations WHERE participant_a=$1 OR participant_b=$1 OR creator_id=$1`, id)
			db.Exec(`DELETE FROM users WHERE id=$1`, id)
		}
	})

	svc := NewService(NewPostgresStore(db), storage.NewMemoryStore(), zerolog.Nop())
	return svc, db, ids
}

func TestPostgresStore_DirectConversationFlow(t *testing.T) {
	svc, _, u := newPostgresFixture(t)
	ctx := context.Background()

	first, err := svc.InitiateDirect(ctx, u["alice"], u["bob"], "Hello")
	require.NoError(t, err)
	assert.True(t, first.Created)

	again, err := svc.InitiateDirect(ctx, u["bob"], u["alice"], "Hi")
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, again.ConversationID)

	for i := 0; i < 5; i++ {
		_, err := svc.Send(ctx, first.ConversationID, u["alice"], Payload{Body: "more"}, nil)
		require.NoError(t, err)
	}

	page1, err := svc.ListMessages(ctx, first.ConversationID, u["bob"], "", 4)
	require.NoError(t, err)
	require.Len(t, page1.Messages, 4)
	assert.True(t, page1.HasMore)
	page2, err := svc.ListMessages(ctx, first.ConversationID, u["bob"], *page1.NextCursor, 4)
	require.NoError(t, err)
	require.Len(t, page2.Messages, 3)
	assert.False(t, page2.HasMore)
	assert.Equal(t, "Hello", page2.Messages[2].Body)

	sidebar, err := svc.ListConversations(ctx, u["bob"], "ali", "", 10)
	require.NoError(t, err)
	require.Len(t, sidebar.Conversations, 1)
	assert.Equal(t, 6, sidebar.Conversations[0].UnreadCount)

	n, err := svc.MarkRead(ctx, first.ConversationID, u["bob"])
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	n, err = svc.MarkRead(ctx, first.ConversationID, u["bob"])
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostgresStore_UniquePairRejectsSecondCreate(t *testing.T) {
	_, db, u := newPostgresFixture(t)
	ctx := context.Background()
	store := NewPostgresStore(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	create := func(a, b string) error {
		pair := NewDirectPair(a, b)
		conv := &Conversation{ID: uuid.NewString(), Kind: KindDirect, Direct: &pair, CreatedAt: now, LastActivityAt: now}
		msg := &Message{ID: uuid.NewString(), ConversationID: conv.ID, SenderID: a, ReceiverID: &b, ContentType: ContentText, Body: "x", SentAt: now}
		return store.CreateDirect(ctx, conv, msg)
	}

	require.NoError(t, create(u["alice"], u["carol"]))
	assert.ErrorIs(t, create(u["carol"], u["alice"]), ErrDirectExists)
}

func TestPostgresStore_GroupMembership(t *testing.T) {
	svc, _, u := newPostgresFixture(t)
	ctx := context.Background()

	team, err := svc.CreateGroup(ctx, u["alice"], "Team", []string{u["bob"]})
	require.NoError(t, err)
	require.Len(t, team.Members, 2)

	n, err := svc.AddMembers(ctx, team.ID, u["alice"], []string{u["bob"], u["carol"]})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.RemoveMember(ctx, team.ID, u["bob"], u["carol"])
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := svc.RemoveMember(ctx, team.ID, u["alice"], u["alice"])
	require.NoError(t, err)
	assert.Equal(t, u["bob"], res.PromotedAdmin)

	_, err = svc.Send(ctx, team.ID, u["carol"], Payload{Body: "hello team"}, nil)
	require.NoError(t, err)
	n64, err := svc.MarkRead(ctx, team.ID, u["bob"])
	require.NoError(t, err)
	assert.Equal(t, int64(1), n64)

	_, err = svc.DeleteConversation(ctx, team.ID, u["bob"])
	require.NoError(t, err)
	_, err = svc.ListMessages(ctx, team.ID, u["bob"], "", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ConcurrentLastLeavesDeleteGroup(t *testing.T) {
	_, db, u := newPostgresFixture(t)
	ctx := context.Background()
	blobs := storage.NewMemoryStore()
	svc := NewService(NewPostgresStore(db), blobs, zerolog.Nop())

	team, err := svc.CreateGroup(ctx, u["alice"], "Pair", []string{u["bob"]})
	require.NoError(t, err)
	sent, err := svc.Send(ctx, team.ID, u["bob"], Payload{}, []*storage.File{pngFile("a.png")})
	require.NoError(t, err)

	racing := NewService(newRosterBarrier(NewPostgresStore(db), 2), blobs, zerolog.Nop())
	results := leaveTogether(t, racing, team.ID, u["alice"], u["bob"])

	deleted := 0
	for _, r := range results {
		if r.GroupDeleted {
			deleted++
		}
	}
	assert.Equal(t, 1, deleted)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM conversations WHERE id=$1`, team.ID).Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE conversation_id=$1`, team.ID).Scan(&count))
	assert.Zero(t, count)
	assert.Equal(t, []string{*sent.Messages[0].AttachmentKey}, blobs.Deleted())
}

func TestPostgresStore_ForeignCursorIsInvalid(t *testing.T) {
	svc, _, u := newPostgresFixture(t)
	ctx := context.Background()

	_, err := svc.InitiateDirect(ctx, u["alice"], u["bob"], "Hello")
	require.NoError(t, err)
	private, err := svc.InitiateDirect(ctx, u["bob"], u["carol"], "Psst")
	require.NoError(t, err)

	_, err = svc.ListConversations(ctx, u["alice"], "", private.ConversationID, 10)
	assert.ErrorIs(t, err, ErrBadRequest)

	page, err := svc.ListConversations(ctx, u["carol"], "", private.ConversationID, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Conversations)
}
