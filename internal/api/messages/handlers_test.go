package messages

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamdesk/internal/api/auth"
	"github.com/teamdesk/internal/cache"
	"github.com/teamdesk/internal/messaging"
	"github.com/teamdesk/internal/storage"
	"github.com/teamdesk/pkg/models"
)

var allPermissions = []string{"message.initiate", "message.send", "message.read", "message.delete"}

type staticPermissions map[string][]string

func (s staticPermissions) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	return s[userID], nil
}

type apiFixture struct {
	e      *echo.Echo
	tokens *auth.TokenService
	blobs  *storage.MemoryStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := messaging.NewInMemoryStore()
	for _, id := range []string{"alice", "bob", "carol"} {
		store.PutUser(&models.User{ID: id, Name: strings.ToUpper(id[:1]) + id[1:], Email: id + "@example.com", Status: models.UserStatusActive})
	}
	blobs := storage.NewMemoryStore()
	svc := messaging.NewService(store, blobs, zerolog.Nop())

	tokens := auth.NewTokenService("test-secret", "teamdesk")
	perms := staticPermissions{
		"alice": allPermissions,
		"bob":   allPermissions,
		"carol": {"message.read"},
	}
	am := auth.NewAuthMiddleware(tokens, auth.NewPermissionResolver(perms, cache.NewMemoryCache(), time.Minute))

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(zerolog.Nop())
	g := e.Group("/api/v1/messages", am.RequireAuth(), am.BuildPermissionContext())
	NewHandlers(svc, zerolog.Nop(), 1024).RegisterRoutes(g)
	return &apiFixture{e: e, tokens: tokens, blobs: blobs}
}

func (f *apiFixture) do(t *testing.T, user, method, path string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, "/api/v1/messages"+path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return f.serve(t, user, req)
}

func (f *apiFixture) serve(t *testing.T, user string, req *http.Request) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	if user != "" {
		token, _, err := f.tokens.IssueAccessToken(user, user+"@example.com")
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	var resp Response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func roomID(t *testing.T, resp Response) string {
	t.Helper()
	data, isMap := resp.Data.(map[string]interface{})
	require.True(t, isMap, "unexpected data %#v", resp.Data)
	id, _ := data["room_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestInitiate_CreatesThenReuses(t *testing.T) {
	f := newAPIFixture(t)

	rec, resp := f.do(t, "alice", http.MethodPost, "/initiate", map[string]string{"receiverId": "bob", "message": "Hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, resp.Status)
	assert.Equal(t, "Message room created successfully.", resp.Message)
	first := roomID(t, resp)

	rec, resp = f.do(t, "bob", http.MethodPost, "/initiate", map[string]string{"receiverId": "alice", "message": "Hi"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Message sent successfully.", resp.Message)
	assert.Equal(t, first, roomID(t, resp))
}

func TestInitiate_Validation(t *testing.T) {
	f := newAPIFixture(t)

	rec, resp := f.do(t, "alice", http.MethodPost, "/initiate", map[string]string{"receiverId": "alice", "message": "me"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Status)
	assert.Equal(t, "You cannot message yourself", resp.Message)

	rec, _ = f.do(t, "alice", http.MethodPost, "/initiate", map[string]string{"receiverId": "nobody", "message": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPermissionsAndAuth(t *testing.T) {
	f := newAPIFixture(t)

	rec, resp := f.do(t, "", http.MethodGet, "/sidebar", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Status)

	rec, _ = f.do(t, "carol", http.MethodPost, "/initiate", map[string]string{"receiverId": "bob", "message": "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp = f.do(t, "carol", http.MethodGet, "/sidebar", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.HasMore)
	assert.False(t, *resp.HasMore)
}

func TestSend_TextAndEmpty(t *testing.T) {
	f := newAPIFixture(t)
	_, resp := f.do(t, "alice", http.MethodPost, "/initiate", map[string]string{"receiverId": "bob", "message": "Hello"})
	room := roomID(t, resp)

	rec, resp := f.do(t, "bob", http.MethodPost, "/send/"+room, map[string]string{"type": "text", "message": "Hey"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Message sent successfully.", resp.Message)

	rec, resp = f.do(t, "bob", http.MethodPost, "/send/"+room, map[string]string{"type": "TEXT", "message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "At least one media file is required.", resp.Message)

	rec, _ = f.do(t, "alice", http.MethodPost, "/send/missing-room", map[string]string{"message": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages"+path, &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestSend_MultipartFanout(t *testing.T) {
	f := newAPIFixture(t)
	_, resp := f.do(t, "alice", http.MethodPost, "/initiate", map[string]string{"receiverId": "bob", "message": "Hello"})
	room := roomID(t, resp)

	req := multipartRequest(t, "/send/"+room, map[string]string{"type": "IMAGE"}, map[string]string{"a.png": "aaa", "b.png": "bbb"})
	rec, resp := f.serve(t, "alice", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msgs, isList := resp.Data.([]interface{})
	require.True(t, isList)
	assert.Len(t, msgs, 2)
	assert.Len(t, f.blobs.Keys(), 2)

	big := multipartRequest(t, "/send/"+room, map[string]string{"type": "IMAGE"}, map[string]string{"big.png": strings.Repeat("x", 2048)})
	rec, _ = f.serve(t, "alice", big)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, f.blobs.Keys(), 2)
}

func TestRoomPagingAndRead(t *testing.T) {
	f := newAPIFixture(t)
	_, resp := f.do(t, "alice", http.MethodPost, "/initiate", map[string]string{"receiverId": "bob", "message": "m0"})
	room := roomID(t, resp)
	for i := 1; i < 5; i++ {
		rec, _ := f.do(t, "alice", http.MethodPost, "/send/"+room, map[string]string{"message": "more"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec, resp := f.do(t, "bob", http.MethodGet, "/"+room+"?limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, resp.HasMore)
	assert.True(t, *resp.HasMore)
	require.NotNil(t, resp.Cursor)

	rec, resp = f.do(t, "bob", http.MethodGet, "/"+room+"?limit=3&cursor="+*resp.Cursor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, *resp.HasMore)

	rec, _ = f.do(t, "bob", http.MethodGet, "/"+room+"?cursor=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, "bob", http.MethodGet, "/"+room+"?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = f.do(t, "bob", http.MethodPatch, "/"+room+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"count": float64(5)}, resp.Data)

	rec, _ = f.do(t, "carol", http.MethodGet, "/"+room, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGroupLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec, resp := f.do(t, "alice", http.MethodPost, "/group", map[string]interface{}{"name": "Team", "memberIds": []string{"bob"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	group, _ := resp.Data.(map[string]interface{})
	id, _ := group["id"].(string)
	require.NotEmpty(t, id)

	rec, resp = f.do(t, "alice", http.MethodPost, "/"+id+"/members", map[string]interface{}{"memberIds": []string{"bob"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No new members to add.", resp.Message)

	rec, resp = f.do(t, "alice", http.MethodPost, "/"+id+"/members", map[string]interface{}{"memberIds": []string{"carol"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Members added successfully.", resp.Message)

	rec, _ = f.do(t, "bob", http.MethodPatch, "/"+id+"/group", map[string]string{"name": "Renamed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp = f.do(t, "alice", http.MethodPatch, "/"+id+"/group", map[string]string{"name": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Group updated successfully.", resp.Message)

	rec, resp = f.do(t, "bob", http.MethodDelete, "/"+id+"/members/bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "You left the group.", resp.Message)

	rec, resp = f.do(t, "alice", http.MethodDelete, "/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Message room deleted successfully.", resp.Message)

	rec, _ = f.do(t, "alice", http.MethodGet, "/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMessage(t *testing.T) {
	f := newAPIFixture(t)
	_, resp := f.do(t, "alice", http.MethodPost, "/initiate", map[string]string{"receiverId": "bob", "message": "Hello"})
	data, _ := resp.Data.(map[string]interface{})
	msg, _ := data["message"].(map[string]interface{})
	msgID, _ := msg["id"].(string)
	require.NotEmpty(t, msgID)

	rec, resp := f.do(t, "bob", http.MethodDelete, "/message/"+msgID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "You are not authorized to delete this message.", resp.Message)

	rec, resp = f.do(t, "alice", http.MethodDelete, "/message/"+msgID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Message deleted successfully.", resp.Message)
}

func TestAvailableUsers(t *testing.T) {
	f := newAPIFixture(t)
	rec, resp := f.do(t, "alice", http.MethodGet, "/users?search=car&page=1&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data, _ := resp.Data.(map[string]interface{})
	users, _ := data["users"].([]interface{})
	require.Len(t, users, 1)
	assert.Equal(t, "carol", users[0].(map[string]interface{})["id"])
}
