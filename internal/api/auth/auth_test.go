package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamdesk/internal/cache"
)

type fakeSource struct {
	perms map[string][]string
	calls int
	err   error
}

func (f *fakeSource) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.perms[userID], nil
}

func TestTokenService_RoundTrip(t *testing.T) {
	ts := NewTokenService("secret", "teamdesk")
	token, expiresAt, err := ts.IssueAccessToken("u1", "u1@example.com")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := ts.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "u1@example.com", claims.Email)
}

func TestTokenService_Rejects(t *testing.T) {
	ts := NewTokenService("secret", "teamdesk")

	other := NewTokenService("other-secret", "teamdesk")
	forged, _, err := other.IssueAccessToken("u1", "")
	require.NoError(t, err)
	_, err = ts.ValidateAccessToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewTokenService("secret", "someone-else")
	tok, _, err := wrongIssuer.IssueAccessToken("u1", "")
	require.NoError(t, err)
	_, err = ts.ValidateAccessToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenService("secret", "teamdesk")
	expired.AccessTokenDuration = -time.Minute
	tok, _, err = expired.IssueAccessToken("u1", "")
	require.NoError(t, err)
	_, err = ts.ValidateAccessToken(tok)
	assert.ErrorIs(t, err, ErrTokenExpired)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "teamdesk", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ts.ValidateAccessToken(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPermissionContext_AnyOf(t *testing.T) {
	pc := &PermissionContext{UserID: "u1", Permissions: []string{"message.read"}}
	assert.True(t, pc.HasAnyPermission(PermissionMessageSend, PermissionMessageRead))
	assert.False(t, pc.HasAnyPermission(PermissionMessageDelete))
	assert.True(t, pc.HasAnyPermission())
	assert.ErrorIs(t, pc.RequirePermission(PermissionMessageInitiate), ErrInsufficientPermissions)

	anonymous := &PermissionContext{Permissions: []string{"message.read"}}
	assert.False(t, anonymous.HasAnyPermission(PermissionMessageRead))
	var nilCtx *PermissionContext
	assert.False(t, nilCtx.HasPermission(PermissionMessageRead))
}

func TestPermissionResolver_CachesPerUser(t *testing.T) {
	src := &fakeSource{perms: map[string][]string{"u1": {"message.read"}}}
	c := cache.NewMemoryCache()
	r := NewPermissionResolver(src, c, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		perms, err := r.Resolve(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"message.read"}, perms)
	}
	assert.Equal(t, 1, src.calls)

	raw, err := c.Get(ctx, "user:permissions:u1")
	require.NoError(t, err)
	assert.JSONEq(t, `["message.read"]`, raw)

	require.NoError(t, r.Invalidate(ctx, "u1"))
	_, err = r.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestPermissionResolver_SourceError(t *testing.T) {
	boom := errors.New("db down")
	r := NewPermissionResolver(&fakeSource{err: boom}, nil, 0)
	_, err := r.Resolve(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
}

func newTestRouter(t *testing.T, perms map[string][]string) (*echo.Echo, *TokenService) {
	t.Helper()
	ts := NewTokenService("secret", "teamdesk")
	am := NewAuthMiddleware(ts, NewPermissionResolver(&fakeSource{perms: perms}, cache.NewMemoryCache(), time.Minute))

	e := echo.New()
	g := e.Group("", am.RequireAuth(), am.BuildPermissionContext())
	g.GET("/read", func(c echo.Context) error {
		return c.String(http.StatusOK, CallerID(c))
	}, RequirePermission(PermissionMessageRead))
	g.DELETE("/delete", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, RequirePermission(PermissionMessageDelete))
	return e, ts
}

func TestMiddleware_Chain(t *testing.T) {
	e, ts := newTestRouter(t, map[string][]string{"u1": {"message.read"}})
	token, _, err := ts.IssueAccessToken("u1", "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"missing header", http.MethodGet, "/read", "", http.StatusUnauthorized},
		{"bad scheme", http.MethodGet, "/read", "Token " + token, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/read", "Bearer nope", http.StatusUnauthorized},
		{"granted", http.MethodGet, "/read", "Bearer " + token, http.StatusOK},
		{"not granted", http.MethodDelete, "/delete", "Bearer " + token, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "u1", rec.Body.String())
			}
		})
	}
}
