package memory

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zippytrip.org/internal/identity"
)

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := New([]byte("test-secret"), []Seed{
		{ID: "u1", Email: "Admin@Example.com", DisplayName: "Admin", Role: "Administrator", Password: "admin123"},
		{ID: "u2", Email: "manager@example.com", DisplayName: "Manager", Role: "Manager", Password: "manager1"},
	})
	require.NoError(t, err)
	return d
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	i := strings.Index(link, "#")
	require.Greater(t, i, 0)
	vals, err := url.ParseQuery(link[i+1:])
	require.NoError(t, err)
	require.Equal(t, "recovery", vals.Get("type"))
	return vals.Get("access_token")
}

func TestSignInWithSeededIdentity(t *testing.T) {
	c := newDirectory(t).NewClient()
	sess, err := c.SignInWithPassword(context.Background(), "admin@example.com", "admin123")
	require.NoError(t, err)
	require.Equal(t, "Administrator", sess.User.Role)
	require.NotEmpty(t, sess.AccessToken)

	_, err = c.SignInWithPassword(context.Background(), "admin@example.com", "wrong")
	var ae *identity.AuthError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "Invalid login credentials", ae.Message)
}

func TestRecoveryTokenIsSingleUse(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)
	c := d.NewClient()

	require.NoError(t, c.ResetPasswordForEmail(ctx, "admin@example.com", "https://console.test/reset-password"))
	link, ok := d.LastLink("admin@example.com")
	require.True(t, ok)
	require.True(t, strings.HasPrefix(link, "https://console.test/reset-password#"))
	tok := tokenFromLink(t, link)

	events, cancel := c.OnSessionEvent(ctx)
	defer cancel()
	u, err := c.GetUserByToken(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, "admin@example.com", u.Email)
	select {
	case evt := <-events:
		require.Equal(t, identity.PasswordRecovery, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected PasswordRecovery event")
	}

	require.NoError(t, c.UpdateCurrentUserPassword(ctx, "newpass1"))

	second := d.NewClient()
	_, err = second.GetUserByToken(ctx, tok)
	require.ErrorIs(t, err, identity.ErrInvalidToken)
	require.ErrorIs(t, c.UpdateCurrentUserPassword(ctx, "newpass2"), identity.ErrInvalidToken)

	_, err = d.NewClient().SignInWithPassword(ctx, "admin@example.com", "newpass1")
	require.NoError(t, err)
}

func TestRecoveryForUnknownEmailIsSilent(t *testing.T) {
	d := newDirectory(t)
	require.NoError(t, d.NewClient().ResetPasswordForEmail(context.Background(), "nobody@example.com", "https://x/reset"))
	require.Empty(t, d.Outbox())
}

func TestExpiredRecoveryToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, err := New([]byte("s"), []Seed{{ID: "u1", Email: "a@x.com", Role: "Administrator", Password: "secret1"}},
		WithClock(func() time.Time { return now }), WithRecoveryTTL(time.Minute))
	require.NoError(t, err)
	c := d.NewClient()
	require.NoError(t, c.ResetPasswordForEmail(context.Background(), "a@x.com", "https://x/reset"))
	link, _ := d.LastLink("a@x.com")

	now = now.Add(2 * time.Minute)
	_, err = c.GetUserByToken(context.Background(), tokenFromLink(t, link))
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestAdminSetPasswordAndRoleOf(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)

	role, err := d.RoleOf(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, "Manager", role)
	role, err = d.RoleOf(ctx, "nope")
	require.NoError(t, err)
	require.Empty(t, role)

	require.NoError(t, d.AdminSetPassword(ctx, "u2", "shortpw"))
	_, err = d.NewClient().SignInWithPassword(ctx, "manager@example.com", "shortpw")
	require.NoError(t, err)

	require.ErrorIs(t, d.AdminSetPassword(ctx, "u404", "shortpw"), identity.ErrUserNotFound)
	var ae *identity.AuthError
	require.True(t, errors.As(d.AdminSetPassword(ctx, "u2", "abc"), &ae))
}

func TestSignOutRevokesToken(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)
	c := d.NewClient()
	sess, err := c.SignInWithPassword(ctx, "admin@example.com", "admin123")
	require.NoError(t, err)
	require.NoError(t, c.SignOut(ctx))
	_, err = d.GetUserByToken(ctx, sess.AccessToken)
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestRefreshEmitsTokenRefreshed(t *testing.T) {
	ctx := context.Background()
	c := newDirectory(t).NewClient()
	_, err := c.Refresh(ctx)
	require.ErrorIs(t, err, identity.ErrNoSession)

	_, err = c.SignInWithPassword(ctx, "admin@example.com", "admin123")
	require.NoError(t, err)
	events, cancel := c.OnSessionEvent(ctx)
	defer cancel()
	_, err = c.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, identity.TokenRefreshed, (<-events).Kind)
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory(t)
	first, err := dir.NewClient().SignInWithPassword(ctx, "admin@example.com", "admin123")
	require.NoError(t, err)

	c := dir.NewClient()
	c.Resume(first)
	next, err := c.Refresh(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, next.RefreshToken)

	_, err = dir.GetUserByToken(ctx, first.AccessToken)
	require.ErrorIs(t, err, identity.ErrInvalidToken, "refresh revokes the old access token")

	replay := dir.NewClient()
	replay.Resume(first)
	_, err = replay.Refresh(ctx)
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestCanceledContextMapsToNetwork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newDirectory(t).NewClient().SignInWithPassword(ctx, "admin@example.com", "admin123")
	require.ErrorIs(t, err, identity.ErrNetwork)
}
