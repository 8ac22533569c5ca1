package badgerkv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zippytrip.org/internal/session"
)

func openTemp(t *testing.T, dir string) *Storage {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	return s
}

func TestStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t, "")
	defer s.Close()

	require.NoError(t, s.Set(ctx, map[string]string{"a": "1", "b": "2"}))
	got, err := s.Get(ctx, "a", "b", "missing")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, got)

	require.NoError(t, s.Delete(ctx, "a", "missing"))
	got, err = s.Get(ctx, "a", "b")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"b": "2"}, got)
}

func TestSessionSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	want := session.New("u1", "Admin", "admin@example.com", "Administrator", time.Now())

	s := openTemp(t, dir)
	require.NoError(t, session.NewStore(s).Save(ctx, want))
	require.NoError(t, s.Close())

	s = openTemp(t, dir)
	defer s.Close()
	got, ok := session.NewStore(s).Restore(ctx)
	require.True(t, ok)
	require.Equal(t, want, got)

	require.NoError(t, session.NewStore(s).Clear(ctx))
	_, ok = session.NewStore(s).Restore(ctx)
	require.False(t, ok)
}
