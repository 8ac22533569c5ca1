package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleSession() Session {
	return New("u1", "Admin", "admin@example.com", "Administrator",
		time.Date(2026, 10, 16, 9, 30, 0, 123, time.UTC))
}

func TestRestoreEmpty(t *testing.T) {
	store := NewStore(NewMemoryStorage())
	_, ok := store.Restore(context.Background())
	require.False(t, ok)
}

func TestSaveRestoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStorage())
	want := sampleSession()

	require.NoError(t, store.Save(ctx, want))
	got, ok := store.Restore(ctx)
	require.True(t, ok)
	require.Equal(t, want, got)

	require.NoError(t, store.Clear(ctx))
	_, ok = store.Restore(ctx)
	require.False(t, ok)

	require.NoError(t, store.Clear(ctx), "clear must be idempotent")
}

func TestSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore(nil)
	first := sampleSession()
	second := New("u2", "Ops", "ops@example.com", "Administrator", time.Now())

	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))
	got, ok := store.Restore(ctx)
	require.True(t, ok)
	require.Equal(t, second, got)
}

func TestSaveRestoreRawSession(t *testing.T) {
	almaty := time.FixedZone("ALMT", 5*60*60)
	cases := map[string]Session{
		"wall clock": {UserID: "u1", DisplayName: "Admin", Email: "admin@example.com", Role: "Administrator", EstablishedAt: time.Now()},
		"local zone": {UserID: "u1", DisplayName: "Admin", Role: "Administrator", EstablishedAt: time.Date(2026, 10, 16, 14, 0, 0, 5, almaty)},
		"bad utf8":   {UserID: " u1 ", DisplayName: "bad\xff", Role: "Administrator ", EstablishedAt: time.Now().In(almaty)},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewStore(NewMemoryStorage())
			require.NoError(t, store.Save(ctx, raw))

			got, ok := store.Restore(ctx)
			require.True(t, ok)
			require.Equal(t, raw.Canonical(), got)
			require.True(t, raw.EstablishedAt.Equal(got.EstablishedAt))
			require.Equal(t, got, got.Canonical(), "stored form is stable")

			require.NoError(t, store.Save(ctx, got))
			again, ok := store.Restore(ctx)
			require.True(t, ok)
			require.Equal(t, got, again)
		})
	}
}

func TestSaveRejectsRoleless(t *testing.T) {
	store := NewStore(nil)
	err := store.Save(context.Background(), New("u1", "", "", " ", time.Now()))
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestRestoreTreatsPartialStateAsSignedOut(t *testing.T) {
	ctx := context.Background()
	cases := map[string]map[string]string{
		"flag only":        {KeyAuthenticated: "true"},
		"user only":        {KeyUser: `{"id":"u1","role":"Administrator"}`},
		"flag false":       {KeyAuthenticated: "false", KeyUser: `{"id":"u1","role":"Administrator"}`},
		"corrupt json":     {KeyAuthenticated: "true", KeyUser: `{"id":`},
		"missing role":     {KeyAuthenticated: "true", KeyUser: `{"id":"u1","role":""}`},
		"empty user value": {KeyAuthenticated: "true", KeyUser: ""},
	}
	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			storage := NewMemoryStorage()
			require.NoError(t, storage.Set(ctx, entries))
			_, ok := NewStore(storage).Restore(ctx)
			require.False(t, ok)
		})
	}
}

func TestRestoreReadsBrowserShapedRecord(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set(ctx, map[string]string{
		KeyAuthenticated: "true",
		KeyUser:          `{"id":"u1","name":"Admin","email":"admin@example.com","role":"Administrator"}`,
	}))
	got, ok := NewStore(storage).Restore(ctx)
	require.True(t, ok)
	require.Equal(t, "Admin", got.DisplayName)
	require.True(t, got.EstablishedAt.IsZero())
}

type failingStorage struct{ MemoryStorage }

func (f *failingStorage) Get(context.Context, ...string) (map[string]string, error) {
	return nil, errors.New("disk gone")
}

func TestRestoreStorageErrorIsSignedOut(t *testing.T) {
	store := NewStore(&failingStorage{MemoryStorage: *NewMemoryStorage()})
	_, ok := store.Restore(context.Background())
	require.False(t, ok)
}

func TestConcurrentSaveClearNeverTearsShape(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStorage())
	a := sampleSession()
	b := New("u2", "Ops", "ops@example.com", "Administrator", time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); _ = store.Save(ctx, a) }()
		go func() { defer wg.Done(); _ = store.Save(ctx, b) }()
		go func() { defer wg.Done(); _ = store.Clear(ctx) }()
	}
	wg.Wait()

	got, ok := store.Restore(ctx)
	if ok {
		require.Contains(t, []Session{a, b}, got)
	}
}

func TestRolePolicy(t *testing.T) {
	def := NewRolePolicy()
	require.True(t, def.Permits("Administrator"))
	require.False(t, def.Permits("Manager"))
	require.False(t, def.Permits(""))

	custom := NewRolePolicy("Administrator", " Support ", "")
	require.True(t, custom.Permits("Support"))
}
