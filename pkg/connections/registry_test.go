package connections

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/livecoord/pkg/sessions"
)

func newTestRegistry() (*Registry, *sessions.Store) {
	store := sessions.NewStore()
	return NewRegistry(Options{AppName: "test-app", Sessions: store}), store
}

func TestCreateConnectionBindsOwnedSession(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRegistry()

	conn, err := r.Create(ctx, "agent", "alice", "")
	require.NoError(t, err)
	require.NotEmpty(t, conn.ID)
	require.Equal(t, "alice", conn.UserID)
	require.Equal(t, "agent", conn.ProfileKey)

	sess, err := store.Get(ctx, "test-app", "alice", conn.SessionID)
	require.NoError(t, err)
	require.Equal(t, "alice", sess.UserID)

	got, ok := r.Lookup(conn.ID)
	require.True(t, ok)
	require.Equal(t, conn, got)
}

func TestCreateConnectionReusesMostRecentSession(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()

	first, err := r.Create(ctx, "agent", "alice", "")
	require.NoError(t, err)
	second, err := r.Create(ctx, "agent", "alice", "")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, first.SessionID, second.SessionID)
}

func TestCreateConnectionWithExplicitSession(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRegistry()

	conn, err := r.Create(ctx, "agent", "alice", "s-1")
	require.NoError(t, err)
	require.Equal(t, "s-1", conn.SessionID)
	require.Equal(t, 1, store.Count())

	again, err := r.Create(ctx, "agent", "alice", "s-1")
	require.NoError(t, err)
	require.Equal(t, "s-1", again.SessionID)
	require.Equal(t, 1, store.Count())

	_, err = r.Create(ctx, "agent", "bob", "s-1")
	require.True(t, errors.Is(err, sessions.ErrSessionExists))
}

func TestCreateConnectionRequiresUser(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Create(context.Background(), "agent", "  ", "")
	require.ErrorIs(t, err, ErrMissingUser)
	require.Equal(t, 0, r.Count())
}

func TestAttachAllowsOneStream(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	conn, err := r.Create(ctx, "agent", "alice", "")
	require.NoError(t, err)

	detach, err := r.Attach(conn.ID, func() {})
	require.NoError(t, err)
	_, err = r.Attach(conn.ID, func() {})
	require.ErrorIs(t, err, ErrAlreadyAttached)

	detach()
	detach()
	detach2, err := r.Attach(conn.ID, func() {})
	require.NoError(t, err)
	detach2()

	_, err = r.Attach("missing", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveCancelsAttachedStream(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	conn, err := r.Create(ctx, "agent", "alice", "")
	require.NoError(t, err)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	_, err = r.Attach(conn.ID, cancel)
	require.NoError(t, err)

	require.True(t, r.Remove(conn.ID))
	require.Error(t, streamCtx.Err())
	require.False(t, r.Remove(conn.ID))
	_, ok := r.Lookup(conn.ID)
	require.False(t, ok)
}

func TestRemoveBySession(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	a, err := r.Create(ctx, "agent", "alice", "shared")
	require.NoError(t, err)
	b, err := r.Create(ctx, "other", "alice", "shared")
	require.NoError(t, err)
	c, err := r.Create(ctx, "agent", "alice", "solo")
	require.NoError(t, err)

	removed := r.RemoveBySession("shared")
	require.ElementsMatch(t, []string{a.ID, b.ID}, removed)
	_, ok := r.Lookup(c.ID)
	require.True(t, ok)
	require.Equal(t, 1, r.Count())
}

func TestEvictIdleOnceSkipsAttached(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	base := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return base }
	r.SetEvictionConfig(time.Minute, time.Second)

	idle, err := r.Create(ctx, "agent", "alice", "")
	require.NoError(t, err)
	busy, err := r.Create(ctx, "agent", "bob", "")
	require.NoError(t, err)
	_, err = r.Attach(busy.ID, func() {})
	require.NoError(t, err)

	require.Equal(t, 0, r.evictIdleOnce(base.Add(30*time.Second)))
	require.Equal(t, 1, r.evictIdleOnce(base.Add(2*time.Minute)))

	_, ok := r.Lookup(idle.ID)
	require.False(t, ok)
	_, ok = r.Lookup(busy.ID)
	require.True(t, ok)
}

func TestEvictIdleOnceNotifiesHooks(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	base := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return base }
	r.SetEvictionConfig(time.Minute, time.Second)

	var evicted []string
	r.OnEvict(func(id string) { evicted = append(evicted, id) })
	conn, err := r.Create(ctx, "agent", "alice", "s1")
	require.NoError(t, err)
	require.True(t, r.HasSession("s1"))

	require.Equal(t, 1, r.evictIdleOnce(base.Add(2*time.Minute)))
	require.Equal(t, []string{conn.ID}, evicted)
	require.False(t, r.HasSession("s1"))
}

func TestEvictionDisabledWithZeroTTL(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry()
	_, err := r.Create(ctx, "agent", "alice", "")
	require.NoError(t, err)
	require.Equal(t, 0, r.evictIdleOnce(time.Now().Add(24*time.Hour)))
}
