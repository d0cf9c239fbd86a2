package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirhoevents/Chirhoevents-sub010/internal/status"
	"github.com/chirhoevents/Chirhoevents-sub010/models"
)

// These tests run the store scripts against a real command
// implementation, so the slot accounting, ordering and extension rules
// are exercised end to end instead of replayed from canned replies.

func newLiveStore(t *testing.T) *SessionStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	n := 0
	return &SessionStore{
		Redis: client,
		newID: func() string {
			n++
			return fmt.Sprintf("sess-%d", n)
		},
	}
}

func TestScripts_CapacityIsNeverExceeded(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()
	cfg := testQueueConfig() // capacity 2
	now := time.Unix(1700000000, 0)

	a, err := store.CheckIn(ctx, cfg, "client-a", now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, a.Status)
	assert.True(t, a.Admitted)
	assert.Equal(t, now.Add(20*time.Minute).Unix(), a.ExpiresAt.Unix())

	b, err := store.CheckIn(ctx, cfg, "client-b", now)
	require.NoError(t, err)
	assert.True(t, b.Admitted)

	// Both slots taken: the third client queues at position 1.
	c, err := store.CheckIn(ctx, cfg, "client-c", now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, c.Status)
	assert.False(t, c.Admitted)
	assert.Equal(t, 1, c.Position)

	waiting, active, err := store.Counts(ctx, "evt1", "general")
	require.NoError(t, err)
	assert.Equal(t, int64(1), waiting)
	assert.Equal(t, int64(2), active)

	// Re-checking while queued keeps the position and the session.
	again, err := store.CheckIn(ctx, cfg, "client-c", now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, again.Status)
	assert.Equal(t, 1, again.Position)
	assert.Equal(t, c.SessionID, again.SessionID)
}

func TestScripts_CompleteThenSweepPromotesOldestWaiter(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()
	cfg := testQueueConfig() // capacity 2
	now := time.Unix(1700000000, 0)

	for _, client := range []string{"client-a", "client-b"} {
		out, err := store.CheckIn(ctx, cfg, client, now)
		require.NoError(t, err)
		require.True(t, out.Admitted)
	}
	for i, client := range []string{"client-c", "client-d"} {
		out, err := store.CheckIn(ctx, cfg, client, now)
		require.NoError(t, err)
		require.Equal(t, i+1, out.Position)
	}

	released, err := store.Complete(ctx, "evt1", "general", "client-a", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, released)

	// One slot freed: exactly the longest-waiting client moves up.
	result, err := store.Sweep(ctx, cfg, 2*time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, result.Expired)
	assert.Empty(t, result.Abandoned)
	assert.Equal(t, []string{"client-c"}, result.Promoted)

	sess, err := store.Session(ctx, "evt1", "general", "client-c")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, sess.Status)
	assert.Equal(t, now.Add(time.Minute+20*time.Minute).Unix(), sess.ExpiresAt.Unix())

	d, err := store.CheckIn(ctx, cfg, "client-d", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, d.Status)
	assert.Equal(t, 1, d.Position)

	terminal, err := store.DrainTerminal(ctx, 10)
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	assert.Equal(t, "client-a", terminal[0].ClientKey)
	assert.Equal(t, models.StatusCompleted, terminal[0].Status)
	assert.Equal(t, now.Add(time.Minute).Unix(), terminal[0].EndedAt)
}

func TestScripts_ExtendAddsFixedDurationExactlyOnce(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()
	cfg := testQueueConfig()
	now := time.Unix(1700000000, 0)

	out, err := store.CheckIn(ctx, cfg, "client-a", now)
	require.NoError(t, err)
	require.True(t, out.Admitted)

	newExpires, err := store.Extend(ctx, "evt1", "general", "client-a", 5*time.Minute, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, now.Add(25*time.Minute).Unix(), newExpires.Unix())

	sess, err := store.Session(ctx, "evt1", "general", "client-a")
	require.NoError(t, err)
	assert.True(t, sess.ExtensionUsed)
	assert.Equal(t, newExpires.Unix(), sess.ExpiresAt.Unix())

	_, err = store.Extend(ctx, "evt1", "general", "client-a", 5*time.Minute, now.Add(11*time.Minute))
	assert.ErrorIs(t, err, status.ErrExtensionAlreadyUsed)

	// The extended deadline survives a re-check.
	again, err := store.CheckIn(ctx, cfg, "client-a", now.Add(12*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, again.Status)
	assert.False(t, again.Admitted)
	assert.Equal(t, newExpires.Unix(), again.ExpiresAt.Unix())
	assert.True(t, again.ExtensionUsed)
}

func TestScripts_ExpiredActiveIsReclaimedOnRecheck(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()
	cfg := testQueueConfig()
	cfg.MaxActive = 1
	now := time.Unix(1700000000, 0)

	out, err := store.CheckIn(ctx, cfg, "client-a", now)
	require.NoError(t, err)
	require.True(t, out.Admitted)

	b, err := store.CheckIn(ctx, cfg, "client-b", now)
	require.NoError(t, err)
	require.Equal(t, 1, b.Position)

	// Past its deadline the client is never observed active again: the
	// check lazily expires it and re-enqueues it behind the line.
	later := now.Add(cfg.SessionDuration + time.Second)
	again, err := store.CheckIn(ctx, cfg, "client-a", later)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, again.Status)
	assert.Equal(t, 2, again.Position)

	waiting, active, err := store.Counts(ctx, "evt1", "general")
	require.NoError(t, err)
	assert.Equal(t, int64(2), waiting)
	assert.Equal(t, int64(0), active)

	terminal, err := store.DrainTerminal(ctx, 10)
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	assert.Equal(t, "client-a", terminal[0].ClientKey)
	assert.Equal(t, models.StatusExpired, terminal[0].Status)

	// The freed slot goes to the head of the line, in order.
	result, err := store.Sweep(ctx, cfg, 2*time.Hour, later)
	require.NoError(t, err)
	assert.Equal(t, []string{"client-b"}, result.Promoted)
}

func TestScripts_ExtendArchivesExpiredSession(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()
	cfg := testQueueConfig()
	cfg.MaxActive = 1
	now := time.Unix(1700000000, 0)

	out, err := store.CheckIn(ctx, cfg, "client-a", now)
	require.NoError(t, err)
	require.True(t, out.Admitted)

	later := now.Add(cfg.SessionDuration + time.Second)
	_, err = store.Extend(ctx, "evt1", "general", "client-a", 5*time.Minute, later)
	assert.ErrorIs(t, err, status.ErrSessionExpired)

	// The failed extend reclaimed the slot right away.
	_, err = store.Session(ctx, "evt1", "general", "client-a")
	assert.ErrorIs(t, err, status.ErrSessionNotFound)

	_, active, err := store.Counts(ctx, "evt1", "general")
	require.NoError(t, err)
	assert.Equal(t, int64(0), active)

	terminal, err := store.DrainTerminal(ctx, 10)
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	assert.Equal(t, models.StatusExpired, terminal[0].Status)

	next, err := store.CheckIn(ctx, cfg, "client-b", later)
	require.NoError(t, err)
	assert.True(t, next.Admitted)
}

func TestScripts_SilentWaiterIsAbandoned(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()
	cfg := testQueueConfig()
	cfg.MaxActive = 1
	now := time.Unix(1700000000, 0)

	out, err := store.CheckIn(ctx, cfg, "client-a", now)
	require.NoError(t, err)
	require.True(t, out.Admitted)

	c, err := store.CheckIn(ctx, cfg, "client-c", now)
	require.NoError(t, err)
	require.Equal(t, 1, c.Position)

	// Three minutes of silence against a two-minute grace window.
	result, err := store.Sweep(ctx, cfg, 2*time.Minute, now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, result.Expired)
	assert.Equal(t, []string{"client-c"}, result.Abandoned)
	assert.Empty(t, result.Promoted)

	terminal, err := store.DrainTerminal(ctx, 10)
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	assert.Equal(t, "client-c", terminal[0].ClientKey)
	assert.Equal(t, models.StatusAbandoned, terminal[0].Status)
}
