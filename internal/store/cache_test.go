package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedReadThrough(t *testing.T) {
	inner := newTestStore(t)
	c := NewCached(inner, 0)
	ctx := context.Background()

	u := seedUser(t, inner, "alice@example.com")
	ev := seedEvent(t, inner, u.ID, "meeting", time.Now().Truncate(time.Second))

	got, err := c.EventByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "meeting", got.Title)
	assert.Equal(t, 1, c.Len())

	// Mutate the returned copy; the cache must not observe it.
	got.Title = "scribbled on"
	again, err := c.EventByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "meeting", again.Title)
}

func TestCachedServesStaleUntilEvicted(t *testing.T) {
	inner := newTestStore(t)
	c := NewCached(inner, 0)
	ctx := context.Background()

	u := seedUser(t, inner, "alice@example.com")
	ev := seedEvent(t, inner, u.ID, "before", time.Now().Truncate(time.Second))

	_, err := c.EventByID(ctx, ev.ID)
	require.NoError(t, err)

	// Write behind the cache's back.
	ev.Title = "after"
	require.NoError(t, inner.UpdateEvent(ctx, ev))

	stale, err := c.EventByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "before", stale.Title)

	// A write through the cache evicts and the next read is fresh.
	ev.Title = "final"
	require.NoError(t, c.UpdateEvent(ctx, ev))
	fresh, err := c.EventByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", fresh.Title)
}

func TestCachedCommitSentEvictsWholeSet(t *testing.T) {
	inner := newTestStore(t)
	c := NewCached(inner, 0)
	ctx := context.Background()

	u := seedUser(t, inner, "alice@example.com")
	now := time.Now().Truncate(time.Second)
	a := seedEvent(t, inner, u.ID, "a", now.Add(-time.Minute))
	b := seedEvent(t, inner, u.ID, "b", now.Add(-time.Minute))

	_, err := c.EventByID(ctx, a.ID)
	require.NoError(t, err)
	_, err = c.EventByID(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	// b already transitioned, so the bulk commit only counts a. Both ids
	// must still be evicted.
	_, err = inner.CommitSent(ctx, []int64{b.ID}, now)
	require.NoError(t, err)
	n, err := c.CommitSent(ctx, []int64{a.ID, b.ID}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, c.Len())

	got, err := c.EventByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.ReminderSent)
}

func TestCachedDeleteEvicts(t *testing.T) {
	inner := newTestStore(t)
	c := NewCached(inner, 0)
	ctx := context.Background()

	u := seedUser(t, inner, "alice@example.com")
	ev := seedEvent(t, inner, u.ID, "gone soon", time.Now())

	_, err := c.EventByID(ctx, ev.ID)
	require.NoError(t, err)
	require.NoError(t, c.DeleteEvent(ctx, ev.ID))
	assert.Equal(t, 0, c.Len())

	_, err = c.EventByID(ctx, ev.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedCapBound(t *testing.T) {
	inner := newTestStore(t)
	c := NewCached(inner, 2)
	ctx := context.Background()

	u := seedUser(t, inner, "alice@example.com")
	now := time.Now()
	for i := 0; i < 4; i++ {
		ev := seedEvent(t, inner, u.ID, "ev", now)
		_, err := c.EventByID(ctx, ev.ID)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, c.Len(), 2)
}
