package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"live_spaces/internal/domain"
	"live_spaces/pkg/logger"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func boolPtr(b bool) *bool { return &b }

func TestPresenceRepository_ApplyMergesPerField(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewPresenceRepository(rdb, time.Hour, logger.Nop())
	ctx := context.Background()
	spaceID := uuid.New()
	base := time.Now()

	_, changed, err := repo.Apply(ctx, spaceID, domain.PresenceUpdate{
		UserID: "u1", Muted: boolPtr(false), Online: boolPtr(true), At: base,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	// older write to muted loses, newer write to has_video wins
	state, changed, err := repo.Apply(ctx, spaceID, domain.PresenceUpdate{
		UserID: "u1", Muted: boolPtr(true), At: base.Add(-time.Second),
	})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, state.Muted)

	state, changed, err = repo.Apply(ctx, spaceID, domain.PresenceUpdate{
		UserID: "u1", HasVideo: boolPtr(true), At: base.Add(time.Second),
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, state.HasVideo)
	assert.False(t, state.Muted)
	assert.True(t, state.Online)

	assert.True(t, mr.Exists(presenceKey(spaceID)))
	assert.Greater(t, mr.TTL(presenceKey(spaceID)), time.Duration(0))
}

func TestPresenceRepository_DuplicateUpdateIsNoop(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewPresenceRepository(rdb, time.Hour, logger.Nop())
	ctx := context.Background()
	spaceID := uuid.New()

	u := domain.PresenceUpdate{UserID: "u1", Muted: boolPtr(false), At: time.Now()}
	_, first, err := repo.Apply(ctx, spaceID, u)
	require.NoError(t, err)
	_, second, err := repo.Apply(ctx, spaceID, u)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func TestPresenceRepository_SnapshotSorted(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewPresenceRepository(rdb, time.Hour, logger.Nop())
	ctx := context.Background()
	spaceID := uuid.New()

	for _, id := range []string{"carol", "alice", "bob"} {
		_, _, err := repo.Apply(ctx, spaceID, domain.PresenceUpdate{UserID: id, Online: boolPtr(true), At: time.Now()})
		require.NoError(t, err)
	}

	states, err := repo.Snapshot(ctx, spaceID)
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.Equal(t, "alice", states[0].UserID)
	assert.Equal(t, "bob", states[1].UserID)
	assert.Equal(t, "carol", states[2].UserID)
	assert.True(t, states[0].Muted, "muted by default")
}

func TestPresenceRepository_SubscribeReceivesUpdatesAndEnd(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewPresenceRepository(rdb, time.Hour, logger.Nop())
	ctx := context.Background()
	spaceID := uuid.New()

	feed, err := repo.Subscribe(ctx, spaceID)
	require.NoError(t, err)
	defer feed.Close()

	_, _, err = repo.Apply(ctx, spaceID, domain.PresenceUpdate{UserID: "u1", HasVideo: boolPtr(true), At: time.Now()})
	require.NoError(t, err)

	select {
	case ev := <-feed.Events():
		assert.Equal(t, PresenceEventUpdate, ev.Type)
		require.NotNil(t, ev.State)
		assert.Equal(t, "u1", ev.State.UserID)
		assert.True(t, ev.State.HasVideo)
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}

	require.NoError(t, repo.Clear(ctx, spaceID))

	select {
	case ev := <-feed.Events():
		assert.Equal(t, PresenceEventEnded, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no end event received")
	}

	states, err := repo.Snapshot(ctx, spaceID)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestPresenceFeed_CloseIsIdempotent(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewPresenceRepository(rdb, time.Hour, logger.Nop())

	feed, err := repo.Subscribe(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.NoError(t, feed.Close())
	assert.NoError(t, feed.Close())
}
