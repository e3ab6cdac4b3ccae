package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"live_spaces/internal/domain"
	"live_spaces/pkg/logger"
)

const (
	PresenceKeyPrefix = "presence:space:%s"

	presenceMaxRetries = 8
)

const (
	PresenceEventUpdate = "update"
	PresenceEventEnded  = "ended"
)

// PresenceEvent is what travels on the space's pub/sub channel.
type PresenceEvent struct {
	Type  string                `json:"type"`
	State *domain.PresenceState `json:"state,omitempty"`
}

// PresenceRepository keeps one redis hash per space, field = user id,
// value = JSON encoded domain.PresenceState. Every accepted change is also
// published on a channel of the same name.
type PresenceRepository interface {
	Apply(ctx context.Context, spaceID uuid.UUID, update domain.PresenceUpdate) (domain.PresenceState, bool, error)
	Snapshot(ctx context.Context, spaceID uuid.UUID) ([]domain.PresenceState, error)
	Clear(ctx context.Context, spaceID uuid.UUID) error
	Subscribe(ctx context.Context, spaceID uuid.UUID) (*PresenceFeed, error)
}

type presenceRepository struct {
	rdb *redis.Client
	ttl time.Duration
	log logger.Logger
}

func NewPresenceRepository(rdb *redis.Client, ttl time.Duration, log logger.Logger) PresenceRepository {
	return &presenceRepository{rdb: rdb, ttl: ttl, log: log}
}

func presenceKey(spaceID uuid.UUID) string {
	return fmt.Sprintf(PresenceKeyPrefix, spaceID.String())
}

// Apply merges update into the stored state under WATCH/MULTI so concurrent
// writers for the same space never lose each other's fields.
func (r *presenceRepository) Apply(ctx context.Context, spaceID uuid.UUID, update domain.PresenceUpdate) (domain.PresenceState, bool, error) {
	key := presenceKey(spaceID)

	var (
		state   domain.PresenceState
		changed bool
		payload []byte
	)

	txf := func(tx *redis.Tx) error {
		state = domain.NewPresenceState(update.UserID)
		changed = false

		raw, err := tx.HGet(ctx, key, update.UserID).Bytes()
		switch {
		case err == nil:
			if err := json.Unmarshal(raw, &state); err != nil {
				r.log.Warn("Dropping corrupt presence entry", "error", err, "space_id", spaceID, "user_id", update.UserID)
				state = domain.NewPresenceState(update.UserID)
			}
		case errors.Is(err, redis.Nil):
		default:
			return err
		}

		if !state.Apply(update) {
			return nil
		}
		changed = true

		payload, err = json.Marshal(state)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, update.UserID, payload)
			pipe.Expire(ctx, key, r.ttl)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < presenceMaxRetries; i++ {
		err = r.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		r.log.Error("Failed to apply presence update", "error", err, "space_id", spaceID)
		return domain.PresenceState{}, false, err
	}

	if changed {
		r.publish(ctx, spaceID, PresenceEvent{Type: PresenceEventUpdate, State: &state})
	}
	return state, changed, nil
}

func (r *presenceRepository) Snapshot(ctx context.Context, spaceID uuid.UUID) ([]domain.PresenceState, error) {
	entries, err := r.rdb.HGetAll(ctx, presenceKey(spaceID)).Result()
	if err != nil {
		r.log.Error("Failed to read presence", "error", err, "space_id", spaceID)
		return nil, err
	}

	states := make([]domain.PresenceState, 0, len(entries))
	for userID, raw := range entries {
		var s domain.PresenceState
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			r.log.Warn("Skipping corrupt presence entry", "error", err, "user_id", userID)
			continue
		}
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].UserID < states[j].UserID })
	return states, nil
}

func (r *presenceRepository) Clear(ctx context.Context, spaceID uuid.UUID) error {
	if err := r.rdb.Del(ctx, presenceKey(spaceID)).Err(); err != nil {
		r.log.Error("Failed to clear presence", "error", err, "space_id", spaceID)
		return err
	}
	r.publish(ctx, spaceID, PresenceEvent{Type: PresenceEventEnded})
	return nil
}

func (r *presenceRepository) publish(ctx context.Context, spaceID uuid.UUID, ev PresenceEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.rdb.Publish(ctx, presenceKey(spaceID), data).Err(); err != nil {
		// subscribers catch up from the next snapshot
		r.log.Warn("Failed to publish presence event", "error", err, "space_id", spaceID)
	}
}

func (r *presenceRepository) Subscribe(ctx context.Context, spaceID uuid.UUID) (*PresenceFeed, error) {
	ps := r.rdb.Subscribe(ctx, presenceKey(spaceID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}

	feed := &PresenceFeed{
		ps:     ps,
		events: make(chan PresenceEvent, 32),
		done:   make(chan struct{}),
		log:    r.log.With("space_id", spaceID),
	}
	go feed.run()
	return feed, nil
}

// PresenceFeed is a live subscription to one space's presence channel.
type PresenceFeed struct {
	ps     *redis.PubSub
	events chan PresenceEvent
	done   chan struct{}
	log    logger.Logger
	once   sync.Once
}

func (f *PresenceFeed) Events() <-chan PresenceEvent {
	return f.events
}

func (f *PresenceFeed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.ps.Close()
	})
	return err
}

func (f *PresenceFeed) run() {
	defer close(f.events)
	for msg := range f.ps.Channel() {
		var ev PresenceEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			f.log.Warn("Bad presence event", "error", err)
			continue
		}
		select {
		case f.events <- ev:
		case <-f.done:
			return
		}
	}
}
