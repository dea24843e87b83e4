// Package presence tracks which users are live in a room across server
// instances and publishes room lifecycle events for other services.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"codecollab/internal/models"
)

// EventsChannel is the Redis pub/sub channel carrying models.RoomEvent JSON.
const EventsChannel = "collab:events"

type Tracker interface {
	Join(ctx context.Context, roomID, username string) error
	Leave(ctx context.Context, roomID, username string) error
	Online(ctx context.Context, roomID string) ([]string, error)
	Refresh(ctx context.Context, roomIDs []string) error
	Publish(ctx context.Context, ev models.RoomEvent) error
	Close() error
}

func presenceKey(roomID string) string {
	return fmt.Sprintf("presence:%s", roomID)
}

// RedisTracker keeps a per-room hash of username -> open connection count.
// Hashes expire after ttl unless refreshed, so a crashed instance's entries
// eventually disappear.
type RedisTracker struct {
	rdb        *redis.Client
	ttl        time.Duration
	instanceID string
}

func NewRedisTracker(addr string, ttl time.Duration) *RedisTracker {
	return NewRedisTrackerWithClient(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

func NewRedisTrackerWithClient(rdb *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisTracker{rdb: rdb, ttl: ttl, instanceID: uuid.New().String()}
}

func (t *RedisTracker) InstanceID() string { return t.instanceID }

func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}

func (t *RedisTracker) Join(ctx context.Context, roomID, username string) error {
	key := presenceKey(roomID)
	pipe := t.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, username, 1)
	pipe.Expire(ctx, key, t.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *RedisTracker) Leave(ctx context.Context, roomID, username string) error {
	key := presenceKey(roomID)
	n, err := t.rdb.HIncrBy(ctx, key, username, -1).Result()
	if err != nil {
		return err
	}
	if n <= 0 {
		return t.rdb.HDel(ctx, key, username).Err()
	}
	return nil
}

func (t *RedisTracker) Online(ctx context.Context, roomID string) ([]string, error) {
	entries, err := t.rdb.HGetAll(ctx, presenceKey(roomID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for name, raw := range entries {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (t *RedisTracker) Refresh(ctx context.Context, roomIDs []string) error {
	if len(roomIDs) == 0 {
		return nil
	}
	pipe := t.rdb.Pipeline()
	for _, id := range roomIDs {
		pipe.Expire(ctx, presenceKey(id), t.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (t *RedisTracker) Publish(ctx context.Context, ev models.RoomEvent) error {
	ev.Instance = t.instanceID
	if ev.At == "" {
		ev.At = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return t.rdb.Publish(ctx, EventsChannel, payload).Err()
}

// Subscribe delivers room events published by other instances to fn until
// ctx is done. Malformed payloads are skipped.
func (t *RedisTracker) Subscribe(ctx context.Context, fn func(models.RoomEvent)) error {
	sub := t.rdb.Subscribe(ctx, EventsChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", EventsChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			if ev.Instance == t.instanceID {
				continue
			}
			fn(ev)
		}
	}
}

func (t *RedisTracker) Close() error { return t.rdb.Close() }

// LocalTracker is the single-instance fallback used when Redis is not
// configured. Published events are dropped.
type LocalTracker struct {
	mu    sync.Mutex
	rooms map[string]map[string]int
}

func NewLocalTracker() *LocalTracker {
	return &LocalTracker{rooms: make(map[string]map[string]int)}
}

func (t *LocalTracker) Join(_ context.Context, roomID, username string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.rooms[roomID]
	if !ok {
		users = make(map[string]int)
		t.rooms[roomID] = users
	}
	users[username]++
	return nil
}

func (t *LocalTracker) Leave(_ context.Context, roomID, username string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.rooms[roomID]
	if users == nil {
		return nil
	}
	if users[username]--; users[username] <= 0 {
		delete(users, username)
	}
	if len(users) == 0 {
		delete(t.rooms, roomID)
	}
	return nil
}

func (t *LocalTracker) Online(_ context.Context, roomID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.rooms[roomID]))
	for name := range t.rooms[roomID] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (t *LocalTracker) Refresh(context.Context, []string) error       { return nil }
func (t *LocalTracker) Publish(context.Context, models.RoomEvent) error { return nil }
func (t *LocalTracker) Close() error                                    { return nil }
