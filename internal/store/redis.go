package store

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/deskchat/internal/models"
)

const (
	clientsOnlineKey  = "clients_online"
	analystsOnlineKey = "analysts_online"
	cursorKey         = "current_analyst"

	scanCount = 100
)

// SentinelMember is inserted at score 0 so a room log is never empty. It can
// not be stored as a message since that would move it.
const SentinelMember = "0"

// ErrSubscriptionClosed is returned by Receive once the subscription is closed.
var ErrSubscriptionClosed = errors.New("subscription closed")

// RedisStore handles Redis operations for presence, room logs and relay channels.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	client.AddHook(latencyHook{})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for middleware that needs raw access.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// AddClient marks a client online. Adding an online client is a no-op.
func (s *RedisStore) AddClient(ctx context.Context, nickname string) error {
	return s.client.SAdd(ctx, clientsOnlineKey, nickname).Err()
}

// RemoveClient marks a client offline.
func (s *RedisStore) RemoveClient(ctx context.Context, nickname string) error {
	return s.client.SRem(ctx, clientsOnlineKey, nickname).Err()
}

// IsClientOnline reports whether the client is in the online set.
func (s *RedisStore) IsClientOnline(ctx context.Context, nickname string) (bool, error) {
	return s.client.SIsMember(ctx, clientsOnlineKey, nickname).Result()
}

// Clients lists the online clients.
func (s *RedisStore) Clients(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, clientsOnlineKey).Result()
}

// UpsertAnalyst adds an analyst to the ordered online set, or moves an
// already online analyst to joinedAt.
func (s *RedisStore) UpsertAnalyst(ctx context.Context, nickname string, joinedAt time.Time) error {
	return s.client.ZAdd(ctx, analystsOnlineKey, redis.Z{
		Score:  float64(joinedAt.UnixMicro()),
		Member: nickname,
	}).Err()
}

// RemoveAnalyst removes an analyst and reports whether it was online.
func (s *RedisStore) RemoveAnalyst(ctx context.Context, nickname string) (bool, error) {
	n, err := s.client.ZRem(ctx, analystsOnlineKey, nickname).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AnalystCount returns the number of online analysts.
func (s *RedisStore) AnalystCount(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, analystsOnlineKey).Result()
}

// AnalystAt returns the analyst at rank idx in join order, or "" when the
// rank is out of range.
func (s *RedisStore) AnalystAt(ctx context.Context, idx int64) (string, error) {
	members, err := s.client.ZRange(ctx, analystsOnlineKey, idx, idx).Result()
	if err != nil {
		return "", err
	}
	if len(members) == 0 {
		return "", nil
	}
	return members[0], nil
}

// Analysts lists online analysts in join order.
func (s *RedisStore) Analysts(ctx context.Context) ([]models.Presence, error) {
	results, err := s.client.ZRangeWithScores(ctx, analystsOnlineKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	analysts := make([]models.Presence, 0, len(results))
	for _, z := range results {
		nickname, ok := z.Member.(string)
		if !ok {
			continue
		}
		analysts = append(analysts, models.Presence{
			Nickname: nickname,
			Role:     models.RoleAnalyst,
			JoinedAt: time.UnixMicro(int64(z.Score)).UTC(),
		})
	}
	return analysts, nil
}

// InitCursor creates the assignment cursor at 0 unless it already exists.
func (s *RedisStore) InitCursor(ctx context.Context) error {
	return s.client.SetNX(ctx, cursorKey, 0, 0).Err()
}

// AdvanceCursor atomically increments the assignment cursor.
func (s *RedisStore) AdvanceCursor(ctx context.Context) (int64, error) {
	return s.client.Incr(ctx, cursorKey).Result()
}

// ResetCursor sets the assignment cursor back to 0.
func (s *RedisStore) ResetCursor(ctx context.Context) error {
	return s.client.Set(ctx, cursorKey, 0, 0).Err()
}

// ClearCursor deletes the assignment cursor.
func (s *RedisStore) ClearCursor(ctx context.Context) error {
	return s.client.Del(ctx, cursorKey).Err()
}

// Cursor returns the current cursor value and whether it exists.
func (s *RedisStore) Cursor(ctx context.Context) (int64, bool, error) {
	v, err := s.client.Get(ctx, cursorKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// Rooms returns the ids of all room logs matching pattern. SCAN may yield a
// key more than once, so each id is returned once.
func (s *RedisStore) Rooms(ctx context.Context, pattern string) ([]string, error) {
	var rooms []string
	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		rooms = append(rooms, key)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return rooms, nil
}

// CreateRoom inserts the sentinel entry only if the room log does not hold
// one yet. It reports whether this call created the room.
func (s *RedisStore) CreateRoom(ctx context.Context, roomID string) (bool, error) {
	n, err := s.client.ZAddNX(ctx, roomID, redis.Z{
		Score:  0,
		Member: SentinelMember,
	}).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RoomExists reports whether the room log key is present.
func (s *RedisStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	n, err := s.client.Exists(ctx, roomID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendEntry stores a relayed payload in the room log scored by arrival
// time in seconds.
func (s *RedisStore) AppendEntry(ctx context.Context, roomID, value string, at time.Time) error {
	return s.client.ZAdd(ctx, roomID, redis.Z{
		Score:  float64(at.Unix()),
		Member: value,
	}).Err()
}

// RoomEntries returns every entry after the sentinel in score order.
func (s *RedisStore) RoomEntries(ctx context.Context, roomID string) ([]models.LogEntry, error) {
	results, err := s.client.ZRangeWithScores(ctx, roomID, 1, -1).Result()
	if err != nil {
		return nil, err
	}
	return toLogEntries(results), nil
}

// PopRoomEntries reads and trims everything after the sentinel inside one
// MULTI/EXEC block, so no entry can land between the read and the trim.
func (s *RedisStore) PopRoomEntries(ctx context.Context, roomID string) ([]models.LogEntry, error) {
	var rangeCmd *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.ZRangeWithScores(ctx, roomID, 1, -1)
		pipe.ZRemRangeByRank(ctx, roomID, 1, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toLogEntries(rangeCmd.Val()), nil
}

// DeleteRooms removes room logs.
func (s *RedisStore) DeleteRooms(ctx context.Context, roomIDs ...string) error {
	if len(roomIDs) == 0 {
		return nil
	}
	return s.client.Unlink(ctx, roomIDs...).Err()
}

func toLogEntries(results []redis.Z) []models.LogEntry {
	entries := make([]models.LogEntry, 0, len(results))
	for _, z := range results {
		value, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, models.LogEntry{Value: value, Score: z.Score})
	}
	return entries
}

// Publish emits payload on a channel.
func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Subscribe subscribes to channel and waits for the server to confirm, so
// anything published after it returns is delivered.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return &Subscription{ps: ps}, nil
}

// Subscription is a live channel subscription.
type Subscription struct {
	ps     *redis.PubSub
	closed atomic.Bool
}

// Receive blocks until the next payload arrives. After Close it returns
// ErrSubscriptionClosed.
func (s *Subscription) Receive(ctx context.Context) (string, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		if s.closed.Load() {
			return "", ErrSubscriptionClosed
		}
		return "", err
	}
	return msg.Payload, nil
}

// Close unsubscribes and releases the connection. It is safe to call twice.
func (s *Subscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.ps.Close()
}
