package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/deskchat/internal/models"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr()+"?protocol=2")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestCreateRoomIsCreateIfAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateRoom(ctx, "room:alice:bob")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateRoom(ctx, "room:alice:bob")
	require.NoError(t, err)
	assert.False(t, created)

	exists, err := s.RoomExists(ctx, "room:alice:bob")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateRoomSendsZAddNX(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStoreFromClient(client)

	mock.ExpectZAddNX("room:alice:bob", redis.Z{Score: 0, Member: "0"}).SetVal(0)

	created, err := s.CreateRoom(context.Background(), "room:alice:bob")
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomsDropsRepeatedScanKeys(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStoreFromClient(client)

	pattern := models.ClientRoomPattern("bob")
	mock.ExpectScan(0, pattern, scanCount).SetVal([]string{"room:alice:bob"}, 7)
	mock.ExpectScan(7, pattern, scanCount).SetVal([]string{"room:alice:bob"}, 0)

	rooms, err := s.Rooms(context.Background(), pattern)
	require.NoError(t, err)
	assert.Equal(t, []string{"room:alice:bob"}, rooms)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomEntriesSkipSentinel(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	room := "room:alice:bob"

	_, err := s.CreateRoom(ctx, room)
	require.NoError(t, err)

	base := time.Unix(1700000000, 0)
	require.NoError(t, s.AppendEntry(ctx, room, `{"bob":"m1"}`, base))
	require.NoError(t, s.AppendEntry(ctx, room, `{"alice":"m2"}`, base.Add(time.Second)))
	require.NoError(t, s.AppendEntry(ctx, room, `{"bob":"m3"}`, base.Add(2*time.Second)))

	entries, err := s.RoomEntries(ctx, room)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, `{"bob":"m1"}`, entries[0].Value)
	assert.Equal(t, float64(1700000000), entries[0].Score)
	assert.Equal(t, `{"bob":"m3"}`, entries[2].Value)

	// Reading is non-destructive.
	again, err := s.RoomEntries(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, entries, again)
}

func TestPopRoomEntriesKeepsSentinel(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	room := "room:alice:bob"

	_, err := s.CreateRoom(ctx, room)
	require.NoError(t, err)
	require.NoError(t, s.AppendEntry(ctx, room, `{"bob":"m1"}`, time.Unix(10, 0)))
	require.NoError(t, s.AppendEntry(ctx, room, `{"bob":"m2"}`, time.Unix(11, 0)))

	popped, err := s.PopRoomEntries(ctx, room)
	require.NoError(t, err)
	require.Len(t, popped, 2)
	assert.Equal(t, `{"bob":"m1"}`, popped[0].Value)

	rest, err := s.RoomEntries(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, rest)

	members, err := mr.ZMembers(room)
	require.NoError(t, err)
	assert.Equal(t, []string{"0"}, members)
}

func TestRoomsByPattern(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"room:alice:bob", "room:alice:carol", "room:dave:erin"} {
		_, err := s.CreateRoom(ctx, id)
		require.NoError(t, err)
	}

	rooms, err := s.Rooms(ctx, models.AnalystRoomPattern("alice"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"room:alice:bob", "room:alice:carol"}, rooms)

	rooms, err = s.Rooms(ctx, models.ClientRoomPattern("erin"))
	require.NoError(t, err)
	assert.Equal(t, []string{"room:dave:erin"}, rooms)

	require.NoError(t, s.DeleteRooms(ctx, "room:alice:bob", "room:alice:carol"))
	rooms, err = s.Rooms(ctx, models.AnalystRoomPattern("alice"))
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestAnalystOrderingAndCursor(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0)

	require.NoError(t, s.UpsertAnalyst(ctx, "zed", t0))
	require.NoError(t, s.UpsertAnalyst(ctx, "amy", t0.Add(time.Second)))

	first, err := s.AnalystAt(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "zed", first)

	missing, err := s.AnalystAt(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, missing)

	analysts, err := s.Analysts(ctx)
	require.NoError(t, err)
	require.Len(t, analysts, 2)
	assert.Equal(t, "amy", analysts[1].Nickname)
	assert.True(t, analysts[1].JoinedAt.Equal(t0.Add(time.Second)))

	require.NoError(t, s.InitCursor(ctx))
	n, err := s.AdvanceCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A second init must not reset a cursor in use.
	require.NoError(t, s.InitCursor(ctx))
	cur, ok, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), cur)

	require.NoError(t, s.ClearCursor(ctx))
	_, ok, err = s.Cursor(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := s.RemoveAnalyst(ctx, "zed")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveAnalyst(ctx, "zed")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPublishSubscribe(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "room:alice:bob")
	require.NoError(t, err)

	require.NoError(t, s.Publish(ctx, "room:alice:bob", `{"bob":"hello"}`))

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	payload, err := sub.Receive(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, `{"bob":"hello"}`, payload)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, err = sub.Receive(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestSessions(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	id := "4b0c7f3e-1111-4222-8333-944445555666"
	require.NoError(t, s.CreateSession(ctx, id, models.Identity{Nickname: "bob", Role: models.RoleClient}, time.Hour))

	got, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.Identity{Nickname: "bob", Role: models.RoleClient}, *got)
	assert.Equal(t, time.Hour, mr.TTL(sessionKey(id)))

	require.NoError(t, s.DeleteSession(ctx, id))
	got, err = s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClientPresence(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddClient(ctx, "bob"))
	require.NoError(t, s.AddClient(ctx, "bob"))

	clients, err := s.Clients(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, clients)

	require.NoError(t, s.RemoveClient(ctx, "bob"))
	online, err := s.IsClientOnline(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, online)
}
