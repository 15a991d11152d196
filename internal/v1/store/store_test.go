package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both backends run the same conformance suite.

func newSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRedis(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client)
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newSQLite(t),
		"redis":  newRedis(t),
	}
}

func mustCreateUser(t *testing.T, s Store, name string) User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), name, []byte("$2a$10$hash"))
	require.NoError(t, err)
	return u
}

func mustCreateRoom(t *testing.T, s Store, owner User, id, code string) RoomRecord {
	t.Helper()
	rec := RoomRecord{
		ID: id, Name: "Board", OwnerID: owner.ID, JoinCode: code,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateRoom(context.Background(), rec))
	return rec
}

func TestRoomStateSaveLoad(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.LoadRoom(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			alice := mustCreateUser(t, s, "alice")
			mustCreateRoom(t, s, alice, "r1", "WARB-AAAAAA")

			require.NoError(t, s.SaveRoom(ctx, "r1", []byte(`{"room_id":"r1"}`)))
			raw, err := s.LoadRoom(ctx, "r1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"room_id":"r1"}`, string(raw))

			// Saves overwrite.
			require.NoError(t, s.SaveRoom(ctx, "r1", []byte(`{"room_id":"r1","version":2}`)))
			raw, err = s.LoadRoom(ctx, "r1")
			require.NoError(t, err)
			assert.Contains(t, string(raw), `"version":2`)
		})
	}
}

func TestUsersAndConflicts(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := mustCreateUser(t, s, "alice")
			assert.NotZero(t, u.ID)

			_, err := s.CreateUser(ctx, "alice", []byte("other"))
			assert.ErrorIs(t, err, ErrConflict)

			got, err := s.GetUserByName(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, u.ID, got.ID)
			assert.Equal(t, []byte("$2a$10$hash"), got.PasswordHash)

			_, err = s.GetUserByName(ctx, "nobody")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSessions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			u := mustCreateUser(t, s, "alice")

			sess := Session{
				ID: "sid-1", UserID: u.ID, Username: "alice",
				ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
			}
			require.NoError(t, s.CreateSession(ctx, sess))

			got, err := s.GetSession(ctx, "sid-1")
			require.NoError(t, err)
			assert.Equal(t, u.ID, got.UserID)
			assert.Equal(t, "alice", got.Username)

			require.NoError(t, s.DeleteSession(ctx, "sid-1"))
			_, err = s.GetSession(ctx, "sid-1")
			assert.ErrorIs(t, err, ErrNotFound)

			// Expired sessions are gone even if stored.
			expired := Session{
				ID: "sid-2", UserID: u.ID, Username: "alice",
				ExpiresAt: time.Now().Add(-time.Minute),
			}
			require.NoError(t, s.CreateSession(ctx, expired))
			_, err = s.GetSession(ctx, "sid-2")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRoomsAndMembership(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			alice := mustCreateUser(t, s, "alice")
			bob := mustCreateUser(t, s, "bob")
			rec := mustCreateRoom(t, s, alice, "room-1", "WARB-AAAAAA")

			got, err := s.GetRoom(ctx, "room-1")
			require.NoError(t, err)
			assert.Equal(t, rec.Name, got.Name)
			assert.Equal(t, alice.ID, got.OwnerID)

			byCode, err := s.GetRoomByJoinCode(ctx, "WARB-AAAAAA")
			require.NoError(t, err)
			assert.Equal(t, "room-1", byCode.ID)

			_, err = s.GetRoomByJoinCode(ctx, "WARB-ZZZZZZ")
			assert.ErrorIs(t, err, ErrNotFound)

			// Owner is implicitly a member.
			member, err := s.IsMember(ctx, "room-1", alice.ID)
			require.NoError(t, err)
			assert.True(t, member)

			member, err = s.IsMember(ctx, "room-1", bob.ID)
			require.NoError(t, err)
			assert.False(t, member)

			require.NoError(t, s.AddMember(ctx, "room-1", bob.ID))
			require.NoError(t, s.AddMember(ctx, "room-1", bob.ID), "idempotent")
			member, err = s.IsMember(ctx, "room-1", bob.ID)
			require.NoError(t, err)
			assert.True(t, member)

			rooms, err := s.ListRoomsForUser(ctx, bob.ID)
			require.NoError(t, err)
			require.Len(t, rooms, 1)
			assert.Equal(t, "room-1", rooms[0].ID)

			require.NoError(t, s.RenameRoom(ctx, "room-1", "Renamed"))
			got, err = s.GetRoom(ctx, "room-1")
			require.NoError(t, err)
			assert.Equal(t, "Renamed", got.Name)

			require.NoError(t, s.DeleteRoom(ctx, "room-1"))
			_, err = s.GetRoom(ctx, "room-1")
			assert.ErrorIs(t, err, ErrNotFound)
			rooms, err = s.ListRoomsForUser(ctx, bob.ID)
			require.NoError(t, err)
			assert.Empty(t, rooms)
		})
	}
}

func TestJoinCodeConflict(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			alice := mustCreateUser(t, s, "alice")
			mustCreateRoom(t, s, alice, "room-1", "WARB-AAAAAA")

			err := s.CreateRoom(context.Background(), RoomRecord{
				ID: "room-2", Name: "Dup", OwnerID: alice.ID,
				JoinCode: "WARB-AAAAAA", CreatedAt: time.Now(),
			})
			assert.ErrorIs(t, err, ErrConflict)
		})
	}
}

func TestSnapshots(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			alice := mustCreateUser(t, s, "alice")
			mustCreateRoom(t, s, alice, "room-1", "WARB-AAAAAA")

			m1, err := s.CreateSnapshot(ctx, "room-1", "first", []byte(`{"v":1}`))
			require.NoError(t, err)
			m2, err := s.CreateSnapshot(ctx, "room-1", "second", []byte(`{"v":22}`))
			require.NoError(t, err)
			assert.Greater(t, m2.ID, m1.ID)

			metas, err := s.ListSnapshots(ctx, "room-1")
			require.NoError(t, err)
			require.Len(t, metas, 2)
			assert.Equal(t, "second", metas[0].Name, "newest first")
			assert.Equal(t, int64(8), metas[0].Size)

			raw, err := s.LoadSnapshot(ctx, "room-1", m1.ID)
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":1}`, string(raw))

			_, err = s.LoadSnapshot(ctx, "room-1", 99999)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, s.Ping(context.Background()))
		})
	}
}
