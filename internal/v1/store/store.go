// Package store persists room state, room metadata, users, sessions, and
// snapshots. Two backends exist: sqlite (default, single file on disk) and
// redis.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a unique constraint would be violated,
// e.g. registering a username that is already taken.
var ErrConflict = errors.New("store: conflict")

// User is a registered account.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Session is a logged-in browser session. Sessions expire server-side;
// the JWT handed to the client carries the same sid claim.
type Session struct {
	ID        string
	UserID    int64
	Username  string
	ExpiresAt time.Time
}

// RoomRecord is the durable metadata for a room, separate from its live
// whiteboard state.
type RoomRecord struct {
	ID        string
	Name      string
	OwnerID   int64
	JoinCode  string
	CreatedAt time.Time
}

// SnapshotMeta describes a named point-in-time copy of a room's state.
type SnapshotMeta struct {
	ID        int64
	RoomID    string
	Name      string
	Size      int64
	CreatedAt time.Time
}

// Store is the full persistence surface. The room actor only needs
// SaveRoom; the HTTP API uses the rest.
type Store interface {
	// Room state (the serialized whiteboard document).
	LoadRoom(ctx context.Context, roomID string) ([]byte, error)
	SaveRoom(ctx context.Context, roomID string, raw []byte) error

	// Room metadata.
	CreateRoom(ctx context.Context, rec RoomRecord) error
	GetRoom(ctx context.Context, roomID string) (RoomRecord, error)
	GetRoomByJoinCode(ctx context.Context, code string) (RoomRecord, error)
	ListRoomsForUser(ctx context.Context, userID int64) ([]RoomRecord, error)
	RenameRoom(ctx context.Context, roomID, name string) error
	DeleteRoom(ctx context.Context, roomID string) error

	// Users and sessions.
	CreateUser(ctx context.Context, username string, passwordHash []byte) (User, error)
	GetUserByName(ctx context.Context, username string) (User, error)
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, sid string) (Session, error)
	DeleteSession(ctx context.Context, sid string) error

	// Membership. The owner is implicitly a member.
	AddMember(ctx context.Context, roomID string, userID int64) error
	IsMember(ctx context.Context, roomID string, userID int64) (bool, error)

	// Snapshots.
	CreateSnapshot(ctx context.Context, roomID, name string, raw []byte) (SnapshotMeta, error)
	ListSnapshots(ctx context.Context, roomID string) ([]SnapshotMeta, error)
	LoadSnapshot(ctx context.Context, roomID string, snapshotID int64) ([]byte, error)

	// Health.
	Ping(ctx context.Context) error
	Close() error
}
