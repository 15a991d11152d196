package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash BLOB NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	username   TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	owner_id   INTEGER NOT NULL REFERENCES users(id),
	join_code  TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS room_states (
	room_id    TEXT PRIMARY KEY REFERENCES rooms(id) ON DELETE CASCADE,
	state      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id    TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	state      BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_room ON snapshots(room_id, id);
`

// SQLiteStore implements Store on a single sqlite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database under dataDir and
// applies the schema.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	path := filepath.Join(dataDir, "warboard.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent flushes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	slog.Info("Opened sqlite store", "path", path)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LoadRoom(ctx context.Context, roomID string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM room_states WHERE room_id = ?`, roomID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room state: %w", err)
	}
	return raw, nil
}

func (s *SQLiteStore) SaveRoom(ctx context.Context, roomID string, raw []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_states (room_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(room_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		roomID, raw, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save room state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateRoom(ctx context.Context, rec RoomRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rooms (id, name, owner_id, join_code, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.OwnerID, rec.JoinCode, rec.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create room: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id) VALUES (?, ?)`,
		rec.ID, rec.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to add owner membership: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetRoom(ctx context.Context, roomID string) (RoomRecord, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, join_code, created_at FROM rooms WHERE id = ?`, roomID))
}

func (s *SQLiteStore) GetRoomByJoinCode(ctx context.Context, code string) (RoomRecord, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, join_code, created_at FROM rooms WHERE join_code = ?`, code))
}

func (s *SQLiteStore) scanRoom(row *sql.Row) (RoomRecord, error) {
	var rec RoomRecord
	var created int64
	err := row.Scan(&rec.ID, &rec.Name, &rec.OwnerID, &rec.JoinCode, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return RoomRecord{}, ErrNotFound
	}
	if err != nil {
		return RoomRecord{}, fmt.Errorf("failed to load room: %w", err)
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	return rec, nil
}

func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID int64) ([]RoomRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.name, r.owner_id, r.join_code, r.created_at
		 FROM rooms r JOIN room_members m ON m.room_id = r.id
		 WHERE m.user_id = ? ORDER BY r.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	out := []RoomRecord{}
	for rows.Next() {
		var rec RoomRecord
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.OwnerID, &rec.JoinCode, &created); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		rec.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RenameRoom(ctx context.Context, roomID, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rooms SET name = ? WHERE id = ?`, name, roomID)
	if err != nil {
		return fmt.Errorf("failed to rename room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, roomID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, roomID)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username string, passwordHash []byte) (User, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, now.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("failed to read user id: %w", err)
	}
	return User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetUserByName(ctx context.Context, username string) (User, error) {
	var u User
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to load user: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return u, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, username, expires_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Username, sess.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sid string) (Session, error) {
	var sess Session
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, username, expires_at FROM sessions WHERE id = ?`,
		sid).Scan(&sess.ID, &sess.UserID, &sess.Username, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	sess.ExpiresAt = time.Unix(expires, 0).UTC()
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteSession(ctx, sid)
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sid)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddMember(ctx context.Context, roomID string, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO room_members (room_id, user_id) VALUES (?, ?)`,
		roomID, userID)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsMember(ctx context.Context, roomID string, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?`,
		roomID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, roomID, name string, raw []byte) (SnapshotMeta, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (room_id, name, state, created_at) VALUES (?, ?, ?, ?)`,
		roomID, name, raw, now.Unix())
	if err != nil {
		return SnapshotMeta{}, fmt.Errorf("failed to create snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return SnapshotMeta{}, fmt.Errorf("failed to read snapshot id: %w", err)
	}
	return SnapshotMeta{ID: id, RoomID: roomID, Name: name, Size: int64(len(raw)), CreatedAt: now}, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, roomID string) ([]SnapshotMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, length(state), created_at FROM snapshots
		 WHERE room_id = ? ORDER BY id DESC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	out := []SnapshotMeta{}
	for rows.Next() {
		m := SnapshotMeta{RoomID: roomID}
		var created int64
		if err := rows.Scan(&m.ID, &m.Name, &m.Size, &created); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		m.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context, roomID string, snapshotID int64) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM snapshots WHERE room_id = ? AND id = ?`,
		roomID, snapshotID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return raw, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation detects sqlite unique constraint errors without
// depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
