package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/warboardhq/warboard/internal/v1/metrics"
)

// Key schema (all prefixed "warboard:"):
//
//	room:{id}:state          string  serialized whiteboard document
//	room:{id}:meta           hash    name, owner_id, join_code, created_at
//	room:{id}:members        set     user ids
//	room:{id}:snapshots      zset    snapshot id scored by id
//	snapshot:{room}:{id}     hash    name, state, created_at
//	joincode:{code}          string  room id
//	user:name:{username}     string  user id
//	user:{id}                hash    username, password_hash, created_at
//	user:{id}:rooms          set     room ids
//	session:{sid}            hash    user_id, username (TTL = session lifetime)
//	seq:users, seq:snapshots counters
const redisPrefix = "warboard:"

// RedisStore implements Store on a Redis server.
type RedisStore struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		// Missing keys and uniqueness conflicts are normal outcomes,
		// not backend trouble.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis store", "addr", addr)
	return &RedisStore{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests with
// miniredis.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "redis",
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict)
			},
		}),
	}
}

func key(parts ...string) string {
	out := redisPrefix
	for i, p := range parts {
		if i > 0 {
			out += ":"
		}
		out += p
	}
	return out
}

// execute routes a call through the circuit breaker and translates the
// open-breaker sentinel into a plain error for callers.
func (s *RedisStore) execute(op func() (any, error)) (any, error) {
	res, err := s.cb.Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}
	return res, err
}

func (s *RedisStore) LoadRoom(ctx context.Context, roomID string) ([]byte, error) {
	res, err := s.execute(func() (any, error) {
		raw, err := s.client.Get(ctx, key("room", roomID, "state")).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return raw, err
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (s *RedisStore) SaveRoom(ctx context.Context, roomID string, raw []byte) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Set(ctx, key("room", roomID, "state"), raw, 0).Err()
	})
	return err
}

func (s *RedisStore) CreateRoom(ctx context.Context, rec RoomRecord) error {
	_, err := s.execute(func() (any, error) {
		ok, err := s.client.SetNX(ctx, key("joincode", rec.JoinCode), rec.ID, 0).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, key("room", rec.ID, "meta"),
			"name", rec.Name,
			"owner_id", rec.OwnerID,
			"join_code", rec.JoinCode,
			"created_at", rec.CreatedAt.Unix())
		pipe.SAdd(ctx, key("room", rec.ID, "members"), rec.OwnerID)
		pipe.SAdd(ctx, key("user", strconv.FormatInt(rec.OwnerID, 10), "rooms"), rec.ID)
		_, err = pipe.Exec(ctx)
		return nil, err
	})
	return err
}

func (s *RedisStore) GetRoom(ctx context.Context, roomID string) (RoomRecord, error) {
	res, err := s.execute(func() (any, error) {
		m, err := s.client.HGetAll(ctx, key("room", roomID, "meta")).Result()
		if err != nil {
			return nil, err
		}
		if len(m) == 0 {
			return nil, ErrNotFound
		}
		return roomRecordFromHash(roomID, m)
	})
	if err != nil {
		return RoomRecord{}, err
	}
	return res.(RoomRecord), nil
}

func (s *RedisStore) GetRoomByJoinCode(ctx context.Context, code string) (RoomRecord, error) {
	res, err := s.execute(func() (any, error) {
		roomID, err := s.client.Get(ctx, key("joincode", code)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return roomID, nil
	})
	if err != nil {
		return RoomRecord{}, err
	}
	return s.GetRoom(ctx, res.(string))
}

func (s *RedisStore) ListRoomsForUser(ctx context.Context, userID int64) ([]RoomRecord, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.SMembers(ctx, key("user", strconv.FormatInt(userID, 10), "rooms")).Result()
	})
	if err != nil {
		return nil, err
	}

	out := []RoomRecord{}
	for _, roomID := range res.([]string) {
		rec, err := s.GetRoom(ctx, roomID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) RenameRoom(ctx context.Context, roomID, name string) error {
	_, err := s.execute(func() (any, error) {
		n, err := s.client.Exists(ctx, key("room", roomID, "meta")).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrNotFound
		}
		return nil, s.client.HSet(ctx, key("room", roomID, "meta"), "name", name).Err()
	})
	return err
}

func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := s.execute(func() (any, error) {
		rec, err := s.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		members, err := s.client.SMembers(ctx, key("room", roomID, "members")).Result()
		if err != nil {
			return nil, err
		}
		snapIDs, err := s.client.ZRange(ctx, key("room", roomID, "snapshots"), 0, -1).Result()
		if err != nil {
			return nil, err
		}

		pipe := s.client.TxPipeline()
		for _, m := range members {
			pipe.SRem(ctx, key("user", m, "rooms"), roomID)
		}
		for _, id := range snapIDs {
			pipe.Del(ctx, key("snapshot", roomID, id))
		}
		pipe.Del(ctx,
			key("room", roomID, "state"),
			key("room", roomID, "meta"),
			key("room", roomID, "members"),
			key("room", roomID, "snapshots"),
			key("joincode", rec.JoinCode))
		_, err = pipe.Exec(ctx)
		return nil, err
	})
	return err
}

func (s *RedisStore) CreateUser(ctx context.Context, username string, passwordHash []byte) (User, error) {
	res, err := s.execute(func() (any, error) {
		id, err := s.client.Incr(ctx, key("seq", "users")).Result()
		if err != nil {
			return nil, err
		}
		ok, err := s.client.SetNX(ctx, key("user", "name", username), id, 0).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
		now := time.Now().UTC()
		err = s.client.HSet(ctx, key("user", strconv.FormatInt(id, 10)),
			"username", username,
			"password_hash", passwordHash,
			"created_at", now.Unix()).Err()
		if err != nil {
			return nil, err
		}
		return User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
	})
	if err != nil {
		return User{}, err
	}
	return res.(User), nil
}

func (s *RedisStore) GetUserByName(ctx context.Context, username string) (User, error) {
	res, err := s.execute(func() (any, error) {
		idStr, err := s.client.Get(ctx, key("user", "name", username)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		m, err := s.client.HGetAll(ctx, key("user", idStr)).Result()
		if err != nil {
			return nil, err
		}
		if len(m) == 0 {
			return nil, ErrNotFound
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt user id %q: %w", idStr, err)
		}
		created, _ := strconv.ParseInt(m["created_at"], 10, 64)
		return User{
			ID:           id,
			Username:     m["username"],
			PasswordHash: []byte(m["password_hash"]),
			CreatedAt:    time.Unix(created, 0).UTC(),
		}, nil
	})
	if err != nil {
		return User{}, err
	}
	return res.(User), nil
}

func (s *RedisStore) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.execute(func() (any, error) {
		k := key("session", sess.ID)
		err := s.client.HSet(ctx, k,
			"user_id", sess.UserID,
			"username", sess.Username,
			"expires_at", sess.ExpiresAt.Unix()).Err()
		if err != nil {
			return nil, err
		}
		ttl := time.Until(sess.ExpiresAt)
		if ttl > 0 {
			err = s.client.Expire(ctx, k, ttl).Err()
		}
		return nil, err
	})
	return err
}

func (s *RedisStore) GetSession(ctx context.Context, sid string) (Session, error) {
	res, err := s.execute(func() (any, error) {
		m, err := s.client.HGetAll(ctx, key("session", sid)).Result()
		if err != nil {
			return nil, err
		}
		if len(m) == 0 {
			return nil, ErrNotFound
		}
		userID, _ := strconv.ParseInt(m["user_id"], 10, 64)
		expires, _ := strconv.ParseInt(m["expires_at"], 10, 64)
		sess := Session{
			ID:        sid,
			UserID:    userID,
			Username:  m["username"],
			ExpiresAt: time.Unix(expires, 0).UTC(),
		}
		if time.Now().After(sess.ExpiresAt) {
			return nil, ErrNotFound
		}
		return sess, nil
	})
	if err != nil {
		return Session{}, err
	}
	return res.(Session), nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sid string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Del(ctx, key("session", sid)).Err()
	})
	return err
}

func (s *RedisStore) AddMember(ctx context.Context, roomID string, userID int64) error {
	_, err := s.execute(func() (any, error) {
		pipe := s.client.TxPipeline()
		pipe.SAdd(ctx, key("room", roomID, "members"), userID)
		pipe.SAdd(ctx, key("user", strconv.FormatInt(userID, 10), "rooms"), roomID)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	return err
}

func (s *RedisStore) IsMember(ctx context.Context, roomID string, userID int64) (bool, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.SIsMember(ctx, key("room", roomID, "members"), userID).Result()
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (s *RedisStore) CreateSnapshot(ctx context.Context, roomID, name string, raw []byte) (SnapshotMeta, error) {
	res, err := s.execute(func() (any, error) {
		id, err := s.client.Incr(ctx, key("seq", "snapshots")).Result()
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		idStr := strconv.FormatInt(id, 10)
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, key("snapshot", roomID, idStr),
			"name", name,
			"state", raw,
			"created_at", now.Unix())
		pipe.ZAdd(ctx, key("room", roomID, "snapshots"), redis.Z{Score: float64(id), Member: idStr})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		return SnapshotMeta{ID: id, RoomID: roomID, Name: name, Size: int64(len(raw)), CreatedAt: now}, nil
	})
	if err != nil {
		return SnapshotMeta{}, err
	}
	return res.(SnapshotMeta), nil
}

func (s *RedisStore) ListSnapshots(ctx context.Context, roomID string) ([]SnapshotMeta, error) {
	res, err := s.execute(func() (any, error) {
		ids, err := s.client.ZRevRange(ctx, key("room", roomID, "snapshots"), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		out := []SnapshotMeta{}
		for _, idStr := range ids {
			m, err := s.client.HGetAll(ctx, key("snapshot", roomID, idStr)).Result()
			if err != nil {
				return nil, err
			}
			if len(m) == 0 {
				continue
			}
			id, _ := strconv.ParseInt(idStr, 10, 64)
			created, _ := strconv.ParseInt(m["created_at"], 10, 64)
			out = append(out, SnapshotMeta{
				ID:        id,
				RoomID:    roomID,
				Name:      m["name"],
				Size:      int64(len(m["state"])),
				CreatedAt: time.Unix(created, 0).UTC(),
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]SnapshotMeta), nil
}

func (s *RedisStore) LoadSnapshot(ctx context.Context, roomID string, snapshotID int64) ([]byte, error) {
	res, err := s.execute(func() (any, error) {
		raw, err := s.client.HGet(ctx, key("snapshot", roomID, strconv.FormatInt(snapshotID, 10)), "state").Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return []byte(raw), nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func roomRecordFromHash(roomID string, m map[string]string) (RoomRecord, error) {
	ownerID, err := strconv.ParseInt(m["owner_id"], 10, 64)
	if err != nil {
		return RoomRecord{}, fmt.Errorf("corrupt owner id for room %s: %w", roomID, err)
	}
	created, _ := strconv.ParseInt(m["created_at"], 10, 64)
	return RoomRecord{
		ID:        roomID,
		Name:      m["name"],
		OwnerID:   ownerID,
		JoinCode:  m["join_code"],
		CreatedAt: time.Unix(created, 0).UTC(),
	}, nil
}
