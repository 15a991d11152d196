package transport

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warboardhq/warboard/internal/v1/store"
)

func originRequest(t *testing.T, origin string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "/ws/rooms/r1", nil)
	require.NoError(t, err)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCheckOrigin(t *testing.T) {
	h := NewHub(context.Background(), nil, nil, nil, []string{"http://localhost:3000", "https://play.example.com"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true}, // non-browser clients
		{"http://localhost:3000", true},
		{"https://play.example.com", true},
		{"http://play.example.com", false}, // scheme must match
		{"https://evil.example.com", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, h.checkOrigin(originRequest(t, tt.origin)), "origin %q", tt.origin)
	}
}

func newHubWithStore(t *testing.T) (*Hub, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHub(ctx, st, nil, nil, nil)
	h.cleanupGracePeriod = 10 * time.Millisecond
	t.Cleanup(func() { h.Shutdown(context.Background()) })
	return h, st
}

func seedRoom(t *testing.T, st store.Store, roomID string) {
	t.Helper()
	ctx := context.Background()
	u, err := st.CreateUser(ctx, "alice", []byte("hash"))
	require.NoError(t, err)
	require.NoError(t, st.CreateRoom(ctx, store.RoomRecord{
		ID: roomID, Name: "Board", OwnerID: u.ID, JoinCode: "WARB-AAAAAA", CreatedAt: time.Now(),
	}))
}

func TestLoadStateFallsBackToBlank(t *testing.T) {
	h, st := newHubWithStore(t)
	seedRoom(t, st, "r1")

	// Nothing stored yet.
	s := h.loadState("r1")
	assert.Equal(t, "r1", s.RoomID)
	assert.Empty(t, s.Tokens)

	// Corrupt stored state also falls back.
	require.NoError(t, st.SaveRoom(context.Background(), "r1", []byte("{corrupt")))
	s = h.loadState("r1")
	assert.Equal(t, "r1", s.RoomID)

	// Valid stored state is decoded.
	require.NoError(t, st.SaveRoom(context.Background(), "r1",
		[]byte(`{"room_id":"r1","version":7,"tokens":[{"id":"t1","x":1,"y":2}]}`)))
	s = h.loadState("r1")
	require.Len(t, s.Tokens, 1)
	assert.Equal(t, int64(7), s.Version)
}

func TestRoomLifecycle(t *testing.T) {
	h, st := newHubWithStore(t)
	seedRoom(t, st, "r1")

	rm := h.getOrCreateRoom("r1")
	require.NotNil(t, rm)
	assert.Same(t, rm, h.getOrCreateRoom("r1"), "idempotent while live")
	assert.Same(t, rm, h.GetLiveRoom("r1"))
	assert.Nil(t, h.GetLiveRoom("other"))

	// An empty room is evicted after the grace period.
	h.scheduleCleanup("r1")
	require.Eventually(t, func() bool {
		return h.GetLiveRoom("r1") == nil
	}, time.Second, 5*time.Millisecond)
}

func TestCleanupCancelledByReattach(t *testing.T) {
	h, st := newHubWithStore(t)
	seedRoom(t, st, "r1")
	h.cleanupGracePeriod = 50 * time.Millisecond

	rm := h.getOrCreateRoom("r1")
	h.scheduleCleanup("r1")
	assert.Same(t, rm, h.getOrCreateRoom("r1"), "reattach cancels pending eviction")

	time.Sleep(100 * time.Millisecond)
	assert.Same(t, rm, h.GetLiveRoom("r1"), "room survived the grace period")
}
