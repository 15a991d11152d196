// Package transport owns the websocket edge: upgrading connections,
// authenticating them, and routing each socket into its room actor. The
// Hub is the registry of live rooms; rooms are materialized from the store
// on first attach and flushed back when the last socket leaves.
package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/warboardhq/warboard/internal/v1/logging"
	"github.com/warboardhq/warboard/internal/v1/metrics"
	"github.com/warboardhq/warboard/internal/v1/ratelimit"
	"github.com/warboardhq/warboard/internal/v1/room"
	"github.com/warboardhq/warboard/internal/v1/state"
	"github.com/warboardhq/warboard/internal/v1/store"
)

// TokenValidator resolves websocket credentials into a live session.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (store.Session, error)
	ResolveSession(ctx context.Context, sid string) (store.Session, error)
}

// Hub is the registry of live rooms. Rooms are created on first attach and
// evicted (after a grace period) once their last socket leaves, so a page
// refresh does not lose the undo journal.
type Hub struct {
	mu              sync.Mutex
	rooms           map[string]*room.Room
	pendingCleanups map[string]*time.Timer

	ctx       context.Context
	store     store.Store
	validator TokenValidator
	limiter   *ratelimit.Limiter

	allowedOrigins     []string
	cleanupGracePeriod time.Duration
	sessionCookie      string
}

// NewHub wires the websocket edge. allowedOrigins is the list of browser
// origins permitted to upgrade; empty allows non-browser clients only.
func NewHub(ctx context.Context, st store.Store, validator TokenValidator, limiter *ratelimit.Limiter, allowedOrigins []string) *Hub {
	return &Hub{
		rooms:              make(map[string]*room.Room),
		pendingCleanups:    make(map[string]*time.Timer),
		ctx:                ctx,
		store:              st,
		validator:          validator,
		limiter:            limiter,
		allowedOrigins:     allowedOrigins,
		cleanupGracePeriod: 5 * time.Second,
		sessionCookie:      "warboard_sid",
	}
}

// ServeWs upgrades the request and attaches the socket to its room.
// Authentication failures close the socket with 1008 after the upgrade so
// the client sees a proper close code rather than a failed handshake.
func (h *Hub) ServeWs(c *gin.Context) {
	if !h.limiter.CheckConnect(c) {
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return
	}

	ctx := c.Request.Context()
	sess, err := h.resolveSession(c)
	if err != nil {
		closeWithPolicyViolation(conn, "unauthorized")
		return
	}

	roomID := c.Param("roomId")
	rec, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		closeWithPolicyViolation(conn, "unknown room")
		return
	}
	isOwner := rec.OwnerID == sess.UserID
	if !isOwner {
		member, err := h.store.IsMember(ctx, roomID, sess.UserID)
		if err != nil || !member {
			closeWithPolicyViolation(conn, "not a member")
			return
		}
	}

	rm := h.getOrCreateRoom(roomID)
	client := newClient(conn, rm, h, sess.Username, uuid.NewString(), h.limiter)

	metrics.IncConnection()
	go client.writePump()

	ok := rm.Attach(room.AttachRequest{
		Sender:   client,
		ClientID: sess.Username,
		UserID:   sess.UserID,
		Username: sess.Username,
		IsOwner:  isOwner,
		GMKey:    c.Query("gm_key"),
	})
	if !ok {
		client.closeWith(websocket.CloseTryAgainLater, "room unavailable")
		metrics.DecConnection()
		return
	}

	go client.readPump()
}

func (h *Hub) resolveSession(c *gin.Context) (store.Session, error) {
	ctx := c.Request.Context()
	if token := c.Query("token"); token != "" {
		return h.validator.ValidateToken(ctx, token)
	}
	if sid, err := c.Cookie(h.sessionCookie); err == nil && sid != "" {
		return h.validator.ResolveSession(ctx, sid)
	}
	return store.Session{}, errors.New("no credentials")
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

func closeWithPolicyViolation(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}

// getOrCreateRoom returns the live room, materializing it from the store
// when needed. Corrupt stored state falls back to a blank board rather
// than refusing every future connection.
func (h *Hub) getOrCreateRoom(roomID string) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rm, ok := h.rooms[roomID]; ok {
		if timer, pending := h.pendingCleanups[roomID]; pending {
			timer.Stop()
			delete(h.pendingCleanups, roomID)
		}
		return rm
	}

	st := h.loadState(roomID)
	rm := room.New(h.ctx, roomID, st, h.store, nil, h.scheduleCleanup)
	h.rooms[roomID] = rm
	metrics.ActiveRooms.Inc()
	logging.Info(h.ctx, "materialized room", zap.String("room_id", roomID))
	return rm
}

func (h *Hub) loadState(roomID string) *state.RoomState {
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	raw, err := h.store.LoadRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return state.NewRoomState(roomID)
	}
	if err != nil {
		logging.Error(h.ctx, "failed to load room state, starting blank",
			zap.String("room_id", roomID), zap.Error(err))
		return state.NewRoomState(roomID)
	}
	st, err := state.Decode(raw)
	if err != nil {
		logging.Error(h.ctx, "corrupt room state, starting blank",
			zap.String("room_id", roomID), zap.Error(err))
		return state.NewRoomState(roomID)
	}
	st.RoomID = roomID
	return st
}

// GetLiveRoom returns the in-memory room, or nil if it is not
// materialized. Used by the snapshot restore endpoint.
func (h *Hub) GetLiveRoom(roomID string) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[roomID]
}

// clientGone detaches a socket after its read pump exits.
func (h *Hub) clientGone(rm *room.Room, c *Client) {
	if rm.Detach(c) {
		h.scheduleCleanup(rm.ID())
	}
}

// scheduleCleanup arms the grace-period eviction for an empty room. If a
// socket attaches before the timer fires, the cleanup is cancelled.
func (h *Hub) scheduleCleanup(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if timer, exists := h.pendingCleanups[roomID]; exists {
		timer.Stop()
	}
	h.pendingCleanups[roomID] = time.AfterFunc(h.cleanupGracePeriod, func() {
		h.evictIfEmpty(roomID)
	})
}

func (h *Hub) evictIfEmpty(roomID string) {
	h.mu.Lock()
	rm, ok := h.rooms[roomID]
	if ok && rm.Stats().Sockets > 0 {
		delete(h.pendingCleanups, roomID)
		h.mu.Unlock()
		return
	}
	delete(h.rooms, roomID)
	delete(h.pendingCleanups, roomID)
	h.mu.Unlock()

	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rm.FlushNow(ctx); err != nil {
		logging.Error(ctx, "flush on evict failed", zap.String("room_id", roomID), zap.Error(err))
	}
	rm.Stop()
	metrics.ActiveRooms.Dec()
	logging.Info(ctx, "evicted empty room", zap.String("room_id", roomID))
}

// Shutdown flushes and stops every live room. Called during graceful
// server shutdown.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	for _, timer := range h.pendingCleanups {
		timer.Stop()
	}
	h.pendingCleanups = make(map[string]*time.Timer)
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, rm := range h.rooms {
		rooms = append(rooms, rm)
	}
	h.rooms = make(map[string]*room.Room)
	h.mu.Unlock()

	for _, rm := range rooms {
		if err := rm.FlushNow(ctx); err != nil {
			logging.Error(ctx, "flush on shutdown failed", zap.String("room_id", rm.ID()), zap.Error(err))
		}
		rm.Stop()
		metrics.ActiveRooms.Dec()
	}
}
