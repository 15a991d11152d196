package httpapi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warboardhq/warboard/internal/v1/logging"
	"github.com/warboardhq/warboard/internal/v1/state"
	"github.com/warboardhq/warboard/internal/v1/store"
)

// joinCodeAlphabet omits ambiguous characters (0/O, 1/I/L).
const joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func newJoinCode() string {
	buf := make([]byte, 6)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return "WARB-" + string(buf)
}

type roomResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   int64  `json:"owner_id"`
	JoinCode  string `json:"join_code,omitempty"`
	CreatedAt string `json:"created_at"`
}

func roomToResponse(rec store.RoomRecord, includeCode bool) roomResponse {
	out := roomResponse{
		ID:        rec.ID,
		Name:      rec.Name,
		OwnerID:   rec.OwnerID,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
	if includeCode {
		out.JoinCode = rec.JoinCode
	}
	return out
}

// CreateRoom handles POST /api/rooms.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	// Body is optional; a bare POST creates an unnamed room.
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "Untitled board"
	}
	if len(req.Name) > 80 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room name too long"})
		return
	}

	sess, _ := currentSession(c)
	ctx := c.Request.Context()

	rec := store.RoomRecord{
		ID:        uuid.NewString()[:8],
		Name:      req.Name,
		OwnerID:   sess.UserID,
		JoinCode:  newJoinCode(),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateRoom(ctx, rec); err != nil {
		logging.Error(ctx, "create room failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	// Seed the blank board so the first websocket attach has state to load.
	raw, err := state.Encode(state.NewRoomState(rec.ID))
	if err == nil {
		if err := h.store.SaveRoom(ctx, rec.ID, raw); err != nil {
			logging.Warn(ctx, "failed to seed blank board", zap.String("room_id", rec.ID), zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, roomToResponse(rec, true))
}

// ListRooms handles GET /api/rooms.
func (h *Handler) ListRooms(c *gin.Context) {
	sess, _ := currentSession(c)
	recs, err := h.store.ListRoomsForUser(c.Request.Context(), sess.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}
	out := make([]roomResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, roomToResponse(rec, rec.OwnerID == sess.UserID))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

// JoinRoom handles POST /api/rooms/join.
func (h *Handler) JoinRoom(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "join code is required"})
		return
	}

	sess, _ := currentSession(c)
	ctx := c.Request.Context()

	rec, err := h.store.GetRoomByJoinCode(ctx, req.Code)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown join code"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join room"})
		return
	}
	if err := h.store.AddMember(ctx, rec.ID, sess.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join room"})
		return
	}
	c.JSON(http.StatusOK, roomToResponse(rec, false))
}

// RenameRoom handles PATCH /api/rooms/:roomId. Owner only.
func (h *Handler) RenameRoom(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Name) > 80 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a name up to 80 characters is required"})
		return
	}

	rec, ok := h.requireOwner(c)
	if !ok {
		return
	}
	if err := h.store.RenameRoom(c.Request.Context(), rec.ID, req.Name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rename room"})
		return
	}
	rec.Name = req.Name
	c.JSON(http.StatusOK, roomToResponse(rec, true))
}

// DeleteRoom handles DELETE /api/rooms/:roomId. Owner only.
func (h *Handler) DeleteRoom(c *gin.Context) {
	rec, ok := h.requireOwner(c)
	if !ok {
		return
	}
	if err := h.store.DeleteRoom(c.Request.Context(), rec.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// requireOwner loads the room and verifies the caller owns it.
func (h *Handler) requireOwner(c *gin.Context) (store.RoomRecord, bool) {
	sess, _ := currentSession(c)
	rec, err := h.store.GetRoom(c.Request.Context(), c.Param("roomId"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return store.RoomRecord{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return store.RoomRecord{}, false
	}
	if rec.OwnerID != sess.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the room owner may do this"})
		return store.RoomRecord{}, false
	}
	return rec, true
}

// requireGM allows the owner, or a member presenting the room's GM key.
func (h *Handler) requireGM(c *gin.Context, gmKey string) (store.RoomRecord, bool) {
	sess, _ := currentSession(c)
	ctx := c.Request.Context()

	rec, err := h.store.GetRoom(ctx, c.Param("roomId"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return store.RoomRecord{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return store.RoomRecord{}, false
	}
	if rec.OwnerID == sess.UserID {
		return rec, true
	}

	member, err := h.store.IsMember(ctx, rec.ID, sess.UserID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
		return store.RoomRecord{}, false
	}
	if gmKey != "" {
		if st := h.loadBoard(c, rec.ID); st != nil && st.GMKeyHash != nil {
			sum := sha256.Sum256([]byte(gmKey))
			if hex.EncodeToString(sum[:]) == *st.GMKeyHash {
				return rec, true
			}
		}
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "GM access required"})
	return store.RoomRecord{}, false
}

// loadBoard reads the serialized board, preferring live state over the
// stored copy. Returns nil (without writing a response) on failure.
func (h *Handler) loadBoard(c *gin.Context, roomID string) *state.RoomState {
	ctx := c.Request.Context()
	raw, err := h.boardBytes(c, roomID)
	if err != nil {
		return nil
	}
	st, err := state.Decode(raw)
	if err != nil {
		logging.Warn(ctx, "corrupt board state", zap.String("room_id", roomID), zap.Error(err))
		return nil
	}
	return st
}

// boardBytes returns the current serialized board. A live room is flushed
// first so the snapshot reflects edits inside the debounce window.
func (h *Handler) boardBytes(c *gin.Context, roomID string) ([]byte, error) {
	ctx := c.Request.Context()
	if rm := h.live.GetLiveRoom(roomID); rm != nil {
		if err := rm.FlushNow(ctx); err != nil {
			return nil, err
		}
	}
	raw, err := h.store.LoadRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return state.Encode(state.NewRoomState(roomID))
	}
	return raw, err
}
