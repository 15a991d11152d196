package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/warboardhq/warboard/internal/v1/logging"
	"github.com/warboardhq/warboard/internal/v1/store"
)

type snapshotResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	CreatedAt string `json:"created_at"`
}

func snapshotToResponse(m store.SnapshotMeta) snapshotResponse {
	return snapshotResponse{
		ID:        m.ID,
		Name:      m.Name,
		Size:      m.Size,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

// ListSnapshots handles GET /api/rooms/:roomId/snapshots. Any member may
// list; only a GM may create or restore.
func (h *Handler) ListSnapshots(c *gin.Context) {
	sess, _ := currentSession(c)
	ctx := c.Request.Context()
	roomID := c.Param("roomId")

	rec, err := h.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}
	if rec.OwnerID != sess.UserID {
		member, err := h.store.IsMember(ctx, roomID, sess.UserID)
		if err != nil || !member {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
			return
		}
	}

	metas, err := h.store.ListSnapshots(ctx, roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list snapshots"})
		return
	}
	out := make([]snapshotResponse, 0, len(metas))
	for _, m := range metas {
		out = append(out, snapshotToResponse(m))
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": out})
}

// GetSnapshot handles GET /api/rooms/:roomId/snapshots/:snapshotId. Any
// member may download the raw board JSON, e.g. to export a scene.
func (h *Handler) GetSnapshot(c *gin.Context) {
	sess, _ := currentSession(c)
	ctx := c.Request.Context()
	roomID := c.Param("roomId")

	rec, err := h.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}
	if rec.OwnerID != sess.UserID {
		member, err := h.store.IsMember(ctx, roomID, sess.UserID)
		if err != nil || !member {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
			return
		}
	}

	snapshotID, err := strconv.ParseInt(c.Param("snapshotId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid snapshot id"})
		return
	}
	raw, err := h.store.LoadSnapshot(ctx, roomID, snapshotID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshot"})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

// CreateSnapshot handles POST /api/rooms/:roomId/snapshots. The live room
// is flushed first so the snapshot includes edits still inside the
// autosave debounce.
func (h *Handler) CreateSnapshot(c *gin.Context) {
	var req struct {
		Name  string `json:"name"`
		GMKey string `json:"gm_key"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "Snapshot " + time.Now().UTC().Format("2006-01-02 15:04")
	}
	if len(req.Name) > 80 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "snapshot name too long"})
		return
	}

	rec, ok := h.requireGM(c, req.GMKey)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	raw, err := h.boardBytes(c, rec.ID)
	if err != nil {
		logging.Error(ctx, "failed to read board for snapshot", zap.String("room_id", rec.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create snapshot"})
		return
	}

	meta, err := h.store.CreateSnapshot(ctx, rec.ID, req.Name, raw)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create snapshot"})
		return
	}
	c.JSON(http.StatusCreated, snapshotToResponse(meta))
}

// RestoreSnapshot handles POST /api/rooms/:roomId/snapshots/:snapshotId/restore.
// The current board is auto-snapshotted first so a restore is always
// reversible. A live room swaps state in place and rebroadcasts; a cold
// room just gets its stored state replaced.
func (h *Handler) RestoreSnapshot(c *gin.Context) {
	var req struct {
		GMKey string `json:"gm_key"`
	}
	_ = c.ShouldBindJSON(&req)

	rec, ok := h.requireGM(c, req.GMKey)
	if !ok {
		return
	}

	snapshotID, err := strconv.ParseInt(c.Param("snapshotId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid snapshot id"})
		return
	}

	ctx := c.Request.Context()
	raw, err := h.store.LoadSnapshot(ctx, rec.ID, snapshotID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshot"})
		return
	}

	if current, err := h.boardBytes(c, rec.ID); err == nil {
		if _, err := h.store.CreateSnapshot(ctx, rec.ID, "Before restore", current); err != nil {
			logging.Warn(ctx, "failed to auto-snapshot before restore",
				zap.String("room_id", rec.ID), zap.Error(err))
		}
	}

	if rm := h.live.GetLiveRoom(rec.ID); rm != nil {
		if err := rm.ImportState(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "snapshot is not a valid board"})
			return
		}
	} else if err := h.store.SaveRoom(ctx, rec.ID, raw); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to restore snapshot"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "snapshot_id": snapshotID})
}
