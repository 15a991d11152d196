// Package httpapi is the REST surface: accounts, sessions, room
// management, snapshots, and asset packs. The live board itself speaks
// websocket; everything here works against the store.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/warboardhq/warboard/internal/v1/auth"
	"github.com/warboardhq/warboard/internal/v1/room"
	"github.com/warboardhq/warboard/internal/v1/store"
)

// LiveRooms is the slice of the transport hub the API needs: snapshot and
// restore operate on the in-memory room when one is materialized.
type LiveRooms interface {
	GetLiveRoom(roomID string) *room.Room
}

// Handler carries the API dependencies.
type Handler struct {
	store     store.Store
	validator *auth.Validator
	live      LiveRooms
	packsDir  string
	secure    bool // mark session cookies Secure (disabled in dev)
}

// NewHandler creates the REST handler.
func NewHandler(st store.Store, validator *auth.Validator, live LiveRooms, packsDir string, secure bool) *Handler {
	return &Handler{
		store:     st,
		validator: validator,
		live:      live,
		packsDir:  packsDir,
		secure:    secure,
	}
}

// Register mounts all routes under /api. The rate limit middleware is
// installed by the caller so it can sit between auth and the handlers.
func (h *Handler) Register(r gin.IRouter, rateLimit gin.HandlerFunc) {
	api := r.Group("/api")
	api.Use(h.sessionMiddleware())
	if rateLimit != nil {
		api.Use(rateLimit)
	}

	api.POST("/register", h.RegisterUser)
	api.POST("/login", h.Login)
	api.POST("/logout", h.Logout)
	api.GET("/me", h.requireAuth(), h.Me)

	api.GET("/packs", h.ListPacks)
	api.GET("/packs/:name", h.GetPack)

	rooms := api.Group("/rooms", h.requireAuth())
	rooms.POST("", h.CreateRoom)
	rooms.GET("", h.ListRooms)
	rooms.POST("/join", h.JoinRoom)
	rooms.PATCH("/:roomId", h.RenameRoom)
	rooms.DELETE("/:roomId", h.DeleteRoom)
	rooms.GET("/:roomId/snapshots", h.ListSnapshots)
	rooms.POST("/:roomId/snapshots", h.CreateSnapshot)
	rooms.GET("/:roomId/snapshots/:snapshotId", h.GetSnapshot)
	rooms.POST("/:roomId/snapshots/:snapshotId/restore", h.RestoreSnapshot)
}

// sessionMiddleware resolves credentials when present but never rejects;
// requireAuth draws the line. Tokens come from the Authorization header,
// sessions from the cookie.
func (h *Handler) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token := strings.TrimPrefix(header, "Bearer ")
			if sess, err := h.validator.ValidateToken(ctx, token); err == nil {
				setSession(c, sess)
				c.Next()
				return
			}
		}
		if sid, err := c.Cookie(auth.SessionCookie); err == nil && sid != "" {
			if sess, err := h.validator.ResolveSession(ctx, sid); err == nil {
				setSession(c, sess)
			}
		}
		c.Next()
	}
}

func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := currentSession(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

func setSession(c *gin.Context, sess store.Session) {
	c.Set("session", sess)
	c.Set("user_id", sess.UserID)
	c.Set("username", sess.Username)
}

func currentSession(c *gin.Context) (store.Session, bool) {
	v, ok := c.Get("session")
	if !ok {
		return store.Session{}, false
	}
	sess, ok := v.(store.Session)
	return sess, ok
}
