package httpapi

import (
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/warboardhq/warboard/internal/v1/auth"
	"github.com/warboardhq/warboard/internal/v1/logging"
	"github.com/warboardhq/warboard/internal/v1/store"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sessionResponse struct {
	Token    string `json:"token"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// RegisterUser handles POST /api/register.
func (h *Handler) RegisterUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	if !usernameRe.MatchString(req.Username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must be 3-32 characters (letters, digits, _ or -)"})
		return
	}
	if len(req.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}

	ctx := c.Request.Context()
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	user, err := h.store.CreateUser(ctx, req.Username, hash)
	if errors.Is(err, store.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		return
	}
	if err != nil {
		logging.Error(ctx, "create user failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	h.startSession(c, user)
}

// Login handles POST /api/login.
func (h *Handler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.store.GetUserByName(ctx, req.Username)
	if err != nil {
		// Same response as a bad password; do not leak which usernames exist.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	h.startSession(c, user)
}

func (h *Handler) startSession(c *gin.Context, user store.User) {
	ctx := c.Request.Context()
	sess := store.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Username:  user.Username,
		ExpiresAt: time.Now().Add(auth.SessionTTL).UTC(),
	}
	if err := h.store.CreateSession(ctx, sess); err != nil {
		logging.Error(ctx, "create session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	token, err := h.validator.IssueToken(sess)
	if err != nil {
		logging.Error(ctx, "issue token failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	c.SetCookie(auth.SessionCookie, sess.ID, int(auth.SessionTTL.Seconds()), "/", "", h.secure, true)
	c.JSON(http.StatusOK, sessionResponse{Token: token, UserID: user.ID, Username: user.Username})
}

// Logout handles POST /api/logout. Deleting the session also revokes any
// JWT minted for it.
func (h *Handler) Logout(c *gin.Context) {
	if sess, ok := currentSession(c); ok {
		if err := h.store.DeleteSession(c.Request.Context(), sess.ID); err != nil {
			logging.Warn(c.Request.Context(), "delete session failed", zap.Error(err))
		}
	}
	c.SetCookie(auth.SessionCookie, "", -1, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Me handles GET /api/me.
func (h *Handler) Me(c *gin.Context) {
	sess, _ := currentSession(c)
	c.JSON(http.StatusOK, gin.H{
		"user_id":    sess.UserID,
		"username":   sess.Username,
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
	})
}
