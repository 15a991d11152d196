// Package auth issues and validates session-bound JWTs. Tokens are HS256
// and carry the session id; validation always re-checks the session in the
// store, so logout revokes outstanding tokens immediately.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warboardhq/warboard/internal/v1/store"
)

// SessionTTL is how long a login stays valid.
const SessionTTL = 7 * 24 * time.Hour

// SessionCookie is the browser cookie that carries the session id.
const SessionCookie = "warboard_sid"

// Claims is the JWT payload for a logged-in session.
type Claims struct {
	SID      string `json:"sid"`
	UserID   int64  `json:"uid"`
	Username string `json:"name"`
	jwt.RegisteredClaims
}

// SessionStore is the slice of the store the validator needs.
type SessionStore interface {
	GetSession(ctx context.Context, sid string) (store.Session, error)
}

// Validator issues and validates session tokens.
type Validator struct {
	secret   []byte
	sessions SessionStore
}

// NewValidator creates a Validator backed by the given session store.
func NewValidator(secret string, sessions SessionStore) *Validator {
	return &Validator{secret: []byte(secret), sessions: sessions}
}

// IssueToken signs a JWT for the session. The token expires with the
// session.
func (v *Validator) IssueToken(sess store.Session) (string, error) {
	claims := Claims{
		SID:      sess.ID,
		UserID:   sess.UserID,
		Username: sess.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.Username,
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "warboard",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a JWT, then loads the live session it
// refers to. Returns an error for expired, forged, or revoked tokens.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (store.Session, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return store.Session{}, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid || claims.SID == "" {
		return store.Session{}, fmt.Errorf("invalid token")
	}

	sess, err := v.sessions.GetSession(ctx, claims.SID)
	if err != nil {
		return store.Session{}, fmt.Errorf("session not found or expired: %w", err)
	}
	return sess, nil
}

// ResolveSession loads a session directly by its id (the sid cookie path).
func (v *Validator) ResolveSession(ctx context.Context, sid string) (store.Session, error) {
	return v.sessions.GetSession(ctx, sid)
}
