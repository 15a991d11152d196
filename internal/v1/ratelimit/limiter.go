// Package ratelimit implements rate limiting using Redis or local memory.
//
// Two surfaces are limited: HTTP requests (per user when authenticated,
// per IP otherwise) and websocket traffic (connection attempts per IP,
// plus per-socket windows for high-frequency board events).
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/warboardhq/warboard/internal/v1/config"
	"github.com/warboardhq/warboard/internal/v1/logging"
	"github.com/warboardhq/warboard/internal/v1/metrics"
)

// Limiter holds the rate limiter instances.
type Limiter struct {
	apiGlobal *limiter.Limiter
	apiPublic *limiter.Limiter
	wsIP      *limiter.Limiter
	wsMove    *limiter.Limiter
	wsErase   *limiter.Limiter
}

// New creates the limiter set from configured rates. When redisClient is
// non-nil the counters live in Redis so limits hold across replicas;
// otherwise an in-memory store is used.
func New(cfg *config.Config, redisClient *redis.Client) (*Limiter, error) {
	apiGlobalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid API global rate: %w", err)
	}
	apiPublicRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid API public rate: %w", err)
	}
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}
	wsMoveRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsMove)
	if err != nil {
		return nil, fmt.Errorf("invalid WS move rate: %w", err)
	}
	wsEraseRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsErase)
	if err != nil {
		return nil, fmt.Errorf("invalid WS erase rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Info(context.Background(), "Rate limiter using memory store")
	}

	// Per-socket event windows always use a local store; they key on the
	// socket, which never crosses replicas.
	eventStore := memory.NewStore()

	return &Limiter{
		apiGlobal: limiter.New(store, apiGlobalRate),
		apiPublic: limiter.New(store, apiPublicRate),
		wsIP:      limiter.New(store, wsIPRate),
		wsMove:    limiter.New(eventStore, wsMoveRate),
		wsErase:   limiter.New(eventStore, wsEraseRate),
	}, nil
}

// APIMiddleware enforces the HTTP rate limits. Authenticated requests are
// keyed by user id against the global limit; anonymous ones by IP against
// the stricter public limit.
func (l *Limiter) APIMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var inst *limiter.Limiter
		var key, limitType string

		if userID, ok := c.Get("user_id"); ok {
			inst = l.apiGlobal
			key = fmt.Sprintf("user:%v", userID)
			limitType = "user"
		} else {
			inst = l.apiPublic
			key = c.ClientIP()
			limitType = "ip"
		}

		ctx := c.Request.Context()
		lctx, err := inst.Get(ctx, key)
		if err != nil {
			// Fail open: availability beats strictness here.
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}
		c.Next()
	}
}

// CheckConnect limits websocket connection attempts per IP. Returns false
// (and writes a 429) when the limit is exceeded.
func (l *Limiter) CheckConnect(c *gin.Context) bool {
	ctx := c.Request.Context()
	lctx, err := l.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "WS connect rate limiter store failed", zap.Error(err))
		return true
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}
	return true
}

// AllowEvent enforces the per-socket windows on high-frequency board
// events. Events without a configured window are always allowed.
func (l *Limiter) AllowEvent(ctx context.Context, socketID, eventType string) bool {
	var inst *limiter.Limiter
	switch eventType {
	case "TOKEN_MOVE":
		inst = l.wsMove
	case "ERASE_AT":
		inst = l.wsErase
	default:
		return true
	}

	lctx, err := inst.Get(ctx, socketID+":"+eventType)
	if err != nil {
		logging.Error(ctx, "WS event rate limiter store failed", zap.Error(err))
		return true
	}
	if lctx.Reached {
		metrics.RateLimitDrops.WithLabelValues(eventType).Inc()
		return false
	}
	return true
}
