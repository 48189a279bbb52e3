package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/example/freshmart/pkg/apperrors"
	"github.com/example/freshmart/pkg/auth"
	"github.com/example/freshmart/pkg/models"
)

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if id := auth.FromContext(c.Request.Context()); id != nil {
			fields = append(fields, zap.String("user_id", id.ID))
		}
		if len(c.Errors) > 0 {
			logger.Error("HTTP request failed", append(fields, zap.String("error", c.Errors.String()))...)
			return
		}
		logger.Info("HTTP request", fields...)
	}
}

// identify attaches the bearer token identity to the request context. A
// request without a token continues anonymously; a bad token is rejected.
func identify(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || verifier == nil {
			c.Next()
			return
		}
		id, err := verifier.VerifyHeader(header)
		if err != nil {
			fail(c, err)
			return
		}
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c) == nil {
			fail(c, &apperrors.AuthenticationError{Reason: "sign in to continue"})
			return
		}
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := currentUser(c)
		if id == nil {
			fail(c, &apperrors.AuthenticationError{})
			return
		}
		if !id.IsAdmin() {
			fail(c, &apperrors.AuthorizationError{Action: "use the admin panel"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *models.Identity {
	return auth.FromContext(c.Request.Context())
}

// rateLimiter keeps one token bucket per client address. Buckets unused for
// longer than idle are dropped.
type rateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	lastSweep time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perSecond float64, burst int, idle time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &rateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     idle,
		now:      time.Now,
		limiters: make(map[string]*clientLimiter),
	}
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if rl.lastSweep.IsZero() {
		rl.lastSweep = now
	}
	if now.Sub(rl.lastSweep) >= rl.idle {
		rl.sweepLocked(now)
	}

	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

func (rl *rateLimiter) sweepLocked(now time.Time) {
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > rl.idle {
			delete(rl.limiters, key)
		}
	}
	rl.lastSweep = now
}

func (rl *rateLimiter) middleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}
		key := c.ClientIP()
		if !rl.get(key).Allow() {
			logger.Warn("Rate limit exceeded", zap.String("client", key), zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}
