package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/user/papertrade/backend/internal/errs"
)

const limiterIdle = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter throttles requests per authenticated user with a token bucket.
type Limiter struct {
	mu       sync.Mutex
	visitors map[uuid.UUID]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{
		visitors: make(map[uuid.UUID]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether the user may proceed now.
func (l *Limiter) Allow(userID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[userID]
	if !ok {
		l.evictIdle(now)
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[userID] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *Limiter) evictIdle(now time.Time) {
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > limiterIdle {
			delete(l.visitors, id)
		}
	}
}

// Handler must run after Protected.
func (l *Limiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := UserID(c)
		if !ok {
			return Abort(c, errs.CodeUnauthorized, "authentication required")
		}
		if !l.Allow(userID) {
			return Abort(c, errs.CodeRateLimited, "too many order requests, slow down")
		}
		return c.Next()
	}
}
