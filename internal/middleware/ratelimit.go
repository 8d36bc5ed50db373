package middleware

import (
	"net/http"
	"sync"
	"time"
)

const rateLimitWindow = time.Minute

// bucket — счётчик запросов ключа в текущем окне.
type bucket struct {
	start time.Time
	count int
}

// windowCounter считает запросы по ключу в фиксированных окнах длиной window.
// Устаревшие ключи вычищаются не чаще раза в окно.
type windowCounter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newWindowCounter(limit int, window time.Duration) *windowCounter {
	return &windowCounter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (c *windowCounter) allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if now.Sub(c.lastSweep) >= c.window {
		for k, b := range c.buckets {
			if now.Sub(b.start) >= c.window {
				delete(c.buckets, k)
			}
		}
		c.lastSweep = now
	}
	b, ok := c.buckets[key]
	if !ok || now.Sub(b.start) >= c.window {
		c.buckets[key] = &bucket{start: now, count: 1}
		return true
	}
	if b.count >= c.limit {
		return false
	}
	b.count++
	return true
}

// RateLimit ограничивает число запросов в минуту с одного IP и от одного пользователя.
// Лимит по пользователю работает, только если Auth уже положил user_id в контекст.
// Нулевой лимит отключает соответствующую проверку.
func RateLimit(perIP, perUser int) func(http.Handler) http.Handler {
	ips := newWindowCounter(perIP, rateLimitWindow)
	users := newWindowCounter(perUser, rateLimitWindow)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited := perIP > 0 && !ips.allow(clientIP(r))
			if !limited && perUser > 0 {
				if uid := GetUserID(r.Context()); uid != "" {
					limited = !users.allow(uid)
				}
			}
			if limited {
				w.Header().Set("Retry-After", "60")
				writeJSONError(w, http.StatusTooManyRequests, "resource-exhausted", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
