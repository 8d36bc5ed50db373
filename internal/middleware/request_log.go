package middleware

import (
	"net/http"
	"time"

	"github.com/fanout/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path, статус и время выполнения (асинхронно, не блокирует).
// Ставить после RecoverJSON: статус берётся из его обёртки.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		status := http.StatusOK
		if rw, ok := w.(*responseWriter); ok {
			status = rw.status
		}
		if status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s -> %d (%s)", r.Method, r.URL.Path, status, time.Since(start))
			return
		}
		logger.LogDuration("http "+r.Method+" "+r.URL.Path, start)
	})
}
