package middleware

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"runtime/debug"

	"github.com/fanout/internal/logger"
)

// responseWriter запоминает статус ответа для RequestLog и знает, отправлены ли заголовки.
type responseWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Hijack нужен для WebSocket upgrade.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
		w.wrote = true
	}
	return conn, rw, err
}

// writeJSONError пишет ошибку в том же формате, что и handler: {"error","code"}.
func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}

// RecoverJSON превращает панику обработчика в JSON 500, если ответ ещё не начат.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if err := recover(); err != nil {
				logger.Errorf("panic recovered in %s %s: %v\n%s", r.Method, r.URL.Path, err, debug.Stack())
				if !wrap.wrote {
					writeJSONError(wrap, http.StatusInternalServerError, "internal", "internal server error")
				}
			}
		}()
		next.ServeHTTP(wrap, r)
	})
}
