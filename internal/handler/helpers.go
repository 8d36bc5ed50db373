package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fanout/internal/chatsdk"
	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/service"
	"github.com/fanout/internal/ws"
)

// Стабильные коды ошибок в теле ответа.
const (
	codeInvalidArgument    = "invalid-argument"
	codeNotFound           = "not-found"
	codeFailedPrecondition = "failed-precondition"
	codeUnauthenticated    = "unauthenticated"
	codePermissionDenied   = "permission-denied"
	codeUnavailable        = "unavailable"
	codeInternal           = "internal"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// errorCode сопоставляет ошибку сервиса HTTP-статусу и коду.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidMembership),
		errors.Is(err, service.ErrInvalidPayload),
		errors.Is(err, service.ErrInvalidReaction),
		errors.Is(err, service.ErrInvalidCursor),
		errors.Is(err, model.ErrInvalidMessage),
		errors.Is(err, model.ErrInvalidToken):
		return http.StatusBadRequest, codeInvalidArgument
	case errors.Is(err, service.ErrChannelNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, service.ErrUnauthenticated),
		errors.Is(err, chatsdk.ErrInvalidToken),
		errors.Is(err, chatsdk.ErrTokenRevoked):
		return http.StatusUnauthorized, codeUnauthenticated
	case errors.Is(err, service.ErrNotMember), errors.Is(err, service.ErrNotAdmin):
		return http.StatusForbidden, codePermissionDenied
	case errors.Is(err, chatsdk.ErrNotConfigured), errors.Is(err, ws.ErrTooManySubscribers):
		return http.StatusServiceUnavailable, codeUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// writeServiceError пишет ошибку сервиса; внутренние ошибки логируются и не раскрываются клиенту.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorCode(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}

// decodeJSON читает тело запроса (не больше maxBodyBytes). Пустое тело допустимо, если allowEmpty.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, http.StatusBadRequest, codeInvalidArgument, "invalid body")
	return false
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// splitOrigins разбирает CORS_ALLOWED_ORIGINS: origins через запятую, пустое значение означает "*".
func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
