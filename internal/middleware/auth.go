package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fanout/internal/logger"
	"github.com/golang-jwt/jwt/v5"
)

var errNoToken = errors.New("no bearer token")

// Auth требует валидный Bearer JWT (HS256, sub = user_id). Без него 401.
// Для WebSocket токен можно передать в ?access_token=, браузер не ставит заголовки при upgrade.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := userFromRequest(r, secret)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthenticated", "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// Identify ставит user_id, если токен валиден, и пропускает анонимов дальше.
// Нужен callable-методам: отсутствие личности они сообщают сами (failed-precondition).
func Identify(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := userFromRequest(r, secret); err == nil {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func userFromRequest(r *http.Request, secret string) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		return "", errNoToken
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		logger.Debugf("auth: rejected token %s: %v", MaskToken(raw), err)
		return "", errors.New("invalid token")
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", errors.New("token without subject")
	}
	return sub, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}
