package middleware

import (
	"net"
	"net/http"
	"strings"
)

// InternalOnly пропускает запрос при X-Internal-Secret == secret или с приватного IP.
// Хуки и доставка пушей не экспонируются наружу; вызовы идут от api в той же сети.
func InternalOnly(secret string) func(http.Handler) http.Handler {
	secret = strings.TrimSpace(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" && r.Header.Get("X-Internal-Secret") == secret {
				next.ServeHTTP(w, r)
				return
			}
			if ip := clientIP(r); ip != "" && isPrivateIP(ip) {
				next.ServeHTTP(w, r)
				return
			}
			writeJSONError(w, http.StatusForbidden, "permission-denied", "forbidden")
		})
	}
}

// clientIP: X-Real-Ip, первый адрес X-Forwarded-For, иначе RemoteAddr без порта.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return strings.TrimSpace(ip)
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
