package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/middleware"
	"github.com/fanout/internal/push"
)

type server struct {
	sender         push.Sender
	vapidPublicKey string
}

func (s *server) handleVAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if s.vapidPublicKey == "" {
		http.Error(w, "push not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(s.vapidPublicKey))
}

// handleDeliver отвечает 204 при доставке, 410 для недействительного токена и 502 при отказе провайдера.
func (s *server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var req push.DeliverRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Token.Value) == "" {
		http.Error(w, "token required", http.StatusBadRequest)
		return
	}
	err := s.sender.Send(r.Context(), req.Token, req.Payload)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, push.ErrTokenExpired):
		logger.Infof("deliver: token %s expired", middleware.MaskToken(req.Token.Value))
		w.WriteHeader(http.StatusGone)
	default:
		logger.Errorf("deliver: token %s: %v", middleware.MaskToken(req.Token.Value), err)
		http.Error(w, "delivery failed", http.StatusBadGateway)
	}
}
