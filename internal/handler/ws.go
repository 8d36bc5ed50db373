package handler

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/middleware"
	"github.com/fanout/internal/service"
	"github.com/fanout/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// WSHandler — живая подписка на новые сообщения канала (subscribeNew) по WebSocket.
type WSHandler struct {
	channels       *service.ChannelService
	messages       *service.MessageService
	unread         *service.UnreadTracker
	limits         ws.Limits
	allowedOrigins string
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins задаются как в CORS (через запятую или "*").
func NewWSHandler(channels *service.ChannelService, messages *service.MessageService, unread *service.UnreadTracker, limits ws.Limits, allowedOrigins string) *WSHandler {
	return &WSHandler{
		channels:       channels,
		messages:       messages,
		unread:         unread,
		limits:         limits,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	allowed := splitOrigins(h.allowedOrigins)
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// Subscribe обрабатывает GET /ws/channels/{id}. История не воспроизводится: только сообщения после подключения.
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	channelID := chi.URLParam(r, "id")
	if _, err := h.channels.MemberChannel(r.Context(), channelID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, codePermissionDenied, "origin not allowed")
		return
	}

	// Контекст подписки живёт дольше запроса: после upgrade handler возвращается.
	ctx, cancel := context.WithCancel(context.Background())
	stream, stop, err := h.messages.SubscribeNew(ctx, channelID)
	if err != nil {
		cancel()
		writeServiceError(w, r, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		stop()
		cancel()
		return
	}

	client := ws.NewClient(conn, stream, userID, channelID, h.limits, func(ctx context.Context) {
		if err := h.unread.Reset(ctx, userID, channelID); err != nil {
			logger.Warnf("ws: reset unread %s/%s: %v", userID, channelID, err)
		}
	})
	client.Start(ctx, cancel)
	go func() {
		client.Wait()
		stop()
	}()
}
