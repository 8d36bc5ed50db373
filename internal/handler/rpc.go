package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/fanout/internal/middleware"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/service"
)

// Deliverer — одиночная доставка пуша (fanout.Dispatcher).
type Deliverer interface {
	Deliver(ctx context.Context, token model.DeviceToken, title, body string) error
}

// RPCHandler — callable-методы. Без личности вызывающего они отвечают 412 failed-precondition.
type RPCHandler struct {
	users     *service.UserService
	deliverer Deliverer
}

func NewRPCHandler(users *service.UserService, deliverer Deliverer) *RPCHandler {
	return &RPCHandler{users: users, deliverer: deliverer}
}

type SendReactionNotificationRequest struct {
	Token               string `json:"token"`
	ChannelNameAtSend   string `json:"channelNameAtSend"`
	NotificationMessage string `json:"notificationMessage"`
}

type ChatSDKTokenResponse struct {
	Token string `json:"token"`
}

func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusPreconditionFailed, codeFailedPrecondition, "the function must be called while authenticated")
		return "", false
	}
	return userID, true
}

// SendReactionNotification обрабатывает POST /api/rpc/send-reaction-notification: один пуш на один FCM-токен.
func (h *RPCHandler) SendReactionNotification(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCaller(w, r); !ok {
		return
	}
	var req SendReactionNotificationRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Token) == "" || strings.TrimSpace(req.NotificationMessage) == "" {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "token and notificationMessage are required")
		return
	}
	tok := model.DeviceToken{Kind: model.TokenKindFCM, Value: req.Token}
	if err := h.deliverer.Deliver(r.Context(), tok, req.ChannelNameAtSend, req.NotificationMessage); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IssueChatSDKToken обрабатывает POST /api/rpc/issue-chat-sdk-token.
func (h *RPCHandler) IssueChatSDKToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	tok, err := h.users.IssueChatSDKToken(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatSDKTokenResponse{Token: tok})
}

// RevokeChatSDKToken обрабатывает POST /api/rpc/revoke-chat-sdk-token.
func (h *RPCHandler) RevokeChatSDKToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := h.users.RevokeChatSDKToken(r.Context(), userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
