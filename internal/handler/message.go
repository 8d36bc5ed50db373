package handler

import (
	"net/http"

	"github.com/fanout/internal/middleware"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/service"
	"github.com/go-chi/chi/v5"
)

type MessageHandler struct {
	channels *service.ChannelService
	messages *service.MessageService
}

func NewMessageHandler(channels *service.ChannelService, messages *service.MessageService) *MessageHandler {
	return &MessageHandler{channels: channels, messages: messages}
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// Append обрабатывает POST /api/channels/{id}/messages. Ответ не ждёт рассылки пушей.
func (h *MessageHandler) Append(w http.ResponseWriter, r *http.Request) {
	var p model.MessagePayload
	if !decodeJSON(w, r, &p, false) {
		return
	}
	m, err := h.messages.AppendMessage(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// List обрабатывает GET /api/channels/{id}/messages?cursor=&limit=.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "id")
	if _, err := h.channels.MemberChannel(r.Context(), channelID, middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	page, err := h.messages.PaginateBackward(r.Context(), channelID, r.URL.Query().Get("cursor"), queryInt(r, "limit", 0))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if page.Messages == nil {
		page.Messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, page)
}

// First обрабатывает GET /api/channels/{id}/messages/first: граница истории.
func (h *MessageHandler) First(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "id")
	if _, err := h.channels.MemberChannel(r.Context(), channelID, middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	m, err := h.messages.GetFirstMessage(r.Context(), channelID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// React обрабатывает PUT /api/channels/{id}/messages/{mid}/reaction {emoji}.
func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	var req ReactionRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	m, err := h.messages.ReactToMessage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "mid"), middleware.GetUserID(r.Context()), req.Emoji)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Unreact обрабатывает DELETE /api/channels/{id}/messages/{mid}/reaction.
func (h *MessageHandler) Unreact(w http.ResponseWriter, r *http.Request) {
	m, err := h.messages.RemoveReaction(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "mid"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
