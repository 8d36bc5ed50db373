package handler

import (
	"net/http"

	"github.com/fanout/internal/middleware"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/service"
	"github.com/go-chi/chi/v5"
)

type ChannelHandler struct {
	channels *service.ChannelService
	unread   *service.UnreadTracker
	pageSize int
	pageMax  int
}

func NewChannelHandler(channels *service.ChannelService, unread *service.UnreadTracker, pageSize, pageMax int) *ChannelHandler {
	return &ChannelHandler{channels: channels, unread: unread, pageSize: pageSize, pageMax: pageMax}
}

type CreateChannelRequest struct {
	MemberIDs []string `json:"member_ids"`
	Name      *string  `json:"name"`
}

type CreateDirectRequest struct {
	UserID string `json:"user_id"`
}

type RenameChannelRequest struct {
	Name *string `json:"name"`
}

// Create обрабатывает POST /api/channels.
func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	userID := middleware.GetUserID(r.Context())
	c, err := h.channels.CreateChannel(r.Context(), userID, req.MemberIDs, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeChannel(w, r, http.StatusCreated, c, userID)
}

// CreateDirect обрабатывает POST /api/channels/direct: существующий личный канал или новый.
func (h *ChannelHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	var req CreateDirectRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	userID := middleware.GetUserID(r.Context())
	c, err := h.channels.CreateDirectChannel(r.Context(), userID, req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeChannel(w, r, http.StatusOK, c, userID)
}

// List обрабатывает GET /api/channels?cursor=&limit=.
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", h.pageSize)
	if limit <= 0 || limit > h.pageMax {
		limit = h.pageSize
	}
	page, err := h.channels.ListUserChannels(r.Context(), middleware.GetUserID(r.Context()), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Get обрабатывает GET /api/channels/{id}.
func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	c, err := h.channels.MemberChannel(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeChannel(w, r, http.StatusOK, c, userID)
}

// Rename обрабатывает PUT /api/channels/{id}/name. null или пустая строка снимают имя.
func (h *ChannelHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameChannelRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	userID := middleware.GetUserID(r.Context())
	c, err := h.channels.RenameChannel(r.Context(), userID, chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeChannel(w, r, http.StatusOK, c, userID)
}

// Members обрабатывает GET /api/channels/{id}/members.
func (h *ChannelHandler) Members(w http.ResponseWriter, r *http.Request) {
	c, err := h.channels.MemberChannel(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	members, err := h.channels.MemberProfiles(r.Context(), c)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// Open обрабатывает POST /api/channels/{id}/open: пользователь открыл канал, счётчик непрочитанных обнуляется.
func (h *ChannelHandler) Open(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	c, err := h.channels.MemberChannel(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.unread.Reset(r.Context(), userID, c.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unread обрабатывает GET /api/unread: ненулевые счётчики по каналам.
func (h *ChannelHandler) Unread(w http.ResponseWriter, r *http.Request) {
	counts, err := h.unread.ListForUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *ChannelHandler) writeChannel(w http.ResponseWriter, r *http.Request, status int, c *model.Channel, viewerID string) {
	title, err := h.channels.Title(r.Context(), c, viewerID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	unread, err := h.unread.Get(r.Context(), viewerID, c.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, model.ChannelWithUnread{Channel: *c, Title: title, UnreadCount: unread})
}
