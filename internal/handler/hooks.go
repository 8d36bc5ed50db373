package handler

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/fanout/internal/model"
	"github.com/fanout/internal/service"
)

// HookHandler — хуки жизненного цикла аккаунта от внешней системы аутентификации (только internal).
type HookHandler struct {
	users *service.UserService
}

func NewHookHandler(users *service.UserService) *HookHandler {
	return &HookHandler{users: users}
}

type UserCreatedRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	PhotoURL    string `json:"photo_url"`
}

type UserDeletedRequest struct {
	ID string `json:"id"`
}

// UserCreated обрабатывает POST /internal/hooks/user-created.
func (h *HookHandler) UserCreated(w http.ResponseWriter, r *http.Request) {
	var req UserCreatedRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidArgument, "invalid email format")
			return
		}
	}
	u := &model.User{ID: strings.TrimSpace(req.ID), DisplayName: req.DisplayName, Email: email}
	if photo := strings.TrimSpace(req.PhotoURL); photo != "" {
		if !validURL(photo) {
			writeError(w, http.StatusBadRequest, codeInvalidArgument, "photo_url must be an absolute http(s) URL")
			return
		}
		u.ProfileImageURL = &photo
	}
	created, err := h.users.OnUserCreated(r.Context(), u)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created.ToPublic())
}

// UserDeleted обрабатывает POST /internal/hooks/user-deleted.
func (h *HookHandler) UserDeleted(w http.ResponseWriter, r *http.Request) {
	var req UserDeletedRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.users.OnUserDeleted(r.Context(), req.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type VerifyChatSDKTokenRequest struct {
	Token string `json:"token"`
}

type VerifyChatSDKTokenResponse struct {
	UserID string `json:"user_id"`
}

// VerifyChatSDKToken обрабатывает POST /internal/chat-sdk/verify.
// Отозванный или просроченный токен получает 401.
func (h *HookHandler) VerifyChatSDKToken(w http.ResponseWriter, r *http.Request) {
	var req VerifyChatSDKTokenRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	uid, err := h.users.VerifyChatSDKToken(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyChatSDKTokenResponse{UserID: uid})
}
