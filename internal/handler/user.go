package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/fanout/internal/middleware"
	"github.com/fanout/internal/service"
)

type UserHandler struct {
	users *service.UserService
}

func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// ProfileResponse — профиль текущего пользователя (публичная часть + email).
type ProfileResponse struct {
	ID              string  `json:"id"`
	DisplayName     string  `json:"display_name"`
	Email           string  `json:"email"`
	Bio             string  `json:"bio"`
	ProfileImageURL *string `json:"profile_image_url,omitempty"`
}

type UpdateProfileRequest struct {
	DisplayName     *string `json:"display_name"`
	Bio             *string `json:"bio"`
	ProfileImageURL *string `json:"profile_image_url"`
}

// GetProfile обрабатывает GET /api/users/me.
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetProfile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{
		ID: u.ID, DisplayName: u.DisplayName, Email: u.Email, Bio: u.BioOrDefault(), ProfileImageURL: u.ProfileImageURL,
	})
}

// UpdateProfile обрабатывает PUT /api/users/me. Меняются только переданные поля.
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	// Картинка профиля загружается во внешнее хранилище, сюда приходит только URL.
	if req.ProfileImageURL != nil && *req.ProfileImageURL != "" && !validURL(*req.ProfileImageURL) {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "profile_image_url must be an absolute http(s) URL")
		return
	}
	u, err := h.users.UpdateProfile(r.Context(), middleware.GetUserID(r.Context()), req.DisplayName, req.Bio, req.ProfileImageURL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{
		ID: u.ID, DisplayName: u.DisplayName, Email: u.Email, Bio: u.BioOrDefault(), ProfileImageURL: u.ProfileImageURL,
	})
}

func validURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
