package handler

import (
	"net/http"

	"github.com/fanout/internal/middleware"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/service"
)

// TokenHandler — регистрация токенов устройств текущего пользователя.
type TokenHandler struct {
	tokens *service.TokenRegistry
}

func NewTokenHandler(tokens *service.TokenRegistry) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// Register обрабатывает PUT /api/tokens {kind, value}. Kind по умолчанию fcm.
func (h *TokenHandler) Register(w http.ResponseWriter, r *http.Request) {
	var tok model.DeviceToken
	if !decodeJSON(w, r, &tok, false) {
		return
	}
	if tok.Kind == "" {
		tok.Kind = model.TokenKindFCM
	}
	if err := h.tokens.RegisterToken(r.Context(), middleware.GetUserID(r.Context()), tok); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Revoke обрабатывает DELETE /api/tokens {kind, value}.
func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var tok model.DeviceToken
	if !decodeJSON(w, r, &tok, false) {
		return
	}
	if tok.Kind == "" {
		tok.Kind = model.TokenKindFCM
	}
	if err := h.tokens.RevokeToken(r.Context(), middleware.GetUserID(r.Context()), tok); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeAll обрабатывает DELETE /api/tokens/all (выход со всех устройств).
func (h *TokenHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.RevokeAllTokens(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List обрабатывает GET /api/tokens.
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	tokens := h.tokens.GetTokens(r.Context(), middleware.GetUserID(r.Context()))
	if tokens == nil {
		tokens = []model.DeviceToken{}
	}
	writeJSON(w, http.StatusOK, tokens)
}
