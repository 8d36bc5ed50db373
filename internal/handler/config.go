package handler

import (
	"net/http"

	"github.com/fanout/internal/config"
)

// ConfigHandler отдаёт публичные параметры конфигурации клиенту.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на Web Push (если включён).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Push.VAPIDPublicKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.cfg.Push.VAPIDPublicKey,
	})
}

// GetPagingConfig отдаёт размеры страниц, чтобы клиент не запрашивал больше максимума.
func (h *ConfigHandler) GetPagingConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"page_size_default": h.cfg.PageSizeDefault,
		"page_size_max":     h.cfg.PageSizeMax,
	})
}
