package handler

import (
	"net/http"

	"github.com/fanout/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Handlers — все обработчики API.
type Handlers struct {
	Tokens   *TokenHandler
	Channels *ChannelHandler
	Messages *MessageHandler
	Users    *UserHandler
	RPC      *RPCHandler
	Hooks    *HookHandler
	WS       *WSHandler
	Config   *ConfigHandler
}

// RouterConfig — параметры middleware.
type RouterConfig struct {
	JWTSecret          string
	InternalSecret     string
	CORSAllowedOrigins string
	RateLimitPerIP     int
	RateLimitPerUser   int
}

// NewRouter собирает маршруты API.
func NewRouter(h Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if h.Config != nil {
		r.Get("/api/config/push", h.Config.GetPushConfig)
		r.Get("/api/config/paging", h.Config.GetPagingConfig)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly(cfg.InternalSecret))
		r.Post("/internal/hooks/user-created", h.Hooks.UserCreated)
		r.Post("/internal/hooks/user-deleted", h.Hooks.UserDeleted)
		r.Post("/internal/chat-sdk/verify", h.Hooks.VerifyChatSDKToken)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identify(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitPerIP, cfg.RateLimitPerUser))
		r.Post("/api/rpc/send-reaction-notification", h.RPC.SendReactionNotification)
		r.Post("/api/rpc/issue-chat-sdk-token", h.RPC.IssueChatSDKToken)
		r.Post("/api/rpc/revoke-chat-sdk-token", h.RPC.RevokeChatSDKToken)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitPerIP, cfg.RateLimitPerUser))

		r.Put("/api/tokens", h.Tokens.Register)
		r.Delete("/api/tokens", h.Tokens.Revoke)
		r.Delete("/api/tokens/all", h.Tokens.RevokeAll)
		r.Get("/api/tokens", h.Tokens.List)

		r.Get("/api/users/me", h.Users.GetProfile)
		r.Put("/api/users/me", h.Users.UpdateProfile)

		r.Get("/api/unread", h.Channels.Unread)
		r.Post("/api/channels", h.Channels.Create)
		r.Post("/api/channels/direct", h.Channels.CreateDirect)
		r.Get("/api/channels", h.Channels.List)
		r.Get("/api/channels/{id}", h.Channels.Get)
		r.Put("/api/channels/{id}/name", h.Channels.Rename)
		r.Get("/api/channels/{id}/members", h.Channels.Members)
		r.Post("/api/channels/{id}/open", h.Channels.Open)

		r.Post("/api/channels/{id}/messages", h.Messages.Append)
		r.Get("/api/channels/{id}/messages", h.Messages.List)
		r.Get("/api/channels/{id}/messages/first", h.Messages.First)
		r.Put("/api/channels/{id}/messages/{mid}/reaction", h.Messages.React)
		r.Delete("/api/channels/{id}/messages/{mid}/reaction", h.Messages.Unreact)

		r.Get("/ws/channels/{id}", h.WS.Subscribe)
	})
	return r
}
