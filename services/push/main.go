// Микросервис доставки пушей: принимает один (токен, payload) от API и отправляет через FCM или Web Push (VAPID).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fanout/internal/config"
	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/middleware"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/push"
)

func main() {
	logger.SetPrefix("push")
	if len(os.Args) > 1 && (os.Args[1] == "-gen-vapid" || os.Args[1] == "--gen-vapid") {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("generate VAPID: %v", err)
			logger.Flush(time.Second)
			os.Exit(1)
		}
		logger.Infof("VAPID_PUBLIC_KEY=%s", pub)
		logger.Infof("VAPID_PRIVATE_KEY=%s", priv)
		logger.Flush(time.Second)
		return
	}
	logger.Info("starting push service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	defer logger.Flush(2 * time.Second)

	keys, err := push.ResolveVAPIDKeys(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.VAPIDKeysFile)
	if err != nil {
		logger.Errorf("VAPID: %v", err)
		logger.Flush(time.Second)
		os.Exit(1)
	}

	router := push.NewRouter()
	if s := push.NewFCMSender(cfg.Push.FCMEndpoint, cfg.Push.FCMServerKey); s != nil {
		router.Handle(model.TokenKindFCM, s)
	} else {
		logger.Warnf("FCM_SERVER_KEY не задан, FCM-токены доставляться не будут")
	}
	if s := push.NewWebPushSender(keys.PublicKey, keys.PrivateKey, cfg.Push.VAPIDSubject); s != nil {
		router.Handle(model.TokenKindWebPush, s)
	}
	logger.Infof("push senders: %v", router.Kinds())

	srv := &http.Server{
		Addr:         cfg.PushServerAddr,
		Handler:      newRouter(router, keys.PublicKey, cfg.InternalSecret),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("push server listening on %s", cfg.PushServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("push server: %v", err)
			logger.Flush(time.Second)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("push server stopped")
}

func newRouter(sender push.Sender, vapidPublicKey, internalSecret string) http.Handler {
	s := &server{sender: sender, vapidPublicKey: vapidPublicKey}
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/vapid-public", s.handleVAPIDPublic)
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly(internalSecret))
		r.Post("/internal/deliver", s.handleDeliver)
	})
	return r
}
