package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanout/internal/chatsdk"
	"github.com/fanout/internal/config"
	"github.com/fanout/internal/fanout"
	"github.com/fanout/internal/handler"
	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/push"
	"github.com/fanout/internal/repository"
	"github.com/fanout/internal/service"
	"github.com/fanout/internal/startup"
	"github.com/fanout/internal/storage"
	"github.com/fanout/internal/storage/memory"
	"github.com/fanout/internal/ws"
	"github.com/fanout/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	defer logger.Flush(2 * time.Second)

	if err := run(cfg, *dev, *migrate); err != nil {
		logger.Errorf("api: %v", err)
		logger.Flush(2 * time.Second)
		os.Exit(1)
	}
}

// backend — хранилища, выбранные по STORE_BACKEND.
type backend struct {
	store  storage.Store
	kv     storage.KV
	broker storage.Broker
	close  func()
}

func run(cfg *config.Config, dev, migrateOnly bool) error {
	var (
		b   *backend
		err error
	)
	if cfg.StoreBackend == config.BackendMemory {
		b = memoryBackend(cfg)
	} else {
		b, err = postgresBackend(cfg, dev, migrateOnly)
		if err != nil {
			return err
		}
	}
	if b == nil {
		return nil
	}
	defer b.close()

	sender, err := pushSender(cfg)
	if err != nil {
		return err
	}

	tokens := service.NewTokenRegistry(b.kv)
	unread := service.NewUnreadTracker(b.kv, cfg.UnreadMaxRetries)
	channels := service.NewChannelService(b.store, unread, cfg.PageSizeDefault, cfg.PageSizeMax)
	dispatcher := fanout.NewDispatcher(channels, tokens, unread, sender, fanout.Options{
		Concurrency: cfg.FanoutConcurrency,
		Timeout:     cfg.FanoutTimeout,
		Badge:       cfg.Push.Badge,
	})
	messages := service.NewMessageService(b.store, channels, b.broker, dispatcher, cfg.PageSizeDefault, cfg.PageSizeMax)
	users := service.NewUserService(b.store, tokens,
		chatsdk.NewIssuer(cfg.ChatSDK.Secret, cfg.ChatSDK.APIKey, cfg.ChatSDK.TokenTTL, b.kv),
		chatsdk.NewIdentityClient(cfg.ChatSDK.URL, cfg.ChatSDK.APIKey, cfg.ChatSDK.Secret))

	limits := ws.Limits{
		WriteWait:      time.Duration(cfg.WSWriteTimeout) * time.Second,
		PongWait:       time.Duration(cfg.WSPongTimeout) * time.Second,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
	}
	router := handler.NewRouter(handler.Handlers{
		Tokens:   handler.NewTokenHandler(tokens),
		Channels: handler.NewChannelHandler(channels, unread, cfg.PageSizeDefault, cfg.PageSizeMax),
		Messages: handler.NewMessageHandler(channels, messages),
		Users:    handler.NewUserHandler(users),
		RPC:      handler.NewRPCHandler(users, dispatcher),
		Hooks:    handler.NewHookHandler(users),
		WS:       handler.NewWSHandler(channels, messages, unread, limits, cfg.CORSAllowedOrigins),
		Config:   handler.NewConfigHandler(cfg),
	}, handler.RouterConfig{
		JWTSecret:          cfg.AuthJWTSecret,
		InternalSecret:     cfg.InternalSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerIP:     cfg.RateLimitPerIP,
		RateLimitPerUser:   cfg.RateLimitPerUser,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s (store=%s)", cfg.ServerAddr, cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Errorf("fanout drain: %v", err)
	} else {
		logger.Info("fanout drained")
	}
	srvWg.Wait()
	return serveErr
}

func memoryBackend(cfg *config.Config) *backend {
	logger.Warnf("STORE_BACKEND=memory: данные живут только в процессе")
	hub := ws.NewHub(cfg.WSMaxSubscribers, cfg.WSSendBufferSize)
	kv := memory.New()
	return &backend{
		store:  memory.NewStore(),
		kv:     kv,
		broker: hub,
		close: func() {
			if err := hub.Close(); err != nil {
				logger.Errorf("hub close: %v", err)
			}
			_ = kv.Close()
		},
	}
}

// postgresBackend возвращает nil без ошибки, если запрошены только миграции.
func postgresBackend(cfg *config.Config, dev, migrateOnly bool) (*backend, error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if dev {
		embeddedDB, err := startEmbeddedPostgres(cfg)
		if err != nil {
			return nil, fmt.Errorf("embedded postgres: %w", err)
		}
		closers = append(closers, func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		})
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool, err := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, pool.Close)

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = migrations.Apply(migrateCtx, pool)
	cancel()
	if err != nil {
		closeAll()
		return nil, err
	}
	logger.Info("database connected, migrations applied")
	if migrateOnly && !dev {
		closeAll()
		return nil, nil
	}

	rdb, err := startup.ConnectRedisWithRetry(cfg.RedisURL, 60*time.Second, "")
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, func() {
		if err := rdb.Close(); err != nil {
			logger.Errorf("redis close: %v", err)
		}
	})
	logger.Info("redis connected")

	return &backend{
		store:  repository.NewPostgres(pool),
		kv:     rdb,
		broker: rdb,
		close:  closeAll,
	}, nil
}

// pushSender: с PUSH_SERVICE_URL доставка уходит в services/push, иначе API шлёт сам.
func pushSender(cfg *config.Config) (push.Sender, error) {
	if cfg.Push.ServiceURL != "" {
		logger.Infof("push: доставка через %s", cfg.Push.ServiceURL)
		return push.NewClient(cfg.Push.ServiceURL, cfg.InternalSecret), nil
	}
	keys, err := push.ResolveVAPIDKeys(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.VAPIDKeysFile)
	if err != nil {
		return nil, err
	}
	cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey = keys.PublicKey, keys.PrivateKey

	router := push.NewRouter()
	if s := push.NewFCMSender(cfg.Push.FCMEndpoint, cfg.Push.FCMServerKey); s != nil {
		router.Handle(model.TokenKindFCM, s)
	} else {
		logger.Warnf("push: FCM_SERVER_KEY не задан, FCM-токены доставляться не будут")
	}
	if s := push.NewWebPushSender(keys.PublicKey, keys.PrivateKey, cfg.Push.VAPIDSubject); s != nil {
		router.Handle(model.TokenKindWebPush, s)
	}
	return router, nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "fanout"
		password = "fanout_secret"
		database = "fanout"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
