package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"parley/internal/core/ports"
	"parley/internal/core/services"
	httphandlers "parley/internal/handlers/http"
	"parley/internal/infrastructure/middleware"
	"parley/internal/infrastructure/monitoring"
	"parley/internal/infrastructure/reliability"
	"parley/internal/infrastructure/repositories/memory"
	redisrepo "parley/internal/infrastructure/repositories/redis"
	signalws "parley/internal/infrastructure/signal"
	"parley/internal/registry"
	"parley/pkg/circuitbreaker"
	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// Load falls back to defaults plus env overrides when the file is absent.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog := logger.New(cfg.Logging.Level)
	defer zlog.Sync()
	slog := zlog.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "parley",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: os.Getenv("PARLEY_ENV"),
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		slog.Fatalw("failed to initialize tracing", "error", err)
	}
	defer tp.Shutdown(context.Background())

	// Storage collaborator: in-memory by default, Redis when configured.
	var (
		roomRepo    ports.RoomRepository
		messageRepo ports.MessageRepository
		rosterRepo  ports.RosterRepository
	)
	switch cfg.Storage.Backend {
	case "redis":
		client, err := redisrepo.NewRedisClient(
			cfg.Storage.Redis.Address,
			cfg.Storage.Redis.Password,
			cfg.Storage.Redis.DB,
			cfg.Storage.Redis.PoolSize,
			slog,
		)
		if err != nil {
			slog.Fatalw("failed to connect to redis", "error", err)
		}
		defer redisrepo.CloseRedisClient(client)

		roomRepo = memory.NewMemoryRoomRepository()
		messageRepo = redisrepo.NewRedisMessageRepository(client)
		rosterRepo = redisrepo.NewRedisRosterRepository(client)
	default:
		roomRepo = memory.NewMemoryRoomRepository()
		messageRepo = memory.NewMemoryMessageRepository()
		rosterRepo = memory.NewMemoryRosterRepository()
	}

	guardedStore := reliability.NewMessageStoreWrapper(messageRepo, circuitbreaker.DefaultConfig(), slog)

	var collector *monitoring.PrometheusCollector
	var wsMetrics signalws.Metrics = signalws.NopMetrics()
	var msgMetrics services.MessageMetrics = services.NopMessageMetrics{}
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector()
		wsMetrics = collector
		msgMetrics = collector
	}

	hub := signalws.NewHub(slog)
	reg := registry.New()
	auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Std())
	presence := services.NewPresenceService(rosterRepo, hub, slog)
	messages := services.NewMessageService(guardedStore, presence, hub, msgMetrics, slog)
	calls := services.NewCallService(hub, slog)

	wsServer := signalws.NewServer(hub, reg, presence, messages, calls, auth, signalws.Options{
		PingInterval:      cfg.Signal.PingInterval.Std(),
		PongTimeout:       cfg.Signal.PongTimeout.Std(),
		WriteTimeout:      cfg.Signal.WriteTimeout.Std(),
		SendQueueSize:     cfg.Signal.SendQueueSize,
		MaxMessageSize:    cfg.Signal.MaxMessageSize,
		RateLimitEnabled:  cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.MessagesPerSecond,
		Burst:             cfg.RateLimiting.Burst,
	}, wsMetrics, slog)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandlerMiddleware(slog))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	httphandlers.NewAuthHandler(auth).SetupRoutes(router)
	httphandlers.NewRoomHandler(roomRepo, guardedStore, messages, auth).SetupRoutes(router)

	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))
	router.GET("/health", gin.WrapF(wsServer.HealthCheck))
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	go func() {
		slog.Infow("starting relay", "address", cfg.Server.Address, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Errorw("shutdown failed", "error", err)
	}
}
