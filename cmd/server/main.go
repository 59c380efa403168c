package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cwrk-planet/pad/config"
	"github.com/cwrk-planet/pad/internal/postgres"
	"github.com/cwrk-planet/pad/internal/redisbus"
	"github.com/cwrk-planet/pad/internal/service"
	"github.com/cwrk-planet/pad/internal/store"
	memstore "github.com/cwrk-planet/pad/internal/store/memory"
	httpx "github.com/cwrk-planet/pad/internal/transport/http"
	"github.com/cwrk-planet/pad/internal/transport/ws"
	"github.com/cwrk-planet/pad/pkg/logger"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	instance := uuid.NewString()
	logger.Init(logger.Config{
		Env:        logger.ParseEnv(cfg.Logging.Env),
		Service:    cfg.Logging.Service,
		Version:    cfg.Logging.Version,
		InstanceID: instance,
		Backend:    logger.Backend(cfg.Logging.Backend),
		Level:      level,
		AddSource:  cfg.Logging.AddSource,
		Debug:      cfg.Logging.Debug,
	})
	slog.Info("starting pad server", "env", cfg.Logging.Env, "version", cfg.Logging.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// --- room store ---
	var rooms store.RoomStore
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:               cfg.Postgres.DSN,
			MaxConns:          cfg.Postgres.MaxConns,
			MinConns:          cfg.Postgres.MinConns,
			MaxConnLifetime:   cfg.MaxConnLifetime(),
			MaxConnIdleTime:   cfg.MaxConnIdleTime(),
			HealthCheckPeriod: cfg.HealthCheckPeriod(),
			ApplicationName:   cfg.Logging.Service,
		})
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()

		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			log.Fatalf("postgres schema: %v", err)
		}
		repo := postgres.NewRoomRepository(pool)
		listener := postgres.NewListener(pool, repo, slog.Default())
		repo.WithListener(listener)
		g.Go(func() error { return listener.Run(ctx) })
		rooms = repo
		slog.Info("room store: postgres")
	} else {
		rooms = memstore.New()
		slog.Warn("room store: memory, rooms are lost on restart")
	}

	// --- cross-instance bus ---
	var bus *redisbus.Bus
	if cfg.Redis.URL != "" {
		rdb, err := redisbus.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		bus = redisbus.New(rdb, instance, slog.Default())
	}

	// --- WS Hub & Server ---
	var hub *ws.Hub
	if bus != nil {
		hub = ws.NewHub(rooms, bus, slog.Default())
		g.Go(func() error { return bus.Run(ctx, hub.HandleRemote) })
	} else {
		hub = ws.NewHub(rooms, nil, slog.Default())
	}
	g.Go(func() error {
		hub.Run(ctx, cfg.PresenceInterval())
		return nil
	})
	wsServer := ws.NewServer(hub, ws.ServerConfig{
		PingEvery:     cfg.PingEvery(),
		RatePerSecond: cfg.Server.RatePerSecond,
		Burst:         cfg.Server.Burst,
		ReadLimit:     cfg.Server.ReadLimit,
	}, slog.Default())

	// --- HTTP ---
	roomSvc := service.NewRoomService(rooms, slog.Default())
	handler := httpx.NewHandler(roomSvc, slog.Default())
	router := httpx.NewRouter(handler, wsServer, httpx.RouterConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout(),
	}, slog.Default())
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// --- graceful shutdown ---
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}
