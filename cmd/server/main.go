package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/multierr"

	"codecollab/internal/api"
	"codecollab/internal/config"
	"codecollab/internal/exec"
	"codecollab/internal/jobs"
	"codecollab/internal/presence"
	"codecollab/internal/repositories"
	"codecollab/internal/repositories/mongo"
	"codecollab/internal/repositories/sqlstore"
	"codecollab/internal/routers"
	"codecollab/internal/session"
	"codecollab/internal/utils"
)

var (
	listenAndServe  = func(srv *http.Server) error { return srv.ListenAndServe() }
	exitFunc        = defaultExit
	exit            = os.Exit
	shutdownTimeout = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		exitFunc(err)
	}
}

func defaultExit(err error) {
	log.Printf("collab-svc failed: %v", err)
	exit(1)
}

func run(ctx context.Context) (err error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := utils.NewLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	// released in reverse order once the server has stopped
	var closers []func(context.Context) error
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i](cctx))
		}
	}()

	checks := map[string]api.ReadinessCheck{}

	store, err := openStore(ctx, cfg, checks)
	if err != nil {
		return err
	}
	closers = append(closers, store.Close)

	var tracker presence.Tracker = presence.NewLocalTracker()
	var redisTracker *presence.RedisTracker
	if cfg.RedisAddr != "" {
		redisTracker = presence.NewRedisTracker(cfg.RedisAddr, cfg.PresenceTTL)
		checks["redis"] = redisTracker.Ping
		tracker = redisTracker
	}
	closers = append(closers, func(context.Context) error { return tracker.Close() })

	sandbox, err := openSandbox(cfg)
	if err != nil {
		return err
	}
	runner := exec.NewRunner(sandbox, cfg.ExecTimeout, logger.With("component", "runner"))

	registry := session.NewRegistry()
	engine := session.NewEngine(store, registry, runner, tracker, logger.With("component", "engine"))

	handlers := api.NewHandlers(logger, engine, api.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		EventsPerSecond: cfg.EventsPerSecond,
		EventBurst:      cfg.EventBurst,
		Checks:          checks,
	})
	// connections leave their rooms before the tracker and store close
	closers = append(closers, func(ctx context.Context) error {
		registry.Close()
		return handlers.Drain(ctx)
	})

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)
	r.Mount("/", routers.New(handlers, cfg.AllowedOrigins))

	refresher := jobs.NewPresenceRefreshJob(registry, tracker, cfg.RefreshSchedule, logger.With("component", "presence-refresh"))
	if err := refresher.Start(); err != nil {
		return err
	}
	closers = append(closers, func(context.Context) error {
		refresher.Stop()
		return nil
	})

	if redisTracker != nil {
		listenCtx, stopListening := context.WithCancel(context.Background())
		listener := jobs.NewRoomEventListener(redisTracker, engine, logger.With("component", "room-events"))
		listenDone := make(chan struct{})
		go func() {
			defer close(listenDone)
			if err := listener.Run(listenCtx); err != nil {
				logger.Error("room event listener stopped", "error", err)
			}
		}()
		closers = append(closers, func(context.Context) error {
			stopListening()
			<-listenDone
			return nil
		})
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("collab-svc listening", "addr", srv.Addr, "store", cfg.StoreDriver, "sandbox", cfg.SandboxBackend)
		serveErr <- listenAndServe(srv)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("collab-svc shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func openStore(ctx context.Context, cfg *config.Config, checks map[string]api.ReadinessCheck) (repositories.ProjectRepository, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := mongo.NewClient(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		repo, err := mongo.NewProjectRepo(client, cfg.MongoDB, cfg.MongoCollection)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		checks["mongo"] = repo.Ping
		return repo, nil
	case config.StorePostgres, config.StoreSQLite:
		repo, err := sqlstore.Open(cfg.StoreDriver, cfg.SQLDSN)
		if err != nil {
			return nil, err
		}
		checks[cfg.StoreDriver] = repo.Ping
		return repo, nil
	default:
		return repositories.NewMemoryProjectRepository(), nil
	}
}

func openSandbox(cfg *config.Config) (exec.Sandbox, error) {
	if cfg.SandboxBackend == config.SandboxDocker {
		return exec.NewDockerSandbox(exec.SandboxLimits{})
	}
	return exec.NewJudge0Client(cfg.SandboxURL, cfg.SandboxAPIKey, cfg.SandboxAPIHost), nil
}
