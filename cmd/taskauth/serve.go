package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"golang.org/x/time/rate"

	auth "github.com/goliatone/go-taskauth"
	"github.com/goliatone/go-taskauth/activitymap"
	"github.com/goliatone/go-taskauth/internal/config"
	"github.com/goliatone/go-taskauth/internal/persistence"
	"github.com/goliatone/go-taskauth/middleware/ratelimit"
	"github.com/goliatone/go-taskauth/repository"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.cfgFile)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger := newLogger(cfg.Logging.Level, cfg.Logging.Format, root.verbose)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := newServer(ctx, cfg, logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer srv.Close()

			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

type server struct {
	http    router.Server[*fiber.App]
	app     *fiber.App
	db      *bun.DB
	cfg     *config.Config
	logger  auth.Logger
	closers []func() error
}

func newServer(ctx context.Context, cfg *config.Config, logger auth.Logger, reg *prometheus.Registry) (*server, error) {
	srv := &server{cfg: cfg, logger: logger}

	db, err := persistence.Open(ctx, persistence.Options{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		Debug:    cfg.Database.Debug,
		AutoInit: cfg.Database.AutoInit,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	srv.db = db
	srv.closers = append(srv.closers, db.Close)

	var repoOpts []auth.RepositoryManagerOption
	if cfg.Redis.URL != "" {
		store, err := repository.NewRedisRefreshTokensFromURL(cfg.Redis.URL, repository.WithKeyPrefix(cfg.Redis.KeyPrefix))
		if err != nil {
			srv.Close()
			return nil, err
		}
		srv.closers = append(srv.closers, store.Close)
		if err := store.Ping(ctx); err != nil {
			srv.Close()
			return nil, err
		}
		logger.Info("using redis refresh token store", "prefix", cfg.Redis.KeyPrefix)
		repoOpts = append(repoOpts, auth.WithRefreshTokenStore(store))
	}

	repo := auth.NewRepositoryManager(db, repoOpts...)
	if err := repo.Validate(); err != nil {
		srv.Close()
		return nil, err
	}

	auther, err := auth.NewAutherFromConfig(cfg, repo, logger)
	if err != nil {
		srv.Close()
		return nil, err
	}

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := auth.NewMetricsSink(reg)

	auther.
		WithActivitySink(auth.MultiActivitySink{
			activitymap.NewLogSink(logger, activitymap.WithRedactedKeys("email")),
			metrics,
		}).
		WithHashidUserIDs(cfg.Auth.HashidUserIDs)

	httpAuth := auth.NewHTTPAuthenticator(auther, cfg).WithLogger(logger)

	httpSrv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		app := fiber.New(fiber.Config{
			AppName:      "taskauth " + version,
			ErrorHandler: httpAuth.ErrorHandler,
		})
		app.Use(recover.New())
		app.Use(requestid.New())
		app.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))
		app.Use(metrics.Middleware())
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
		return app
	})

	limiter := ratelimit.New(ctx, ratelimit.Config{
		Rate:  rate.Limit(cfg.Server.RateLimit),
		Burst: cfg.Server.RateBurst,
		ErrorHandler: func(c router.Context) error {
			return auth.ErrRateLimited
		},
	})

	api := httpSrv.Router()
	auth.RegisterAuthRoutes(api,
		auth.WithControllerLogger(logger),
		auth.WithControllerRepository(repo),
		auth.WithControllerAuther(auther, httpAuth),
		auth.WithControllerRateLimiter(limiter.Middleware()),
		auth.WithControllerDebug(cfg.Server.Debug),
	)
	api.Get("/health", srv.health).SetName("health")

	httpSrv.Init()

	auther.Issuer().StartJanitor(ctx, cfg.Server.JanitorInterval)

	srv.http = httpSrv
	srv.app = httpSrv.WrappedRouter()
	return srv, nil
}

func corsConfig(origins []string) cors.Config {
	allowed := strings.Join(origins, ",")
	return cors.Config{
		AllowOrigins: allowed,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		// fiber rejects credentials with a wildcard origin
		AllowCredentials: allowed != "*" && allowed != "",
	}
}

func (s *server) health(c router.Context) error {
	if err := s.db.PingContext(c.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		return c.JSON(router.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(router.StatusOK, map[string]string{"status": "ok"})
}

// Run serves until ctx is done, then shuts down gracefully
func (s *server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Server.Addr)
		errCh <- s.http.Serve(s.cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *server) Close() {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("close failed", "error", err)
	}
}
