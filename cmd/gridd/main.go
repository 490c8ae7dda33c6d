// Command gridd runs the infrastructure sharing network service.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hexonomy/gridshare/internal/app"
	"github.com/hexonomy/gridshare/internal/app/storage/postgres"
	"github.com/hexonomy/gridshare/internal/config"
	"github.com/hexonomy/gridshare/internal/middleware"
	"github.com/hexonomy/gridshare/internal/platform/database"
	"github.com/hexonomy/gridshare/internal/platform/migrations"
	"github.com/hexonomy/gridshare/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("gridd").WithError(err).Error("load configuration failed")
		os.Exit(1)
	}

	log := logger.New(cfg.Logging).WithField("component", "gridd")

	var stores app.Stores
	if cfg.Database.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		db, err := database.Open(ctx, cfg.Database.DSN)
		cancel()
		if err != nil {
			log.WithError(err).Error("open database failed")
			os.Exit(1)
		}
		defer db.Close()

		if err := migrations.Apply(context.Background(), db); err != nil {
			log.WithError(err).Error("apply migrations failed")
			os.Exit(1)
		}

		pg := postgres.New(db)
		stores = app.Stores{Facilities: pg, Connections: pg, Subscriptions: pg}
		log.Info("using postgres storage")
	} else {
		log.Info("using in-memory storage")
	}

	application := app.New(cfg, stores, logger.New(cfg.Logging))

	router := application.Router()
	router.Use(middleware.LoggingMiddleware(logger.New(cfg.Logging).WithField("component", "http")))
	router.Use(middleware.MetricsMiddleware())

	var handler http.Handler = router
	rl := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger.New(cfg.Logging).WithField("component", "ratelimit"))
	handler = rl.Handler(handler)
	if cfg.Auth.Secret != "" {
		auth := middleware.NewAuthMiddleware([]byte(cfg.Auth.Secret), logger.New(cfg.Logging).WithField("component", "auth"), cfg.Auth.SkipPaths)
		handler = auth.Handler(handler)
	} else {
		log.Warn("auth secret not set, requests are unauthenticated")
	}
	handler = middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins).Handler(handler)

	if err := application.Start(context.Background()); err != nil {
		log.WithError(err).Error("start background services failed")
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("server listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		log.WithError(err).Error("server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("server shutdown failed")
	}
	if err := application.Stop(ctx); err != nil {
		log.WithError(err).Warn("background services stop failed")
	}
	log.Info("shutdown complete")
}
