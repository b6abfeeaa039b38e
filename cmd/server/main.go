package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/grpc"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/config"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/di"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/router"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.GetGlobal().LogError(err, "Failed to load configuration")
		os.Exit(1)
	}

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	logConfig.File = cfg.Logging.File

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	if err := run(cfg, log); err != nil {
		log.LogError(err, "Server stopped with error")
		os.Exit(1)
	}
	log.Info("Server exited gracefully")
}

func run(cfg *config.Config, log *logger.Logger) error {
	db, err := config.NewDB(cfg)
	if err != nil {
		return err
	}

	container, err := di.New(cfg, db, log)
	if err != nil {
		return err
	}

	r := router.New(container)
	r.SetupRoutes()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := grpc.NewServer(log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Server.GRPCPort != "" {
		g.Go(func() error {
			return grpcServer.ListenAndServe(gctx, cfg.Server.GRPCPort)
		})
		g.Go(func() error {
			grpcServer.Track(gctx, container.Health, 15*time.Second)
			return nil
		})
	}

	g.Go(func() error {
		container.Health.Start(gctx)
		r.RateLimiter.RunCleanup(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// close room sockets first; hijacked connections are not tracked by srv
		hubErr := container.Hub.Shutdown(shutdownCtx)
		srvErr := srv.Shutdown(shutdownCtx)
		closeErr := container.Close(shutdownCtx)

		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
		return errors.Join(hubErr, srvErr, closeErr)
	})

	return g.Wait()
}
