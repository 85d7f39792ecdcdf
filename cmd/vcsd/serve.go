package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/api"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/broadcast"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/config"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore"
	_ "github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore/bolt"
	_ "github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore/memory"
	_ "github.com/yumyum-web/realtime-collaborative-code-editor-sub000/datastore/mongodb"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/internal/engine"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/logging"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/metrics"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/pool"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/vcs"
)

var (
	configFile string
	debugMode  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file")
	serveCmd.Flags().BoolVar(&debugMode, "debug", false, "Run gin in debug mode")
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger(logging.Config{
		Level:     logging.ParseLevel(cfg.Logging.Level),
		Output:    os.Stdout,
		Component: cfg.Logging.Component,
		Format:    cfg.Logging.Format,
	})
	logging.SetDefaultLogger(logger)

	if !debugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	gitPath, err := engine.LookupGit(cfg.Storage.GitBinary)
	if err != nil {
		return err
	}
	logger.WithField("git", gitPath).Info("Using git binary")

	var m *metrics.PrometheusMetrics
	if cfg.Metrics.Enabled {
		m = metrics.NewPrometheusMetrics()
	}

	store, err := datastore.Open(datastore.Config{
		Type:              cfg.Datastore.Type,
		Connection:        cfg.Datastore.Connection,
		Database:          cfg.Datastore.Database,
		ConnectionTimeout: cfg.Datastore.ConnectTimeout,
		OperationTimeout:  cfg.Datastore.OperationTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s document store: %w", cfg.Datastore.Type, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WarnWithErr("Failed to close document store", err)
		}
	}()

	author := engine.Signature{Name: cfg.VCS.AuthorName, Email: cfg.VCS.AuthorEmail}
	repoPool := pool.NewRepositoryPool(pool.PoolConfig{
		Root:            cfg.Storage.ReposRoot,
		DefaultBranch:   cfg.VCS.DefaultBranch,
		MaxIdleTime:     cfg.Pool.MaxIdleTime,
		CleanupInterval: cfg.Pool.CleanupInterval,
		MaxRepositories: cfg.Pool.MaxRepositories,
		Engine:          engine.Options{GitBinary: cfg.Storage.GitBinary, Author: author},
	}, store, logger, m)
	defer repoPool.Close()

	hub := broadcast.NewHub(broadcast.Config{
		Workers:      cfg.Broadcast.Workers,
		QueueSize:    cfg.Broadcast.QueueSize,
		ClientBuffer: cfg.Broadcast.ClientBuffer,
	}, logger, m)
	defer hub.Close()

	if cfg.Broadcast.RedisEnabled {
		client, err := broadcast.NewRedisClient(cfg.Broadcast.RedisURL)
		if err != nil {
			return err
		}
		relay := broadcast.NewRedisRelay(client, hub, logger)
		if err := relay.Start(ctx); err != nil {
			return fmt.Errorf("failed to start event relay: %w", err)
		}
		defer relay.Close()
	}

	service := vcs.NewService(repoPool, store, hub, vcs.Options{
		DefaultBranch: cfg.VCS.DefaultBranch,
		SettleDelay:   cfg.VCS.CheckoutSettleDelay,
		SystemAuthor:  vcs.Author{Name: cfg.VCS.AuthorName, Email: cfg.VCS.AuthorEmail},
		MirrorTimeout: cfg.VCS.MirrorTimeout,
	}, logger, m)
	defer service.Close()

	server := api.NewServer(cfg, api.Dependencies{
		Service: service,
		Pool:    repoPool,
		Hub:     hub,
		Store:   store,
		Metrics: m,
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:           cfg.Address(),
		Handler:        server.Handler(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"address":   httpServer.Addr,
			"datastore": cfg.Datastore.Type,
			"repos":     cfg.Storage.ReposRoot,
		}).Info("Starting vcsd")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
