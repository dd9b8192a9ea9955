// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dsumanth/coach-me-sub008/internal/config"
	"github.com/dsumanth/coach-me-sub008/remote"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveListen string
	serveMemory bool
)

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides server.listen)")
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "keep records in memory instead of Postgres")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the remote store HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sc := cfg.Server
		if serveListen != "" {
			sc.Listen = serveListen
		}
		if serveMemory {
			sc.Memory = true
		}
		if sc.JWTSecret == config.Default().Server.JWTSecret {
			logger.Warn("Using default JWT secret - change in production!")
		}

		store, closeStore, err := openStore(ctx, sc)
		if err != nil {
			return err
		}
		defer closeStore()

		handler := remote.NewHTTPHandlers(store, sc.AppName, logger).Routes(remote.NewJWTAuth(sc.JWTSecret))
		httpServer := &http.Server{
			Addr:         sc.Listen,
			Handler:      handler,
			ReadTimeout:  sc.ReadTimeout,
			WriteTimeout: sc.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("Starting coachsync server", "addr", httpServer.Addr, "memory", sc.Memory)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("Server exited")
		return nil
	},
}

func openStore(ctx context.Context, sc config.ServerConfig) (remote.Store, func(), error) {
	if sc.Memory {
		return remote.NewMemoryStore(nil), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(sc.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid database url: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store, err := remote.NewPGStore(ctx, pool, &remote.ServiceConfig{AppName: sc.AppName}, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, func() {
		store.Close()
		pool.Close()
	}, nil
}
