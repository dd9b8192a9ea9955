// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(syncCmd)
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay queued operations against the remote store once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if !s.prober.Probe(ctx) {
			return fmt.Errorf("remote %s is unreachable; operations stay queued", cfg.Client.ServerURL)
		}
		report, err := s.repo.Drain(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "applied=%d resolved=%d rejected=%d remaining=%d\n",
			report.Applied, report.Resolved, report.Rejected, report.Remaining)
		return err
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Probe the remote and drain the queue whenever it comes back",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return s.prober.Run(gctx) })
		g.Go(func() error { return s.repo.Run(gctx) })
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev := <-s.repo.Events():
					logger.Info("Write outcome",
						"outcome", ev.Outcome,
						"op", ev.OpKind,
						"entity", ev.EntityKind,
						"entity_id", ev.EntityID,
						"resolution", ev.Resolution)
				}
			}
		})

		logger.Info("Watching remote", "url", cfg.Client.ServerURL, "user_id", cfg.Client.UserID)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
