// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/dsumanth/coach-me-sub008/coachsync"
	"github.com/spf13/cobra"
)

var (
	statusConflicts int
	statusJSON      bool
)

func init() {
	statusCmd.Flags().IntVar(&statusConflicts, "conflicts", 10, "number of recent conflict log entries to show")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "dump the user's replica rows as JSON lines instead")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show remote reachability, queued operations and recent conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		if statusJSON {
			return dumpReplica(cmd, s.replica)
		}

		fmt.Fprintln(out, "Client:")
		fmt.Fprintf(out, "  User:      %s\n", cfg.Client.UserID)
		fmt.Fprintf(out, "  Device:    %s\n", s.deviceID)
		fmt.Fprintf(out, "  Replica:   %s\n", cfg.Client.ReplicaPath)

		reachable := "unreachable"
		if s.prober.Probe(ctx) {
			reachable = "reachable"
		}
		fmt.Fprintf(out, "  Remote:    %s (%s)\n", cfg.Client.ServerURL, reachable)

		ops, err := s.repo.PendingOperations(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Pending operations: %d\n", len(ops))
		for _, op := range ops {
			line := fmt.Sprintf("  %s %s %s:%s queued %s", op.ID, op.Kind, op.EntityKind, op.EntityID, op.EnqueuedAt.Format(time.RFC3339))
			if op.Attempts > 0 {
				line += fmt.Sprintf(" attempts=%d last_error=%q", op.Attempts, op.LastError)
			}
			fmt.Fprintln(out, line)
		}

		if statusConflicts <= 0 {
			return nil
		}
		entries, err := s.repo.ConflictLog(ctx, statusConflicts)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Recent conflicts: %d\n", len(entries))
		for _, e := range entries {
			fmt.Fprintf(out, "  %s %s:%s %s -> %s\n",
				e.ResolvedAt.Format(time.RFC3339), e.EntityType, e.EntityID, e.ConflictType, e.Resolution)
		}
		return nil
	},
}

// dumpReplica writes one encoded entity per line, tombstones included
func dumpReplica(cmd *cobra.Command, replica *coachsync.Replica) error {
	rows, err := replica.List(cmd.Context(), coachsync.Filter{OwnerID: cfg.Client.UserID, IncludeDeleted: true})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, row := range rows {
		data, err := coachsync.EncodeEntity(row)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	}
	return nil
}
