// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"log/slog"
	"time"
)

// Config holds repository tuning
type Config struct {
	RemoteTimeout   time.Duration        // Bound on every remote call, e.g. 10s
	EventBuffer     int                  // Capacity of the Events channel; full buffers drop events
	DrainOnStart    bool                 // Run treats an initially connected signal as a reconnect
	MaxConflictRuns int                  // Retries of a local_wins push that keeps losing the race
	Now             func() time.Time     // Clock for local edit stamps; defaults to time.Now
	Logger          *slog.Logger         // Defaults to slog.Default()
	StageMetrics    StageMetricsRecorder // Optional timing sink
	LogStageTimings bool                 // Debug-log stage timings
}

// DefaultConfig returns the configuration used when NewRepository gets nil
func DefaultConfig() *Config {
	return &Config{
		RemoteTimeout:   10 * time.Second,
		EventBuffer:     64,
		DrainOnStart:    true,
		MaxConflictRuns: 3,
		Now:             time.Now,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	def := DefaultConfig()
	if out.RemoteTimeout <= 0 {
		out.RemoteTimeout = def.RemoteTimeout
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = def.EventBuffer
	}
	if out.MaxConflictRuns <= 0 {
		out.MaxConflictRuns = def.MaxConflictRuns
	}
	if out.Now == nil {
		out.Now = def.Now
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}
