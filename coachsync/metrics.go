// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"context"
	"time"
)

const (
	MetricsOpFetch  = "fetch"
	MetricsOpSave   = "save"
	MetricsOpDelete = "delete"
	MetricsOpDrain  = "drain"

	MetricsStageTotal = "total"

	// Fetch stages.
	MetricsStageRemote    = "remote"
	MetricsStageReconcile = "reconcile"
	MetricsStageFallback  = "fallback"

	// Write stages.
	MetricsStageEnqueue = "enqueue"

	// Drain stages.
	MetricsStageReplay  = "replay"
	MetricsStageResolve = "resolve"
)

type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (r *Repository) stageTimingEnabled() bool {
	return r.config.StageMetrics != nil || r.config.LogStageTimings
}

func (r *Repository) stageStart() time.Time {
	if !r.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (r *Repository) observeStage(ctx context.Context, op, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() {
		return
	}

	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Error:     hadError,
	}

	if r.config.StageMetrics != nil {
		r.config.StageMetrics.ObserveStage(ctx, timing)
	}
	if r.config.LogStageTimings {
		r.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}
