// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dsumanth/coach-me-sub008/remote"
)

// DrainReport summarizes one Drain run
type DrainReport struct {
	Applied   int // applied as queued
	Resolved  int // went through the resolver after a 409
	Rejected  int // refused permanently and dropped
	Remaining int // still queued when the run ended
}

// errContended stops a drain when a local_wins push keeps losing to newer remote writes
var errContended = errors.New("coachsync: record keeps changing remotely")

// Drain replays queued operations one at a time in enqueue order. It stops at the
// first transient or authentication failure and leaves that operation and everything
// after it queued.
func (r *Repository) Drain(ctx context.Context) (DrainReport, error) {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()

	start := r.stageStart()
	var report DrainReport
	var stopErr error
	for {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		op, err := r.queue.Peek(ctx)
		if err != nil {
			stopErr = err
			break
		}
		if op == nil {
			break
		}

		opStart := r.stageStart()
		outcome, err := r.replay(ctx, op)
		r.observeStage(ctx, MetricsOpDrain, MetricsStageReplay, opStart, 1, err != nil)
		if err != nil {
			if rerr := r.queue.RecordFailure(context.WithoutCancel(ctx), op.ID, err); rerr != nil {
				r.logger.Warn("Failed to record replay failure", "operation_id", op.ID, "error", rerr)
			}
			stopErr = err
			break
		}

		switch outcome {
		case OutcomeConfirmed:
			report.Applied++
		case OutcomeResolved:
			report.Resolved++
		case OutcomeRejected:
			report.Rejected++
		}
	}

	n, err := r.queue.Len(context.WithoutCancel(ctx))
	r.cacheWarn(err, "Failed to count queue")
	report.Remaining = n
	r.observeStage(ctx, MetricsOpDrain, MetricsStageTotal, start, report.Applied+report.Resolved+report.Rejected, stopErr != nil)
	return report, stopErr
}

// replay applies one operation. A non-nil error means the drain must stop with op still queued.
func (r *Repository) replay(ctx context.Context, op *PendingOperation) (Outcome, error) {
	switch op.Kind {
	case OpUpdateProfile:
		return r.replayProfile(ctx, op)
	case OpDeleteConversation:
		return r.replayDeleteConversation(ctx, op)
	case OpDeleteAllConversations:
		return r.replayDeleteAll(ctx, op)
	default:
		r.logger.Error("Dropping operation of unknown kind", "operation_id", op.ID, "kind", op.Kind)
		return r.finish(ctx, op, WriteEvent{Outcome: OutcomeRejected})
	}
}

// finish removes op from the queue and publishes ev for it
func (r *Repository) finish(ctx context.Context, op *PendingOperation, ev WriteEvent) (Outcome, error) {
	if err := r.queue.Remove(ctx, op.ID); err != nil {
		return "", err
	}
	ev.OpKind = op.Kind
	ev.EntityKind = op.EntityKind
	ev.EntityID = op.EntityID
	ev.OperationID = op.ID
	r.publish(ev)
	return ev.Outcome, nil
}

func (r *Repository) putProfile(ctx context.Context, ownerID string, payload []byte, base *time.Time) (*remote.Record, error) {
	rctx, cancel := r.remoteCtx(ctx)
	defer cancel()
	return r.remote.PutProfile(rctx, ownerID, payload, base)
}

func (r *Repository) replayProfile(ctx context.Context, op *PendingOperation) (Outcome, error) {
	unlock, err := r.locks.lock(ctx, profileLockKey(op.OwnerID))
	if err != nil {
		return "", err
	}
	defer unlock()

	rec, err := r.putProfile(ctx, op.OwnerID, op.Payload, op.BaseUpdatedAt.Ptr())
	var conflict *remote.ConflictError
	switch {
	case err == nil:
		r.confirmProfile(ctx, op, rec)
		return r.finish(ctx, op, WriteEvent{Outcome: OutcomeConfirmed})
	case errors.As(err, &conflict):
		return r.resolveProfile(ctx, op, conflict.Current)
	case holdsQueue(err):
		return "", err
	default:
		return r.rejectProfile(ctx, op, err)
	}
}

// confirmProfile folds an accepted write into the replica. Later queued edits of the
// same profile are rebased onto the new version and keep the row pending.
func (r *Repository) confirmProfile(ctx context.Context, op *PendingOperation, rec *remote.Record) {
	later, err := r.queue.HasPendingAfter(ctx, op)
	r.cacheWarn(err, "Failed to inspect queue", "operation_id", op.ID)
	if later {
		_, err := r.queue.Rebase(ctx, KindProfile, op.EntityID, rec.UpdatedAt.UTC())
		r.cacheWarn(err, "Failed to rebase queued profile edits", "owner_id", op.OwnerID)
		cached, err := r.replica.GetProfile(ctx, op.OwnerID)
		r.cacheWarn(err, "Failed to read cached profile", "owner_id", op.OwnerID)
		if cached != nil {
			cached.RemoteCreatedAt = rec.CreatedAt.UTC()
			cached.RemoteUpdatedAt = rec.UpdatedAt.UTC()
			cached.SyncStatus = StatusPending
			r.cacheWarn(r.replica.Upsert(ctx, cached), "Failed to cache profile", "owner_id", op.OwnerID)
		}
		return
	}
	e := entityFromRecord(KindProfile, rec, r.now())
	r.cacheWarn(r.replica.Upsert(ctx, e), "Failed to cache profile", "owner_id", op.OwnerID)
}

// resolveProfile runs the resolver on the queued edit against the current remote
// profile and applies the decision. A local_wins push that loses another race is
// resolved again against the newer version.
func (r *Repository) resolveProfile(ctx context.Context, op *PendingOperation, current *remote.Record) (Outcome, error) {
	later, err := r.queue.HasPendingAfter(ctx, op)
	r.cacheWarn(err, "Failed to inspect queue", "operation_id", op.ID)
	if cached, err := r.replica.GetProfile(ctx, op.OwnerID); err == nil && cached != nil && !later {
		cached.SyncStatus = StatusConflict
		r.cacheWarn(r.replica.Upsert(ctx, cached), "Failed to flag profile conflict", "owner_id", op.OwnerID)
	}

	local := &CachedEntity{
		Kind:            KindProfile,
		RemoteID:        op.EntityID,
		OwnerID:         op.OwnerID,
		Payload:         op.Payload,
		RemoteUpdatedAt: op.BaseUpdatedAt.OrElse(time.Time{}),
		LocalEditedAt:   Some(op.EnqueuedAt),
		SyncStatus:      StatusConflict,
	}

	for attempt := 0; attempt < r.config.MaxConflictRuns; attempt++ {
		start := r.stageStart()
		var remoteCopy *CachedEntity
		if current != nil {
			remoteCopy = entityFromRecord(KindProfile, current, r.now())
		}
		d := r.resolver.Resolve(KindProfile, local, remoteCopy)
		r.recordConflict(ctx, op.OwnerID, d)
		r.observeStage(ctx, MetricsOpDrain, MetricsStageResolve, start, 1, false)

		ev := WriteEvent{Outcome: OutcomeResolved, Resolution: d.Resolution}
		if d.Resolution != ResolutionLocalWins {
			// Later edits keep their own base and get their own verdict when replayed.
			if !later && remoteCopy != nil {
				r.cacheWarn(r.replica.Upsert(ctx, remoteCopy), "Failed to cache profile", "owner_id", op.OwnerID)
			}
			return r.finish(ctx, op, ev)
		}

		var base *time.Time
		if current != nil {
			ts := current.UpdatedAt
			base = &ts
		}
		rec, err := r.putProfile(ctx, op.OwnerID, op.Payload, base)
		var conflict *remote.ConflictError
		switch {
		case err == nil:
			r.confirmProfile(ctx, op, rec)
			return r.finish(ctx, op, ev)
		case errors.As(err, &conflict):
			current = conflict.Current
		case holdsQueue(err):
			r.rebaseOnto(ctx, op, current)
			return "", err
		default:
			return r.rejectProfile(ctx, op, err)
		}
	}
	r.rebaseOnto(ctx, op, current)
	return "", fmt.Errorf("%w: profile %s", errContended, op.OwnerID)
}

// rebaseOnto keeps a local_wins edit queued against the latest remote version seen
func (r *Repository) rebaseOnto(ctx context.Context, op *PendingOperation, current *remote.Record) {
	if current == nil {
		return
	}
	_, err := r.queue.Rebase(ctx, op.EntityKind, op.EntityID, current.UpdatedAt.UTC())
	r.cacheWarn(err, "Failed to rebase queued profile edits", "owner_id", op.OwnerID)
}

func (r *Repository) rejectProfile(ctx context.Context, op *PendingOperation, cause error) (Outcome, error) {
	r.logger.Warn("Remote rejected queued profile update", "owner_id", op.OwnerID, "operation_id", op.ID, "error", cause)
	if cached, err := r.replica.GetProfile(ctx, op.OwnerID); err == nil && cached != nil {
		cached.SyncStatus = StatusConflict
		cached.LocalEditedAt = None[time.Time]()
		r.cacheWarn(r.replica.Upsert(ctx, cached), "Failed to flag profile conflict", "owner_id", op.OwnerID)
	}
	return r.finish(ctx, op, WriteEvent{Outcome: OutcomeRejected})
}

func (r *Repository) replayDeleteConversation(ctx context.Context, op *PendingOperation) (Outcome, error) {
	unlock, err := r.locks.lock(ctx, conversationsLockKey(op.OwnerID))
	if err != nil {
		return "", err
	}
	defer unlock()

	rctx, cancel := r.remoteCtx(ctx)
	err = r.remote.DeleteConversation(rctx, op.OwnerID, op.EntityID)
	cancel()
	switch {
	case err == nil || isRemoteNotFound(err):
		later, err := r.queue.HasPendingAfter(ctx, op)
		r.cacheWarn(err, "Failed to inspect queue", "operation_id", op.ID)
		if !later {
			r.dropConversation(ctx, op.EntityID)
		}
		return r.finish(ctx, op, WriteEvent{Outcome: OutcomeConfirmed})
	case holdsQueue(err):
		return "", err
	default:
		r.logger.Warn("Remote rejected queued conversation delete",
			"conversation_id", op.EntityID, "operation_id", op.ID, "error", err)
		if cached, cerr := r.replica.Get(ctx, KindConversation, op.EntityID); cerr == nil && cached != nil {
			cached.Deleted = false
			cached.SyncStatus = StatusConflict
			cached.LocalEditedAt = None[time.Time]()
			r.cacheWarn(r.replica.Upsert(ctx, cached), "Failed to restore conversation", "conversation_id", op.EntityID)
		}
		return r.finish(ctx, op, WriteEvent{Outcome: OutcomeRejected})
	}
}

func (r *Repository) replayDeleteAll(ctx context.Context, op *PendingOperation) (Outcome, error) {
	unlock, err := r.locks.lock(ctx, conversationsLockKey(op.OwnerID))
	if err != nil {
		return "", err
	}
	defer unlock()

	rctx, cancel := r.remoteCtx(ctx)
	n, err := r.remote.DeleteAllConversations(rctx, op.OwnerID)
	cancel()
	switch {
	case err == nil:
		r.logger.Debug("Replayed bulk conversation delete", "owner_id", op.OwnerID, "deleted", n)
		r.clearConversations(ctx, op.OwnerID)
		return r.finish(ctx, op, WriteEvent{Outcome: OutcomeConfirmed})
	case holdsQueue(err):
		return "", err
	default:
		// The next fetch repopulates whatever the remote kept.
		r.logger.Warn("Remote rejected queued bulk delete", "owner_id", op.OwnerID, "operation_id", op.ID, "error", err)
		return r.finish(ctx, op, WriteEvent{Outcome: OutcomeRejected})
	}
}
