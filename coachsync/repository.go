// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dsumanth/coach-me-sub008/remote"
	"golang.org/x/sync/singleflight"
)

// Repository is the sync facade for one signed-in user: reads go remote first and
// fall back to the replica, writes go remote when reachable and are queued otherwise.
type Repository struct {
	ownerID  string
	replica  *Replica
	queue    *Queue
	remote   RemoteStore
	reach    Reachability
	resolver *Resolver
	config   *Config
	logger   *slog.Logger

	locks   *entityLocks
	group   singleflight.Group
	drainMu sync.Mutex
	events  chan WriteEvent
}

// NewRepository wires a repository for ownerID. A nil config uses DefaultConfig().
func NewRepository(ownerID string, replica *Replica, rs RemoteStore, reach Reachability, config *Config) (*Repository, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if replica == nil || rs == nil || reach == nil {
		return nil, fmt.Errorf("replica, remote store and reachability are required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()

	return &Repository{
		ownerID:  ownerID,
		replica:  replica,
		queue:    NewQueue(replica),
		remote:   rs,
		reach:    reach,
		resolver: NewResolver(config.Logger, config.Now),
		config:   config,
		logger:   config.Logger,
		locks:    newEntityLocks(),
		events:   make(chan WriteEvent, config.EventBuffer),
	}, nil
}

// Events delivers write outcomes. Events are dropped when nobody keeps up.
func (r *Repository) Events() <-chan WriteEvent { return r.events }

// Queue exposes the pending-operation queue
func (r *Repository) Queue() *Queue { return r.queue }

// Owner lock keys. Conversations and their messages share one key per owner so
// single deletes, bulk deletes and list reconciliation never interleave.
func profileLockKey(ownerID string) string       { return entityKey(KindProfile, ownerID) }
func conversationsLockKey(ownerID string) string { return "conversation:*:" + ownerID }

func conversationsScope(ownerID string) string { return "conversations:" + ownerID }
func messagesScope(conversationID string) string { return "messages:" + conversationID }

func (r *Repository) owner(id string) string {
	if id == "" {
		return r.ownerID
	}
	return id
}

func (r *Repository) now() time.Time { return r.config.Now().UTC() }

func (r *Repository) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.config.RemoteTimeout)
}

// cacheWarn logs a swallowed replica failure
func (r *Repository) cacheWarn(err error, msg string, args ...any) {
	if err == nil {
		return
	}
	r.logger.Warn(msg, append(args, "error", err)...)
}

// coalesce runs fn once for concurrent callers with the same key. The shared call
// is detached from any single caller's cancellation; a cancelled caller returns early.
func coalesce[T any](ctx context.Context, r *Repository, key string, fn func(context.Context) (T, error)) (T, error) {
	ch := r.group.DoChan(key, func() (any, error) {
		rctx, cancel := r.remoteCtx(context.WithoutCancel(ctx))
		defer cancel()
		return fn(rctx)
	})
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (r *Repository) recordConflict(ctx context.Context, ownerID string, d Decision) {
	entry := d.Entry
	r.cacheWarn(r.replica.AppendConflict(ctx, ownerID, &entry),
		"Failed to record conflict", "entity_id", entry.EntityID)
}

// FetchProfile returns the owner's profile, preferring the remote copy
func (r *Repository) FetchProfile(ctx context.Context, ownerID string) (*Profile, error) {
	ownerID = r.owner(ownerID)
	start := r.stageStart()

	rec, err := coalesce(ctx, r, "profile:"+ownerID, func(ctx context.Context) (*remote.Record, error) {
		return r.remote.GetProfile(ctx, ownerID)
	})
	r.observeStage(ctx, MetricsOpFetch, MetricsStageRemote, start, 1, err != nil)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var e *CachedEntity
	if err == nil {
		e, err = r.reconcileProfile(ctx, ownerID, rec)
	}
	if err != nil {
		r.logger.Debug("Profile fetch fell back to replica", "owner_id", ownerID, "error", err)
		fbStart := r.stageStart()
		e, err = r.replica.GetProfile(ctx, ownerID)
		r.cacheWarn(err, "Failed to read cached profile", "owner_id", ownerID)
		r.observeStage(ctx, MetricsOpFetch, MetricsStageFallback, fbStart, 1, e == nil)
		if e == nil {
			return nil, fmt.Errorf("profile %s: %w", ownerID, ErrNotFound)
		}
	}
	r.observeStage(ctx, MetricsOpFetch, MetricsStageTotal, start, 1, false)
	return profileFromEntity(e)
}

// reconcileProfile folds a fresh remote profile into the replica and returns the
// copy callers should see.
func (r *Repository) reconcileProfile(ctx context.Context, ownerID string, rec *remote.Record) (*CachedEntity, error) {
	unlock, err := r.locks.lock(ctx, profileLockKey(ownerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	fresh := entityFromRecord(KindProfile, rec, r.now())
	cached, err := r.replica.GetProfile(ctx, ownerID)
	r.cacheWarn(err, "Failed to read cached profile", "owner_id", ownerID)

	pending, err := r.queue.HasPending(ctx, KindProfile, ownerID)
	if err != nil {
		r.cacheWarn(err, "Failed to inspect queue", "owner_id", ownerID)
		pending = cached != nil && cached.LocalEditedAt.IsSome()
	}
	if pending && cached != nil {
		return cached, nil
	}

	if cached != nil && !cached.RemoteUpdatedAt.Equal(fresh.RemoteUpdatedAt) {
		d := r.resolver.Resolve(KindProfile, cached, fresh)
		if d.Resolution != ResolutionNoConflict {
			r.recordConflict(ctx, ownerID, d)
		}
		if d.Resolution == ResolutionLocalWins {
			// A local edit that lost its queued operation; queue it again on top of the fresh version.
			op := &PendingOperation{
				EnqueuedAt:    cached.LocalEditedAt.OrElse(r.now()),
				Kind:          OpUpdateProfile,
				EntityKind:    KindProfile,
				EntityID:      ownerID,
				OwnerID:       ownerID,
				Payload:       cached.Payload,
				BaseUpdatedAt: Some(fresh.RemoteUpdatedAt),
			}
			if err := r.queue.Enqueue(ctx, op); err == nil {
				cached.RemoteUpdatedAt = fresh.RemoteUpdatedAt
				cached.SyncStatus = StatusPending
				r.cacheWarn(r.replica.Upsert(ctx, cached), "Failed to cache profile", "owner_id", ownerID)
				return cached, nil
			}
		}
	}

	r.cacheWarn(r.replica.Upsert(ctx, fresh), "Failed to cache profile", "owner_id", ownerID)
	return fresh, nil
}

// UpdateProfile saves the profile. It only fails when an offline write cannot be queued.
func (r *Repository) UpdateProfile(ctx context.Context, p *Profile) error {
	ownerID := r.owner(p.UserID)
	start := r.stageStart()
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	unlock, err := r.locks.lock(ctx, profileLockKey(ownerID))
	if err != nil {
		return err
	}
	defer unlock()

	cached, err := r.replica.GetProfile(ctx, ownerID)
	r.cacheWarn(err, "Failed to read cached profile", "owner_id", ownerID)

	pending, err := r.queue.HasPending(ctx, KindProfile, ownerID)
	if err != nil {
		r.cacheWarn(err, "Failed to inspect queue", "owner_id", ownerID)
		pending = true
	}

	if r.reach.Connected() && !pending {
		rctx, cancel := r.remoteCtx(ctx)
		rec, err := r.remote.PutProfile(rctx, ownerID, payload, nil)
		cancel()
		if err == nil {
			e := entityFromRecord(KindProfile, rec, r.now())
			r.cacheWarn(r.replica.Upsert(ctx, e), "Failed to cache profile", "owner_id", ownerID)
			r.publish(WriteEvent{Outcome: OutcomeSynced, OpKind: OpUpdateProfile, EntityKind: KindProfile, EntityID: ownerID})
			r.observeStage(ctx, MetricsOpSave, MetricsStageTotal, start, 1, false)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Info("Remote profile write failed, queueing", "owner_id", ownerID, "error", err)
	}

	now := r.now()
	op := &PendingOperation{
		EnqueuedAt: now,
		Kind:       OpUpdateProfile,
		EntityKind: KindProfile,
		EntityID:   ownerID,
		OwnerID:    ownerID,
		Payload:    payload,
	}
	e := &CachedEntity{
		Kind:          KindProfile,
		RemoteID:      ownerID,
		OwnerID:       ownerID,
		Payload:       payload,
		LocalEditedAt: Some(now),
		CachedAt:      now,
		SyncStatus:    StatusPending,
	}
	if cached != nil {
		e.RemoteCreatedAt = cached.RemoteCreatedAt
		e.RemoteUpdatedAt = cached.RemoteUpdatedAt
	}
	// A zero base means no remote profile was known, so the replay only succeeds
	// if none exists yet. Anything written remotely in the meantime goes to the resolver.
	op.BaseUpdatedAt = Some(e.RemoteUpdatedAt)

	enqStart := r.stageStart()
	if err := r.queue.Enqueue(ctx, op); err != nil {
		r.observeStage(ctx, MetricsOpSave, MetricsStageEnqueue, enqStart, 1, true)
		return fmt.Errorf("failed to queue profile update: %w", err)
	}
	r.observeStage(ctx, MetricsOpSave, MetricsStageEnqueue, enqStart, 1, false)
	r.cacheWarn(r.replica.Upsert(ctx, e), "Failed to cache profile", "owner_id", ownerID)
	r.publish(WriteEvent{Outcome: OutcomeQueued, OpKind: op.Kind, EntityKind: KindProfile, EntityID: ownerID, OperationID: op.ID})
	r.observeStage(ctx, MetricsOpSave, MetricsStageTotal, start, 1, false)
	return nil
}

// FetchConversations returns the owner's conversations, most recently updated first
func (r *Repository) FetchConversations(ctx context.Context, ownerID string) ([]*Conversation, error) {
	ownerID = r.owner(ownerID)
	start := r.stageStart()

	recs, err := coalesce(ctx, r, "conversations:"+ownerID, func(ctx context.Context) ([]remote.Record, error) {
		return r.remote.ListConversations(ctx, ownerID)
	})
	r.observeStage(ctx, MetricsOpFetch, MetricsStageRemote, start, len(recs), err != nil)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil {
		err = r.reconcileConversations(ctx, ownerID, recs)
	}
	if err != nil {
		r.logger.Debug("Conversation fetch fell back to replica", "owner_id", ownerID, "error", err)
	}

	fbStart := r.stageStart()
	rows, cerr := r.replica.List(ctx, Filter{Kind: KindConversation, OwnerID: ownerID})
	r.cacheWarn(cerr, "Failed to read cached conversations", "owner_id", ownerID)
	if err != nil {
		r.observeStage(ctx, MetricsOpFetch, MetricsStageFallback, fbStart, len(rows), cerr != nil)
	}
	if err != nil && len(rows) == 0 {
		fetched, ferr := r.replica.HasFetched(ctx, conversationsScope(ownerID))
		r.cacheWarn(ferr, "Failed to read fetch marker", "owner_id", ownerID)
		if !fetched {
			return nil, fmt.Errorf("conversations of %s: %w", ownerID, ErrNotFound)
		}
	}

	out := make([]*Conversation, 0, len(rows))
	for _, row := range rows {
		c, err := conversationFromEntity(row)
		if err != nil {
			r.logger.Warn("Skipping undecodable conversation", "conversation_id", row.RemoteID, "error", err)
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	r.observeStage(ctx, MetricsOpFetch, MetricsStageTotal, start, len(out), false)
	return out, nil
}

func (r *Repository) reconcileConversations(ctx context.Context, ownerID string, recs []remote.Record) error {
	unlock, err := r.locks.lock(ctx, conversationsLockKey(ownerID))
	if err != nil {
		return err
	}
	defer unlock()
	start := r.stageStart()

	if bulk, err := r.queue.HasPendingDeleteAll(ctx, ownerID); err != nil || bulk {
		// The cached (cleared) view stays authoritative until the bulk delete drains.
		return err
	}

	cachedRows, err := r.replica.List(ctx, Filter{Kind: KindConversation, OwnerID: ownerID, IncludeDeleted: true})
	if err != nil {
		return err
	}
	cached := make(map[string]*CachedEntity, len(cachedRows))
	for _, row := range cachedRows {
		cached[row.RemoteID] = row
	}

	now := r.now()
	seen := make(map[string]bool, len(recs))
	for i := range recs {
		fresh := entityFromRecord(KindConversation, &recs[i], now)
		seen[fresh.RemoteID] = true

		pending, err := r.queue.HasPending(ctx, KindConversation, fresh.RemoteID)
		if err != nil {
			return err
		}
		local := cached[fresh.RemoteID]
		if pending || (local != nil && local.Deleted) {
			continue
		}
		if local != nil && !local.RemoteUpdatedAt.Equal(fresh.RemoteUpdatedAt) {
			if d := r.resolver.Resolve(KindConversation, local, fresh); d.Resolution != ResolutionNoConflict {
				r.recordConflict(ctx, ownerID, d)
			}
		}
		r.cacheWarn(r.replica.Upsert(ctx, fresh), "Failed to cache conversation", "conversation_id", fresh.RemoteID)
	}

	for id, local := range cached {
		if seen[id] || local.Deleted {
			continue
		}
		if pending, err := r.queue.HasPending(ctx, KindConversation, id); err != nil || pending {
			continue
		}
		d := r.resolver.Resolve(KindConversation, local, nil)
		r.recordConflict(ctx, ownerID, d)
		r.dropConversation(ctx, id)
	}

	r.cacheWarn(r.replica.MarkFetched(ctx, conversationsScope(ownerID), ownerID, now),
		"Failed to mark conversations fetched", "owner_id", ownerID)
	r.observeStage(ctx, MetricsOpFetch, MetricsStageReconcile, start, len(recs), false)
	return nil
}

// dropConversation removes a conversation and its messages from the replica
func (r *Repository) dropConversation(ctx context.Context, id string) {
	r.cacheWarn(r.replica.Delete(ctx, KindConversation, id), "Failed to drop conversation", "conversation_id", id)
	_, err := r.replica.DeleteWhere(ctx, Filter{Kind: KindMessage, ParentID: id})
	r.cacheWarn(err, "Failed to drop messages", "conversation_id", id)
}

// FetchMessages returns a conversation's messages in creation order
func (r *Repository) FetchMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	ownerID := r.ownerID
	start := r.stageStart()

	recs, err := coalesce(ctx, r, "messages:"+conversationID, func(ctx context.Context) ([]remote.Record, error) {
		return r.remote.ListMessages(ctx, ownerID, conversationID)
	})
	r.observeStage(ctx, MetricsOpFetch, MetricsStageRemote, start, len(recs), err != nil)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil {
		err = r.reconcileMessages(ctx, ownerID, conversationID, recs)
	}
	if err != nil {
		r.logger.Debug("Message fetch fell back to replica", "conversation_id", conversationID, "error", err)
	}

	fbStart := r.stageStart()
	rows, cerr := r.replica.List(ctx, Filter{Kind: KindMessage, ParentID: conversationID})
	r.cacheWarn(cerr, "Failed to read cached messages", "conversation_id", conversationID)
	if err != nil {
		r.observeStage(ctx, MetricsOpFetch, MetricsStageFallback, fbStart, len(rows), cerr != nil)
	}
	if err != nil && len(rows) == 0 {
		fetched, ferr := r.replica.HasFetched(ctx, messagesScope(conversationID))
		r.cacheWarn(ferr, "Failed to read fetch marker", "conversation_id", conversationID)
		if !fetched {
			return nil, fmt.Errorf("messages of %s: %w", conversationID, ErrNotFound)
		}
	}

	out := make([]*Message, 0, len(rows))
	for _, row := range rows {
		m, err := messageFromEntity(row)
		if err != nil {
			r.logger.Warn("Skipping undecodable message", "message_id", row.RemoteID, "error", err)
			continue
		}
		out = append(out, m)
	}
	r.observeStage(ctx, MetricsOpFetch, MetricsStageTotal, start, len(out), false)
	return out, nil
}

var errConversationPendingDelete = errors.New("conversation has a pending delete")

func (r *Repository) reconcileMessages(ctx context.Context, ownerID, conversationID string, recs []remote.Record) error {
	unlock, err := r.locks.lock(ctx, conversationsLockKey(ownerID))
	if err != nil {
		return err
	}
	defer unlock()

	if bulk, err := r.queue.HasPendingDeleteAll(ctx, ownerID); err != nil || bulk {
		if err == nil {
			err = errConversationPendingDelete
		}
		return err
	}
	if pending, err := r.queue.HasPending(ctx, KindConversation, conversationID); err != nil || pending {
		if err == nil {
			err = errConversationPendingDelete
		}
		return err
	}

	cachedRows, err := r.replica.List(ctx, Filter{Kind: KindMessage, ParentID: conversationID})
	if err != nil {
		return err
	}
	cached := make(map[string]*CachedEntity, len(cachedRows))
	for _, row := range cachedRows {
		cached[row.RemoteID] = row
	}

	now := r.now()
	seen := make(map[string]bool, len(recs))
	for i := range recs {
		fresh := entityFromRecord(KindMessage, &recs[i], now)
		if fresh.ParentID == "" {
			fresh.ParentID = conversationID
		}
		seen[fresh.RemoteID] = true
		if local := cached[fresh.RemoteID]; local != nil {
			if d := r.resolver.Resolve(KindMessage, local, fresh); d.Resolution != ResolutionNoConflict {
				r.recordConflict(ctx, ownerID, d)
			}
		}
		r.cacheWarn(r.replica.Upsert(ctx, fresh), "Failed to cache message", "message_id", fresh.RemoteID)
	}
	for id, local := range cached {
		if seen[id] {
			continue
		}
		r.recordConflict(ctx, ownerID, r.resolver.Resolve(KindMessage, local, nil))
		r.cacheWarn(r.replica.Delete(ctx, KindMessage, id), "Failed to drop message", "message_id", id)
	}

	r.cacheWarn(r.replica.MarkFetched(ctx, messagesScope(conversationID), ownerID, now),
		"Failed to mark messages fetched", "conversation_id", conversationID)
	return nil
}

// DeleteConversation removes a conversation and its messages
func (r *Repository) DeleteConversation(ctx context.Context, conversationID string) error {
	ownerID := r.ownerID
	start := r.stageStart()

	unlock, err := r.locks.lock(ctx, conversationsLockKey(ownerID))
	if err != nil {
		return err
	}
	defer unlock()

	bulk, err := r.queue.HasPendingDeleteAll(ctx, ownerID)
	r.cacheWarn(err, "Failed to inspect queue", "owner_id", ownerID)
	if bulk {
		// Already gone locally; the queued bulk delete covers the remote copy.
		return nil
	}
	pending, err := r.queue.HasPending(ctx, KindConversation, conversationID)
	if err != nil {
		r.cacheWarn(err, "Failed to inspect queue", "owner_id", ownerID)
		pending = true
	}

	if r.reach.Connected() && !pending {
		rctx, cancel := r.remoteCtx(ctx)
		err := r.remote.DeleteConversation(rctx, ownerID, conversationID)
		cancel()
		if err == nil || isRemoteNotFound(err) {
			r.dropConversation(ctx, conversationID)
			r.publish(WriteEvent{Outcome: OutcomeSynced, OpKind: OpDeleteConversation, EntityKind: KindConversation, EntityID: conversationID})
			r.observeStage(ctx, MetricsOpDelete, MetricsStageTotal, start, 1, false)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Info("Remote conversation delete failed, queueing", "conversation_id", conversationID, "error", err)
	}

	now := r.now()
	op := &PendingOperation{
		EnqueuedAt: now,
		Kind:       OpDeleteConversation,
		EntityKind: KindConversation,
		EntityID:   conversationID,
		OwnerID:    ownerID,
	}
	if err := r.queue.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("failed to queue conversation delete: %w", err)
	}

	cached, err := r.replica.Get(ctx, KindConversation, conversationID)
	r.cacheWarn(err, "Failed to read cached conversation", "conversation_id", conversationID)
	if cached != nil {
		cached.Deleted = true
		cached.SyncStatus = StatusPending
		cached.LocalEditedAt = Some(now)
		cached.CachedAt = now
		r.cacheWarn(r.replica.Upsert(ctx, cached), "Failed to tombstone conversation", "conversation_id", conversationID)
	}
	_, err = r.replica.DeleteWhere(ctx, Filter{Kind: KindMessage, ParentID: conversationID})
	r.cacheWarn(err, "Failed to drop messages", "conversation_id", conversationID)

	r.publish(WriteEvent{Outcome: OutcomeQueued, OpKind: op.Kind, EntityKind: KindConversation, EntityID: conversationID, OperationID: op.ID})
	r.observeStage(ctx, MetricsOpDelete, MetricsStageTotal, start, 1, false)
	return nil
}

// DeleteAllConversations removes every conversation and message of the owner
func (r *Repository) DeleteAllConversations(ctx context.Context, ownerID string) error {
	ownerID = r.owner(ownerID)
	start := r.stageStart()

	unlock, err := r.locks.lock(ctx, conversationsLockKey(ownerID))
	if err != nil {
		return err
	}
	defer unlock()

	// An unreadable queue counts as no pending bulk delete so this one is still sent or queued.
	bulk, err := r.queue.HasPendingDeleteAll(ctx, ownerID)
	r.cacheWarn(err, "Failed to inspect queue", "owner_id", ownerID)
	bulk = bulk && err == nil

	if r.reach.Connected() && !bulk {
		rctx, cancel := r.remoteCtx(ctx)
		n, err := r.remote.DeleteAllConversations(rctx, ownerID)
		cancel()
		if err == nil {
			r.clearConversations(ctx, ownerID)
			r.publish(WriteEvent{Outcome: OutcomeSynced, OpKind: OpDeleteAllConversations, EntityKind: KindConversation, EntityID: ownerID})
			r.observeStage(ctx, MetricsOpDelete, MetricsStageTotal, start, n, false)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Info("Remote bulk delete failed, queueing", "owner_id", ownerID, "error", err)
	}

	if !bulk {
		op := &PendingOperation{
			EnqueuedAt: r.now(),
			Kind:       OpDeleteAllConversations,
			EntityKind: KindConversation,
			EntityID:   "*",
			OwnerID:    ownerID,
		}
		if err := r.queue.Enqueue(ctx, op); err != nil {
			return fmt.Errorf("failed to queue bulk conversation delete: %w", err)
		}
		r.publish(WriteEvent{Outcome: OutcomeQueued, OpKind: op.Kind, EntityKind: KindConversation, EntityID: ownerID, OperationID: op.ID})
	}
	r.clearConversations(ctx, ownerID)
	r.observeStage(ctx, MetricsOpDelete, MetricsStageTotal, start, 0, false)
	return nil
}

// clearConversations empties the owner's conversations and messages and records the
// (now empty) list as fetched so offline reads return it instead of ErrNotFound.
func (r *Repository) clearConversations(ctx context.Context, ownerID string) {
	_, err := r.replica.DeleteWhere(ctx, Filter{Kind: KindMessage, OwnerID: ownerID})
	r.cacheWarn(err, "Failed to clear messages", "owner_id", ownerID)
	_, err = r.replica.DeleteWhere(ctx, Filter{Kind: KindConversation, OwnerID: ownerID})
	r.cacheWarn(err, "Failed to clear conversations", "owner_id", ownerID)
	r.cacheWarn(r.replica.MarkFetched(ctx, conversationsScope(ownerID), ownerID, r.now()),
		"Failed to mark conversations fetched", "owner_id", ownerID)
}

// SignOut drops everything the replica holds for the owner, including unsent operations
func (r *Repository) SignOut(ctx context.Context, ownerID string) error {
	ownerID = r.owner(ownerID)
	r.drainMu.Lock()
	defer r.drainMu.Unlock()
	if err := r.replica.ClearOwner(ctx, ownerID); err != nil {
		return err
	}
	r.logger.Info("Cleared replica for sign-out", "owner_id", ownerID)
	return nil
}

// ConflictLog returns recorded resolver decisions, newest first
func (r *Repository) ConflictLog(ctx context.Context, limit int) ([]ConflictLogEntry, error) {
	return r.replica.Conflicts(ctx, limit)
}

// PendingOperations returns the queue in replay order
func (r *Repository) PendingOperations(ctx context.Context) ([]*PendingOperation, error) {
	return r.queue.List(ctx)
}

// Run drains the queue on every false to true reachability edge until ctx is done
func (r *Repository) Run(ctx context.Context) error {
	ch, unsubscribe := r.reach.Subscribe()
	defer unsubscribe()

	connected := r.reach.Connected()
	if connected && r.config.DrainOnStart {
		r.drainLogged(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			if c && !connected {
				r.drainLogged(ctx)
			}
			connected = c
		}
	}
}

func (r *Repository) drainLogged(ctx context.Context) {
	report, err := r.Drain(ctx)
	if err != nil {
		r.logger.Info("Drain stopped early", "remaining", report.Remaining, "error", err)
		return
	}
	r.logger.Debug("Drain finished",
		"applied", report.Applied,
		"resolved", report.Resolved,
		"rejected", report.Rejected)
}
