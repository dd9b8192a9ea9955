// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue is the durable FIFO of remote mutations that could not be applied yet.
// It lives in the replica file and shares the replica's write lock. Replay follows
// insertion order (seq); enqueued_at is the device clock and may move backwards.
type Queue struct {
	r *Replica
}

// NewQueue returns the queue stored alongside r
func NewQueue(r *Replica) *Queue { return &Queue{r: r} }

const opColumns = `seq, operation_id, kind, entity_kind, entity_id, owner_id, payload,
	base_updated_at, enqueued_at, attempts, last_error`

func scanOp(row rowScanner) (*PendingOperation, error) {
	var op PendingOperation
	var kind, entityKind string
	var payload sql.NullString
	var base sql.NullInt64
	var enqueued int64
	if err := row.Scan(&op.Seq, &op.ID, &kind, &entityKind, &op.EntityID, &op.OwnerID, &payload,
		&base, &enqueued, &op.Attempts, &op.LastError); err != nil {
		return nil, err
	}
	op.Kind = OpKind(kind)
	op.EntityKind = EntityKind(entityKind)
	if payload.Valid {
		op.Payload = []byte(payload.String)
	}
	op.BaseUpdatedAt = optionFromNull(base)
	op.EnqueuedAt = fromNanos(enqueued)
	return &op, nil
}

// Enqueue appends op. ID and EnqueuedAt are filled in when empty; Seq is assigned.
func (q *Queue) Enqueue(ctx context.Context, op *PendingOperation) error {
	if op.Kind == "" || op.EntityKind == "" {
		return fmt.Errorf("pending operation requires kind and entity kind")
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}
	var payload sql.NullString
	if len(op.Payload) > 0 {
		payload = sql.NullString{String: string(op.Payload), Valid: true}
	}

	q.r.writeMu.Lock()
	defer q.r.writeMu.Unlock()
	res, err := q.r.DB.ExecContext(ctx, `
		INSERT INTO pending_operations (operation_id, kind, entity_kind, entity_id, owner_id, payload,
			base_updated_at, enqueued_at, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, string(op.Kind), string(op.EntityKind), op.EntityID, op.OwnerID, payload,
		optionToNull(op.BaseUpdatedAt), toNanos(op.EnqueuedAt), op.Attempts, op.LastError)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s for %s: %w", op.Kind, op.EntityID, err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		op.Seq = seq
	}
	return nil
}

// Peek returns the earliest operation, or nil when the queue is empty
func (q *Queue) Peek(ctx context.Context) (*PendingOperation, error) {
	op, err := scanOp(q.r.DB.QueryRowContext(ctx,
		`SELECT `+opColumns+` FROM pending_operations ORDER BY seq LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}
	return op, nil
}

// Remove deletes the operation with the given id
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.r.writeMu.Lock()
	defer q.r.writeMu.Unlock()
	if _, err := q.r.DB.ExecContext(ctx, `DELETE FROM pending_operations WHERE operation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove operation %s: %w", id, err)
	}
	return nil
}

// List returns all queued operations in replay order
func (q *Queue) List(ctx context.Context) ([]*PendingOperation, error) {
	rows, err := q.r.DB.QueryContext(ctx,
		`SELECT `+opColumns+` FROM pending_operations ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var out []*PendingOperation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// Len returns the number of queued operations
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// HasPending reports whether any operation targets the entity
func (q *Queue) HasPending(ctx context.Context, kind EntityKind, id string) (bool, error) {
	var exists bool
	err := q.r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM pending_operations WHERE entity_kind = ? AND entity_id = ?)
	`, string(kind), id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check queue: %w", err)
	}
	return exists, nil
}

// HasPendingAfter reports whether an operation for the entity is queued behind op
func (q *Queue) HasPendingAfter(ctx context.Context, op *PendingOperation) (bool, error) {
	var exists bool
	err := q.r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM pending_operations
			WHERE entity_kind = ? AND entity_id = ? AND seq > ?)
	`, string(op.EntityKind), op.EntityID, op.Seq).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check queue: %w", err)
	}
	return exists, nil
}

// HasPendingDeleteAll reports whether a bulk conversation delete is queued for the owner
func (q *Queue) HasPendingDeleteAll(ctx context.Context, ownerID string) (bool, error) {
	var exists bool
	err := q.r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM pending_operations WHERE kind = ? AND owner_id = ?)
	`, string(OpDeleteAllConversations), ownerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check queue: %w", err)
	}
	return exists, nil
}

// Rebase moves every queued operation of the entity onto a new remote base version
func (q *Queue) Rebase(ctx context.Context, kind EntityKind, id string, base time.Time) (int, error) {
	q.r.writeMu.Lock()
	defer q.r.writeMu.Unlock()
	res, err := q.r.DB.ExecContext(ctx, `
		UPDATE pending_operations SET base_updated_at = ? WHERE entity_kind = ? AND entity_id = ?
	`, toNanos(base), string(kind), id)
	if err != nil {
		return 0, fmt.Errorf("failed to rebase %s: %w", entityKey(kind, id), err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecordFailure bumps the attempt counter and stores the last error
func (q *Queue) RecordFailure(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	q.r.writeMu.Lock()
	defer q.r.writeMu.Unlock()
	if _, err := q.r.DB.ExecContext(ctx, `
		UPDATE pending_operations SET attempts = attempts + 1, last_error = ? WHERE operation_id = ?
	`, msg, id); err != nil {
		return fmt.Errorf("failed to record failure for %s: %w", id, err)
	}
	return nil
}
