// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ServiceConfig holds configuration for the Postgres-backed store
type ServiceConfig struct {
	AppName      string        // Application name for connection tracking
	MaxTxRetries int           // Attempts for serialization failures / deadlocks
	RetryBackoff time.Duration // Base backoff between attempts, doubled per attempt
}

// PGStore is the Postgres implementation of Store
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	config *ServiceConfig

	mu     sync.RWMutex
	closed bool
}

var _ Store = (*PGStore)(nil)

// NewPGStore creates a store from an existing pool and makes sure the schema exists
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*PGStore, error) {
	if config == nil {
		config = &ServiceConfig{AppName: "coachsync"}
	}
	if config.MaxTxRetries <= 0 {
		config.MaxTxRetries = 5
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 20 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &PGStore{pool: pool, logger: logger, config: config}
	if err := s.initializeSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close marks the store closed. The pool is owned by the caller.
func (s *PGStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *PGStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// retryableTxStates are the SQLSTATEs after which a serializable transaction is rerun
var retryableTxStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && retryableTxStates[pgErr.SQLState()]
}

// withTx runs fn in a serializable transaction. Serialization failures and deadlocks
// are retried up to MaxTxRetries times, waiting RetryBackoff doubled per attempt.
func (s *PGStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	backoff := s.config.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
		if err == nil || !isRetryableTxError(err) || attempt >= s.config.MaxTxRetries {
			return err
		}
		s.logger.Debug("Retrying transaction", "attempt", attempt, "backoff", backoff, "error", err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

func scanRecord(row pgx.Row, rec *Record) error {
	var payload []byte
	if err := row.Scan(&rec.ID, &rec.OwnerID, &rec.ParentID, &payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return err
	}
	rec.Payload = json.RawMessage(payload)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := scanRecord(rows, &rec); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return out, nil
}

const profileColumns = `owner_id, owner_id, '', payload, created_at, updated_at`

func (s *PGStore) GetProfile(ctx context.Context, ownerID string) (*Record, error) {
	var rec Record
	err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM coach_profiles WHERE owner_id = $1`, ownerID), &rec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &rec, nil
}

func (s *PGStore) PutProfile(ctx context.Context, ownerID string, payload json.RawMessage, base *time.Time) (*Record, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("profile payload is not valid JSON")
	}
	var out Record
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var current *Record
		var rec Record
		err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+profileColumns+` FROM coach_profiles WHERE owner_id = $1 FOR UPDATE`, ownerID), &rec)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to lock profile: %w", err)
		default:
			current = &rec
		}
		if !baseMatches(base, current) {
			return &ConflictError{Current: current}
		}

		var prev time.Time
		created := time.Now().UTC().Truncate(time.Microsecond)
		if current != nil {
			prev = current.UpdatedAt
			created = current.CreatedAt
		}
		updated := nextTimestamp(time.Now(), prev)
		if _, err := tx.Exec(ctx, `
			INSERT INTO coach_profiles (owner_id, payload, created_at, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (owner_id) DO UPDATE
			SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
		`, ownerID, []byte(payload), created, updated); err != nil {
			return fmt.Errorf("failed to write profile: %w", err)
		}
		out = Record{ID: ownerID, OwnerID: ownerID, Payload: payload, CreatedAt: created, UpdatedAt: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

const conversationColumns = `id, owner_id, '', payload, created_at, updated_at`

func (s *PGStore) ListConversations(ctx context.Context, ownerID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM coach_conversations WHERE owner_id = $1 ORDER BY updated_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	return collectRecords(rows)
}

func (s *PGStore) GetConversation(ctx context.Context, ownerID, conversationID string) (*Record, error) {
	var rec Record
	err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM coach_conversations WHERE id = $1 AND owner_id = $2`,
		conversationID, ownerID), &rec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &rec, nil
}

func (s *PGStore) CreateConversation(ctx context.Context, ownerID, conversationID string, payload json.RawMessage) (*Record, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	ts := nextTimestamp(time.Now(), time.Time{})
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO coach_conversations (id, owner_id, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, conversationID, ownerID, []byte(payload), ts); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return &Record{ID: conversationID, OwnerID: ownerID, Payload: payload, CreatedAt: ts, UpdatedAt: ts}, nil
}

func (s *PGStore) DeleteConversation(ctx context.Context, ownerID, conversationID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM coach_conversations WHERE id = $1 AND owner_id = $2`, conversationID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeleteAllConversations(ctx context.Context, ownerID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM coach_conversations WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete conversations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) ListMessages(ctx context.Context, ownerID, conversationID string) ([]Record, error) {
	if _, err := s.GetConversation(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, conversation_id, payload, created_at, created_at
		FROM coach_messages
		WHERE conversation_id = $1 AND owner_id = $2
		ORDER BY created_at, id
	`, conversationID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return collectRecords(rows)
}

func (s *PGStore) AppendMessage(ctx context.Context, ownerID, conversationID, messageID string, payload json.RawMessage) (*Record, error) {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	var out Record
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var convUpdated time.Time
		err := tx.QueryRow(ctx,
			`SELECT updated_at FROM coach_conversations WHERE id = $1 AND owner_id = $2 FOR UPDATE`,
			conversationID, ownerID).Scan(&convUpdated)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock conversation: %w", err)
		}
		ts := nextTimestamp(time.Now(), convUpdated.UTC())
		if _, err := tx.Exec(ctx, `
			INSERT INTO coach_messages (id, conversation_id, owner_id, payload, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, messageID, conversationID, ownerID, []byte(payload), ts); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE coach_conversations SET updated_at = $2 WHERE id = $1`, conversationID, ts); err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		out = Record{ID: messageID, OwnerID: ownerID, ParentID: conversationID, Payload: payload, CreatedAt: ts, UpdatedAt: ts}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
