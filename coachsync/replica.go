// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Replica is the SQLite-backed local replica store. It also holds the durable
// pending-operation queue and the conflict log so one file carries all device state.
type Replica struct {
	DB      *sql.DB
	logger  *slog.Logger
	writeMu sync.Mutex // Single coordination point for every replica mutation
}

// Filter selects replica rows. Zero-valued fields do not constrain the query.
type Filter struct {
	Kind           EntityKind
	OwnerID        string
	ParentID       string
	Status         SyncStatus
	IncludeDeleted bool
	Match          func(*CachedEntity) bool // Optional predicate applied after the SQL filter
}

// OpenReplica opens (or creates) the replica database at path
func OpenReplica(path string, logger *slog.Logger) (*Replica, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica %s: %w", path, err)
	}
	if strings.Contains(path, ":memory:") {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	r, err := NewReplica(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// NewReplica wraps an existing database handle and creates the replica tables
func NewReplica(db *sql.DB, logger *slog.Logger) (*Replica, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Replica{DB: db, logger: logger}, nil
}

// Close closes the underlying database
func (r *Replica) Close() error { return r.DB.Close() }

// initializeDatabase creates the replica, queue and conflict-log tables
func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	tables := []string{
		// One device id per signed-in user of this replica file
		`CREATE TABLE IF NOT EXISTS device_info (
			owner_id    TEXT NOT NULL PRIMARY KEY,
			device_id   TEXT NOT NULL,
			created_at  INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS cached_entities (
			kind               TEXT NOT NULL CHECK (kind IN ('profile','conversation','message')),
			remote_id          TEXT NOT NULL,
			owner_id           TEXT NOT NULL,
			parent_id          TEXT NOT NULL DEFAULT '',
			payload            TEXT NOT NULL,
			remote_created_at  INTEGER NOT NULL DEFAULT 0,
			remote_updated_at  INTEGER NOT NULL DEFAULT 0,
			local_edited_at    INTEGER,            -- NULL when no unconfirmed local mutation exists
			cached_at          INTEGER NOT NULL,
			sync_status        TEXT NOT NULL CHECK (sync_status IN ('synced','pending','conflict')),
			deleted            INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (kind, remote_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS cached_entities_profile_owner
			ON cached_entities (owner_id) WHERE kind = 'profile'`,
		`CREATE INDEX IF NOT EXISTS cached_entities_owner ON cached_entities (kind, owner_id)`,
		`CREATE INDEX IF NOT EXISTS cached_entities_parent ON cached_entities (kind, parent_id)`,

		// Pending queue (FIFO by seq)
		`CREATE TABLE IF NOT EXISTS pending_operations (
			seq              INTEGER PRIMARY KEY AUTOINCREMENT,
			operation_id     TEXT NOT NULL UNIQUE,
			kind             TEXT NOT NULL,
			entity_kind      TEXT NOT NULL,
			entity_id        TEXT NOT NULL,
			owner_id         TEXT NOT NULL,
			payload          TEXT,
			base_updated_at  INTEGER,
			enqueued_at      INTEGER NOT NULL,
			attempts         INTEGER NOT NULL DEFAULT 0,
			last_error       TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS pending_operations_entity
			ON pending_operations (entity_kind, entity_id)`,

		`CREATE TABLE IF NOT EXISTS conflict_log (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id       TEXT NOT NULL DEFAULT '',
			entity_type    TEXT NOT NULL,
			entity_id      TEXT NOT NULL,
			conflict_type  TEXT NOT NULL,
			resolution     TEXT NOT NULL,
			local_ts       INTEGER,
			remote_ts      INTEGER,
			resolved_at    INTEGER NOT NULL
		)`,

		// Successful list fetches, so an empty offline list can be told apart from "never fetched"
		`CREATE TABLE IF NOT EXISTS fetch_markers (
			scope       TEXT NOT NULL PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			fetched_at  INTEGER NOT NULL
		)`,
	}

	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create replica table: %w", err)
		}
	}
	return nil
}

// EnsureDeviceID generates and persists a device ID for the owner if not already present
func (r *Replica) EnsureDeviceID(ctx context.Context, ownerID string) (string, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var deviceID string
	err := r.DB.QueryRowContext(ctx, `SELECT device_id FROM device_info WHERE owner_id = ?`, ownerID).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		deviceID = uuid.New().String()
		_, err = r.DB.ExecContext(ctx, `
			INSERT INTO device_info (owner_id, device_id, created_at) VALUES (?, ?, ?)
		`, ownerID, deviceID, time.Now().UnixNano())
		if err != nil {
			return "", cacheErr("insert device info", err)
		}
	} else if err != nil {
		return "", cacheErr("query device info", err)
	}
	return deviceID, nil
}

const entityColumns = `kind, remote_id, owner_id, parent_id, payload, remote_created_at,
	remote_updated_at, local_edited_at, cached_at, sync_status, deleted`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*CachedEntity, error) {
	var e CachedEntity
	var kind, status, payload string
	var created, updated, cached int64
	var edited sql.NullInt64
	var deleted int
	if err := row.Scan(&kind, &e.RemoteID, &e.OwnerID, &e.ParentID, &payload, &created,
		&updated, &edited, &cached, &status, &deleted); err != nil {
		return nil, err
	}
	e.Kind = EntityKind(kind)
	e.Payload = []byte(payload)
	e.RemoteCreatedAt = fromNanos(created)
	e.RemoteUpdatedAt = fromNanos(updated)
	e.LocalEditedAt = optionFromNull(edited)
	e.CachedAt = fromNanos(cached)
	e.SyncStatus = SyncStatus(status)
	e.Deleted = deleted != 0
	return &e, nil
}

// Upsert inserts or overwrites the row for (kind, remote id). For profiles any
// other row of the same owner is replaced, keeping one profile per owner.
func (r *Replica) Upsert(ctx context.Context, e *CachedEntity) error {
	if e == nil || e.RemoteID == "" || e.Kind == "" {
		return cacheErr("upsert", fmt.Errorf("entity requires kind and remote id"))
	}
	if e.SyncStatus == "" {
		e.SyncStatus = StatusSynced
	}
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return cacheErr("begin upsert", err)
	}
	defer tx.Rollback()

	if e.Kind == KindProfile {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM cached_entities WHERE kind = 'profile' AND owner_id = ? AND remote_id <> ?
		`, e.OwnerID, e.RemoteID); err != nil {
			return cacheErr("replace profile", err)
		}
	}

	deleted := 0
	if e.Deleted {
		deleted = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cached_entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, remote_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			parent_id = excluded.parent_id,
			payload = excluded.payload,
			remote_created_at = excluded.remote_created_at,
			remote_updated_at = excluded.remote_updated_at,
			local_edited_at = excluded.local_edited_at,
			cached_at = excluded.cached_at,
			sync_status = excluded.sync_status,
			deleted = excluded.deleted
	`, string(e.Kind), e.RemoteID, e.OwnerID, e.ParentID, payload, toNanos(e.RemoteCreatedAt),
		toNanos(e.RemoteUpdatedAt), optionToNull(e.LocalEditedAt), toNanos(e.CachedAt),
		string(e.SyncStatus), deleted); err != nil {
		return cacheErr("upsert", err)
	}

	if err := tx.Commit(); err != nil {
		return cacheErr("commit upsert", err)
	}
	return nil
}

// Get returns the row for (kind, id), or nil when absent
func (r *Replica) Get(ctx context.Context, kind EntityKind, id string) (*CachedEntity, error) {
	e, err := scanEntity(r.DB.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM cached_entities WHERE kind = ? AND remote_id = ?`, string(kind), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cacheErr("get", err)
	}
	return e, nil
}

// GetProfile returns the owner's cached profile, or nil when absent
func (r *Replica) GetProfile(ctx context.Context, ownerID string) (*CachedEntity, error) {
	e, err := scanEntity(r.DB.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM cached_entities WHERE kind = 'profile' AND owner_id = ?`, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cacheErr("get profile", err)
	}
	return e, nil
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.ParentID != "" {
		conds = append(conds, "parent_id = ?")
		args = append(args, f.ParentID)
	}
	if f.Status != "" {
		conds = append(conds, "sync_status = ?")
		args = append(args, string(f.Status))
	}
	if !f.IncludeDeleted {
		conds = append(conds, "deleted = 0")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns the rows matching f ordered by remote creation time
func (r *Replica) List(ctx context.Context, f Filter) ([]*CachedEntity, error) {
	where, args := f.where()
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM cached_entities`+where+` ORDER BY remote_created_at, remote_id`, args...)
	if err != nil {
		return nil, cacheErr("list", err)
	}
	defer rows.Close()

	var out []*CachedEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, cacheErr("scan", err)
		}
		if f.Match != nil && !f.Match(e) {
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, cacheErr("list", err)
	}
	return out, nil
}

// Delete removes the row for (kind, id). Deleting a missing row is not an error.
func (r *Replica) Delete(ctx context.Context, kind EntityKind, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, err := r.DB.ExecContext(ctx,
		`DELETE FROM cached_entities WHERE kind = ? AND remote_id = ?`, string(kind), id); err != nil {
		return cacheErr("delete", err)
	}
	return nil
}

// DeleteWhere removes every row matching f (tombstones included) and returns the count
func (r *Replica) DeleteWhere(ctx context.Context, f Filter) (int, error) {
	if f.Match != nil {
		return 0, cacheErr("delete where", fmt.Errorf("predicate filters are not supported for deletes"))
	}
	f.IncludeDeleted = true
	where, args := f.where()
	if where == "" {
		return 0, cacheErr("delete where", fmt.Errorf("refusing to delete without a filter"))
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	res, err := r.DB.ExecContext(ctx, `DELETE FROM cached_entities`+where, args...)
	if err != nil {
		return 0, cacheErr("delete where", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkFetched records a successful list fetch for scope
func (r *Replica) MarkFetched(ctx context.Context, scope, ownerID string, at time.Time) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, err := r.DB.ExecContext(ctx, `
		INSERT INTO fetch_markers (scope, owner_id, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT (scope) DO UPDATE SET fetched_at = excluded.fetched_at
	`, scope, ownerID, toNanos(at)); err != nil {
		return cacheErr("mark fetched", err)
	}
	return nil
}

// HasFetched reports whether scope was ever fetched successfully
func (r *Replica) HasFetched(ctx context.Context, scope string) (bool, error) {
	var exists bool
	if err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM fetch_markers WHERE scope = ?)`, scope).Scan(&exists); err != nil {
		return false, cacheErr("has fetched", err)
	}
	return exists, nil
}

// ClearOwner removes every cached row, queued operation, marker and conflict entry of the owner
func (r *Replica) ClearOwner(ctx context.Context, ownerID string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return cacheErr("begin clear", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM cached_entities WHERE owner_id = ?`,
		`DELETE FROM pending_operations WHERE owner_id = ?`,
		`DELETE FROM fetch_markers WHERE owner_id = ?`,
		`DELETE FROM conflict_log WHERE owner_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, ownerID); err != nil {
			return cacheErr("clear owner", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return cacheErr("commit clear", err)
	}
	return nil
}

// AppendConflict persists a resolver log entry
func (r *Replica) AppendConflict(ctx context.Context, ownerID string, entry *ConflictLogEntry) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO conflict_log (owner_id, entity_type, entity_id, conflict_type, resolution, local_ts, remote_ts, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ownerID, string(entry.EntityType), entry.EntityID, string(entry.ConflictType), string(entry.Resolution),
		optionToNull(entry.LocalTimestamp), optionToNull(entry.RemoteTimestamp), toNanos(entry.ResolvedAt))
	if err != nil {
		return cacheErr("append conflict", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// Conflicts returns the most recent conflict log entries, newest first. limit <= 0 returns all.
func (r *Replica) Conflicts(ctx context.Context, limit int) ([]ConflictLogEntry, error) {
	query := `SELECT id, entity_type, entity_id, conflict_type, resolution, local_ts, remote_ts, resolved_at
		FROM conflict_log ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cacheErr("list conflicts", err)
	}
	defer rows.Close()

	var out []ConflictLogEntry
	for rows.Next() {
		var e ConflictLogEntry
		var entityType, conflictType, resolution string
		var localTS, remoteTS sql.NullInt64
		var resolvedAt int64
		if err := rows.Scan(&e.ID, &entityType, &e.EntityID, &conflictType, &resolution, &localTS, &remoteTS, &resolvedAt); err != nil {
			return nil, cacheErr("scan conflict", err)
		}
		e.EntityType = EntityKind(entityType)
		e.ConflictType = ConflictType(conflictType)
		e.Resolution = Resolution(resolution)
		e.LocalTimestamp = optionFromNull(localTS)
		e.RemoteTimestamp = optionFromNull(remoteTS)
		e.ResolvedAt = fromNanos(resolvedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, cacheErr("list conflicts", err)
	}
	return out, nil
}
