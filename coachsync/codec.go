// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EncodeEntity serializes a cached entity, e.g. for export or debugging dumps.
func EncodeEntity(e *CachedEntity) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("cannot encode nil entity")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity %s: %w", e.Key(), err)
	}
	return data, nil
}

// DecodeEntity is the inverse of EncodeEntity
func DecodeEntity(data []byte) (*CachedEntity, error) {
	var e CachedEntity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entity: %w", err)
	}
	switch e.Kind {
	case KindProfile, KindConversation, KindMessage:
	default:
		return nil, fmt.Errorf("failed to decode entity: unknown kind %q", e.Kind)
	}
	e.RemoteCreatedAt = e.RemoteCreatedAt.UTC()
	e.RemoteUpdatedAt = e.RemoteUpdatedAt.UTC()
	e.CachedAt = e.CachedAt.UTC()
	if t, ok := e.LocalEditedAt.Get(); ok {
		e.LocalEditedAt = Some(t.UTC())
	}
	return &e, nil
}

// Timestamps are stored in SQLite as unix nanoseconds; 0 is the zero time.

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func optionToNull(o Option[time.Time]) sql.NullInt64 {
	if t, ok := o.Get(); ok {
		return sql.NullInt64{Int64: toNanos(t), Valid: true}
	}
	return sql.NullInt64{}
}

func optionFromNull(n sql.NullInt64) Option[time.Time] {
	if !n.Valid {
		return None[time.Time]()
	}
	return Some(fromNanos(n.Int64))
}
