// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the remote source of truth. Every call is scoped by owner; a record
// owned by someone else is reported as ErrNotFound.
type Store interface {
	GetProfile(ctx context.Context, ownerID string) (*Record, error)
	// PutProfile replaces the profile. A non-nil base makes the write conditional
	// and returns *ConflictError carrying the current record on mismatch.
	PutProfile(ctx context.Context, ownerID string, payload json.RawMessage, base *time.Time) (*Record, error)

	ListConversations(ctx context.Context, ownerID string) ([]Record, error)
	GetConversation(ctx context.Context, ownerID, conversationID string) (*Record, error)
	CreateConversation(ctx context.Context, ownerID, conversationID string, payload json.RawMessage) (*Record, error)
	DeleteConversation(ctx context.Context, ownerID, conversationID string) error
	DeleteAllConversations(ctx context.Context, ownerID string) (int, error)

	ListMessages(ctx context.Context, ownerID, conversationID string) ([]Record, error)
	AppendMessage(ctx context.Context, ownerID, conversationID, messageID string, payload json.RawMessage) (*Record, error)
}

// nextTimestamp returns a server timestamp at microsecond precision (what
// Postgres timestamptz keeps) that is strictly after prev.
func nextTimestamp(now time.Time, prev time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if !prev.IsZero() && !ts.After(prev) {
		ts = prev.Add(time.Microsecond)
	}
	return ts
}

// baseMatches reports whether a conditional write against current may proceed.
// A zero base expects no stored record.
func baseMatches(base *time.Time, current *Record) bool {
	if base == nil || current == nil {
		return true
	}
	if base.IsZero() {
		return false
	}
	return current.UpdatedAt.Equal(*base)
}
