// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dsumanth/coach-me-sub008/remote"
)

// RemoteStore is the slice of the remote source of truth the repository consumes.
// remote.Store implementations satisfy it directly; HTTPRemote reaches one over the network.
//
// Implementations report network, timeout and 5xx failures wrapped in
// ErrRemoteUnavailable, a missing record as ErrNotFound (or remote.ErrNotFound),
// and a lost conditional profile write as *remote.ConflictError.
type RemoteStore interface {
	GetProfile(ctx context.Context, ownerID string) (*remote.Record, error)
	PutProfile(ctx context.Context, ownerID string, payload json.RawMessage, base *time.Time) (*remote.Record, error)
	ListConversations(ctx context.Context, ownerID string) ([]remote.Record, error)
	ListMessages(ctx context.Context, ownerID, conversationID string) ([]remote.Record, error)
	DeleteConversation(ctx context.Context, ownerID, conversationID string) error
	DeleteAllConversations(ctx context.Context, ownerID string) (int, error)
}

var _ RemoteStore = remote.Store(nil)
