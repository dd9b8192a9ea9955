// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dsumanth/coach-me-sub008/remote"
)

// EntityKind partitions the replica
type EntityKind string

const (
	KindProfile      EntityKind = "profile"
	KindConversation EntityKind = "conversation"
	KindMessage      EntityKind = "message"
)

// SyncStatus describes a cached row's relationship to the remote store
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict"
)

// OpKind names a queued remote mutation
type OpKind string

const (
	OpUpdateProfile          OpKind = "update_profile"
	OpDeleteConversation     OpKind = "delete_conversation"
	OpDeleteAllConversations OpKind = "delete_all_conversations"
)

// ConflictType classifies how a local and a remote copy diverged
type ConflictType string

const (
	ConflictTimestampMismatch ConflictType = "timestamp_mismatch"
	ConflictDataMismatch      ConflictType = "data_mismatch"
	ConflictMissingLocal      ConflictType = "missing_local"
	ConflictMissingRemote     ConflictType = "missing_remote"
)

// Resolution is the resolver's verdict
type Resolution string

const (
	ResolutionServerWins Resolution = "server_wins"
	ResolutionLocalWins  Resolution = "local_wins"
	ResolutionNoConflict Resolution = "no_conflict"
)

// CachedEntity is the replica row shared by profiles, conversations and messages
type CachedEntity struct {
	Kind            EntityKind        `json:"kind"`
	RemoteID        string            `json:"remote_id"`
	OwnerID         string            `json:"owner_id"`
	ParentID        string            `json:"parent_id,omitempty"` // conversation id for messages
	Payload         json.RawMessage   `json:"payload"`
	RemoteCreatedAt time.Time         `json:"remote_created_at"`
	RemoteUpdatedAt time.Time         `json:"remote_updated_at"`
	LocalEditedAt   Option[time.Time] `json:"local_edited_at"` // unconfirmed device-side mutation
	CachedAt        time.Time         `json:"cached_at"`
	SyncStatus      SyncStatus        `json:"sync_status"`
	Deleted         bool              `json:"deleted,omitempty"` // tombstone awaiting a queued delete
}

// Key identifies the entity within its partition
func (e *CachedEntity) Key() string { return entityKey(e.Kind, e.RemoteID) }

func entityKey(kind EntityKind, id string) string { return string(kind) + ":" + id }

// entityFromRecord builds a synced replica row from a remote record
func entityFromRecord(kind EntityKind, rec *remote.Record, cachedAt time.Time) *CachedEntity {
	return &CachedEntity{
		Kind:            kind,
		RemoteID:        rec.ID,
		OwnerID:         rec.OwnerID,
		ParentID:        rec.ParentID,
		Payload:         append(json.RawMessage(nil), rec.Payload...),
		RemoteCreatedAt: rec.CreatedAt.UTC(),
		RemoteUpdatedAt: rec.UpdatedAt.UTC(),
		LocalEditedAt:   None[time.Time](),
		CachedAt:        cachedAt.UTC(),
		SyncStatus:      StatusSynced,
	}
}

// PendingOperation is a queued mutation replayed against the remote store on reconnect
type PendingOperation struct {
	ID            string            `json:"id"`
	Seq           int64             `json:"seq"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
	Kind          OpKind            `json:"kind"`
	EntityKind    EntityKind        `json:"entity_kind"`
	EntityID      string            `json:"entity_id"`
	OwnerID       string            `json:"owner_id"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	BaseUpdatedAt Option[time.Time] `json:"base_updated_at"` // remote version known when queued
	Attempts      int               `json:"attempts"`
	LastError     string            `json:"last_error,omitempty"`
}

// ConflictLogEntry records one reconciliation decision
type ConflictLogEntry struct {
	ID              int64             `json:"id,omitempty"`
	EntityType      EntityKind        `json:"entity_type"`
	EntityID        string            `json:"entity_id"`
	ConflictType    ConflictType      `json:"conflict_type"`
	Resolution      Resolution        `json:"resolution"`
	LocalTimestamp  Option[time.Time] `json:"local_timestamp"`
	RemoteTimestamp Option[time.Time] `json:"remote_timestamp"`
	ResolvedAt      time.Time         `json:"resolved_at"`
}

// SyncState is the sync metadata attached to values handed to callers
type SyncState struct {
	Status        SyncStatus
	LocalEditedAt Option[time.Time]
}

// Profile is the user's coaching profile; the only client-editable entity
type Profile struct {
	UserID        string    `json:"-"`
	DisplayName   string    `json:"display_name"`
	Goals         []string  `json:"goals,omitempty"`
	CoachingStyle string    `json:"coaching_style,omitempty"`
	Timezone      string    `json:"timezone,omitempty"`
	About         string    `json:"about,omitempty"`
	UpdatedAt     time.Time `json:"-"`
	Sync          SyncState `json:"-"`
}

// Conversation is a server-authored coaching thread
type Conversation struct {
	ID                 string    `json:"-"`
	OwnerID            string    `json:"-"`
	Title              string    `json:"title"`
	Domain             string    `json:"domain,omitempty"`
	MessageCount       int       `json:"message_count,omitempty"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time `json:"-"`
	UpdatedAt          time.Time `json:"-"`
	Sync               SyncState `json:"-"`
}

// Message is a server-authored chat message
type Message struct {
	ID             string    `json:"-"`
	ConversationID string    `json:"-"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"-"`
	Sync           SyncState `json:"-"`
}

func syncStateOf(e *CachedEntity) SyncState {
	return SyncState{Status: e.SyncStatus, LocalEditedAt: e.LocalEditedAt}
}

func profileFromEntity(e *CachedEntity) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", e.RemoteID, err)
	}
	p.UserID = e.OwnerID
	p.UpdatedAt = e.RemoteUpdatedAt
	p.Sync = syncStateOf(e)
	return &p, nil
}

func conversationFromEntity(e *CachedEntity) (*Conversation, error) {
	var c Conversation
	if err := json.Unmarshal(e.Payload, &c); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", e.RemoteID, err)
	}
	c.ID = e.RemoteID
	c.OwnerID = e.OwnerID
	c.CreatedAt = e.RemoteCreatedAt
	c.UpdatedAt = e.RemoteUpdatedAt
	c.Sync = syncStateOf(e)
	return &c, nil
}

func messageFromEntity(e *CachedEntity) (*Message, error) {
	var m Message
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil, fmt.Errorf("failed to decode message %s: %w", e.RemoteID, err)
	}
	m.ID = e.RemoteID
	m.ConversationID = e.ParentID
	m.CreatedAt = e.RemoteCreatedAt
	m.Sync = syncStateOf(e)
	return &m, nil
}
