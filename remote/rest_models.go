// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"encoding/json"
	"time"
)

// REST/JSON models for HTTP API requests and responses

// Record is the wire shape shared by profiles, conversations and messages:
// an opaque payload plus server-assigned timestamps.
type Record struct {
	ID        string          `json:"id"`                  // Remote identifier (owner id for profiles)
	OwnerID   string          `json:"owner_id"`            // Owning user (JWT sub)
	ParentID  string          `json:"parent_id,omitempty"` // Conversation id for messages
	Payload   json.RawMessage `json:"payload"`             // Entity fields, opaque to the store
	CreatedAt time.Time       `json:"created_at"`          // Server-assigned creation time
	UpdatedAt time.Time       `json:"updated_at"`          // Server-assigned modification time
}

// PutProfileRequest replaces the owner's profile.
// When BaseUpdatedAt is set the write only succeeds if the stored profile
// still carries that updated_at (or does not exist yet). A zero BaseUpdatedAt
// only succeeds when no profile is stored.
type PutProfileRequest struct {
	Payload       json.RawMessage `json:"payload"`
	BaseUpdatedAt *time.Time      `json:"base_updated_at,omitempty"`
}

// CreateConversationRequest creates a server-authored conversation
type CreateConversationRequest struct {
	ID      string          `json:"id,omitempty"` // Optional client-proposed UUID
	Payload json.RawMessage `json:"payload"`
}

// AppendMessageRequest appends a server-authored message to a conversation
type AppendMessageRequest struct {
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// ListResponse wraps collection reads
type ListResponse struct {
	Records []Record `json:"records"`
}

// DeleteResponse reports how many records a delete removed
type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string  `json:"error"`
	Message string  `json:"message"`
	Current *Record `json:"current,omitempty"` // Current server state on conflict
}

// StatusResponse represents service status response
type StatusResponse struct {
	Status      string          `json:"status"`      // healthy, unhealthy
	Version     string          `json:"version"`     // API version
	AppName     string          `json:"app_name"`    // Application name
	Collections []string        `json:"collections"` // Collections served
	Features    map[string]bool `json:"features"`    // Enabled features
}
