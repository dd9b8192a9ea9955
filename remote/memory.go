// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by `coachsync serve --memory` and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	profiles      map[string]*Record
	conversations map[string]*Record
	messages      map[string][]*Record // conversation id -> messages in append order
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:           now,
		profiles:      make(map[string]*Record),
		conversations: make(map[string]*Record),
		messages:      make(map[string][]*Record),
	}
}

var _ Store = (*MemoryStore)(nil)

func cloneRecord(r *Record) *Record {
	c := *r
	c.Payload = append(json.RawMessage(nil), r.Payload...)
	return &c
}

func (m *MemoryStore) GetProfile(_ context.Context, ownerID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(p), nil
}

func (m *MemoryStore) PutProfile(_ context.Context, ownerID string, payload json.RawMessage, base *time.Time) (*Record, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("profile payload is not valid JSON")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.profiles[ownerID]
	if exists && !baseMatches(base, current) {
		return nil, &ConflictError{Current: cloneRecord(current)}
	}

	var prev time.Time
	created := m.now().UTC().Truncate(time.Microsecond)
	if exists {
		prev = current.UpdatedAt
		created = current.CreatedAt
	}
	rec := &Record{
		ID:        ownerID,
		OwnerID:   ownerID,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: created,
		UpdatedAt: nextTimestamp(m.now(), prev),
	}
	m.profiles[ownerID] = rec
	return cloneRecord(rec), nil
}

// SetProfile stores a profile with an explicit updated_at, simulating a write
// made by another device.
func (m *MemoryStore) SetProfile(ownerID string, payload json.RawMessage, updatedAt time.Time) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &Record{
		ID:        ownerID,
		OwnerID:   ownerID,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: updatedAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
	m.profiles[ownerID] = rec
	return cloneRecord(rec)
}

func (m *MemoryStore) ListConversations(_ context.Context, ownerID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, c := range m.conversations {
		if c.OwnerID == ownerID {
			out = append(out, *cloneRecord(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) GetConversation(_ context.Context, ownerID, conversationID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[conversationID]
	if !ok || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return cloneRecord(c), nil
}

func (m *MemoryStore) CreateConversation(_ context.Context, ownerID, conversationID string, payload json.RawMessage) (*Record, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conversations[conversationID]; exists {
		return nil, fmt.Errorf("conversation %s already exists", conversationID)
	}
	ts := nextTimestamp(m.now(), time.Time{})
	rec := &Record{
		ID:        conversationID,
		OwnerID:   ownerID,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	m.conversations[conversationID] = rec
	return cloneRecord(rec), nil
}

// UpdateConversation rewrites a conversation payload, bumping updated_at.
func (m *MemoryStore) UpdateConversation(ownerID, conversationID string, payload json.RawMessage, updatedAt time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	c.Payload = append(json.RawMessage(nil), payload...)
	c.UpdatedAt = updatedAt.UTC()
	return cloneRecord(c), nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, ownerID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok || c.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.conversations, conversationID)
	delete(m.messages, conversationID)
	return nil
}

func (m *MemoryStore) DeleteAllConversations(_ context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, c := range m.conversations {
		if c.OwnerID == ownerID {
			delete(m.conversations, id)
			delete(m.messages, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, ownerID, conversationID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[conversationID]
	if !ok || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	out := make([]Record, 0, len(m.messages[conversationID]))
	for _, msg := range m.messages[conversationID] {
		out = append(out, *cloneRecord(msg))
	}
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, ownerID, conversationID, messageID string, payload json.RawMessage) (*Record, error) {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok || c.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	ts := nextTimestamp(m.now(), c.UpdatedAt)
	rec := &Record{
		ID:        messageID,
		OwnerID:   ownerID,
		ParentID:  conversationID,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	m.messages[conversationID] = append(m.messages[conversationID], rec)
	c.UpdatedAt = ts
	return cloneRecord(rec), nil
}
