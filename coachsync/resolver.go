// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"time"
)

// Decision is the resolver's output for one entity
type Decision struct {
	Resolution   Resolution
	ConflictType ConflictType
	Entry        ConflictLogEntry
}

// Resolver decides deterministically between a local and a remote copy of an entity.
// It never touches storage; callers apply the decision and persist Entry.
type Resolver struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a resolver. now stamps ResolvedAt and defaults to time.Now.
func NewResolver(logger *slog.Logger, now func() time.Time) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{logger: logger, now: now}
}

// Resolve compares local and remote copies of one entity. Either side may be nil.
func (r *Resolver) Resolve(kind EntityKind, local, remote *CachedEntity) Decision {
	var d Decision
	switch {
	case local == nil && remote == nil:
		d = Decision{Resolution: ResolutionNoConflict, ConflictType: ConflictDataMismatch}
	case local == nil:
		d = Decision{Resolution: ResolutionServerWins, ConflictType: ConflictMissingLocal}
	case remote == nil:
		d = Decision{Resolution: ResolutionServerWins, ConflictType: ConflictMissingRemote}
		if kind == KindProfile && local.LocalEditedAt.IsSome() {
			d.Resolution = ResolutionLocalWins
		}
	default:
		switch kind {
		case KindProfile:
			d = resolveProfile(local, remote)
		case KindConversation:
			d = resolveConversation(local, remote)
		case KindMessage:
			d = resolveMessage(local, remote)
		default:
			d = Decision{Resolution: ResolutionServerWins, ConflictType: ConflictDataMismatch}
		}
	}

	id := ""
	if local != nil {
		id = local.RemoteID
	} else if remote != nil {
		id = remote.RemoteID
	}
	localTS, remoteTS := logTimestamps(kind, local, remote)
	d.Entry = ConflictLogEntry{
		EntityType:      kind,
		EntityID:        id,
		ConflictType:    d.ConflictType,
		Resolution:      d.Resolution,
		LocalTimestamp:  localTS,
		RemoteTimestamp: remoteTS,
		ResolvedAt:      r.now().UTC(),
	}

	if d.Resolution != ResolutionNoConflict {
		r.logger.Debug("Resolved conflict",
			"entity_type", kind,
			"entity_id", id,
			"conflict_type", d.ConflictType,
			"resolution", d.Resolution)
	}
	return d
}

// Profiles are the only client-editable entity: the newer of the local edit and
// the server's updated_at wins.
func resolveProfile(local, remote *CachedEntity) Decision {
	edited, ok := local.LocalEditedAt.Get()
	if !ok {
		return Decision{Resolution: ResolutionServerWins, ConflictType: ConflictTimestampMismatch}
	}
	switch {
	case edited.After(remote.RemoteUpdatedAt):
		return Decision{Resolution: ResolutionLocalWins, ConflictType: ConflictTimestampMismatch}
	case edited.Before(remote.RemoteUpdatedAt):
		return Decision{Resolution: ResolutionServerWins, ConflictType: ConflictTimestampMismatch}
	default:
		return Decision{Resolution: ResolutionNoConflict, ConflictType: ConflictDataMismatch}
	}
}

// Conversations are server-authored; the server copy always wins.
func resolveConversation(local, remote *CachedEntity) Decision {
	if !local.RemoteUpdatedAt.Equal(remote.RemoteUpdatedAt) {
		return Decision{Resolution: ResolutionServerWins, ConflictType: ConflictTimestampMismatch}
	}
	return Decision{Resolution: ResolutionNoConflict, ConflictType: ConflictDataMismatch}
}

// Messages are immutable once authored by the server.
func resolveMessage(local, remote *CachedEntity) Decision {
	if !local.RemoteCreatedAt.Equal(remote.RemoteCreatedAt) {
		return Decision{Resolution: ResolutionServerWins, ConflictType: ConflictTimestampMismatch}
	}
	if !sameMessageContent(local.Payload, remote.Payload) {
		return Decision{Resolution: ResolutionServerWins, ConflictType: ConflictDataMismatch}
	}
	return Decision{Resolution: ResolutionNoConflict, ConflictType: ConflictDataMismatch}
}

func sameMessageContent(a, b json.RawMessage) bool {
	var ma, mb Message
	if json.Unmarshal(a, &ma) != nil || json.Unmarshal(b, &mb) != nil {
		return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
	}
	return ma.Role == mb.Role && ma.Content == mb.Content
}

// logTimestamps picks the pair of timestamps the resolver compared for kind
func logTimestamps(kind EntityKind, local, remote *CachedEntity) (Option[time.Time], Option[time.Time]) {
	localTS, remoteTS := None[time.Time](), None[time.Time]()
	switch kind {
	case KindProfile:
		if local != nil {
			localTS = local.LocalEditedAt
		}
		if remote != nil {
			remoteTS = Some(remote.RemoteUpdatedAt)
		}
	case KindMessage:
		if local != nil {
			localTS = Some(local.RemoteCreatedAt)
		}
		if remote != nil {
			remoteTS = Some(remote.RemoteCreatedAt)
		}
	default:
		if local != nil {
			localTS = Some(local.RemoteUpdatedAt)
		}
		if remote != nil {
			remoteTS = Some(remote.RemoteUpdatedAt)
		}
	}
	return localTS, remoteTS
}
