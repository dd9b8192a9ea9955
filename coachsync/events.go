// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package coachsync

import "time"

// Outcome says what happened to a write
type Outcome string

const (
	OutcomeSynced    Outcome = "synced"    // applied remotely before returning
	OutcomeQueued    Outcome = "queued"    // cached and enqueued for the next drain
	OutcomeConfirmed Outcome = "confirmed" // a queued op was applied during a drain
	OutcomeResolved  Outcome = "resolved"  // a queued op met a diverged record and went through the resolver
	OutcomeRejected  Outcome = "rejected"  // a queued op was refused permanently and dropped
)

// WriteEvent is published on Repository.Events
type WriteEvent struct {
	Outcome     Outcome
	OpKind      OpKind
	EntityKind  EntityKind
	EntityID    string
	OperationID string     // empty for OutcomeSynced
	Resolution  Resolution // set for OutcomeResolved
	At          time.Time
}

// publish never blocks; a full buffer drops the event
func (r *Repository) publish(ev WriteEvent) {
	if ev.At.IsZero() {
		ev.At = r.config.Now().UTC()
	}
	select {
	case r.events <- ev:
	default:
		r.logger.Debug("Dropped write event", "outcome", ev.Outcome, "entity_id", ev.EntityID)
	}
}
