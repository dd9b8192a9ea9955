// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchema creates the coaching tables if they don't exist
func (s *PGStore) initializeSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		migrations := []string{
			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS coach_profiles (
				owner_id    TEXT        PRIMARY KEY,
				payload     JSONB       NOT NULL,
				created_at  TIMESTAMPTZ NOT NULL,
				updated_at  TIMESTAMPTZ NOT NULL
			)`,

			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS coach_conversations (
				id          TEXT        PRIMARY KEY,
				owner_id    TEXT        NOT NULL,
				payload     JSONB       NOT NULL,
				created_at  TIMESTAMPTZ NOT NULL,
				updated_at  TIMESTAMPTZ NOT NULL
			)`,
			/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS coach_conversations_owner_idx
				ON coach_conversations (owner_id, updated_at DESC)`,

			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS coach_messages (
				id               TEXT        PRIMARY KEY,
				conversation_id  TEXT        NOT NULL REFERENCES coach_conversations(id) ON DELETE CASCADE,
				owner_id         TEXT        NOT NULL,
				payload          JSONB       NOT NULL,
				created_at       TIMESTAMPTZ NOT NULL
			)`,
			/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS coach_messages_conversation_idx
				ON coach_messages (conversation_id, created_at)`,
		}
		for i, m := range migrations {
			if _, err := tx.Exec(ctx, m); err != nil {
				return fmt.Errorf("migration %d failed: %w", i, err)
			}
		}
		return nil
	})
}
