package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the engine's tables when they do not exist yet.
// The admin/config layer owns migrations for its side of the schema; this
// bootstrap keeps dev and test environments self-contained.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS event_types (
			id UUID PRIMARY KEY,
			bundle TEXT NOT NULL,
			application TEXT NOT NULL,
			name TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			subscribed_by_default BOOLEAN NOT NULL DEFAULT false,
			UNIQUE (bundle, application, name)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id UUID PRIMARY KEY,
			org_id TEXT NOT NULL,
			bundle TEXT NOT NULL,
			application TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_type_id UUID NOT NULL REFERENCES event_types (id),
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS endpoints (
			id UUID PRIMARY KEY,
			org_id TEXT,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT true,
			consecutive_server_errors INT NOT NULL DEFAULT 0,
			properties JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS behavior_groups (
			id UUID PRIMARY KEY,
			org_id TEXT,
			bundle_id UUID NOT NULL,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_type_behaviors (
			event_type_id UUID NOT NULL REFERENCES event_types (id),
			behavior_group_id UUID NOT NULL REFERENCES behavior_groups (id),
			PRIMARY KEY (event_type_id, behavior_group_id)
		)`,
		`CREATE TABLE IF NOT EXISTS behavior_group_actions (
			behavior_group_id UUID NOT NULL REFERENCES behavior_groups (id),
			endpoint_id UUID NOT NULL REFERENCES endpoints (id),
			position INT NOT NULL DEFAULT 0,
			PRIMARY KEY (behavior_group_id, endpoint_id)
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_records (
			id UUID PRIMARY KEY,
			event_id UUID NOT NULL,
			endpoint_id UUID NOT NULL,
			endpoint_type TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT 'pending',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			details JSONB,
			bundle TEXT NOT NULL DEFAULT '',
			application TEXT NOT NULL DEFAULT '',
			event_type_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (event_id, endpoint_id)
		)`,
		`CREATE TABLE IF NOT EXISTS email_subscriptions (
			org_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			event_type_id UUID NOT NULL REFERENCES event_types (id),
			subscription_type TEXT NOT NULL,
			subscribed BOOLEAN NOT NULL,
			PRIMARY KEY (org_id, user_id, event_type_id, subscription_type)
		)`,
		`CREATE TABLE IF NOT EXISTS org_admins (
			org_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (org_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS staged_aggregation_rows (
			id UUID PRIMARY KEY,
			org_id TEXT NOT NULL,
			bundle TEXT NOT NULL,
			application TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_staged_rows_window
			ON staged_aggregation_rows (org_id, bundle, application, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
