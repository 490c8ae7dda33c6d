// Package migrations applies the schema required by the postgres store. DDL
// statements are idempotent and executed in order.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS grid_facilities (
		id         TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		level      INTEGER NOT NULL DEFAULT 1,
		team_id    TEXT NOT NULL,
		team_name  TEXT NOT NULL DEFAULT '',
		tile_q     INTEGER NOT NULL,
		tile_r     INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS grid_connection_requests (
		id                   TEXT PRIMARY KEY,
		type                 TEXT NOT NULL,
		consumer_facility_id TEXT NOT NULL,
		provider_facility_id TEXT NOT NULL,
		consumer_team_id     TEXT NOT NULL,
		provider_team_id     TEXT NOT NULL,
		distance             INTEGER NOT NULL,
		operation_points     INTEGER NOT NULL,
		proposed_unit_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
		status               TEXT NOT NULL,
		reason               TEXT NOT NULL DEFAULT '',
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,
	// One pending request per (consumer facility, utility type). Enforced
	// here so two concurrent creates cannot both slip past a read-time check.
	`CREATE UNIQUE INDEX IF NOT EXISTS grid_connection_requests_single_pending
		ON grid_connection_requests (consumer_facility_id, type)
		WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS grid_connections (
		id                   TEXT PRIMARY KEY,
		request_id           TEXT NOT NULL,
		type                 TEXT NOT NULL,
		consumer_facility_id TEXT NOT NULL,
		provider_facility_id TEXT NOT NULL,
		consumer_team_id     TEXT NOT NULL,
		provider_team_id     TEXT NOT NULL,
		distance             INTEGER NOT NULL,
		operation_points     INTEGER NOT NULL,
		unit_price           DOUBLE PRECISION NOT NULL DEFAULT 0,
		status               TEXT NOT NULL,
		reason               TEXT NOT NULL DEFAULT '',
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS grid_connections_single_active
		ON grid_connections (consumer_facility_id, type)
		WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS grid_connections_provider_active
		ON grid_connections (provider_facility_id)
		WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS grid_subscriptions (
		id                   TEXT PRIMARY KEY,
		type                 TEXT NOT NULL,
		consumer_facility_id TEXT NOT NULL,
		provider_facility_id TEXT NOT NULL,
		consumer_team_id     TEXT NOT NULL,
		provider_team_id     TEXT NOT NULL,
		distance             INTEGER NOT NULL,
		proposed_annual_fee  DOUBLE PRECISION NOT NULL DEFAULT 0,
		annual_fee           DOUBLE PRECISION NOT NULL DEFAULT 0,
		status               TEXT NOT NULL,
		reason               TEXT NOT NULL DEFAULT '',
		next_billing_at      TIMESTAMPTZ,
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS grid_subscriptions_single_live
		ON grid_subscriptions (consumer_facility_id, type)
		WHERE status IN ('pending', 'active', 'suspended')`,
}

// Apply executes all migration statements in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
