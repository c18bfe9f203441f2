package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the tables used by the store. Safe to call multiple times.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    phone      TEXT NOT NULL,
    role       TEXT NOT NULL CHECK (role IN ('client', 'driver', 'operator', 'admin')),
    language   TEXT NOT NULL DEFAULT 'en',
    push_token TEXT,
    points     BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS deliveries (
    id           TEXT PRIMARY KEY,
    client_id    TEXT NOT NULL,
    driver_id    TEXT,
    conflict_id  TEXT,
    status       TEXT NOT NULL,
    code         TEXT NOT NULL,
    package_type TEXT NOT NULL,
    departure    JSONB NOT NULL,
    destination  JSONB NOT NULL,
    recipients   JSONB NOT NULL,
    price        NUMERIC(12, 2) NOT NULL,
    candidates   TEXT[] NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL,
    accepted_at  TIMESTAMPTZ,
    started_at   TIMESTAMPTZ,
    ended_at     TIMESTAMPTZ,
    cancelled_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_deliveries_driver_status ON deliveries(driver_id, status);
CREATE INDEX IF NOT EXISTS idx_deliveries_status_created ON deliveries(status, created_at);

CREATE TABLE IF NOT EXISTS conflicts (
    id          TEXT PRIMARY KEY,
    delivery_id TEXT NOT NULL REFERENCES deliveries(id),
    status      TEXT NOT NULL,
    type        TEXT NOT NULL,
    reporter_id TEXT NOT NULL,
    assigner_id TEXT,
    assignee_id TEXT,
    last_lat    DOUBLE PRECISION NOT NULL,
    last_lng    DOUBLE PRECISION NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    assigned_at TIMESTAMPTZ,
    closed_at   TIMESTAMPTZ
);

-- At most one opened conflict per delivery.
CREATE UNIQUE INDEX IF NOT EXISTS uq_conflicts_open_delivery
    ON conflicts(delivery_id) WHERE status = 'opened';
CREATE INDEX IF NOT EXISTS idx_conflicts_unassigned
    ON conflicts(created_at) WHERE status = 'opened' AND assignee_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_conflicts_open_assignee
    ON conflicts(assignee_id) WHERE status = 'opened';
`
