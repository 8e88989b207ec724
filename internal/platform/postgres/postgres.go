// Package postgres opens the lib/pq connection pool and owns the schema for
// durable capture sessions and audit events.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"idproof/internal/platform/config"
)

// Schema is applied idempotently at startup and by integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS capture_sessions (
	id                 UUID PRIMARY KEY,
	user_id            UUID NOT NULL,
	flow_id            UUID NOT NULL,
	id_type            TEXT NOT NULL,
	selfie_required    BOOLEAN NOT NULL DEFAULT FALSE,
	vendor             TEXT NOT NULL,
	token              TEXT,
	capture_app_url    TEXT NOT NULL DEFAULT '',
	capture_app_url_at TIMESTAMPTZ,
	requested_at       TIMESTAMPTZ NOT NULL,
	received_at        TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	result             TEXT NOT NULL,
	reasons            JSONB NOT NULL DEFAULT '[]',
	vendor_codes       JSONB NOT NULL DEFAULT '[]',
	fields             JSONB,
	processed_events   JSONB NOT NULL DEFAULT '[]',
	transport_error    BOOLEAN NOT NULL DEFAULT FALSE,
	superseded         BOOLEAN NOT NULL DEFAULT FALSE,
	version            BIGINT NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS capture_sessions_token_idx
	ON capture_sessions (vendor, token) WHERE token IS NOT NULL;
CREATE INDEX IF NOT EXISTS capture_sessions_flow_idx
	ON capture_sessions (user_id, flow_id) WHERE NOT superseded;

CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	category    TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	user_id     UUID,
	flow_id     UUID,
	subject     TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	vendor      TEXT NOT NULL DEFAULT '',
	decision    TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	actor_id    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_user_idx ON audit_events (user_id, occurred_at);
`

// Open returns a pinged pool, or nil when no URL is configured.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
