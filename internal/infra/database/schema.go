package database

import (
	"context"
	"database/sql"
	"fmt"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS booking_sagas (
    correlation_id                     TEXT PRIMARY KEY,
    status                             TEXT        NOT NULL,
    booking_id                         TEXT        NOT NULL,
    payment_id                         TEXT        NOT NULL DEFAULT '',
    invoice_id                         TEXT        NOT NULL DEFAULT '',
    customer_id                        TEXT        NOT NULL,
    craftsman_id                       TEXT        NOT NULL DEFAULT '',
    customer_email                     TEXT        NOT NULL DEFAULT '',
    description                        TEXT        NOT NULL DEFAULT '',
    address                            TEXT        NOT NULL DEFAULT '',
    scheduled_date                     TIMESTAMPTZ,
    payment_reference                  TEXT        NOT NULL DEFAULT '',
    amount                             BIGINT      NOT NULL,
    currency                           TEXT        NOT NULL,
    payment_timeout_token              TEXT        NOT NULL DEFAULT '',
    booking_confirmation_timeout_token TEXT        NOT NULL DEFAULT '',
    compensation_timeout_token         TEXT        NOT NULL DEFAULT '',
    payment_retry_count                INTEGER     NOT NULL DEFAULT 0,
    booking_confirmation_retry_count   INTEGER     NOT NULL DEFAULT 0,
    compensation_retry_count           INTEGER     NOT NULL DEFAULT 0,
    pending_reversals                  INTEGER     NOT NULL DEFAULT 0,
    refund_issued                      BOOLEAN     NOT NULL DEFAULT FALSE,
    compensation_completed             BOOLEAN     NOT NULL DEFAULT FALSE,
    failure_reason                     TEXT        NOT NULL DEFAULT '',
    created_at                         TIMESTAMPTZ NOT NULL,
    updated_at                         TIMESTAMPTZ NOT NULL,
    payment_initiated_at               TIMESTAMPTZ,
    payment_completed_at               TIMESTAMPTZ,
    booking_confirmed_at               TIMESTAMPTZ,
    completed_at                       TIMESTAMPTZ,
    cancelled_at                       TIMESTAMPTZ,
    failed_at                          TIMESTAMPTZ,
    version                            BIGINT      NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_booking_sagas_status ON booking_sagas (status, updated_at);

CREATE TABLE IF NOT EXISTS saga_outbox (
    id             TEXT PRIMARY KEY,
    correlation_id TEXT        NOT NULL,
    saga_version   BIGINT      NOT NULL,
    seq            INTEGER     NOT NULL,
    topic          TEXT        NOT NULL,
    name           TEXT        NOT NULL,
    payload        BYTEA       NOT NULL,
    trace_context  BYTEA,
    status         TEXT        NOT NULL DEFAULT 'PENDING',
    attempts       INTEGER     NOT NULL DEFAULT 0,
    error_msg      TEXT,
    created_at     TIMESTAMPTZ NOT NULL,
    claimed_at     TIMESTAMPTZ,
    processed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_saga_outbox_pending ON saga_outbox (status, created_at, saga_version, seq);
CREATE INDEX IF NOT EXISTS idx_saga_outbox_correlation ON saga_outbox (correlation_id, status);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS booking_sagas (
    correlation_id                     TEXT PRIMARY KEY,
    status                             TEXT    NOT NULL,
    booking_id                         TEXT    NOT NULL,
    payment_id                         TEXT    NOT NULL DEFAULT '',
    invoice_id                         TEXT    NOT NULL DEFAULT '',
    customer_id                        TEXT    NOT NULL,
    craftsman_id                       TEXT    NOT NULL DEFAULT '',
    customer_email                     TEXT    NOT NULL DEFAULT '',
    description                        TEXT    NOT NULL DEFAULT '',
    address                            TEXT    NOT NULL DEFAULT '',
    scheduled_date                     TEXT,
    payment_reference                  TEXT    NOT NULL DEFAULT '',
    amount                             INTEGER NOT NULL,
    currency                           TEXT    NOT NULL,
    payment_timeout_token              TEXT    NOT NULL DEFAULT '',
    booking_confirmation_timeout_token TEXT    NOT NULL DEFAULT '',
    compensation_timeout_token         TEXT    NOT NULL DEFAULT '',
    payment_retry_count                INTEGER NOT NULL DEFAULT 0,
    booking_confirmation_retry_count   INTEGER NOT NULL DEFAULT 0,
    compensation_retry_count           INTEGER NOT NULL DEFAULT 0,
    pending_reversals                  INTEGER NOT NULL DEFAULT 0,
    refund_issued                      INTEGER NOT NULL DEFAULT 0,
    compensation_completed             INTEGER NOT NULL DEFAULT 0,
    failure_reason                     TEXT    NOT NULL DEFAULT '',
    created_at                         TEXT    NOT NULL,
    updated_at                         TEXT    NOT NULL,
    payment_initiated_at               TEXT,
    payment_completed_at               TEXT,
    booking_confirmed_at               TEXT,
    completed_at                       TEXT,
    cancelled_at                       TEXT,
    failed_at                          TEXT,
    version                            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_booking_sagas_status ON booking_sagas (status, updated_at);

CREATE TABLE IF NOT EXISTS saga_outbox (
    id             TEXT PRIMARY KEY,
    correlation_id TEXT    NOT NULL,
    saga_version   INTEGER NOT NULL,
    seq            INTEGER NOT NULL,
    topic          TEXT    NOT NULL,
    name           TEXT    NOT NULL,
    payload        BLOB    NOT NULL,
    trace_context  BLOB,
    status         TEXT    NOT NULL DEFAULT 'PENDING',
    attempts       INTEGER NOT NULL DEFAULT 0,
    error_msg      TEXT,
    created_at     TEXT    NOT NULL,
    claimed_at     TEXT,
    processed_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_saga_outbox_pending ON saga_outbox (status, created_at, saga_version, seq);
CREATE INDEX IF NOT EXISTS idx_saga_outbox_correlation ON saga_outbox (correlation_id, status);
`

// Migrate applies the schema. Idempotent.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	schema := postgresSchema
	if d == SQLite {
		schema = sqliteSchema
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%s: apply schema: %w", d, err)
	}
	return nil
}
