package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is applied idempotently on startup.
const schema = `
CREATE TABLE IF NOT EXISTS records (
	id            UUID PRIMARY KEY,
	kind          TEXT NOT NULL CHECK (kind IN ('message', 'email')),
	platform      TEXT NOT NULL,
	external_id   TEXT,
	sender_id     TEXT,
	sender_name   TEXT,
	sender_email  TEXT,
	recipients    TEXT[] NOT NULL DEFAULT '{}',
	subject       TEXT,
	content       TEXT NOT NULL,
	content_html  TEXT,
	metadata      JSONB,
	received_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),

	status        TEXT NOT NULL DEFAULT 'unclassified'
	              CHECK (status IN ('unclassified', 'in_flight', 'classified', 'failed')),
	category      TEXT,
	confidence    DOUBLE PRECISION CHECK (confidence BETWEEN 0 AND 1),
	sentiment     DOUBLE PRECISION CHECK (sentiment BETWEEN -1 AND 1),
	priority      DOUBLE PRECISION CHECK (priority BETWEEN 0 AND 1),
	is_urgent     BOOLEAN,
	rationale     TEXT,
	classified_at TIMESTAMPTZ,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT,
	claimed_at    TIMESTAMPTZ,

	is_read       BOOLEAN NOT NULL DEFAULT FALSE,
	is_flagged    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),

	CONSTRAINT records_classification_all_or_nothing CHECK (
		(status = 'classified'
			AND category IS NOT NULL AND confidence IS NOT NULL
			AND sentiment IS NOT NULL AND priority IS NOT NULL AND is_urgent IS NOT NULL)
		OR
		(status <> 'classified'
			AND category IS NULL AND confidence IS NULL
			AND sentiment IS NULL AND priority IS NULL AND is_urgent IS NULL)
	)
);

CREATE INDEX IF NOT EXISTS idx_records_status_updated ON records (status, updated_at);
CREATE INDEX IF NOT EXISTS idx_records_claimed ON records (claimed_at) WHERE status = 'in_flight';
CREATE INDEX IF NOT EXISTS idx_records_received ON records (received_at DESC);
CREATE INDEX IF NOT EXISTS idx_records_category ON records (category);

CREATE TABLE IF NOT EXISTS suggested_replies (
	id             UUID PRIMARY KEY,
	record_id      UUID NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	suggested_text TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	context_used   TEXT NOT NULL DEFAULT '',
	is_used        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_suggested_replies_record ON suggested_replies (record_id, created_at DESC);

CREATE TABLE IF NOT EXISTS knowledge_entries (
	id         UUID PRIMARY KEY,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	tags       TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_knowledge_entries_title ON knowledge_entries (LOWER(title));
`

// Migrate creates the tables used by the Postgres adapters.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
