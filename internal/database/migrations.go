package database

import (
	"fmt"
	"log/slog"
)

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createEventsTable,
		createTicketTypesTable,
		createReservationsTable,
		createReservationsIndexes,
		createTicketsTable,
		createTicketsIndexes,
		createProcessedNotificationsTable,
		createDispatchFailuresTable,
	}

	for i, migration := range migrations {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    starts_at TIMESTAMPTZ NOT NULL,
    published BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createTicketTypesTable = `
CREATE TABLE IF NOT EXISTS ticket_types (
    id BIGSERIAL PRIMARY KEY,
    event_id BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    name VARCHAR(100) NOT NULL,
    price_cents BIGINT NOT NULL DEFAULT 0,
    quantity INTEGER NOT NULL DEFAULT 0,
    sales_start TIMESTAMPTZ,
    sales_end TIMESTAMPTZ,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    max_per_order INTEGER,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (price_cents >= 0),
    CHECK (quantity >= 0),
    CHECK (max_per_order IS NULL OR max_per_order > 0)
);`

const createReservationsTable = `
CREATE TABLE IF NOT EXISTS reservations (
    id BIGSERIAL PRIMARY KEY,
    ticket_type_id BIGINT NOT NULL REFERENCES ticket_types(id) ON DELETE CASCADE,
    quantity INTEGER NOT NULL,
    unit_price_cents BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ NOT NULL,
    fulfilled BOOLEAN NOT NULL DEFAULT FALSE,
    session_id VARCHAR(255),
    purchaser_email VARCHAR(254) NOT NULL DEFAULT '',
    purchaser_name VARCHAR(200) NOT NULL DEFAULT '',

    CHECK (quantity > 0)
);`

const createReservationsIndexes = `
CREATE INDEX IF NOT EXISTS reservations_open_expiry_idx
ON reservations (expires_at) WHERE fulfilled = FALSE;
CREATE INDEX IF NOT EXISTS reservations_type_open_idx
ON reservations (ticket_type_id) WHERE fulfilled = FALSE;
CREATE INDEX IF NOT EXISTS reservations_session_idx
ON reservations (session_id);`

const createTicketsTable = `
CREATE TABLE IF NOT EXISTS tickets (
    id BIGSERIAL PRIMARY KEY,
    ticket_type_id BIGINT NOT NULL REFERENCES ticket_types(id) ON DELETE CASCADE,
    reservation_id BIGINT REFERENCES reservations(id) ON DELETE SET NULL,
    token UUID NOT NULL UNIQUE,
    purchaser_name VARCHAR(200) NOT NULL DEFAULT '',
    purchaser_email VARCHAR(254) NOT NULL DEFAULT '',
    issued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    checked_in_at TIMESTAMPTZ,
    payment_method VARCHAR(10) NOT NULL DEFAULT 'card',
    sold_by VARCHAR(100),
    note TEXT NOT NULL DEFAULT '',

    CHECK (payment_method IN ('card', 'cash', 'comp'))
);`

const createTicketsIndexes = `
CREATE INDEX IF NOT EXISTS tickets_type_idx ON tickets (ticket_type_id);
CREATE INDEX IF NOT EXISTS tickets_email_idx ON tickets (purchaser_email);`

const createProcessedNotificationsTable = `
CREATE TABLE IF NOT EXISTS processed_notifications (
    id BIGSERIAL PRIMARY KEY,
    notification_id VARCHAR(200) NOT NULL UNIQUE,
    type VARCHAR(120) NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createDispatchFailuresTable = `
CREATE TABLE IF NOT EXISTS dispatch_failures (
    id BIGSERIAL PRIMARY KEY,
    email VARCHAR(254) NOT NULL,
    name VARCHAR(200) NOT NULL DEFAULT '',
    ticket_tokens TEXT[] NOT NULL,
    reason TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS dispatch_failures_pending_idx
ON dispatch_failures (last_attempt_at) WHERE resolved_at IS NULL;`
