package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// NotifyChannel is the Postgres channel record change triggers publish to
const NotifyChannel = "record_changes"

type migration struct {
	Version int
	UpSQL   string
}

var migrations = []migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS agents (
	firebase_uid TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	agent_id TEXT NOT NULL UNIQUE,
	admin_id BIGINT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'offline',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS memberships (
	member_id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS allowed_numbers (
	member_id TEXT NOT NULL REFERENCES memberships(member_id) ON DELETE CASCADE,
	phone TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_allowed_numbers_member ON allowed_numbers(member_id);

CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY,
	full_name TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS addresses (
	address_id TEXT PRIMARY KEY,
	member_id TEXT NOT NULL,
	address_line TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_addresses_member ON addresses(member_id);

CREATE TABLE IF NOT EXISTS servicemen (
	user_id TEXT PRIMARY KEY,
	full_name TEXT NOT NULL DEFAULT '',
	current_lat DOUBLE PRECISION,
	current_lng DOUBLE PRECISION,
	rating DOUBLE PRECISION NOT NULL DEFAULT 0,
	vehicle TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	available BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS placed_orders (
	order_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	admin_id BIGINT NOT NULL,
	member_id TEXT,
	user_id TEXT,
	address_id TEXT,
	service_category TEXT NOT NULL DEFAULT '',
	work_description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_placed_orders_admin_status ON placed_orders(admin_id, status);

CREATE TABLE IF NOT EXISTS dispatch (
	order_id TEXT PRIMARY KEY,
	ticket_id TEXT NOT NULL DEFAULT '',
	admin_id BIGINT NOT NULL,
	user_id TEXT,
	category TEXT NOT NULL DEFAULT '',
	request_address TEXT NOT NULL DEFAULT '',
	order_request TEXT NOT NULL DEFAULT '',
	order_status TEXT NOT NULL,
	scheduled_time TEXT,
	previous_order_id TEXT,
	cancellation_reason TEXT,
	customer_name TEXT NOT NULL DEFAULT '',
	phone_number TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_dispatch_admin_status ON dispatch(admin_id, order_status);
`,
	},
	{
		Version: 2,
		UpSQL: `
CREATE OR REPLACE FUNCTION notify_record_change() RETURNS trigger AS $$
DECLARE
	rec RECORD;
BEGIN
	IF TG_OP = 'DELETE' THEN
		rec := OLD;
	ELSE
		rec := NEW;
	END IF;
	PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
		'table', TG_TABLE_NAME,
		'admin_id', rec.admin_id,
		'order_id', rec.order_id
	)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS placed_orders_notify ON placed_orders;
CREATE TRIGGER placed_orders_notify
	AFTER INSERT OR UPDATE OR DELETE ON placed_orders
	FOR EACH ROW EXECUTE FUNCTION notify_record_change();

DROP TRIGGER IF EXISTS dispatch_notify ON dispatch;
CREATE TRIGGER dispatch_notify
	AFTER INSERT OR UPDATE OR DELETE ON dispatch
	FOR EACH ROW EXECUTE FUNCTION notify_record_change();
`,
	},
}

// applyMigrations runs every migration not yet recorded in schema_migrations
func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = $1`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
