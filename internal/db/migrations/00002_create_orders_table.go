package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(UpOrdersTable, DownOrdersTable)
}

func UpOrdersTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `CREATE TABLE orders
(
    uuid UUID PRIMARY KEY,
    customer_uuid UUID NOT NULL,
    runner_uuid UUID,
    amount_cents BIGINT NOT NULL,
    fee_cents BIGINT NOT NULL DEFAULT 0,
    payout_cents BIGINT NOT NULL DEFAULT 0,
    status VARCHAR(32) NOT NULL,
    pickup_name VARCHAR(255) NOT NULL DEFAULT '',
    pickup_address VARCHAR(255) NOT NULL DEFAULT '',
    delivery_address VARCHAR(255) NOT NULL DEFAULT '',
    delivery_area VARCHAR(255) NOT NULL DEFAULT '',
    handoff_code_hash VARCHAR(255),
    handoff_code_expires_at TIMESTAMP,
    handoff_attempts INT NOT NULL DEFAULT 0,
    handoff_verified_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL,
    accepted_at TIMESTAMP,
    at_pickup_at TIMESTAMP,
    cash_secured_at TIMESTAMP,
    completed_at TIMESTAMP,
    cancelled_at TIMESTAMP,
    cancelled_by VARCHAR(32),
    cancel_reason VARCHAR(255),
    rating INT
);`)
	return err
}

func DownOrdersTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, "DROP TABLE orders;")
	return err
}
