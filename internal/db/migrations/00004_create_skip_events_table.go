package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(UpSkipEventsTable, DownSkipEventsTable)
}

func UpSkipEventsTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `CREATE TABLE skip_events
(
    id SERIAL PRIMARY KEY,
    runner_uuid UUID NOT NULL,
    order_uuid UUID NOT NULL,
    reason VARCHAR(32) NOT NULL,
    skipped_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL
);`)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `CREATE INDEX skip_events_runner_order_idx ON skip_events (runner_uuid, order_uuid);`)
	return err
}

func DownSkipEventsTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, "DROP TABLE skip_events;")
	return err
}
