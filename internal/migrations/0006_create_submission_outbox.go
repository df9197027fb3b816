package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0006, Down0006)
}

func Up0006(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `
CREATE TABLE submission_outbox (
	id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
	submission_id UUID NOT NULL REFERENCES submission (id),
	stage INTEGER NOT NULL DEFAULT 0,
	status INTEGER NOT NULL DEFAULT 0,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	process_on TIMESTAMP WITH TIME ZONE,
	next_attempt_on TIMESTAMP WITH TIME ZONE,
	finalized_on TIMESTAMP WITH TIME ZONE,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`},
		statement{query: `CREATE INDEX idx_submission_outbox_submission_id ON submission_outbox (submission_id);`},
		statement{query: `CREATE INDEX idx_submission_outbox_claimable ON submission_outbox (stage, status, attempt_count) WHERE finalized_on IS NULL;`},
	)
}

func Down0006(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `DROP TABLE submission_outbox;`},
	)
}
