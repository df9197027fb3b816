package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0005, Down0005)
}

func Up0005(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `
CREATE TABLE submission (
	id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
	code TEXT NOT NULL,
	problem_setup_id UUID NOT NULL REFERENCES problem_setup (id),
	created_by_id UUID NOT NULL REFERENCES account (id),
	completed_on TIMESTAMP WITH TIME ZONE,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`},
		statement{query: `CREATE INDEX idx_submission_problem_setup_id ON submission (problem_setup_id);`},
		statement{query: `CREATE INDEX idx_submission_created_by_id ON submission (created_by_id);`},
		statement{query: `
CREATE TABLE submission_result (
	token TEXT PRIMARY KEY,
	submission_id UUID NOT NULL REFERENCES submission (id),
	status TEXT NOT NULL,
	stdout TEXT NOT NULL DEFAULT '',
	stderr TEXT NOT NULL DEFAULT '',
	compile_output TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	time TEXT NOT NULL DEFAULT '',
	memory INTEGER NOT NULL DEFAULT 0,
	position INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`},
		statement{query: `CREATE INDEX idx_submission_result_submission_id ON submission_result (submission_id);`},
	)
}

func Down0005(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `DROP TABLE submission_result;`},
		statement{query: `DROP TABLE submission;`},
	)
}
