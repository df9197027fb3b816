package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0004, Down0004)
}

func Up0004(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `
CREATE TABLE problem (
	id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
	slug TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`},
		statement{query: `
CREATE TABLE problem_setup (
	id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
	problem_id UUID NOT NULL REFERENCES problem (id),
	language_id UUID NOT NULL REFERENCES language (id),
	initial_code TEXT NOT NULL DEFAULT '',
	harness_template TEXT NOT NULL,
	function_name TEXT NOT NULL,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`},
		statement{query: `CREATE INDEX idx_problem_setup_problem_id ON problem_setup (problem_id);`},
		statement{query: `
CREATE TABLE test_suite (
	id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
	problem_setup_id UUID NOT NULL REFERENCES problem_setup (id),
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`},
		statement{query: `CREATE INDEX idx_test_suite_problem_setup_id ON test_suite (problem_setup_id);`},
		statement{query: `
CREATE TABLE test_case (
	id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
	test_suite_id UUID NOT NULL REFERENCES test_suite (id),
	input_type TEXT NOT NULL DEFAULT '',
	input TEXT NOT NULL,
	expected_output TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`},
		statement{query: `CREATE INDEX idx_test_case_test_suite_id ON test_case (test_suite_id);`},
	)
}

func Down0004(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		statement{query: `DROP TABLE test_case;`},
		statement{query: `DROP TABLE test_suite;`},
		statement{query: `DROP TABLE problem_setup;`},
		statement{query: `DROP TABLE problem;`},
	)
}
