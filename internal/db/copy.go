package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Replace swaps the content of schema.table for rows in one transaction:
// the table is truncated and rows are loaded with the COPY protocol. An
// empty rows slice leaves the table empty.
func Replace(ctx context.Context, pool Pool, schema, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, eris.Errorf("db: replace %s.%s: no columns specified", schema, table)
	}
	ident := pgx.Identifier{schema, table}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: replace %s.%s: begin tx", schema, table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, fmt.Sprintf("TRUNCATE %s", ident.Sanitize())); err != nil {
		return 0, eris.Wrapf(err, "db: truncate %s.%s", schema, table)
	}

	var n int64
	if len(rows) > 0 {
		n, err = tx.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "db: COPY INTO %s.%s", schema, table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: replace %s.%s: commit tx", schema, table)
	}
	return n, nil
}
