package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/outboxrelay/outboxrelay/internal/core/ports"
)

// SQLTx adapts a *sql.Tx (database/sql) to ports.Querier, so the capture
// interceptor can enlist an outbox row in a host transaction started
// against lib/pq or any other database/sql driver.
type SQLTx struct{ Tx *sql.Tx }

func (t SQLTx) ExecContext(ctx context.Context, query string, args ...any) (ports.Result, error) {
	res, err := t.Tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// PgxTx adapts a pgx.Tx to ports.Querier.
type PgxTx struct{ Tx pgx.Tx }

func (t PgxTx) ExecContext(ctx context.Context, query string, args ...any) (ports.Result, error) {
	tag, err := t.Tx.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult{tag}, nil
}

type pgxResult struct{ tag pgconn.CommandTag }

func (r pgxResult) RowsAffected() (int64, error) { return r.tag.RowsAffected(), nil }
