package dbpool

import (
	"context"
	"database/sql"
)

// Querier adapts a Pool to the minimal Query/ExecContext shape
// internal/mapper.Mapper depends on: each call fetches a connection,
// issues the query against it, and releases it immediately, marking it
// broken first on any driver-level error so Release discards rather than
// recycles it. The returned *sql.Rows stays valid after release since each
// PooledConn wraps a full *sqlx.DB, which keeps its own physical
// connection checked out until the Rows are closed.
type Querier struct {
	Pool *Pool
}

func (q Querier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := q.Pool.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.DB.QueryContext(ctx, query, args...)
	if err != nil {
		conn.MarkBroken()
		q.Pool.Release(conn)
		return nil, err
	}
	q.Pool.Release(conn)
	return rows, nil
}

func (q Querier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := q.Pool.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	defer q.Pool.Release(conn)

	res, err := conn.DB.ExecContext(ctx, query, args...)
	if err != nil {
		conn.MarkBroken()
		return nil, err
	}
	return res, nil
}
