package gateway

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
)

// A minimal, sequential-step database/sql/driver fake: each test programs
// an ordered list of steps, and each QueryContext/ExecContext the mapper
// issues consumes the next one. This mirrors internal/dbpool's
// fakeDriver/fakeConn approach, extended to return actual row data so
// internal/user's Mapper-backed finders can be exercised end to end
// without a live MySQL server.
//
// rows is a flat slice, 7 driver.Value columns per row (the users table's
// id/uuid/username/email/password_digest/created_at/updated_at order), to
// keep the fake to exactly what internal/user's scanRow expects.
type queryStep struct {
	rows []driver.Value
	err  error
}

type execStep struct {
	rowsAffected int64
	err          error
}

type dbScript struct {
	mu    sync.Mutex
	steps []any // queryStep or execStep, consumed FIFO
}

func (s *dbScript) push(step any) { s.steps = append(s.steps, step) }

func (s *dbScript) next() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return nil
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step
}

var driverSeq int64

type scriptedDriver struct{ script *dbScript }

func (d scriptedDriver) Open(name string) (driver.Conn, error) { return &scriptedConn{script: d.script}, nil }

type scriptedConn struct{ script *dbScript }

func (c *scriptedConn) Prepare(query string) (driver.Stmt, error) { return &scriptedStmt{script: c.script}, nil }
func (c *scriptedConn) Close() error                              { return nil }
func (c *scriptedConn) Begin() (driver.Tx, error)                 { return scriptedTx{}, nil }
func (c *scriptedConn) Ping(ctx context.Context) error            { return nil }

type scriptedStmt struct{ script *dbScript }

func (s *scriptedStmt) Close() error  { return nil }
func (s *scriptedStmt) NumInput() int { return -1 }

func (s *scriptedStmt) Exec(args []driver.Value) (driver.Result, error) {
	step, _ := s.script.next().(execStep)
	if step.err != nil {
		return nil, step.err
	}
	return scriptedResult{rows: step.rowsAffected}, nil
}

func (s *scriptedStmt) Query(args []driver.Value) (driver.Rows, error) {
	next := s.script.next()
	step, ok := next.(queryStep)
	if !ok {
		return &scriptedRows{}, nil
	}
	if step.err != nil {
		return nil, step.err
	}
	return &scriptedRows{rows: step.rows}, nil
}

type scriptedResult struct{ rows int64 }

func (r scriptedResult) LastInsertId() (int64, error) { return 1, nil }
func (r scriptedResult) RowsAffected() (int64, error) { return r.rows, nil }

type scriptedTx struct{}

func (scriptedTx) Commit() error   { return nil }
func (scriptedTx) Rollback() error { return nil }

type scriptedRows struct {
	rows []driver.Value
	cols []string
	i    int
}

func (r *scriptedRows) Columns() []string {
	if len(r.cols) > 0 {
		return r.cols
	}
	return []string{"id", "uuid", "username", "email", "password_digest", "created_at", "updated_at"}
}
func (r *scriptedRows) Close() error { return nil }
func (r *scriptedRows) Next(dest []driver.Value) error {
	if r.i >= len(r.rows)/7 {
		return sql.ErrNoRows
	}
	copy(dest, r.rows[r.i*7:(r.i+1)*7])
	r.i++
	return nil
}

// newFakeDB registers a freshly named driver bound to script and opens a
// *sqlx.DB against it; each test gets its own driver name since
// sql.Register panics on reuse.
func newFakeDB(script *dbScript) *sqlx.DB {
	name := fmt.Sprintf("gwfake%d", atomic.AddInt64(&driverSeq, 1))
	sql.Register(name, scriptedDriver{script: script})
	db, err := sqlx.Connect(name, "fake-dsn")
	if err != nil {
		panic(err)
	}
	return db
}

// userRow builds one flat 7-column row in the users table's column order.
func userRow(id int64, uuid, username, email, digest string) []driver.Value {
	return []driver.Value{id, uuid, username, email, digest, time.Now(), nil}
}
