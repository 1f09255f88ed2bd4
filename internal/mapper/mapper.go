package mapper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/flicker-im/fabric/internal/fkerr"
)

// Querier is the subset of *sqlx.DB / *sqlx.Tx the mapper needs. Accepting
// the interface instead of a concrete type lets Mapper run inside
// DbPool.ExecuteTransaction without depending on the pool package.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Order is a single ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

func (o Order) clause() string {
	if o.Desc {
		return o.Field + " DESC"
	}
	return o.Field + " ASC"
}

// Pagination is a LIMIT/OFFSET pair. A zero-value Pagination means
// unbounded.
type Pagination struct {
	Limit  int
	Offset int
}

// SetClause is one column assignment in an UPDATE: either a bound value or
// a raw SQL expression (e.g. "NOW(3)") that contributes text but not a
// bind argument, per spec section 4.6's bind-count rule.
type SetClause struct {
	Column string
	Value  any
	RawSQL string // if non-empty, Value is ignored and RawSQL is inlined
}

// Set builds a bindable assignment.
func Set(column string, value any) SetClause { return SetClause{Column: column, Value: value} }

// SetRaw builds a raw-expression assignment that does not consume a bind
// slot.
func SetRaw(column, expr string) SetClause { return SetClause{Column: column, RawSQL: expr} }

// Mapper is a generic entity mapper over table T with primary key type K.
// scan and columns are supplied by the concrete entity package (e.g.
// internal/user) because Go generics cannot reflect struct tags into scan
// destinations without reflection overhead the teacher's style avoids
// elsewhere (plain, explicit field lists).
type Mapper[E any, K any] struct {
	db      Querier
	table   string
	pk      string
	columns []string
	scanRow func(rowScanner) (E, error)
	values  func(E) []any // full column-order values, including pk, for INSERT
}

type rowScanner interface {
	Scan(dest ...any) error
}

// New builds a Mapper for table/pk backed by db, with the entity-specific
// scan/values functions.
func New[E any, K any](db Querier, table, pk string, columns []string, scanRow func(rowScanner) (E, error), values func(E) []any) *Mapper[E, K] {
	return &Mapper[E, K]{db: db, table: table, pk: pk, columns: columns, scanRow: scanRow, values: values}
}

func (m *Mapper[E, K]) FindByID(ctx context.Context, id K) (E, error) {
	var zero E
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1", strings.Join(m.columns, ", "), m.table, m.pk)
	rows, err := m.db.QueryContext(ctx, query, id)
	if err != nil {
		return zero, fkerr.ErrConnectionBroken
	}
	defer rows.Close()

	if !rows.Next() {
		return zero, fkerr.ErrNotFound
	}
	e, err := m.scanRow(rows)
	if err != nil {
		return zero, err
	}
	return e, nil
}

func (m *Mapper[E, K]) FindAll(ctx context.Context, order []Order, page Pagination) ([]E, error) {
	query := fmt.Sprintf("SELECT %s FROM %s%s%s", strings.Join(m.columns, ", "), m.table, orderClause(order), pageClause(page))
	return m.queryEntities(ctx, query)
}

func (m *Mapper[E, K]) QueryEntitiesByCondition(ctx context.Context, cond Condition, order []Order, page Pagination) ([]E, error) {
	where, args := Emit(cond)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s%s%s", strings.Join(m.columns, ", "), m.table, where, orderClause(order), pageClause(page))
	return m.queryEntities(ctx, query, args...)
}

func (m *Mapper[E, K]) queryEntities(ctx context.Context, query string, args ...any) ([]E, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fkerr.ErrConnectionBroken
	}
	defer rows.Close()

	var out []E
	for rows.Next() {
		e, err := m.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// QueryFieldsByCondition projects a subset of fields instead of the full
// entity, returning one map per row.
func (m *Mapper[E, K]) QueryFieldsByCondition(ctx context.Context, cond Condition, fields []string, order []Order, page Pagination) ([]map[string]any, error) {
	where, args := Emit(cond)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s%s%s", strings.Join(fields, ", "), m.table, where, orderClause(order), pageClause(page))

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fkerr.ErrConnectionBroken
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(fields))
		ptrs := make([]any, len(fields))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f] = vals[i]
		}
		out = append(out, row)
	}
	return out, nil
}

func (m *Mapper[E, K]) CountByCondition(ctx context.Context, cond Condition) (int64, error) {
	where, args := Emit(cond)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", m.table, where)
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fkerr.ErrConnectionBroken
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// Insert maps MySQL's duplicate-key error (1062 / ER_DUP_ENTRY) to
// fkerr.ErrDataAlreadyExist, per spec section 4.6 and the original source's
// FKUserMapper.cpp duplicate-key branch (SPEC_FULL.md section 4).
func (m *Mapper[E, K]) Insert(ctx context.Context, e E) (int64, error) {
	placeholders := strings.TrimRight(strings.Repeat("?, ", len(m.columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", m.table, strings.Join(m.columns, ", "), placeholders)

	res, err := m.db.ExecContext(ctx, query, m.values(e)...)
	if err != nil {
		if isDuplicateEntry(err) {
			return 0, fkerr.ErrDataAlreadyExist
		}
		return 0, fkerr.ErrConnectionBroken
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (m *Mapper[E, K]) DeleteByID(ctx context.Context, id K) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", m.table, m.pk)
	res, err := m.db.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fkerr.ErrConnectionBroken
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (m *Mapper[E, K]) DeleteByCondition(ctx context.Context, cond Condition) (int64, error) {
	where, args := Emit(cond)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", m.table, where)
	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fkerr.ErrConnectionBroken
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (m *Mapper[E, K]) UpdateFieldsByID(ctx context.Context, id K, sets ...SetClause) (int64, error) {
	return m.UpdateFieldsByCondition(ctx, Eq(m.pk, id), sets...)
}

// UpdateFieldsByCondition is the single-bind-pass path required by spec
// section 4.6: the SET clause's bindable values are appended to the shared
// writer first, then the condition tree's own Emit appends its parameters
// immediately after — one ordered args slice, one query, one bind call to
// the driver, with raw SET expressions contributing SQL text only.
func (m *Mapper[E, K]) UpdateFieldsByCondition(ctx context.Context, cond Condition, sets ...SetClause) (int64, error) {
	if len(sets) == 0 {
		return 0, errors.New("mapper: update requires at least one set clause")
	}

	w := &writer{}
	for i, s := range sets {
		if i > 0 {
			w.sql.WriteString(", ")
		}
		w.sql.WriteString(s.Column)
		w.sql.WriteString(" = ")
		if s.RawSQL != "" {
			w.sql.WriteString(s.RawSQL)
		} else {
			w.bind(s.Value)
		}
	}
	setSQL := w.sql.String()
	setArgs := w.args

	whereSQL, whereArgs := Emit(cond)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", m.table, setSQL, whereSQL)
	args := append(setArgs, whereArgs...)

	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fkerr.ErrConnectionBroken
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (m *Mapper[E, K]) TruncateTable(ctx context.Context, confirm bool) error {
	if !confirm {
		return errors.New("mapper: truncate requires explicit confirm=true")
	}
	_, err := m.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", m.table))
	return err
}

func (m *Mapper[E, K]) DropTable(ctx context.Context, confirm bool) error {
	if !confirm {
		return errors.New("mapper: drop requires explicit confirm=true")
	}
	_, err := m.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", m.table))
	return err
}

func (m *Mapper[E, K]) CreateTable(ctx context.Context, ddl string) error {
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

func orderClause(order []Order) string {
	if len(order) == 0 {
		return ""
	}
	terms := make([]string, len(order))
	for i, o := range order {
		terms[i] = o.clause()
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}

func pageClause(p Pagination) string {
	if p.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", p.Limit, p.Offset)
}

// isDuplicateEntry matches go-sql-driver/mysql's ER_DUP_ENTRY (1062).
func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
