// Package sqlstore implements tablestore.Store on top of a SQL database.
// Postgres (via pgx) is the production backend; the same code runs on sqlite
// for local files and tests. Timestamps are stored as fixed-width RFC 3339
// text, matching the remote schema this store replaces, which also keeps
// less-than filters on expiry columns correct in both dialects.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite"

	"github.com/archeonlabs/cloudcore/internal/common"
	"github.com/archeonlabs/cloudcore/internal/dbx"
	"github.com/archeonlabs/cloudcore/internal/tablestore"
	"github.com/archeonlabs/cloudcore/internal/tablestore/sqlstore/migrations"
)

// TimeLayout is the fixed-width RFC 3339 layout used for timestamp columns.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db    dbx.DBTX
	sqlDB *sql.DB
}

// New wraps an existing database handle. Used by tests; production callers
// go through Open.
func New(db *sql.DB) *Store {
	return &Store{db: db, sqlDB: db}
}

// Open connects to the database, verifies connectivity with a short
// fibonacci-backoff retry, and applies the embedded migrations. driver is
// "pgx" or "sqlite".
func Open(ctx context.Context, driverName, dsn string) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	backoff := retry.WithMaxRetries(4, retry.NewFibonacci(200*time.Millisecond))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(db.PingContext(ctx))
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", common.ErrUnavailable)
	}

	if err := runMigrations(ctx, db, driverName); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return New(db), nil
}

func runMigrations(ctx context.Context, db *sql.DB, driverName string) error {
	goose.SetBaseFS(migrations.Migrations)

	dialect := "postgres"
	if driverName == "sqlite" {
		dialect = "sqlite3"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// InTx runs fn against a transaction-scoped view of the store, committing
// on success and rolling back on error. A store that is already
// transaction-scoped runs fn directly.
func (s *Store) InTx(ctx context.Context, fn func(tablestore.Store) error) error {
	if s.sqlDB == nil {
		return fn(s)
	}
	return dbx.WithTx(ctx, s.sqlDB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) Insert(ctx context.Context, collection string, row tablestore.Row) error {
	names, placeholders, args, err := insertParts(collection, row)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(collection), names, placeholders)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classify(err, true)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, row tablestore.Row, conflictKeys ...string) error {
	if len(conflictKeys) == 0 {
		return s.Insert(ctx, collection, row)
	}
	for _, k := range conflictKeys {
		if err := checkField(collection, k); err != nil {
			return err
		}
	}

	names, placeholders, args, err := insertParts(collection, row)
	if err != nil {
		return err
	}

	keySet := make(map[string]struct{}, len(conflictKeys))
	quotedKeys := make([]string, 0, len(conflictKeys))
	for _, k := range conflictKeys {
		keySet[k] = struct{}{}
		quotedKeys = append(quotedKeys, quoteIdent(k))
	}

	var updates []string
	for _, f := range sortedFields(row) {
		if _, isKey := keySet[f]; isKey {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", quoteIdent(f), quoteIdent(f)))
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
		quoteIdent(collection), names, placeholders,
		strings.Join(quotedKeys, ", "), strings.Join(updates, ", "))
	if len(updates) == 0 {
		query = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING`,
			quoteIdent(collection), names, placeholders, strings.Join(quotedKeys, ", "))
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classify(err, true)
	}
	return nil
}

func (s *Store) Select(ctx context.Context, collection string, f tablestore.Filter) ([]tablestore.Row, error) {
	if _, ok := schema[collection]; !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	where, args, err := whereClause(collection, f, 1)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT * FROM %s`, quoteIdent(collection))
	sb.WriteString(where)
	if f.OrderBy != "" {
		if err := checkField(collection, f.OrderBy); err != nil {
			return nil, err
		}
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, ` ORDER BY %s %s`, quoteIdent(f.OrderBy), dir)
	}
	if f.Limit > 0 {
		fmt.Fprintf(&sb, ` LIMIT %d`, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, classify(err, false)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, classify(err, false)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, collection string, f tablestore.Filter, patch tablestore.Row) error {
	if len(patch) == 0 {
		return nil
	}

	var sets []string
	var args []any
	n := 1
	for _, field := range sortedFields(patch) {
		if err := checkField(collection, field); err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(field), n))
		args = append(args, normalize(patch[field]))
		n++
	}

	where, whereArgs, err := whereClause(collection, f, n)
	if err != nil {
		return err
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf(`UPDATE %s SET %s%s`,
		quoteIdent(collection), strings.Join(sets, ", "), where)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classify(err, true)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection string, f tablestore.Filter) error {
	if _, ok := schema[collection]; !ok {
		return fmt.Errorf("unknown collection %q", collection)
	}

	where, args, err := whereClause(collection, f, 1)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s%s`, quoteIdent(collection), where)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classify(err, true)
	}
	return nil
}

// insertParts validates the row's fields and renders the column list,
// placeholder list, and argument slice in a deterministic order.
func insertParts(collection string, row tablestore.Row) (string, string, []any, error) {
	if _, ok := schema[collection]; !ok {
		return "", "", nil, fmt.Errorf("unknown collection %q", collection)
	}
	if len(row) == 0 {
		return "", "", nil, errors.New("empty row")
	}

	fields := sortedFields(row)
	names := make([]string, 0, len(fields))
	placeholders := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for i, f := range fields {
		if err := checkField(collection, f); err != nil {
			return "", "", nil, err
		}
		names = append(names, quoteIdent(f))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, normalize(row[f]))
	}
	return strings.Join(names, ", "), strings.Join(placeholders, ", "), args, nil
}

func whereClause(collection string, f tablestore.Filter, firstArg int) (string, []any, error) {
	if len(f.Conds) == 0 {
		return "", nil, nil
	}

	parts := make([]string, 0, len(f.Conds))
	args := make([]any, 0, len(f.Conds))
	n := firstArg
	for _, c := range f.Conds {
		if err := checkField(collection, c.Field); err != nil {
			return "", nil, err
		}
		var op string
		switch c.Op {
		case tablestore.OpEq:
			op = "="
		case tablestore.OpNeq:
			op = "<>"
		case tablestore.OpLt:
			op = "<"
		default:
			return "", nil, fmt.Errorf("unsupported operator %d", c.Op)
		}
		parts = append(parts, fmt.Sprintf("%s %s $%d", quoteIdent(c.Field), op, n))
		args = append(args, normalize(c.Value))
		n++
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func scanRows(rows *sql.Rows) ([]tablestore.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []tablestore.Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(tablestore.Row, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalize converts Go values to their stored representation. Times become
// fixed-width UTC text, booleans become integers so both dialects agree.
func normalize(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(TimeLayout)
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return v
	}
}

func sortedFields(row tablestore.Row) []string {
	fields := make([]string, 0, len(row))
	for f := range row {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func checkField(collection, field string) error {
	fields, ok := schema[collection]
	if !ok {
		return fmt.Errorf("unknown collection %q", collection)
	}
	if _, ok := fields[field]; !ok {
		return fmt.Errorf("unknown field %q in collection %q", field, collection)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// classify maps driver faults onto the shared taxonomy: connectivity
// problems report ErrUnavailable so callers can fall back to degraded
// behavior, everything else on a write is ErrPersistenceFailed.
func classify(err error, write bool) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	case write:
		return fmt.Errorf("%w: %v", common.ErrPersistenceFailed, err)
	default:
		return fmt.Errorf("select error: %w", err)
	}
}

var (
	_ tablestore.Store      = (*Store)(nil)
	_ tablestore.Transactor = (*Store)(nil)
)
