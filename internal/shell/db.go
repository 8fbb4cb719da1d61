package shell

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
	dialectClickHouse
)

func (d dialect) String() string {
	switch d {
	case dialectPostgres:
		return "postgres"
	case dialectClickHouse:
		return "clickhouse"
	default:
		return "sqlite"
	}
}

// DB is a database opened for inspection from the shell.
type DB struct {
	db      *sql.DB
	dialect dialect
}

type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// OpenDB accepts the same DSN shapes as the history sinks:
// postgres://, postgresql://, clickhouse://, sqlite:// or a plain path.
func OpenDB(ctx context.Context, dsn string) (*DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}
	lower := strings.ToLower(dsn)
	var (
		driver string
		d      dialect
	)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		driver, d = "pgx", dialectPostgres
	case strings.HasPrefix(lower, "clickhouse://"):
		driver, d = "clickhouse", dialectClickHouse
	case strings.HasPrefix(lower, "sqlite://"):
		driver, d = "sqlite", dialectSQLite
		dsn = dsn[len("sqlite://"):]
	case !strings.Contains(dsn, "://"):
		driver, d = "sqlite", dialectSQLite
	default:
		return nil, fmt.Errorf("unsupported DSN format: %s", dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if d == dialectSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", d, err)
	}
	return &DB{db: db, dialect: d}, nil
}

// Wrap uses an already opened SQLite database.
func Wrap(db *sql.DB) *DB { return &DB{db: db, dialect: dialectSQLite} }

func (d *DB) Close() error { return d.db.Close() }

// Tables lists the user tables, sorted by name.
func (d *DB) Tables(ctx context.Context) ([]string, error) {
	var q string
	switch d.dialect {
	case dialectPostgres:
		q = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
			ORDER BY table_name`
	case dialectClickHouse:
		q = `SELECT name FROM system.tables WHERE database = currentDatabase() ORDER BY name`
	default:
		q = `SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	}
	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Describe lists the columns of table in declaration order.
func (d *DB) Describe(ctx context.Context, table string) ([]Column, error) {
	switch d.dialect {
	case dialectPostgres:
		return d.describePostgres(ctx, table)
	case dialectClickHouse:
		_, rows, err := d.Query(ctx, "DESCRIBE TABLE "+quoteIdent(table, '`'))
		if err != nil {
			return nil, err
		}
		cols := make([]Column, 0, len(rows))
		for _, r := range rows {
			if len(r) < 2 {
				continue
			}
			cols = append(cols, Column{Name: r[0], Type: r[1], Nullable: strings.HasPrefix(r[1], "Nullable(")})
		}
		return cols, nil
	default:
		return d.describeSQLite(ctx, table)
	}
}

func (d *DB) describeSQLite(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table, '"')+")")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var cols []Column
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, Column{Name: name, Type: typ, Nullable: notNull == 0 && pk == 0})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no such table: %s", table)
	}
	return cols, nil
}

func (d *DB) describePostgres(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no such table: %s", table)
	}
	return cols, nil
}

// Query runs q and renders every value as text. Statements that return no
// rows yield no columns.
func (d *DB) Query(ctx context.Context, q string) ([]string, [][]string, error) {
	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = formatValue(v)
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func quoteIdent(name string, q byte) string {
	s := string(q)
	return s + strings.ReplaceAll(name, s, s+s) + s
}
