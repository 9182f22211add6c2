package sqlstore

import (
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/matheusmosca/cafe-checkout/storage/postgres"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// Dialect captures what differs between the SQL engines the store runs on.
type Dialect struct {
	Name string
	// DriverName is the database/sql driver registered for the dialect.
	DriverName string
	Schema     string

	numbered   bool
	lockSuffix string
	timeArg    func(time.Time) any
	fkError    func(error) bool
}

// Postgres locks ingredient rows with FOR UPDATE and binds $n parameters.
var Postgres = Dialect{
	Name:       "postgres",
	DriverName: "postgres",
	Schema:     postgres.Schema,
	numbered:   true,
	lockSuffix: " FOR UPDATE",
	timeArg:    func(t time.Time) any { return t.UTC() },
	fkError: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23503"
	},
}

// SQLite relies on a single writer connection for isolation. Quantities are
// stored as decimal text and times as unix nanoseconds.
var SQLite = Dialect{
	Name:       "sqlite",
	DriverName: "sqlite",
	Schema:     sqliteSchema,
	timeArg:    func(t time.Time) any { return t.UnixNano() },
	fkError: func(err error) bool {
		var sqliteErr *sqlite.Error
		if !errors.As(err, &sqliteErr) {
			return false
		}
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "FOREIGN KEY"))
	},
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case Postgres.Name:
		return Postgres, nil
	case SQLite.Name:
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unknown sql dialect %q", name)
	}
}

// rebind rewrites ? placeholders as $1, $2, ... for numbered dialects.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// timestamp scans either a native time or unix nanoseconds.
type timestamp struct {
	t *time.Time
}

func (ts timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts.t = time.Time{}
	case time.Time:
		*ts.t = v
	case int64:
		*ts.t = time.Unix(0, v).UTC()
	case []byte:
		return ts.parse(string(v))
	case string:
		return ts.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
	return nil
}

func (ts timestamp) parse(s string) error {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*ts.t = time.Unix(0, n).UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("cannot parse timestamp %q: %w", s, err)
	}
	*ts.t = t
	return nil
}

var _ driver.Valuer = nullString("")

// nullString writes an empty string as NULL.
type nullString string

func (s nullString) Value() (driver.Value, error) {
	if s == "" {
		return nil, nil
	}
	return string(s), nil
}
