package database

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
)

// Dialect captures the SQL differences between the supported backends.
type Dialect struct {
	// Name is the configuration name of the backend.
	Name string
	// DriverName is the database/sql driver registered for the backend.
	DriverName string
	// Greatest is the scalar function returning the larger of its arguments.
	Greatest string

	goose         goose.Dialect
	migrationsDir string
	numbered      bool
	unixMicros    bool
}

// Postgres uses the pgx stdlib driver and native TIMESTAMPTZ columns.
var Postgres = Dialect{
	Name:          "postgres",
	DriverName:    "pgx",
	Greatest:      "GREATEST",
	goose:         goose.DialectPostgres,
	migrationsDir: "migrations/postgres",
	numbered:      true,
}

// SQLite uses the pure Go modernc driver and stores timestamps as unix microseconds.
var SQLite = Dialect{
	Name:          "sqlite",
	DriverName:    "sqlite",
	Greatest:      "MAX",
	goose:         goose.DialectSQLite3,
	migrationsDir: "migrations/sqlite",
	unixMicros:    true,
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case Postgres.Name:
		return Postgres, nil
	case SQLite.Name:
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
}

// Rebind rewrites ? placeholders into the dialect's positional form.
func (d Dialect) Rebind(query string) string {
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

// Time converts t into the value stored for the dialect.
func (d Dialect) Time(t time.Time) driver.Value {
	t = t.UTC().Truncate(time.Microsecond)
	if d.unixMicros {
		return t.UnixMicro()
	}
	return t
}

// NullTime converts an optional time for storage.
func (d Dialect) NullTime(t *time.Time) driver.Value {
	if t == nil {
		return nil
	}
	return d.Time(*t)
}

// timeScanner reads a timestamp written by either dialect.
type timeScanner struct {
	dst **time.Time
}

// Scan implements sql.Scanner.
func (s timeScanner) Scan(src any) error {
	var t time.Time
	switch v := src.(type) {
	case nil:
		*s.dst = nil
		return nil
	case time.Time:
		t = v
	case int64:
		t = time.UnixMicro(v)
	case []byte:
		return s.Scan(string(v))
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", v, err)
		}
		t = parsed
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}

	t = t.UTC()
	*s.dst = &t
	return nil
}

// requiredTime adapts timeScanner for NOT NULL columns.
type requiredTime struct {
	dst *time.Time
}

// Scan implements sql.Scanner.
func (s requiredTime) Scan(src any) error {
	var p *time.Time
	if err := (timeScanner{dst: &p}).Scan(src); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("unexpected NULL timestamp")
	}
	*s.dst = *p
	return nil
}
