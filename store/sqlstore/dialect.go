package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the SQL differences between the supported databases.
// Queries are written once with '?' placeholders and rebound per dialect.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// ParseDialect maps a driver name onto a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite3", "sqlite", "":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string { return string(d) }

// rebind rewrites '?' placeholders to $1..$n for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdate is the row-lock suffix. SQLite write transactions already hold
// the database write lock (BEGIN IMMEDIATE), so it needs none.
func (d Dialect) forUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// lockTimeoutStmt bounds row-lock waits inside one transaction.
// SQLite bounds them with _busy_timeout in the DSN instead.
func (d Dialect) lockTimeoutStmt(timeout time.Duration) string {
	if d != Postgres || timeout <= 0 {
		return ""
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())
}

// limitOffset renders pagination. Limit 0 means no limit.
func (d Dialect) limitOffset(limit, offset int) (string, []any) {
	var (
		clause string
		args   []any
	)
	if limit > 0 {
		clause += " LIMIT ?"
		args = append(args, limit)
	} else if offset > 0 && d == SQLite {
		clause += " LIMIT -1"
	}
	if offset > 0 {
		clause += " OFFSET ?"
		args = append(args, offset)
	}
	return clause, args
}

// sqliteParams are appended to every SQLite DSN.
const sqliteParams = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

// dsn completes a user-supplied DSN with the dialect's required options.
func (d Dialect) dsn(raw string) string {
	if d != SQLite {
		return raw
	}
	if raw == "" {
		raw = ":memory:"
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + sqliteParams
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
