package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported drivers.
type Dialect struct {
	Name   string
	Driver string
	schema []string
}

var (
	// Postgres uses lib/pq and a JSONB document column.
	Postgres = Dialect{
		Name:   "postgres",
		Driver: "postgres",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS leafy_rows (
				seq BIGSERIAL PRIMARY KEY,
				tbl TEXT NOT NULL,
				id TEXT NOT NULL,
				doc JSONB NOT NULL,
				UNIQUE (tbl, id)
			)`,
			`CREATE INDEX IF NOT EXISTS leafy_rows_tbl_idx ON leafy_rows (tbl, seq)`,
		},
	}
	// SQLite uses the pure-Go modernc driver.
	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS leafy_rows (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				tbl TEXT NOT NULL,
				id TEXT NOT NULL,
				doc TEXT NOT NULL,
				UNIQUE (tbl, id)
			)`,
			`CREATE INDEX IF NOT EXISTS leafy_rows_tbl_idx ON leafy_rows (tbl, seq)`,
		},
	}
)

// DialectFor returns the dialect for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported driver %q", driver)
	}
}

// Rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if d.Name != Postgres.Name {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
