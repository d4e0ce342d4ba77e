//go:build !sqlite_pure

package persistence

import _ "github.com/mattn/go-sqlite3"

// sqlDriverName is the database/sql driver registered for production
// builds: cgo-backed mattn/go-sqlite3.
const sqlDriverName = "sqlite3"

// sqliteDSN appends the mattn-style connection parameters: WAL journal
// mode and enforced foreign keys.
func sqliteDSN(path string) string {
	return path + "?_journal_mode=WAL&_foreign_keys=on"
}
