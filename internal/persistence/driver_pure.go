//go:build sqlite_pure

package persistence

import _ "modernc.org/sqlite"

// sqlDriverName is the database/sql driver registered under the
// sqlite_pure build tag: the pure-Go modernc.org/sqlite, used for test
// environments without a cgo toolchain.
const sqlDriverName = "sqlite"

// sqliteDSN appends the modernc-style pragma parameters: WAL journal
// mode and enforced foreign keys.
func sqliteDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}
