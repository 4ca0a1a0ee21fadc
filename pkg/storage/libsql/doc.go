// Package libsql provides a storage driver for libSQL, the SQLite fork behind
// Turso. It reuses the SQLite schema and dialect.
//
// go-libsql and mattn/go-sqlite3 both embed the sqlite3 C library and cannot
// be linked into one binary, so the driver only builds with -tags libsql.
package libsql
