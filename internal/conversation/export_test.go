package conversation

import "database/sql"

// DB exposes the internal *sql.DB for test helpers in conversation_test.
// This file only compiles during `go test`.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}
