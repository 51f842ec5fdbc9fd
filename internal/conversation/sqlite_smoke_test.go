package conversation_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// The store depends on three driver features: WAL journaling, FTS5
// external-content tables kept in sync by triggers, and the trigram
// tokenizer. These smoke tests prove the pure-Go driver provides all of
// them.

func TestSQLiteDriverSupportsWAL(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "wal.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		t.Fatalf("failed to enable WAL mode: %v", err)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

func TestSQLiteDriverSupportsExternalContentFTS5(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "fts.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()

	setup := `
		CREATE TABLE turns (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL
		);
		CREATE VIRTUAL TABLE turns_fts USING fts5(content, content='turns', content_rowid='id');
		CREATE TRIGGER turn_ai AFTER INSERT ON turns BEGIN
			INSERT INTO turns_fts(rowid, content) VALUES (new.id, new.content);
		END;
		CREATE TRIGGER turn_ad AFTER DELETE ON turns BEGIN
			INSERT INTO turns_fts(turns_fts, rowid, content) VALUES ('delete', old.id, old.content);
		END;
	`
	if _, err := db.Exec(setup); err != nil {
		t.Fatalf("failed to create FTS5 schema: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO turns (content) VALUES (?)`, "please fix the login timeout"); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	count := func() int {
		var n int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM turns_fts WHERE turns_fts MATCH ?`, `"timeout"`,
		).Scan(&n)
		if err != nil {
			t.Fatalf("FTS5 match failed: %v", err)
		}
		return n
	}

	if got := count(); got != 1 {
		t.Fatalf("match count after insert = %d, want 1", got)
	}

	// The delete trigger must drop the index entry with the row.
	if _, err := db.Exec(`DELETE FROM turns`); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if got := count(); got != 0 {
		t.Fatalf("match count after delete = %d, want 0", got)
	}
}

func TestSQLiteDriverSupportsTrigramTokenizer(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "trigram.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE VIRTUAL TABLE notes USING fts5(body, tokenize='trigram')`); err != nil {
		t.Fatalf("failed to create trigram table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO notes (body) VALUES (?)`, "さっきのデータベース移行が失敗しました"); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	// Substring match inside unsegmented Japanese text, which the default
	// unicode61 tokenizer cannot do.
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM notes WHERE notes MATCH ?`, `"データベース"`).Scan(&n); err != nil {
		t.Fatalf("trigram match failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("match count = %d, want 1", n)
	}
}
