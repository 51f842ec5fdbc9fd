package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Store ───────────────────────────────────────────────────────────────────

// SQLiteStore implements Store on SQLite with an FTS5 index over turn
// content. One row per conversation, one row per turn; turn order is rowid
// order.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	hooks  storeHooks
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type sqlRowScanner struct {
	rows *sql.Rows
}

func (r sqlRowScanner) Next() bool             { return r.rows.Next() }
func (r sqlRowScanner) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRowScanner) Err() error             { return r.rows.Err() }
func (r sqlRowScanner) Close() error           { return r.rows.Close() }

// storeHooks are seams for fault-injection tests. Every statement the store
// issues goes through one of them.
type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	query   func(ctx context.Context, db queryer, query string, args ...any) (rowScanner, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func defaultStoreHooks() storeHooks {
	return storeHooks{
		exec: func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
			return db.ExecContext(ctx, query, args...)
		},
		query: func(ctx context.Context, db queryer, query string, args ...any) (rowScanner, error) {
			rows, err := db.QueryContext(ctx, query, args...)
			if err != nil {
				return nil, err
			}
			return sqlRowScanner{rows: rows}, nil
		},
		beginTx: func(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
		commit: func(tx *sql.Tx) error {
			return tx.Commit()
		},
	}
}

func (s *SQLiteStore) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *SQLiteStore) queryHook(ctx context.Context, db queryer, query string, args ...any) (rowScanner, error) {
	if s.hooks.query != nil {
		return s.hooks.query(ctx, db, query, args...)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRowScanner{rows: rows}, nil
}

func (s *SQLiteStore) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *SQLiteStore) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// NewSQLiteStore opens (or creates) the conversation database under dataDir,
// enables WAL mode, and runs migrations.
func NewSQLiteStore(dataDir string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("conversation: create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "aimai.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("conversation: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("conversation: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger, hooks: defaultStoreHooks()}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("conversation: migration: %w", err)
	}
	logger.Debug("conversation store ready", zap.String("db", dbPath))

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                  TEXT PRIMARY KEY,
			state               TEXT    NOT NULL DEFAULT 'awaiting_input',
			clarification_round INTEGER NOT NULL DEFAULT 0,
			last_ambiguity      TEXT,
			topic_hints         TEXT    NOT NULL DEFAULT '[]',
			recent_templates    TEXT    NOT NULL DEFAULT '[]',
			clarifications      INTEGER NOT NULL DEFAULT 0,
			active              INTEGER NOT NULL DEFAULT 0,
			created_at          TEXT    NOT NULL,
			updated_at          TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			timestamp       TEXT NOT NULL,
			assessment      TEXT,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_conv_active  ON conversations(active);
		CREATE INDEX IF NOT EXISTS idx_conv_updated ON conversations(updated_at DESC);

		CREATE VIRTUAL TABLE IF NOT EXISTS turns_fts USING fts5(
			content,
			content='turns',
			content_rowid='id',
			tokenize='trigram'
		);
	`
	if _, err := s.execHook(ctx, s.db, schema); err != nil {
		return err
	}

	// FTS triggers (idempotent). Turns are immutable once appended, so there
	// is no update trigger.
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='turn_fts_insert'",
	).Scan(&name)

	if err == sql.ErrNoRows {
		triggers := `
			CREATE TRIGGER turn_fts_insert AFTER INSERT ON turns BEGIN
				INSERT INTO turns_fts(rowid, content)
				VALUES (new.id, new.content);
			END;

			CREATE TRIGGER turn_fts_delete AFTER DELETE ON turns BEGIN
				INSERT INTO turns_fts(turns_fts, rowid, content)
				VALUES ('delete', old.id, old.content);
			END;
		`
		if _, err := s.execHook(ctx, s.db, triggers); err != nil {
			return err
		}
		s.logger.Debug("conversation schema migrated")
	} else if err != nil {
		return err
	}

	return nil
}

// ─── Conversations ───────────────────────────────────────────────────────────

// Create inserts a fresh conversation and makes it the active one. The
// previous active conversation is superseded in the same transaction.
func (s *SQLiteStore) Create(ctx context.Context, id string) (Conversation, error) {
	c := NewConversation(id)

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.execHook(ctx, tx, `UPDATE conversations SET active = 0 WHERE active = 1`); err != nil {
		return Conversation{}, fmt.Errorf("superseding active conversation: %w", err)
	}
	if _, err := s.execHook(ctx, tx,
		`INSERT INTO conversations (id, state, active, created_at, updated_at)
		 VALUES (?, ?, 1, ?, ?)`,
		c.ID, string(c.Metadata.State), c.Metadata.CreatedAt, c.Metadata.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return Conversation{}, fmt.Errorf("conversation %q already exists", c.ID)
		}
		return Conversation{}, fmt.Errorf("creating conversation %q: %w", c.ID, err)
	}
	if err := s.commitHook(tx); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: commit: %w", err)
	}

	return c, nil
}

// Load reads one conversation with its full turn history, oldest turn first.
func (s *SQLiteStore) Load(ctx context.Context, id string) (Conversation, error) {
	c := Conversation{ID: id}
	var state, lastAmbiguity, hints, templates string
	err := s.db.QueryRowContext(ctx,
		`SELECT state, clarification_round, ifnull(last_ambiguity, ''), topic_hints,
		        recent_templates, clarifications, created_at, updated_at
		 FROM conversations WHERE id = ?`, id,
	).Scan(
		&state, &c.Metadata.ClarificationRound, &lastAmbiguity, &hints,
		&templates, &c.Metadata.Clarifications, &c.Metadata.CreatedAt, &c.Metadata.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Conversation{}, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("loading conversation %q: %w", id, err)
	}
	c.Metadata.State = State(state)
	c.Metadata.LastAmbiguity = Category(lastAmbiguity)
	if c.Metadata.TopicHints, err = decodeStrings(hints); err != nil {
		return Conversation{}, fmt.Errorf("decoding topic hints for %q: %v: %w", id, err, ErrCorrupt)
	}
	if c.Metadata.RecentTemplates, err = decodeStrings(templates); err != nil {
		return Conversation{}, fmt.Errorf("decoding recent templates for %q: %v: %w", id, err, ErrCorrupt)
	}

	rows, err := s.queryHook(ctx, s.db,
		`SELECT role, content, timestamp, assessment
		 FROM turns WHERE conversation_id = ? ORDER BY id ASC`, id,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("loading turns for %q: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var t Turn
		var role string
		var assessment sql.NullString
		if err := rows.Scan(&role, &t.Content, &t.Timestamp, &assessment); err != nil {
			return Conversation{}, fmt.Errorf("scanning turn for %q: %w", id, err)
		}
		t.Role = Role(role)
		if assessment.Valid {
			var a Assessment
			if err := json.Unmarshal([]byte(assessment.String), &a); err != nil {
				return Conversation{}, fmt.Errorf("decoding assessment for %q: %v: %w", id, err, ErrCorrupt)
			}
			t.Assessment = &a
		}
		c.Turns = append(c.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return Conversation{}, fmt.Errorf("loading turns for %q: %w", id, err)
	}

	return c, nil
}

// Append writes a turn and the updated session metadata in one transaction,
// so a concurrent reader sees the turn fully or not at all.
func (s *SQLiteStore) Append(ctx context.Context, id string, turn Turn, meta Metadata) (Conversation, error) {
	meta.UpdatedAt = Now()

	assessment, err := encodeAssessment(turn.Assessment)
	if err != nil {
		return Conversation{}, fmt.Errorf("encoding assessment: %w", err)
	}
	hints, err := encodeStrings(meta.TopicHints)
	if err != nil {
		return Conversation{}, fmt.Errorf("encoding topic hints: %w", err)
	}
	templates, err := encodeStrings(meta.RecentTemplates)
	if err != nil {
		return Conversation{}, fmt.Errorf("encoding recent templates: %w", err)
	}

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return Conversation{}, fmt.Errorf("append turn: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := s.execHook(ctx, tx,
		`UPDATE conversations
		 SET state = ?,
		     clarification_round = ?,
		     last_ambiguity = ?,
		     topic_hints = ?,
		     recent_templates = ?,
		     clarifications = ?,
		     updated_at = ?
		 WHERE id = ?`,
		string(meta.State), meta.ClarificationRound,
		nullableString(string(meta.LastAmbiguity)),
		hints, templates, meta.Clarifications, meta.UpdatedAt, id,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("updating conversation %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Conversation{}, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}

	if _, err := s.execHook(ctx, tx,
		`INSERT INTO turns (conversation_id, role, content, timestamp, assessment)
		 VALUES (?, ?, ?, ?, ?)`,
		id, string(turn.Role), turn.Content, turn.Timestamp, assessment,
	); err != nil {
		return Conversation{}, fmt.Errorf("appending turn to %q: %w", id, err)
	}

	if err := s.commitHook(tx); err != nil {
		return Conversation{}, fmt.Errorf("append turn: commit: %w", err)
	}

	return s.Load(ctx, id)
}

// Reset supersedes the active conversation with a fresh one. Superseded
// records stay in the database.
func (s *SQLiteStore) Reset(ctx context.Context) (Conversation, error) {
	return s.Create(ctx, "")
}

// Current returns the active conversation, creating one on first use.
func (s *SQLiteStore) Current(ctx context.Context) (Conversation, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE active = 1 LIMIT 1`,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return s.Create(ctx, "")
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("resolving active conversation: %w", err)
	}
	return s.Load(ctx, id)
}

// List returns conversation summaries with turn counts, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.queryHook(ctx, s.db, `
		SELECT c.id, c.active, c.state, c.clarifications, c.created_at, c.updated_at,
		       COUNT(t.id) AS turn_count
		FROM conversations c
		LEFT JOIN turns t ON t.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.updated_at DESC, c.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Summary
	for rows.Next() {
		var sum Summary
		var active int
		var state string
		if err := rows.Scan(&sum.ID, &active, &state, &sum.Clarifications, &sum.CreatedAt, &sum.UpdatedAt, &sum.TurnCount); err != nil {
			return nil, fmt.Errorf("scanning conversation summary: %w", err)
		}
		sum.Active = active != 0
		sum.State = State(state)
		result = append(result, sum)
	}
	return result, rows.Err()
}

// ─── Search (FTS5) ───────────────────────────────────────────────────────────

// Search performs full-text search over turn content, best matches first.
// The index uses the trigram tokenizer so substring queries match inside
// unsegmented Japanese text; queries shorter than three characters find
// nothing.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.queryHook(ctx, s.db, `
		SELECT t.conversation_id, t.role, t.content, t.timestamp, t.assessment
		FROM turns_fts fts
		JOIN turns t ON t.id = fts.rowid
		WHERE turns_fts MATCH ?
		ORDER BY fts.rank
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Match
	for rows.Next() {
		var m Match
		var role string
		var assessment sql.NullString
		if err := rows.Scan(&m.ConversationID, &role, &m.Turn.Content, &m.Turn.Timestamp, &assessment); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		m.Turn.Role = Role(role)
		if assessment.Valid {
			var a Assessment
			if err := json.Unmarshal([]byte(assessment.String), &a); err == nil {
				m.Turn.Assessment = &a
			}
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func encodeAssessment(a *Assessment) (*string, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeStrings(data string) ([]string, error) {
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// sanitizeFTS wraps each word in quotes for safe FTS5 queries.
// "fix auth bug" → `"fix" "auth" "bug"`
func sanitizeFTS(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		w = strings.Trim(w, `"`)
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " ")
}

// isUniqueViolation checks if an error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
