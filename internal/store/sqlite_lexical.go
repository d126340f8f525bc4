package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO
)

// SQLiteLexicalIndex implements LexicalIndex using SQLite FTS5 with a
// three-column table (title, content, tags) and FTS5's native
// bm25(table, w_title, w_content, w_tags) column weighting, so the
// title/content/tags weights from LexicalConfig are applied by SQLite
// itself rather than re-implemented by hand.
type SQLiteLexicalIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    LexicalConfig
	closed    bool
	stopWords map[string]struct{}
}

var _ LexicalIndex = (*SQLiteLexicalIndex)(nil)

// validateLexicalIntegrity checks an on-disk FTS5 database for
// corruption before opening it, mirroring the teacher's
// validateSQLiteIntegrity pattern.
func validateLexicalIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='fts_memories'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_memories' missing")
	}

	return nil
}

// NewSQLiteLexicalIndex opens (or creates) a SQLite FTS5 lexical
// index. path == "" opens an in-memory database for tests.
func NewSQLiteLexicalIndex(path string, cfg LexicalConfig) (*SQLiteLexicalIndex, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create lexical index directory: %w", err)
		}

		if validErr := validateLexicalIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted", slog.String("path", path), slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("lexical_index_cleared", slog.String("path", path), slog.String("reason", "corruption detected, janitor will reindex"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open lexical index database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	idx := &SQLiteLexicalIndex{
		db:        db,
		path:      path,
		config:    cfg,
		stopWords: BuildStopWordMap(DefaultStopWords()),
	}

	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize lexical schema: %w", err)
	}

	return idx, nil
}

func (s *SQLiteLexicalIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

	CREATE VIRTUAL TABLE IF NOT EXISTS fts_memories USING fts5(
		memory_id UNINDEXED,
		title,
		content,
		tags,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS lexical_doc_ids (
		memory_id TEXT PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteLexicalIndex) tokenizeField(text string) string {
	tokens := TokenizeText(text)
	tokens = FilterStopWords(tokens, s.stopWords)
	return strings.Join(tokens, " ")
}

// Index adds or replaces documents. FTS5 virtual tables have no
// REPLACE support, so each row is deleted and re-inserted.
func (s *SQLiteLexicalIndex) Index(ctx context.Context, docs []*LexicalDocument) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_memories WHERE memory_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_memories(memory_id, title, content, tags) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insertStmt.Close()

	idStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO lexical_doc_ids(memory_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("prepare id tracking: %w", err)
	}
	defer idStmt.Close()

	for _, doc := range docs {
		title := s.tokenizeField(doc.Title)
		content := s.tokenizeField(doc.Content)
		tags := s.tokenizeField(strings.Join(doc.Tags, " "))

		if _, err := deleteStmt.ExecContext(ctx, doc.MemoryID); err != nil {
			return fmt.Errorf("delete existing document %s: %w", doc.MemoryID, err)
		}
		if _, err := insertStmt.ExecContext(ctx, doc.MemoryID, title, content, tags); err != nil {
			return fmt.Errorf("index document %s: %w", doc.MemoryID, err)
		}
		if _, err := idStmt.ExecContext(ctx, doc.MemoryID); err != nil {
			return fmt.Errorf("track document id %s: %w", doc.MemoryID, err)
		}
	}

	return tx.Commit()
}

// Search runs a column-weighted BM25 query and normalizes the scores
// into [0,1] by dividing by the top score in the result batch.
func (s *SQLiteLexicalIndex) Search(ctx context.Context, queryStr string, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*LexicalResult{}, nil
	}

	tokens := TokenizeText(queryStr)
	tokens = FilterStopWords(tokens, s.stopWords)
	if len(tokens) == 0 {
		return []*LexicalResult{}, nil
	}
	processedQuery := strings.Join(tokens, " ")

	// bm25()'s weight arguments map positionally to ALL declared
	// columns, including UNINDEXED ones — memory_id is column 0, so it
	// needs an explicit (unused) placeholder weight to keep
	// title/content/tags aligned with their actual columns.
	query := `
		SELECT memory_id, bm25(fts_memories, ?, ?, ?, ?) as score
		FROM fts_memories
		WHERE fts_memories MATCH ?
		ORDER BY score
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		0.0, s.config.TitleWeight, s.config.ContentWeight, s.config.TagsWeight,
		processedQuery, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalResult{}, nil
		}
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	var maxScore float64
	for rows.Next() {
		var memoryID string
		var score float64
		if err := rows.Scan(&memoryID, &score); err != nil {
			return nil, fmt.Errorf("scan lexical result: %w", err)
		}
		positive := -score
		if positive > maxScore {
			maxScore = positive
		}
		results = append(results, &LexicalResult{MemoryID: memoryID, Score: positive, MatchedTerms: tokens})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if maxScore > 0 {
		for _, r := range results {
			r.Score = r.Score / maxScore
		}
	}

	return results, nil
}

// Delete removes documents from the index.
func (s *SQLiteLexicalIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM fts_memories WHERE memory_id IN (%s)`, inClause), args...); err != nil {
		return fmt.Errorf("delete from fts index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM lexical_doc_ids WHERE memory_id IN (%s)`, inClause), args...); err != nil {
		return fmt.Errorf("delete from doc id tracking: %w", err)
	}

	return tx.Commit()
}

// AllIDs returns all indexed memory IDs, for janitor reconciliation.
func (s *SQLiteLexicalIndex) AllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT memory_id FROM lexical_doc_ids ORDER BY memory_id`)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns basic index statistics.
func (s *SQLiteLexicalIndex) Stats(ctx context.Context) (*LexicalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &LexicalStats{}, nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lexical_doc_ids`).Scan(&count); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	return &LexicalStats{DocumentCount: count}, nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteLexicalIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
