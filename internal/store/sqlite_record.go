package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	memerrors "github.com/NewTurn2017/oc-memory/internal/errors"
)

// SQLiteRecordStore is the primary, durable Record Store: a single
// SQLite database in WAL mode holding one row per Memory, with an
// optimistic-concurrency version column.
type SQLiteRecordStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ RecordStore = (*SQLiteRecordStore)(nil)

// NewSQLiteRecordStore opens (or creates) the record database. path ==
// "" opens an in-memory database for tests.
func NewSQLiteRecordStore(path string) (*SQLiteRecordStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create record store directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open record store database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteRecordStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate record store schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteRecordStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

	CREATE TABLE IF NOT EXISTS memories (
		id               TEXT PRIMARY KEY,
		title            TEXT NOT NULL,
		content          TEXT NOT NULL,
		tags             TEXT NOT NULL DEFAULT '',
		type             TEXT NOT NULL,
		priority         TEXT NOT NULL,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL,
		version          INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_memories_updated_at ON memories(updated_at);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put inserts or updates m. If expectedVersion is non-zero it must
// match the stored version, otherwise the write is rejected as a
// Conflict (ERR_202_STALE_WRITE). CreatedAt is preserved across
// updates; UpdatedAt and Version always advance.
func (s *SQLiteRecordStore) Put(ctx context.Context, m *Memory, expectedVersion int64) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, memerrors.InternalError("record store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, memerrors.Wrap(memerrors.ErrCodeInternal, err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingVersion int64
	var createdAt int64
	err = tx.QueryRowContext(ctx, `SELECT created_at, version FROM memories WHERE id = ?`, m.ID).
		Scan(&createdAt, &existingVersion)

	now := m.UpdatedAt
	out := m.Clone()

	switch {
	case err == sql.ErrNoRows:
		if expectedVersion != 0 {
			return nil, memerrors.Conflict(m.ID, fmt.Errorf("memory %s does not exist yet", m.ID))
		}
		out.Version = 1
		out.CreatedAt = m.CreatedAt
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memories (id, title, content, tags, type, priority, created_at, updated_at, last_accessed_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			out.ID, out.Title, out.Content, strings.Join(out.Tags, ","), string(out.Type), string(out.Priority),
			out.CreatedAt.UnixNano(), now.UnixNano(), out.LastAccessedAt.UnixNano(), out.Version,
		); err != nil {
			return nil, memerrors.Wrap(memerrors.ErrCodeInternal, err)
		}

	case err != nil:
		return nil, memerrors.Wrap(memerrors.ErrCodeInternal, err)

	default:
		if expectedVersion != 0 && expectedVersion != existingVersion {
			return nil, memerrors.Conflict(m.ID, fmt.Errorf("expected version %d, found %d", expectedVersion, existingVersion))
		}
		out.Version = existingVersion + 1
		out.CreatedAt = time.Unix(0, createdAt)
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET title=?, content=?, tags=?, type=?, priority=?, updated_at=?, last_accessed_at=?, version=?
			WHERE id=?`,
			out.Title, out.Content, strings.Join(out.Tags, ","), string(out.Type), string(out.Priority),
			now.UnixNano(), out.LastAccessedAt.UnixNano(), out.Version, out.ID,
		); err != nil {
			return nil, memerrors.Wrap(memerrors.ErrCodeInternal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, memerrors.Wrap(memerrors.ErrCodeInternal, err)
	}

	out.UpdatedAt = now
	return out, nil
}

// Get retrieves a Memory by id.
func (s *SQLiteRecordStore) Get(ctx context.Context, id string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, memerrors.InternalError("record store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, tags, type, priority, created_at, updated_at, last_accessed_at, version
		FROM memories WHERE id = ?`, id)

	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, memerrors.NotFound(id, nil)
	}
	if err != nil {
		return nil, memerrors.Wrap(memerrors.ErrCodeRecordCorrupt, err)
	}
	return m, nil
}

// Touch advances LastAccessedAt without bumping Version — hydrating a
// Memory via Get does not count as a content write.
func (s *SQLiteRecordStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return memerrors.InternalError("record store is closed", nil)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE memories SET last_accessed_at = ? WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return memerrors.Wrap(memerrors.ErrCodeInternal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return memerrors.Wrap(memerrors.ErrCodeInternal, err)
	}
	if n == 0 {
		return memerrors.NotFound(id, nil)
	}
	return nil
}

// Delete removes a Memory by id. Idempotent: deleting an absent id is
// not an error.
func (s *SQLiteRecordStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return memerrors.InternalError("record store is closed", nil)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return memerrors.Wrap(memerrors.ErrCodeInternal, err)
	}
	return nil
}

// Scan iterates all Memories in ascending id order, cursor-paginated.
func (s *SQLiteRecordStore) Scan(ctx context.Context, cursor Cursor, limit int) ([]*Memory, Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, "", memerrors.InternalError("record store is closed", nil)
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, tags, type, priority, created_at, updated_at, last_accessed_at, version
		FROM memories WHERE id > ? ORDER BY id LIMIT ?`, string(cursor), limit+1)
	if err != nil {
		return nil, "", memerrors.Wrap(memerrors.ErrCodeInternal, err)
	}
	defer rows.Close()

	var records []*Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, "", memerrors.Wrap(memerrors.ErrCodeRecordCorrupt, err)
		}
		records = append(records, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", memerrors.Wrap(memerrors.ErrCodeInternal, err)
	}

	var next Cursor
	if len(records) > limit {
		next = Cursor(records[limit-1].ID)
		records = records[:limit]
	}

	return records, next, nil
}

// Count returns the number of live records.
func (s *SQLiteRecordStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, memerrors.InternalError("record store is closed", nil)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, memerrors.Wrap(memerrors.ErrCodeInternal, err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteRecordStore) Close() error {
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row *sql.Row) (*Memory, error) {
	return scanMemoryRow(row)
}

func scanMemoryRows(rows *sql.Rows) (*Memory, error) {
	return scanMemoryRow(rows)
}

func scanMemoryRow(rs rowScanner) (*Memory, error) {
	var (
		m                                          Memory
		tagsCSV, typ, priority                     string
		createdAt, updatedAt, lastAccessedAt, vers int64
	)
	if err := rs.Scan(&m.ID, &m.Title, &m.Content, &tagsCSV, &typ, &priority,
		&createdAt, &updatedAt, &lastAccessedAt, &vers); err != nil {
		return nil, err
	}

	m.Type = MemoryType(typ)
	m.Priority = Priority(priority)
	m.CreatedAt = time.Unix(0, createdAt)
	m.UpdatedAt = time.Unix(0, updatedAt)
	m.LastAccessedAt = time.Unix(0, lastAccessedAt)
	m.Version = vers
	if tagsCSV != "" {
		m.Tags = strings.Split(tagsCSV, ",")
	}

	return &m, nil
}
