package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	memerrors "github.com/NewTurn2017/oc-memory/internal/errors"
)

// BadgerRecordStore is the alternate ordered-KV Record Store backend,
// for deployments that want an embedded LSM store instead of SQLite —
// e.g. very high write throughput with relaxed durability needs.
type BadgerRecordStore struct {
	db       *badger.DB
	closedMu sync.RWMutex
	closed   bool
}

var _ RecordStore = (*BadgerRecordStore)(nil)

// BadgerRecordStoreOptions configures the backend.
type BadgerRecordStoreOptions struct {
	Dir         string
	InMemory    bool
	SyncWrites  bool
	Compression bool
}

// DefaultBadgerRecordStoreOptions returns sensible defaults.
func DefaultBadgerRecordStoreOptions(dir string) BadgerRecordStoreOptions {
	return BadgerRecordStoreOptions{
		Dir:         dir,
		SyncWrites:  false,
		Compression: true,
	}
}

const memoryKeyPrefix = "memory:"

// NewBadgerRecordStore opens (or creates) the badger database.
func NewBadgerRecordStore(opt BadgerRecordStoreOptions) (*BadgerRecordStore, error) {
	if !opt.InMemory && opt.Dir == "" {
		opt.Dir = filepath.Join(os.TempDir(), "oc-memory-kv")
	}

	opts := badger.DefaultOptions(opt.Dir)
	opts.SyncWrites = opt.SyncWrites
	opts.Logger = nil // badger's default logger writes to stderr, unsafe under stdio transport

	if opt.Compression && !opt.InMemory {
		opts.Compression = options.ZSTD
	}
	if opt.InMemory {
		opts.InMemory = true
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger record store: %w", err)
	}

	return &BadgerRecordStore{db: db}, nil
}

func memoryKey(id string) []byte {
	return []byte(memoryKeyPrefix + id)
}

// gobMemory mirrors Memory but with exported, gob-friendly field order;
// kept separate so changes to Memory's method set never affect the
// on-disk encoding.
type gobMemory struct {
	ID             string
	Title          string
	Content        string
	Tags           []string
	Type           string
	Priority       string
	CreatedAt      int64
	UpdatedAt      int64
	LastAccessedAt int64
	Version        int64
}

func toGob(m *Memory) gobMemory {
	return gobMemory{
		ID: m.ID, Title: m.Title, Content: m.Content, Tags: m.Tags,
		Type: string(m.Type), Priority: string(m.Priority),
		CreatedAt: m.CreatedAt.UnixNano(), UpdatedAt: m.UpdatedAt.UnixNano(),
		LastAccessedAt: m.LastAccessedAt.UnixNano(), Version: m.Version,
	}
}

func fromGob(g gobMemory) *Memory {
	return &Memory{
		ID: g.ID, Title: g.Title, Content: g.Content, Tags: g.Tags,
		Type: MemoryType(g.Type), Priority: Priority(g.Priority),
		CreatedAt: time.Unix(0, g.CreatedAt), UpdatedAt: time.Unix(0, g.UpdatedAt),
		LastAccessedAt: time.Unix(0, g.LastAccessedAt), Version: g.Version,
	}
}

func encodeMemory(m *Memory) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toGob(m)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMemory(data []byte) (*Memory, error) {
	var g gobMemory
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return nil, err
	}
	return fromGob(g), nil
}

// Put inserts or updates m inside a single badger transaction, so the
// version check and write are atomic.
func (s *BadgerRecordStore) Put(ctx context.Context, m *Memory, expectedVersion int64) (*Memory, error) {
	if s.isClosed() {
		return nil, memerrors.InternalError("record store is closed", nil)
	}

	out := m.Clone()

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(memoryKey(m.ID))
		switch {
		case err == badger.ErrKeyNotFound:
			if expectedVersion != 0 {
				return memerrors.Conflict(m.ID, fmt.Errorf("memory %s does not exist yet", m.ID))
			}
			out.Version = 1

		case err != nil:
			return memerrors.Wrap(memerrors.ErrCodeInternal, err)

		default:
			var existing *Memory
			if vErr := item.Value(func(val []byte) error {
				decoded, dErr := decodeMemory(val)
				if dErr != nil {
					return dErr
				}
				existing = decoded
				return nil
			}); vErr != nil {
				return memerrors.Wrap(memerrors.ErrCodeRecordCorrupt, vErr)
			}

			if expectedVersion != 0 && expectedVersion != existing.Version {
				return memerrors.Conflict(m.ID, fmt.Errorf("expected version %d, found %d", expectedVersion, existing.Version))
			}
			out.Version = existing.Version + 1
			out.CreatedAt = existing.CreatedAt
		}

		data, encErr := encodeMemory(out)
		if encErr != nil {
			return memerrors.Wrap(memerrors.ErrCodeInternal, encErr)
		}
		return txn.Set(memoryKey(m.ID), data)
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Get retrieves a Memory by id.
func (s *BadgerRecordStore) Get(ctx context.Context, id string) (*Memory, error) {
	if s.isClosed() {
		return nil, memerrors.InternalError("record store is closed", nil)
	}

	var m *Memory
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(memoryKey(id))
		if err == badger.ErrKeyNotFound {
			return memerrors.NotFound(id, nil)
		}
		if err != nil {
			return memerrors.Wrap(memerrors.ErrCodeInternal, err)
		}
		return item.Value(func(val []byte) error {
			decoded, dErr := decodeMemory(val)
			if dErr != nil {
				return memerrors.Wrap(memerrors.ErrCodeRecordCorrupt, dErr)
			}
			m = decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Touch advances LastAccessedAt in place without bumping Version.
func (s *BadgerRecordStore) Touch(ctx context.Context, id string, at time.Time) error {
	if s.isClosed() {
		return memerrors.InternalError("record store is closed", nil)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(memoryKey(id))
		if err == badger.ErrKeyNotFound {
			return memerrors.NotFound(id, nil)
		}
		if err != nil {
			return memerrors.Wrap(memerrors.ErrCodeInternal, err)
		}

		var m *Memory
		if vErr := item.Value(func(val []byte) error {
			decoded, dErr := decodeMemory(val)
			if dErr != nil {
				return dErr
			}
			m = decoded
			return nil
		}); vErr != nil {
			return memerrors.Wrap(memerrors.ErrCodeRecordCorrupt, vErr)
		}

		m.LastAccessedAt = at
		data, err := encodeMemory(m)
		if err != nil {
			return memerrors.Wrap(memerrors.ErrCodeInternal, err)
		}
		return txn.Set(memoryKey(id), data)
	})
}

// Delete removes a Memory by id. Idempotent.
func (s *BadgerRecordStore) Delete(ctx context.Context, id string) error {
	if s.isClosed() {
		return memerrors.InternalError("record store is closed", nil)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(memoryKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return memerrors.Wrap(memerrors.ErrCodeInternal, err)
	}
	return nil
}

// Scan iterates all Memories in ascending id order. Badger already
// orders keys lexically within the memory: prefix, so this is a plain
// prefix scan with a string cursor.
func (s *BadgerRecordStore) Scan(ctx context.Context, cursor Cursor, limit int) ([]*Memory, Cursor, error) {
	if s.isClosed() {
		return nil, "", memerrors.InternalError("record store is closed", nil)
	}
	if limit <= 0 {
		limit = 100
	}

	var records []*Memory
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(memoryKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		start := memoryKey(string(cursor) + "\x00")
		if cursor == "" {
			start = []byte(memoryKeyPrefix)
		}

		for it.Seek(start); it.ValidForPrefix([]byte(memoryKeyPrefix)) && len(records) < limit+1; it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				m, dErr := decodeMemory(val)
				if dErr != nil {
					return dErr
				}
				records = append(records, m)
				return nil
			})
			if err != nil {
				return memerrors.Wrap(memerrors.ErrCodeRecordCorrupt, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	var next Cursor
	if len(records) > limit {
		next = Cursor(records[limit-1].ID)
		records = records[:limit]
	}

	return records, next, nil
}

// Count returns the number of live records.
func (s *BadgerRecordStore) Count(ctx context.Context) (int, error) {
	if s.isClosed() {
		return 0, memerrors.InternalError("record store is closed", nil)
	}

	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(memoryKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(memoryKeyPrefix)); it.ValidForPrefix([]byte(memoryKeyPrefix)); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, memerrors.Wrap(memerrors.ErrCodeInternal, err)
	}
	return n, nil
}

func (s *BadgerRecordStore) isClosed() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	return s.closed
}

// Close releases the underlying badger database. Idempotent.
func (s *BadgerRecordStore) Close() error {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
