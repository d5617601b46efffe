package kv

import (
	"strings"
	"sync"

	"github.com/hashicorp/go-memdb"
)

// record is the row shape stored in the memdb "kv" table.
type record struct {
	Key   string
	Value []byte
}

type watcher struct {
	prefix string
	fn     func(key string)
}

var memSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"kv": {
			Name: "kv",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
			},
		},
	},
}

// Mem is a Store backed by go-memdb: indexed, in-process, and gone on
// restart. It is the reference daemon's "-store=memory" backend and the
// default backend used by the runner's unit tests.
type Mem struct {
	db *memdb.MemDB

	mu       sync.Mutex
	nextID   uint64
	watchers map[uint64]watcher
}

// NewMem constructs an empty in-memory store.
func NewMem() *Mem {
	db, err := memdb.NewMemDB(memSchema)
	if err != nil {
		// The schema above is static and valid; a failure here means a
		// programming error in this package, not a runtime condition.
		panic(err)
	}
	return &Mem{db: db, watchers: make(map[uint64]watcher)}
}

func (m *Mem) Read(key string) ([]byte, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First("kv", "id", key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	rec := raw.(*record)
	out := make([]byte, len(rec.Value))
	copy(out, rec.Value)
	return out, nil
}

func (m *Mem) Write(key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	txn := m.db.Txn(true)
	if err := txn.Insert("kv", &record{Key: key, Value: stored}); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()

	m.notify(key)
	return nil
}

func (m *Mem) Delete(key string) error {
	txn := m.db.Txn(true)
	_, err := txn.DeleteAll("kv", "id", key)
	if err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()

	m.notify(key)
	return nil
}

func (m *Mem) Exists(key string) bool {
	_, err := m.Read(key)
	return err == nil
}

func (m *Mem) Watch(prefix string, fn func(key string)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.watchers[id] = watcher{prefix: prefix, fn: fn}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
	}
}

func (m *Mem) notify(key string) {
	m.mu.Lock()
	watchers := make([]watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	for _, w := range watchers {
		if strings.HasPrefix(key, w.prefix) {
			w.fn(key)
		}
	}
}
