package kv

import (
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("taskrunner-kv")

// Bolt is a Store backed by a single go.etcd.io/bbolt bucket, durable
// across process restarts. It is the reference daemon's default backend.
type Bolt struct {
	db *bolt.DB

	mu       sync.Mutex
	nextID   uint64
	watchers map[uint64]watcher
}

// OpenBolt opens (creating if necessary) a bbolt database at path and
// ensures the reserved bucket exists.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db, watchers: make(map[uint64]watcher)}, nil
}

// Close releases the underlying bbolt file handle.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) Read(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bolt) Write(key string, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
	if err != nil {
		return err
	}
	b.notify(key)
	return nil
}

func (b *Bolt) Delete(key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
	if err != nil {
		return err
	}
	b.notify(key)
	return nil
}

func (b *Bolt) Exists(key string) bool {
	_, err := b.Read(key)
	return err == nil
}

func (b *Bolt) Watch(prefix string, fn func(key string)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.watchers[id] = watcher{prefix: prefix, fn: fn}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.watchers, id)
	}
}

func (b *Bolt) notify(key string) {
	b.mu.Lock()
	watchers := make([]watcher, 0, len(b.watchers))
	for _, w := range b.watchers {
		watchers = append(watchers, w)
	}
	b.mu.Unlock()

	for _, w := range watchers {
		if strings.HasPrefix(key, w.prefix) {
			w.fn(key)
		}
	}
}
