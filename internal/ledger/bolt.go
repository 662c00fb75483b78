package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "github.com/boltdb/bolt"
)

var errReadOnly = errors.New("write in read-only transaction")

// Open returns the BoltDB ledger at path, or an in-memory ledger when path is empty
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return NewMemory(opts...), nil
	}
	return OpenBolt(path, opts...)
}

// OpenBolt opens (or creates) the BoltDB ledger file at path and ensures its buckets exist.
// The file lock is held until Close.
func OpenBolt(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger buckets: %w", err)
	}

	return newStore(&boltBackend{db: db}, opts...), nil
}

type boltBackend struct {
	db *bolt.DB
}

func (b *boltBackend) view(fn func(tx txn) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return fn(txn{kv: boltTx{tx: tx}})
	})
}

func (b *boltBackend) update(fn func(tx txn) error) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return fn(txn{kv: boltTx{tx: tx}})
	})
}

func (b *boltBackend) close() error {
	return b.db.Close()
}

type boltTx struct {
	tx *bolt.Tx
}

func (t boltTx) bucket(name string) (*bolt.Bucket, error) {
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("bucket %s missing", name)
	}
	return b, nil
}

// get copies the value; bolt memory is only valid for the life of the transaction
func (t boltTx) get(bucket, key string) ([]byte, error) {
	b, err := t.bucket(bucket)
	if err != nil {
		return nil, err
	}
	v := b.Get([]byte(key))
	if v == nil {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t boltTx) put(bucket, key string, value []byte) error {
	if !t.tx.Writable() {
		return errReadOnly
	}
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), value)
}

func (t boltTx) del(bucket, key string) error {
	if !t.tx.Writable() {
		return errReadOnly
	}
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Delete([]byte(key))
}

// forEach collects entries first so callbacks may write to the same bucket
func (t boltTx) forEach(bucket string, fn func(key string, value []byte) error) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	type entry struct {
		key   string
		value []byte
	}
	var entries []entry
	if err := b.ForEach(func(k, v []byte) error {
		cp := make([]byte, len(v))
		copy(cp, v)
		entries = append(entries, entry{key: string(k), value: cp})
		return nil
	}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}
