package ledger

import (
	"fmt"
	"sort"
	"sync"
)

// NewMemory returns a Store kept in process memory. Used by tests and when no ledger
// path is configured; state is lost on restart.
func NewMemory(opts ...Option) *Store {
	m := &memoryBackend{data: make(map[string]map[string][]byte, len(buckets))}
	for _, b := range buckets {
		m.data[b] = make(map[string][]byte)
	}
	return newStore(m, opts...)
}

type memoryBackend struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func (m *memoryBackend) view(fn func(tx txn) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(txn{kv: &memoryTx{base: m.data}})
}

// update stages writes and applies them only when fn succeeds
func (m *memoryBackend) update(fn func(tx txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{base: m.data, writable: true, staged: make(map[string]map[string][]byte)}
	if err := fn(txn{kv: tx}); err != nil {
		return err
	}
	for bucket, entries := range tx.staged {
		for key, value := range entries {
			if value == nil {
				delete(m.data[bucket], key)
				continue
			}
			m.data[bucket][key] = value
		}
	}
	return nil
}

func (m *memoryBackend) close() error { return nil }

type memoryTx struct {
	base     map[string]map[string][]byte
	writable bool
	// staged holds pending writes; a nil value is a pending delete
	staged map[string]map[string][]byte
}

func (t *memoryTx) get(bucket, key string) ([]byte, error) {
	if entries, ok := t.staged[bucket]; ok {
		if v, ok := entries[key]; ok {
			return v, nil
		}
	}
	entries, ok := t.base[bucket]
	if !ok {
		return nil, fmt.Errorf("bucket %s missing", bucket)
	}
	return entries[key], nil
}

func (t *memoryTx) stage(bucket, key string, value []byte) error {
	if !t.writable {
		return errReadOnly
	}
	if t.staged[bucket] == nil {
		t.staged[bucket] = make(map[string][]byte)
	}
	t.staged[bucket][key] = value
	return nil
}

func (t *memoryTx) put(bucket, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	return t.stage(bucket, key, cp)
}

func (t *memoryTx) del(bucket, key string) error {
	return t.stage(bucket, key, nil)
}

// forEach visits keys in byte order, matching bolt cursor order
func (t *memoryTx) forEach(bucket string, fn func(key string, value []byte) error) error {
	if _, ok := t.base[bucket]; !ok {
		return fmt.Errorf("bucket %s missing", bucket)
	}
	keys := make(map[string]struct{}, len(t.base[bucket]))
	for k := range t.base[bucket] {
		keys[k] = struct{}{}
	}
	for k := range t.staged[bucket] {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		v, err := t.get(bucket, k)
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}
