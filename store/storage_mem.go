package store

import (
	"bytes"
	"iter"
	"maps"
	"slices"
	"sync"
)

// memStorage keeps everything in memory. Published bucket contents are never
// modified, so a read transaction just holds on to the state it started with.
// A writable transaction copies each bucket the first time it changes it and
// publishes the result on commit. Writers are serialized; readers never block.
type memStorage struct {
	writer sync.Mutex // held by the open writable transaction

	mu     sync.Mutex
	state  map[string][]memKV
	closed bool
}

type memKV struct {
	key, value []byte
}

func newMemStorage() *memStorage {
	return &memStorage{state: make(map[string][]memKV)}
}

func (s *memStorage) snapshot() (map[string][]memKV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	return s.state, nil
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	if !writable {
		state, err := s.snapshot()
		if err != nil {
			return nil, err
		}
		return &memTx{s: s, state: state}, nil
	}

	s.writer.Lock()
	state, err := s.snapshot()
	if err != nil {
		s.writer.Unlock()
		return nil, err
	}
	return &memTx{
		s:        s,
		writable: true,
		state:    maps.Clone(state),
		owned:    make(map[string]bool),
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.state = nil
	return nil
}

type memTx struct {
	s        *memStorage
	writable bool
	done     bool
	state    map[string][]memKV

	// owned lists the buckets already copied by this transaction.
	owned map[string]bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) Bucket(name string) storageBucket {
	if _, ok := tx.state[name]; !ok {
		return nil
	}
	return memBucket{tx, name}
}

func (tx *memTx) CreateBucket(name string) (storageBucket, error) {
	if !tx.writable {
		return nil, errTxNotWritable
	}
	if _, ok := tx.state[name]; !ok {
		tx.state[name] = nil
		tx.owned[name] = true
	}
	return memBucket{tx, name}, nil
}

func (tx *memTx) Commit() error {
	if !tx.writable {
		return errTxNotWritable
	}
	if tx.done {
		return nil
	}
	defer tx.finish()

	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.s.closed {
		return errClosed
	}
	tx.s.state = tx.state
	return nil
}

func (tx *memTx) Rollback() error {
	if !tx.done {
		tx.finish()
	}
	return nil
}

func (tx *memTx) finish() {
	tx.done = true
	tx.state = nil
	if tx.writable {
		tx.s.writer.Unlock()
	}
}

// items returns the bucket for modification, copying it on first use.
func (tx *memTx) items(name string) []memKV {
	items := tx.state[name]
	if !tx.owned[name] {
		items = slices.Clone(items)
		tx.state[name] = items
		tx.owned[name] = true
	}
	return items
}

type memBucket struct {
	tx   *memTx
	name string
}

func (b memBucket) Get(key []byte) []byte {
	items := b.tx.state[b.name]
	if i, ok := search(items, key); ok {
		return items[i].value
	}
	return nil
}

func (b memBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return errTxNotWritable
	}
	items := b.tx.items(b.name)
	kv := memKV{bytes.Clone(key), bytes.Clone(value)}
	if i, ok := search(items, key); ok {
		items[i] = kv
	} else {
		b.tx.state[b.name] = slices.Insert(items, i, kv)
	}
	return nil
}

func (b memBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return errTxNotWritable
	}
	items := b.tx.items(b.name)
	if i, ok := search(items, key); ok {
		b.tx.state[b.name] = slices.Delete(items, i, i+1)
	}
	return nil
}

func (b memBucket) Prefix(prefix []byte) iter.Seq2[[]byte, []byte] {
	return func(yield func(k, v []byte) bool) {
		items := b.tx.state[b.name]
		i, _ := search(items, prefix)
		for _, kv := range items[i:] {
			if !bytes.HasPrefix(kv.key, prefix) || !yield(kv.key, kv.value) {
				return
			}
		}
	}
}

func (b memBucket) KeyCount() int { return len(b.tx.state[b.name]) }

func search(items []memKV, key []byte) (int, bool) {
	return slices.BinarySearchFunc(items, key, func(kv memKV, key []byte) int {
		return bytes.Compare(kv.key, key)
	})
}
