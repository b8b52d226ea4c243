package store

import (
	"errors"
	"iter"
)

var (
	errTxNotWritable = errors.New("store: transaction is read-only")
	errClosed        = errors.New("store: closed")
)

// storage is a transactional key-value backend (Bolt on disk, or in memory).
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns nil if the bucket doesn't exist.
	Bucket(name string) storageBucket

	// CreateBucket returns the bucket, creating it if necessary.
	CreateBucket(name string) (storageBucket, error)

	Commit() error

	// Rollback aborts the transaction. It is safe to call after Commit.
	Rollback() error
}

// storageBucket is a sorted key-value collection. Slices it returns are only
// valid until the end of the transaction.
type storageBucket interface {
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error

	// Prefix yields the pairs whose keys start with prefix, in key order.
	Prefix(prefix []byte) iter.Seq2[[]byte, []byte]

	KeyCount() int
}
