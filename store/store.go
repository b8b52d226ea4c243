// Package store keeps rtti object graphs in a transactional key-value store,
// either a Bolt file or memory.
//
// Each value records the root type id and schema fingerprint it was written
// with, so schema drift can be reported without decoding anything.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/andreyvit/rtti"
	"go.etcd.io/bbolt"
)

const DefaultBucket = "objects"

var ErrNotFound = errors.New("not found")

type Options struct {
	rtti.Options

	// Bucket holds all values. Empty means DefaultBucket.
	Bucket string

	// Compress stores values zstd-compressed.
	Compress bool

	// NoSync skips fsync on commit. Only for tests and scratch data.
	NoSync bool

	// MmapSize is the initial Bolt mmap size; zero picks a default.
	MmapSize int

	// Timeout bounds waiting for the Bolt file lock. Zero means 10 seconds.
	Timeout time.Duration
}

type Store struct {
	st       storage
	reg      *rtti.Registry
	ser      rtti.MemorySerializer
	bucket   string
	compress bool
	logger   *slog.Logger
}

// Open opens or creates a Bolt-backed store at path.
func Open(path string, reg *rtti.Registry, opt *Options) (*Store, error) {
	if opt == nil {
		opt = &Options{}
	}
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	if opt.NoSync {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s, err := newStore(&boltStorage{bdb}, reg, opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return s, nil
}

// NewMemory returns a store that lives in memory only.
func NewMemory(reg *rtti.Registry, opt *Options) *Store {
	if opt == nil {
		opt = &Options{}
	}
	s, err := newStore(newMemStorage(), reg, opt)
	if err != nil {
		panic(err) // cannot fail on an empty memory storage
	}
	return s
}

func newStore(st storage, reg *rtti.Registry, opt *Options) (*Store, error) {
	s := &Store{
		st:       st,
		reg:      reg,
		ser:      rtti.MemorySerializer{Registry: reg, Options: opt.Options},
		bucket:   opt.Bucket,
		compress: opt.Compress,
		logger:   opt.Logger,
	}
	if s.bucket == "" {
		s.bucket = DefaultBucket
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	stx, err := st.BeginTx(true)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	defer stx.Rollback()
	if _, err := stx.CreateBucket(s.bucket); err != nil {
		return nil, fmt.Errorf("store: creating bucket %q: %w", s.bucket, err)
	}
	if err := stx.Commit(); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return s, nil
}

func (s *Store) Registry() *rtti.Registry {
	return s.reg
}

func (s *Store) Close() error {
	return s.st.Close()
}

// View runs f in a read-only transaction.
func (s *Store) View(f func(tx *Tx) error) error {
	stx, err := s.st.BeginTx(false)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer stx.Rollback()
	return safelyCall(f, s.newTx(stx))
}

// Update runs f in a writable transaction, committing it if f returns nil
// and rolling it back otherwise. A panic inside f is returned as an error.
func (s *Store) Update(f func(tx *Tx) error) error {
	stx, err := s.st.BeginTx(true)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer stx.Rollback()
	if err := safelyCall(f, s.newTx(stx)); err != nil {
		return err
	}
	if err := stx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

type Tx struct {
	store  *Store
	stx    storageTx
	bucket storageBucket
}

func (s *Store) newTx(stx storageTx) *Tx {
	b := stx.Bucket(s.bucket)
	if b == nil {
		panic(fmt.Errorf("store: bucket %q is missing", s.bucket))
	}
	return &Tx{store: s, stx: stx, bucket: b}
}

func (tx *Tx) Writable() bool {
	return tx.stx.Writable()
}

// Put encodes obj and stores it under key, replacing any previous value.
func (tx *Tx) Put(key string, obj rtti.Reflectable) error {
	if key == "" {
		return fmt.Errorf("store: empty key")
	}
	if obj == nil {
		return fmt.Errorf("store: %s: %w: nil object", key, rtti.ErrBadType)
	}
	typ := obj.RTTI()
	if tx.store.reg.TypeByID(typ.ID()) != typ {
		return fmt.Errorf("store: %s: %w: %v is not part of the store registry", key, rtti.ErrBadType, typ)
	}
	stream, err := tx.store.ser.Encode(obj, nil)
	if err != nil {
		return fmt.Errorf("store: %s: %w", key, err)
	}
	flags := vfVer1
	if tx.store.compress {
		flags |= vfZstd
	}
	return tx.bucket.Put([]byte(key), encodeValue(flags, typ, stream))
}

// Get decodes the object graph stored under key. Returns ErrNotFound if
// there is none.
func (tx *Tx) Get(key string) (rtti.Reflectable, error) {
	v, err := tx.load(key)
	if err != nil {
		return nil, err
	}
	tx.checkFingerprint(key, v)
	stream, err := v.stream()
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", key, err)
	}
	obj, err := tx.store.ser.Decode(stream)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", key, err)
	}
	return obj, nil
}

// GetAs is Get that also checks the root type.
func GetAs[T rtti.Reflectable](tx *Tx, key string) (T, error) {
	var zero T
	obj, err := tx.Get(key)
	if err != nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("store: %s: %w: stored %v, wanted %T", key, rtti.ErrBadType, obj.RTTI(), zero)
	}
	return t, nil
}

// Meta returns information about the value under key without decoding it.
func (tx *Tx) Meta(key string) (Meta, error) {
	v, err := tx.load(key)
	if err != nil {
		return Meta{}, err
	}
	return v.Meta(), nil
}

// Stream returns a copy of the rtti stream stored under key, decompressed,
// for schema-less inspection with rtti.DecodeIntermediate.
func (tx *Tx) Stream(key string) ([]byte, Meta, error) {
	v, err := tx.load(key)
	if err != nil {
		return nil, Meta{}, err
	}
	data, err := v.stream()
	if err != nil {
		return nil, Meta{}, fmt.Errorf("store: %s: %w", key, err)
	}
	if v.Flags&vfZstd == 0 {
		data = bytes.Clone(data)
	}
	return data, v.Meta(), nil
}

// Diff returns the changes that turn the value stored under key into obj,
// or nil if obj encodes the same. Pass the diff to Patch to replay it, here
// or on another store holding the same value.
func (tx *Tx) Diff(key string, obj rtti.Reflectable) (*rtti.SerializedObject, error) {
	data, _, err := tx.Stream(key)
	if err != nil {
		return nil, err
	}
	recs, err := rtti.DecodeIntermediate(data)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", key, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("store: %s: %w: empty stream", key, rtti.ErrCorrupt)
	}
	target, err := rtti.EncodeIntermediate(obj, &tx.store.ser.Options)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", key, err)
	}
	diff, err := rtti.GenerateDiff(recs[0], target)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", key, err)
	}
	return diff, nil
}

// Patch applies a diff made by Diff to the value stored under key, stores
// the result and returns it.
func (tx *Tx) Patch(key string, diff *rtti.SerializedObject) (rtti.Reflectable, error) {
	obj, err := tx.Get(key)
	if err != nil {
		return nil, err
	}
	if diff == nil {
		return obj, nil
	}
	if err := rtti.ApplyDiff(obj, diff, &tx.store.ser.Options); err != nil {
		return nil, fmt.Errorf("store: %s: %w", key, err)
	}
	if err := tx.Put(key, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func (tx *Tx) Has(key string) bool {
	return tx.bucket.Get(unsafeBytesFromString(key)) != nil
}

// Delete removes key. Deleting a missing key is not an error.
func (tx *Tx) Delete(key string) error {
	return tx.bucket.Delete([]byte(key))
}

// Keys returns the keys starting with prefix, in byte order.
func (tx *Tx) Keys(prefix string) []string {
	var keys []string
	tx.scan(prefix, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	return keys
}

// Scan decodes every value whose key starts with prefix, in key order,
// stopping at the first error returned by f.
func (tx *Tx) Scan(prefix string, f func(key string, obj rtti.Reflectable) error) error {
	var err error
	tx.scan(prefix, func(k, _ []byte) bool {
		key := string(k)
		var obj rtti.Reflectable
		obj, err = tx.Get(key)
		if err == nil {
			err = f(key, obj)
		}
		return err == nil
	})
	return err
}

func (tx *Tx) Len() int {
	return tx.bucket.KeyCount()
}

func (tx *Tx) scan(prefix string, f func(k, v []byte) bool) {
	for k, v := range tx.bucket.Prefix([]byte(prefix)) {
		if !f(k, v) {
			break
		}
	}
}

func (tx *Tx) load(key string) (value, error) {
	raw := tx.bucket.Get(unsafeBytesFromString(key))
	if raw == nil {
		return value{}, fmt.Errorf("store: %s: %w", key, ErrNotFound)
	}
	v, err := decodeValue(raw)
	if err != nil {
		return value{}, fmt.Errorf("store: %s: %w", key, err)
	}
	v.size = len(raw)
	return v, nil
}

// checkFingerprint reports values written with a different schema of their
// root type. They still decode: unknown fields are skipped, missing ones keep
// their defaults.
func (tx *Tx) checkFingerprint(key string, v value) {
	typ := tx.store.reg.TypeByID(v.TypeID)
	if typ == nil || typ.Fingerprint() == v.Fingerprint {
		return
	}
	tx.store.logger.LogAttrs(context.Background(), slog.LevelWarn, "store: schema changed since value was written",
		slog.String("key", key),
		slog.String("type", typ.Name()),
		slog.String("stored", fmt.Sprintf("%016x", v.Fingerprint)),
		slog.String("current", fmt.Sprintf("%016x", typ.Fingerprint())))
}
