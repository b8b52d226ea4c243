package rtti

import (
	"bytes"
	"maps"
	"slices"
	"sort"
)

// Slice encodes a sequence as its count followed by every element.
func Slice[V any](elem Trait[V]) Trait[[]V] {
	return sliceTrait[V]{elem}
}

// size:u32 count:u32 elem*
type sliceTrait[V any] struct {
	elem Trait[V]
}

func (sliceTrait[V]) Size() int { return Dynamic }

func (sliceTrait[V]) PlainTag() PlainTag { return TagSlice }

func (t sliceTrait[V]) Append(w *Writer, v []V) error {
	off := w.BeginSized()
	if err := w.AppendCount(len(v)); err != nil {
		return err
	}
	for _, e := range v {
		if err := t.elem.Append(w, e); err != nil {
			return err
		}
	}
	return w.EndSized(off)
}

func (t sliceTrait[V]) Read(r *Reader) ([]V, error) {
	p, err := r.Sized()
	if err != nil {
		return nil, err
	}
	n, err := p.Count(minSize(t.elem))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, p.expectEnd("slice")
	}
	result := make([]V, n)
	for i := range result {
		result[i], err = t.elem.Read(&p)
		if err != nil {
			return nil, err
		}
	}
	return result, p.expectEnd("slice")
}

func (t sliceTrait[V]) Clone(v []V) []V {
	if v == nil {
		return nil
	}
	v = slices.Clone(v)
	if c, ok := t.elem.(Cloner[V]); ok {
		for i := range v {
			v[i] = c.Clone(v[i])
		}
	}
	return v
}

// Map encodes a map as its count followed by alternating keys and values.
// Entries are ordered by their encoded keys, so equal maps encode to equal
// bytes.
func Map[K comparable, V any](key Trait[K], value Trait[V]) Trait[map[K]V] {
	return mapTrait[K, V]{key, value}
}

// size:u32 count:u32 (key value)*
type mapTrait[K comparable, V any] struct {
	key   Trait[K]
	value Trait[V]
}

func (mapTrait[K, V]) Size() int { return Dynamic }

func (mapTrait[K, V]) PlainTag() PlainTag { return TagMap }

func (t mapTrait[K, V]) Append(w *Writer, m map[K]V) error {
	off := w.BeginSized()
	if err := w.AppendCount(len(m)); err != nil {
		return err
	}
	keys, values, err := sortedEntries(t.key, m, w.Limit)
	if err != nil {
		return err
	}
	for i, kb := range keys {
		w.AppendRaw(kb)
		if err := t.value.Append(w, values[i]); err != nil {
			return err
		}
	}
	return w.EndSized(off)
}

func (t mapTrait[K, V]) Read(r *Reader) (map[K]V, error) {
	p, err := r.Sized()
	if err != nil {
		return nil, err
	}
	n, err := p.Count(minSize(t.key) + minSize(t.value))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, p.expectEnd("map")
	}
	result := make(map[K]V, n)
	for range n {
		off := p.Off()
		k, err := t.key.Read(&p)
		if err != nil {
			return nil, err
		}
		v, err := t.value.Read(&p)
		if err != nil {
			return nil, err
		}
		if _, dup := result[k]; dup {
			return nil, dataErrf(p.Orig, off, nil, "duplicate map key %v", k)
		}
		result[k] = v
	}
	return result, p.expectEnd("map")
}

func (t mapTrait[K, V]) Clone(m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	m = maps.Clone(m)
	if c, ok := t.value.(Cloner[V]); ok {
		for k, v := range m {
			m[k] = c.Clone(v)
		}
	}
	return m
}

// Set encodes a set as its count followed by its elements in encoded order.
func Set[K comparable](elem Trait[K]) Trait[map[K]struct{}] {
	return setTrait[K]{elem}
}

// size:u32 count:u32 elem*
type setTrait[K comparable] struct {
	elem Trait[K]
}

func (setTrait[K]) Size() int { return Dynamic }

func (setTrait[K]) PlainTag() PlainTag { return TagSet }

func (t setTrait[K]) Append(w *Writer, set map[K]struct{}) error {
	off := w.BeginSized()
	if err := w.AppendCount(len(set)); err != nil {
		return err
	}
	keys, _, err := sortedEntries(t.elem, set, w.Limit)
	if err != nil {
		return err
	}
	for _, kb := range keys {
		w.AppendRaw(kb)
	}
	return w.EndSized(off)
}

func (t setTrait[K]) Read(r *Reader) (map[K]struct{}, error) {
	p, err := r.Sized()
	if err != nil {
		return nil, err
	}
	n, err := p.Count(minSize(t.elem))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, p.expectEnd("set")
	}
	result := make(map[K]struct{}, n)
	for range n {
		off := p.Off()
		k, err := t.elem.Read(&p)
		if err != nil {
			return nil, err
		}
		if _, dup := result[k]; dup {
			return nil, dataErrf(p.Orig, off, nil, "duplicate set element %v", k)
		}
		result[k] = struct{}{}
	}
	return result, p.expectEnd("set")
}

func (setTrait[K]) Clone(set map[K]struct{}) map[K]struct{} {
	return maps.Clone(set)
}

// Pair is a key/value tuple encoded by PairOf.
type Pair[K, V any] struct {
	Key   K
	Value V
}

// PairOf encodes a key followed by a value. The pair has a fixed size if
// both halves do.
func PairOf[K, V any](key Trait[K], value Trait[V]) Trait[Pair[K, V]] {
	return pairTrait[K, V]{key, value}
}

type pairTrait[K, V any] struct {
	key   Trait[K]
	value Trait[V]
}

func (t pairTrait[K, V]) Size() int {
	ks, vs := t.key.Size(), t.value.Size()
	if ks == Dynamic || vs == Dynamic {
		return Dynamic
	}
	return ks + vs
}

func (pairTrait[K, V]) PlainTag() PlainTag { return TagPair }

func (t pairTrait[K, V]) Append(w *Writer, v Pair[K, V]) error {
	dynamic := t.Size() == Dynamic
	var off int
	if dynamic {
		off = w.BeginSized()
	}
	if err := t.key.Append(w, v.Key); err != nil {
		return err
	}
	if err := t.value.Append(w, v.Value); err != nil {
		return err
	}
	if dynamic {
		return w.EndSized(off)
	}
	return nil
}

func (t pairTrait[K, V]) Read(r *Reader) (Pair[K, V], error) {
	var result Pair[K, V]
	p := r
	if t.Size() == Dynamic {
		sub, err := r.Sized()
		if err != nil {
			return result, err
		}
		p = &sub
	}
	var err error
	result.Key, err = t.key.Read(p)
	if err != nil {
		return result, err
	}
	result.Value, err = t.value.Read(p)
	if err != nil {
		return result, err
	}
	if p != r {
		return result, p.expectEnd("pair")
	}
	return result, nil
}

func (t pairTrait[K, V]) Clone(v Pair[K, V]) Pair[K, V] {
	if c, ok := t.key.(Cloner[K]); ok {
		v.Key = c.Clone(v.Key)
	}
	if c, ok := t.value.(Cloner[V]); ok {
		v.Value = c.Clone(v.Value)
	}
	return v
}

// sortedEntries encodes the keys of m and returns them in byte order, along
// with the matching values.
func sortedEntries[K comparable, V any](key Trait[K], m map[K]V, limit uint64) ([][]byte, []V, error) {
	type entry struct {
		key   []byte
		value V
	}
	entries := make([]entry, 0, len(m))
	scratch := Writer{Limit: limit}
	for k, v := range m {
		scratch.Reset()
		if err := key.Append(&scratch, k); err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry{bytes.Clone(scratch.Buf), v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
	keys := make([][]byte, len(entries))
	values := make([]V, len(entries))
	for i, e := range entries {
		keys[i], values[i] = e.key, e.value
	}
	return keys, values, nil
}

func minSize(trait interface{ Size() int }) int {
	if n := trait.Size(); n != Dynamic {
		return n
	}
	return 4
}
