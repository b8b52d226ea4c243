package rtti

import (
	"fmt"
	"math"
	"reflect"
	"sync"
)

// Dynamic is returned by Trait.Size for values whose encoded size depends on
// the value. Such values start with a uint32 total size (see Writer.BeginSized).
const Dynamic = -1

// Trait flattens a plain (leaf) value to bytes and back.
type Trait[V any] interface {
	// Size returns the fixed encoded size, or Dynamic.
	Size() int
	Append(w *Writer, v V) error
	Read(r *Reader) (V, error)
}

// PlainTag identifies built-in container encodings on the wire. It is
// distinct from type ids, which identify reflectable types.
type PlainTag uint8

const (
	TagNone PlainTag = iota
	TagString
	TagWString
	TagSlice
	TagMap
	TagPair
	TagSet
	TagBytes
	TagMsgPack
)

func (tag PlainTag) String() string {
	switch tag {
	case TagNone:
		return "none"
	case TagString:
		return "string"
	case TagWString:
		return "wstring"
	case TagSlice:
		return "slice"
	case TagMap:
		return "map"
	case TagPair:
		return "pair"
	case TagSet:
		return "set"
	case TagBytes:
		return "bytes"
	case TagMsgPack:
		return "msgpack"
	default:
		return fmt.Sprintf("tag%d", uint8(tag))
	}
}

// Tagged is implemented by traits of built-in container types.
type Tagged interface {
	PlainTag() PlainTag
}

// Cloner is implemented by traits whose values share memory when copied
// (slices, maps), so that cloned objects do not alias the original.
type Cloner[V any] interface {
	Clone(v V) V
}

func tagOf(trait any) PlainTag {
	if t, ok := trait.(Tagged); ok {
		return t.PlainTag()
	}
	return TagNone
}

var (
	traitsMu sync.RWMutex
	traits   = builtinTraits()
)

// RegisterTrait makes trait the default encoding of V, used by Plain and
// PlainArray fields that don't specify a trait explicitly.
func RegisterTrait[V any](trait Trait[V]) {
	traitsMu.Lock()
	defer traitsMu.Unlock()
	addTrait(traits, trait)
}

// TraitOf returns the default trait registered for V, or nil.
func TraitOf[V any]() Trait[V] {
	traitsMu.RLock()
	defer traitsMu.RUnlock()
	if t, ok := traits[reflect.TypeFor[V]()]; ok {
		return t.(Trait[V])
	}
	return nil
}

func builtinTraits() map[reflect.Type]any {
	m := make(map[reflect.Type]any)
	addTrait(m, Bool)
	addTrait(m, Int8)
	addTrait(m, Int16)
	addTrait(m, Int32)
	addTrait(m, Int64)
	addTrait(m, Int)
	addTrait(m, Uint8)
	addTrait(m, Uint16)
	addTrait(m, Uint32)
	addTrait(m, Uint64)
	addTrait(m, Uint)
	addTrait(m, Float32)
	addTrait(m, Float64)
	addTrait(m, String)
	addTrait(m, Bytes)
	addTrait(m, Slice(String))
	addTrait(m, Slice(Int32))
	addTrait(m, Slice(Uint32))
	addTrait(m, Slice(Float32))
	addTrait(m, Map(String, String))
	return m
}

func addTrait[V any](m map[reflect.Type]any, trait Trait[V]) {
	m[reflect.TypeFor[V]()] = trait
}

var (
	Bool    Trait[bool]    = boolTrait{}
	Int8    Trait[int8]    = intTrait[int8]{1}
	Int16   Trait[int16]   = intTrait[int16]{2}
	Int32   Trait[int32]   = intTrait[int32]{4}
	Int64   Trait[int64]   = intTrait[int64]{8}
	Int     Trait[int]     = intTrait[int]{8}
	Uint8   Trait[uint8]   = uintTrait[uint8]{1}
	Uint16  Trait[uint16]  = uintTrait[uint16]{2}
	Uint32  Trait[uint32]  = uintTrait[uint32]{4}
	Uint64  Trait[uint64]  = uintTrait[uint64]{8}
	Uint    Trait[uint]    = uintTrait[uint]{8}
	Float32 Trait[float32] = float32Trait{}
	Float64 Trait[float64] = float64Trait{}
)

type boolTrait struct{}

func (boolTrait) Size() int { return 1 }

func (boolTrait) Append(w *Writer, v bool) error {
	if v {
		w.AppendUint8(1)
	} else {
		w.AppendUint8(0)
	}
	return nil
}

func (boolTrait) Read(r *Reader) (bool, error) {
	b, err := r.Uint8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, dataErrf(r.Orig, r.Off()-1, nil, "invalid bool %d", b)
	}
}

type signed interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int
}

type unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint
}

type intTrait[T signed] struct {
	size int
}

func (t intTrait[T]) Size() int { return t.size }

func (t intTrait[T]) Append(w *Writer, v T) error {
	switch t.size {
	case 1:
		w.AppendUint8(uint8(v))
	case 2:
		w.AppendUint16(uint16(v))
	case 4:
		w.AppendUint32(uint32(v))
	default:
		w.AppendUint64(uint64(v))
	}
	return nil
}

func (t intTrait[T]) Read(r *Reader) (T, error) {
	switch t.size {
	case 1:
		v, err := r.Uint8()
		return T(int8(v)), err
	case 2:
		v, err := r.Uint16()
		return T(int16(v)), err
	case 4:
		v, err := r.Uint32()
		return T(int32(v)), err
	default:
		v, err := r.Uint64()
		if err != nil {
			return 0, err
		}
		if int64(T(int64(v))) != int64(v) {
			return 0, dataErrf(r.Orig, r.Off()-8, ErrDataOverflow, "value %d does not fit into %T", int64(v), T(0))
		}
		return T(int64(v)), nil
	}
}

type uintTrait[T unsigned] struct {
	size int
}

func (t uintTrait[T]) Size() int { return t.size }

func (t uintTrait[T]) Append(w *Writer, v T) error {
	switch t.size {
	case 1:
		w.AppendUint8(uint8(v))
	case 2:
		w.AppendUint16(uint16(v))
	case 4:
		w.AppendUint32(uint32(v))
	default:
		w.AppendUint64(uint64(v))
	}
	return nil
}

func (t uintTrait[T]) Read(r *Reader) (T, error) {
	switch t.size {
	case 1:
		v, err := r.Uint8()
		return T(v), err
	case 2:
		v, err := r.Uint16()
		return T(v), err
	case 4:
		v, err := r.Uint32()
		return T(v), err
	default:
		v, err := r.Uint64()
		if err != nil {
			return 0, err
		}
		if uint64(T(v)) != v {
			return 0, dataErrf(r.Orig, r.Off()-8, ErrDataOverflow, "value %d does not fit into %T", v, T(0))
		}
		return T(v), nil
	}
}

type float32Trait struct{}

func (float32Trait) Size() int { return 4 }

func (float32Trait) Append(w *Writer, v float32) error {
	w.AppendUint32(math.Float32bits(v))
	return nil
}

func (float32Trait) Read(r *Reader) (float32, error) {
	v, err := r.Uint32()
	return math.Float32frombits(v), err
}

type float64Trait struct{}

func (float64Trait) Size() int { return 8 }

func (float64Trait) Append(w *Writer, v float64) error {
	w.AppendUint64(math.Float64bits(v))
	return nil
}

func (float64Trait) Read(r *Reader) (float64, error) {
	v, err := r.Uint64()
	return math.Float64frombits(v), err
}
