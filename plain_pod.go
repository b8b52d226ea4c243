package rtti

import (
	"encoding/binary"
	"fmt"
)

// POD encodes a fixed-layout value (a struct, array or number made only of
// fixed-size fields, without pointers, slices or strings) as its raw field
// bytes in little-endian order. It panics if V does not have a fixed layout.
func POD[V any]() Trait[V] {
	var zero V
	size := binary.Size(zero)
	if size < 0 {
		panic(fmt.Errorf("%T does not have a fixed layout", zero))
	}
	return podTrait[V]{size}
}

type podTrait[V any] struct {
	size int
}

func (t podTrait[V]) Size() int { return t.size }

func (t podTrait[V]) Append(w *Writer, v V) error {
	off := w.Grow(t.size)
	n, err := binary.Encode(w.Buf[off:], le, v)
	if err != nil {
		return err
	}
	if n != t.size {
		panic(fmt.Errorf("%T encoded into %d bytes, expected %d", v, n, t.size))
	}
	return nil
}

func (t podTrait[V]) Read(r *Reader) (V, error) {
	var v V
	b, err := r.Raw(t.size)
	if err != nil {
		return v, err
	}
	if _, err := binary.Decode(b, le, &v); err != nil {
		return v, dataErrf(r.Orig, r.Off()-t.size, err, "cannot decode %T", v)
	}
	return v, nil
}
