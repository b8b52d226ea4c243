package rtti

import (
	"bytes"
	"encoding"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgPack encodes any msgpack-compatible value (typically a struct that has
// no reflectable parts) as a length-prefixed msgpack document. Map keys are
// sorted so that equal values encode to equal bytes.
func MsgPack[V any]() Trait[V] {
	return msgpackTrait[V]{}
}

// size:u32 msgpack
type msgpackTrait[V any] struct{}

func (msgpackTrait[V]) Size() int { return Dynamic }

func (msgpackTrait[V]) PlainTag() PlainTag { return TagMsgPack }

func (msgpackTrait[V]) Append(w *Writer, v V) error {
	off := w.BeginSized()
	enc := msgpack.GetEncoder()
	enc.Reset(w)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return w.EndSized(off)
}

func (msgpackTrait[V]) Read(r *Reader) (V, error) {
	var v V
	p, err := r.Sized()
	if err != nil {
		return v, err
	}
	var br bytes.Reader
	br.Reset(p.Buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&br)
	err = dec.Decode(&v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return v, dataErrf(p.Orig, p.Off(), err, "failed to decode msgpack into %T", v)
	}
	if br.Len() != 0 {
		return v, dataErrf(p.Orig, p.Off(), nil, "%d trailing bytes after msgpack %T", br.Len(), v)
	}
	return v, nil
}

// BinaryMarshaled encodes values implementing encoding.BinaryMarshaler (on
// the value) and encoding.BinaryUnmarshaler (on the pointer), like time.Time.
func BinaryMarshaled[V any, PV interface {
	*V
	encoding.BinaryUnmarshaler
}]() Trait[V] {
	var zero V
	if _, ok := any(zero).(encoding.BinaryMarshaler); !ok {
		panic(fmt.Errorf("%T does not implement encoding.BinaryMarshaler", zero))
	}
	return binaryTrait[V, PV]{}
}

// size:u32 data
type binaryTrait[V any, PV interface {
	*V
	encoding.BinaryUnmarshaler
}] struct{}

func (binaryTrait[V, PV]) Size() int { return Dynamic }

func (binaryTrait[V, PV]) Append(w *Writer, v V) error {
	data, err := any(v).(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		return fmt.Errorf("%T.MarshalBinary: %w", v, err)
	}
	off := w.BeginSized()
	w.AppendRaw(data)
	return w.EndSized(off)
}

func (binaryTrait[V, PV]) Read(r *Reader) (V, error) {
	var v V
	p, err := r.Sized()
	if err != nil {
		return v, err
	}
	if err := PV(&v).UnmarshalBinary(p.Buf); err != nil {
		return v, dataErrf(p.Orig, p.Off(), err, "%T.UnmarshalBinary", v)
	}
	return v, nil
}
