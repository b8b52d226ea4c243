package rtti

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"
)

func roundTripTrait[V any](t *testing.T, trait Trait[V], v V) []byte {
	t.Helper()
	var w Writer
	if err := trait.Append(&w, v); err != nil {
		t.Fatalf("Append(%v): %v", v, err)
	}
	if size := trait.Size(); size != Dynamic && w.Len() != size {
		t.Fatalf("Append(%v) wrote %d bytes, Size is %d", v, w.Len(), size)
	}
	r := makeReader(w.Buf)
	a, err := trait.Read(&r)
	if err != nil {
		t.Fatalf("Read(%x): %v", w.Buf, err)
	}
	if r.Len() != 0 {
		t.Fatalf("Read(%x) left %d bytes", w.Buf, r.Len())
	}
	if !reflect.DeepEqual(a, v) {
		t.Fatalf("Read(%x) = %#v, wanted %#v", w.Buf, a, v)
	}
	return w.Buf
}

func TestTraits_roundTrip(t *testing.T) {
	roundTripTrait(t, Bool, true)
	roundTripTrait(t, Int8, -128)
	roundTripTrait(t, Int16, -12345)
	roundTripTrait(t, Int32, -1)
	roundTripTrait(t, Int64, -1<<62)
	roundTripTrait(t, Int, 42)
	roundTripTrait(t, Uint8, 255)
	roundTripTrait(t, Uint16, 65535)
	roundTripTrait(t, Uint32, 1<<31)
	roundTripTrait(t, Uint64, 1<<63)
	roundTripTrait(t, Uint, 7)
	roundTripTrait(t, Float32, 3.5)
	roundTripTrait(t, Float64, -0.125)
	roundTripTrait(t, String, "")
	roundTripTrait(t, String, "héllo")
	roundTripTrait(t, WString, "𝄞 clef")
	roundTripTrait(t, Bytes, []byte{0, 1, 2})
	roundTripTrait(t, Bytes, nil)
	roundTripTrait(t, Slice(String), []string{"a", "", "c"})
	roundTripTrait(t, Slice(Slice(Int32)), [][]int32{{1}, nil, {2, 3}})
	roundTripTrait(t, Map(String, Slice(Float32)), map[string][]float32{"x": {1, 2}, "y": nil})
	roundTripTrait(t, Set(Int64), map[int64]struct{}{-1: {}, 5: {}})
	roundTripTrait(t, PairOf(Int32, Float64), Pair[int32, float64]{7, 0.5})
	roundTripTrait(t, PairOf(String, Bool), Pair[string, bool]{"on", true})
	roundTripTrait(t, POD[Point](), Point{-1, 2})
	roundTripTrait(t, POD[[3]uint16](), [3]uint16{1, 2, 3})
	roundTripTrait(t, MsgPack[map[string]any](), map[string]any{"a": "b", "ok": true})
}

func TestBinaryMarshaled(t *testing.T) {
	trait := BinaryMarshaled[time.Time]()
	orig := time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)
	var w Writer
	if err := trait.Append(&w, orig); err != nil {
		t.Fatal(err)
	}
	r := makeReader(w.Buf)
	a, err := trait.Read(&r)
	if err != nil || !a.Equal(orig) {
		t.Fatalf("Read = %v, %v, wanted %v", a, err, orig)
	}
}

func TestTraits_encoding(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []byte
	}{
		{"int32", roundTripTrait(t, Int32, -2), []byte{0xfe, 0xff, 0xff, 0xff}},
		{"string", roundTripTrait(t, String, "hi"), []byte{7, 0, 0, 0, 0, 'h', 'i'}},
		{"wstring", roundTripTrait(t, WString, "hi"), []byte{9, 0, 0, 0, 1, 'h', 0, 'i', 0}},
		{"slice", roundTripTrait(t, Slice(Uint8), []uint8{5, 6}), []byte{10, 0, 0, 0, 2, 0, 0, 0, 5, 6}},
		{"fixed pair", roundTripTrait(t, PairOf(Uint8, Uint16), Pair[uint8, uint16]{1, 2}), []byte{1, 2, 0}},
		{"pod", roundTripTrait(t, POD[Point](), Point{1, 2}), []byte{1, 0, 0, 0, 2, 0, 0, 0}},
	}
	for _, tt := range tests {
		if !bytes.Equal(tt.data, tt.want) {
			t.Errorf("%s: encoded as %x, wanted %x", tt.name, tt.data, tt.want)
		}
	}
}

func TestStringTraits_interchangeable(t *testing.T) {
	var w Writer
	if err := WString.Append(&w, "Привет"); err != nil {
		t.Fatal(err)
	}
	r := makeReader(w.Buf)
	s, err := String.Read(&r)
	if err != nil || s != "Привет" {
		t.Fatalf("String.Read(WString data) = %q, %v", s, err)
	}
}

func TestTraits_corrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(r *Reader) error
	}{
		{"invalid utf-8", []byte{7, 0, 0, 0, 0, 0xff, 0xfe}, func(r *Reader) error { _, err := String.Read(r); return err }},
		{"odd utf-16", []byte{8, 0, 0, 0, 1, 'a', 0, 'b'}, func(r *Reader) error { _, err := String.Read(r); return err }},
		{"string encoding", []byte{5, 0, 0, 0, 9}, func(r *Reader) error { _, err := String.Read(r); return err }},
		{"slice count", []byte{8, 0, 0, 0, 9, 0, 0, 0}, func(r *Reader) error { _, err := Slice(Int32).Read(r); return err }},
		{"slice trailing", []byte{9, 0, 0, 0, 0, 0, 0, 0, 1}, func(r *Reader) error { _, err := Slice(Int32).Read(r); return err }},
		{"set duplicate", []byte{16, 0, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0}, func(r *Reader) error { _, err := Set(Int32).Read(r); return err }},
		{"msgpack trailing", []byte{6, 0, 0, 0, 0xc0, 0xc0}, func(r *Reader) error { _, err := MsgPack[any]().Read(r); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(NewReader(tt.data))
			var de *DataError
			if !errors.As(err, &de) {
				t.Fatalf("err = %T %v, wanted *DataError", err, err)
			}
		})
	}
}

func TestIntTraits_overflow(t *testing.T) {
	var w Writer
	w.AppendUint64(1 << 40)
	r := makeReader(w.Buf)
	if _, err := (uintTrait[uint32]{8}).Read(&r); !errors.Is(err, ErrDataOverflow) {
		t.Fatalf("Read = %v, wanted ErrDataOverflow", err)
	}
}

func TestMapTraits_deterministic(t *testing.T) {
	m := map[string]int32{}
	for i := range 50 {
		m[string(rune('a'+i%26))+string(rune('A'+i/26))] = int32(i)
	}
	var w1, w2 Writer
	if err := Map(String, Int32).Append(&w1, m); err != nil {
		t.Fatal(err)
	}
	if err := Map(String, Int32).Append(&w2, m); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(w1.Buf, w2.Buf) {
		t.Fatalf("equal maps encoded differently")
	}
}

func TestTraitOf(t *testing.T) {
	if TraitOf[int32]() != Int32 {
		t.Errorf("TraitOf[int32] is not Int32")
	}
	if TraitOf[Point]() != nil {
		t.Errorf("TraitOf[Point] is not nil before registration")
	}
	if TraitOf[map[string]string]() == nil {
		t.Errorf("TraitOf[map[string]string] is nil")
	}

	RegisterTrait[celsius](celsiusTrait{})
	if TraitOf[celsius]() == nil {
		t.Fatalf("TraitOf[celsius] is nil after RegisterTrait")
	}
	roundTripTrait(t, TraitOf[celsius](), 36.6)
}

type celsius float64

type celsiusTrait struct{}

func (celsiusTrait) Size() int { return 8 }

func (celsiusTrait) Append(w *Writer, v celsius) error { return Float64.Append(w, float64(v)) }

func (celsiusTrait) Read(r *Reader) (celsius, error) {
	v, err := Float64.Read(r)
	return celsius(v), err
}

func TestPOD_panics(t *testing.T) {
	expectPanic(t, "fixed layout", func() {
		POD[struct{ S string }]()
	})
}

func TestPlainTag_String(t *testing.T) {
	if s := TagMsgPack.String(); s != "msgpack" {
		t.Errorf("TagMsgPack.String() = %q", s)
	}
	if s := PlainTag(200).String(); s != "tag200" {
		t.Errorf("PlainTag(200).String() = %q", s)
	}
}
