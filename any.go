package rtti

import (
	"fmt"
	"reflect"
)

// Any holds a single value of any type together with the exact type it was
// stored as. Unlike a bare interface value, retrieving it requires naming
// that exact type: a value stored as io.Reader cannot be read back as
// *os.File, and a value stored as *os.File cannot be read back as io.Reader.
//
// The zero Any is empty.
type Any struct {
	typ reflect.Type
	val any
}

// AnyOf returns an Any holding v as type T.
func AnyOf[T any](v T) Any {
	return Any{reflect.TypeFor[T](), v}
}

func (a Any) Empty() bool {
	return a.typ == nil
}

// Type returns the stored type, or nil if a is empty.
func (a Any) Type() reflect.Type {
	return a.typ
}

func (a *Any) Reset() {
	*a = Any{}
}

func (a Any) String() string {
	if a.typ == nil {
		return "<empty>"
	}
	return fmt.Sprintf("%v(%v)", a.typ, a.val)
}

// AnyIs reports whether a holds a value stored as exactly T.
func AnyIs[T any](a Any) bool {
	return a.typ == reflect.TypeFor[T]()
}

// AnyCast returns the value held by a. It fails with ErrBadType unless the
// value was stored as exactly T.
func AnyCast[T any](a Any) (T, error) {
	var zero T
	want := reflect.TypeFor[T]()
	if a.typ == nil {
		return zero, fmt.Errorf("%w: empty Any, wanted %v", ErrBadType, want)
	}
	if a.typ != want {
		return zero, fmt.Errorf("%w: Any holds %v, wanted %v", ErrBadType, a.typ, want)
	}
	if a.val == nil {
		return zero, nil
	}
	return a.val.(T), nil
}

// MustCast is like AnyCast but panics on a type mismatch.
func MustCast[T any](a Any) T {
	return must(AnyCast[T](a))
}
