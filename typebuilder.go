package rtti

import (
	"fmt"
	"reflect"
)

// TypeBuilder collects the definition of a type inside DefineType.
type TypeBuilder[T any] struct {
	typ *Type
}

// DefineType describes struct T under the given id and name and adds it to
// reg. The build func declares fields, hooks and the base type. *T must
// implement Reflectable, typically by returning the *Type this call returns:
//
//	var textureType = rtti.DefineType(reg, 1, "Texture", func(b *rtti.TypeBuilder[Texture]) {
//		rtti.Plain(b, 1, "name", func(t *Texture) *string { return &t.Name })
//		rtti.DataBlock(b, 2, "pixels", func(t *Texture) *[]byte { return &t.Pixels })
//	})
//
//	func (*Texture) RTTI() *rtti.Type { return textureType }
//
// DefineType panics on any definition error (duplicate ids or names, a sealed
// registry, plain fields without a trait).
func DefineType[T any, PT interface {
	*T
	Reflectable
}](reg *Registry, id TypeID, name string, build func(b *TypeBuilder[T])) *Type {
	ptrType := reflect.TypeFor[*T]()
	if ptrType.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("DefineType(%s): T must be a struct", name))
	}
	typ := &Type{
		reg:          reg,
		id:           id,
		name:         name,
		goType:       ptrType,
		fieldsByID:   make(map[FieldID]Field),
		fieldsByName: make(map[string]Field),
		retired:      make(map[FieldID]bool),
		newObject: func() Reflectable {
			return PT(new(T))
		},
		copyValue: func(dst, src any) {
			*dst.(*T) = *src.(*T)
		},
	}

	b := TypeBuilder[T]{
		typ: typ,
	}
	if build != nil {
		build(&b)
	}
	typ.finish()
	reg.add(typ)
	return typ
}

func (b *TypeBuilder[T]) Type() *Type {
	return b.typ
}

// Factory overrides how new instances are created when decoding or cloning.
func (b *TypeBuilder[T]) Factory(f func() *T) {
	b.typ.newObject = func() Reflectable {
		return any(f()).(Reflectable)
	}
}

// Abstract marks the type as not constructible. Decoding or cloning an
// abstract type fails with ErrNoFactory; only derived types can be instantiated.
func (b *TypeBuilder[T]) Abstract() {
	b.typ.newObject = nil
}

// Retired reserves field ids that were used by earlier versions of the type.
// Defining a field with a retired id panics.
func (b *TypeBuilder[T]) Retired(ids ...FieldID) {
	for _, id := range ids {
		if f := b.typ.fieldsByID[id]; f != nil {
			panic(fmt.Errorf("%v: field id %d is retired but assigned to %s", b.typ, id, f.Name()))
		}
		b.typ.retired[id] = true
	}
}

func (b *TypeBuilder[T]) OnSerializationStarted(f func(obj *T)) {
	b.typ.onSerializationStarted = func(obj any) {
		f(obj.(*T))
	}
}

func (b *TypeBuilder[T]) OnSerializationEnded(f func(obj *T)) {
	b.typ.onSerializationEnded = func(obj any) {
		f(obj.(*T))
	}
}

// OnDeserializationStarted is called after the object is created, before any
// of its fields are decoded.
func (b *TypeBuilder[T]) OnDeserializationStarted(f func(obj *T, cc *Construction)) {
	b.typ.onDeserializationStarted = func(obj any, cc *Construction) {
		f(obj.(*T), cc)
	}
}

// OnDeserializationEnded is called after all fields of the object are decoded.
// Returning an error aborts decoding.
func (b *TypeBuilder[T]) OnDeserializationEnded(f func(obj *T, cc *Construction) error) {
	b.typ.onDeserializationEnded = func(obj any, cc *Construction) error {
		return f(obj.(*T), cc)
	}
}

// Extends declares base as the parent of the type being built. B is the Go
// type described by base, and up returns the embedded B within T. Fields of
// base are serialized in their own section, so base and derived types evolve
// independently.
func Extends[T, B any](b *TypeBuilder[T], base *Type, up func(obj *T) *B) {
	if base == nil {
		panic(fmt.Errorf("%v: nil base", b.typ))
	}
	if want := reflect.TypeFor[*B](); base.goType != want {
		panic(fmt.Errorf("%v: base %v describes %v, not %v", b.typ, base, base.goType, want))
	}
	if b.typ.base != nil {
		panic(fmt.Errorf("%v: base already set to %v", b.typ, b.typ.base))
	}
	b.typ.base = base
	b.typ.up = func(obj any) any {
		return up(obj.(*T))
	}
}
