package rtti

import (
	"errors"
	"fmt"
	"reflect"
)

// Field describes one serialized member of a Type.
//
// Fields are defined by Plain, PlainArray, Ptr, PtrArray, Value, ValueArray
// and DataBlock inside DefineType, and accessed generically by name with
// GetField, SetField and friends.
type Field interface {
	ID() FieldID
	Name() string
	Kind() FieldKind
	IsArray() bool

	// Owner is the type that declares the field.
	Owner() *Type

	// GoType is the type of the field's value, or of its elements for arrays.
	GoType() reflect.Type

	// Tag is the container tag of plain fields, TagNone otherwise.
	Tag() PlainTag

	// Dynamic reports whether plain values are length-prefixed.
	Dynamic() bool

	value(obj any) any
	setValue(obj any, v any) error
	encode(op *encodeOp, obj any) error
	decode(op *decodeOp, r *Reader, obj any) error
	detach(obj any)
}

// arrayField is implemented by fields with IsArray() == true.
type arrayField interface {
	Field
	length(obj any) int
	resize(obj any, n int)
	elem(obj any, i int) (any, error)
	setElem(obj any, i int, v any) error
}

// refField is implemented by Ptr and PtrArray fields.
type refField interface {
	Field
	refs(obj any) []Reflectable
	setRef(obj any, i int, ref Reflectable) error
}

// valueField is implemented by Value and ValueArray fields.
type valueField interface {
	Field
	values(obj any) []Reflectable
	storeValue(obj any, i int, v Reflectable)
}

const (
	flagKindMask = 0x07
	flagArray    = 0x08
	flagDynamic  = 0x10
)

func fieldFlags(f Field) uint8 {
	flags := uint8(f.Kind())
	if f.IsArray() {
		flags |= flagArray
	}
	if f.Dynamic() {
		flags |= flagDynamic
	}
	return flags
}

func fieldTag(f Field) PlainTag {
	return f.Tag()
}

type fieldBase struct {
	owner *Type
	id    FieldID
	name  string
}

func (f *fieldBase) ID() FieldID   { return f.id }
func (f *fieldBase) Name() string  { return f.name }
func (f *fieldBase) Owner() *Type  { return f.owner }
func (f *fieldBase) Tag() PlainTag { return TagNone }
func (f *fieldBase) Dynamic() bool { return false }

func (f *fieldBase) String() string {
	return f.owner.name + "." + f.name
}

// ArrayAccess tells array fields how to reach the elements of T. Use
// SliceAccess for slice members.
type ArrayAccess[T, V any] struct {
	Len func(obj *T) int
	Get func(obj *T, i int) V
	Set func(obj *T, i int, v V)

	// SetLen resizes the array. After SetLen(obj, 0) a subsequent SetLen
	// must not reuse the old storage.
	SetLen func(obj *T, n int)
}

func (a ArrayAccess[T, V]) valid() bool {
	return a.Len != nil && a.Get != nil && a.Set != nil && a.SetLen != nil
}

// SliceAccess accesses a []V member of T.
func SliceAccess[T, V any](ref func(obj *T) *[]V) ArrayAccess[T, V] {
	return ArrayAccess[T, V]{
		Len: func(obj *T) int {
			return len(*ref(obj))
		},
		Get: func(obj *T, i int) V {
			return (*ref(obj))[i]
		},
		Set: func(obj *T, i int, v V) {
			(*ref(obj))[i] = v
		},
		SetLen: func(obj *T, n int) {
			s := ref(obj)
			switch {
			case n == 0:
				*s = nil
			case n <= cap(*s):
				old := len(*s)
				*s = (*s)[:n]
				if n > old {
					clear((*s)[old:])
				}
			default:
				ns := make([]V, n)
				copy(ns, *s)
				*s = ns
			}
		},
	}
}

// scalar implements value access for non-array fields.
type scalar[T, V any] struct {
	get func(obj *T) V
	set func(obj *T, v V)
}

func memberAccess[T, V any](ref func(obj *T) *V) scalar[T, V] {
	if ref == nil {
		return scalar[T, V]{}
	}
	return scalar[T, V]{
		get: func(obj *T) V { return *ref(obj) },
		set: func(obj *T, v V) { *ref(obj) = v },
	}
}

func (s *scalar[T, V]) IsArray() bool        { return false }
func (s *scalar[T, V]) GoType() reflect.Type { return reflect.TypeFor[V]() }

func (s *scalar[T, V]) value(obj any) any {
	return s.get(obj.(*T))
}

func (s *scalar[T, V]) setValue(obj any, v any) error {
	tv, err := convertValue[V](v)
	if err != nil {
		return err
	}
	s.set(obj.(*T), tv)
	return nil
}

func (s *scalar[T, V]) validate() error {
	if s.get == nil || s.set == nil {
		return errors.New("accessors not set")
	}
	return nil
}

// array implements value access for array fields.
type array[T, V any] struct {
	access ArrayAccess[T, V]
}

func (a *array[T, V]) IsArray() bool        { return true }
func (a *array[T, V]) GoType() reflect.Type { return reflect.TypeFor[V]() }

func (a *array[T, V]) value(obj any) any {
	return a.slice(obj.(*T))
}

func (a *array[T, V]) slice(t *T) []V {
	n := a.access.Len(t)
	if n == 0 {
		return nil
	}
	s := make([]V, n)
	for i := range s {
		s[i] = a.access.Get(t, i)
	}
	return s
}

func (a *array[T, V]) setValue(obj any, v any) error {
	s, ok := v.([]V)
	if !ok && v != nil {
		return fmt.Errorf("%w: %T is not %v", ErrBadType, v, reflect.TypeFor[[]V]())
	}
	a.store(obj.(*T), s)
	return nil
}

func (a *array[T, V]) store(t *T, s []V) {
	a.access.SetLen(t, 0)
	if len(s) == 0 {
		return
	}
	a.access.SetLen(t, len(s))
	for i, e := range s {
		a.access.Set(t, i, e)
	}
}

func (a *array[T, V]) length(obj any) int {
	return a.access.Len(obj.(*T))
}

func (a *array[T, V]) resize(obj any, n int) {
	a.access.SetLen(obj.(*T), n)
}

func (a *array[T, V]) elem(obj any, i int) (any, error) {
	t := obj.(*T)
	if i < 0 || i >= a.access.Len(t) {
		return nil, ErrIndexOutOfRange
	}
	return a.access.Get(t, i), nil
}

func (a *array[T, V]) setElem(obj any, i int, v any) error {
	t := obj.(*T)
	if i < 0 || i >= a.access.Len(t) {
		return ErrIndexOutOfRange
	}
	tv, err := convertValue[V](v)
	if err != nil {
		return err
	}
	a.access.Set(t, i, tv)
	return nil
}

func (a *array[T, V]) validate() error {
	if !a.access.valid() {
		return errors.New("array accessors not set")
	}
	return nil
}

// convertValue accepts v as V, or nil as the zero V.
func convertValue[V any](v any) (V, error) {
	if tv, ok := v.(V); ok {
		return tv, nil
	}
	var zero V
	if v == nil {
		return zero, nil
	}
	return zero, fmt.Errorf("%w: %T is not %v", ErrBadType, v, reflect.TypeFor[V]())
}

// --- plain ---

type PlainField[T, V any] struct {
	fieldBase
	scalar[T, V]
	trait      Trait[V]
	decodeWith func(obj *T, cc *Construction, v V) error
}

// Plain defines a field holding a leaf value encoded by a Trait. The trait
// defaults to TraitOf[V](); ref returns the address of the member.
func Plain[T, V any](b *TypeBuilder[T], id FieldID, name string, ref func(obj *T) *V) *PlainField[T, V] {
	f := &PlainField[T, V]{
		fieldBase: fieldBase{b.typ, id, name},
		scalar:    memberAccess(ref),
		trait:     TraitOf[V](),
	}
	b.typ.addField(f)
	return f
}

func (f *PlainField[T, V]) Trait(trait Trait[V]) *PlainField[T, V] {
	f.trait = trait
	return f
}

// Accessors replaces direct member access with getter and setter funcs.
func (f *PlainField[T, V]) Accessors(get func(obj *T) V, set func(obj *T, v V)) *PlainField[T, V] {
	f.get, f.set = get, set
	return f
}

// DecodeWith routes decoded values to fn instead of the setter, typically to
// stash them in cc.Scratch until OnDeserializationEnded.
func (f *PlainField[T, V]) DecodeWith(fn func(obj *T, cc *Construction, v V) error) *PlainField[T, V] {
	f.decodeWith = fn
	return f
}

func (f *PlainField[T, V]) Kind() FieldKind { return KindPlain }
func (f *PlainField[T, V]) Tag() PlainTag   { return tagOf(f.trait) }
func (f *PlainField[T, V]) Dynamic() bool   { return f.trait.Size() == Dynamic }

func (f *PlainField[T, V]) validate() error {
	if f.trait == nil {
		return fmt.Errorf("no trait registered for %v", reflect.TypeFor[V]())
	}
	return f.scalar.validate()
}

func (f *PlainField[T, V]) encode(op *encodeOp, obj any) error {
	return appendPlain(op, f.trait, f.get(obj.(*T)))
}

func (f *PlainField[T, V]) decode(op *decodeOp, r *Reader, obj any) error {
	v, err := f.trait.Read(r)
	if err != nil {
		return err
	}
	if f.decodeWith != nil {
		return f.decodeWith(obj.(*T), op.cc, v)
	}
	f.set(obj.(*T), v)
	return nil
}

func (f *PlainField[T, V]) detach(obj any) {
	if c, ok := f.trait.(Cloner[V]); ok {
		t := obj.(*T)
		f.set(t, c.Clone(f.get(t)))
	}
}

type PlainArrayField[T, V any] struct {
	fieldBase
	array[T, V]
	trait      Trait[V]
	decodeWith func(obj *T, cc *Construction, v []V) error
}

// PlainArray defines a field holding a sequence of leaf values.
func PlainArray[T, V any](b *TypeBuilder[T], id FieldID, name string, ref func(obj *T) *[]V) *PlainArrayField[T, V] {
	f := &PlainArrayField[T, V]{
		fieldBase: fieldBase{b.typ, id, name},
		trait:     TraitOf[V](),
	}
	if ref != nil {
		f.access = SliceAccess(ref)
	}
	b.typ.addField(f)
	return f
}

func (f *PlainArrayField[T, V]) Trait(trait Trait[V]) *PlainArrayField[T, V] {
	f.trait = trait
	return f
}

func (f *PlainArrayField[T, V]) Access(access ArrayAccess[T, V]) *PlainArrayField[T, V] {
	f.access = access
	return f
}

// DecodeWith routes the decoded elements to fn instead of the array accessors.
func (f *PlainArrayField[T, V]) DecodeWith(fn func(obj *T, cc *Construction, v []V) error) *PlainArrayField[T, V] {
	f.decodeWith = fn
	return f
}

func (f *PlainArrayField[T, V]) Kind() FieldKind { return KindPlain }
func (f *PlainArrayField[T, V]) Tag() PlainTag   { return tagOf(f.trait) }
func (f *PlainArrayField[T, V]) Dynamic() bool   { return f.trait.Size() == Dynamic }

func (f *PlainArrayField[T, V]) validate() error {
	if f.trait == nil {
		return fmt.Errorf("no trait registered for %v", reflect.TypeFor[V]())
	}
	return f.array.validate()
}

func (f *PlainArrayField[T, V]) encode(op *encodeOp, obj any) error {
	t := obj.(*T)
	n := f.access.Len(t)
	if err := op.writeCount(n); err != nil {
		return err
	}
	for i := range n {
		if err := appendPlain(op, f.trait, f.access.Get(t, i)); err != nil {
			return err
		}
	}
	return nil
}

func (f *PlainArrayField[T, V]) decode(op *decodeOp, r *Reader, obj any) error {
	t := obj.(*T)
	n, err := r.Count(minSize(f.trait))
	if err != nil {
		return err
	}
	if f.decodeWith != nil {
		var s []V
		if n > 0 {
			s = make([]V, n)
		}
		for i := range s {
			s[i], err = f.trait.Read(r)
			if err != nil {
				return err
			}
		}
		return f.decodeWith(t, op.cc, s)
	}
	f.access.SetLen(t, n)
	for i := range n {
		v, err := f.trait.Read(r)
		if err != nil {
			return err
		}
		f.access.Set(t, i, v)
	}
	return nil
}

func (f *PlainArrayField[T, V]) detach(obj any) {
	t := obj.(*T)
	s := f.slice(t)
	if c, ok := f.trait.(Cloner[V]); ok {
		for i := range s {
			s[i] = c.Clone(s[i])
		}
	}
	f.store(t, s)
}

// --- ptr ---

// Ref is a reference to a reflectable object: a pointer to a defined type,
// or an interface implemented by such pointers.
type Ref interface {
	comparable
	Reflectable
}

// refOf converts p to a Reflectable, mapping typed nil pointers held by an
// interface P to nil.
func refOf[P Ref](p P) Reflectable {
	var zero P
	if p == zero {
		return nil
	}
	if rv := reflect.ValueOf(p); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	return p
}

func castRef[P Ref](ref Reflectable) (P, error) {
	var zero P
	if ref == nil {
		return zero, nil
	}
	p, ok := ref.(P)
	if !ok {
		return zero, fmt.Errorf("%w: %v is not assignable to %v", ErrBadType, ref.RTTI(), reflect.TypeFor[P]())
	}
	return p, nil
}

type PtrField[T any, P Ref] struct {
	fieldBase
	scalar[T, P]
}

// Ptr defines a field referencing another reflectable object. Objects
// referenced more than once are encoded once and shared when decoded.
func Ptr[T any, P Ref](b *TypeBuilder[T], id FieldID, name string, ref func(obj *T) *P) *PtrField[T, P] {
	f := &PtrField[T, P]{
		fieldBase: fieldBase{b.typ, id, name},
		scalar:    memberAccess(ref),
	}
	b.typ.addField(f)
	return f
}

func (f *PtrField[T, P]) Accessors(get func(obj *T) P, set func(obj *T, v P)) *PtrField[T, P] {
	f.get, f.set = get, set
	return f
}

func (f *PtrField[T, P]) Kind() FieldKind { return KindPtr }

func (f *PtrField[T, P]) encode(op *encodeOp, obj any) error {
	return op.writeRef(refOf(f.get(obj.(*T))))
}

func (f *PtrField[T, P]) decode(op *decodeOp, r *Reader, obj any) error {
	off := r.Off()
	ref, err := op.readRef(r)
	if err != nil {
		return err
	}
	p, err := castRef[P](ref)
	if err != nil {
		return dataErrf(r.Orig, off, err, "%v", f)
	}
	f.set(obj.(*T), p)
	return nil
}

func (f *PtrField[T, P]) detach(obj any) {
	var zero P
	f.set(obj.(*T), zero)
}

func (f *PtrField[T, P]) refs(obj any) []Reflectable {
	return []Reflectable{refOf(f.get(obj.(*T)))}
}

func (f *PtrField[T, P]) setRef(obj any, i int, ref Reflectable) error {
	p, err := castRef[P](ref)
	if err != nil {
		return err
	}
	f.set(obj.(*T), p)
	return nil
}

type PtrArrayField[T any, P Ref] struct {
	fieldBase
	array[T, P]
}

// PtrArray defines a field holding a sequence of references.
func PtrArray[T any, P Ref](b *TypeBuilder[T], id FieldID, name string, ref func(obj *T) *[]P) *PtrArrayField[T, P] {
	f := &PtrArrayField[T, P]{
		fieldBase: fieldBase{b.typ, id, name},
	}
	if ref != nil {
		f.access = SliceAccess(ref)
	}
	b.typ.addField(f)
	return f
}

func (f *PtrArrayField[T, P]) Access(access ArrayAccess[T, P]) *PtrArrayField[T, P] {
	f.access = access
	return f
}

func (f *PtrArrayField[T, P]) Kind() FieldKind { return KindPtr }

func (f *PtrArrayField[T, P]) encode(op *encodeOp, obj any) error {
	t := obj.(*T)
	n := f.access.Len(t)
	if err := op.writeCount(n); err != nil {
		return err
	}
	for i := range n {
		if err := op.writeRef(refOf(f.access.Get(t, i))); err != nil {
			return err
		}
	}
	return nil
}

func (f *PtrArrayField[T, P]) decode(op *decodeOp, r *Reader, obj any) error {
	t := obj.(*T)
	n, err := r.Count(1)
	if err != nil {
		return err
	}
	f.access.SetLen(t, n)
	for i := range n {
		off := r.Off()
		ref, err := op.readRef(r)
		if err != nil {
			return err
		}
		p, err := castRef[P](ref)
		if err != nil {
			return dataErrf(r.Orig, off, err, "%v[%d]", f, i)
		}
		f.access.Set(t, i, p)
	}
	return nil
}

func (f *PtrArrayField[T, P]) detach(obj any) {
	t := obj.(*T)
	n := f.access.Len(t)
	f.access.SetLen(t, 0)
	if n > 0 {
		f.access.SetLen(t, n)
		var zero P
		for i := range n {
			f.access.Set(t, i, zero)
		}
	}
}

func (f *PtrArrayField[T, P]) refs(obj any) []Reflectable {
	t := obj.(*T)
	n := f.access.Len(t)
	result := make([]Reflectable, n)
	for i := range n {
		result[i] = refOf(f.access.Get(t, i))
	}
	return result
}

func (f *PtrArrayField[T, P]) setRef(obj any, i int, ref Reflectable) error {
	p, err := castRef[P](ref)
	if err != nil {
		return err
	}
	f.access.Set(obj.(*T), i, p)
	return nil
}

// --- value ---

// ValueRef constrains the pointer type of embedded reflectable values.
type ValueRef[V any] interface {
	*V
	Reflectable
}

type ValueField[T, V any, PV ValueRef[V]] struct {
	fieldBase
	scalar[T, V]
}

// Value defines a field embedding a reflectable struct by value. Its fields
// are encoded inline as a nested object; values have no identity and are
// never shared.
func Value[T, V any, PV ValueRef[V]](b *TypeBuilder[T], id FieldID, name string, ref func(obj *T) *V) *ValueField[T, V, PV] {
	f := &ValueField[T, V, PV]{
		fieldBase: fieldBase{b.typ, id, name},
		scalar:    memberAccess(ref),
	}
	b.typ.addField(f)
	return f
}

func (f *ValueField[T, V, PV]) Accessors(get func(obj *T) V, set func(obj *T, v V)) *ValueField[T, V, PV] {
	f.get, f.set = get, set
	return f
}

func (f *ValueField[T, V, PV]) Kind() FieldKind { return KindValue }

func (f *ValueField[T, V, PV]) encode(op *encodeOp, obj any) error {
	v := f.get(obj.(*T))
	return op.writeObject(PV(&v))
}

func (f *ValueField[T, V, PV]) decode(op *decodeOp, r *Reader, obj any) error {
	var v V
	if err := op.readObjectInto(r, PV(&v)); err != nil {
		return err
	}
	f.set(obj.(*T), v)
	return nil
}

func (f *ValueField[T, V, PV]) detach(obj any) {}

func (f *ValueField[T, V, PV]) values(obj any) []Reflectable {
	v := f.get(obj.(*T))
	return []Reflectable{PV(&v)}
}

func (f *ValueField[T, V, PV]) storeValue(obj any, i int, v Reflectable) {
	f.set(obj.(*T), *v.(PV))
}

type ValueArrayField[T, V any, PV ValueRef[V]] struct {
	fieldBase
	array[T, V]
}

// ValueArray defines a field holding a sequence of embedded values.
func ValueArray[T, V any, PV ValueRef[V]](b *TypeBuilder[T], id FieldID, name string, ref func(obj *T) *[]V) *ValueArrayField[T, V, PV] {
	f := &ValueArrayField[T, V, PV]{
		fieldBase: fieldBase{b.typ, id, name},
	}
	if ref != nil {
		f.access = SliceAccess(ref)
	}
	b.typ.addField(f)
	return f
}

func (f *ValueArrayField[T, V, PV]) Access(access ArrayAccess[T, V]) *ValueArrayField[T, V, PV] {
	f.access = access
	return f
}

func (f *ValueArrayField[T, V, PV]) Kind() FieldKind { return KindValue }

func (f *ValueArrayField[T, V, PV]) encode(op *encodeOp, obj any) error {
	t := obj.(*T)
	n := f.access.Len(t)
	if err := op.writeCount(n); err != nil {
		return err
	}
	for i := range n {
		v := f.access.Get(t, i)
		if err := op.writeObject(PV(&v)); err != nil {
			return err
		}
	}
	return nil
}

func (f *ValueArrayField[T, V, PV]) decode(op *decodeOp, r *Reader, obj any) error {
	t := obj.(*T)
	n, err := r.Count(objectHeaderSize)
	if err != nil {
		return err
	}
	f.access.SetLen(t, n)
	for i := range n {
		var v V
		if err := op.readObjectInto(r, PV(&v)); err != nil {
			return err
		}
		f.access.Set(t, i, v)
	}
	return nil
}

func (f *ValueArrayField[T, V, PV]) detach(obj any) {
	t := obj.(*T)
	f.store(t, f.slice(t))
}

func (f *ValueArrayField[T, V, PV]) values(obj any) []Reflectable {
	s := f.slice(obj.(*T))
	result := make([]Reflectable, len(s))
	for i := range s {
		result[i] = PV(&s[i])
	}
	return result
}

func (f *ValueArrayField[T, V, PV]) storeValue(obj any, i int, v Reflectable) {
	f.access.Set(obj.(*T), i, *v.(PV))
}

// --- data block ---

type DataBlockField[T any] struct {
	fieldBase
	scalar[T, []byte]
}

// DataBlock defines a field holding an opaque byte blob. Large blocks are
// streamed through the encoder in chunks rather than buffered.
func DataBlock[T any](b *TypeBuilder[T], id FieldID, name string, ref func(obj *T) *[]byte) *DataBlockField[T] {
	f := &DataBlockField[T]{
		fieldBase: fieldBase{b.typ, id, name},
		scalar:    memberAccess(ref),
	}
	b.typ.addField(f)
	return f
}

func (f *DataBlockField[T]) Accessors(get func(obj *T) []byte, set func(obj *T, v []byte)) *DataBlockField[T] {
	f.get, f.set = get, set
	return f
}

func (f *DataBlockField[T]) Kind() FieldKind { return KindDataBlock }

func (f *DataBlockField[T]) encode(op *encodeOp, obj any) error {
	data := f.get(obj.(*T))
	if err := op.writeCount(len(data)); err != nil {
		return err
	}
	return op.w.write(data)
}

func (f *DataBlockField[T]) decode(op *decodeOp, r *Reader, obj any) error {
	n, err := r.Count(1)
	if err != nil {
		return err
	}
	data, err := r.Raw(n)
	if err != nil {
		return err
	}
	var v []byte
	if n > 0 {
		v = make([]byte, n)
		copy(v, data)
	}
	f.set(obj.(*T), v)
	return nil
}

func (f *DataBlockField[T]) detach(obj any) {
	t := obj.(*T)
	if data := f.get(t); data != nil {
		f.set(t, append([]byte(nil), data...))
	}
}
