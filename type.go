package rtti

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Reflectable is implemented by objects that describe themselves with a Type.
// Reflectable objects must be pointers: their address is their identity
// within an encode or clone operation.
type Reflectable interface {
	RTTI() *Type
}

// TypeID identifies a Type on the wire. It must be unique within a Registry
// and stable across program versions. Zero is invalid.
type TypeID uint32

// FieldID identifies a field on the wire. It must be unique within its Type
// and never reused for a different field, even after the field is removed.
type FieldID uint16

type FieldKind uint8

const (
	KindPlain FieldKind = 1 + iota
	KindPtr
	KindValue
	KindDataBlock
)

func (k FieldKind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindPtr:
		return "ptr"
	case KindValue:
		return "value"
	case KindDataBlock:
		return "datablock"
	default:
		return fmt.Sprintf("kind%d", uint8(k))
	}
}

// Type describes the fields of one concrete Go type. Types are created by
// DefineType and live as long as their Registry.
type Type struct {
	reg    *Registry
	id     TypeID
	name   string
	goType reflect.Type

	base    *Type
	up      func(obj any) any
	derived []*Type
	levels  []level

	fields       []Field
	fieldsByID   map[FieldID]Field
	fieldsByName map[string]Field
	retired      map[FieldID]bool

	newObject func() Reflectable
	copyValue func(dst, src any)

	onSerializationStarted   func(obj any)
	onSerializationEnded     func(obj any)
	onDeserializationStarted func(obj any, cc *Construction)
	onDeserializationEnded   func(obj any, cc *Construction) error

	fingerprint uint64
}

// level is one step of a type's hierarchy: the type whose fields are
// serialized in this section, and how to reach its receiver from the object.
type level struct {
	typ     *Type
	project func(obj any) any
}

func (typ *Type) ID() TypeID                 { return typ.id }
func (typ *Type) Name() string               { return typ.name }
func (typ *Type) GoType() reflect.Type       { return typ.goType }
func (typ *Type) Registry() *Registry        { return typ.reg }
func (typ *Type) Base() *Type                { return typ.base }
func (typ *Type) IsAbstract() bool           { return typ.newObject == nil }
func (typ *Type) Fields() []Field            { return slices.Clone(typ.fields) }
func (typ *Type) FieldByID(id FieldID) Field { return typ.fieldsByID[id] }
func (typ *Type) FieldByName(name string) Field {
	return typ.fieldsByName[name]
}

func (typ *Type) String() string {
	return fmt.Sprintf("%s#%d", typ.name, typ.id)
}

// Derived returns the types that directly extend this one.
func (typ *Type) Derived() []*Type {
	typ.reg.mu.RLock()
	defer typ.reg.mu.RUnlock()
	return slices.Clone(typ.derived)
}

// IsDerivedFrom reports whether base is typ or one of its ancestors.
func (typ *Type) IsDerivedFrom(base *Type) bool {
	for t := typ; t != nil; t = t.base {
		if t == base {
			return true
		}
	}
	return false
}

// New returns a new zero instance of the type.
func (typ *Type) New() (Reflectable, error) {
	if typ.newObject == nil {
		return nil, fmt.Errorf("%v: %w", typ, ErrNoFactory)
	}
	return typ.newObject(), nil
}

// Fingerprint is a hash of the type's schema: its id, base and the id, kind
// and encoding of every field. Any change to the serialized layout changes
// the fingerprint.
func (typ *Type) Fingerprint() uint64 {
	return typ.fingerprint
}

func (typ *Type) levelByID(id TypeID) (level, bool) {
	for _, lvl := range typ.levels {
		if lvl.typ.id == id {
			return lvl, true
		}
	}
	return level{}, false
}

// findField looks a field up by name in typ and its bases, and returns it
// along with its receiver within obj.
func (typ *Type) findField(obj any, name string) (Field, any, error) {
	for _, lvl := range typ.levels {
		if f := lvl.typ.fieldsByName[name]; f != nil {
			return f, lvl.project(obj), nil
		}
	}
	return nil, nil, fieldErrf(typ, name, -1, ErrUnknownField, "")
}

func (typ *Type) addField(f Field) {
	id, name := f.ID(), f.Name()
	if name == "" {
		panic(fmt.Errorf("%v: field %d has no name", typ, id))
	}
	if typ.retired[id] {
		panic(fmt.Errorf("%v: field id %d is retired, cannot use it for %s", typ, id, name))
	}
	if prior := typ.fieldsByID[id]; prior != nil {
		panic(fmt.Errorf("%v: field id %d is already assigned to %s, cannot use it for %s", typ, id, prior.Name(), name))
	}
	if typ.fieldsByName[name] != nil {
		panic(fmt.Errorf("%v: field %s already defined", typ, name))
	}
	typ.fields = append(typ.fields, f)
	typ.fieldsByID[id] = f
	typ.fieldsByName[name] = f
}

func (typ *Type) finish() {
	for _, f := range typ.fields {
		if v, ok := f.(interface{ validate() error }); ok {
			if err := v.validate(); err != nil {
				panic(fmt.Errorf("%v.%s: %w", typ, f.Name(), err))
			}
		}
	}

	typ.levels = []level{{typ, identity}}
	project := identity
	for t := typ; t.base != nil; t = t.base {
		up, prev := t.up, project
		project = func(obj any) any { return up(prev(obj)) }
		typ.levels = append(typ.levels, level{t.base, project})
	}

	typ.fingerprint = typ.computeFingerprint()
}

func (typ *Type) computeFingerprint() uint64 {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%d:%s", typ.id, typ.name)
	if typ.base != nil {
		fmt.Fprintf(&buf, "<%d:%x", typ.base.id, typ.base.fingerprint)
	}
	fields := slices.Clone(typ.fields)
	slices.SortFunc(fields, func(a, b Field) int { return int(a.ID()) - int(b.ID()) })
	for _, f := range fields {
		fmt.Fprintf(&buf, ";%d:%02x:%d", f.ID(), fieldFlags(f), fieldTag(f))
	}
	return murmur3.Sum64WithSeed([]byte(buf.String()), 47)
}

func identity(obj any) any {
	return obj
}
