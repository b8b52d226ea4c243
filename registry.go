package rtti

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Registry holds every Type that a decoder may encounter. Types are defined
// at startup (see DefineType); after Seal the registry is read-only and safe
// for concurrent use by any number of encoders, decoders and cloners.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	byID   map[TypeID]*Type
	byName map[string]*Type
	byGo   map[reflect.Type]*Type
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[TypeID]*Type),
		byName: make(map[string]*Type),
		byGo:   make(map[reflect.Type]*Type),
	}
}

// Seal forbids defining more types. Call it once all types are registered,
// before starting concurrent encoding or decoding.
func (reg *Registry) Seal() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.sealed = true
}

func (reg *Registry) IsSealed() bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.sealed
}

func (reg *Registry) TypeByID(id TypeID) *Type {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.byID[id]
}

func (reg *Registry) TypeNamed(name string) *Type {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.byName[name]
}

// TypeByGoType returns the type defined for the given pointer type.
func (reg *Registry) TypeByGoType(rt reflect.Type) *Type {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.byGo[rt]
}

// Types returns all types ordered by id.
func (reg *Registry) Types() []*Type {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	types := make([]*Type, 0, len(reg.byID))
	for _, typ := range reg.byID {
		types = append(types, typ)
	}
	slices.SortFunc(types, func(a, b *Type) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})
	return types
}

// New creates a zero instance of the type with the given id.
func (reg *Registry) New(id TypeID) (Reflectable, error) {
	typ := reg.TypeByID(id)
	if typ == nil {
		return nil, &UnknownTypeError{id}
	}
	return typ.New()
}

// Fingerprint combines the fingerprints of all registered types. Two
// registries with equal fingerprints encode and decode identically.
func (reg *Registry) Fingerprint() uint64 {
	types := reg.Types()
	buf := make([]byte, 0, 12*len(types))
	for _, typ := range types {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(typ.id))
		buf = binary.LittleEndian.AppendUint64(buf, typ.fingerprint)
	}
	return murmur3.Sum64WithSeed(buf, 47)
}

func (reg *Registry) add(typ *Type) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.sealed {
		panic(fmt.Errorf("cannot define %v: registry is sealed", typ))
	}
	if typ.id == 0 {
		panic(fmt.Errorf("type %s: zero type id", typ.name))
	}
	if typ.name == "" {
		panic(fmt.Errorf("type %d: name missing", typ.id))
	}
	if prior := reg.byID[typ.id]; prior != nil {
		panic(fmt.Errorf("type id %d is already assigned to %s, cannot use it for %s", typ.id, prior.name, typ.name))
	}
	if reg.byName[typ.name] != nil {
		panic(fmt.Errorf("type %s already defined", typ.name))
	}
	if prior := reg.byGo[typ.goType]; prior != nil {
		panic(fmt.Errorf("%v is already described by %v", typ.goType, prior))
	}
	if typ.base != nil {
		if typ.base.reg != reg {
			panic(fmt.Errorf("%v: base %v belongs to a different registry", typ, typ.base))
		}
		typ.base.derived = append(typ.base.derived, typ)
	}
	reg.byID[typ.id] = typ
	reg.byName[typ.name] = typ
	reg.byGo[typ.goType] = typ
}
