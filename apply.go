package rtti

import (
	"fmt"
)

// applier writes SerializedObject trees into live objects. It backs both
// SerializedObject.Decode and ApplyDiff.
type applier struct {
	dec   *decodeOp
	depth int

	// created holds objects built from inline trees, by their tree id.
	created map[uint32]Reflectable

	// base holds the objects a diff applies to, by their encoding id. It is
	// nil outside of ApplyDiff.
	base map[uint32]Reflectable
}

func newApplier(reg *Registry, opt *Options, base map[uint32]Reflectable) *applier {
	return &applier{
		dec:     newDecodeOp(reg, opt.resolved()),
		created: make(map[uint32]Reflectable),
		base:    base,
	}
}

func (a *applier) resolve(ref SerializedRef) (Reflectable, error) {
	obj := ref.Object
	switch {
	case ref.ID == 0:
		if obj != nil {
			return nil, fmt.Errorf("%w: inline object without an id", ErrCorrupt)
		}
		return nil, nil
	case obj == nil:
		target := a.created[ref.ID]
		if target == nil {
			return nil, fmt.Errorf("%w: reference to undefined object %d", ErrCorrupt, ref.ID)
		}
		return target, nil
	case obj.Patch:
		if a.base == nil {
			return nil, fmt.Errorf("%w: patch of object %d outside of a diff", ErrCorrupt, ref.ID)
		}
		target := a.base[ref.ID]
		if target == nil {
			return nil, fmt.Errorf("%w: diff refers to object %d missing from the target", ErrCorrupt, ref.ID)
		}
		if len(obj.Sections) > 0 {
			if err := a.applyObject(target, obj); err != nil {
				return nil, err
			}
		}
		return target, nil
	default:
		if a.created[ref.ID] != nil {
			return nil, fmt.Errorf("%w: duplicate object id %d", ErrCorrupt, ref.ID)
		}
		typ := a.dec.reg.TypeByID(obj.TypeID)
		if typ == nil {
			return nil, &UnknownTypeError{obj.TypeID}
		}
		target, err := typ.New()
		if err != nil {
			return nil, err
		}
		a.created[ref.ID] = target
		if err := a.applyObject(target, obj); err != nil {
			return nil, err
		}
		return target, nil
	}
}

// applyObject sets the fields listed in so on obj, running the
// deserialization hooks of obj's type around them.
func (a *applier) applyObject(obj Reflectable, so *SerializedObject) error {
	typ := obj.RTTI()
	if so.TypeID != typ.id {
		return fmt.Errorf("%w: got type %d, wanted %v", ErrBadType, so.TypeID, typ)
	}
	opt := a.dec.opt
	if a.depth >= opt.MaxDepth {
		return fmt.Errorf("%w: objects nested deeper than %d levels", ErrCorrupt, opt.MaxDepth)
	}

	cc := &Construction{Object: obj, Depth: a.depth, op: a.dec}
	prev := a.dec.cc
	a.dec.cc = cc
	a.depth++
	defer func() {
		a.dec.cc = prev
		a.depth--
	}()

	for _, lvl := range typ.levels {
		if hook := lvl.typ.onDeserializationStarted; hook != nil {
			hook(lvl.project(obj), cc)
		}
	}
	for i := range so.Sections {
		sec := &so.Sections[i]
		lvl, ok := typ.levelByID(sec.TypeID)
		if !ok {
			if opt.Verbose {
				opt.Logger.Debug("rtti: skipping unknown section", "type", typ.name, "level", sec.TypeID)
			}
			continue
		}
		recv := lvl.project(obj)
		for j := range sec.Fields {
			sf := &sec.Fields[j]
			f := lvl.typ.fieldsByID[sf.ID]
			if f == nil {
				if opt.Verbose {
					opt.Logger.Debug("rtti: skipping unknown field", "type", lvl.typ.name, "field", sf.ID)
				}
				continue
			}
			if want := fieldFlags(f); sf.flags() != want {
				return fieldErrf(lvl.typ, f.Name(), -1, ErrBadType, "encoded as %s, defined as %s", describeFlags(sf.flags()), describeFlags(want))
			}
			if err := a.applyField(f, recv, sf); err != nil {
				return fieldErrf(lvl.typ, f.Name(), -1, err, "")
			}
		}
	}
	for _, lvl := range typ.levels {
		if hook := lvl.typ.onDeserializationEnded; hook != nil {
			if err := hook(lvl.project(obj), cc); err != nil {
				return fmt.Errorf("%v: %w", lvl.typ, err)
			}
		}
	}
	cc.Scratch.Reset()
	return nil
}

func (a *applier) applyField(f Field, recv any, sf *SerializedField) error {
	n := 1
	if f.IsArray() {
		n = sf.Count
	}
	switch sf.Kind {
	case KindPlain, KindDataBlock:
		r := makeReader(sf.payload())
		if err := f.decode(a.dec, &r, recv); err != nil {
			return err
		}
		return r.expectEnd(f.Name())

	case KindPtr:
		if len(sf.Refs) != n {
			return fmt.Errorf("%w: %d references, wanted %d", ErrCorrupt, len(sf.Refs), n)
		}
		rf := f.(refField)
		if f.IsArray() {
			f.(arrayField).resize(recv, n)
		}
		for i, ref := range sf.Refs {
			target, err := a.resolve(ref)
			if err != nil {
				return err
			}
			if err := rf.setRef(recv, i, target); err != nil {
				return err
			}
		}
		return nil

	case KindValue:
		if len(sf.Values) != n {
			return fmt.Errorf("%w: %d values, wanted %d", ErrCorrupt, len(sf.Values), n)
		}
		vf := f.(valueField)
		if af, ok := f.(arrayField); ok && af.length(recv) != n {
			af.resize(recv, n)
		}
		vals := vf.values(recv)
		for i, so := range sf.Values {
			v := vals[i]
			if !so.Patch {
				fresh, err := v.RTTI().New()
				if err != nil {
					return err
				}
				v = fresh
			}
			if err := a.applyObject(v, so); err != nil {
				return err
			}
			vf.storeValue(recv, i, v)
		}
		return nil

	default:
		return fmt.Errorf("%w: invalid field kind %d", ErrCorrupt, sf.Kind)
	}
}
