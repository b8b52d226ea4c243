package rtti

import (
	"fmt"
)

type CloneMode int

const (
	// CloneShallow copies the object and everything it holds by value, but
	// keeps references pointing at the original referenced objects.
	CloneShallow CloneMode = iota

	// CloneDeep also clones every object reachable through references,
	// preserving sharing and cycles among the clones.
	CloneDeep
)

func (m CloneMode) String() string {
	switch m {
	case CloneShallow:
		return "shallow"
	case CloneDeep:
		return "deep"
	default:
		return fmt.Sprintf("CloneMode(%d)", int(m))
	}
}

// Clone returns a copy of obj.
//
// Plain values, data blocks and embedded values are always copied so that
// the clone never shares mutable memory with the original. References are
// handled according to mode.
func Clone[T Reflectable](obj T, mode CloneMode) (T, error) {
	var zero T
	if err := checkRoot(obj); err != nil {
		return zero, err
	}
	c := &cloner{
		mode:   mode,
		clones: make(map[Reflectable]Reflectable),
	}
	result, err := c.clone(obj)
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}

type cloner struct {
	mode   CloneMode
	clones map[Reflectable]Reflectable
}

// refMap holds the references found in an object, per level and per field,
// gathered from the original before the copy is detached from it.
type refMap struct {
	levels [][]fieldRefs
}

type fieldRefs struct {
	refs   []Reflectable
	values []*refMap
}

func (c *cloner) clone(src Reflectable) (Reflectable, error) {
	typ := src.RTTI()
	dst, err := typ.New()
	if err != nil {
		return nil, fmt.Errorf("cannot clone: %w", err)
	}
	c.clones[src] = dst

	refs := gatherRefs(typ, src)
	typ.copyValue(dst, src)
	if err := c.restore(typ, dst, refs); err != nil {
		return nil, err
	}
	return dst, nil
}

func gatherRefs(typ *Type, obj any) *refMap {
	m := &refMap{levels: make([][]fieldRefs, len(typ.levels))}
	for li, lvl := range typ.levels {
		recv := lvl.project(obj)
		fields := make([]fieldRefs, len(lvl.typ.fields))
		for fi, f := range lvl.typ.fields {
			switch f := f.(type) {
			case refField:
				fields[fi].refs = f.refs(recv)
			case valueField:
				vals := f.values(recv)
				fields[fi].values = make([]*refMap, len(vals))
				for i, v := range vals {
					fields[fi].values[i] = gatherRefs(v.RTTI(), v)
				}
			}
		}
		m.levels[li] = fields
	}
	return m
}

// restore detaches dst, a by-value copy of an original object, from the
// original, and then points its references at the targets chosen by mode.
func (c *cloner) restore(typ *Type, dst any, refs *refMap) error {
	for li, lvl := range typ.levels {
		recv := lvl.project(dst)
		for fi, f := range lvl.typ.fields {
			f.detach(recv)
			fr := &refs.levels[li][fi]
			switch f := f.(type) {
			case refField:
				for i, ref := range fr.refs {
					if ref == nil {
						continue
					}
					target, err := c.target(ref)
					if err != nil {
						return err
					}
					idx := i
					if !f.IsArray() {
						idx = -1
					}
					if err := f.setRef(recv, idx, target); err != nil {
						return fieldErrf(lvl.typ, f.Name(), idx, err, "")
					}
				}
			case valueField:
				vals := f.values(recv)
				for i, v := range vals {
					if err := c.restore(v.RTTI(), v, fr.values[i]); err != nil {
						return err
					}
					idx := i
					if !f.IsArray() {
						idx = -1
					}
					f.storeValue(recv, idx, v)
				}
			}
		}
	}
	return nil
}

func (c *cloner) target(ref Reflectable) (Reflectable, error) {
	if c.mode != CloneDeep {
		return ref, nil
	}
	if clone, ok := c.clones[ref]; ok {
		return clone, nil
	}
	return c.clone(ref)
}
