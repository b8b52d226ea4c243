package rtti

import (
	"bytes"
	"fmt"
)

// GenerateDiff compares two intermediate forms of the same root object,
// typically taken with EncodeIntermediate before and after a change, and
// returns a diff that ApplyDiff can replay on the original object. It returns
// nil if nothing changed.
//
// The diff is a patch of the root: a SerializedObject with Patch set that
// lists only changed fields. Objects of base that are still referenced from
// target appear as patches identified by their id in base, so applying the
// diff updates them in place and keeps sharing intact. Objects that only
// exist in target are carried in full. Arrays of references whose elements
// change are replaced as a whole; arrays of values of unchanged length are
// patched element by element.
func GenerateDiff(base, target *SerializedObject) (*SerializedObject, error) {
	if base.ID == 0 || target.ID == 0 || base.Patch || target.Patch {
		return nil, fmt.Errorf("%w: diffs are generated between root objects", ErrBadType)
	}
	if base.TypeID != target.TypeID {
		return nil, fmt.Errorf("%w: cannot diff type %d against type %d", ErrBadType, target.TypeID, base.TypeID)
	}
	d := &differ{
		base:    make(map[uint32]*SerializedObject),
		target:  make(map[uint32]*SerializedObject),
		pairs:   make(map[uint32]uint32),
		paired:  make(map[uint32]bool),
		patched: make(map[uint32]bool),
		ids:     make(map[uint32]uint32),
	}
	d.nextID = indexObjects(d.base, base) + 1
	indexObjects(d.target, target)

	d.match(base, target)
	d.patched[base.ID] = true
	diff := d.patch(base, target)
	if len(diff.Sections) == 0 {
		return nil, nil
	}
	return diff, nil
}

// ApplyDiff applies a diff made by GenerateDiff to obj, which must be in the
// state the diff's base was taken from. New objects are created with the
// types of obj's registry.
func ApplyDiff(obj Reflectable, diff *SerializedObject, opt *Options) error {
	if diff == nil {
		return nil
	}
	if err := checkRoot(obj); err != nil {
		return err
	}
	if !diff.Patch {
		return fmt.Errorf("%w: #%d type %d is not a diff", ErrBadType, diff.ID, diff.TypeID)
	}
	base := objectIDs(obj)
	if base[diff.ID] != obj {
		return fmt.Errorf("%w: diff applies to object %d, not the root", ErrBadType, diff.ID)
	}
	a := newApplier(obj.RTTI().Registry(), opt, base)
	return a.applyObject(obj, diff)
}

// objectIDs numbers the objects reachable from root the way the encoder
// does, so that ids in an intermediate form of root map back to objects.
func objectIDs(root Reflectable) map[uint32]Reflectable {
	ids := make(map[Reflectable]uint32)
	byID := make(map[uint32]Reflectable)
	var visit func(obj Reflectable)
	var walk func(obj Reflectable)
	visit = func(obj Reflectable) {
		if obj == nil {
			return
		}
		if _, ok := ids[obj]; ok {
			return
		}
		id := uint32(len(ids) + 1)
		ids[obj] = id
		byID[id] = obj
		walk(obj)
	}
	walk = func(obj Reflectable) {
		typ := obj.RTTI()
		for _, lvl := range typ.levels {
			recv := lvl.project(obj)
			for _, f := range lvl.typ.fields {
				switch f := f.(type) {
				case refField:
					for _, ref := range f.refs(recv) {
						visit(ref)
					}
				case valueField:
					for _, v := range f.values(recv) {
						walk(v)
					}
				}
			}
		}
	}
	visit(root)
	return byID
}

// indexObjects collects the inline objects of a tree by id and returns the
// largest id.
func indexObjects(m map[uint32]*SerializedObject, obj *SerializedObject) uint32 {
	var maxID uint32
	var walk func(obj *SerializedObject)
	walk = func(obj *SerializedObject) {
		if obj.ID != 0 {
			m[obj.ID] = obj
			maxID = max(maxID, obj.ID)
		}
		for _, sec := range obj.Sections {
			for _, f := range sec.Fields {
				for _, ref := range f.Refs {
					if ref.Object != nil {
						walk(ref.Object)
					}
				}
				for _, v := range f.Values {
					walk(v)
				}
			}
		}
	}
	walk(obj)
	return maxID
}

type differ struct {
	base   map[uint32]*SerializedObject
	target map[uint32]*SerializedObject

	// pairs maps target ids to the base objects they continue; paired
	// holds the base side.
	pairs  map[uint32]uint32
	paired map[uint32]bool

	// patched holds base ids whose patch has been emitted.
	patched map[uint32]bool

	// ids maps target-only objects to their ids in the diff.
	ids    map[uint32]uint32
	nextID uint32
}

// match pairs up objects of base and target found at the same positions,
// starting from b and t.
func (d *differ) match(b, t *SerializedObject) {
	if t.ID != 0 {
		d.pairs[t.ID] = b.ID
		d.paired[b.ID] = true
	}
	for _, ts := range t.Sections {
		bs := findSection(b, ts.TypeID)
		if bs == nil {
			continue
		}
		for i := range ts.Fields {
			tf := &ts.Fields[i]
			bf := findField(bs, tf.ID)
			if bf == nil || bf.flags() != tf.flags() {
				continue
			}
			switch tf.Kind {
			case KindPtr:
				for j := range min(len(bf.Refs), len(tf.Refs)) {
					bid, tid := bf.Refs[j].ID, tf.Refs[j].ID
					if bid == 0 || tid == 0 || d.paired[bid] {
						continue
					}
					if _, ok := d.pairs[tid]; ok {
						continue
					}
					if bo, to := d.base[bid], d.target[tid]; bo != nil && to != nil && bo.TypeID == to.TypeID {
						d.match(bo, to)
					}
				}
			case KindValue:
				for j := range min(len(bf.Values), len(tf.Values)) {
					if bf.Values[j].TypeID == tf.Values[j].TypeID {
						d.match(bf.Values[j], tf.Values[j])
					}
				}
			}
		}
	}
}

// patch returns the changes that turn b into t.
func (d *differ) patch(b, t *SerializedObject) *SerializedObject {
	p := &SerializedObject{ID: b.ID, TypeID: t.TypeID, Patch: true}
	for _, ts := range t.Sections {
		bs := findSection(b, ts.TypeID)
		var changed []SerializedField
		for i := range ts.Fields {
			tf := &ts.Fields[i]
			var bf *SerializedField
			if bs != nil {
				bf = findField(bs, tf.ID)
			}
			if f, ok := d.field(bf, tf); ok {
				changed = append(changed, f)
			}
		}
		if len(changed) > 0 {
			p.Sections = append(p.Sections, SerializedSection{TypeID: ts.TypeID, Fields: changed})
		}
	}
	return p
}

// field compares one field and reports whether it has to be part of the diff.
func (d *differ) field(bf, tf *SerializedField) (SerializedField, bool) {
	if bf == nil || bf.flags() != tf.flags() || bf.Tag != tf.Tag {
		return d.copyField(tf), true
	}
	out := *tf
	out.Raw, out.Refs, out.Values = nil, nil, nil

	switch tf.Kind {
	case KindPlain, KindDataBlock:
		if bf.Count == tf.Count && bytes.Equal(bf.Raw, tf.Raw) {
			return out, false
		}
		return d.copyField(tf), true

	case KindValue:
		if len(bf.Values) != len(tf.Values) {
			return d.copyField(tf), true
		}
		for i, tv := range tf.Values {
			if bf.Values[i].TypeID != tv.TypeID {
				return d.copyField(tf), true
			}
		}
		changed := false
		for i, tv := range tf.Values {
			p := d.patch(bf.Values[i], tv)
			changed = changed || len(p.Sections) > 0
			out.Values = append(out.Values, p)
		}
		return out, changed

	case KindPtr:
		changed := len(bf.Refs) != len(tf.Refs)
		for i, tr := range tf.Refs {
			var bid uint32
			if i < len(bf.Refs) {
				bid = bf.Refs[i].ID
			}
			ref := d.ref(tr)
			if ref.Object == nil || !ref.Object.Patch {
				changed = changed || tr.ID != 0 || bid != 0
			} else {
				changed = changed || ref.ID != bid || len(ref.Object.Sections) > 0
			}
			out.Refs = append(out.Refs, ref)
		}
		return out, changed

	default:
		return d.copyField(tf), true
	}
}

// ref translates a reference of target into the diff: a patch of the base
// object it continues, or a copy of a target-only object.
func (d *differ) ref(tr SerializedRef) SerializedRef {
	if tr.ID == 0 {
		return SerializedRef{}
	}
	if bid, ok := d.pairs[tr.ID]; ok {
		if d.patched[bid] {
			return SerializedRef{ID: bid, Object: &SerializedObject{ID: bid, TypeID: d.base[bid].TypeID, Patch: true}}
		}
		d.patched[bid] = true
		return SerializedRef{ID: bid, Object: d.patch(d.base[bid], d.target[tr.ID])}
	}
	if id, ok := d.ids[tr.ID]; ok {
		return SerializedRef{ID: id}
	}
	id := d.nextID
	d.nextID++
	d.ids[tr.ID] = id
	return SerializedRef{ID: id, Object: d.copyObject(d.target[tr.ID], id)}
}

func (d *differ) copyObject(t *SerializedObject, id uint32) *SerializedObject {
	obj := &SerializedObject{ID: id, TypeID: t.TypeID}
	for _, ts := range t.Sections {
		sec := SerializedSection{TypeID: ts.TypeID}
		for i := range ts.Fields {
			sec.Fields = append(sec.Fields, d.copyField(&ts.Fields[i]))
		}
		obj.Sections = append(obj.Sections, sec)
	}
	return obj
}

func (d *differ) copyField(tf *SerializedField) SerializedField {
	out := *tf
	out.Refs, out.Values = nil, nil
	for _, tr := range tf.Refs {
		out.Refs = append(out.Refs, d.ref(tr))
	}
	for _, tv := range tf.Values {
		out.Values = append(out.Values, d.copyObject(tv, 0))
	}
	return out
}

func findSection(obj *SerializedObject, id TypeID) *SerializedSection {
	for i := range obj.Sections {
		if obj.Sections[i].TypeID == id {
			return &obj.Sections[i]
		}
	}
	return nil
}

func findField(sec *SerializedSection, id FieldID) *SerializedField {
	for i := range sec.Fields {
		if sec.Fields[i].ID == id {
			return &sec.Fields[i]
		}
	}
	return nil
}
