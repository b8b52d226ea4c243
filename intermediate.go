package rtti

import (
	"fmt"
	"strings"
)

// SerializedObject is the schema-less form of an encoded object, produced by
// DecodeIntermediate without consulting a registry, or by EncodeIntermediate.
// Decode turns it back into an object.
type SerializedObject struct {
	// ID is the object's identity within its record, zero for embedded values.
	ID       uint32
	TypeID   TypeID
	Sections []SerializedSection

	// Patch marks the objects of a diff that modify an existing object
	// instead of describing a new one. A patch lists only the fields that
	// change, and its ID is the id of the existing object in the base graph.
	Patch bool
}

// SerializedSection holds the fields of one level of an object's hierarchy.
type SerializedSection struct {
	TypeID TypeID
	Fields []SerializedField
}

type SerializedField struct {
	ID      FieldID
	Kind    FieldKind
	Array   bool
	Dynamic bool
	Tag     PlainTag

	// Count is the number of elements of array fields.
	Count int

	// Raw holds plain values (all elements, for arrays) and data blocks. It
	// aliases the decoded buffer.
	Raw []byte

	// Refs holds the references of pointer fields.
	Refs []SerializedRef

	// Values holds embedded values.
	Values []*SerializedObject
}

func (f *SerializedField) flags() uint8 {
	return uint8(f.Kind) | boolFlag(f.Array, flagArray) | boolFlag(f.Dynamic, flagDynamic)
}

// payload rebuilds the encoded payload of a plain or data block field.
func (f *SerializedField) payload() []byte {
	var w Writer
	switch {
	case f.Kind == KindDataBlock:
		w.AppendUint32(uint32(len(f.Raw)))
	case f.Array:
		w.AppendUint32(uint32(f.Count))
	}
	w.AppendRaw(f.Raw)
	return w.Buf
}

// SerializedRef is a reference payload: nil, a back-reference to an object
// encoded earlier, or an object encoded in place.
type SerializedRef struct {
	ID     uint32
	Object *SerializedObject
}

func (ref SerializedRef) IsNil() bool {
	return ref.ID == 0
}

func (ref SerializedRef) String() string {
	switch {
	case ref.ID == 0:
		return "nil"
	case ref.Object == nil:
		return fmt.Sprintf("@%d", ref.ID)
	default:
		return fmt.Sprintf("#%d", ref.ID)
	}
}

// EncodeIntermediate encodes obj and everything it references, and returns
// the result in schema-less form.
func EncodeIntermediate(obj Reflectable, opt *Options) (*SerializedObject, error) {
	var s MemorySerializer
	if opt != nil {
		s.Options = *opt
	}
	data, err := s.Encode(obj, nil)
	if err != nil {
		return nil, err
	}
	objs, err := DecodeIntermediate(data)
	if err != nil {
		return nil, err
	}
	return objs[0], nil
}

// Decode builds the object described by a root SerializedObject, such as one
// returned by EncodeIntermediate or DecodeIntermediate, using the types of reg.
func (obj *SerializedObject) Decode(reg *Registry, opt *Options) (Reflectable, error) {
	if obj.ID == 0 || obj.Patch {
		return nil, fmt.Errorf("%w: #%d type %d is not a root object", ErrBadType, obj.ID, obj.TypeID)
	}
	return newApplier(reg, opt, nil).resolve(SerializedRef{ID: obj.ID, Object: obj})
}

// DecodeIntermediate parses every record of an encoded stream, framed or
// not, into SerializedObject trees.
func DecodeIntermediate(data []byte) ([]*SerializedObject, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	r := makeReader(data)
	_, _ = r.Raw(HeaderSize)

	var result []*SerializedObject
	for r.Len() > 0 {
		rr := &r
		if h.framed() {
			rec, err := unframe(&r, h)
			if err != nil {
				return nil, err
			}
			sub := makeReader(rec)
			rr = &sub
		}
		op := &intermediateOp{seen: make(map[uint32]bool), maxDepth: DefaultMaxDepth}
		off := rr.Off()
		ref, err := op.readRef(rr)
		if err != nil {
			return nil, err
		}
		if ref.Object == nil {
			return nil, dataErrf(rr.Orig, off, nil, "record does not start with an inline object")
		}
		if h.framed() {
			if err := rr.expectEnd("record"); err != nil {
				return nil, err
			}
		}
		result = append(result, ref.Object)
	}
	return result, nil
}

type intermediateOp struct {
	seen     map[uint32]bool
	depth    int
	maxDepth int
}

func (op *intermediateOp) readRef(r *Reader) (SerializedRef, error) {
	off := r.Off()
	tag, err := r.Uint8()
	if err != nil {
		return SerializedRef{}, err
	}
	switch tag {
	case refNil:
		return SerializedRef{}, nil
	case refSeen:
		id, err := r.Uint32()
		if err != nil {
			return SerializedRef{}, err
		}
		if !op.seen[id] {
			return SerializedRef{}, dataErrf(r.Orig, off, nil, "reference to undefined object %d", id)
		}
		return SerializedRef{ID: id}, nil
	case refInline:
		id, err := r.Uint32()
		if err != nil {
			return SerializedRef{}, err
		}
		if id == 0 || op.seen[id] {
			return SerializedRef{}, dataErrf(r.Orig, off, nil, "invalid or duplicate object id %d", id)
		}
		op.seen[id] = true
		obj, err := op.readObject(r, id)
		if err != nil {
			return SerializedRef{}, err
		}
		return SerializedRef{ID: id, Object: obj}, nil
	default:
		return SerializedRef{}, dataErrf(r.Orig, off, nil, "invalid reference tag %d", tag)
	}
}

func (op *intermediateOp) readObject(r *Reader, id uint32) (*SerializedObject, error) {
	off := r.Off()
	if op.depth >= op.maxDepth {
		return nil, dataErrf(r.Orig, off, nil, "objects nested deeper than %d levels", op.maxDepth)
	}
	op.depth++
	defer func() { op.depth-- }()

	typeID, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	size, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	body, err := r.Sub(int(size))
	if err != nil {
		return nil, err
	}
	obj := &SerializedObject{ID: id, TypeID: TypeID(typeID)}
	for body.Len() > 0 {
		levelID, err := body.Uint32()
		if err != nil {
			return nil, err
		}
		secSize, err := body.Uint32()
		if err != nil {
			return nil, err
		}
		sec, err := body.Sub(int(secSize))
		if err != nil {
			return nil, err
		}
		s := SerializedSection{TypeID: TypeID(levelID)}
		for sec.Len() > 0 {
			f, err := op.readField(&sec)
			if err != nil {
				return nil, err
			}
			s.Fields = append(s.Fields, f)
		}
		obj.Sections = append(obj.Sections, s)
	}
	return obj, nil
}

func (op *intermediateOp) readField(sec *Reader) (SerializedField, error) {
	var f SerializedField
	id, err := sec.Uint16()
	if err != nil {
		return f, err
	}
	flags, err := sec.Uint8()
	if err != nil {
		return f, err
	}
	tag, err := sec.Uint8()
	if err != nil {
		return f, err
	}
	size, err := sec.Uint32()
	if err != nil {
		return f, err
	}
	p, err := sec.Sub(int(size))
	if err != nil {
		return f, err
	}
	f = SerializedField{
		ID:      FieldID(id),
		Kind:    FieldKind(flags & flagKindMask),
		Array:   flags&flagArray != 0,
		Dynamic: flags&flagDynamic != 0,
		Tag:     PlainTag(tag),
	}

	n := 1
	if f.Array {
		n, err = p.Count(1)
		if err != nil {
			return f, err
		}
		f.Count = n
	}
	switch f.Kind {
	case KindPlain:
		f.Raw, _ = p.Raw(p.Len())
	case KindDataBlock:
		n, err := p.Count(1)
		if err != nil {
			return f, err
		}
		if f.Raw, err = p.Raw(n); err != nil {
			return f, err
		}
	case KindPtr:
		for range n {
			ref, err := op.readRef(&p)
			if err != nil {
				return f, err
			}
			f.Refs = append(f.Refs, ref)
		}
	case KindValue:
		for range n {
			obj, err := op.readObject(&p, 0)
			if err != nil {
				return f, err
			}
			f.Values = append(f.Values, obj)
		}
	default:
		return f, p.errf("field %d has invalid kind %d", id, f.Kind)
	}
	return f, p.expectEnd("field")
}

// Dump renders the object tree as indented text, one field per line.
func (obj *SerializedObject) Dump() string {
	var buf strings.Builder
	obj.dump(&buf, "")
	return buf.String()
}

func (obj *SerializedObject) dump(buf *strings.Builder, indent string) {
	if obj.ID != 0 {
		fmt.Fprintf(buf, "#%d ", obj.ID)
	}
	if obj.Patch {
		buf.WriteString("patch ")
	}
	fmt.Fprintf(buf, "type %d\n", obj.TypeID)
	for _, s := range obj.Sections {
		fmt.Fprintf(buf, "%s  [%d]\n", indent, s.TypeID)
		for _, f := range s.Fields {
			fmt.Fprintf(buf, "%s    %d %s", indent, f.ID, describeFlags(f.flags()))
			if f.Array {
				fmt.Fprintf(buf, " x%d", f.Count)
			}
			switch f.Kind {
			case KindPlain, KindDataBlock:
				fmt.Fprintf(buf, " %s\n", hexstr(f.Raw))
			case KindPtr:
				buf.WriteByte('\n')
				for _, ref := range f.Refs {
					buf.WriteString(indent + "      ")
					if ref.Object != nil {
						ref.Object.dump(buf, indent+"      ")
					} else {
						fmt.Fprintf(buf, "%v\n", ref)
					}
				}
			case KindValue:
				buf.WriteByte('\n')
				for _, v := range f.Values {
					buf.WriteString(indent + "      ")
					v.dump(buf, indent+"      ")
				}
			default:
				buf.WriteByte('\n')
			}
		}
	}
}

func boolFlag(v bool, flag uint8) uint8 {
	if v {
		return flag
	}
	return 0
}
