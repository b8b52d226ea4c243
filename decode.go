package rtti

import (
	"fmt"
)

type decodeOp struct {
	reg     *Registry
	opt     *Options
	objects map[uint32]Reflectable
	cc      *Construction
	depth   int
}

func newDecodeOp(reg *Registry, opt *Options) *decodeOp {
	return &decodeOp{
		reg:     reg,
		opt:     opt,
		objects: make(map[uint32]Reflectable),
	}
}

// Decode decodes a stream produced by EncodeTo or MemorySerializer.Encode.
func Decode(data []byte, reg *Registry, opt *Options) (Reflectable, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if h.framed() {
		return nil, dataErrf(data, 0, ErrUnsupportedFormat, "framed records must be read with a FileDecoder")
	}
	r := makeReader(data)
	if _, err := r.Raw(HeaderSize); err != nil {
		return nil, err
	}
	obj, err := decodeRecord(&r, reg, opt.resolved())
	if err != nil {
		return nil, err
	}
	return obj, r.expectEnd("record")
}

func decodeRecord(r *Reader, reg *Registry, opt *Options) (Reflectable, error) {
	off := r.Off()
	obj, err := newDecodeOp(reg, opt).readRef(r)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, dataErrf(r.Orig, off, nil, "nil root object")
	}
	return obj, nil
}

func (op *decodeOp) readRef(r *Reader) (Reflectable, error) {
	off := r.Off()
	tag, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case refNil:
		return nil, nil
	case refSeen:
		id, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		obj := op.objects[id]
		if obj == nil {
			return nil, dataErrf(r.Orig, off, nil, "reference to undefined object %d", id)
		}
		return obj, nil
	case refInline:
		id, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		if id == 0 || op.objects[id] != nil {
			return nil, dataErrf(r.Orig, off, nil, "invalid or duplicate object id %d", id)
		}
		return op.readObject(r, id, nil)
	default:
		return nil, dataErrf(r.Orig, off, nil, "invalid reference tag %d", tag)
	}
}

func (op *decodeOp) readObjectInto(r *Reader, into Reflectable) error {
	_, err := op.readObject(r, 0, into)
	return err
}

// readObject decodes an object block. With a non-zero id, the object is
// registered before its fields are decoded so that cyclic references to it
// resolve. With into, fields are decoded into an existing value instead of
// a new object.
func (op *decodeOp) readObject(r *Reader, id uint32, into Reflectable) (Reflectable, error) {
	off := r.Off()
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

	typ := op.reg.TypeByID(TypeID(typeID))
	if typ == nil {
		return nil, dataErrf(r.Orig, off, &UnknownTypeError{TypeID(typeID)}, "cannot decode object")
	}
	var obj Reflectable
	if into != nil {
		if want := into.RTTI(); typ != want {
			return nil, dataErrf(r.Orig, off, ErrBadType, "got %v, wanted %v", typ, want)
		}
		obj = into
	} else {
		obj, err = typ.New()
		if err != nil {
			return nil, dataErrf(r.Orig, off, err, "cannot decode object")
		}
	}
	if id != 0 {
		op.objects[id] = obj
	}

	if op.depth >= op.opt.MaxDepth {
		return nil, dataErrf(r.Orig, off, nil, "objects nested deeper than %d levels", op.opt.MaxDepth)
	}
	cc := &Construction{Object: obj, Depth: op.depth, op: op}
	prev := op.cc
	op.cc = cc
	op.depth++
	defer func() {
		op.cc = prev
		op.depth--
	}()

	for _, lvl := range typ.levels {
		if hook := lvl.typ.onDeserializationStarted; hook != nil {
			hook(lvl.project(obj), cc)
		}
	}
	for body.Len() > 0 {
		secOff := body.Off()
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
		lvl, ok := typ.levelByID(TypeID(levelID))
		if !ok {
			if op.opt.Verbose {
				op.opt.Logger.Debug("rtti: skipping unknown section", "type", typ.name, "level", levelID, "off", secOff, "size", secSize)
			}
			continue
		}
		if err := op.readFields(&sec, lvl.typ, lvl.project(obj)); err != nil {
			return nil, err
		}
	}
	for _, lvl := range typ.levels {
		if hook := lvl.typ.onDeserializationEnded; hook != nil {
			if err := hook(lvl.project(obj), cc); err != nil {
				return nil, fmt.Errorf("%v: %w", lvl.typ, err)
			}
		}
	}
	cc.Scratch.Reset()
	return obj, nil
}

func (op *decodeOp) readFields(sec *Reader, typ *Type, recv any) error {
	for sec.Len() > 0 {
		off := sec.Off()
		id, err := sec.Uint16()
		if err != nil {
			return err
		}
		flags, err := sec.Uint8()
		if err != nil {
			return err
		}
		if _, err := sec.Uint8(); err != nil {
			return err
		}
		size, err := sec.Uint32()
		if err != nil {
			return err
		}
		payload, err := sec.Sub(int(size))
		if err != nil {
			return err
		}

		f := typ.fieldsByID[FieldID(id)]
		if f == nil {
			if op.opt.Verbose {
				op.opt.Logger.Debug("rtti: skipping unknown field", "type", typ.name, "field", id, "off", off, "size", size)
			}
			continue
		}
		if want := fieldFlags(f); flags != want {
			return dataErrf(sec.Orig, off, ErrBadType, "field %v encoded as %s, defined as %s", f.Name(), describeFlags(flags), describeFlags(want))
		}
		if err := f.decode(op, &payload, recv); err != nil {
			return fieldErrf(typ, f.Name(), -1, err, "")
		}
		if err := payload.expectEnd(f.Name()); err != nil {
			return err
		}
	}
	return nil
}

func describeFlags(flags uint8) string {
	s := FieldKind(flags & flagKindMask).String()
	if flags&flagArray != 0 {
		s += " array"
	}
	if flags&flagDynamic != 0 {
		s += " (dynamic)"
	}
	return s
}
