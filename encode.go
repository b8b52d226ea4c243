package rtti

import (
	"fmt"
	"math"
	"reflect"
)

const (
	refNil    = 0
	refSeen   = 1
	refInline = 2

	// typeID:u32 size:u32
	objectHeaderSize = 8

	// id:u16 flags:u8 tag:u8 size:u32
	fieldHeaderSize = 8
)

type encodeOp struct {
	w       *chunkWriter
	opt     *Options
	ids     map[Reflectable]uint32
	scratch Writer
	depth   int
}

func newEncodeOp(w *chunkWriter, opt *Options) *encodeOp {
	return &encodeOp{
		w:   w,
		opt: opt,
		ids: make(map[Reflectable]uint32),
	}
}

// EncodeTo writes a stream header followed by obj and everything it
// references into sink.
func EncodeTo(sink Sink, obj Reflectable, opt *Options) error {
	if err := checkRoot(obj); err != nil {
		return err
	}
	cw, err := newChunkWriter(sink)
	if err != nil {
		return err
	}
	if err := cw.write(Header{}.bytes()); err != nil {
		return err
	}
	if err := newEncodeOp(cw, opt.resolved()).writeRef(obj); err != nil {
		return err
	}
	return cw.finish()
}

func checkRoot(obj Reflectable) error {
	if obj == nil {
		return fmt.Errorf("%w: cannot encode nil", ErrBadType)
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Pointer {
		return fmt.Errorf("%w: cannot encode %T, reflectable objects must be pointers", ErrBadType, obj)
	}
	if rv.IsNil() {
		return fmt.Errorf("%w: cannot encode nil %T", ErrBadType, obj)
	}
	if obj.RTTI() == nil {
		return fmt.Errorf("%w: %T has no type", ErrBadType, obj)
	}
	return nil
}

// writeRef writes a reference payload. The first reference to an object
// carries the object inline; later ones refer back to its id.
func (op *encodeOp) writeRef(obj Reflectable) error {
	if obj == nil {
		return op.w.uint8(refNil)
	}
	if id, ok := op.ids[obj]; ok {
		if err := op.w.uint8(refSeen); err != nil {
			return err
		}
		return op.w.uint32(id)
	}
	id := uint32(len(op.ids) + 1)
	op.ids[obj] = id
	if err := op.w.uint8(refInline); err != nil {
		return err
	}
	if err := op.w.uint32(id); err != nil {
		return err
	}
	return op.writeObject(obj)
}

// writeObject writes an object block: the type id followed by one section
// per level of the type hierarchy, most derived first.
func (op *encodeOp) writeObject(obj Reflectable) error {
	typ := obj.RTTI()
	if typ == nil {
		return fmt.Errorf("%w: %T has no type", ErrBadType, obj)
	}
	if op.depth >= op.opt.MaxDepth {
		return fmt.Errorf("%w: %v nested deeper than %d levels", ErrTooDeep, typ, op.opt.MaxDepth)
	}
	op.depth++
	defer func() { op.depth-- }()

	if err := op.w.uint32(uint32(typ.id)); err != nil {
		return err
	}
	sizeOff, err := op.w.reserve32()
	if err != nil {
		return err
	}

	for _, lvl := range typ.levels {
		if hook := lvl.typ.onSerializationStarted; hook != nil {
			hook(lvl.project(obj))
		}
	}
	for _, lvl := range typ.levels {
		if err := op.writeSection(lvl.typ, lvl.project(obj)); err != nil {
			return err
		}
	}
	for _, lvl := range typ.levels {
		if hook := lvl.typ.onSerializationEnded; hook != nil {
			hook(lvl.project(obj))
		}
	}
	return op.endSized(sizeOff, typ.name)
}

func (op *encodeOp) writeSection(typ *Type, recv any) error {
	if err := op.w.uint32(uint32(typ.id)); err != nil {
		return err
	}
	sizeOff, err := op.w.reserve32()
	if err != nil {
		return err
	}
	for _, f := range typ.fields {
		if err := op.writeField(f, recv); err != nil {
			return fieldErrf(typ, f.Name(), -1, err, "")
		}
	}
	return op.endSized(sizeOff, typ.name)
}

func (op *encodeOp) writeField(f Field, recv any) error {
	if err := op.w.room(fieldHeaderSize); err != nil {
		return err
	}
	if err := op.w.uint16(uint16(f.ID())); err != nil {
		return err
	}
	if err := op.w.uint8(fieldFlags(f)); err != nil {
		return err
	}
	if err := op.w.uint8(uint8(f.Tag())); err != nil {
		return err
	}
	sizeOff, err := op.w.reserve32()
	if err != nil {
		return err
	}
	if err := f.encode(op, recv); err != nil {
		return err
	}
	return op.endSized(sizeOff, f.Name())
}

// endSized patches the uint32 at off with the number of bytes written after it.
func (op *encodeOp) endSized(off int64, what string) error {
	size := uint64(op.w.pos() - off - 4)
	if size > op.opt.MaxFieldSize {
		return dataErrf(nil, int(off), ErrDataOverflow, "%s of %d bytes exceeds the limit of %d bytes", what, size, op.opt.MaxFieldSize)
	}
	return op.w.patch32(off, uint32(size))
}

func (op *encodeOp) writeCount(n int) error {
	if uint64(n) > math.MaxUint32 {
		return dataErrf(nil, int(op.w.pos()), ErrDataOverflow, "count %d does not fit into uint32", n)
	}
	return op.w.uint32(uint32(n))
}

func appendPlain[V any](op *encodeOp, trait Trait[V], v V) error {
	w := &op.scratch
	w.Reset()
	w.Limit = op.opt.MaxFieldSize
	if err := trait.Append(w, v); err != nil {
		return err
	}
	return op.w.write(w.Buf)
}
