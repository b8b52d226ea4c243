package rtti

import (
	"encoding/binary"
	"io"
	"math"
)

var le = binary.LittleEndian

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

func appendRaw(buf []byte, chunk []byte) []byte {
	n := len(chunk)
	off, buf := grow(buf, n)
	copy(buf[off:], chunk)
	return buf
}

// Writer is a growable byte buffer that plain traits write into.
//
// Dynamically sized values are written between BeginSized and EndSized, which
// reserves a uint32 prefix and patches it with the total size once the value
// is complete, so a value's size never has to be computed separately from
// the value itself.
type Writer struct {
	Buf []byte

	// Limit is the maximum size of a sized section, including its prefix.
	// Zero means math.MaxUint32.
	Limit uint64
}

var _ io.Writer = (*Writer)(nil)

func (w *Writer) Len() int {
	return len(w.Buf)
}

func (w *Writer) Bytes() []byte {
	return w.Buf
}

func (w *Writer) Reset() {
	w.Buf = w.Buf[:0]
}

func (w *Writer) Grow(n int) (off int) {
	off, w.Buf = grow(w.Buf, n)
	return
}

func (w *Writer) Trim(off int) {
	w.Buf = w.Buf[:off]
}

func (w *Writer) Write(b []byte) (int, error) {
	w.Buf = appendRaw(w.Buf, b)
	return len(b), nil
}

func (w *Writer) WriteByte(v byte) error {
	w.AppendUint8(v)
	return nil
}

func (w *Writer) AppendRaw(b []byte) {
	w.Buf = appendRaw(w.Buf, b)
}

func (w *Writer) AppendString(s string) {
	off := w.Grow(len(s))
	copy(w.Buf[off:], s)
}

func (w *Writer) AppendUint8(v uint8) {
	off := w.Grow(1)
	w.Buf[off] = v
}

func (w *Writer) AppendUint16(v uint16) {
	off := w.Grow(2)
	le.PutUint16(w.Buf[off:], v)
}

func (w *Writer) AppendUint32(v uint32) {
	off := w.Grow(4)
	le.PutUint32(w.Buf[off:], v)
}

func (w *Writer) AppendUint64(v uint64) {
	off := w.Grow(8)
	le.PutUint64(w.Buf[off:], v)
}

// AppendCount writes a uint32 element count.
func (w *Writer) AppendCount(n int) error {
	if uint64(n) > math.MaxUint32 {
		return dataErrf(nil, w.Len(), ErrDataOverflow, "count %d does not fit into uint32", n)
	}
	w.AppendUint32(uint32(n))
	return nil
}

// BeginSized reserves a uint32 size prefix and returns its offset.
func (w *Writer) BeginSized() int {
	return w.Grow(4)
}

// EndSized patches the prefix reserved by BeginSized with the number of bytes
// written since, including the prefix itself.
func (w *Writer) EndSized(off int) error {
	size := uint64(len(w.Buf) - off)
	if limit := w.limit(); size > limit {
		return dataErrf(nil, off, ErrDataOverflow, "value of %d bytes exceeds the limit of %d bytes", size, limit)
	}
	le.PutUint32(w.Buf[off:], uint32(size))
	return nil
}

func (w *Writer) limit() uint64 {
	if w.Limit == 0 || w.Limit > math.MaxUint32 {
		return math.MaxUint32
	}
	return w.Limit
}

// Reader decodes values from a byte slice, reporting truncation as
// DataError with ErrCorrupt.
type Reader struct {
	Orig []byte
	Buf  []byte
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf, buf}
}

func makeReader(buf []byte) Reader {
	return Reader{buf, buf}
}

func (r *Reader) Off() int {
	return len(r.Orig) - len(r.Buf)
}

func (r *Reader) Len() int {
	return len(r.Buf)
}

func (r *Reader) Raw(n int) ([]byte, error) {
	if n < 0 || len(r.Buf) < n {
		return nil, dataErrf(r.Orig, r.Off(), nil, "not enough data: %d bytes remaining, %d wanted", len(r.Buf), n)
	}
	v := r.Buf[:n]
	r.Buf = r.Buf[n:]
	return v, nil
}

// Sub returns a reader over the next n bytes and advances past them. Offsets
// reported by the sub-reader are relative to the same original buffer.
func (r *Reader) Sub(n int) (Reader, error) {
	start := r.Off()
	b, err := r.Raw(n)
	if err != nil {
		return Reader{}, err
	}
	return Reader{r.Orig[:start+n], b}, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.Raw(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.Raw(2)
	if err != nil {
		return 0, err
	}
	return le.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.Raw(4)
	if err != nil {
		return 0, err
	}
	return le.Uint32(b), nil
}

func (r *Reader) Uint64() (uint64, error) {
	b, err := r.Raw(8)
	if err != nil {
		return 0, err
	}
	return le.Uint64(b), nil
}

// Count reads a uint32 element count and sanity-checks it against the
// remaining data, assuming each element takes at least minElemSize bytes.
func (r *Reader) Count(minElemSize int) (int, error) {
	off := r.Off()
	n, err := r.Uint32()
	if err != nil {
		return 0, err
	}
	if minElemSize > 0 && uint64(n)*uint64(minElemSize) > uint64(len(r.Buf)) {
		return 0, dataErrf(r.Orig, off, nil, "count %d exceeds remaining %d bytes", n, len(r.Buf))
	}
	return int(n), nil
}

// Sized reads a uint32 total-size prefix written by Writer.EndSized and
// returns a reader over the payload that follows it.
func (r *Reader) Sized() (Reader, error) {
	off := r.Off()
	size, err := r.Uint32()
	if err != nil {
		return Reader{}, err
	}
	if size < 4 {
		return Reader{}, dataErrf(r.Orig, off, nil, "invalid size prefix %d", size)
	}
	return r.Sub(int(size - 4))
}

func (r *Reader) errf(format string, args ...any) error {
	return dataErrf(r.Orig, r.Off(), nil, format, args...)
}

// expectEnd fails if the reader has unconsumed bytes.
func (r *Reader) expectEnd(what string) error {
	if len(r.Buf) != 0 {
		return r.errf("%d trailing bytes after %s", len(r.Buf), what)
	}
	return nil
}
