package rtti

import (
	"fmt"
)

// Sink receives encoded data in chunks.
//
// The encoder fills the chunk returned by the previous Flush call (the first
// call receives a nil chunk) and hands it back once it is full or the record
// is complete. Flush must consume the data and return the next chunk to fill,
// which may reuse the same memory and must have a capacity of at least
// MinChunkSize.
//
// Length prefixes are written before the data they describe is known, so the
// encoder may have to rewrite bytes that were already flushed: Patch
// overwrites len(b) bytes at the given offset from the start of the record.
type Sink interface {
	Flush(chunk []byte) ([]byte, error)
	Patch(off int64, b []byte) error
}

// chunkWriter writes a stream into sink-provided chunks and tracks the
// stream offset of the current chunk.
type chunkWriter struct {
	sink Sink
	buf  []byte
	base int64
}

func newChunkWriter(sink Sink) (*chunkWriter, error) {
	cw := &chunkWriter{sink: sink}
	buf, err := sink.Flush(nil)
	if err != nil {
		return nil, err
	}
	if err := checkChunk(buf); err != nil {
		return nil, err
	}
	cw.buf = buf[:0]
	return cw, nil
}

func checkChunk(buf []byte) error {
	if cap(buf) < MinChunkSize {
		return fmt.Errorf("sink returned a chunk of %d bytes, need at least %d", cap(buf), MinChunkSize)
	}
	return nil
}

func (cw *chunkWriter) pos() int64 {
	return cw.base + int64(len(cw.buf))
}

func (cw *chunkWriter) flush() error {
	n := len(cw.buf)
	next, err := cw.sink.Flush(cw.buf)
	if err != nil {
		return err
	}
	if err := checkChunk(next); err != nil {
		return err
	}
	cw.base += int64(n)
	cw.buf = next[:0]
	return nil
}

// room makes sure that n contiguous bytes (n <= MinChunkSize) fit into the
// current chunk.
func (cw *chunkWriter) room(n int) error {
	if cap(cw.buf)-len(cw.buf) < n {
		return cw.flush()
	}
	return nil
}

func (cw *chunkWriter) write(b []byte) error {
	for len(b) > 0 {
		if len(cw.buf) == cap(cw.buf) {
			if err := cw.flush(); err != nil {
				return err
			}
		}
		n := copy(cw.buf[len(cw.buf):cap(cw.buf)], b)
		cw.buf = cw.buf[:len(cw.buf)+n]
		b = b[n:]
	}
	return nil
}

func (cw *chunkWriter) uint8(v uint8) error {
	if err := cw.room(1); err != nil {
		return err
	}
	cw.buf = append(cw.buf, v)
	return nil
}

func (cw *chunkWriter) uint16(v uint16) error {
	if err := cw.room(2); err != nil {
		return err
	}
	cw.buf = le.AppendUint16(cw.buf, v)
	return nil
}

func (cw *chunkWriter) uint32(v uint32) error {
	if err := cw.room(4); err != nil {
		return err
	}
	cw.buf = le.AppendUint32(cw.buf, v)
	return nil
}

// reserve32 writes a placeholder uint32 and returns its stream offset.
func (cw *chunkWriter) reserve32() (int64, error) {
	if err := cw.room(4); err != nil {
		return 0, err
	}
	off := cw.pos()
	cw.buf = append(cw.buf, 0, 0, 0, 0)
	return off, nil
}

func (cw *chunkWriter) patch32(off int64, v uint32) error {
	if off >= cw.base {
		le.PutUint32(cw.buf[off-cw.base:], v)
		return nil
	}
	var b [4]byte
	le.PutUint32(b[:], v)
	return cw.sink.Patch(off, b[:])
}

// finish hands the last partial chunk to the sink.
func (cw *chunkWriter) finish() error {
	if len(cw.buf) == 0 {
		return nil
	}
	n := len(cw.buf)
	next, err := cw.sink.Flush(cw.buf)
	if err != nil {
		return err
	}
	cw.base += int64(n)
	cw.buf = next[:0]
	return nil
}
