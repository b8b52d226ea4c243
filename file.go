package rtti

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/andreyvit/rtti/mmap"
)

// FileOptions configure file streams.
type FileOptions struct {
	Options

	// Checksum appends an xxhash64 to every record, verified on decode.
	Checksum bool

	// Compress stores every record as a zstd frame.
	Compress bool

	// Sync makes WriteFile flush the file to stable storage before closing it.
	Sync bool
}

func (fo *FileOptions) header() Header {
	if fo == nil {
		return Header{}
	}
	return Header{Version: FormatVersion, Checksum: fo.Checksum, Compressed: fo.Compress}
}

func (fo *FileOptions) options() *Options {
	if fo == nil {
		return (*Options)(nil).resolved()
	}
	return fo.Options.resolved()
}

var (
	zstdEncoder = sync.OnceValue(func() *zstd.Encoder {
		return must(zstd.NewWriter(nil))
	})
	zstdDecoder = sync.OnceValue(func() *zstd.Decoder {
		return must(zstd.NewReader(nil))
	})
)

// FileEncoder writes a stream of records to a file. The stream starts with a
// header; every Encode call appends one record holding an object graph.
//
// Plain records are written through a fixed scratch chunk of
// Options.ChunkSize bytes, seeking back to fill in length prefixes, so
// records of any size are written without buffering them in memory. With
// Checksum or Compress, each record is encoded in memory and then framed:
//
//	frameLen:u32 frame [xxhash64:u64]
//
// A FileEncoder is not safe for concurrent use. After a failed Encode, the
// stream is left in an undefined state and further calls fail.
type FileEncoder struct {
	w      io.WriteSeeker
	opt    *Options
	header Header
	chunk  []byte
	err    error
}

func NewFileEncoder(w io.WriteSeeker, opt *FileOptions) (*FileEncoder, error) {
	e := &FileEncoder{
		w:      w,
		opt:    opt.options(),
		header: opt.header(),
	}
	if _, err := w.Write(e.header.bytes()); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *FileEncoder) Encode(obj Reflectable) error {
	if e.err != nil {
		return e.err
	}
	if err := checkRoot(obj); err != nil {
		return err
	}
	var err error
	if e.header.framed() {
		err = e.encodeFramed(obj)
	} else {
		err = e.encodeDirect(obj)
	}
	if err != nil {
		e.err = fmt.Errorf("file encoder failed earlier: %w", err)
	}
	return err
}

func (e *FileEncoder) encodeDirect(obj Reflectable) error {
	start, err := e.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if e.chunk == nil {
		e.chunk = make([]byte, e.opt.ChunkSize)
	}
	sink := &fileSink{w: e.w, start: start, chunk: e.chunk}
	cw, err := newChunkWriter(sink)
	if err != nil {
		return err
	}
	if err := newEncodeOp(cw, e.opt).writeRef(obj); err != nil {
		return err
	}
	return cw.finish()
}

func (e *FileEncoder) encodeFramed(obj Reflectable) error {
	sink := &memorySink{alloc: goAllocator, initial: e.opt.ChunkSize}
	cw, err := newChunkWriter(sink)
	if err != nil {
		return err
	}
	if err := newEncodeOp(cw, e.opt).writeRef(obj); err != nil {
		return err
	}
	if err := cw.finish(); err != nil {
		return err
	}
	frame := sink.result()
	if e.header.Compressed {
		frame = zstdEncoder().EncodeAll(frame, nil)
	}
	if uint64(len(frame)) > math.MaxUint32 {
		return dataErrf(nil, 0, ErrDataOverflow, "record frame of %d bytes", len(frame))
	}

	var w Writer
	w.AppendUint32(uint32(len(frame)))
	if _, err := e.w.Write(w.Buf); err != nil {
		return err
	}
	if _, err := e.w.Write(frame); err != nil {
		return err
	}
	if e.header.Checksum {
		w.Reset()
		w.AppendUint64(xxhash.Sum64(frame))
		if _, err := e.w.Write(w.Buf); err != nil {
			return err
		}
	}
	return nil
}

// fileSink writes chunks straight to the file and patches length prefixes
// by seeking back.
type fileSink struct {
	w     io.WriteSeeker
	start int64
	chunk []byte
}

func (fs *fileSink) Flush(chunk []byte) ([]byte, error) {
	if len(chunk) > 0 {
		if _, err := fs.w.Write(chunk); err != nil {
			return nil, err
		}
	}
	return fs.chunk[:0], nil
}

func (fs *fileSink) Patch(off int64, b []byte) error {
	cur, err := fs.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := fs.w.Seek(fs.start+off, io.SeekStart); err != nil {
		return err
	}
	if _, err := fs.w.Write(b); err != nil {
		return err
	}
	_, err = fs.w.Seek(cur, io.SeekStart)
	return err
}

// FileDecoder reads records written by FileEncoder. Decode and Skip return
// io.EOF after the last record.
type FileDecoder struct {
	r      io.ReadSeeker
	reg    *Registry
	opt    *Options
	header Header
	end    int64
	buf    []byte
}

func NewFileDecoder(r io.ReadSeeker, reg *Registry, opt *Options) (*FileDecoder, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	var head [HeaderSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, dataErrf(head[:], 0, truncated(err), "cannot read stream header")
	}
	h, err := ParseHeader(head[:])
	if err != nil {
		return nil, err
	}
	return &FileDecoder{
		r:      r,
		reg:    reg,
		opt:    opt.resolved(),
		header: h,
		end:    end,
	}, nil
}

func (d *FileDecoder) Header() Header {
	return d.header
}

func (d *FileDecoder) Decode() (Reflectable, error) {
	rec, err := d.readRecord()
	if err != nil {
		return nil, err
	}
	r := makeReader(rec)
	obj, err := decodeRecord(&r, d.reg, d.opt)
	if err != nil {
		return nil, err
	}
	return obj, r.expectEnd("record")
}

// Skip moves past the next record without decoding it.
func (d *FileDecoder) Skip() error {
	var size int64
	if d.header.framed() {
		head, err := d.readHead(4)
		if err != nil {
			return err
		}
		size = int64(le.Uint32(head))
		if d.header.Checksum {
			size += 8
		}
	} else {
		head, err := d.readHead(recordHeadSize)
		if err != nil {
			return err
		}
		size, err = recordBodySize(head)
		if err != nil {
			return err
		}
	}
	pos, err := d.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos+size > d.end {
		return dataErrf(nil, int(pos), nil, "truncated record: %d bytes wanted, %d remaining", size, d.end-pos)
	}
	_, err = d.r.Seek(size, io.SeekCurrent)
	return err
}

// tag:u8 id:u32 typeID:u32 size:u32
const recordHeadSize = 13

func recordBodySize(head []byte) (int64, error) {
	if head[0] != refInline {
		return 0, dataErrf(head, 0, nil, "record does not start with an inline object")
	}
	return int64(le.Uint32(head[9:])), nil
}

func (d *FileDecoder) readHead(n int) ([]byte, error) {
	d.buf = ensureCapacity(d.buf[:0], n)[:n]
	k, err := io.ReadFull(d.r, d.buf)
	if err == io.EOF && k == 0 {
		return nil, io.EOF
	} else if err != nil {
		return nil, dataErrf(d.buf[:k], 0, truncated(err), "truncated record header")
	}
	return d.buf, nil
}

func (d *FileDecoder) readMore(n int64) ([]byte, error) {
	pos, err := d.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	if pos+n > d.end {
		return nil, dataErrf(nil, int(pos), nil, "truncated record: %d bytes wanted, %d remaining", n, d.end-pos)
	}
	off := len(d.buf)
	d.buf = ensureCapacity(d.buf, off+int(n))[:off+int(n)]
	if _, err := io.ReadFull(d.r, d.buf[off:]); err != nil {
		return nil, dataErrf(nil, int(pos), truncated(err), "truncated record")
	}
	return d.buf, nil
}

// readRecord returns the bytes of the next record, unframed.
func (d *FileDecoder) readRecord() ([]byte, error) {
	if !d.header.framed() {
		head, err := d.readHead(recordHeadSize)
		if err != nil {
			return nil, err
		}
		size, err := recordBodySize(head)
		if err != nil {
			return nil, err
		}
		return d.readMore(size)
	}

	head, err := d.readHead(4)
	if err != nil {
		return nil, err
	}
	size := int64(le.Uint32(head))
	if d.header.Checksum {
		size += 8
	}
	buf, err := d.readMore(size)
	if err != nil {
		return nil, err
	}
	r := makeReader(buf)
	return unframe(&r, d.header)
}

// unframe reads one frame and returns the record inside it.
func unframe(r *Reader, h Header) ([]byte, error) {
	off := r.Off()
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	frame, err := r.Raw(int(n))
	if err != nil {
		return nil, err
	}
	if h.Checksum {
		sum, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		if actual := xxhash.Sum64(frame); actual != sum {
			return nil, dataErrf(r.Orig, off, ErrChecksum, "record checksum %016x, stored %016x", actual, sum)
		}
	}
	if h.Compressed {
		rec, err := zstdDecoder().DecodeAll(frame, nil)
		if err != nil {
			return nil, dataErrf(r.Orig, off, nil, "cannot decompress record: %v", err)
		}
		return rec, nil
	}
	return frame, nil
}

func truncated(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ErrCorrupt
	}
	return err
}

// WriteFile writes a stream holding one record per object to path.
func WriteFile(path string, opt *FileOptions, objs ...Reflectable) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	enc, err := NewFileEncoder(f, opt)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if err := enc.Encode(obj); err != nil {
			return err
		}
	}
	if opt != nil && opt.Sync {
		return mmap.Fdatasync(f)
	}
	return nil
}

// ReadFile decodes every record of the stream at path. The file is memory
// mapped while decoding; decoded objects do not reference the mapping.
func ReadFile(path string, reg *Registry, opt *Options) ([]Reflectable, error) {
	m, err := mmap.Open(path, mmap.SequentialAccess)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return decodeStream(m.Bytes(), reg, opt.resolved())
}

func decodeStream(data []byte, reg *Registry, opt *Options) ([]Reflectable, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	r := makeReader(data)
	_, _ = r.Raw(HeaderSize)

	var result []Reflectable
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
		obj, err := decodeRecord(rr, reg, opt)
		if err != nil {
			return nil, err
		}
		if h.framed() {
			if err := rr.expectEnd("record"); err != nil {
				return nil, err
			}
		}
		result = append(result, obj)
	}
	return result, nil
}
