package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/andreyvit/rtti"
	"github.com/klauspost/compress/zstd"
)

const (
	valueFormatVer1      = 1
	valueFormatVerLatest = valueFormatVer1
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3
	vfCompressionBit0

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfZstd          = vfCompressionBit0
	vfSupportedMask = (vfVer1 | vfZstd)

	fingerprintSize    = 8
	minValueSize       = 3 + fingerprintSize
	maxValueHeaderSize = binary.MaxVarintLen64*2 + fingerprintSize
)

var (
	zstdEncoder = sync.OnceValue(func() *zstd.Encoder {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(err)
		}
		return enc
	})
	zstdDecoder = sync.OnceValue(func() *zstd.Decoder {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
		return dec
	})
)

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

// value is a stored object graph:
//
//	flags:uvarint typeID:uvarint fingerprint:u64 data
//
// where data is an rtti stream, zstd-compressed if vfZstd is set.
type value struct {
	Flags       valueFlags
	TypeID      rtti.TypeID
	Fingerprint uint64
	Data        []byte

	size int
}

// Meta describes a stored value without decoding it.
type Meta struct {
	TypeID      rtti.TypeID
	Fingerprint uint64
	Compressed  bool
	Size        int
}

func (v value) Meta() Meta {
	return Meta{
		TypeID:      v.TypeID,
		Fingerprint: v.Fingerprint,
		Compressed:  v.Flags&vfZstd != 0,
		Size:        v.size,
	}
}

func encodeValue(flags valueFlags, typ *rtti.Type, stream []byte) []byte {
	if (flags &^ vfSupportedMask) != 0 {
		panic(fmt.Errorf("invalid flags %x", flags))
	}
	if flags&vfZstd != 0 {
		stream = zstdEncoder().EncodeAll(stream, nil)
	}
	buf := make([]byte, 0, maxValueHeaderSize+len(stream))
	buf = binary.AppendUvarint(buf, uint64(flags))
	buf = binary.AppendUvarint(buf, uint64(typ.ID()))
	buf = binary.LittleEndian.AppendUint64(buf, typ.Fingerprint())
	return append(buf, stream...)
}

// decodeValue parses the header; Data aliases buf.
func decodeValue(buf []byte) (value, error) {
	var v value
	if len(buf) < minValueSize {
		return v, fmt.Errorf("%w: value too short: %d bytes", rtti.ErrCorrupt, len(buf))
	}

	var off int
	flags, n := binary.Uvarint(buf)
	if n <= 0 {
		return v, fmt.Errorf("%w: invalid flags", rtti.ErrCorrupt)
	}
	off += n
	v.Flags = valueFlags(flags)
	if v.Flags.ver() != valueFormatVerLatest {
		return v, fmt.Errorf("%w: unsupported value format version %d", rtti.ErrCorrupt, v.Flags.ver())
	}
	if (v.Flags &^ vfSupportedMask) != 0 {
		return v, fmt.Errorf("%w: unsupported value flags %x", rtti.ErrCorrupt, uint64(v.Flags))
	}

	typeID, n := binary.Uvarint(buf[off:])
	if n <= 0 || typeID == 0 || typeID > 0xFFFFFFFF {
		return v, fmt.Errorf("%w: invalid type id", rtti.ErrCorrupt)
	}
	off += n
	v.TypeID = rtti.TypeID(typeID)

	if len(buf)-off < fingerprintSize {
		return v, fmt.Errorf("%w: missing fingerprint", rtti.ErrCorrupt)
	}
	v.Fingerprint = binary.LittleEndian.Uint64(buf[off:])
	off += fingerprintSize

	v.Data = buf[off:]
	return v, nil
}

// stream returns the rtti stream, decompressing it if needed.
func (v value) stream() ([]byte, error) {
	if v.Flags&vfZstd == 0 {
		return v.Data, nil
	}
	data, err := zstdDecoder().DecodeAll(v.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", rtti.ErrCorrupt, err)
	}
	return data, nil
}
