package rtti

import (
	"fmt"
)

const (
	// Magic starts every encoded stream: "RTTI" in little-endian order.
	Magic uint32 = 0x49545452

	FormatVersion = 1

	HeaderSize = 8
)

const (
	headerLittleEndian = 1 << 0
	headerChecksum     = 1 << 1
	headerCompressed   = 1 << 2
	headerKnownFlags   = headerLittleEndian | headerChecksum | headerCompressed
)

// Header describes the encoding of a stream.
//
// Layout: magic:u32 version:u8 flags:u8 reserved:u16.
type Header struct {
	Version uint8

	// Checksum means each record is framed and followed by its xxhash64.
	Checksum bool

	// Compressed means each record is framed and zstd-compressed.
	Compressed bool
}

func (h Header) framed() bool {
	return h.Checksum || h.Compressed
}

func (h Header) appendTo(buf []byte) []byte {
	flags := uint8(headerLittleEndian)
	if h.Checksum {
		flags |= headerChecksum
	}
	if h.Compressed {
		flags |= headerCompressed
	}
	buf = le.AppendUint32(buf, Magic)
	buf = append(buf, FormatVersion, flags)
	buf = le.AppendUint16(buf, 0)
	return buf
}

func (h Header) bytes() []byte {
	return h.appendTo(make([]byte, 0, HeaderSize))
}

// ParseHeader decodes and validates a stream header.
func ParseHeader(data []byte) (Header, error) {
	r := makeReader(data)
	magic, err := r.Uint32()
	if err != nil {
		return Header{}, err
	}
	if magic != Magic {
		return Header{}, dataErrf(data, 0, ErrUnsupportedFormat, "invalid magic %08x", magic)
	}
	ver, err := r.Uint8()
	if err != nil {
		return Header{}, err
	}
	if ver == 0 || ver > FormatVersion {
		return Header{}, dataErrf(data, 4, ErrUnsupportedFormat, "unsupported format version %d", ver)
	}
	flags, err := r.Uint8()
	if err != nil {
		return Header{}, err
	}
	if flags&headerLittleEndian == 0 {
		return Header{}, dataErrf(data, 5, ErrUnsupportedFormat, "big-endian streams are not supported")
	}
	if flags&^headerKnownFlags != 0 {
		return Header{}, dataErrf(data, 5, ErrUnsupportedFormat, "unknown header flags %02x", flags)
	}
	if _, err := r.Uint16(); err != nil {
		return Header{}, err
	}
	return Header{
		Version:    ver,
		Checksum:   flags&headerChecksum != 0,
		Compressed: flags&headerCompressed != 0,
	}, nil
}

func (h Header) String() string {
	return fmt.Sprintf("v%d checksum=%v compressed=%v", h.Version, h.Checksum, h.Compressed)
}
