package rtti

import (
	"bytes"
	"unicode/utf16"
	"unicode/utf8"
)

// String encodings recorded in front of string payloads.
const (
	encodingUTF8    = 0
	encodingUTF16LE = 1
)

var (
	// String encodes a string as UTF-8 bytes.
	String Trait[string] = stringTrait{encodingUTF8}

	// WString encodes a string as UTF-16LE code units, for data shared with
	// wide-character consumers. Both String and WString decode either
	// encoding, so a field can switch between them.
	WString Trait[string] = stringTrait{encodingUTF16LE}

	// Bytes encodes a byte slice.
	Bytes Trait[[]byte] = bytesTrait{}
)

// size:u32 encoding:u8 data
type stringTrait struct {
	encoding uint8
}

func (stringTrait) Size() int { return Dynamic }

func (t stringTrait) PlainTag() PlainTag {
	if t.encoding == encodingUTF16LE {
		return TagWString
	}
	return TagString
}

func (t stringTrait) Append(w *Writer, v string) error {
	off := w.BeginSized()
	w.AppendUint8(t.encoding)
	switch t.encoding {
	case encodingUTF16LE:
		for _, u := range utf16.Encode([]rune(v)) {
			w.AppendUint16(u)
		}
	default:
		w.AppendString(v)
	}
	return w.EndSized(off)
}

func (stringTrait) Read(r *Reader) (string, error) {
	p, err := r.Sized()
	if err != nil {
		return "", err
	}
	enc, err := p.Uint8()
	if err != nil {
		return "", err
	}
	return decodeString(&p, enc)
}

func decodeString(p *Reader, enc uint8) (string, error) {
	switch enc {
	case encodingUTF8:
		b, _ := p.Raw(p.Len())
		if !utf8.Valid(b) {
			return "", p.errf("invalid UTF-8 string")
		}
		return string(b), nil
	case encodingUTF16LE:
		if p.Len()%2 != 0 {
			return "", p.errf("odd length UTF-16 string")
		}
		units := make([]uint16, p.Len()/2)
		for i := range units {
			units[i], _ = p.Uint16()
		}
		return string(utf16.Decode(units)), nil
	default:
		return "", p.errf("unknown string encoding %d", enc)
	}
}

// size:u32 data
type bytesTrait struct{}

func (bytesTrait) Size() int { return Dynamic }

func (bytesTrait) PlainTag() PlainTag { return TagBytes }

func (bytesTrait) Append(w *Writer, v []byte) error {
	off := w.BeginSized()
	w.AppendRaw(v)
	return w.EndSized(off)
}

func (bytesTrait) Read(r *Reader) ([]byte, error) {
	p, err := r.Sized()
	if err != nil {
		return nil, err
	}
	if p.Len() == 0 {
		return nil, nil
	}
	return bytes.Clone(p.Buf), nil
}

func (bytesTrait) Clone(v []byte) []byte {
	return bytes.Clone(v)
}
