package rtti

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCorrupt is returned when encoded data is truncated or malformed.
	ErrCorrupt = errors.New("corrupted data")

	// ErrUnknownType is returned when a stream references a type id that is
	// not defined in the decoding registry.
	ErrUnknownType = errors.New("unknown type id")

	// ErrDataOverflow is returned when a length-prefixed value does not fit
	// into its length prefix.
	ErrDataOverflow = errors.New("data overflow")

	// ErrNoFactory is returned when an abstract type has to be constructed.
	ErrNoFactory = errors.New("type cannot be constructed")

	// ErrBadType is returned when a value does not have the type a field
	// or container expects.
	ErrBadType = errors.New("bad type")

	// ErrIndexOutOfRange is returned by reflection-based field access.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrUnknownField is returned by reflection-based field access.
	ErrUnknownField = errors.New("unknown field")

	// ErrUnsupportedFormat is returned for streams written with an unknown
	// magic, a newer format version or a foreign byte order.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrTooDeep is returned when encoding an object graph whose inline
	// objects nest deeper than Options.MaxDepth, which decoding would reject.
	ErrTooDeep = errors.New("objects nested too deeply")

	// ErrChecksum is returned when a file record fails checksum verification.
	ErrChecksum = errors.New("checksum mismatch")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	if err == nil {
		err = ErrCorrupt
	}
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

// FieldError reports a failure to access, encode or decode a particular
// field. Index is -1 for non-array access.
type FieldError struct {
	Type  *Type
	Field string
	Index int
	Msg   string
	Err   error
}

func fieldErrf(typ *Type, field string, index int, err error, format string, args ...any) error {
	return &FieldError{typ, field, index, fmt.Sprintf(format, args...), err}
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func (e *FieldError) Error() string {
	var buf strings.Builder
	if e.Type != nil {
		buf.WriteString(e.Type.Name())
	} else {
		buf.WriteString("?")
	}
	if e.Field != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Field)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&buf, "[%d]", e.Index)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// UnknownTypeError is returned when a stream contains a type id that the
// decoding registry does not know.
type UnknownTypeError struct {
	TypeID TypeID
}

func (e *UnknownTypeError) Unwrap() error {
	return ErrUnknownType
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown type id %d", e.TypeID)
}
