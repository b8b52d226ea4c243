package rtti

import (
	"log/slog"
	"math"
)

const (
	DefaultChunkSize = 64 * 1024
	MinChunkSize     = 64
	DefaultMaxDepth  = 10000
)

// Options control encoding and decoding. The zero value is ready to use.
type Options struct {
	// MaxFieldSize limits the size of any length-prefixed region: a field
	// entry, a section, an object or a data block. Encoding a larger region
	// fails with ErrDataOverflow. Zero means math.MaxUint32.
	MaxFieldSize uint64

	// ChunkSize is the size of the scratch buffer used by file encoders,
	// and the initial capacity of memory encoders. Zero means
	// DefaultChunkSize; smaller values are raised to MinChunkSize.
	ChunkSize int

	// MaxDepth limits the nesting of inline objects and embedded values.
	// Decoding deeper input fails with ErrCorrupt, encoding a deeper graph
	// fails with ErrTooDeep. Zero means DefaultMaxDepth.
	MaxDepth int

	// Logger receives diagnostics (skipped unknown fields and sections when
	// Verbose is set). Nil means slog.Default().
	Logger *slog.Logger

	Verbose bool
}

func (opt *Options) resolved() *Options {
	var o Options
	if opt != nil {
		o = *opt
	}
	if o.MaxFieldSize == 0 || o.MaxFieldSize > math.MaxUint32 {
		o.MaxFieldSize = math.MaxUint32
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	} else if o.ChunkSize < MinChunkSize {
		o.ChunkSize = MinChunkSize
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &o
}
