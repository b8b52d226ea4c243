package rtti

import (
	"github.com/apache/arrow/go/arrow/memory"
)

var goAllocator = memory.NewGoAllocator()

// MemorySerializer encodes objects into a single in-memory buffer and decodes
// them back. The zero value uses default options; Registry is required for
// decoding.
type MemorySerializer struct {
	Registry *Registry
	Options  Options
}

// Encode encodes obj into a buffer obtained from alloc (nil means a Go heap
// allocator). The returned slice is exactly as long as its allocation, so it
// can be passed back to alloc.Free once the caller is done with it.
func (s *MemorySerializer) Encode(obj Reflectable, alloc memory.Allocator) ([]byte, error) {
	if alloc == nil {
		alloc = goAllocator
	}
	opt := s.Options.resolved()
	sink := &memorySink{
		alloc:   alloc,
		initial: opt.ChunkSize,
	}
	err := EncodeTo(sink, obj, opt)
	if err != nil {
		sink.release()
		return nil, err
	}
	return sink.result(), nil
}

// Decode decodes a buffer produced by Encode. Data blocks and strings are
// copied, so data can be released or reused once Decode returns.
func (s *MemorySerializer) Decode(data []byte) (Reflectable, error) {
	return Decode(data, s.Registry, &s.Options)
}

// memorySink grows one contiguous allocation; every chunk is the free tail
// of the storage.
type memorySink struct {
	alloc   memory.Allocator
	initial int
	storage []byte
	w       int
}

func (ms *memorySink) Flush(chunk []byte) ([]byte, error) {
	if ms.storage == nil {
		ms.storage = ms.alloc.Allocate(max(ms.initial, MinChunkSize))
		return ms.storage[0:0:len(ms.storage)], nil
	}
	ms.w += len(chunk)
	if len(ms.storage)-ms.w < MinChunkSize {
		ms.storage = ms.alloc.Reallocate(max(2*len(ms.storage), ms.w+MinChunkSize), ms.storage)
	}
	return ms.storage[ms.w:ms.w:len(ms.storage)], nil
}

func (ms *memorySink) Patch(off int64, b []byte) error {
	copy(ms.storage[off:ms.w], b)
	return nil
}

// result shrinks the storage to the written size and hands it over.
func (ms *memorySink) result() []byte {
	data := ms.alloc.Reallocate(ms.w, ms.storage)
	ms.storage = nil
	return data
}

func (ms *memorySink) release() {
	if ms.storage != nil {
		ms.alloc.Free(ms.storage)
		ms.storage = nil
	}
}
