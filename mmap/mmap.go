// Package mmap maps encoded files into memory for reading.
package mmap

import (
	"fmt"
	"io"
	"os"
)

type Options uint

const (
	// SequentialAccess is a hint requesting aggressive read-ahead.
	// Incompatible with RandomAccess. Maps to MADV_SEQUENTIAL on Unix.
	SequentialAccess Options = 1 << 0

	// RandomAccess is a hint that read ahead is less useful than normally.
	// Incompatible with SequentialAccess. Maps to MADV_RANDOM on Unix.
	RandomAccess Options = 1 << 1

	// Prefault is a hint requesting the entire file to be loaded in memory
	// for fastest access. Maps to MAP_POPULATE on Linux.
	Prefault Options = 1 << 2
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// Mapping is a read-only view of a whole file.
type Mapping struct {
	data   []byte
	mapped bool
}

// Open maps the file at path read-only. On platforms without mmap support,
// the file is read into memory instead.
func Open(path string, opt Options) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if int64(int(size)) != size {
		return nil, fmt.Errorf("%s: %d bytes is too large to map", path, size)
	}
	if size == 0 {
		return &Mapping{}, nil
	}

	data, err := mmap(f, int(size), opt)
	if err == errUnsupported {
		data = make([]byte, size)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, err
		}
		return &Mapping{data: data}, nil
	} else if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Mapping{data: data, mapped: true}, nil
}

// Bytes returns the mapped data. It must not be modified or used after Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

func (m *Mapping) Len() int {
	return len(m.data)
}

func (m *Mapping) Close() error {
	data, mapped := m.data, m.mapped
	m.data, m.mapped = nil, false
	if mapped {
		return munmap(data)
	}
	return nil
}
