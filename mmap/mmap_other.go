//go:build !unix

package mmap

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("mmap not supported")

func mmap(f *os.File, size int, opt Options) ([]byte, error) {
	return nil, errUnsupported
}

func munmap(b []byte) error {
	return nil
}
