//go:build unix

package mmap

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

var errUnsupported = errors.New("mmap not supported")

func mmap(f *os.File, size int, opt Options) ([]byte, error) {
	flags := unix.MAP_SHARED
	if opt.Has(Prefault) {
		flags |= mapPopulate
	}

	b, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, flags)
	if err != nil {
		return nil, err
	}

	var advice int
	switch {
	case opt.Has(SequentialAccess):
		advice = unix.MADV_SEQUENTIAL
	case opt.Has(RandomAccess):
		advice = unix.MADV_RANDOM
	default:
		return b, nil
	}
	// ENOSYS only means the kernel ignores the hint
	if err := unix.Madvise(b, advice); err != nil && err != syscall.ENOSYS {
		_ = unix.Munmap(b)
		return nil, fmt.Errorf("madvise(%d): %w", advice, err)
	}
	return b, nil
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}
