package mmap

import "os"

// Fdatasync flushes the data written to f to stable storage, skipping the
// metadata (modification times) that f.Sync would also flush where the
// platform allows that.
//
// An error means the data on disk is in an unknown state. Retrying does not
// help: treat the file as corrupt.
func Fdatasync(f *os.File) error {
	return fdatasync(f)
}
