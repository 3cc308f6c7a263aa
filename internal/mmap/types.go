package mmap

import "errors"

// AccessPattern is a madvise hint for a mapping.
type AccessPattern int

const (
	AccessDefault AccessPattern = iota
	// AccessSequential suits one-pass copies such as blob downloads.
	AccessSequential
	// AccessRandom suits graph scans that touch vectors out of order.
	AccessRandom
)

var (
	ErrClosed        = errors.New("mmap: mapping is closed")
	ErrInvalidSize   = errors.New("mmap: invalid size")
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)
