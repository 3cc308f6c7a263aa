package fs

import (
	"fmt"
)

// BytesPerKB is the divisor used for cache weights.
const BytesPerKB = 1024

// SizeInKB returns the size of the regular file at path in kilobytes,
// rounded up to the next whole kilobyte.
func SizeInKB(fsys FileSystem, path string) (int64, error) {
	if fsys == nil {
		fsys = Default
	}

	fi, err := fsys.Stat(path)
	if err != nil {
		return 0, err
	}
	if !fi.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", path)
	}

	return BytesToKB(fi.Size()), nil
}

// BytesToKB converts a byte count to kilobytes, rounding up.
func BytesToKB(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + BytesPerKB - 1) / BytesPerKB
}
