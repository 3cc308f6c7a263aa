package testutil

import (
	"os"
	"path/filepath"
)

// GraphFile writes a file of exactly sizeKB kilobytes to dir/name and returns
// its path. The content is opaque filler; use it with FakeLibrary.
func GraphFile(dir, name string, sizeKB int64) (string, error) {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := f.Truncate(sizeKB * 1024); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}
