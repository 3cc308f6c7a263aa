package fs

import (
	"os"
)

// FileSystem is the part of the file system the graph cache touches before a
// native engine takes over the file.
type FileSystem interface {
	Stat(name string) (os.FileInfo, error)
}

// LocalFS implements FileSystem with the os package.
type LocalFS struct{}

func (LocalFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

// Default is the local file system.
var Default FileSystem = LocalFS{}
