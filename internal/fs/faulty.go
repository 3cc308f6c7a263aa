package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// Fault describes how Stat misbehaves for names containing a pattern.
type Fault struct {
	// Err fails the call. A zero Fault with no Size fails with a generic error.
	Err error
	// Size reports the file as this many bytes instead of its real size.
	Size int64
}

var errInjected = errors.New("fs: injected fault")

// FaultyFS wraps a FileSystem and injects stat failures or fake sizes.
type FaultyFS struct {
	FS    FileSystem
	mu    sync.Mutex
	rules map[string]Fault
	stats int
}

// NewFaultyFS wraps fsys, or Default when nil.
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{
		FS:    fsys,
		rules: make(map[string]Fault),
	}
}

// AddRule applies fault to every name containing pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

// StatCalls returns how many times Stat was called.
func (f *FaultyFS) StatCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) {
	f.mu.Lock()
	f.stats++
	var (
		fault Fault
		found bool
	)
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			fault, found = rule, true
			break
		}
	}
	f.mu.Unlock()

	if !found {
		return f.FS.Stat(name)
	}
	if fault.Err != nil {
		return nil, fault.Err
	}
	if fault.Size <= 0 {
		return nil, errInjected
	}

	fi, err := f.FS.Stat(name)
	if err != nil {
		return nil, err
	}
	return sizedInfo{FileInfo: fi, size: fault.Size}, nil
}

type sizedInfo struct {
	os.FileInfo
	size int64
}

func (s sizedInfo) Size() int64 { return s.size }
