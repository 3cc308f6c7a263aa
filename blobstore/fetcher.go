package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/knncache/internal/resource"
)

const defaultConcurrency = 4

// Fetcher materializes blobs from a BlobStore into a local directory so the
// native libraries can map them.
type Fetcher struct {
	store       BlobStore
	rc          *resource.Controller
	concurrency int
	extensions  []string
	logger      *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithConcurrency bounds the number of parallel downloads.
func WithConcurrency(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithResourceController throttles download throughput through rc.
func WithResourceController(rc *resource.Controller) FetcherOption {
	return func(f *Fetcher) {
		f.rc = rc
	}
}

// WithExtensions restricts fetching to blobs with one of the given extensions.
func WithExtensions(exts ...string) FetcherOption {
	return func(f *Fetcher) {
		for _, ext := range exts {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			f.extensions = append(f.extensions, ext)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFetcher creates a Fetcher reading from store.
func NewFetcher(store BlobStore, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		store:       store,
		concurrency: defaultConcurrency,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads every blob under prefix into dir, keeping the path relative
// to prefix. Files already present in dir are not downloaded again since graph
// files are immutable once written. Returns the sorted local paths.
func (f *Fetcher) Fetch(ctx context.Context, prefix, dir string) ([]string, error) {
	names, err := f.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("blobstore: list %q: %w", prefix, err)
	}

	var paths []string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for _, name := range names {
		if !f.accept(name) {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(name, prefix), "/")
		if rel == "" {
			continue
		}
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		paths = append(paths, dst)

		if _, err := os.Stat(dst); err == nil {
			continue
		}

		g.Go(func() error {
			return f.fetchOne(gctx, name, dst)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (f *Fetcher) accept(name string) bool {
	if len(f.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range f.extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (f *Fetcher) fetchOne(ctx context.Context, name, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fetch-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	n, err := f.store.Download(ctx, name, resource.NewRateLimitedWriterAt(ctx, tmp, f.rc))
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("blobstore: download %q: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return err
	}

	f.logger.Debug("fetched graph file", "blob", name, "path", dst, "bytes", n)
	return nil
}
