package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hupe1980/knncache/native"
)

// Loader bulk-loads graphs into the cache.
type Loader interface {
	LoadIndices(ctx context.Context, keys map[string]native.SpaceType, indexName string) error
}

// Resolver maps shard segment files to graph cache keys.
type Resolver struct {
	registry     *native.Registry
	defaultSpace native.SpaceType
	logger       *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDefaultSpace sets the metric used for fields without a space_type attribute.
func WithDefaultSpace(space native.SpaceType) Option {
	return func(r *Resolver) {
		r.defaultSpace = space
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver over the engines in registry.
func NewResolver(registry *native.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		registry:     registry,
		defaultSpace: native.SpaceL2,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns every graph file of s keyed by absolute path, with the
// metric of the field it belongs to. Fields without a knn_engine attribute
// are skipped. Unknown engines and metrics are reported and the remaining
// fields are still resolved.
func (r *Resolver) Resolve(s Shard) (map[string]native.SpaceType, error) {
	keys := make(map[string]native.SpaceType)
	var errs []error

	for _, seg := range s.Segments {
		for _, field := range seg.Fields {
			engineName := field.Engine()
			if engineName == "" {
				continue
			}
			eng, err := r.registry.Engine(engineName)
			if err != nil {
				errs = append(errs, fmt.Errorf("shard: segment %q field %q: %w", seg.Name, field.Name, err))
				continue
			}
			space, err := r.fieldSpace(field)
			if err != nil {
				errs = append(errs, fmt.Errorf("shard: segment %q field %q: %w", seg.Name, field.Name, err))
				continue
			}

			for _, file := range seg.Files {
				if !matches(file, field.Name, eng.Extensions) {
					continue
				}
				keys[filepath.Join(s.Dir, file)] = space
			}
		}
	}

	return keys, errors.Join(errs...)
}

// Warmup resolves s and loads every graph through loader. It returns the
// keys handed to the loader.
func (r *Resolver) Warmup(ctx context.Context, s Shard, loader Loader) (map[string]native.SpaceType, error) {
	keys, resolveErr := r.Resolve(s)
	if len(keys) == 0 {
		return keys, resolveErr
	}

	r.logger.Info("warming shard", "index", s.IndexName, "dir", s.Dir, "graphs", len(keys))
	loadErr := loader.LoadIndices(ctx, keys, s.IndexName)
	return keys, errors.Join(resolveErr, loadErr)
}

func (r *Resolver) fieldSpace(f Field) (native.SpaceType, error) {
	raw, ok := f.Attributes[AttrSpaceType]
	if !ok || raw == "" {
		return r.defaultSpace, nil
	}
	return native.ParseSpaceType(raw)
}

func matches(file, fieldName string, extensions []string) bool {
	if !strings.Contains(file, fieldName) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(file))
	return slices.ContainsFunc(extensions, func(e string) bool {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		return e == ext
	})
}
