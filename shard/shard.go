package shard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hupe1980/knncache/native"
)

// Field attribute keys.
const (
	AttrEngine    = "knn_engine"
	AttrSpaceType = "space_type"
)

// ErrNoGraphs is returned by FromDirectory when dir holds no graph files.
var ErrNoGraphs = errors.New("shard: no graph files found")

// Field is a vector field of a segment.
type Field struct {
	Name       string
	Attributes map[string]string
}

// Engine returns the knn_engine attribute, or "" for non-vector fields.
func (f Field) Engine() string {
	return f.Attributes[AttrEngine]
}

// Segment is an immutable unit of a shard.
type Segment struct {
	Name   string
	Files  []string
	Fields []Field
}

// Shard is one shard of an index. Segment file names are relative to Dir.
type Shard struct {
	IndexName string
	Dir       string
	Segments  []Segment
}

// FromDirectory builds a shard from a flat directory of graph files. Every
// file with an extension known to registry becomes a single-field segment
// using space.
func FromDirectory(indexName, dir string, space native.SpaceType, registry *native.Registry) (Shard, error) {
	if !space.Valid() {
		return Shard{}, fmt.Errorf("%w: %q", native.ErrUnknownSpace, space)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Shard{}, err
	}

	s := Shard{IndexName: indexName, Dir: dir}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		eng, err := registry.ForPath(e.Name())
		if err != nil {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		s.Segments = append(s.Segments, Segment{
			Name:  stem,
			Files: []string{e.Name()},
			Fields: []Field{{
				Name: stem,
				Attributes: map[string]string{
					AttrEngine:    eng.Name,
					AttrSpaceType: string(space),
				},
			}},
		})
	}
	if len(s.Segments) == 0 {
		return Shard{}, fmt.Errorf("%w in %s", ErrNoGraphs, dir)
	}

	slices.SortFunc(s.Segments, func(a, b Segment) int { return strings.Compare(a.Name, b.Name) })
	return s, nil
}
