package flat

import (
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/hupe1980/knncache/distance"
	"github.com/hupe1980/knncache/internal/mmap"
	"github.com/hupe1980/knncache/internal/queue"
	"github.com/hupe1980/knncache/native"
)

// graph is the native-side state behind one handle.
type graph struct {
	path    string
	dim     int
	ids     []uint32
	vectors []float32
	dist    distance.Func
	ef      int
	// mappings are released together on Free.
	mappings []*mmap.Mapping
}

func (g *graph) release() error {
	var first error
	for _, m := range g.mappings {
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Library implements native.Library for flat graph files.
type Library struct {
	mu     sync.RWMutex
	next   uint64
	graphs map[uint64]*graph
	logger *slog.Logger
}

// Option configures a Library.
type Option func(*Library)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(lib *Library) {
		if l != nil {
			lib.logger = l
		}
	}
}

// New creates an empty flat library.
func New(opts ...Option) *Library {
	lib := &Library{
		graphs: make(map[uint64]*graph),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(lib)
	}
	return lib
}

// Engine returns the registry entry for this library.
func (l *Library) Engine() native.Engine {
	return native.Engine{Name: EngineName, Extensions: []string{Extension}, Library: l}
}

// Load maps the graph file at path.
func (l *Library) Load(path string, params native.LoadParams) (native.Handle, error) {
	dist, err := params.Space.DistanceFunc()
	if err != nil {
		return native.Handle{}, err
	}

	g, err := openGraph(path)
	if err != nil {
		return native.Handle{}, fmt.Errorf("flat: load %s: %w", path, err)
	}
	g.dist = dist
	g.ef = params.EfSearch

	l.mu.Lock()
	l.next++
	id := l.next
	l.graphs[id] = g
	l.mu.Unlock()

	l.logger.Debug("graph loaded", "path", path, "handle", id, "dim", g.dim, "count", len(g.ids))
	return native.NewHandle(id), nil
}

func openGraph(path string) (*graph, error) {
	file, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}

	g, err := parseGraph(path, file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return g, nil
}

func parseGraph(path string, file *mmap.Mapping) (*graph, error) {
	data := file.Bytes()

	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[HeaderSize:]
	if crc32.Checksum(body, castagnoli) != h.Checksum {
		return nil, ErrChecksum
	}

	count := int(h.Count)
	dim := int(h.Dim)
	if count > 0 && dim == 0 {
		return nil, ErrCorrupt
	}
	idBytes := 4 * count
	if len(body) < idBytes {
		return nil, ErrCorrupt
	}
	block := body[idBytes:]
	rawSize, compressedSize, err := blockSizes(block)
	if err != nil {
		return nil, err
	}
	if rawSize != 4*dim*count {
		return nil, ErrCorrupt
	}

	g := &graph{path: path, dim: dim}
	if count == 0 {
		g.mappings = []*mmap.Mapping{file}
		return g, nil
	}

	if compressedSize == 0 {
		_ = file.Advise(mmap.AccessRandom)
		g.ids = u32View(body[:idBytes])
		g.vectors = f32View(block[blockHeaderSize : blockHeaderSize+rawSize])
		g.mappings = []*mmap.Mapping{file}
		return g, nil
	}

	// Compressed payloads are decoded once into anonymous memory together
	// with the id table, so the file mapping can be dropped immediately.
	anon, err := mmap.MapAnon(idBytes + rawSize)
	if err != nil {
		return nil, err
	}
	dst := anon.Bytes()
	copy(dst, body[:idBytes])
	payload := block[blockHeaderSize : blockHeaderSize+compressedSize]
	if err := decodeBlockInto(dst[idBytes:], payload, h.Compression); err != nil {
		_ = anon.Close()
		return nil, err
	}
	_ = file.Close()

	g.ids = u32View(dst[:idBytes])
	g.vectors = f32View(dst[idBytes:])
	g.mappings = []*mmap.Mapping{anon}
	return g, nil
}

// Query scans every vector of the graph and keeps the k closest.
func (l *Library) Query(h native.Handle, vector []float32, k int, params native.QueryParams) ([]native.Result, error) {
	l.mu.RLock()
	g, ok := l.graphs[h.Value()]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", native.ErrUnknownHandle, h)
	}
	if k <= 0 {
		return nil, fmt.Errorf("flat: k must be positive, got %d", k)
	}
	if len(g.ids) > 0 && len(vector) != g.dim {
		return nil, fmt.Errorf("%w: query has %d, graph has %d", native.ErrDimensionMismatch, len(vector), g.dim)
	}

	top := queue.NewTopK(min(k, len(g.ids)))
	for i, id := range g.ids {
		if params.Filter != nil && !params.Filter.Contains(id) {
			continue
		}
		off := i * g.dim
		top.Push(id, g.dist(vector, g.vectors[off:off+g.dim]))
	}

	items := top.Sorted()
	out := make([]native.Result, len(items))
	for i, it := range items {
		out[i] = native.Result{DocID: it.ID, Distance: it.Distance}
	}
	return out, nil
}

// Free unmaps the graph behind h.
func (l *Library) Free(h native.Handle) error {
	l.mu.Lock()
	g, ok := l.graphs[h.Value()]
	delete(l.graphs, h.Value())
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", native.ErrUnknownHandle, h)
	}

	l.logger.Debug("graph freed", "path", g.path, "handle", h.Value())
	return g.release()
}

// Resident returns the number of graphs currently loaded.
func (l *Library) Resident() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.graphs)
}

// u32View reinterprets little-endian bytes as uint32s without copying.
func u32View(b []byte) []uint32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4) //nolint:gosec // mapping is 4-byte aligned
}

func f32View(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4) //nolint:gosec // mapping is 4-byte aligned
}
