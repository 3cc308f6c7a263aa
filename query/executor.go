package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/knncache/cache"
	"github.com/hupe1980/knncache/internal/queue"
	"github.com/hupe1980/knncache/native"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("query: k must be positive")
	// ErrEmptyVector is returned for a query without a vector.
	ErrEmptyVector = errors.New("query: vector is empty")
	// ErrNoGraphs is returned by SearchAll when no graph keys are given.
	ErrNoGraphs = errors.New("query: no graphs to search")
)

// Querier runs a native query against a cached graph.
type Querier interface {
	Query(ctx context.Context, req cache.QueryRequest) ([]native.Result, error)
}

// Request is a k-NN query against one graph file.
type Request struct {
	Key       string
	IndexName string
	Space     native.SpaceType
	// Engine, if set, must match the engine that loaded the graph.
	Engine   string
	Vector   []float32
	K        int
	EfSearch int
	// Filter restricts matches to these document IDs when non-nil.
	Filter *roaring.Bitmap
}

func (r Request) validate() error {
	if r.K <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidK, r.K)
	}
	if len(r.Vector) == 0 {
		return ErrEmptyVector
	}
	return nil
}

// Hit is one result with its raw engine distance.
type Hit struct {
	Key      string  `json:"key,omitempty"`
	DocID    uint32  `json:"doc_id"`
	Distance float32 `json:"distance"`
}

// Stats holds the executor's counters.
type Stats struct {
	Queries uint64 `json:"queries"`
	Errors  uint64 `json:"errors"`
}

// Executor issues queries through the cache.
type Executor struct {
	cache       Querier
	metrics     cache.MetricsObserver
	logger      *slog.Logger
	concurrency int

	queries atomic.Uint64
	errors  atomic.Uint64
}

// Option configures an Executor.
type Option func(*Executor)

// WithMetricsObserver sets the observer notified after every query.
func WithMetricsObserver(o cache.MetricsObserver) Option {
	return func(e *Executor) {
		if o != nil {
			e.metrics = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConcurrency bounds the graphs SearchAll queries in parallel.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewExecutor creates an Executor over q.
func NewExecutor(q Querier, opts ...Option) *Executor {
	e := &Executor{
		cache:       q,
		metrics:     &cache.NoopMetricsObserver{},
		logger:      slog.New(slog.DiscardHandler),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns up to req.K hits from one graph by ascending distance.
func (e *Executor) Search(ctx context.Context, req Request) ([]Hit, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return e.search(ctx, req)
}

// SearchAll runs template against every key and merges the per-graph results
// into the global top K. Any failing graph fails the whole search.
func (e *Executor) SearchAll(ctx context.Context, keys map[string]native.SpaceType, template Request) ([]Hit, error) {
	if err := template.validate(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrNoGraphs
	}

	reqs := make([]Request, 0, len(keys))
	for key, space := range keys {
		r := template
		r.Key, r.Space = key, space
		reqs = append(reqs, r)
	}
	perGraph := make([][]Hit, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, r := range reqs {
		g.Go(func() error {
			hits, err := e.search(gctx, r)
			if err != nil {
				return err
			}
			perGraph[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return merge(perGraph, template.K), nil
}

// Stats returns the executor's counters.
func (e *Executor) Stats() Stats {
	return Stats{Queries: e.queries.Load(), Errors: e.errors.Load()}
}

func (e *Executor) search(ctx context.Context, req Request) ([]Hit, error) {
	start := time.Now()
	res, err := e.cache.Query(ctx, cache.QueryRequest{
		Key:       req.Key,
		IndexName: req.IndexName,
		Space:     req.Space,
		Engine:    req.Engine,
		Vector:    req.Vector,
		K:         req.K,
		Params:    native.QueryParams{EfSearch: req.EfSearch, Filter: req.Filter},
	})
	e.metrics.OnQuery(req.IndexName, time.Since(start), len(res), err)
	e.queries.Add(1)

	if err != nil {
		e.errors.Add(1)
		e.logger.Debug("knn query failed", "index", req.IndexName, "key", req.Key, "error", err)
		return nil, err
	}

	hits := make([]Hit, len(res))
	for i, r := range res {
		hits[i] = Hit{Key: req.Key, DocID: r.DocID, Distance: r.Distance}
	}
	return hits, nil
}

func merge(perGraph [][]Hit, k int) []Hit {
	var flat []Hit
	for _, hits := range perGraph {
		flat = append(flat, hits...)
	}

	top := queue.NewTopK(min(k, len(flat)))
	for i, h := range flat {
		top.Push(uint32(i), h.Distance)
	}

	items := top.Sorted()
	out := make([]Hit, len(items))
	for i, it := range items {
		out[i] = flat[it.ID]
	}
	return out
}
