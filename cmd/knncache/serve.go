package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/knncache"
	"github.com/hupe1980/knncache/config"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		configPath     string
		reloadInterval time.Duration
		listen         string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a cache node, warm its indices and serve stats and metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath, reloadInterval, listen)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "knncache.yaml", "path to the YAML config")
	cmd.Flags().DurationVar(&reloadInterval, "reload-interval", time.Minute, "how often to re-read the config; 0 reloads on SIGHUP only")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address; overrides metrics.listen")
	return cmd
}

func serve(ctx context.Context, configPath string, reloadInterval time.Duration, listen string) error {
	var node *knncache.Node

	reloader, err := config.NewReloader(configPath, reloadInterval, func(cfg *config.Config) error {
		return node.ApplySettings(ctx, cfg)
	}, nil)
	if err != nil {
		return err
	}
	cfg := reloader.Config()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	node, err = knncache.Open(ctx, cfg, knncache.WithPrometheus(reg, "knncache"))
	if err != nil {
		return err
	}
	defer node.Close()

	if err := node.Warmup(ctx); err != nil {
		showError(err)
	}

	go func() {
		if err := reloader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			showError(err)
		}
	}()

	if listen == "" {
		listen = cfg.Metrics.Listen
	}
	if listen == "" {
		showSuccess("node %s serving (no HTTP listener)", cfg.Node.ID)
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           newMux(node, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	showSuccess("node %s serving on %s", cfg.Node.ID, listen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type searchBody struct {
	Index    string    `json:"index"`
	Vector   []float32 `json:"vector"`
	K        int       `json:"k"`
	EfSearch int       `json:"ef_search,omitempty"`
}

func newMux(node *knncache.Node, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := node.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, stats)
	})

	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		var body searchBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hits, err := node.SearchIndex(r.Context(), knncache.SearchRequest{
			Index:    body.Index,
			Vector:   body.Vector,
			K:        body.K,
			EfSearch: body.EfSearch,
		})
		switch {
		case errors.Is(err, knncache.ErrUnknownIndex):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, knncache.ErrInvalidK), errors.Is(err, knncache.ErrEmptyVector):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			writeJSON(w, hits)
		}
	})

	mux.HandleFunc("POST /evict", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]int{"evicted": node.Cache().EvictAll()})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
