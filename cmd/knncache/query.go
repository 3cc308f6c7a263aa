package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/knncache"
	"github.com/hupe1980/knncache/native"
	"github.com/hupe1980/knncache/query"
)

type queryFlags struct {
	configPath string
	vector     string
	k          int
	efSearch   int
	space      string
	index      string
}

func newQueryCmd() *cobra.Command {
	var f queryFlags

	cmd := &cobra.Command{
		Use:   "query [graph-file]",
		Short: "Run a k-NN query against a graph file or a configured index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (f.index == "") {
				return fmt.Errorf("pass either a graph file or --index")
			}
			var file string
			if len(args) == 1 {
				file = args[0]
			}
			return runQuery(cmd.Context(), f, file)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to the YAML config; defaults apply when empty")
	cmd.Flags().StringVarP(&f.vector, "vector", "v", "", "comma separated query vector")
	cmd.Flags().IntVarP(&f.k, "k", "k", 10, "number of neighbors")
	cmd.Flags().IntVar(&f.efSearch, "ef-search", 0, "engine search width; 0 uses the cache default")
	cmd.Flags().StringVar(&f.space, "space", string(native.SpaceL2), "space type of the graph file")
	cmd.Flags().StringVar(&f.index, "index", "", "search every graph of a configured index")
	_ = cmd.MarkFlagRequired("vector")
	return cmd
}

func runQuery(ctx context.Context, f queryFlags, file string) error {
	vec, err := parseVector(f.vector)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}

	node, err := knncache.Open(ctx, cfg, knncache.WithLogger(knncache.NoopLogger()))
	if err != nil {
		return err
	}
	defer node.Close()

	var hits []query.Hit
	if file != "" {
		space, err := native.ParseSpaceType(f.space)
		if err != nil {
			return err
		}
		hits, err = node.Search(ctx, query.Request{
			Key:       file,
			IndexName: "cli",
			Space:     space,
			Vector:    vec,
			K:         f.k,
			EfSearch:  f.efSearch,
		})
		if err != nil {
			return err
		}
	} else {
		found := false
		for _, idx := range cfg.Indices {
			if idx.Name == f.index {
				if _, err := node.WarmIndex(ctx, idx); err != nil {
					return err
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %q", knncache.ErrUnknownIndex, f.index)
		}
		hits, err = node.SearchIndex(ctx, knncache.SearchRequest{
			Index:    f.index,
			Vector:   vec,
			K:        f.k,
			EfSearch: f.efSearch,
		})
		if err != nil {
			return err
		}
	}

	printHits(hits, file == "")
	return nil
}

func printHits(hits []query.Hit, withKey bool) {
	if len(hits) == 0 {
		faint.Println("no results")
		return
	}
	for i, h := range hits {
		fmt.Printf("%3d  ", i+1)
		bold.Printf("doc %-10d", h.DocID)
		cyan.Printf(" %.6f", h.Distance)
		if withKey {
			faint.Printf("  %s", h.Key)
		}
		fmt.Println()
	}
}
