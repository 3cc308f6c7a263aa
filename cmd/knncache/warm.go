package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/knncache"
	"github.com/hupe1980/knncache/config"
)

func newWarmCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "warm [index...]",
		Short: "Fetch and load configured indices once, then report the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return warm(cmd.Context(), cfg, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "knncache.yaml", "path to the YAML config")
	return cmd
}

func warm(ctx context.Context, cfg *config.Config, only []string) error {
	node, err := knncache.Open(ctx, cfg, knncache.WithLogger(knncache.NoopLogger()))
	if err != nil {
		return err
	}
	defer node.Close()

	want := make(map[string]bool, len(only))
	for _, name := range only {
		want[name] = true
	}

	var failed int
	for _, idx := range cfg.Indices {
		if len(want) > 0 && !want[idx.Name] {
			continue
		}
		start := time.Now()
		graphs, err := node.WarmIndex(ctx, idx)
		if err != nil {
			failed++
			showError(fmt.Errorf("%s: %w", idx.Name, err))
			continue
		}
		showSuccess("%s: %d graphs, %s in %s",
			bold.Sprint(idx.Name),
			graphs,
			config.FormatKB(node.Cache().IndexWeightInKB(idx.Name)),
			time.Since(start).Round(time.Millisecond),
		)
	}

	stats := node.Cache().Stats()
	fmt.Println()
	bold.Println("Cache")
	showField("limit", config.FormatKB(stats.LimitKB))
	showField("weight", fmt.Sprintf("%s (%.1f%%)", config.FormatKB(stats.WeightKB), stats.WeightPercentage))
	showField("graphs", stats.GraphCount)
	showField("capacity reached", stats.CapacityReached)

	if failed > 0 {
		return fmt.Errorf("%d indices failed to warm", failed)
	}
	return nil
}
