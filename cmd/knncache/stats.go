package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/knncache"
	"github.com/hupe1980/knncache/config"
)

func newStatsCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the stats of a running node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: timeout}
			stats, err := fetchStats(cmd, client, addr)
			if err != nil {
				return err
			}
			printStats(stats)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:9464", "base URL of the node's HTTP listener")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func fetchStats(cmd *cobra.Command, client *http.Client, addr string) (knncache.NodeStats, error) {
	var stats knncache.NodeStats

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(addr, "/")+"/stats", nil)
	if err != nil {
		return stats, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return stats, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("stats: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("stats: decode: %w", err)
	}
	return stats, nil
}

func printStats(s knncache.NodeStats) {
	bold.Printf("Node %s", s.NodeID)
	if s.Coordinator {
		cyan.Print(" (coordinator)")
	}
	fmt.Println()

	breaker := green.Sprint("closed")
	if s.BreakerTriggered {
		breaker = red.Sprint("TRIGGERED")
	}
	showField("circuit breaker", breaker)
	showField("cache limit", config.FormatKB(s.Cache.LimitKB))
	showField("cache weight", fmt.Sprintf("%s (%.1f%%)", config.FormatKB(s.Cache.WeightKB), s.Cache.WeightPercentage))
	showField("graphs", s.Cache.GraphCount)
	showField("capacity reached", s.Cache.CapacityReached)
	showField("pending frees", s.Cache.PendingFrees)
	showField("queries", fmt.Sprintf("%d (%d errors)", s.Queries.Queries, s.Queries.Errors))
	showField("loads", fmt.Sprintf("%d (%d errors)", s.Events.LoadCount, s.Events.LoadErrors))
	showField("evictions", s.Events.Evictions)

	if len(s.Cache.Indices) == 0 {
		return
	}
	fmt.Println()
	bold.Println("Indices")
	names := make([]string, 0, len(s.Cache.Indices))
	for name := range s.Cache.Indices {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		idx := s.Cache.Indices[name]
		showField(name, fmt.Sprintf("%d graphs, %s (%.1f%%)", idx.GraphCount, config.FormatKB(idx.WeightKB), idx.WeightPercentage))
	}
}
