package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/knncache/config"
)

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}

// parseVector parses a comma separated list of floats.
func parseVector(s string) ([]float32, error) {
	fields := strings.Split(s, ",")
	vec := make([]float32, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", f, err)
		}
		vec = append(vec, float32(v))
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty vector")
	}
	return vec, nil
}
