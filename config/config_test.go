package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knncache/cluster"
)

const sample = `
node:
  id: node-7
  roles: [data]
cache:
  limit: 2GiB
  expire_after: 90m
breaker:
  unset_percentage: 60
  poll_interval: 30s
cluster:
  mode: nats
  nats_url: nats://127.0.0.1:4222
resources:
  max_background_workers: 8
  io_limit: 50MB
source:
  type: s3
  bucket: graphs
  prefix: prod/
indices:
  - name: products
    dir: /data/products
    space: cosinesimil
    prefix: products/0/
log:
  format: json
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "node-7", cfg.Node.ID)
	assert.Equal(t, cluster.Node{ID: "node-7", Roles: []cluster.Role{cluster.RoleData}}, cfg.LocalNode())
	assert.Equal(t, 90*time.Minute, cfg.Cache.ExpireAfter)
	assert.True(t, cfg.Cache.BreakerEnabled, "defaults survive partial sections")
	assert.Equal(t, 30*time.Second, cfg.Cache.SweepInterval)

	s, err := cfg.CacheSettings()
	require.NoError(t, err)
	assert.Equal(t, int64(2*1024*1024), s.LimitKB)
	assert.Equal(t, 90*time.Minute, s.ExpireAfter)

	b := cfg.BreakerSettings()
	assert.Equal(t, 60.0, b.UnsetPercentage)
	assert.Equal(t, 30*time.Second, b.PollInterval)
	assert.Equal(t, 10*time.Second, b.StatsTimeout)

	io, err := cfg.Resources.IOLimitBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), io)

	require.Len(t, cfg.Indices, 1)
	assert.Equal(t, "products/0/", cfg.Indices[0].Prefix)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, ModeStatic, cfg.Cluster.Mode)
	assert.Equal(t, "50%", cfg.Cache.Limit)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("cache:\n  limt: 1GB\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"role", "node: {roles: [ingest]}"},
		{"limit", "cache: {limit: 150%}"},
		{"limit syntax", "cache: {limit: lots}"},
		{"unset percentage", "breaker: {unset_percentage: 0}"},
		{"nats url", "cluster: {mode: nats}"},
		{"cluster mode", "cluster: {mode: raft}"},
		{"nats node id space", "node: {id: node 1}\ncluster: {mode: nats, nats_url: \"nats://localhost:4222\"}"},
		{"nats node id colon", "node: {id: \"node:1\"}\ncluster: {mode: nats, nats_url: \"nats://localhost:4222\"}"},
		{"nats node id dot", "node: {id: node-1.}\ncluster: {mode: nats, nats_url: \"nats://localhost:4222\"}"},
		{"io limit", "resources: {io_limit: fast}"},
		{"source type", "source: {type: ftp}"},
		{"minio endpoint", "source: {type: minio, bucket: b}"},
		{"local root", "source: {type: local}"},
		{"index space", "indices: [{name: a, dir: /a, space: hamming}]"},
		{"duplicate index", "indices: [{name: a, dir: /a}, {name: a, dir: /b}]"},
		{"index dir", "indices: [{name: a}]"},
		{"log format", "log: {format: xml}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestValidate_NodeIDCharset(t *testing.T) {
	cfg, err := Parse([]byte("node: {id: \"node 1\"}"))
	require.NoError(t, err, "static mode never uses the id as a key")
	assert.Equal(t, "node 1", cfg.Node.ID)

	cfg, err = Parse([]byte("node: {id: data-1.eu_west}\ncluster: {mode: nats, nats_url: \"nats://localhost:4222\"}"))
	require.NoError(t, err)
	assert.Equal(t, "data-1.eu_west", cfg.Node.ID)
}

func TestParseLimitKB(t *testing.T) {
	const total = 8 << 30

	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"50%", 4 << 20},
		{" 25 % ", 2 << 20},
		{"1GiB", 1 << 20},
		{"1KB", 1},
		{"1500B", 2},
		{"512MiB", 512 << 10},
	}
	for _, tt := range tests {
		got, err := ParseLimitKB(tt.in, total)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"-5%", "101%", "x%", "huge"} {
		_, err := ParseLimitKB(bad, total)
		assert.Error(t, err, bad)
	}
}

func TestCacheSettings_BreakerDisabled(t *testing.T) {
	cfg, err := Parse([]byte("cache: {limit: 1GB, breaker_enabled: false}"))
	require.NoError(t, err)

	s, err := cfg.CacheSettings()
	require.NoError(t, err)
	assert.Zero(t, s.LimitKB)
}

func TestCacheSettings_Percentage(t *testing.T) {
	cfg, err := Parse([]byte("cache: {limit: 10%}"))
	require.NoError(t, err)

	s, err := cfg.CacheSettings()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.LimitKB, int64(0))
}

func TestFormatKB(t *testing.T) {
	assert.Equal(t, "unlimited", FormatKB(0))
	assert.Equal(t, "1.0 MiB", FormatKB(1024))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knncache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-7", cfg.Node.ID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReloader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knncache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: {limit: 1GB}"), 0o600))

	var applied atomic.Int32
	var lastLimit atomic.Value
	r, err := NewReloader(path, 0, func(c *Config) error {
		applied.Add(1)
		lastLimit.Store(c.Cache.Limit)
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1GB", r.Config().Cache.Limit)

	changed, err := r.Reload()
	require.NoError(t, err)
	assert.False(t, changed, "unchanged file is not re-applied")
	assert.Zero(t, applied.Load())

	require.NoError(t, os.WriteFile(path, []byte("cache: {limit: 2GB}"), 0o600))
	changed, err = r.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, "2GB", lastLimit.Load())
	assert.Equal(t, "2GB", r.Config().Cache.Limit)

	require.NoError(t, os.WriteFile(path, []byte("cache: {limit: nope}"), 0o600))
	_, err = r.Reload()
	require.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, r.LastError(), ErrInvalid)
	assert.Equal(t, "2GB", r.Config().Cache.Limit, "bad file keeps the last good config")
}

func TestReloader_ApplyErrorKeepsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knncache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: {limit: 1GB}"), 0o600))

	r, err := NewReloader(path, 0, func(*Config) error { return assert.AnError }, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("cache: {limit: 3GB}"), 0o600))
	_, err = r.Reload()
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "1GB", r.Config().Cache.Limit)
}

func TestReloader_Run(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knncache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: {limit: 1GB}"), 0o600))

	var applied atomic.Int32
	r, err := NewReloader(path, 10*time.Millisecond, func(*Config) error {
		applied.Add(1)
		return nil
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("cache: {limit: 4GB}"), 0o600))
	assert.Eventually(t, func() bool { return applied.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewReloader_Errors(t *testing.T) {
	_, err := NewReloader("", time.Second, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyPath)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("breaker: {poll_interval: -1s}"), 0o600))
	_, err = NewReloader(path, time.Second, nil, nil)
	assert.ErrorIs(t, err, ErrInvalid)
}
