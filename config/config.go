package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pbnjay/memory"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/knncache/breaker"
	"github.com/hupe1980/knncache/cache"
	"github.com/hupe1980/knncache/cluster"
	"github.com/hupe1980/knncache/native"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Cluster modes.
const (
	ModeStatic = "static"
	ModeNATS   = "nats"
)

// Source types.
const (
	SourceNone  = ""
	SourceLocal = "local"
	SourceS3    = "s3"
	SourceMinio = "minio"
)

// Config is the full node configuration.
type Config struct {
	Node      NodeConfig     `yaml:"node"`
	Cache     CacheConfig    `yaml:"cache"`
	Breaker   BreakerConfig  `yaml:"breaker"`
	Cluster   ClusterConfig  `yaml:"cluster"`
	Resources ResourceConfig `yaml:"resources"`
	Source    SourceConfig   `yaml:"source"`
	Indices   []IndexConfig  `yaml:"indices"`
	Log       LogConfig      `yaml:"log"`
	Metrics   MetricsConfig  `yaml:"metrics"`
}

// NodeConfig identifies the local node.
type NodeConfig struct {
	ID    string   `yaml:"id"`
	Roles []string `yaml:"roles"`
}

// CacheConfig shapes the graph cache.
type CacheConfig struct {
	// Limit is "N%" of physical memory or a byte size. "0" disables the limit.
	Limit string `yaml:"limit"`
	// BreakerEnabled false removes the weight limit entirely.
	BreakerEnabled bool          `yaml:"breaker_enabled"`
	ExpireAfter    time.Duration `yaml:"expire_after"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	EfSearch       int           `yaml:"ef_search"`
}

// BreakerConfig tunes the circuit breaker coordinator.
type BreakerConfig struct {
	UnsetPercentage float64       `yaml:"unset_percentage"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	StatsTimeout    time.Duration `yaml:"stats_timeout"`
}

// ClusterConfig selects the cluster backend.
type ClusterConfig struct {
	Mode           string        `yaml:"mode"`
	NATSURL        string        `yaml:"nats_url"`
	SettingsBucket string        `yaml:"settings_bucket"`
	NodesBucket    string        `yaml:"nodes_bucket"`
	StatsSubject   string        `yaml:"stats_subject"`
	Heartbeat      time.Duration `yaml:"heartbeat"`
}

// ResourceConfig bounds background work.
type ResourceConfig struct {
	MaxBackgroundWorkers int64 `yaml:"max_background_workers"`
	// IOLimit is a byte size per second, e.g. "50MB". Empty means unlimited.
	IOLimit string `yaml:"io_limit"`
}

// SourceConfig describes a remote graph repository.
type SourceConfig struct {
	Type        string `yaml:"type"`
	Root        string `yaml:"root"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Secure      bool   `yaml:"secure"`
	Concurrency int    `yaml:"concurrency"`
}

// IndexConfig declares one index to warm on start.
type IndexConfig struct {
	Name  string `yaml:"name"`
	Dir   string `yaml:"dir"`
	Space string `yaml:"space"`
	// Prefix is the remote location fetched into Dir when a source is set.
	Prefix string `yaml:"prefix"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the HTTP endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration used for omitted fields.
func Default() Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "node-1"
	}
	return Config{
		Node: NodeConfig{
			ID:    host,
			Roles: []string{string(cluster.RoleData), string(cluster.RoleClusterManager)},
		},
		Cache: CacheConfig{
			Limit:          "50%",
			BreakerEnabled: true,
			ExpireAfter:    3 * time.Hour,
			SweepInterval:  30 * time.Second,
		},
		Breaker: BreakerConfig{
			UnsetPercentage: breaker.DefaultUnsetPercentage,
			PollInterval:    breaker.DefaultPollInterval,
			StatsTimeout:    breaker.DefaultStatsTimeout,
		},
		Cluster: ClusterConfig{
			Mode:      ModeStatic,
			Heartbeat: 5 * time.Second,
		},
		Resources: ResourceConfig{
			MaxBackgroundWorkers: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// natsKeyRE is the JetStream KV key charset; node ids are membership keys.
var natsKeyRE = regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Node.ID == "" {
		add("node.id is required")
	}
	for _, r := range c.Node.Roles {
		switch cluster.Role(r) {
		case cluster.RoleData, cluster.RoleClusterManager:
		default:
			add("unknown node role %q", r)
		}
	}

	if _, err := ParseLimitKB(c.Cache.Limit, 1<<40); err != nil {
		add("cache.limit: %v", err)
	}
	if c.Cache.ExpireAfter < 0 {
		add("cache.expire_after must not be negative")
	}
	if c.Cache.SweepInterval < 0 {
		add("cache.sweep_interval must not be negative")
	}
	if c.Cache.EfSearch < 0 {
		add("cache.ef_search must not be negative")
	}

	if p := c.Breaker.UnsetPercentage; p <= 0 || p > 100 {
		add("breaker.unset_percentage must be in (0, 100], got %v", p)
	}
	if c.Breaker.PollInterval <= 0 {
		add("breaker.poll_interval must be positive")
	}
	if c.Breaker.StatsTimeout <= 0 {
		add("breaker.stats_timeout must be positive")
	}

	switch c.Cluster.Mode {
	case ModeStatic:
	case ModeNATS:
		if c.Cluster.NATSURL == "" {
			add("cluster.nats_url is required in nats mode")
		}
		if id := c.Node.ID; id != "" && (!natsKeyRE.MatchString(id) || strings.HasPrefix(id, ".") || strings.HasSuffix(id, ".")) {
			add("node.id %q is not a valid nats key", id)
		}
	default:
		add("unknown cluster.mode %q", c.Cluster.Mode)
	}

	if _, err := c.Resources.IOLimitBytes(); err != nil {
		add("resources.io_limit: %v", err)
	}

	switch c.Source.Type {
	case SourceNone:
	case SourceLocal:
		if c.Source.Root == "" {
			add("source.root is required for local sources")
		}
	case SourceS3, SourceMinio:
		if c.Source.Bucket == "" {
			add("source.bucket is required for %s sources", c.Source.Type)
		}
		if c.Source.Type == SourceMinio && c.Source.Endpoint == "" {
			add("source.endpoint is required for minio sources")
		}
	default:
		add("unknown source.type %q", c.Source.Type)
	}

	seen := make(map[string]bool)
	for i, idx := range c.Indices {
		if idx.Name == "" {
			add("indices[%d].name is required", i)
		} else if seen[idx.Name] {
			add("duplicate index %q", idx.Name)
		}
		seen[idx.Name] = true
		if idx.Dir == "" {
			add("indices[%d].dir is required", i)
		}
		if idx.Space != "" {
			if _, err := native.ParseSpaceType(idx.Space); err != nil {
				add("indices[%d].space: %v", i, err)
			}
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		add("unknown log.format %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// CacheSettings resolves the cache limit against physical memory.
func (c *Config) CacheSettings() (cache.Settings, error) {
	s := cache.Settings{ExpireAfter: c.Cache.ExpireAfter}
	if !c.Cache.BreakerEnabled {
		return s, nil
	}
	limit, err := ParseLimitKB(c.Cache.Limit, memory.TotalMemory())
	if err != nil {
		return cache.Settings{}, err
	}
	s.LimitKB = limit
	return s, nil
}

// BreakerSettings returns the coordinator configuration.
func (c *Config) BreakerSettings() breaker.Config {
	return breaker.Config{
		PollInterval:    c.Breaker.PollInterval,
		UnsetPercentage: c.Breaker.UnsetPercentage,
		StatsTimeout:    c.Breaker.StatsTimeout,
	}
}

// LocalNode returns the cluster identity of this node.
func (c *Config) LocalNode() cluster.Node {
	roles := make([]cluster.Role, 0, len(c.Node.Roles))
	for _, r := range c.Node.Roles {
		roles = append(roles, cluster.Role(r))
	}
	return cluster.Node{ID: c.Node.ID, Roles: roles}
}

// IOLimitBytes returns the IO limit in bytes per second, 0 for unlimited.
func (r ResourceConfig) IOLimitBytes() (int64, error) {
	if strings.TrimSpace(r.IOLimit) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(r.IOLimit)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("io limit %q overflows", r.IOLimit)
	}
	return int64(n), nil
}

// ParseLimitKB converts a limit string to kilobytes. A trailing "%" is taken
// relative to totalBytes. Empty and "0" mean unlimited.
func ParseLimitKB(s string, totalBytes uint64) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	if pct, ok := strings.CutSuffix(s, "%"); ok {
		p, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid percentage %q", s)
		}
		if p <= 0 || p > 100 {
			return 0, fmt.Errorf("percentage %q out of range (0, 100]", s)
		}
		return int64(float64(totalBytes) * p / 100 / 1024), nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	kb := (n + 1023) / 1024
	if kb > math.MaxInt64 {
		return 0, fmt.Errorf("limit %q overflows", s)
	}
	return int64(kb), nil
}

// FormatKB renders a KB quantity for humans.
func FormatKB(kb int64) string {
	if kb <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(kb) * 1024)
}
