package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ErrEmptyPath is returned by NewReloader for an empty path.
var ErrEmptyPath = errors.New("config: reload path is empty")

// ApplyFunc receives every successfully parsed configuration that differs
// from the previous one.
type ApplyFunc func(*Config) error

// Reloader re-reads a configuration file on an interval and on SIGHUP. A file
// that fails to parse or apply leaves the last good configuration active.
type Reloader struct {
	path     string
	interval time.Duration
	apply    ApplyFunc
	logger   *slog.Logger

	mu      sync.RWMutex
	current *Config
	hash    string
	lastErr error
}

// NewReloader loads path once and returns a Reloader holding it. The initial
// load does not call apply.
func NewReloader(path string, interval time.Duration, apply ApplyFunc, logger *slog.Logger) (*Reloader, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Reloader{path: path, interval: interval, apply: apply, logger: logger}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	r.current, r.hash = cfg, digest(data)
	return r, nil
}

// Config returns the active configuration.
func (r *Reloader) Config() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// LastError returns the error of the most recent reload, if any.
func (r *Reloader) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Reload re-reads the file. It reports whether a new configuration was applied.
func (r *Reloader) Reload() (bool, error) {
	changed, err := r.reload()
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
	return changed, err
}

func (r *Reloader) reload() (bool, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return false, fmt.Errorf("config: read %s: %w", r.path, err)
	}

	hash := digest(data)
	r.mu.RLock()
	same := hash == r.hash
	r.mu.RUnlock()
	if same {
		return false, nil
	}

	cfg, err := Parse(data)
	if err != nil {
		return false, err
	}
	if r.apply != nil {
		if err := r.apply(cfg); err != nil {
			return false, fmt.Errorf("config: apply: %w", err)
		}
	}

	r.mu.Lock()
	r.current, r.hash = cfg, hash
	r.mu.Unlock()

	r.logger.Info("configuration reloaded", "path", r.path, "sha256", hash[:12])
	return true, nil
}

// Run blocks, reloading until ctx is done.
func (r *Reloader) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	for {
		select {
		case <-tick:
			if _, err := r.Reload(); err != nil {
				r.logger.Error("periodic config reload failed, keeping previous config", "error", err)
			}
		case <-sighup:
			if _, err := r.Reload(); err != nil {
				r.logger.Error("SIGHUP config reload failed, keeping previous config", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func digest(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
