package natscluster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hupe1980/knncache/cluster"
)

const (
	// DefaultSettingsBucket holds cluster-wide settings.
	DefaultSettingsBucket = "knncache_settings"
	breakerTriggeredKey   = "circuit_breaker.triggered"
)

var _ cluster.SettingsStore = (*Settings)(nil)

// Settings stores the breaker flag in a JetStream KV bucket.
type Settings struct {
	kv jetstream.KeyValue
}

// NewSettings opens (or creates) the settings bucket.
func NewSettings(ctx context.Context, nc *nats.Conn, bucketName string) (*Settings, error) {
	if bucketName == "" {
		bucketName = DefaultSettingsBucket
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	kv, err := bucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      bucketName,
		Description: "knncache cluster settings",
		History:     5,
	})
	if err != nil {
		return nil, err
	}
	return &Settings{kv: kv}, nil
}

// BreakerTriggered reads the flag. A missing key means not triggered.
func (s *Settings) BreakerTriggered(ctx context.Context) (bool, error) {
	v, _, err := s.BreakerState(ctx)
	return v, err
}

// BreakerState reads the flag with its KV revision. A missing key is
// revision 0.
func (s *Settings) BreakerState(ctx context.Context) (bool, uint64, error) {
	entry, err := s.kv.Get(ctx, breakerTriggeredKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("natscluster: read breaker flag: %w", err)
	}
	v, err := strconv.ParseBool(string(entry.Value()))
	if err != nil {
		return false, 0, fmt.Errorf("natscluster: malformed breaker flag %q: %w", entry.Value(), err)
	}
	return v, entry.Revision(), nil
}

// SetBreakerTriggered writes the flag.
func (s *Settings) SetBreakerTriggered(ctx context.Context, triggered bool) error {
	if _, err := s.kv.Put(ctx, breakerTriggeredKey, []byte(strconv.FormatBool(triggered))); err != nil {
		return fmt.Errorf("natscluster: write breaker flag: %w", err)
	}
	return nil
}

// ClearBreaker writes false only if the flag is still at rev.
func (s *Settings) ClearBreaker(ctx context.Context, rev uint64) error {
	_, err := s.kv.Update(ctx, breakerTriggeredKey, []byte(strconv.FormatBool(false)), rev)
	if err == nil {
		return nil
	}
	if isRevisionConflict(err) {
		return fmt.Errorf("%w: %v", cluster.ErrBreakerChanged, err)
	}
	return fmt.Errorf("natscluster: clear breaker flag: %w", err)
}

func isRevisionConflict(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return true
	}
	return errors.Is(err, jetstream.ErrKeyExists) || strings.Contains(err.Error(), "wrong last sequence")
}
