package natscluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// bucket opens cfg.Bucket, creating it if it does not exist yet.
func bucket(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("natscluster: open bucket %s: %w", cfg.Bucket, err)
	}

	kv, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		// Another node may have created it concurrently.
		if existing, gerr := js.KeyValue(ctx, cfg.Bucket); gerr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("natscluster: create bucket %s: %w", cfg.Bucket, err)
	}
	return kv, nil
}
