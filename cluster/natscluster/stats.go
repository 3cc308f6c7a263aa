package natscluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/hupe1980/knncache/cluster"
)

// DefaultStatsSubject is the subject capacity requests are published on.
const DefaultStatsSubject = "knncache.stats.capacity"

// Responder answers capacity requests for the local node.
type Responder struct {
	sub *nats.Subscription
}

// NewResponder subscribes to subject and replies with report().
func NewResponder(nc *nats.Conn, subject, nodeID string, report cluster.CapacityFunc, logger *slog.Logger) (*Responder, error) {
	if subject == "" {
		subject = DefaultStatsSubject
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		c := report()
		c.NodeID = nodeID
		data, err := json.Marshal(c)
		if err != nil {
			logger.Error("encode capacity reply", "error", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			logger.Warn("send capacity reply", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("natscluster: subscribe %s: %w", subject, err)
	}
	return &Responder{sub: sub}, nil
}

// Close unsubscribes.
func (r *Responder) Close() error {
	return r.sub.Unsubscribe()
}

var _ cluster.StatsCollector = (*Collector)(nil)

// Collector gathers capacity from every live node.
type Collector struct {
	nc         *nats.Conn
	subject    string
	membership cluster.Membership
}

// NewCollector creates a collector that expects a reply from every node
// reported by membership.
func NewCollector(nc *nats.Conn, subject string, membership cluster.Membership) *Collector {
	if subject == "" {
		subject = DefaultStatsSubject
	}
	return &Collector{nc: nc, subject: subject, membership: membership}
}

// CollectCapacity publishes one request and waits until every live node has
// answered or ctx is done. A partial answer is an error.
func (c *Collector) CollectCapacity(ctx context.Context) ([]cluster.NodeCapacity, error) {
	nodes, err := c.membership.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	expected := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		expected[n.ID] = true
	}
	if len(expected) == 0 {
		return nil, fmt.Errorf("%w: no live nodes", cluster.ErrIncompleteStats)
	}

	inbox := c.nc.NewRespInbox()
	sub, err := c.nc.SubscribeSync(inbox)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := c.nc.PublishRequest(c.subject, inbox, nil); err != nil {
		return nil, err
	}

	out := make([]cluster.NodeCapacity, 0, len(expected))
	seen := make(map[string]bool, len(expected))
	for len(seen) < len(expected) {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("%w: %d of %d nodes answered: %v", cluster.ErrIncompleteStats, len(seen), len(expected), err)
			}
			return nil, err
		}

		var reply cluster.NodeCapacity
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			continue
		}
		if !expected[reply.NodeID] || seen[reply.NodeID] {
			continue
		}
		seen[reply.NodeID] = true
		out = append(out, reply)
	}
	return out, nil
}
