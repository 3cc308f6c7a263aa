// Package natscluster implements the cluster contracts over NATS.
//
// The breaker flag lives in a JetStream key-value bucket. Membership is a
// second bucket with a TTL: every node rewrites its own key on each heartbeat
// and disappears when it stops. The coordinator is the live cluster-manager
// node with the lowest ID. Capacity is collected by scatter-gather: the
// coordinator publishes one request and waits for a reply from every live node.
package natscluster
