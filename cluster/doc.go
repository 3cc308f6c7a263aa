// Package cluster defines the collaborators the circuit breaker needs from the
// cluster: who the nodes are and which of them coordinates, where the
// cluster-wide "breaker triggered" setting lives, and how per-node capacity is
// collected.
//
// The in-process implementations serve single-node deployments and tests.
// Package natscluster provides the same contracts over NATS.
package cluster
