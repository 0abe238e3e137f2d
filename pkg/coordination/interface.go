package coordination

import (
	"context"
)

// SchedulerElection is the campaign name the scheduler's leader election
// runs under. The API server uses the same name to answer leader queries.
const SchedulerElection = "scheduler"

// NodeMeta describes an executor node for the cluster registry.
type NodeMeta struct {
	Hostname string `json:"hostname"`
	CPUs     int    `json:"cpus"`
	MemoryMB uint64 `json:"memory_mb"`
	Version  string `json:"version,omitempty"`
}

// Node is one live executor as seen through the registry.
type Node struct {
	ID   string   `json:"id"`
	Meta NodeMeta `json:"meta"`
}

// Coordinator handles distributed coordination tasks: leader election for
// the scheduler and the live node registry for executors.
type Coordinator interface {
	// NewElection creates a new election instance for a given campaign name.
	NewElection(name string) Election

	// RegisterNode refreshes this node's registry entry under a TTL lease.
	// Executors call it from their heartbeat loop; an entry whose lease
	// lapses disappears from GetActiveNodes.
	RegisterNode(ctx context.Context, nodeID string, meta NodeMeta, ttl int) error

	// GetActiveNodes lists nodes whose leases are still alive.
	GetActiveNodes(ctx context.Context) ([]Node, error)

	// Close terminates the coordinator connection.
	Close() error
}

// Election represents a single leader election campaign.
type Election interface {
	// Campaign starts the process of trying to become leader.
	// It blocks until leadership is acquired or an error occurs.
	Campaign(ctx context.Context, value string) error

	// Resign releases leadership.
	Resign(ctx context.Context) error

	// Leader returns the current leader's value (if any).
	Leader(ctx context.Context) (string, error)
}
