// Package etcd backs the coordination interfaces with an etcd cluster,
// using the concurrency package for scheduler leader election and TTL
// leases for the executor node registry.
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"clearci/pkg/coordination"
)

const (
	electionPrefix = "/clearci/elections/"
	nodePrefix     = "/clearci/nodes/"
)

type EtcdCoordinator struct {
	client  *clientv3.Client
	session *concurrency.Session
}

func NewEtcdCoordinator(endpoints []string, ttl int) (*EtcdCoordinator, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd: %w", err)
	}

	// Session keeps the election lease alive via heartbeats.
	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttl))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("creating concurrency session: %w", err)
	}

	return &EtcdCoordinator{
		client:  cli,
		session: sess,
	}, nil
}

func (c *EtcdCoordinator) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

func (c *EtcdCoordinator) NewElection(name string) coordination.Election {
	e := concurrency.NewElection(c.session, electionPrefix+name)
	return &EtcdElection{election: e}
}

// EtcdElection wraps the etcd concurrency.Election struct
type EtcdElection struct {
	election *concurrency.Election
}

func (e *EtcdElection) Campaign(ctx context.Context, value string) error {
	return e.election.Campaign(ctx, value)
}

func (e *EtcdElection) Resign(ctx context.Context) error {
	return e.election.Resign(ctx)
}

func (e *EtcdElection) Leader(ctx context.Context) (string, error) {
	resp, err := e.election.Leader(ctx)
	if err != nil {
		return "", err
	}
	return string(resp.Kvs[0].Value), nil
}

// RegisterNode writes the node's metadata under a fresh TTL lease. The
// executor heartbeat loop calls this repeatedly; if the process dies the
// lease expires and the entry vanishes on its own.
func (c *EtcdCoordinator) RegisterNode(ctx context.Context, nodeID string, meta coordination.NodeMeta, ttl int) error {
	lease, err := c.client.Grant(ctx, int64(ttl))
	if err != nil {
		return fmt.Errorf("granting lease: %w", err)
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling node meta: %w", err)
	}

	_, err = c.client.Put(ctx, nodePrefix+nodeID, string(payload), clientv3.WithLease(lease.ID))
	if err != nil {
		return fmt.Errorf("putting node key: %w", err)
	}
	return nil
}

// GetActiveNodes lists every node whose lease has not expired.
func (c *EtcdCoordinator) GetActiveNodes(ctx context.Context) ([]coordination.Node, error) {
	resp, err := c.client.Get(ctx, nodePrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	nodes := make([]coordination.Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		node := coordination.Node{
			ID: strings.TrimPrefix(string(kv.Key), nodePrefix),
		}
		// Tolerate entries written by older builds that stored a bare
		// status string instead of JSON.
		_ = json.Unmarshal(kv.Value, &node.Meta)
		nodes = append(nodes, node)
	}
	return nodes, nil
}
