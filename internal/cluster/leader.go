// Package cluster provides raft-based leader election used to gate
// singleton background work — currently only the session-expiry sweeper —
// across a fleet of broker instances. It does not replicate connection or
// session state: Postgres remains the single source of truth for both, so
// the FSM backing this raft group is a no-op.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	appmetrics "github.com/dropDatabas3/authbroker/internal/metrics"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// noopFSM satisfies raft.FSM without applying anything; this raft group
// exists purely to elect a leader.
type noopFSM struct{}

func (noopFSM) Apply(*raft.Log) interface{}        { return nil }
func (noopFSM) Snapshot() (raft.FSMSnapshot, error) { return noopSnapshot{}, nil }
func (noopFSM) Restore(rc io.ReadCloser) error      { return rc.Close() }

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}

// NodeOptions configures a leader-election-only raft node.
type NodeOptions struct {
	NodeID   string
	RaftAddr string
	RaftDir  string
	// Peers is the static cluster membership (nodeID -> raftAddr). A single
	// entry means a single-node cluster that always leads.
	Peers map[string]string
}

// Node wraps a raft.Raft instance used only to ask "am I the leader".
type Node struct {
	r    *raft.Raft
	id   raft.ServerID
	addr raft.ServerAddress
}

// NewNode starts (or rejoins) a raft group for leader election.
func NewNode(opts NodeOptions) (*Node, error) {
	if opts.NodeID == "" || opts.RaftAddr == "" || opts.RaftDir == "" {
		return nil, errors.New("cluster: NodeID, RaftAddr and RaftDir are required")
	}
	if err := os.MkdirAll(opts.RaftDir, 0o755); err != nil {
		return nil, fmt.Errorf("cluster: mkdir raft dir: %w", err)
	}

	boltPath := opts.RaftDir + "/raft.db"
	boltStore, err := raftboltdb.NewBoltStore(boltPath)
	if err != nil {
		return nil, fmt.Errorf("cluster: bolt store: %w", err)
	}
	snapStore, err := raft.NewFileSnapshotStore(opts.RaftDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: snapshot store: %w", err)
	}
	trans, err := raft.NewTCPTransport(opts.RaftAddr, nil, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: tcp transport: %w", err)
	}

	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(opts.NodeID)

	r, err := raft.NewRaft(cfg, noopFSM{}, boltStore, boltStore, snapStore, trans)
	if err != nil {
		return nil, fmt.Errorf("cluster: new raft: %w", err)
	}

	go func(ch <-chan bool) {
		for v := range ch {
			if v {
				appmetrics.RaftLeadershipChanges.Inc()
			}
		}
	}(r.LeaderCh())

	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for range t.C {
			if st, err := os.Stat(boltPath); err == nil {
				appmetrics.RaftLogSizeBytes.Set(float64(st.Size()))
			}
		}
	}()

	hasState, err := raft.HasExistingState(boltStore, boltStore, snapStore)
	if err != nil {
		return nil, fmt.Errorf("cluster: check state: %w", err)
	}
	if !hasState {
		servers := []raft.Server{{ID: cfg.LocalID, Address: trans.LocalAddr()}}
		if len(opts.Peers) > 1 {
			servers = servers[:0]
			for id, addr := range opts.Peers {
				servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(addr)})
			}
		}
		if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
			return nil, fmt.Errorf("cluster: bootstrap: %w", err)
		}
	}

	return &Node{r: r, id: cfg.LocalID, addr: trans.LocalAddr()}, nil
}

// IsLeader reports whether this node currently holds raft leadership.
func (n *Node) IsLeader() bool {
	if n == nil || n.r == nil {
		return false
	}
	return n.r.State() == raft.Leader
}

// LeaderCh reports leadership transitions, true on acquiring leadership.
func (n *Node) LeaderCh() <-chan bool {
	if n == nil || n.r == nil {
		return nil
	}
	return n.r.LeaderCh()
}

func (n *Node) NodeID() string {
	if n == nil {
		return ""
	}
	return string(n.id)
}

func (n *Node) Close(ctx context.Context) error {
	if n == nil || n.r == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- n.r.Shutdown().Error() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// SingleNode is a always-leader stand-in used when no cluster is
// configured (single-instance deployments, tests) — the sweeper still goes
// through the Leader interface, it just never yields.
type SingleNode struct{}

func (SingleNode) IsLeader() bool        { return true }
func (SingleNode) LeaderCh() <-chan bool { return nil }
