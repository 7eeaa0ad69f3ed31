package cluster

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleNode_AlwaysLeader(t *testing.T) {
	var n SingleNode
	assert.True(t, n.IsLeader())
	assert.Nil(t, n.LeaderCh())
}

func TestNewNode_RequiresOptions(t *testing.T) {
	_, err := NewNode(NodeOptions{})
	require.Error(t, err)
}

func TestNode_NilSafe(t *testing.T) {
	var n *Node
	assert.False(t, n.IsLeader())
	assert.Nil(t, n.LeaderCh())
	assert.Equal(t, "", n.NodeID())
	assert.NoError(t, n.Close(context.Background()))
}

// TestNewNode_SingleNodeBecomesLeader bootstraps a real single-member raft
// group and waits for it to elect itself, exercising the full NewNode path
// used by cmd/broker when cluster.mode=embedded.
func TestNewNode_SingleNodeBecomesLeader(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft bootstrap in short mode")
	}
	dir := t.TempDir()
	nodeID := "node-1"
	node, err := NewNode(NodeOptions{
		NodeID:   nodeID,
		RaftAddr: "127.0.0.1:0",
		RaftDir:  dir,
		Peers:    map[string]string{nodeID: "127.0.0.1:0"},
	})
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = node.Close(ctx)
	}()

	assert.Equal(t, nodeID, node.NodeID())

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if node.IsLeader() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("node never became leader")
}

func TestNewNode_CreatesRaftDir(t *testing.T) {
	dir := t.TempDir() + "/nested"
	_, err := os.Stat(dir)
	require.Error(t, err)

	node, err := NewNode(NodeOptions{NodeID: "n1", RaftAddr: "127.0.0.1:0", RaftDir: dir})
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = node.Close(ctx)
	}()

	_, err = os.Stat(dir)
	assert.NoError(t, err)
}
