package cluster

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingSingleNode(t *testing.T) {
	ring := NewRing(RingConfig{PartitionCount: 7, NodeName: "node-1", NodeAddr: "localhost:8099"})

	partitions := ring.GetPartitions()
	sort.Ints(partitions)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, partitions)

	p := ring.GetPartition("run-42")
	require.Equal(t, p, ring.GetPartition("run-42"))
	require.GreaterOrEqual(t, p, 0)
	require.Less(t, p, 7)
}

func TestRingSplitsPartitions(t *testing.T) {
	ring := NewRing(RingConfig{PartitionCount: 31, NodeName: "node-1"})
	ring.Join("node-2", "", false)

	local := ring.GetPartitions()
	require.NotEmpty(t, local)
	require.Less(t, len(local), 31)

	ring.Leave("node-2")
	require.Len(t, ring.GetPartitions(), 31)
}
