package cluster

import (
	"math/rand"
	"sync"

	"github.com/buraksezer/consistent"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

type hasher struct {
}

func NewHasher() *hasher {
	return &hasher{}
}

func (h hasher) Sum64(data []byte) uint64 {
	return murmur3.Sum64(data)
}

type RingConfig struct {
	PartitionCount int
	NodeName       string
	NodeAddr       string
}

type Node struct {
	name string
	addr string
}

func (n Node) String() string {
	return n.name
}

// Ring maps run ids onto task queue partitions and partitions onto nodes.
type Ring struct {
	RingConfig
	hring     *consistent.Consistent
	nodes     map[string]Node
	localNode Node
	mu        sync.Mutex
}

func NewRing(c RingConfig) *Ring {
	if c.PartitionCount <= 0 {
		c.PartitionCount = 1
	}
	cfg := consistent.Config{
		PartitionCount:    c.PartitionCount,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            NewHasher(),
	}
	r := &Ring{
		RingConfig: c,
		hring:      consistent.New(nil, cfg),
		nodes:      make(map[string]Node),
	}
	r.Join(c.NodeName, c.NodeAddr, true)
	return r
}

func (r *Ring) Join(name, addr string, isLocal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[name]; ok {
		return
	}
	node := Node{
		name: name,
		addr: addr,
	}
	logger.Info("adding member to ring", zap.String("node", name), zap.String("address", addr))
	if isLocal {
		r.localNode = node
	}
	r.nodes[name] = node
	r.hring.Add(node)
}

func (r *Ring) Leave(name string) {
	logger.Info("removing member from ring", zap.String("node", name))
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, name)
	r.hring.Remove(name)
}

func (r *Ring) GetPartition(key string) int {
	return r.hring.FindPartitionID([]byte(key))
}

// GetPartitions returns the partitions owned by the local node in random
// order so pollers do not all start on partition zero.
func (r *Ring) GetPartitions() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	partitions := make([]int, 0)
	for i := 0; i < r.PartitionCount; i++ {
		owner := r.hring.GetPartitionOwner(i)
		if owner != nil && owner.String() == r.localNode.name {
			partitions = append(partitions, i)
		}
	}
	rand.Shuffle(len(partitions), func(i, j int) {
		partitions[i], partitions[j] = partitions[j], partitions[i]
	})
	return partitions
}
