// Package hashring maps keys to server addresses with a consistent hash ring.
//
// Each node is placed on the ring at Replicas points hashed with xxh3. A key
// belongs to the first point at or after its own hash. Adding or removing a
// node only moves the keys of the ring segments that node owns.
package hashring

import (
	"slices"
	"sort"
	"strconv"

	"github.com/zeebo/xxh3"
)

const DefaultReplicas = 160

type point struct {
	hash uint64
	node int
}

// Ring is immutable once built and safe for concurrent use.
type Ring struct {
	nodes  []string
	points []point
}

// New builds a ring over nodes. Duplicate nodes are ignored. replicas <= 0
// uses DefaultReplicas.
func New(nodes []string, replicas int) *Ring {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}

	r := &Ring{}
	for _, n := range nodes {
		if !slices.Contains(r.nodes, n) {
			r.nodes = append(r.nodes, n)
		}
	}

	r.points = make([]point, 0, len(r.nodes)*replicas)
	buf := make([]byte, 0, 64)
	for i, n := range r.nodes {
		for v := range replicas {
			buf = append(buf[:0], n...)
			buf = append(buf, '-')
			buf = strconv.AppendInt(buf, int64(v), 10)
			r.points = append(r.points, point{hash: xxh3.Hash(buf), node: i})
		}
	}

	// Ties are broken by node identity, not insertion order, so two rings
	// over the same set agree.
	sort.Slice(r.points, func(a, b int) bool {
		pa, pb := r.points[a], r.points[b]
		if pa.hash != pb.hash {
			return pa.hash < pb.hash
		}
		return r.nodes[pa.node] < r.nodes[pb.node]
	})

	return r
}

// Get returns the node owning key, or "" for an empty ring.
func (r *Ring) Get(key string) string {
	if len(r.points) == 0 {
		return ""
	}

	h := xxh3.HashString(key)
	i := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].hash >= h
	})
	if i == len(r.points) {
		i = 0
	}
	return r.nodes[r.points[i].node]
}

// Nodes returns the ring members in insertion order.
func (r *Ring) Nodes() []string {
	return slices.Clone(r.nodes)
}

func (r *Ring) Len() int {
	return len(r.nodes)
}

// Without returns a new ring without the given nodes.
func (r *Ring) Without(nodes ...string) *Ring {
	kept := make([]string, 0, len(r.nodes))
	for _, n := range r.nodes {
		if !slices.Contains(nodes, n) {
			kept = append(kept, n)
		}
	}
	return New(kept, len(r.points)/max(len(r.nodes), 1))
}
