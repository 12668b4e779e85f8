// Package hnsw implements a Hierarchical Navigable Small World graph over
// cosine distance, used as the approximate nearest-neighbor index for
// cell embeddings. Build once (Insert), persist with Save, and query many
// times with KNNSearch; queries never mutate the graph.
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// SearchResult is one neighbor: the id assigned at Insert time and the
// cosine distance to the query.
type SearchResult struct {
	ID       uint32
	Distance float32
}

// node represents a node in the HNSW graph.
type node struct {
	Connections [][]uint32 // Links to other nodes, one slice per layer
	Vector      []float32
	Layer       int
	ID          uint32
}

// Options represents the options for configuring HNSW construction.
type Options struct {
	// M specifies the number of established connections for every new
	// element during construction. The range M=12-48 is ok for most use
	// cases; higher intrinsic dimensionality wants higher M.
	M int

	// EFConstruction specifies the size of the dynamic candidate list
	// during construction. Larger values improve graph quality at the
	// cost of build time.
	EFConstruction int

	// Heuristic selects the neighbor-selection heuristic (true) over the
	// naive nearest-M selection (false).
	Heuristic bool

	// Seed makes level assignment reproducible.
	Seed int64
}

// DefaultOptions are sensible construction defaults for embedding-sized
// vectors.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	Heuristic:      true,
	Seed:           1,
}

// HNSW represents the Hierarchical Navigable Small World graph.
type HNSW struct {
	dimension int
	mmax      int     // Max number of connections per element/per layer
	mmax0     int     // Max for the 0 layer
	ml        float64 // Normalization factor for level generation
	ep        uint32  // Entry point into the top layer
	maxLevel  int

	nodes []*node
	rng   *rand.Rand

	opts Options

	mutex sync.Mutex
}

// New creates a new HNSW instance for vectors of the given dimension.
func New(dimension int, optFns ...func(o *Options)) *HNSW {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would make the level normalization 1/log(M) blow up.
		opts.M = 2
	}

	return &HNSW{
		dimension: dimension,
		mmax:      opts.M,
		mmax0:     2 * opts.M,
		ml:        1 / math.Log(float64(opts.M)),
		rng:       rand.New(rand.NewSource(opts.Seed)),
		opts:      opts,
	}
}

// Dimension returns the vector dimensionality of the graph.
func (h *HNSW) Dimension() int { return h.dimension }

// Len returns the number of inserted vectors.
func (h *HNSW) Len() int { return len(h.nodes) }

// Insert inserts a new vector and returns its id. Ids are assigned
// densely in insertion order, so inserting a corpus row-by-row makes
// search results index directly into that corpus.
func (h *HNSW) Insert(v []float32) (uint32, error) {
	if len(v) != h.dimension {
		return 0, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(v)}
	}

	// Copy so later caller mutations don't reach into the graph.
	vectorCopy := make([]float32, len(v))
	copy(vectorCopy, v)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	id := uint32(len(h.nodes))

	layer := int(math.Floor(-math.Log(h.rng.Float64()) * h.ml))

	n := &node{
		ID:          id,
		Vector:      vectorCopy,
		Layer:       layer,
		Connections: make([][]uint32, max(layer, h.mmax)+1),
	}

	// First node becomes the entry point.
	if len(h.nodes) == 0 {
		h.nodes = append(h.nodes, n)
		h.ep = n.ID
		h.maxLevel = n.Layer
		return n.ID, nil
	}

	// Greedy descent through the layers above the new node's layer gives
	// the starting point for candidate search.
	currObj, currDist := h.findShortestPath(n)

	topCandidates := &priorityQueue{}

	for level := min(n.Layer, h.maxLevel); level >= 0; level-- {
		h.searchLayer(vectorCopy, &priorityQueueItem{Distance: currDist, Node: currObj.ID}, topCandidates, h.opts.EFConstruction, level)

		if h.opts.Heuristic {
			h.selectNeighboursHeuristic(topCandidates, h.opts.M, false)
		} else {
			h.selectNeighboursSimple(topCandidates, h.opts.M)
		}

		n.Connections[level] = make([]uint32, topCandidates.Len())

		for i := topCandidates.Len() - 1; i >= 0; i-- {
			candidate, _ := heap.Pop(topCandidates).(*priorityQueueItem)
			n.Connections[level][i] = candidate.Node
		}
	}

	h.nodes = append(h.nodes, n)

	// Link the neighbours back to the new node, making it visible.
	for level := min(n.Layer, h.maxLevel); level >= 0; level-- {
		for _, neighbour := range n.Connections[level] {
			h.link(neighbour, n.ID, level)
		}
	}

	if n.Layer > h.maxLevel {
		h.ep = n.ID
		h.maxLevel = n.Layer
	}

	return n.ID, nil
}

func (h *HNSW) findShortestPath(n *node) (*node, float32) {
	currObj := h.nodes[h.ep]
	currDist := cosineDistance(currObj.Vector, n.Vector)

	for level := currObj.Layer; level > n.Layer; level-- {
		changed := true
		for changed {
			changed = false

			for _, nodeID := range currObj.Connections[level] {
				newObj := h.nodes[nodeID]
				newDist := cosineDistance(newObj.Vector, n.Vector)

				if newDist < currDist {
					currObj = newObj
					currDist = newDist
					changed = true
				}
			}
		}
	}

	return currObj, currDist
}

// KNNSearch returns the k approximate nearest neighbors of q, ordered by
// ascending cosine distance. ef bounds the dynamic candidate list; larger
// values trade latency for recall. ef is clamped to at least k.
func (h *HNSW) KNNSearch(q []float32, k int, ef int) ([]SearchResult, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}
	if k <= 0 {
		return nil, fmt.Errorf("hnsw: k must be positive, got %d", k)
	}
	if len(h.nodes) == 0 {
		return nil, fmt.Errorf("hnsw: graph is empty")
	}
	if ef < k {
		ef = k
	}

	topCandidates := &priorityQueue{Order: true}
	heap.Init(topCandidates)

	currObj := h.nodes[h.ep]
	match, currDist := h.findEp(q, currObj)

	entry := currObj.ID
	if match != nil {
		entry = match.ID
	}

	h.searchLayer(q, &priorityQueueItem{Distance: currDist, Node: entry}, topCandidates, ef, 0)

	for topCandidates.Len() > k {
		_ = heap.Pop(topCandidates)
	}

	// Max-heap pops worst first; fill the result slice back to front.
	results := make([]SearchResult, topCandidates.Len())
	for i := len(results) - 1; i >= 0; i-- {
		item, _ := heap.Pop(topCandidates).(*priorityQueueItem)
		results[i] = SearchResult{ID: item.Node, Distance: item.Distance}
	}
	return results, nil
}

// BruteSearch performs an exact scan, for recall checks and small graphs.
func (h *HNSW) BruteSearch(q []float32, k int) ([]SearchResult, error) {
	if len(q) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	topCandidates := &priorityQueue{Order: true}
	heap.Init(topCandidates)

	for _, n := range h.nodes {
		dist := cosineDistance(q, n.Vector)

		if topCandidates.Len() < k {
			heap.Push(topCandidates, &priorityQueueItem{Node: n.ID, Distance: dist})
			continue
		}

		worst, _ := topCandidates.Top().(*priorityQueueItem)
		if dist < worst.Distance {
			heap.Pop(topCandidates)
			heap.Push(topCandidates, &priorityQueueItem{Node: n.ID, Distance: dist})
		}
	}

	results := make([]SearchResult, topCandidates.Len())
	for i := len(results) - 1; i >= 0; i-- {
		item, _ := heap.Pop(topCandidates).(*priorityQueueItem)
		results[i] = SearchResult{ID: item.Node, Distance: item.Distance}
	}
	return results, nil
}

// link adds a connection between nodes, pruning back to the per-level
// connection budget when exceeded.
func (h *HNSW) link(first uint32, second uint32, level int) {
	maxConnections := h.mmax
	// The bottom layer allows double the connections.
	if level == 0 {
		maxConnections = h.mmax0
	}

	n := h.nodes[first]
	if level >= len(n.Connections) {
		return
	}
	n.Connections[level] = append(n.Connections[level], second)

	if len(n.Connections[level]) > maxConnections {
		topCandidates := &priorityQueue{}
		heap.Init(topCandidates)

		for _, id := range n.Connections[level] {
			heap.Push(topCandidates, &priorityQueueItem{
				Node:     id,
				Distance: cosineDistance(n.Vector, h.nodes[id].Vector),
			})
		}

		if h.opts.Heuristic {
			h.selectNeighboursHeuristic(topCandidates, maxConnections, true)
		} else {
			h.selectNeighboursSimple(topCandidates, maxConnections)
		}

		n.Connections[level] = make([]uint32, maxConnections)

		// Order by best match (index 0) .. worst.
		for i := maxConnections - 1; i >= 0; i-- {
			item, _ := heap.Pop(topCandidates).(*priorityQueueItem)
			n.Connections[level][i] = item.Node
		}
	}
}

// searchLayer performs a candidate search in one layer of the graph.
func (h *HNSW) searchLayer(q []float32, ep *priorityQueueItem, topCandidates *priorityQueue, ef int, level int) {
	var visited bitset.BitSet
	visited.Set(uint(ep.Node))

	candidates := &priorityQueue{}
	heap.Init(candidates)
	heap.Push(candidates, ep)

	topCandidates.Order = true // max-heap
	heap.Init(topCandidates)
	heap.Push(topCandidates, ep)

	for candidates.Len() > 0 {
		lowerBound := topCandidates.Top().(*priorityQueueItem).Distance

		candidate, _ := heap.Pop(candidates).(*priorityQueueItem)
		if candidate.Distance > lowerBound {
			break
		}

		n := h.nodes[candidate.Node]

		if level < len(n.Connections) {
			for _, id := range n.Connections[level] {
				if visited.Test(uint(id)) {
					continue
				}
				visited.Set(uint(id))

				distance := cosineDistance(q, h.nodes[id].Vector)
				topDistance := topCandidates.Top().(*priorityQueueItem).Distance

				item := &priorityQueueItem{Distance: distance, Node: id}

				if topCandidates.Len() < ef {
					heap.Push(topCandidates, item)
					heap.Push(candidates, item)
				} else if topDistance > distance {
					heap.Pop(topCandidates)
					heap.Push(topCandidates, item)
					heap.Push(candidates, item)
				}
			}
		}
	}
}

// selectNeighboursSimple keeps the nearest M candidates.
func (h *HNSW) selectNeighboursSimple(topCandidates *priorityQueue, M int) {
	for topCandidates.Len() > M {
		_ = heap.Pop(topCandidates)
	}
}

// selectNeighboursHeuristic keeps candidates that are closer to the base
// point than to any already-kept candidate, which preserves graph
// connectivity across clusters.
func (h *HNSW) selectNeighboursHeuristic(topCandidates *priorityQueue, M int, order bool) {
	if topCandidates.Len() < M {
		return
	}

	newCandidates := &priorityQueue{}

	tmpCandidates := &priorityQueue{Order: order}
	heap.Init(tmpCandidates)

	items := make([]*priorityQueueItem, 0, M)

	if !order {
		newCandidates.Order = order
		heap.Init(newCandidates)

		for topCandidates.Len() > 0 {
			item, _ := heap.Pop(topCandidates).(*priorityQueueItem)
			heap.Push(newCandidates, item)
		}
	} else {
		newCandidates = topCandidates
	}

	for newCandidates.Len() > 0 {
		if len(items) >= M {
			break
		}

		item, _ := heap.Pop(newCandidates).(*priorityQueueItem)
		hit := true

		for _, v := range items {
			if cosineDistance(h.nodes[v.Node].Vector, h.nodes[item.Node].Vector) < item.Distance {
				hit = false
				break
			}
		}

		if hit {
			items = append(items, item)
		} else {
			heap.Push(tmpCandidates, item)
		}
	}

	for len(items) < M && tmpCandidates.Len() > 0 {
		item, _ := heap.Pop(tmpCandidates).(*priorityQueueItem)
		items = append(items, item)
	}

	for _, item := range items {
		heap.Push(topCandidates, item)
	}
}

// findEp descends from the global entry point to the best layer-1 start.
func (h *HNSW) findEp(q []float32, currObj *node) (*node, float32) {
	currDist := cosineDistance(q, currObj.Vector)

	var match *node

	for level := h.maxLevel; level > 0; level-- {
		scan := true

		for scan {
			scan = false

			for _, nodeID := range currObj.Connections[level] {
				nodeDist := cosineDistance(h.nodes[nodeID].Vector, q)

				if nodeDist < currDist {
					match = h.nodes[nodeID]
					currDist = nodeDist
					scan = true
				}
			}
		}
	}

	return match, currDist
}
