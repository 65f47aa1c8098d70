package graph

import (
	"sort"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/google/btree"
	"k8s.io/apimachinery/pkg/util/sets"
)

// readyQueueDegree is the B-tree degree of the queue of sortable nodes
const readyQueueDegree = 8

// Ordered returns every component in an order where each one comes after all
// of its present dependencies. The result is cached until the next mutation;
// repeated calls in between return the same nodes.
//
// A dependency cycle makes Ordered fail with a *CycleError. Nothing is cached
// in that case, so the call is retried once the cycle has been broken.
func (c *Container[K, C]) Ordered() ([]*Node[K, C], error) {
	if c.dirty {
		order, err := c.sort()
		if err != nil {
			return nil, err
		}
		c.order = order
		c.dirty = false
	}

	out := make([]*Node[K, C], len(c.order))
	copy(out, c.order)
	return out, nil
}

// OrderedKeys is Ordered reduced to keys
func (c *Container[K, C]) OrderedKeys() ([]K, error) {
	order, err := c.Ordered()
	if err != nil {
		return nil, err
	}
	keys := make([]K, len(order))
	for i, n := range order {
		keys[i] = n.key
	}
	return keys, nil
}

// sort runs Kahn's algorithm over the edges whose endpoints are both present.
// Among nodes that are ready at the same time the earliest inserted one wins.
func (c *Container[K, C]) sort() ([]*Node[K, C], error) {
	start := time.Now()

	nodes := make([]*Node[K, C], 0, c.nodes.Len())
	index := make(map[K]int, c.nodes.Len())
	for pair := c.nodes.Oldest(); pair != nil; pair = pair.Next() {
		index[pair.Key] = len(nodes)
		nodes = append(nodes, pair.Value)
	}

	inDegree := make([]int, len(nodes))
	dependents := make([][]int, len(nodes))
	for i, n := range nodes {
		for dep := range n.deps {
			j, ok := index[dep]
			if !ok {
				continue
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	ready := btree.NewG(readyQueueDegree, func(a, b int) bool { return a < b })
	for i, degree := range inDegree {
		if degree == 0 {
			ready.ReplaceOrInsert(i)
		}
	}

	order := make([]*Node[K, C], 0, len(nodes))
	for ready.Len() > 0 {
		i, _ := ready.DeleteMin()
		order = append(order, nodes[i])
		for _, j := range dependents[i] {
			inDegree[j]--
			if inDegree[j] == 0 {
				ready.ReplaceOrInsert(j)
			}
		}
	}

	if len(order) != len(nodes) {
		err := newCycleError(nodes, index, inDegree)
		c.logger.Info("dependency cycle detected", "container", c.name,
			"unsorted", len(err.Keys), "cycles", len(err.Cycles))
		c.observer.CycleDetected(c.name, len(err.Keys))
		return nil, err
	}

	elapsed := time.Since(start)
	c.logger.V(1).Info("sorted components", "container", c.name,
		"nodes", len(order), "duration", elapsed)
	c.observer.Sorted(c.name, len(order), elapsed)
	return order, nil
}

// newCycleError describes the nodes Kahn's algorithm could not place. Those are
// the members of cycles plus everything downstream of one; the strongly
// connected components among them pick out the cycles themselves.
func newCycleError[K comparable, C any](nodes []*Node[K, C], index map[K]int, inDegree []int) *CycleError[K] {
	g := graph.New(func(k K) K { return k }, graph.Directed())

	var unsorted []K
	for i, degree := range inDegree {
		if degree > 0 {
			unsorted = append(unsorted, nodes[i].key)
			_ = g.AddVertex(nodes[i].key)
		}
	}

	selfLoops := sets.New[K]()
	for _, key := range unsorted {
		for dep := range nodes[index[key]].deps {
			if dep == key {
				selfLoops.Insert(key)
				continue
			}
			if j, ok := index[dep]; ok && inDegree[j] > 0 {
				_ = g.AddEdge(dep, key)
			}
		}
	}

	byIndex := func(keys []K) {
		sort.Slice(keys, func(a, b int) bool { return index[keys[a]] < index[keys[b]] })
	}

	// Only fails for undirected graphs
	components, _ := graph.StronglyConnectedComponents(g)

	var cycles [][]K
	for _, component := range components {
		if len(component) == 1 && !selfLoops.Has(component[0]) {
			continue
		}
		byIndex(component)
		cycles = append(cycles, component)
	}
	sort.Slice(cycles, func(a, b int) bool {
		return index[cycles[a][0]] < index[cycles[b][0]]
	})

	return &CycleError[K]{Keys: unsorted, Cycles: cycles}
}
