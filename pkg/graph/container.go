package graph

import (
	"github.com/go-logr/logr"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Node is a single keyed component together with the keys it must run after
type Node[K comparable, C any] struct {
	key       K
	component C

	// deps may contain keys that are not present in the container
	deps sets.Set[K]
}

// Key returns the node's key
func (n *Node[K, C]) Key() K {
	return n.key
}

// Component returns the payload stored for the node
func (n *Node[K, C]) Component() C {
	return n.component
}

// Dependencies returns the declared dependency keys, soft ones included.
// The order of the returned slice is unspecified.
func (n *Node[K, C]) Dependencies() []K {
	return n.deps.UnsortedList()
}

// DependsOn reports whether key is in the node's dependency set
func (n *Node[K, C]) DependsOn(key K) bool {
	return n.deps.Has(key)
}

// Container holds keyed components and produces them in dependency order.
//
// Insertion order is preserved and used to break ties between components that
// could run at the same position, so identical mutation sequences always yield
// identical orders. Overwriting a key keeps its original position.
type Container[K comparable, C any] struct {
	name     string
	logger   logr.Logger
	observer Observer

	nodes *orderedmap.OrderedMap[K, *Node[K, C]]

	// order is the cached result of the last successful sort
	order []*Node[K, C]
	dirty bool
}

// New returns an empty container
func New[K comparable, C any](opts ...Option) *Container[K, C] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Container[K, C]{
		name:     o.name,
		logger:   o.logger,
		observer: o.observer,
		nodes:    orderedmap.New[K, *Node[K, C]](),
		dirty:    true,
	}
}

// Name returns the name the container was created with
func (c *Container[K, C]) Name() string {
	return c.name
}

// Get returns the component stored under key
func (c *Container[K, C]) Get(key K) (C, bool) {
	n, ok := c.nodes.Get(key)
	if !ok {
		var zero C
		return zero, false
	}
	return n.component, true
}

// Contains reports whether a component is stored under key
func (c *Container[K, C]) Contains(key K) bool {
	_, ok := c.nodes.Get(key)
	return ok
}

// Add inserts the component under key, replacing any existing component and
// dependency set for that key. Dependencies are not required to exist.
func (c *Container[K, C]) Add(key K, component C, dependencies ...K) {
	c.nodes.Set(key, &Node[K, C]{
		key:       key,
		component: component,
		deps:      sets.New(dependencies...),
	})
	c.invalidate()
}

// AddDependency makes dependent run after dependency. The dependency key does
// not need to exist, but dependent does.
func (c *Container[K, C]) AddDependency(dependent, dependency K) error {
	n, ok := c.nodes.Get(dependent)
	if !ok {
		return &KeyError[K]{Op: "add dependency", Key: dependent}
	}
	n.deps.Insert(dependency)
	c.invalidate()
	return nil
}

// RemoveDependency drops dependency from dependent's dependency set.
// Removing a dependency that was never declared is not an error.
func (c *Container[K, C]) RemoveDependency(dependent, dependency K) error {
	n, ok := c.nodes.Get(dependent)
	if !ok {
		return &KeyError[K]{Op: "remove dependency", Key: dependent}
	}
	n.deps.Delete(dependency)
	c.invalidate()
	return nil
}

// Remove deletes the component stored under key. Dependency sets of other
// components are left untouched; entries naming key become soft.
func (c *Container[K, C]) Remove(key K) {
	c.nodes.Delete(key)
	c.invalidate()
}

// Clear removes every component
func (c *Container[K, C]) Clear() {
	c.nodes = orderedmap.New[K, *Node[K, C]]()
	c.invalidate()
}

// Len returns the number of components
func (c *Container[K, C]) Len() int {
	return c.nodes.Len()
}

// Keys returns all keys in insertion order
func (c *Container[K, C]) Keys() []K {
	keys := make([]K, 0, c.nodes.Len())
	for pair := c.nodes.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Dependencies returns the declared dependencies of key, soft ones included
func (c *Container[K, C]) Dependencies(key K) ([]K, bool) {
	n, ok := c.nodes.Get(key)
	if !ok {
		return nil, false
	}
	return n.Dependencies(), true
}

// Dirty reports whether the next Ordered call has to sort
func (c *Container[K, C]) Dirty() bool {
	return c.dirty
}

// Roots returns, in insertion order, the keys of components whose dependencies
// are all absent from the container
func (c *Container[K, C]) Roots() []K {
	var roots []K
	for _, n := range c.roots(nil) {
		roots = append(roots, n.key)
	}
	return roots
}

// Leaves returns, in insertion order, the keys of components no other present
// component depends on
func (c *Container[K, C]) Leaves() []K {
	var leaves []K
	for _, n := range c.leaves(nil) {
		leaves = append(leaves, n.key)
	}
	return leaves
}

// roots collects nodes with an empty effective dependency set, skipping the
// node stored under exclude when it is non-nil.
func (c *Container[K, C]) roots(exclude *K) []*Node[K, C] {
	var roots []*Node[K, C]
	for pair := c.nodes.Oldest(); pair != nil; pair = pair.Next() {
		if exclude != nil && pair.Key == *exclude {
			continue
		}
		if c.effectiveDegree(pair.Value) == 0 {
			roots = append(roots, pair.Value)
		}
	}
	return roots
}

// leaves collects nodes nothing depends on. The node under exclude is neither
// a candidate nor counted as a dependent.
func (c *Container[K, C]) leaves(exclude *K) []*Node[K, C] {
	dependedOn := sets.New[K]()
	for pair := c.nodes.Oldest(); pair != nil; pair = pair.Next() {
		if exclude != nil && pair.Key == *exclude {
			continue
		}
		dependedOn.Insert(pair.Value.deps.UnsortedList()...)
	}

	var leaves []*Node[K, C]
	for pair := c.nodes.Oldest(); pair != nil; pair = pair.Next() {
		if exclude != nil && pair.Key == *exclude {
			continue
		}
		if !dependedOn.Has(pair.Key) {
			leaves = append(leaves, pair.Value)
		}
	}
	return leaves
}

// effectiveDegree counts the dependencies of n that are present
func (c *Container[K, C]) effectiveDegree(n *Node[K, C]) int {
	degree := 0
	for dep := range n.deps {
		if c.Contains(dep) {
			degree++
		}
	}
	return degree
}

func (c *Container[K, C]) invalidate() {
	c.dirty = true
}
