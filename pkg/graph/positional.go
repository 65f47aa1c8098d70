package graph

// AddAfter adds the component under key so that it runs after target.
// Target does not need to exist yet.
func (c *Container[K, C]) AddAfter(target, key K, component C) {
	c.Add(key, component, target)
}

// AddBefore adds the component under key without dependencies of its own and
// makes target depend on it. When target is absent the component is still
// added, unconstrained; the ordering applies once target is added with a
// dependency on key.
func (c *Container[K, C]) AddBefore(target, key K, component C) {
	c.Add(key, component)
	if n, ok := c.nodes.Get(target); ok && target != key {
		n.deps.Insert(key)
	}
}

// AddFirst adds the component under key and makes every current root depend
// on it. Roots are evaluated once, at call time; components added later are
// not affected.
func (c *Container[K, C]) AddFirst(key K, component C) {
	roots := c.roots(&key)
	c.Add(key, component)
	for _, n := range roots {
		n.deps.Insert(key)
	}
}

// AddTail adds the component under key depending on every current leaf.
// Leaves are evaluated once, at call time.
func (c *Container[K, C]) AddTail(key K, component C) {
	leaves := c.leaves(&key)
	deps := make([]K, 0, len(leaves))
	for _, n := range leaves {
		deps = append(deps, n.key)
	}
	c.Add(key, component, deps...)
}
