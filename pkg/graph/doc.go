// Package graph provides the ordered component container: a mutable set of
// keyed components with "must run after" dependencies that lazily computes and
// caches a deterministic topological order.
//
// Dependencies may name keys that are not present yet. Such soft edges have no
// effect on ordering until a component with that key is added. Cycles are only
// detected when the order is read.
//
// A Container is not safe for concurrent use. It is meant to be owned by a
// single goroutine; callers sharing one must synchronise externally.
package graph
