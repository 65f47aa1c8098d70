// Package snapshot saves the components of a container in order and tracks
// how successive snapshots differ.
//
// Only the order and the encoded payloads are saved. Restoring the entries
// into an empty container in snapshot order reproduces the same order, so the
// dependency graph itself never needs to be persisted.
package snapshot
