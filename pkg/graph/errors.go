package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrCycle is matched by every error reporting a dependency cycle
	ErrCycle = errors.New("dependency cycle")

	// ErrUnknownKey is matched by errors from edits to a key that is not present
	ErrUnknownKey = errors.New("unknown key")
)

// CycleError is returned when the present components cannot be ordered
type CycleError[K comparable] struct {
	// Keys lists every component that could not be placed, in insertion order
	Keys []K

	// Cycles lists each group of components that depend on each other in a
	// loop, in insertion order
	Cycles [][]K
}

func (e *CycleError[K]) Error() string {
	return fmt.Sprintf("%s: %d components cannot be ordered, cycles: %v", ErrCycle, len(e.Keys), e.Cycles)
}

func (e *CycleError[K]) Unwrap() error {
	return ErrCycle
}

// KeyError reports an operation against a key that is not in the container
type KeyError[K comparable] struct {
	Op  string
	Key K
}

func (e *KeyError[K]) Error() string {
	return fmt.Sprintf("%s: %s %v", e.Op, ErrUnknownKey, e.Key)
}

func (e *KeyError[K]) Unwrap() error {
	return ErrUnknownKey
}
