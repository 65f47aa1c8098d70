package manifest

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-logr/logr"

	"github.com/chazu/ordinal/pkg/graph"
)

// NewContainer creates an empty container named after the manifest
func NewContainer(m *Manifest, opts ...graph.Option) *graph.Container[string, Component] {
	opts = append([]graph.Option{graph.WithName(m.Name)}, opts...)
	return graph.New[string, Component](opts...)
}

// Replay applies the manifest steps to c in order. It stops at the first step
// that fails; steps before it stay applied.
func Replay(ctx context.Context, m *Manifest, c *graph.Container[string, Component]) error {
	logger := logr.FromContextOrDiscard(ctx).WithValues("manifest", m.Name)

	for i, step := range m.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		logger.V(1).Info("Applying step", "index", i, "op", step.Op, "key", step.Key)
		if err := apply(step, c); err != nil {
			return fmt.Errorf("step %d (%s %s): %w", i, step.Op, step.Key, err)
		}
	}

	return nil
}

func apply(step Step, c *graph.Container[string, Component]) error {
	switch step.Op {
	case OpAdd:
		c.Add(step.Key, step.Component, step.DependsOn...)
	case OpAddAfter:
		c.AddAfter(step.Target, step.Key, step.Component)
	case OpAddBefore:
		c.AddBefore(step.Target, step.Key, step.Component)
	case OpAddFirst:
		c.AddFirst(step.Key, step.Component)
	case OpAddTail:
		c.AddTail(step.Key, step.Component)
	case OpAddDependency:
		return c.AddDependency(step.Key, step.Dependency)
	case OpRemoveDependency:
		return c.RemoveDependency(step.Key, step.Dependency)
	case OpRemove:
		c.Remove(step.Key)
	case OpClear:
		c.Clear()
	default:
		return fmt.Errorf("%w: unsupported op %q", ErrInvalid, step.Op)
	}
	return nil
}

// Verify checks the container against the manifest's expected order and
// fingerprint. Manifests without expectations always verify.
func Verify(c *graph.Container[string, Component], m *Manifest) error {
	if len(m.Expect) > 0 {
		keys, err := c.OrderedKeys()
		if err != nil {
			return err
		}
		if !slices.Equal(keys, m.Expect) {
			return fmt.Errorf("%w: order %v, want %v", ErrMismatch, keys, m.Expect)
		}
	}

	if m.Fingerprint != "" {
		changed, err := c.HasChanged(m.Fingerprint)
		if err != nil {
			return err
		}
		if changed {
			current, _ := c.Fingerprint()
			return fmt.Errorf("%w: fingerprint %s, want %s", ErrMismatch, current, m.Fingerprint)
		}
	}

	return nil
}

// Run replays the manifest into a new container and verifies it
func Run(ctx context.Context, m *Manifest, opts ...graph.Option) (*graph.Container[string, Component], error) {
	c := NewContainer(m, opts...)
	if err := Replay(ctx, m, c); err != nil {
		return c, err
	}
	if err := Verify(c, m); err != nil {
		return c, err
	}
	return c, nil
}
