package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc/pool"

	"github.com/chazu/ordinal/pkg/graph"
)

// ErrDuplicateOwner is returned when registering a container under a name
// that is already taken
var ErrDuplicateOwner = errors.New("owner already registered")

// FleetConfig contains configuration for a fleet
type FleetConfig struct {
	// MaxConcurrency is the maximum number of owners walked concurrently
	// Default: 10
	MaxConcurrency int

	// Walker configures the walker shared by every owner
	Walker WalkerConfig
}

// DefaultFleetConfig returns the default fleet configuration
func DefaultFleetConfig() FleetConfig {
	return FleetConfig{
		MaxConcurrency: 10,
		Walker:         DefaultWalkerConfig(),
	}
}

// Fleet walks many owner containers. Every container is only ever touched by
// the goroutine walking it, so containers need no locking of their own as
// long as callers do not mutate them while PassAll is running.
type Fleet[K comparable, C any] struct {
	config FleetConfig
	walker *Walker[K, C]

	mu     sync.Mutex
	owners map[string]*graph.Container[K, C]
	tick   uint64
}

// NewFleet creates an empty fleet
func NewFleet[K comparable, C any](config FleetConfig) *Fleet[K, C] {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultFleetConfig().MaxConcurrency
	}
	return &Fleet[K, C]{
		config: config,
		walker: NewWalker[K, C](config.Walker),
		owners: make(map[string]*graph.Container[K, C]),
	}
}

// Register adds the container under its name
func (f *Fleet[K, C]) Register(c *graph.Container[K, C]) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("container must be created with a name")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.owners[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOwner, name)
	}
	f.owners[name] = c
	return nil
}

// Unregister removes the named owner. It reports whether the owner existed.
func (f *Fleet[K, C]) Unregister(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, exists := f.owners[name]
	delete(f.owners, name)
	return exists
}

// Owners returns the registered owner names, sorted
func (f *Fleet[K, C]) Owners() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.owners))
	for name := range f.owners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tick returns the number of completed PassAll calls
func (f *Fleet[K, C]) Tick() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tick
}

// PassAll walks every owner once, concurrently. A failing owner does not stop
// the others; all owner errors are joined into the returned error. Owners
// whose order could not be computed have no entry in the returned map.
func (f *Fleet[K, C]) PassAll(ctx context.Context) (map[string]*PassState[K], error) {
	f.mu.Lock()
	f.tick++
	tick := f.tick
	owners := make(map[string]*graph.Container[K, C], len(f.owners))
	for name, c := range f.owners {
		owners[name] = c
	}
	f.mu.Unlock()

	logger := logr.FromContextOrDiscard(ctx)
	logger.V(1).Info("Starting fleet pass", "tick", tick, "owners", len(owners))

	var (
		resultsMu sync.Mutex
		results   = make(map[string]*PassState[K], len(owners))
		errs      []error
	)

	p := pool.New().WithMaxGoroutines(f.config.MaxConcurrency)
	for name, c := range owners {
		p.Go(func() {
			state, err := f.walker.Pass(ctx, c, tick)

			resultsMu.Lock()
			defer resultsMu.Unlock()
			if state != nil {
				results[name] = state
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("owner %s: %w", name, err))
			}
		})
	}
	p.Wait()

	// Map iteration above is unordered; sort for a stable error message.
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return results, errors.Join(errs...)
}
