package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc/panics"

	"github.com/chazu/ordinal/pkg/graph"
)

// Phase names one of the three sweeps a pass makes over the components
type Phase string

const (
	// PhasePre runs PreTick on every component before any Tick
	PhasePre Phase = "PreTick"

	// PhaseTick runs Tick on every component
	PhaseTick Phase = "Tick"

	// PhasePost runs PostTick on every component after every Tick
	PhasePost Phase = "PostTick"
)

// Phases lists the phases in the order a pass runs them
var Phases = []Phase{PhasePre, PhaseTick, PhasePost}

// PreTicker is implemented by components that need to run before the tick phase
type PreTicker interface {
	PreTick(ctx context.Context) error
}

// Ticker is implemented by components with per-pass work
type Ticker interface {
	Tick(ctx context.Context) error
}

// PostTicker is implemented by components that need to run after the tick phase
type PostTicker interface {
	PostTick(ctx context.Context) error
}

// Observer receives pass and hook outcomes
type Observer interface {
	// HookCompleted is called after every hook that a component implements
	HookCompleted(owner string, phase Phase, err error)

	// PassCompleted is called once per pass, including passes aborted by a cycle
	PassCompleted(owner string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) HookCompleted(string, Phase, error)         {}
func (nopObserver) PassCompleted(string, time.Duration, error) {}

// WalkerConfig contains configuration for the walker
type WalkerConfig struct {
	// ContinueOnError keeps running the remaining hooks after a hook fails.
	// The failed component is not visited again during the pass.
	// Default: false
	ContinueOnError bool

	// HookTimeout bounds a single hook call. Zero disables the timeout.
	// Default: 0
	HookTimeout time.Duration

	// Observer is notified of hook and pass outcomes. Nil disables notifications.
	Observer Observer
}

// DefaultWalkerConfig returns the default walker configuration
func DefaultWalkerConfig() WalkerConfig {
	return WalkerConfig{
		ContinueOnError: false,
		HookTimeout:     0,
	}
}

// Walker runs component hooks in container order
type Walker[K comparable, C any] struct {
	config   WalkerConfig
	observer Observer
}

// NewWalker creates a walker
func NewWalker[K comparable, C any](config WalkerConfig) *Walker[K, C] {
	observer := config.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Walker[K, C]{
		config:   config,
		observer: observer,
	}
}

// Pass reads the container order once and runs the pre, tick and post phases
// over it. Each phase completes for every component before the next starts.
//
// A cycle aborts the pass before any hook runs and returns the ordering error
// with a nil state. Otherwise the returned state is always non-nil.
func (w *Walker[K, C]) Pass(ctx context.Context, c *graph.Container[K, C], tick uint64) (*PassState[K], error) {
	start := time.Now()
	owner := c.Name()
	logger := logr.FromContextOrDiscard(ctx).WithValues("owner", owner, "tick", tick)

	nodes, err := c.Ordered()
	if err != nil {
		logger.Error(err, "Unable to order components")
		err = fmt.Errorf("ordering components of %q: %w", owner, err)
		w.observer.PassCompleted(owner, time.Since(start), err)
		return nil, err
	}

	keys := make([]K, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, n.Key())
	}
	state := NewPassState(keys)

	ctx = CtxOwner.WithValue(ctx, owner)
	ctx = CtxTick.WithValue(ctx, tick)
	ctx = logr.NewContext(ctx, logger)

	err = w.walk(ctx, nodes, state, logger)
	state.MarkComplete()

	elapsed := time.Since(start)
	w.observer.PassCompleted(owner, elapsed, err)

	summary := state.GetSummary()
	logger.V(1).Info("Pass complete",
		"elapsed", elapsed,
		"done", summary.Done,
		"failed", summary.Failed,
		"skipped", summary.Skipped)

	return state, err
}

func (w *Walker[K, C]) walk(ctx context.Context, nodes []*graph.Node[K, C], state *PassState[K], logger logr.Logger) error {
	for _, phase := range Phases {
		phaseCtx := CtxPhase.WithValue(ctx, phase)

		for _, n := range nodes {
			key := n.Key()
			current, _ := state.GetState(key)
			if current.terminal() {
				continue
			}

			if err := ctx.Err(); err != nil {
				state.SkipRemaining()
				return err
			}

			if current == NodeStatePending {
				if err := state.SetState(key, NodeStateRunning); err != nil {
					return err
				}
			}
			_ = state.SetPhase(key, phase)

			ran, err := w.runHook(phaseCtx, phase, n.Component())
			if !ran {
				continue
			}
			w.observer.HookCompleted(CtxOwner.MustValue(ctx), phase, err)
			if err == nil {
				continue
			}

			_ = state.SetError(key, err)
			logger.Error(err, "Hook failed", "key", key, "phase", phase)

			if !w.config.ContinueOnError {
				state.SkipRemaining()
				return fmt.Errorf("%s hook of component %v: %w", phase, key, err)
			}
		}
	}

	for _, key := range state.GetNodesInState(NodeStateRunning) {
		if err := state.SetState(key, NodeStateDone); err != nil {
			return err
		}
	}

	return state.Err()
}

// runHook calls the hook for phase if component implements it. Panics are
// recovered and returned as errors.
func (w *Walker[K, C]) runHook(ctx context.Context, phase Phase, component C) (bool, error) {
	var hook func(context.Context) error
	switch phase {
	case PhasePre:
		if h, ok := any(component).(PreTicker); ok {
			hook = h.PreTick
		}
	case PhaseTick:
		if h, ok := any(component).(Ticker); ok {
			hook = h.Tick
		}
	case PhasePost:
		if h, ok := any(component).(PostTicker); ok {
			hook = h.PostTick
		}
	}
	if hook == nil {
		return false, nil
	}

	if w.config.HookTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.HookTimeout)
		defer cancel()
	}

	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = hook(ctx)
	})
	if r := pc.Recovered(); r != nil {
		return true, fmt.Errorf("panic: %v", r.Value)
	}
	return true, err
}
