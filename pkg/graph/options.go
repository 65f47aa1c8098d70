package graph

import (
	"time"

	"github.com/go-logr/logr"
)

// Observer is notified about sorts. Implementations must be cheap; they run
// inline with Ordered.
type Observer interface {
	// Sorted is called after a successful re-sort
	Sorted(container string, nodes int, elapsed time.Duration)

	// CycleDetected is called when a re-sort fails on a cycle
	CycleDetected(container string, unsorted int)
}

type nopObserver struct{}

func (nopObserver) Sorted(string, int, time.Duration) {}
func (nopObserver) CycleDetected(string, int)         {}

type options struct {
	name     string
	logger   logr.Logger
	observer Observer
}

func defaultOptions() options {
	return options{
		logger:   logr.Discard(),
		observer: nopObserver{},
	}
}

// Option configures a Container
type Option func(*options)

// WithName sets the name used in log lines and metrics
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger. Re-sorts are logged at V(1).
func WithLogger(logger logr.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver registers an observer for sort events
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}
