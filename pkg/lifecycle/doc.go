// Package lifecycle drives per-component hooks over a graph.Container.
//
// A pass reads the container order once and then sweeps it three times:
// PreTick on every component, then Tick, then PostTick. Components opt in to
// each phase by implementing PreTicker, Ticker or PostTicker; components
// implementing none of them are still tracked in the pass state.
//
// A Fleet runs passes over many named containers concurrently. Each container
// is only touched by the goroutine walking it.
package lifecycle
