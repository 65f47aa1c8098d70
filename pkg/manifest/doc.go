// Package manifest loads registration manifests and replays them into a
// graph.Container.
//
// A manifest is the mutation sequence that builds a container, written down.
// Replaying the same manifest always yields the same order, and the optional
// expect and fingerprint fields let a manifest assert that it does. Manifests
// are accepted as CUE, YAML or JSON.
package manifest
