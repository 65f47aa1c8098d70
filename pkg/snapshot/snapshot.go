package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/chazu/ordinal/pkg/graph"
)

// Entry is a single component in a snapshot
type Entry struct {
	// Key is the %v form of the component key
	Key string `json:"key"`

	// Payload is the caller-encoded component
	Payload []byte `json:"payload,omitempty"`

	// Digest is the xxhash of Payload, used to detect changed components
	Digest string `json:"digest"`
}

// Snapshot records the components of a container in order. Dependencies are
// not recorded: restoring in snapshot order reproduces the order without them.
type Snapshot struct {
	// Name is the container name
	Name string `json:"name"`

	// Fingerprint is the container's order fingerprint when the snapshot was taken
	Fingerprint string `json:"fingerprint"`

	// Entries follow the container order
	Entries []Entry `json:"entries"`

	// TakenAt is when the snapshot was taken
	TakenAt time.Time `json:"takenAt"`
}

// Encoder turns a component into bytes
type Encoder[C any] func(component C) ([]byte, error)

// Decoder turns a snapshot entry back into a key and component
type Decoder[K comparable, C any] func(key string, payload []byte) (K, C, error)

// JSON is an Encoder using encoding/json
func JSON[C any](component C) ([]byte, error) {
	return json.Marshal(component)
}

// Take snapshots the container in its current order. It fails if the
// container cannot be ordered or a component cannot be encoded.
func Take[K comparable, C any](c *graph.Container[K, C], encode Encoder[C]) (*Snapshot, error) {
	nodes, err := c.Ordered()
	if err != nil {
		return nil, fmt.Errorf("failed to order container %q: %w", c.Name(), err)
	}

	fingerprint, err := c.Fingerprint()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(nodes))
	for _, n := range nodes {
		payload, err := encode(n.Component())
		if err != nil {
			return nil, fmt.Errorf("failed to encode component %v: %w", n.Key(), err)
		}
		entries = append(entries, Entry{
			Key:     fmt.Sprintf("%v", n.Key()),
			Payload: payload,
			Digest:  Digest(payload),
		})
	}

	return &Snapshot{
		Name:        c.Name(),
		Fingerprint: fingerprint,
		Entries:     entries,
		TakenAt:     time.Now().UTC(),
	}, nil
}

// Restore adds every entry to c in snapshot order, without dependencies.
// On an empty container the resulting order matches the snapshot.
func Restore[K comparable, C any](s *Snapshot, c *graph.Container[K, C], decode Decoder[K, C]) error {
	for i, entry := range s.Entries {
		key, component, err := decode(entry.Key, entry.Payload)
		if err != nil {
			return fmt.Errorf("failed to decode entry %d (%s): %w", i, entry.Key, err)
		}
		c.Add(key, component)
	}
	return nil
}

// Digest returns the content digest used for entries
func Digest(payload []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(payload))
}

// Keys returns the entry keys in order
func (s *Snapshot) Keys() []string {
	keys := make([]string, len(s.Entries))
	for i, entry := range s.Entries {
		keys[i] = entry.Key
	}
	return keys
}

// Get returns the entry stored under key
func (s *Snapshot) Get(key string) (Entry, bool) {
	for _, entry := range s.Entries {
		if entry.Key == key {
			return entry, true
		}
	}
	return Entry{}, false
}

// DeepCopy returns an independent copy of the snapshot
func (s *Snapshot) DeepCopy() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Entries = make([]Entry, len(s.Entries))
	for i, entry := range s.Entries {
		out.Entries[i] = entry
		if entry.Payload != nil {
			out.Entries[i].Payload = append([]byte(nil), entry.Payload...)
		}
	}
	return &out
}
