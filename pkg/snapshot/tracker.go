package snapshot

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Diff describes how one snapshot differs from another
type Diff struct {
	// Added lists keys only in the newer snapshot, in its order
	Added []string `json:"added,omitempty"`

	// Removed lists keys only in the older snapshot, in its order
	Removed []string `json:"removed,omitempty"`

	// Changed lists keys present in both whose payload digest differs, in the
	// newer snapshot's order
	Changed []string `json:"changed,omitempty"`

	// Reordered is set when keys present in both appear in a different
	// relative order
	Reordered bool `json:"reordered,omitempty"`
}

// Empty reports whether the snapshots are equivalent
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 && !d.Reordered
}

// Compare computes the difference from older to newer. A nil snapshot is
// treated as empty.
func Compare(older, newer *Snapshot) Diff {
	var oldEntries, newEntries []Entry
	if older != nil {
		oldEntries = older.Entries
	}
	if newer != nil {
		newEntries = newer.Entries
	}

	oldDigests := make(map[string]string, len(oldEntries))
	for _, entry := range oldEntries {
		oldDigests[entry.Key] = entry.Digest
	}
	newKeys := sets.New[string]()
	for _, entry := range newEntries {
		newKeys.Insert(entry.Key)
	}

	var diff Diff
	var commonNew []string
	for _, entry := range newEntries {
		digest, found := oldDigests[entry.Key]
		if !found {
			diff.Added = append(diff.Added, entry.Key)
			continue
		}
		commonNew = append(commonNew, entry.Key)
		if digest != entry.Digest {
			diff.Changed = append(diff.Changed, entry.Key)
		}
	}

	var commonOld []string
	for _, entry := range oldEntries {
		if !newKeys.Has(entry.Key) {
			diff.Removed = append(diff.Removed, entry.Key)
			continue
		}
		commonOld = append(commonOld, entry.Key)
	}

	diff.Reordered = !slices.Equal(commonOld, commonNew)
	return diff
}

// Tracker keeps the last accepted snapshot of a container
type Tracker struct {
	mu sync.RWMutex

	// current is the last recorded snapshot, nil until the first Record
	current *Snapshot

	// generation counts recorded changes
	generation int64
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// NewTrackerFromSnapshot creates a tracker that starts from s
func NewTrackerFromSnapshot(s *Snapshot) *Tracker {
	return &Tracker{current: s.DeepCopy()}
}

// Record accepts s as the current snapshot and returns how it differs from
// the previous one. The generation only advances when something changed.
func (t *Tracker) Record(s *Snapshot) Diff {
	t.mu.Lock()
	defer t.mu.Unlock()

	diff := Compare(t.current, s)
	if !diff.Empty() || t.current == nil {
		t.generation++
	}
	t.current = s.DeepCopy()
	return diff
}

// Diff compares s with the current snapshot without recording it
func (t *Tracker) Diff(s *Snapshot) Diff {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Compare(t.current, s)
}

// Current returns a copy of the current snapshot, or nil
func (t *Tracker) Current() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.current.DeepCopy()
}

// HasChanged reports whether fingerprint differs from the current snapshot's
func (t *Tracker) HasChanged(fingerprint string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.current == nil {
		return true
	}
	return t.current.Fingerprint != fingerprint
}

// Size returns the number of entries in the current snapshot
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.current == nil {
		return 0
	}
	return len(t.current.Entries)
}

// Generation returns the number of recorded changes
func (t *Tracker) Generation() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

// Clear forgets the current snapshot
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = nil
	t.generation++
}

// Serialize serializes the current snapshot to JSON
func (t *Tracker) Serialize() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.current == nil {
		return nil, fmt.Errorf("no snapshot recorded")
	}
	return json.Marshal(t.current)
}

// Deserialize replaces the current snapshot with one decoded from JSON
func (t *Tracker) Deserialize(data []byte) error {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to deserialize snapshot: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = &s
	t.generation++
	return nil
}
