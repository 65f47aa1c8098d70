package manifest

import "errors"

var (
	// ErrInvalid is matched by errors for manifests that cannot be decoded or
	// fail validation
	ErrInvalid = errors.New("invalid manifest")

	// ErrNotFound is matched by errors for manifests or sources that do not exist
	ErrNotFound = errors.New("manifest not found")

	// ErrMismatch is matched by errors from Verify
	ErrMismatch = errors.New("manifest expectation not met")
)

// Op names a container mutation
type Op string

const (
	OpAdd              Op = "add"
	OpAddAfter         Op = "addAfter"
	OpAddBefore        Op = "addBefore"
	OpAddFirst         Op = "addFirst"
	OpAddTail          Op = "addTail"
	OpAddDependency    Op = "addDependency"
	OpRemoveDependency Op = "removeDependency"
	OpRemove           Op = "remove"
	OpClear            Op = "clear"
)

// Ops lists every supported operation
var Ops = []Op{
	OpAdd, OpAddAfter, OpAddBefore, OpAddFirst, OpAddTail,
	OpAddDependency, OpRemoveDependency, OpRemove, OpClear,
}

// Component is the free-form payload registered under a key
type Component map[string]any

// Step is a single mutation applied during replay
type Step struct {
	// Op is the mutation to apply
	Op Op `json:"op"`

	// Key is the component being added, removed or edited
	Key string `json:"key,omitempty"`

	// Target is the anchor for addAfter and addBefore
	Target string `json:"target,omitempty"`

	// Dependency is the edge endpoint for addDependency and removeDependency
	Dependency string `json:"dependency,omitempty"`

	// DependsOn is the initial dependency set for add
	DependsOn []string `json:"dependsOn,omitempty"`

	// Component is the payload stored for add-style operations
	Component Component `json:"component,omitempty"`
}

// Manifest is a named, replayable sequence of registrations
type Manifest struct {
	// Name identifies the manifest and becomes the container name on replay
	Name string `json:"name"`

	// Description is free text
	Description string `json:"description,omitempty"`

	// Steps are applied in order
	Steps []Step `json:"steps"`

	// Expect, when set, is the key order the replayed container must produce
	Expect []string `json:"expect,omitempty"`

	// Fingerprint, when set, is the order fingerprint the replayed container
	// must produce
	Fingerprint string `json:"fingerprint,omitempty"`
}
