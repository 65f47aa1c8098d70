package lifecycle

import (
	"github.com/authzed/controller-idioms/typedctx"
)

// Context keys available to hooks during a pass
var (
	// CtxOwner is the name of the container being walked
	CtxOwner = typedctx.NewKey[string]()

	// CtxTick is the pass number. A Fleet increments it once per PassAll.
	CtxTick = typedctx.NewKey[uint64]()

	// CtxPhase is the phase whose hook is running
	CtxPhase = typedctx.NewKey[Phase]()
)
