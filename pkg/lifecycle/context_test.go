package lifecycle

import (
	"context"
	"testing"
)

func TestTypedContextKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("CtxOwner", func(t *testing.T) {
		ctx := CtxOwner.WithValue(ctx, "host")
		got := CtxOwner.MustValue(ctx)

		if got != "host" {
			t.Errorf("Expected owner 'host', got %s", got)
		}
	})

	t.Run("CtxTick", func(t *testing.T) {
		ctx := CtxTick.WithValue(ctx, 42)
		got := CtxTick.MustValue(ctx)

		if got != 42 {
			t.Errorf("Expected tick 42, got %d", got)
		}
	})

	t.Run("CtxPhase", func(t *testing.T) {
		ctx := CtxPhase.WithValue(ctx, PhasePost)
		got := CtxPhase.MustValue(ctx)

		if got != PhasePost {
			t.Errorf("Expected phase %s, got %s", PhasePost, got)
		}
	})
}

func TestTypedContextOptionalValues(t *testing.T) {
	ctx := context.Background()

	t.Run("Value returns zero for missing key", func(t *testing.T) {
		got, ok := CtxOwner.Value(ctx)
		if ok {
			t.Error("Expected ok=false for missing key")
		}
		if got != "" {
			t.Error("Expected empty owner for missing key")
		}
	})

	t.Run("MustValue panics for missing key", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("Expected panic for missing key")
			}
		}()

		_ = CtxTick.MustValue(ctx)
	})
}
