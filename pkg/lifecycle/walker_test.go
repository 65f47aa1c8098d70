package lifecycle

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/ordinal/pkg/graph"
)

var errBoom = errors.New("boom")

var _ = Describe("Walker", func() {
	var (
		ctx context.Context
		c   *graph.Container[string, any]
		rec *recorder
	)

	add := func(key string, p *probe, deps ...string) {
		p.key = key
		p.rec = rec
		c.Add(key, p, deps...)
	}

	BeforeEach(func() {
		ctx = context.Background()
		c = graph.New[string, any](graph.WithName("host"))
		rec = &recorder{}
	})

	Context("When every hook succeeds", func() {
		It("should run each phase over all components in dependency order", func() {
			add("c", &probe{}, "b")
			add("b", &probe{}, "a")
			add("a", &probe{})

			w := NewWalker[string, any](DefaultWalkerConfig())
			state, err := w.Pass(ctx, c, 1)
			Expect(err).NotTo(HaveOccurred())

			Expect(rec.Calls()).To(Equal([]string{
				"PreTick:a", "PreTick:b", "PreTick:c",
				"Tick:a", "Tick:b", "Tick:c",
				"PostTick:a", "PostTick:b", "PostTick:c",
			}))
			Expect(state.Keys()).To(Equal([]string{"a", "b", "c"}))
			Expect(state.GetNodesInState(NodeStateDone)).To(Equal([]string{"a", "b", "c"}))
			Expect(state.IsComplete()).To(BeTrue())

			summary := state.GetSummary()
			Expect(summary.EndTime).NotTo(BeNil())
		})

		It("should track components that implement no hooks", func() {
			add("a", &probe{})
			c.Add("plain", 42, "a")

			w := NewWalker[string, any](DefaultWalkerConfig())
			state, err := w.Pass(ctx, c, 1)
			Expect(err).NotTo(HaveOccurred())

			Expect(rec.Calls()).To(HaveLen(3))
			Expect(state.GetState("plain")).To(Equal(NodeStateDone))

			status, err := state.GetStatus("plain")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Phase).To(Equal(PhasePost))
		})

		It("should walk an empty container", func() {
			w := NewWalker[string, any](DefaultWalkerConfig())
			state, err := w.Pass(ctx, c, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Keys()).To(BeEmpty())
			Expect(state.IsComplete()).To(BeTrue())
		})

		It("should expose owner, tick and phase to hooks", func() {
			cp := &contextProbe{}
			c.Add("probe", cp)

			w := NewWalker[string, any](DefaultWalkerConfig())
			_, err := w.Pass(ctx, c, 7)
			Expect(err).NotTo(HaveOccurred())

			Expect(cp.owner).To(Equal("host"))
			Expect(cp.tick).To(Equal(uint64(7)))
			Expect(cp.phase).To(Equal(PhaseTick))
		})
	})

	Context("When a hook fails", func() {
		It("should stop the pass and skip the rest by default", func() {
			add("a", &probe{})
			add("b", &probe{fail: map[Phase]error{PhaseTick: errBoom}}, "a")
			add("c", &probe{}, "b")

			w := NewWalker[string, any](DefaultWalkerConfig())
			state, err := w.Pass(ctx, c, 1)
			Expect(err).To(MatchError(errBoom))
			Expect(err.Error()).To(ContainSubstring("Tick hook of component b"))

			Expect(rec.Calls()).To(Equal([]string{
				"PreTick:a", "PreTick:b", "PreTick:c",
				"Tick:a", "Tick:b",
			}))
			Expect(state.GetState("a")).To(Equal(NodeStateSkipped))
			Expect(state.GetState("b")).To(Equal(NodeStateFailed))
			Expect(state.GetState("c")).To(Equal(NodeStateSkipped))
			Expect(state.IsComplete()).To(BeTrue())
		})

		It("should keep going when configured to continue on error", func() {
			add("a", &probe{})
			add("b", &probe{fail: map[Phase]error{PhasePre: errBoom}}, "a")
			add("c", &probe{}, "b")

			config := DefaultWalkerConfig()
			config.ContinueOnError = true
			w := NewWalker[string, any](config)

			state, err := w.Pass(ctx, c, 1)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("component b: boom"))

			Expect(rec.Calls()).To(Equal([]string{
				"PreTick:a", "PreTick:b", "PreTick:c",
				"Tick:a", "Tick:c",
				"PostTick:a", "PostTick:c",
			}))
			Expect(state.GetNodesInState(NodeStateDone)).To(Equal([]string{"a", "c"}))
			Expect(state.GetNodesInState(NodeStateFailed)).To(Equal([]string{"b"}))

			status, err := state.GetStatus("b")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Phase).To(Equal(PhasePre))
			Expect(status.Error).To(Equal("boom"))
		})

		It("should recover panics as failures", func() {
			add("a", &probe{panicIn: PhaseTick})
			add("b", &probe{}, "a")

			w := NewWalker[string, any](DefaultWalkerConfig())
			state, err := w.Pass(ctx, c, 1)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("panic: boom"))

			Expect(state.GetState("a")).To(Equal(NodeStateFailed))
			Expect(state.GetState("b")).To(Equal(NodeStateSkipped))
		})

		It("should fail a hook that exceeds the hook timeout", func() {
			c.Add("slow", blockingProbe{})

			config := DefaultWalkerConfig()
			config.HookTimeout = 20 * time.Millisecond
			w := NewWalker[string, any](config)

			state, err := w.Pass(ctx, c, 1)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(state.GetState("slow")).To(Equal(NodeStateFailed))
		})
	})

	Context("When the pass cannot start", func() {
		It("should abort on a cycle without running any hook", func() {
			add("a", &probe{}, "b")
			add("b", &probe{}, "a")
			add("free", &probe{})

			w := NewWalker[string, any](DefaultWalkerConfig())
			state, err := w.Pass(ctx, c, 1)
			Expect(state).To(BeNil())
			Expect(err).To(MatchError(graph.ErrCycle))

			var cycleErr *graph.CycleError[string]
			Expect(errors.As(err, &cycleErr)).To(BeTrue())
			Expect(cycleErr.Keys).To(ConsistOf("a", "b"))

			Expect(rec.Calls()).To(BeEmpty())
		})

		It("should skip everything when the context is already canceled", func() {
			add("a", &probe{})
			add("b", &probe{}, "a")

			canceled, cancel := context.WithCancel(ctx)
			cancel()

			w := NewWalker[string, any](DefaultWalkerConfig())
			state, err := w.Pass(canceled, c, 1)
			Expect(err).To(MatchError(context.Canceled))
			Expect(rec.Calls()).To(BeEmpty())
			Expect(state.GetNodesInState(NodeStateSkipped)).To(Equal([]string{"a", "b"}))
		})
	})

	Context("When an observer is configured", func() {
		It("should report every hook and the pass", func() {
			obs := &recordingObserver{}
			add("a", &probe{fail: map[Phase]error{PhasePost: errBoom}})
			c.Add("plain", "no hooks")

			config := DefaultWalkerConfig()
			config.Observer = obs
			w := NewWalker[string, any](config)

			_, err := w.Pass(ctx, c, 1)
			Expect(err).To(HaveOccurred())

			hooks := obs.Hooks()
			Expect(hooks).To(HaveLen(3))
			Expect(hooks[0]).To(Equal(hookEvent{owner: "host", phase: PhasePre}))
			Expect(hooks[1]).To(Equal(hookEvent{owner: "host", phase: PhaseTick}))
			Expect(hooks[2].phase).To(Equal(PhasePost))
			Expect(hooks[2].err).To(MatchError(errBoom))

			passes := obs.Passes()
			Expect(passes).To(HaveLen(1))
			Expect(passes[0].owner).To(Equal("host"))
			Expect(passes[0].err).To(MatchError(errBoom))
		})

		It("should report a pass aborted by a cycle", func() {
			obs := &recordingObserver{}
			add("a", &probe{}, "a")

			config := DefaultWalkerConfig()
			config.Observer = obs
			w := NewWalker[string, any](config)

			_, err := w.Pass(ctx, c, 1)
			Expect(err).To(MatchError(graph.ErrCycle))
			Expect(obs.Hooks()).To(BeEmpty())
			Expect(obs.Passes()).To(HaveLen(1))
		})
	})
})
