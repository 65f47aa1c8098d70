package lifecycle

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/ordinal/pkg/graph"
)

var _ = Describe("Fleet", func() {
	var (
		ctx   context.Context
		fleet *Fleet[string, any]
	)

	newOwner := func(name string, rec *recorder, keys ...string) *graph.Container[string, any] {
		c := graph.New[string, any](graph.WithName(name))
		var prev []string
		for _, key := range keys {
			c.Add(key, &probe{key: key, rec: rec}, prev...)
			prev = []string{key}
		}
		return c
	}

	BeforeEach(func() {
		ctx = context.Background()
		fleet = NewFleet[string, any](DefaultFleetConfig())
	})

	Context("When registering owners", func() {
		It("should require a container name", func() {
			Expect(fleet.Register(graph.New[string, any]())).NotTo(Succeed())
		})

		It("should reject duplicate names", func() {
			Expect(fleet.Register(newOwner("alpha", &recorder{}))).To(Succeed())
			err := fleet.Register(newOwner("alpha", &recorder{}))
			Expect(err).To(MatchError(ErrDuplicateOwner))
		})

		It("should list owners sorted and allow unregistering", func() {
			Expect(fleet.Register(newOwner("gamma", &recorder{}))).To(Succeed())
			Expect(fleet.Register(newOwner("alpha", &recorder{}))).To(Succeed())
			Expect(fleet.Register(newOwner("beta", &recorder{}))).To(Succeed())
			Expect(fleet.Owners()).To(Equal([]string{"alpha", "beta", "gamma"}))

			Expect(fleet.Unregister("beta")).To(BeTrue())
			Expect(fleet.Unregister("beta")).To(BeFalse())
			Expect(fleet.Owners()).To(Equal([]string{"alpha", "gamma"}))
		})

		It("should fall back to the default concurrency", func() {
			f := NewFleet[string, any](FleetConfig{})
			Expect(f.config.MaxConcurrency).To(Equal(DefaultFleetConfig().MaxConcurrency))
		})
	})

	Context("When passing all owners", func() {
		It("should walk every owner in its own order", func() {
			alphaRec, betaRec := &recorder{}, &recorder{}
			Expect(fleet.Register(newOwner("alpha", alphaRec, "a1", "a2"))).To(Succeed())
			Expect(fleet.Register(newOwner("beta", betaRec, "b1"))).To(Succeed())

			results, err := fleet.PassAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results["alpha"].GetNodesInState(NodeStateDone)).To(Equal([]string{"a1", "a2"}))
			Expect(results["beta"].GetNodesInState(NodeStateDone)).To(Equal([]string{"b1"}))

			Expect(alphaRec.Calls()).To(Equal([]string{
				"PreTick:a1", "PreTick:a2",
				"Tick:a1", "Tick:a2",
				"PostTick:a1", "PostTick:a2",
			}))
			Expect(betaRec.Calls()).To(Equal([]string{"PreTick:b1", "Tick:b1", "PostTick:b1"}))
		})

		It("should advance the tick once per pass", func() {
			cp := &contextProbe{}
			c := graph.New[string, any](graph.WithName("alpha"))
			c.Add("probe", cp)
			Expect(fleet.Register(c)).To(Succeed())

			Expect(fleet.Tick()).To(Equal(uint64(0)))
			_, err := fleet.PassAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, err = fleet.PassAll(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(fleet.Tick()).To(Equal(uint64(2)))
			Expect(cp.tick).To(Equal(uint64(2)))
			Expect(cp.owner).To(Equal("alpha"))
		})

		It("should isolate a failing owner from the others", func() {
			healthyRec := &recorder{}
			Expect(fleet.Register(newOwner("healthy", healthyRec, "h1", "h2"))).To(Succeed())

			cyclic := graph.New[string, any](graph.WithName("cyclic"))
			cyclic.Add("x", &probe{key: "x", rec: &recorder{}}, "y")
			cyclic.Add("y", &probe{key: "y", rec: &recorder{}}, "x")
			Expect(fleet.Register(cyclic)).To(Succeed())

			failingRec := &recorder{}
			failing := graph.New[string, any](graph.WithName("failing"))
			failing.Add("f", &probe{key: "f", rec: failingRec, fail: map[Phase]error{PhaseTick: errBoom}})
			Expect(fleet.Register(failing)).To(Succeed())

			results, err := fleet.PassAll(ctx)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, graph.ErrCycle)).To(BeTrue())
			Expect(errors.Is(err, errBoom)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("owner cyclic"))
			Expect(err.Error()).To(ContainSubstring("owner failing"))

			Expect(results).To(HaveKey("healthy"))
			Expect(results).To(HaveKey("failing"))
			Expect(results).NotTo(HaveKey("cyclic"))

			Expect(results["healthy"].HasErrors()).To(BeFalse())
			Expect(healthyRec.Calls()).To(HaveLen(6))
			Expect(results["failing"].GetState("f")).To(Equal(NodeStateFailed))
		})

		It("should report every owner to the observer", func() {
			obs := &recordingObserver{}
			config := DefaultFleetConfig()
			config.MaxConcurrency = 1
			config.Walker.Observer = obs
			fleet = NewFleet[string, any](config)

			for _, name := range []string{"one", "two", "three"} {
				Expect(fleet.Register(newOwner(name, &recorder{}, name+"-a"))).To(Succeed())
			}

			_, err := fleet.PassAll(ctx)
			Expect(err).NotTo(HaveOccurred())

			var owners []string
			for _, p := range obs.Passes() {
				owners = append(owners, p.owner)
			}
			Expect(owners).To(ConsistOf("one", "two", "three"))
			Expect(obs.Hooks()).To(HaveLen(9))
		})
	})
})
