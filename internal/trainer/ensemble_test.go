package trainer_test

import (
	"context"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/physics"
	"github.com/san-kum/diffpole/internal/policy"
	"github.com/san-kum/diffpole/internal/trainer"
)

var _ = Describe("Ensemble", func() {
	var (
		pol    *policy.Policy
		phys   *physics.CartPole
		starts []dynamo.State
	)

	BeforeEach(func() {
		pol = policy.New(rand.New(rand.NewSource(5)))
		phys = physics.NewCartPole()
		starts = []dynamo.State{
			{0, 0, 0.01, 0},
			{0.2, 0, -0.05, 0.1},
			{3, 0, 0, 0},
			{-0.3, 0.2, 0.08, -0.2},
		}
	})

	It("matches sequential rollouts in start order", func() {
		ens := &trainer.Ensemble{Policy: pol, Physics: phys, MaxSteps: 60, Workers: 2}
		runs, err := ens.Run(context.Background(), starts)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(len(starts)))

		for i, x0 := range starts {
			sim := phys.Clone()
			Expect(sim.SetState(x0)).To(Succeed())
			want, err := trainer.Evaluate(context.Background(), pol, sim, 60, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(runs[i].Steps).To(Equal(want.Steps))
			Expect(runs[i].States).To(Equal(want.States))
		}
		Expect(runs[2].Steps).To(BeZero())
		Expect(phys.State()).To(Equal(dynamo.State{0, 0, 0, 0}))
	})

	It("surfaces rollout errors", func() {
		ens := &trainer.Ensemble{Policy: pol, Physics: phys, MaxSteps: 0}
		_, err := ens.Run(context.Background(), starts)
		Expect(err).To(MatchError(dynamo.ErrValidation))
	})

	It("gives the same survival rate for the same seed", func() {
		a, err := trainer.SurvivalRate(context.Background(), pol, phys, rand.New(rand.NewSource(8)), 6, 40)
		Expect(err).NotTo(HaveOccurred())
		b, err := trainer.SurvivalRate(context.Background(), pol, phys, rand.New(rand.NewSource(8)), 6, 40)
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(Equal(b))
	})

	It("rejects a non-positive episode count", func() {
		_, err := trainer.SurvivalRate(context.Background(), pol, phys, rand.New(rand.NewSource(8)), 0, 40)
		Expect(err).To(MatchError(dynamo.ErrValidation))
	})
})
