package trainer_test

import (
	"context"
	"math"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/physics"
	"github.com/san-kum/diffpole/internal/policy"
	"github.com/san-kum/diffpole/internal/trainer"
)

var _ = Describe("Optimizer", func() {
	DescribeTable("rejects bad settings",
		func(lr, clip float64) {
			_, err := trainer.NewOptimizer(lr, clip)
			Expect(err).To(MatchError(dynamo.ErrValidation))
		},
		Entry("zero learning rate", 0.0, 0.0),
		Entry("negative learning rate", -0.01, 0.0),
		Entry("NaN learning rate", math.NaN(), 0.0),
		Entry("infinite learning rate", math.Inf(1), 0.0),
		Entry("negative clip", 0.01, -1.0),
	)

	It("forgets its update count on reset", func() {
		opt, err := trainer.NewOptimizer(0.01, 5)
		Expect(err).NotTo(HaveOccurred())
		tr := trainer.New(rand.New(rand.NewSource(3)), nil)
		tr.Initial = dynamo.State{0, 0, 0.01, 0}
		_, err = tr.RunIteration(context.Background(), policy.New(rand.New(rand.NewSource(4))), physics.NewCartPole(), opt, 16)
		Expect(err).NotTo(HaveOccurred())
		Expect(opt.Steps()).To(Equal(2))

		opt.Reset()
		Expect(opt.Steps()).To(BeZero())
		Expect(opt.LearningRate).To(Equal(0.01))
		Expect(opt.Clip).To(Equal(5.0))
	})

	It("accepts a positive rate with clipping disabled", func() {
		opt, err := trainer.NewOptimizer(0.01, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(opt.Steps()).To(BeZero())
	})
})

var _ = Describe("Trainer.RunIteration", func() {
	var (
		ctx  context.Context
		tr   *trainer.Trainer
		pol  *policy.Policy
		phys *physics.CartPole
		opt  *trainer.Optimizer
	)

	BeforeEach(func() {
		ctx = context.Background()
		tr = trainer.New(rand.New(rand.NewSource(11)), nil)
		pol = policy.New(rand.New(rand.NewSource(12)))
		phys = physics.NewCartPole()

		var err error
		opt, err = trainer.NewOptimizer(0.01, 5)
		Expect(err).NotTo(HaveOccurred())
	})

	Context("with invalid arguments", func() {
		DescribeTable("fails before any simulation runs",
			func(maxSteps int) {
				Expect(phys.SetState(dynamo.State{0.1, 0.2, 0.03, 0.4})).To(Succeed())
				before := flatten(pol)

				_, err := tr.RunIteration(ctx, pol, phys, opt, maxSteps)
				Expect(err).To(MatchError(dynamo.ErrValidation))

				Expect(phys.State()).To(Equal(dynamo.State{0.1, 0.2, 0.03, 0.4}))
				Expect(flatten(pol)).To(Equal(before))
				Expect(tr.Iteration()).To(BeZero())
			},
			Entry("zero steps", 0),
			Entry("one step", 1),
			Entry("negative steps", -10),
		)

		It("rejects a missing optimizer", func() {
			_, err := tr.RunIteration(ctx, pol, phys, nil, 100)
			Expect(err).To(MatchError(dynamo.ErrValidation))
		})

		It("rejects single-step unroll blocks", func() {
			tr.Unroll = 1
			_, err := tr.RunIteration(ctx, pol, phys, opt, 100)
			Expect(err).To(MatchError(dynamo.ErrValidation))
		})

		It("stays invalid on repeated calls", func() {
			for i := 0; i < 3; i++ {
				_, err := tr.RunIteration(ctx, pol, phys, opt, 0)
				Expect(err).To(MatchError(dynamo.ErrValidation))
			}
		})
	})

	Context("starting past the angle threshold", func() {
		It("ends the episode at step 0 without an update", func() {
			tr.Initial = dynamo.State{0, 0, phys.ThetaThreshold + 0.01, 0}
			before := flatten(pol)

			res, err := tr.RunIteration(ctx, pol, phys, opt, 100)
			Expect(err).NotTo(HaveOccurred())

			Expect(phys.IsTerminal()).To(BeTrue())
			Expect(res.Steps).To(BeZero())
			Expect(res.Blocks).To(BeZero())
			Expect(res.Terminal).To(BeTrue())
			Expect(opt.Steps()).To(BeZero())
			Expect(flatten(pol)).To(Equal(before))
		})
	})

	Context("when a block crosses a bound part way", func() {
		It("stops the cart at the first terminal state of the block", func() {
			tr.Unroll = 8
			tr.Initial = dynamo.State{0, 0, phys.ThetaThreshold - 0.005, 2.0}
			before := pol.Clone()

			res, err := tr.RunIteration(ctx, pol, phys, opt, 100)
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Steps).To(BeNumerically(">", 0))
			Expect(res.Steps).To(BeNumerically("<", 8))
			Expect(res.Terminal).To(BeTrue())
			Expect(res.Blocks).To(Equal(1))
			Expect(res.Loss).To(Equal(phys.FailureMarginLoss()))

			replay := physics.NewCartPole()
			Expect(replay.SetState(tr.Initial)).To(Succeed())
			for i := 0; i < res.Steps; i++ {
				Expect(replay.IsTerminal()).To(BeFalse())
				Expect(replay.Step(before.Predict(replay.State()))).To(Succeed())
			}
			Expect(replay.IsTerminal()).To(BeTrue())
			got, want := phys.State(), replay.State()
			for j := range want {
				Expect(got[j]).To(BeNumerically("~", want[j], 1e-9))
			}
		})
	})

	Context("from a random start", func() {
		It("updates the policy once per block", func() {
			before := flatten(pol)

			res, err := tr.RunIteration(ctx, pol, phys, opt, 64)
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Iteration).To(Equal(1))
			Expect(res.Steps).To(BeNumerically(">", 0))
			Expect(res.Steps).To(BeNumerically("<=", 64))
			Expect(res.Blocks).To(BeNumerically(">=", 1))
			Expect(opt.Steps()).To(Equal(res.Blocks))
			Expect(flatten(pol)).NotTo(Equal(before))
			Expect(res.Effort).To(BeNumerically("<=", 1))
			Expect(res.Terminal).To(Equal(phys.Done))
		})

		It("is reproducible for a fixed seed", func() {
			run := func() (trainer.IterationResult, []float64) {
				t := trainer.New(rand.New(rand.NewSource(5)), nil)
				p := policy.New(rand.New(rand.NewSource(6)))
				o, err := trainer.NewOptimizer(0.01, 5)
				Expect(err).NotTo(HaveOccurred())
				res, err := t.RunIteration(ctx, p, physics.NewCartPole(), o, 40)
				Expect(err).NotTo(HaveOccurred())
				res.Duration = 0
				return res, flatten(p)
			}
			r1, p1 := run()
			r2, p2 := run()
			Expect(r1).To(Equal(r2))
			Expect(p1).To(Equal(p2))
		})
	})

	Context("when the remaining steps do not fill a block", func() {
		It("finishes the tail with a plain step and no update", func() {
			tr.Unroll = 4
			tr.Initial = dynamo.State{0, 0, 0.01, 0}

			res, err := tr.RunIteration(ctx, pol, phys, opt, 5)
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Steps).To(Equal(5))
			Expect(res.Blocks).To(Equal(1))
			Expect(opt.Steps()).To(Equal(1))
		})
	})

	Context("with an observer and a stop hook", func() {
		It("yields a snapshot between blocks and honours a stop request", func() {
			var snaps []dynamo.Snapshot
			tr.Initial = dynamo.State{0, 0, 0.01, 0}
			tr.Observer = dynamo.ObserverFunc(func(s dynamo.Snapshot) {
				snaps = append(snaps, s)
			})
			tr.Stop = func() bool { return len(snaps) >= 2 }

			res, err := tr.RunIteration(ctx, pol, phys, opt, 200)
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Stopped).To(BeTrue())
			Expect(snaps).To(HaveLen(2))
			Expect(snaps[0].Step).To(Equal(8))
			Expect(snaps[1].Step).To(Equal(16))
			Expect(snaps[1].Iteration).To(Equal(1))
			Expect(snaps[1].Geometry.XThreshold).To(Equal(2.4))
			Expect(snaps[1].X).To(Equal(phys.X))
			Expect(res.Steps).To(Equal(16))
		})
	})

	Context("with a cancelled context", func() {
		It("stops before the first block", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			res, err := tr.RunIteration(cctx, pol, phys, opt, 100)
			Expect(err).To(MatchError(context.Canceled))
			Expect(res.Stopped).To(BeTrue())
			Expect(res.Steps).To(BeZero())
		})
	})

	Context("when the simulation diverges", func() {
		It("reports divergence and leaves the policy and state untouched", func() {
			phys.ForceMag = math.Inf(1)
			tr.Initial = dynamo.State{0, 0, 0.05, 0}
			before := flatten(pol)

			_, err := tr.RunIteration(ctx, pol, phys, opt, 100)
			Expect(err).To(MatchError(dynamo.ErrDivergence))

			var div *dynamo.DivergenceError
			Expect(err).To(BeAssignableToTypeOf(div))
			div = err.(*dynamo.DivergenceError)
			Expect(div.Iteration).To(Equal(1))

			Expect(flatten(pol)).To(Equal(before))
			Expect(phys.State()).To(Equal(dynamo.State{0, 0, 0.05, 0}))
			Expect(opt.Steps()).To(BeZero())
		})
	})
})

var _ = Describe("Evaluate", func() {
	It("rolls out until a bound is crossed or steps run out", func() {
		pol := policy.New(rand.New(rand.NewSource(3)))
		phys := physics.NewCartPole()
		Expect(phys.SetState(dynamo.State{0, 0, 0.02, 0})).To(Succeed())

		steps := 0
		obs := dynamo.ObserverFunc(func(dynamo.Snapshot) { steps++ })
		tr, err := trainer.Evaluate(context.Background(), pol, phys, 300, obs)
		Expect(err).NotTo(HaveOccurred())

		Expect(tr.States).To(HaveLen(tr.Steps + 1))
		Expect(tr.Actions).To(HaveLen(tr.Steps))
		Expect(steps).To(Equal(tr.Steps))
		if tr.Steps < 300 {
			Expect(tr.Terminal).To(BeTrue())
		}
		for _, u := range tr.Actions {
			Expect(u).To(BeNumerically(">=", -1))
			Expect(u).To(BeNumerically("<=", 1))
		}
	})

	It("does not step from a terminal start", func() {
		pol := policy.New(rand.New(rand.NewSource(3)))
		phys := physics.NewCartPole()
		Expect(phys.SetState(dynamo.State{3, 0, 0, 0})).To(Succeed())

		tr, err := trainer.Evaluate(context.Background(), pol, phys, 50, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(tr.Steps).To(BeZero())
		Expect(tr.Terminal).To(BeTrue())
	})

	It("reports survival as a fraction of the step budget", func() {
		pol := policy.New(rand.New(rand.NewSource(3)))
		phys := physics.NewCartPole()
		rate, err := trainer.SurvivalRate(context.Background(), pol, phys, rand.New(rand.NewSource(4)), 5, 50)
		Expect(err).NotTo(HaveOccurred())
		Expect(rate).To(BeNumerically(">", 0))
		Expect(rate).To(BeNumerically("<=", 1))
		Expect(phys.State()).To(Equal(dynamo.State{0, 0, 0, 0}))
	})
})
