package trainer_test

import (
	"context"
	"errors"
	"math"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/diffpole/internal/config"
	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/policy"
	"github.com/san-kum/diffpole/internal/trainer"
)

var _ = Describe("Session", func() {
	var (
		ctx   context.Context
		cfg   config.Config
		store *memStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = *config.DefaultConfig()
		cfg.Model = "test"
		cfg.Seed = 21
		cfg.Training.Iterations = 3
		cfg.Training.MaxSteps = 40
		cfg.Training.Render = false
		store = newMemStore()
	})

	DescribeTable("validates the run configuration before training",
		func(mutate func(*config.Config)) {
			mutate(&cfg)
			s := trainer.NewSession(cfg, store)

			err := s.Run(ctx)
			Expect(err).To(MatchError(dynamo.ErrValidation))
			Expect(store.saves).To(BeZero())
			Expect(s.History()).To(BeEmpty())
		},
		Entry("negative iterations", func(c *config.Config) { c.Training.Iterations = -1 }),
		Entry("zero max steps", func(c *config.Config) { c.Training.MaxSteps = 0 }),
		Entry("zero learning rate", func(c *config.Config) { c.Training.LearningRate = 0 }),
		Entry("zero unroll", func(c *config.Config) { c.Training.Unroll = 0 }),
	)

	It("persists after every iteration", func() {
		s := trainer.NewSession(cfg, store)

		Expect(s.Run(ctx)).To(Succeed())

		Expect(store.saves).To(Equal(3))
		Expect(store.history["test"]).To(HaveLen(3))
		Expect(s.History()).To(HaveLen(3))
		for i, rec := range s.History() {
			Expect(rec.Iteration).To(Equal(i + 1))
		}
		Expect(flatten(store.saved["test"])).To(Equal(flatten(s.Policy())))
		Expect(s.Metrics()).To(HaveKey("survival_mean"))
	})

	It("resumes from a saved policy", func() {
		saved := policy.New(rand.New(rand.NewSource(99)))
		Expect(store.Save("test", saved)).To(Succeed())
		store.history["test"] = []dynamo.IterationRecord{{Iteration: 7, Steps: 30}}
		store.saves = 0

		cfg.Training.Iterations = 1
		s := trainer.NewSession(cfg, store)
		Expect(s.Run(ctx)).To(Succeed())

		Expect(store.loads).To(Equal(1))
		Expect(s.History()).To(HaveLen(1))
		Expect(s.History()[0].Iteration).To(Equal(8))
		Expect(store.history["test"]).To(HaveLen(2))
	})

	It("does not resume twice across runs", func() {
		Expect(store.Save("test", policy.New(rand.New(rand.NewSource(1))))).To(Succeed())
		cfg.Training.Iterations = 1
		s := trainer.NewSession(cfg, store)

		Expect(s.Run(ctx)).To(Succeed())
		Expect(s.Run(ctx)).To(Succeed())
		Expect(store.loads).To(Equal(1))
		Expect(s.History()).To(HaveLen(2))
	})

	It("refuses to resume over an unreadable history", func() {
		saved := policy.New(rand.New(rand.NewSource(99)))
		Expect(store.Save("test", saved)).To(Succeed())
		store.saves = 0
		cause := errors.New("record on line 1: wrong number of fields")
		store.historyErr = cause

		s := trainer.NewSession(cfg, store)
		err := s.Run(ctx)
		Expect(err).To(MatchError(dynamo.ErrPersistence))
		Expect(err).To(MatchError(cause))
		Expect(store.saves).To(BeZero())
		Expect(s.History()).To(BeEmpty())
		Expect(flatten(s.Policy())).NotTo(Equal(flatten(saved)))

		store.historyErr = nil
		Expect(s.Run(ctx)).To(Succeed())
		Expect(store.loads).To(Equal(2))
	})

	It("surfaces persistence failures verbatim", func() {
		cause := errors.New("disk full")
		store.failErr = cause
		s := trainer.NewSession(cfg, store)

		err := s.Run(ctx)
		Expect(err).To(MatchError(dynamo.ErrPersistence))
		Expect(err).To(MatchError(cause))
		Expect(s.History()).To(HaveLen(1))
	})

	It("rolls back the policy when an iteration diverges", func() {
		s := trainer.NewSession(cfg, store)
		s.Physics().ForceMag = math.Inf(1)
		before := flatten(s.Policy())

		err := s.Run(ctx)
		Expect(err).To(MatchError(dynamo.ErrDivergence))
		Expect(store.saves).To(BeZero())
		Expect(flatten(s.Policy())).To(Equal(before))
	})

	It("restarts the optimizer when a failed iteration already stepped it", func() {
		cfg.Training.Render = true
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		var s *trainer.Session
		s = trainer.NewSession(cfg, store,
			trainer.WithInitialState(dynamo.State{0, 0, 0.01, 0}),
			trainer.WithObserver(dynamo.ObserverFunc(func(dynamo.Snapshot) { cancel() })),
		)
		before := flatten(s.Policy())

		err := s.Run(cctx)
		Expect(err).To(MatchError(context.Canceled))
		Expect(flatten(s.Policy())).To(Equal(before))
		Expect(s.Optimizer().Steps()).To(BeZero())
		Expect(store.saves).To(BeZero())
	})

	It("ends the run when a stop is requested from the observer", func() {
		cfg.Training.Render = true
		cfg.Training.Iterations = 10
		var s *trainer.Session
		calls := 0
		s = trainer.NewSession(cfg, store,
			trainer.WithInitialState(dynamo.State{0, 0, 0.01, 0}),
			trainer.WithObserver(dynamo.ObserverFunc(func(dynamo.Snapshot) {
				calls++
				s.RequestStop()
			})),
		)

		Expect(s.Run(ctx)).To(Succeed())
		Expect(s.StopRequested()).To(BeTrue())
		Expect(calls).To(Equal(1))
		Expect(s.History()).To(HaveLen(1))
		Expect(store.saves).To(Equal(1))
	})

	It("skips the observer when rendering is off", func() {
		calls := 0
		s := trainer.NewSession(cfg, store,
			trainer.WithObserver(dynamo.ObserverFunc(func(dynamo.Snapshot) { calls++ })),
		)
		Expect(s.Run(ctx)).To(Succeed())
		Expect(calls).To(BeZero())
	})

	It("does not get strictly worse over many iterations", func() {
		cfg.Training.Iterations = 12
		cfg.Training.MaxSteps = 100
		s := trainer.NewSession(cfg, nil)
		Expect(s.Run(ctx)).To(Succeed())

		steps := make([]int, 0, len(s.History()))
		for _, rec := range s.History() {
			steps = append(steps, rec.Steps)
		}
		strictlyDecreasing := true
		for i := 1; i < len(steps); i++ {
			if steps[i] >= steps[i-1] {
				strictlyDecreasing = false
			}
		}
		Expect(strictlyDecreasing).To(BeFalse(), "steps survived: %v", steps)
	})
})
