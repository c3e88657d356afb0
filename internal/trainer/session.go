package trainer

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/san-kum/diffpole/internal/config"
	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/metrics"
	"github.com/san-kum/diffpole/internal/physics"
	"github.com/san-kum/diffpole/internal/policy"
)

// Store is the persistence collaborator. Handles are opaque here.
type Store interface {
	Save(handle string, p *policy.Policy) error
	Load(handle string) (*policy.Policy, error)
	Exists(handle string) bool
	Delete(handle string) error
}

// HistoryStore is implemented by stores that also keep a per-iteration log.
type HistoryStore interface {
	AppendHistory(handle string, rec dynamo.IterationRecord) error
	LoadHistory(handle string) ([]dynamo.IterationRecord, error)
}

const trendWindow = 20

// Session owns everything a training run mutates: the policy, optimizer,
// simulator, stop flag and history. Only RequestStop is safe to call from
// another goroutine.
type Session struct {
	cfg      config.Config
	store    Store
	logger   *log.Logger
	observer dynamo.Observer

	rng       *rand.Rand
	trainer   *Trainer
	policy    *policy.Policy
	optimizer *Optimizer
	physics   *physics.CartPole
	metrics   []metrics.Metric
	history   []dynamo.IterationRecord

	stop    atomic.Bool
	resumed bool
}

type Option func(*Session)

func WithLogger(l *log.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithObserver receives snapshots between blocks when rendering is enabled.
func WithObserver(o dynamo.Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithInitialState starts every episode from x instead of a random draw.
func WithInitialState(x dynamo.State) Option {
	return func(s *Session) { s.trainer.Initial = x.Clone() }
}

// NewSession prepares a run. A nil store disables persistence. A zero seed
// seeds from the clock.
func NewSession(cfg config.Config, store Store, opts ...Option) *Session {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	s := &Session{
		cfg:     cfg,
		store:   store,
		logger:  log.New(io.Discard),
		rng:     rng,
		policy:  policy.New(rng),
		physics: cfg.NewCartPole(),
		metrics: metrics.Standard(trendWindow),
	}
	s.trainer = New(rng, nil)
	for _, opt := range opts {
		opt(s)
	}
	s.trainer.logger = s.logger
	return s
}

func (s *Session) Policy() *policy.Policy            { return s.policy }
func (s *Session) Physics() *physics.CartPole        { return s.physics }
func (s *Session) Config() config.Config             { return s.cfg }
func (s *Session) History() []dynamo.IterationRecord { return s.history }

// RequestStop asks the run to end at the next block boundary. The episode
// in progress is kept and persisted.
func (s *Session) RequestStop() {
	s.stop.Store(true)
}

func (s *Session) StopRequested() bool {
	return s.stop.Load()
}

// Metrics reports the progress metrics over this session's iterations.
func (s *Session) Metrics() map[string]float64 {
	return metrics.Values(s.metrics)
}

// Optimizer is nil until the first Run.
func (s *Session) Optimizer() *Optimizer { return s.optimizer }

// Run validates the configuration, resumes from a saved policy when the
// handle exists, and trains for the configured number of iterations,
// persisting after each one. The first failure ends the run; the policy is
// rolled back to its state before the failed iteration.
func (s *Session) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if err := s.resume(); err != nil {
		return err
	}

	tc := s.cfg.Training
	if s.optimizer == nil || s.optimizer.LearningRate != tc.LearningRate || s.optimizer.Clip != tc.Clip {
		opt, err := NewOptimizer(tc.LearningRate, tc.Clip)
		if err != nil {
			return err
		}
		s.optimizer = opt
	}

	s.trainer.Unroll = tc.Unroll
	s.trainer.Stop = s.stop.Load
	s.trainer.Observer = nil
	if tc.Render && s.observer != nil {
		s.trainer.Observer = s.observer
	}

	s.logger.Info("training", "model", s.cfg.Model, "iterations", tc.Iterations,
		"max_steps", tc.MaxSteps, "learning_rate", tc.LearningRate, "unroll", tc.Unroll)

	for i := 0; i < tc.Iterations; i++ {
		if s.stop.Load() {
			s.logger.Info("stop requested", "iteration", s.trainer.Iteration())
			break
		}

		before := s.policy.Clone()
		updates := s.optimizer.Steps()
		res, err := s.trainer.RunIteration(ctx, s.policy, s.physics, s.optimizer, tc.MaxSteps)
		if err != nil {
			s.policy.Restore(before)
			// moment estimates from discarded updates no longer describe the policy
			if s.optimizer.Steps() != updates {
				s.optimizer.Reset()
				s.logger.Warn("optimizer state reset", "iteration", res.Iteration)
			}
			s.logger.Error("iteration failed", "iteration", res.Iteration, "err", err)
			return err
		}

		rec := res.Record()
		s.history = append(s.history, rec)
		for _, m := range s.metrics {
			m.Observe(rec)
		}
		if err := s.persist(rec); err != nil {
			s.logger.Error("persist failed", "iteration", rec.Iteration, "err", err)
			return err
		}
		if obs, ok := s.trainer.Observer.(dynamo.IterationObserver); ok {
			obs.OnIteration(rec)
		}

		s.logger.Info("iteration",
			"n", rec.Iteration,
			"steps", rec.Steps,
			"blocks", rec.Blocks,
			"loss", rec.Loss,
			"effort", rec.Effort,
			"terminal", rec.Terminal,
			"took", rec.Duration.Round(time.Millisecond))

		if res.Stopped {
			s.logger.Info("stop requested", "iteration", rec.Iteration)
			break
		}
	}
	return nil
}

func (s *Session) resume() error {
	if s.resumed || s.store == nil {
		return nil
	}

	handle := s.cfg.Model
	if !s.store.Exists(handle) {
		s.resumed = true
		return nil
	}
	p, err := s.store.Load(handle)
	if err != nil {
		return err
	}

	if hs, ok := s.store.(HistoryStore); ok {
		prior, err := hs.LoadHistory(handle)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return err
		case len(prior) > 0:
			s.trainer.SetIteration(prior[len(prior)-1].Iteration)
		}
	}
	s.policy = p
	s.resumed = true
	s.logger.Info("resumed", "model", handle, "iteration", s.trainer.Iteration())
	return nil
}

func (s *Session) persist(rec dynamo.IterationRecord) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Save(s.cfg.Model, s.policy); err != nil {
		return err
	}
	if hs, ok := s.store.(HistoryStore); ok {
		return hs.AppendHistory(s.cfg.Model, rec)
	}
	return nil
}
