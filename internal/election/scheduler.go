package election

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"colegio.org/internal/apperr"
	"colegio.org/internal/obs"
)

const DefaultSweepInterval = time.Minute

// Scheduler moves elections DRAFT→OPEN when their start date arrives and
// OPEN→CLOSED when their end date passes. It never completes an election.
type Scheduler struct {
	store    LifecycleStore
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

type SweepResult struct {
	Opened int
	Closed int
	Failed int
}

func NewScheduler(store LifecycleStore, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{store: store, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("election scheduler started", zap.String("job", "election_lifecycle"), zap.Duration("interval", s.interval))
	s.sweepLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("election scheduler stopped", zap.String("job", "election_lifecycle"))
			return
		case <-ticker.C:
			s.sweepLogged(ctx)
		}
	}
}

func (s *Scheduler) sweepLogged(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("election status sweep failed", zap.String("job", "election_lifecycle"), zap.Error(err))
	}
}

// Sweep applies every due transition once. Each election is updated on its
// own so one failure does not block the rest.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() { obs.ObserveSweep(time.Since(start)) }()

	now := s.now().UTC()
	var res SweepResult
	var errs []error

	toOpen, err := s.store.DueToOpen(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	for _, e := range toOpen {
		res.tally(s.apply(ctx, e, StatusDraft, StatusOpen), &res.Opened)
	}

	toClose, err := s.store.DueToClose(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	for _, e := range toClose {
		res.tally(s.apply(ctx, e, StatusOpen, StatusClosed), &res.Closed)
	}

	if res.Opened > 0 || res.Closed > 0 || res.Failed > 0 {
		s.logger.Info("election status check",
			zap.String("job", "election_lifecycle"),
			zap.Int("opened", res.Opened),
			zap.Int("closed", res.Closed),
			zap.Int("failed", res.Failed),
		)
	}
	return res, errors.Join(errs...)
}

type outcome int

const (
	applied outcome = iota
	skipped
	failed
)

func (r *SweepResult) tally(o outcome, counter *int) {
	switch o {
	case applied:
		*counter++
	case failed:
		r.Failed++
	}
}

func (s *Scheduler) apply(ctx context.Context, e Election, from, to Status) outcome {
	err := s.store.TransitionStatus(ctx, e.ID, from, to)
	if errors.Is(err, apperr.ErrNotFound) {
		// changed concurrently
		s.logger.Debug("election already moved", zap.String("election_id", e.ID), zap.String("to", string(to)))
		return skipped
	}
	if err != nil {
		s.logger.Error("election status update failed",
			zap.String("job", "election_lifecycle"),
			zap.String("election_id", e.ID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return failed
	}
	obs.ObserveTransition(string(to))
	s.logger.Info("election status changed",
		zap.String("job", "election_lifecycle"),
		zap.String("election_id", e.ID),
		zap.String("name", e.Name),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return applied
}
