// Package sweep runs the periodic housekeeping pass on a cron schedule.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Result summarizes one pass.
type Result struct {
	Reopened int            `json:"reopened"`
	Counts   map[string]int `json:"counts"`
	RanAt    time.Time      `json:"ran_at"`
	Duration time.Duration  `json:"duration"`
}

// Target performs the actual work of a pass.
type Target interface {
	Sweep(ctx context.Context) (Result, error)
}

// TargetFunc adapts a function to Target.
type TargetFunc func(ctx context.Context) (Result, error)

func (f TargetFunc) Sweep(ctx context.Context) (Result, error) { return f(ctx) }

// Sweeper triggers Target on a standard 5-field cron schedule. Overlapping
// passes are skipped.
type Sweeper struct {
	target Target
	logger zerolog.Logger
	cron   *cron.Cron

	mu   sync.Mutex
	ctx  context.Context
	last *Result
}

func New(target Target, spec string, loc *time.Location, logger zerolog.Logger) (*Sweeper, error) {
	if loc == nil {
		loc = time.Local
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	s := &Sweeper{
		target: target,
		logger: logger.With().Str("component", "sweep").Logger(),
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.tick))
	return s, nil
}

// Start begins scheduling. ctx bounds every triggered pass.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info().Time("next_run", s.Next()).Msg("sweep scheduled")
}

// Stop halts scheduling; the returned context is done once a running pass
// has finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// Next reports when the next pass fires, or the zero time before Start.
func (s *Sweeper) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Last returns the most recent successful pass, if any.
func (s *Sweeper) Last() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sweeper) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	_, _ = s.RunOnce(ctx)
}

// RunOnce performs a pass immediately and logs its outcome.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	res, err := s.target.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep failed")
		return Result{}, err
	}
	res.RanAt = start
	res.Duration = time.Since(start)

	evt := s.logger.Info().Int("reopened", res.Reopened).Dur("duration", res.Duration)
	for k, v := range res.Counts {
		evt = evt.Int(k, v)
	}
	evt.Msg("sweep complete")

	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()
	return res, nil
}
