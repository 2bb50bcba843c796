package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"autopublish/internal/cadence"
	"autopublish/internal/domain"
	"autopublish/internal/worker"
)

type Store interface {
	ListActiveDue(ctx context.Context, now time.Time) ([]domain.Schedule, error)
	SaveNextRun(ctx context.Context, id string, next time.Time) error
	SaveProfile(ctx context.Context, id string, profile domain.ContentProfile, analyzedAt time.Time) error
}

type Generator interface {
	Generate(ctx context.Context, s domain.Schedule) (domain.Article, error)
}

type Options struct {
	Interval time.Duration
	// ReanalyzeAfter refreshes a due schedule's profile when it is older than this. Zero disables it.
	ReanalyzeAfter time.Duration
}

// TickResult summarises one pass over the due schedules.
type TickResult struct {
	At        time.Time `json:"at"`
	Due       int       `json:"due"`
	Generated int       `json:"generated"`
	Failed    int       `json:"failed"`
	Skipped   bool      `json:"skipped,omitempty"`
}

type Stats struct {
	Ticks              int64      `json:"ticks"`
	SkippedTicks       int64      `json:"skipped_ticks"`
	Generated          int64      `json:"generated"`
	GenerationFailed   int64      `json:"generation_failed"`
	Reanalyzed         int64      `json:"reanalyzed"`
	LastTick           *time.Time `json:"last_tick,omitempty"`
	LastTickDurationMs int64      `json:"last_tick_duration_ms"`
}

// Service runs the poll loop: on every tick it generates an article for each due schedule
// and advances the schedule's next run.
type Service struct {
	store    Store
	pipeline Generator
	analyzer domain.ContentAnalyzer
	pool     *worker.Pool
	opts     Options
	log      zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	cron      *cron.Cron
	drained   context.Context
	afterTick func(ctx context.Context, now time.Time)

	// tickMu guarantees ticks never overlap, whether timer-driven or manual.
	tickMu sync.Mutex

	ticks, skipped, generated, genFailed, reanalyzed atomic.Int64
	lastTick, lastTickDur                            atomic.Int64
}

// NewService builds a stopped scheduler. analyzer may be nil.
func NewService(store Store, pipeline Generator, analyzer domain.ContentAnalyzer, pool *worker.Pool, opts Options, logger zerolog.Logger) *Service {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Service{
		store:    store,
		pipeline: pipeline,
		analyzer: analyzer,
		pool:     pool,
		opts:     opts,
		log:      logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
	}
}

// SetAfterTick installs a hook that runs at the end of every tick, inside the tick lock.
func (s *Service) SetAfterTick(fn func(ctx context.Context, now time.Time)) {
	s.mu.Lock()
	s.afterTick = fn
	s.mu.Unlock()
}

// Start schedules the poll timer. Starting a running scheduler is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(cron.Every(s.opts.Interval), cron.FuncJob(func() { s.timerTick(ctx) }))
	c.Start()
	s.cron = c

	s.log.Info().Dur("interval", s.opts.Interval).Msg("scheduler started")
	return nil
}

// Stop cancels the timer so no new tick begins. A tick already running finishes on its own;
// the returned context is done once it has. Stopping a stopped scheduler is a no-op.
func (s *Service) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		if s.drained == nil {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			s.drained = ctx
		}
		return s.drained
	}
	s.drained = s.cron.Stop()
	s.cron = nil
	s.log.Info().Msg("scheduler stopped")
	return s.drained
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

func (s *Service) Interval() time.Duration { return s.opts.Interval }

func (s *Service) timerTick(ctx context.Context) {
	if !s.tickMu.TryLock() {
		s.skipped.Add(1)
		s.log.Warn().Msg("previous tick still running, skipping")
		return
	}
	defer s.tickMu.Unlock()
	s.tick(ctx)
}

// Tick runs one pass immediately, waiting for any tick in progress to finish first.
func (s *Service) Tick(ctx context.Context) TickResult {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.tick(ctx)
}

func (s *Service) tick(ctx context.Context) TickResult {
	now := s.now()
	res := TickResult{At: now}
	s.ticks.Add(1)
	defer func() {
		s.lastTick.Store(now.UnixMilli())
		s.lastTickDur.Store(time.Since(now).Milliseconds())
	}()

	due, err := s.store.ListActiveDue(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to get due schedules")
	}
	res.Due = len(due)

	if len(due) > 0 {
		jobs := make([]worker.Job, len(due))
		for i, sch := range due {
			sch := sch // per-iteration copy; go.mod targets go1.21 loop semantics
			jobs[i] = worker.Job{Name: sch.ID, Run: func(ctx context.Context) error {
				return s.processSchedule(ctx, sch, now)
			}}
		}
		for i, err := range s.pool.Do(ctx, jobs) {
			if err != nil {
				res.Failed++
				s.log.Error().Err(err).Str("schedule_id", due[i].ID).Msg("failed to process schedule")
				continue
			}
			res.Generated++
		}
		s.generated.Add(int64(res.Generated))
		s.genFailed.Add(int64(res.Failed))
	}

	s.log.Info().Int("due", res.Due).Int("generated", res.Generated).Int("failed", res.Failed).Msg("tick finished")

	s.mu.Lock()
	after := s.afterTick
	s.mu.Unlock()
	if after != nil {
		after(ctx, now)
	}
	return res
}

// processSchedule attempts generation, then advances next_run_at whatever the outcome so a
// permanently failing schedule waits for its next natural occurrence.
func (s *Service) processSchedule(ctx context.Context, sch domain.Schedule, now time.Time) error {
	s.refreshProfile(ctx, &sch, now)

	_, genErr := s.pipeline.Generate(ctx, sch)

	next, ok := cadence.ForSchedule(sch, now)
	if !ok {
		s.log.Warn().Str("schedule_id", sch.ID).Str("timezone", sch.Timezone).Msg("unknown timezone, using UTC")
	}
	if err := s.store.SaveNextRun(ctx, sch.ID, next); err != nil {
		s.log.Error().Err(err).Str("schedule_id", sch.ID).Msg("failed to update schedule next run")
		return errors.Join(genErr, err)
	}

	s.log.Debug().Str("schedule_id", sch.ID).Time("next_run", next).Msg("schedule advanced")
	return genErr
}

func (s *Service) refreshProfile(ctx context.Context, sch *domain.Schedule, now time.Time) {
	if s.analyzer == nil || s.opts.ReanalyzeAfter <= 0 {
		return
	}
	if sch.LastAnalyzedAt != nil && now.Sub(*sch.LastAnalyzedAt) < s.opts.ReanalyzeAfter {
		return
	}
	profile, err := s.analyzer.Analyze(ctx, sch.TargetSiteRef)
	if err != nil {
		s.log.Warn().Err(err).Str("schedule_id", sch.ID).Msg("profile refresh failed, keeping previous profile")
		return
	}
	if err := s.store.SaveProfile(ctx, sch.ID, profile, now); err != nil {
		s.log.Warn().Err(err).Str("schedule_id", sch.ID).Msg("failed to save refreshed profile")
		return
	}
	s.reanalyzed.Add(1)
	sch.Profile = &profile
	sch.LastAnalyzedAt = &now
}

func (s *Service) Stats() Stats {
	st := Stats{
		Ticks:              s.ticks.Load(),
		SkippedTicks:       s.skipped.Load(),
		Generated:          s.generated.Load(),
		GenerationFailed:   s.genFailed.Load(),
		Reanalyzed:         s.reanalyzed.Load(),
		LastTickDurationMs: s.lastTickDur.Load(),
	}
	if ms := s.lastTick.Load(); ms != 0 {
		t := time.UnixMilli(ms).UTC()
		st.LastTick = &t
	}
	return st
}
