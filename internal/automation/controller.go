// Package automation owns the scheduler lifecycle and the schedule/article surface callers use.
package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autopublish/internal/domain"
	"autopublish/internal/publisher"
	"autopublish/internal/scheduler"
)

type Store interface {
	CreateSchedule(ctx context.Context, s domain.Schedule) error
	GetSchedule(ctx context.Context, id string) (domain.Schedule, error)
	ListSchedules(ctx context.Context, ownerID string) ([]domain.Schedule, error)
	UpdateSchedule(ctx context.Context, s domain.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	CountActiveSchedules(ctx context.Context) (int, error)
	SaveProfile(ctx context.Context, id string, profile domain.ContentProfile, analyzedAt time.Time) error
	GetArticle(ctx context.Context, id string) (domain.Article, error)
	ListArticles(ctx context.Context, f domain.ArticleFilter) ([]domain.Article, error)
	CountArticlesByStatus(ctx context.Context) (map[domain.ArticleStatus]int, error)
}

type Scheduler interface {
	Start(ctx context.Context) error
	Stop() context.Context
	Running() bool
	Tick(ctx context.Context) scheduler.TickResult
	SetAfterTick(fn func(ctx context.Context, now time.Time))
	Stats() scheduler.Stats
}

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
	Stats() publisher.Stats
}

type Config struct {
	PollInterval   time.Duration
	RestartGrace   time.Duration
	ReanalyzeAfter time.Duration
	Concurrency    int
	ImagesEnabled  bool
}

type Status struct {
	IsRunning           bool         `json:"is_running"`
	ActiveScheduleCount int          `json:"active_schedule_count"`
	Stats               StatusStats  `json:"stats"`
	Config              StatusConfig `json:"config"`
}

type StatusStats struct {
	Scheduler scheduler.Stats              `json:"scheduler"`
	Publisher publisher.Stats              `json:"publisher"`
	Articles  map[domain.ArticleStatus]int `json:"articles"`
}

type StatusConfig struct {
	PollInterval   string `json:"poll_interval"`
	RestartGrace   string `json:"restart_grace"`
	ReanalyzeAfter string `json:"reanalyze_after"`
	Concurrency    int    `json:"concurrency"`
	ImagesEnabled  bool   `json:"images_enabled"`
}

// Controller starts the scheduler when active schedules exist and stops it when none remain.
// Create one per process and pass it to whoever needs it.
type Controller struct {
	store    Store
	sched    Scheduler
	pub      Sweeper
	analyzer domain.ContentAnalyzer
	sites    domain.SiteDirectory
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time

	// mu serialises lifecycle transitions; restartMu keeps restarts from interleaving
	// without holding mu through the grace wait.
	mu          sync.Mutex
	restartMu   sync.Mutex
	initialized bool
	runCtx      context.Context
}

// New wires the controller and hooks a publish sweep onto every scheduler tick.
// sites may be nil to skip target validation.
func New(store Store, sched Scheduler, pub Sweeper, analyzer domain.ContentAnalyzer, sites domain.SiteDirectory, cfg Config, logger zerolog.Logger) *Controller {
	c := &Controller{
		store:    store,
		sched:    sched,
		pub:      pub,
		analyzer: analyzer,
		sites:    sites,
		cfg:      cfg,
		log:      logger.With().Str("component", "automation").Logger(),
		now:      time.Now,
		runCtx:   context.Background(),
	}
	sched.SetAfterTick(c.sweepAfterTick)
	return c
}

// Initialize starts the scheduler if any schedule is active and publishes articles that
// became due while the process was down. ctx bounds the scheduler's lifetime.
// Calling it again is a no-op.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	n, err := c.store.CountActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("count active schedules: %w", err)
	}
	c.runCtx = ctx
	c.initialized = true

	if n > 0 {
		if err := c.sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	c.log.Info().Int("active_schedules", n).Bool("running", c.sched.Running()).Msg("automation initialized")

	published, err := c.pub.Sweep(ctx, c.now())
	if err != nil {
		c.log.Error().Err(err).Msg("startup sweep failed")
	} else if published > 0 {
		c.log.Info().Int("published", published).Msg("startup sweep published pending articles")
	}
	return nil
}

func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched.Start(c.runCtx)
}

func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched.Stop()
}

// Shutdown stops the scheduler and waits until a tick already in progress has finished,
// or until ctx is done.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	drained := c.sched.Stop()
	c.mu.Unlock()

	select {
	case <-drained.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running tick: %w", ctx.Err())
	}
}

// Restart stops the scheduler, waits the grace interval and starts it again.
// Schedule changes are not blocked while it waits.
func (c *Controller) Restart(ctx context.Context) error {
	c.restartMu.Lock()
	defer c.restartMu.Unlock()

	c.mu.Lock()
	c.sched.Stop()
	c.mu.Unlock()

	if c.cfg.RestartGrace > 0 {
		t := time.NewTimer(c.cfg.RestartGrace)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Info().Dur("grace", c.cfg.RestartGrace).Msg("restarting scheduler")
	return c.sched.Start(c.runCtx)
}

// OnScheduleCreated starts the scheduler when the first active schedule appears.
func (c *Controller) OnScheduleCreated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sched.Running() {
		return nil
	}
	n, err := c.store.CountActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("count active schedules: %w", err)
	}
	if n == 0 {
		return nil
	}
	c.log.Info().Int("active_schedules", n).Msg("active schedule appeared, starting scheduler")
	return c.sched.Start(c.runCtx)
}

// OnScheduleRemoved stops the scheduler once no active schedule remains.
func (c *Controller) OnScheduleRemoved(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sched.Running() {
		return nil
	}
	n, err := c.store.CountActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("count active schedules: %w", err)
	}
	if n > 0 {
		return nil
	}
	c.log.Info().Msg("no active schedules left, stopping scheduler")
	c.sched.Stop()
	return nil
}

// TriggerManualProcessing runs one tick now, through the same path as the timer.
func (c *Controller) TriggerManualProcessing(ctx context.Context) scheduler.TickResult {
	c.log.Info().Msg("manual processing triggered")
	return c.sched.Tick(ctx)
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	n, err := c.store.CountActiveSchedules(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count active schedules: %w", err)
	}
	counts, err := c.store.CountArticlesByStatus(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count articles: %w", err)
	}
	return Status{
		IsRunning:           c.sched.Running(),
		ActiveScheduleCount: n,
		Stats: StatusStats{
			Scheduler: c.sched.Stats(),
			Publisher: c.pub.Stats(),
			Articles:  counts,
		},
		Config: StatusConfig{
			PollInterval:   c.cfg.PollInterval.String(),
			RestartGrace:   c.cfg.RestartGrace.String(),
			ReanalyzeAfter: c.cfg.ReanalyzeAfter.String(),
			Concurrency:    c.cfg.Concurrency,
			ImagesEnabled:  c.cfg.ImagesEnabled,
		},
	}, nil
}

func (c *Controller) sweepAfterTick(ctx context.Context, now time.Time) {
	if _, err := c.pub.Sweep(ctx, now); err != nil {
		c.log.Error().Err(err).Msg("publish sweep failed")
	}
}
