package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"autopublish/internal/domain"
	"autopublish/internal/mocks"
	"autopublish/internal/pipeline"
	"autopublish/internal/publisher"
	"autopublish/internal/scheduler"
	"autopublish/internal/worker"
)

type fixture struct {
	store    *mocks.Store
	target   *mocks.Target
	analyzer *mocks.Analyzer
	sched    *scheduler.Service
	ctrl     *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := mocks.NewStore()
	gen := &mocks.Generator{
		IdeasList: []domain.Idea{{Title: "Idea"}},
		Draft:     domain.Draft{Title: "Draft", Content: "<p>Body text.</p>"},
	}
	target := &mocks.Target{CategoryID: "3", Result: domain.PublishResult{ExternalID: "77", Link: "https://blog.example/?p=77"}}
	analyzer := &mocks.Analyzer{Profile: domain.ContentProfile{SiteTitle: "Blog", Niche: "cooking"}}
	pool := worker.NewPool(2, zerolog.Nop())

	sched := scheduler.NewService(store, pipeline.New(store, gen, zerolog.Nop()), analyzer, pool,
		scheduler.Options{Interval: time.Hour}, zerolog.Nop())
	sites := mocks.Sites{"blog": {Ref: "blog", URL: "https://blog.example"}}
	pub := publisher.New(store, target, sites, nil, pool, "1", zerolog.Nop())
	ctrl := New(store, sched, pub, analyzer, sites, Config{PollInterval: time.Hour, RestartGrace: 10 * time.Millisecond}, zerolog.Nop())
	t.Cleanup(func() { sched.Stop() })

	return &fixture{store: store, target: target, analyzer: analyzer, sched: sched, ctrl: ctrl}
}

func (f *fixture) seedReadyArticle(t *testing.T, owner string) {
	t.Helper()
	ctx := context.Background()
	_ = f.store.CreateSchedule(ctx, domain.Schedule{ID: "sch_seed", OwnerID: owner, TargetSiteRef: "blog", Frequency: domain.FrequencyDaily})
	_ = f.store.CreateArticle(ctx, domain.Article{
		ID: "art_seed", ScheduleID: "sch_seed", Title: "Queued", Status: domain.StatusReady,
		ScheduledFor: time.Now().Add(-time.Hour),
	})
}

func boolPtr(b bool) *bool { return &b }
func strPtr(s string) *string { return &s }

func TestInitializeWithoutActiveSchedules(t *testing.T) {
	f := newFixture(t)
	f.seedReadyArticle(t, "owner-1")
	ctx := context.Background()

	if err := f.ctrl.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if f.sched.Running() {
		t.Error("expected scheduler to stay stopped without active schedules")
	}
	if got := f.store.Articles["art_seed"].Status; got != domain.StatusPublished {
		t.Errorf("expected startup sweep to publish queued article, got %s", got)
	}

	if err := f.ctrl.Initialize(ctx); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if st := f.ctrl.pub.Stats(); st.Sweeps != 1 {
		t.Errorf("expected initialize to be idempotent, got %d sweeps", st.Sweeps)
	}
}

func TestInitializeStartsWithActiveSchedule(t *testing.T) {
	f := newFixture(t)
	_ = f.store.CreateSchedule(context.Background(), domain.Schedule{ID: "sch_1", OwnerID: "o", IsActive: true})

	if err := f.ctrl.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !f.sched.Running() {
		t.Error("expected scheduler to run")
	}
}

func TestScheduleLifecycleDrivesScheduler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ctrl.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	sch, err := f.ctrl.CreateSchedule(ctx, "owner-1", ScheduleInput{
		TargetSiteRef: "blog", Frequency: "Daily", TimeOfDay: "09:30", Timezone: "Europe/Berlin",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !sch.IsActive || sch.Frequency != domain.FrequencyDaily || !sch.NextRunAt.After(time.Now()) {
		t.Errorf("unexpected schedule %+v", sch)
	}
	if !f.sched.Running() {
		t.Fatal("expected first active schedule to start the scheduler")
	}

	if _, err := f.ctrl.UpdateSchedule(ctx, "owner-1", sch.ID, ScheduleUpdate{IsActive: boolPtr(false)}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if f.sched.Running() {
		t.Fatal("expected deactivating the last schedule to stop the scheduler")
	}

	updated, err := f.ctrl.UpdateSchedule(ctx, "owner-1", sch.ID, ScheduleUpdate{IsActive: boolPtr(true), Frequency: strPtr("weekly")})
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if updated.Frequency != domain.FrequencyWeekly || !f.sched.Running() {
		t.Errorf("expected weekly and running, got %s running=%v", updated.Frequency, f.sched.Running())
	}

	if err := f.ctrl.DeleteSchedule(ctx, "owner-1", sch.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.sched.Running() {
		t.Error("expected removing the last schedule to stop the scheduler")
	}
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   ScheduleInput
	}{
		{"bad timezone", ScheduleInput{TargetSiteRef: "blog", Frequency: "daily", TimeOfDay: "09:00", Timezone: "Mars/Base"}},
		{"bad frequency", ScheduleInput{TargetSiteRef: "blog", Frequency: "yearly", TimeOfDay: "09:00"}},
		{"bad time", ScheduleInput{TargetSiteRef: "blog", Frequency: "daily", TimeOfDay: "25:00"}},
		{"unknown site", ScheduleInput{TargetSiteRef: "nope", Frequency: "daily", TimeOfDay: "09:00"}},
		{"missing site", ScheduleInput{Frequency: "daily", TimeOfDay: "09:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.ctrl.CreateSchedule(ctx, "owner-1", tt.in); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
	if len(f.store.Schedules) != 0 {
		t.Errorf("expected nothing stored, got %d", len(f.store.Schedules))
	}
}

func TestOwnershipChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedReadyArticle(t, "owner-1")

	if _, err := f.ctrl.GetSchedule(ctx, "owner-2", "sch_seed"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.ctrl.GetSchedule(ctx, "owner-1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := f.ctrl.DeleteSchedule(ctx, "owner-2", "sch_seed"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden on delete, got %v", err)
	}
	if _, err := f.ctrl.GetArticle(ctx, "owner-2", "art_seed"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden on article, got %v", err)
	}
	if _, err := f.ctrl.ListArticles(ctx, "owner-2", domain.ArticleFilter{ScheduleID: "sch_seed"}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden on article list, got %v", err)
	}

	mine, err := f.ctrl.ListArticles(ctx, "owner-1", domain.ArticleFilter{})
	if err != nil || len(mine) != 1 {
		t.Errorf("expected one article for owner-1, got %d (%v)", len(mine), err)
	}
	theirs, err := f.ctrl.ListArticles(ctx, "owner-2", domain.ArticleFilter{})
	if err != nil || len(theirs) != 0 {
		t.Errorf("expected no articles for owner-2, got %d (%v)", len(theirs), err)
	}
}

func TestAnalyzeSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sch, err := f.ctrl.CreateSchedule(ctx, "owner-1", ScheduleInput{TargetSiteRef: "blog", Frequency: "daily", TimeOfDay: "08:00"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := f.ctrl.AnalyzeSchedule(ctx, "owner-1", sch.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.Profile == nil || got.Profile.Niche != "cooking" || got.LastAnalyzedAt == nil {
		t.Errorf("expected stored profile, got %+v", got)
	}
	if f.store.Schedules[sch.ID].Profile == nil {
		t.Error("expected profile persisted")
	}

	f.analyzer.Err = errors.New("feed unreachable")
	if _, err := f.ctrl.AnalyzeSchedule(ctx, "owner-1", sch.ID); !errors.Is(err, domain.ErrAnalysis) {
		t.Errorf("expected ErrAnalysis, got %v", err)
	}
}

func TestTriggerManualProcessingRunsTickAndSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedReadyArticle(t, "owner-1")
	profile := domain.ContentProfile{Niche: "cooking"}
	_ = f.store.CreateSchedule(ctx, domain.Schedule{
		ID: "sch_due", OwnerID: "owner-1", TargetSiteRef: "blog", Frequency: domain.FrequencyDaily,
		Timezone: "UTC", IsActive: true, Profile: &profile, NextRunAt: time.Now().Add(-time.Minute),
	})

	res := f.ctrl.TriggerManualProcessing(ctx)
	if res.Due != 1 || res.Generated != 1 {
		t.Fatalf("unexpected tick %+v", res)
	}
	if got := f.store.Articles["art_seed"].Status; got != domain.StatusPublished {
		t.Errorf("expected after-tick sweep to publish, got %s", got)
	}
	if !f.store.Schedules["sch_due"].NextRunAt.After(time.Now()) {
		t.Error("expected next run to advance")
	}
}

func TestStartStopRestartAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ctrl.Stop()
	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := f.ctrl.Restart(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !f.sched.Running() {
		t.Error("expected running after restart")
	}

	st, err := f.ctrl.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.IsRunning || st.Config.PollInterval != "1h0m0s" {
		t.Errorf("unexpected status %+v", st)
	}

	f.ctrl.Stop()
	f.ctrl.Stop()
	if f.sched.Running() {
		t.Error("expected stopped")
	}
}

func TestRestartHonoursContext(t *testing.T) {
	f := newFixture(t)
	f.ctrl.cfg.RestartGrace = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.ctrl.Restart(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRestartDoesNotBlockScheduleChanges(t *testing.T) {
	f := newFixture(t)
	f.ctrl.cfg.RestartGrace = 2 * time.Second
	ctx := context.Background()

	restarted := make(chan error, 1)
	go func() { restarted <- f.ctrl.Restart(ctx) }()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if _, err := f.ctrl.CreateSchedule(ctx, "owner-1", ScheduleInput{TargetSiteRef: "blog", Frequency: "daily", TimeOfDay: "09:00"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected create to proceed during the restart grace, took %s", elapsed)
	}
	if !f.sched.Running() {
		t.Error("expected the new active schedule to start the scheduler")
	}

	if err := <-restarted; err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !f.sched.Running() {
		t.Error("expected scheduler running after restart")
	}
}

func TestShutdownStopsScheduler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.ctrl.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if f.sched.Running() {
		t.Error("expected scheduler stopped")
	}
	if err := f.ctrl.Shutdown(shutdownCtx); err != nil {
		t.Errorf("expected second shutdown to be a no-op, got %v", err)
	}
}
