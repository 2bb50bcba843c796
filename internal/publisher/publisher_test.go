package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"autopublish/internal/domain"
	"autopublish/internal/mocks"
	"autopublish/internal/worker"
)

var now = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *mocks.Store, articles ...domain.Article) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateSchedule(ctx, domain.Schedule{ID: "sch_1", OwnerID: "owner-1", TargetSiteRef: "blog", IsActive: true}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	for _, a := range articles {
		a.ScheduleID = "sch_1"
		if a.Status == "" {
			a.Status = domain.StatusReady
		}
		if err := store.CreateArticle(ctx, a); err != nil {
			t.Fatalf("create article: %v", err)
		}
	}
}

func newPublisher(store *mocks.Store, target *mocks.Target, images domain.ImageGenerator) *Publisher {
	return New(store, target, nil, images, worker.NewPool(4, zerolog.Nop()), "1", zerolog.Nop())
}

func TestSweepPublishesDueArticles(t *testing.T) {
	store := mocks.NewStore()
	seed(t, store,
		domain.Article{ID: "art_due", Title: "Due", Category: "Gardening", ScheduledFor: now.Add(-time.Minute)},
		domain.Article{ID: "art_future", Title: "Later", ScheduledFor: now.Add(time.Hour)},
		domain.Article{ID: "art_done", Title: "Done", Status: domain.StatusPublished, ScheduledFor: now.Add(-time.Hour)},
	)
	target := &mocks.Target{CategoryID: "7", Result: domain.PublishResult{ExternalID: "42", Link: "https://blog.example/?p=42"}}
	p := newPublisher(store, target, &mocks.Images{URL: "https://img.example/cover.png"})

	n, err := p.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 published, got %d", n)
	}

	got := store.Articles["art_due"]
	if got.Status != domain.StatusPublished || got.ExternalPostID != "42" {
		t.Errorf("unexpected article state %+v", got)
	}
	if got.PublishedAt == nil || !got.PublishedAt.Equal(now) {
		t.Errorf("expected publishedAt %s, got %v", now, got.PublishedAt)
	}
	if got.FeaturedImageURL != "https://img.example/cover.png" {
		t.Errorf("expected generated image to be stored, got %q", got.FeaturedImageURL)
	}
	if store.Articles["art_future"].Status != domain.StatusReady {
		t.Error("expected future article to stay ready")
	}

	post := target.Posts[0]
	if post.CategoryID != "7" || post.OwnerID != "owner-1" || post.SiteRef != "blog" {
		t.Errorf("unexpected post %+v", post)
	}
}

func TestSweepFailureMarksFailed(t *testing.T) {
	store := mocks.NewStore()
	scheduledFor := now.Add(-time.Minute)
	seed(t, store, domain.Article{ID: "art_1", Title: "One", ScheduledFor: scheduledFor})
	target := &mocks.Target{PublishErr: errors.New("401 unauthorized")}
	p := newPublisher(store, target, nil)

	n, err := p.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 published, got %d", n)
	}
	got := store.Articles["art_1"]
	if got.Status != domain.StatusFailed || got.ErrorMessage != "401 unauthorized" {
		t.Errorf("expected failed with message, got %s %q", got.Status, got.ErrorMessage)
	}
	if !got.ScheduledFor.Equal(scheduledFor) {
		t.Errorf("expected scheduledFor unchanged, got %s", got.ScheduledFor)
	}

	// no automatic retry
	if n, _ := p.Sweep(context.Background(), now.Add(time.Hour)); n != 0 || target.PostCount() != 1 {
		t.Errorf("expected failed article not to be retried, published=%d posts=%d", n, target.PostCount())
	}
	if s := p.Stats(); s.Failed != 1 || s.Sweeps != 2 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestSweepIsolatesFailures(t *testing.T) {
	store := mocks.NewStore()
	seed(t, store,
		domain.Article{ID: "art_1", Title: "Bad", ScheduledFor: now.Add(-3 * time.Minute)},
		domain.Article{ID: "art_2", Title: "Good", ScheduledFor: now.Add(-2 * time.Minute)},
		domain.Article{ID: "art_3", Title: "Also good", ScheduledFor: now.Add(-time.Minute)},
	)
	target := &mocks.Target{FailTitles: map[string]bool{"Bad": true}, Result: domain.PublishResult{ExternalID: "1"}}
	p := newPublisher(store, target, nil)

	n, err := p.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 published, got %d", n)
	}
	if store.Articles["art_1"].Status != domain.StatusFailed {
		t.Errorf("expected art_1 failed, got %s", store.Articles["art_1"].Status)
	}
}

func TestSweepFallbacks(t *testing.T) {
	store := mocks.NewStore()
	seed(t, store, domain.Article{ID: "art_1", Title: "One", Category: "Unknown", ScheduledFor: now})
	target := &mocks.Target{CategoryErr: errors.New("no such category"), Result: domain.PublishResult{ExternalID: "9"}}
	p := newPublisher(store, target, &mocks.Images{Err: errors.New("quota exceeded")})

	n, err := p.Sweep(context.Background(), now)
	if err != nil || n != 1 {
		t.Fatalf("expected one published, got n=%d err=%v", n, err)
	}
	post := target.Posts[0]
	if post.CategoryID != "1" {
		t.Errorf("expected default category, got %q", post.CategoryID)
	}
	if post.ImageURL != "" {
		t.Errorf("expected no image, got %q", post.ImageURL)
	}
	if p.Stats().ImageError != 1 {
		t.Errorf("expected image error to be counted")
	}
}

func TestConcurrentSweepsPublishOnce(t *testing.T) {
	store := mocks.NewStore()
	seed(t, store,
		domain.Article{ID: "art_1", Title: "One", ScheduledFor: now},
		domain.Article{ID: "art_2", Title: "Two", ScheduledFor: now},
	)
	target := &mocks.Target{Result: domain.PublishResult{ExternalID: "1"}}
	p := newPublisher(store, target, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Sweep(context.Background(), now); err != nil {
				t.Errorf("sweep: %v", err)
			}
		}()
	}
	wg.Wait()

	if target.PostCount() != 2 {
		t.Errorf("expected each article to be published once, got %d posts", target.PostCount())
	}
}

func TestCancelledPublishStillMarksFailed(t *testing.T) {
	store := mocks.NewStore()
	seed(t, store, domain.Article{ID: "art_1", Title: "One", ScheduledFor: now})
	entered := make(chan struct{}, 1)
	target := &mocks.Target{PublishHook: func(ctx context.Context) error {
		entered <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}}
	p := newPublisher(store, target, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := p.Sweep(ctx, now); err != nil {
			t.Errorf("sweep: %v", err)
		}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("expected publish to start")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected sweep to return after cancellation")
	}

	got := store.Articles["art_1"]
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage != context.Canceled.Error() {
		t.Errorf("expected cancellation recorded, got %q", got.ErrorMessage)
	}
}

func TestPublishedIsRecordedAfterCancel(t *testing.T) {
	store := mocks.NewStore()
	seed(t, store, domain.Article{ID: "art_1", Title: "One", ScheduledFor: now})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	target := &mocks.Target{
		Result: domain.PublishResult{ExternalID: "5"},
		PublishHook: func(context.Context) error {
			cancel()
			return nil
		},
	}
	p := newPublisher(store, target, nil)

	n, err := p.Sweep(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("expected one published, got n=%d err=%v", n, err)
	}
	if got := store.Articles["art_1"]; got.Status != domain.StatusPublished || got.ExternalPostID != "5" {
		t.Errorf("expected published with external id, got %s %q", got.Status, got.ExternalPostID)
	}
}

func TestSweepUsesSiteDefaultCategory(t *testing.T) {
	tests := []struct {
		name    string
		sites   domain.SiteDirectory
		want    string
		lookups []string
	}{
		{
			name:    "site default resolves",
			sites:   mocks.Sites{"blog": {Ref: "blog", DefaultCategory: "Recipes"}},
			want:    "12",
			lookups: []string{"Unknown", "Recipes"},
		},
		{
			name:    "site default also unknown",
			sites:   mocks.Sites{"blog": {Ref: "blog", DefaultCategory: "Missing"}},
			want:    "1",
			lookups: []string{"Unknown", "Missing"},
		},
		{
			name:    "no site registry",
			want:    "1",
			lookups: []string{"Unknown"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mocks.NewStore()
			seed(t, store, domain.Article{ID: "art_1", Title: "One", Category: "Unknown", ScheduledFor: now})
			target := &mocks.Target{Categories: map[string]string{"Recipes": "12"}, Result: domain.PublishResult{ExternalID: "1"}}
			p := New(store, target, tt.sites, nil, worker.NewPool(1, zerolog.Nop()), "1", zerolog.Nop())

			if n, err := p.Sweep(context.Background(), now); err != nil || n != 1 {
				t.Fatalf("expected one published, got n=%d err=%v", n, err)
			}
			if got := target.Posts[0].CategoryID; got != tt.want {
				t.Errorf("expected category %q, got %q", tt.want, got)
			}
			if len(target.Lookups) != len(tt.lookups) {
				t.Fatalf("expected lookups %v, got %v", tt.lookups, target.Lookups)
			}
			for i := range tt.lookups {
				if target.Lookups[i] != tt.lookups[i] {
					t.Errorf("expected lookups %v, got %v", tt.lookups, target.Lookups)
				}
			}
		})
	}
}
