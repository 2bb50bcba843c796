// Package publisher moves ready, due articles to their publishing target.
package publisher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"autopublish/internal/domain"
	"autopublish/internal/textutil"
	"autopublish/internal/worker"
)

type Store interface {
	ListPublishable(ctx context.Context, now time.Time) ([]domain.Article, error)
	ClaimArticle(ctx context.Context, id string) (bool, error)
	GetSchedule(ctx context.Context, id string) (domain.Schedule, error)
	MarkPublished(ctx context.Context, id string, res domain.PublishResult, imageURL string, at time.Time) error
	MarkFailed(ctx context.Context, id, message string) error
}

type Stats struct {
	Sweeps     int64      `json:"sweeps"`
	Published  int64      `json:"published"`
	Failed     int64      `json:"failed"`
	ClaimLost  int64      `json:"claim_lost"`
	ImageError int64      `json:"image_errors"`
	LastSweep  *time.Time `json:"last_sweep,omitempty"`
}

type Publisher struct {
	store           Store
	target          domain.PublishingTarget
	sites           domain.SiteDirectory
	images          domain.ImageGenerator
	pool            *worker.Pool
	defaultCategory string
	log             zerolog.Logger

	sweeps, published, failed, claimLost, imageErrors atomic.Int64
	lastSweep                                         atomic.Int64
}

// New builds a Publisher. images may be nil to disable cover generation. sites may be nil;
// when set, a site's own default category is tried before defaultCategory, the target
// category identifier used when no name can be resolved.
func New(store Store, target domain.PublishingTarget, sites domain.SiteDirectory, images domain.ImageGenerator, pool *worker.Pool, defaultCategory string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		store:           store,
		target:          target,
		sites:           sites,
		images:          images,
		pool:            pool,
		defaultCategory: defaultCategory,
		log:             logger.With().Str("component", "publisher").Logger(),
	}
}

// Sweep publishes every ready article whose scheduled time is at or before now and
// returns how many were published. Each article is claimed before any remote call,
// so overlapping sweeps never publish the same article twice.
func (p *Publisher) Sweep(ctx context.Context, now time.Time) (int, error) {
	p.sweeps.Add(1)
	p.lastSweep.Store(now.UnixMilli())

	articles, err := p.store.ListPublishable(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list publishable: %w", err)
	}
	if len(articles) == 0 {
		return 0, nil
	}

	var count atomic.Int64
	jobs := make([]worker.Job, len(articles))
	for i, a := range articles {
		a := a // per-iteration copy; go.mod targets go1.21 loop semantics
		jobs[i] = worker.Job{Name: a.ID, Run: func(ctx context.Context) error {
			ok, err := p.publishOne(ctx, a, now)
			if ok {
				count.Add(1)
			}
			return err
		}}
	}
	for i, err := range p.pool.Do(ctx, jobs) {
		if err != nil {
			p.log.Error().Err(err).Str("article_id", articles[i].ID).Msg("publish attempt failed")
		}
	}

	n := int(count.Load())
	p.log.Info().Int("selected", len(articles)).Int("published", n).Msg("sweep finished")
	return n, nil
}

func (p *Publisher) publishOne(ctx context.Context, a domain.Article, now time.Time) (bool, error) {
	claimed, err := p.store.ClaimArticle(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		p.claimLost.Add(1)
		p.log.Debug().Str("article_id", a.ID).Msg("article already claimed")
		return false, nil
	}

	sch, err := p.store.GetSchedule(ctx, a.ScheduleID)
	if err != nil {
		return false, p.fail(ctx, a, err)
	}

	imageURL := a.FeaturedImageURL
	newImage := ""
	if imageURL == "" && p.images != nil {
		url, err := p.images.Generate(ctx, a.Title)
		if err != nil {
			p.imageErrors.Add(1)
			p.log.Warn().Err(err).Str("article_id", a.ID).Msg("image generation failed, publishing without image")
		} else {
			imageURL, newImage = url, url
		}
	}

	categoryID := p.categoryFor(ctx, sch.TargetSiteRef, a)

	res, err := p.target.Publish(ctx, domain.Post{
		SiteRef:    sch.TargetSiteRef,
		OwnerID:    sch.OwnerID,
		Title:      a.Title,
		Content:    a.Content,
		Excerpt:    a.Excerpt,
		CategoryID: categoryID,
		Tags:       a.Tags,
		ImageURL:   imageURL,
	})
	if err != nil {
		return false, p.fail(ctx, a, err)
	}

	// The post is live; record it even if the sweep is being cancelled.
	if err := p.store.MarkPublished(context.WithoutCancel(ctx), a.ID, res, newImage, now); err != nil {
		return false, fmt.Errorf("mark published: %w", err)
	}
	p.published.Add(1)
	p.log.Info().
		Str("article_id", a.ID).
		Str("schedule_id", a.ScheduleID).
		Str("external_id", res.ExternalID).
		Str("link", res.Link).
		Msg("article published")
	return true, nil
}

// categoryFor resolves the article's category, then the site's default category, on the
// target. It falls back to the configured default identifier.
func (p *Publisher) categoryFor(ctx context.Context, siteRef string, a domain.Article) string {
	names := []string{a.Category}
	if p.sites != nil {
		if site, ok := p.sites.Site(siteRef); ok && site.DefaultCategory != "" && !textutil.SameName(site.DefaultCategory, a.Category) {
			names = append(names, site.DefaultCategory)
		}
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		id, err := p.target.ResolveCategory(ctx, siteRef, name)
		if err != nil {
			p.log.Warn().Err(err).Str("article_id", a.ID).Str("category", name).Msg("category lookup failed")
			continue
		}
		if id != "" {
			return id
		}
	}
	return p.defaultCategory
}

// fail marks a claimed article failed. The write ignores cancellation of ctx so a claimed
// article never stays in publishing.
func (p *Publisher) fail(ctx context.Context, a domain.Article, cause error) error {
	p.failed.Add(1)
	perr := &domain.StageError{Kind: domain.ErrPublish, ScheduleID: a.ScheduleID, ArticleID: a.ID, Stage: "publish", Err: cause}
	if err := p.store.MarkFailed(context.WithoutCancel(ctx), a.ID, cause.Error()); err != nil {
		return fmt.Errorf("%w (mark failed: %v)", perr, err)
	}
	return perr
}

func (p *Publisher) Stats() Stats {
	s := Stats{
		Sweeps:     p.sweeps.Load(),
		Published:  p.published.Load(),
		Failed:     p.failed.Load(),
		ClaimLost:  p.claimLost.Load(),
		ImageError: p.imageErrors.Load(),
	}
	if ms := p.lastSweep.Load(); ms != 0 {
		t := time.UnixMilli(ms).UTC()
		s.LastSweep = &t
	}
	return s
}
