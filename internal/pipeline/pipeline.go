// Package pipeline turns a due schedule into a ready article.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"autopublish/internal/cadence"
	"autopublish/internal/domain"
	"autopublish/internal/textutil"
)

const excerptWords = 40

type ArticleStore interface {
	CreateArticle(ctx context.Context, a domain.Article) error
}

type Pipeline struct {
	store     ArticleStore
	generator domain.ContentGenerator
	log       zerolog.Logger
	now       func() time.Time
}

func New(store ArticleStore, generator domain.ContentGenerator, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		generator: generator,
		log:       logger.With().Str("component", "pipeline").Logger(),
		now:       time.Now,
	}
}

// Generate asks the generator for one idea and its body and stores the result as a
// ready article. Nothing is stored when any step fails.
func (p *Pipeline) Generate(ctx context.Context, s domain.Schedule) (domain.Article, error) {
	if s.Profile == nil {
		return domain.Article{}, domain.NewStageError(domain.ErrPrecondition, s.ID, "profile", errors.New("analysis required"))
	}
	profile := *s.Profile

	ideas, err := p.generator.Ideas(ctx, profile, 1)
	if err != nil {
		return domain.Article{}, domain.NewStageError(domain.ErrGeneration, s.ID, "ideas", err)
	}
	if len(ideas) == 0 {
		return domain.Article{}, domain.NewStageError(domain.ErrGeneration, s.ID, "ideas", errors.New("generator returned no ideas"))
	}
	idea := ideas[0]

	draft, err := p.generator.Article(ctx, idea, profile)
	if err != nil {
		return domain.Article{}, domain.NewStageError(domain.ErrGeneration, s.ID, "article", err)
	}

	scheduledFor, ok := cadence.ForSchedule(s, p.now())
	if !ok {
		p.log.Warn().Str("schedule_id", s.ID).Str("timezone", s.Timezone).Msg("unknown timezone, using UTC")
	}

	a := domain.Article{
		ID:           "art_" + uuid.NewString(),
		ScheduleID:   s.ID,
		Title:        firstNonEmpty(draft.Title, idea.Title),
		Content:      draft.Content,
		Excerpt:      draft.Excerpt,
		Category:     textutil.CategoryName(firstNonEmpty(idea.Category, profile.Niche)),
		Tags:         dedupe(idea.Keywords),
		Status:       domain.StatusReady,
		ScheduledFor: scheduledFor,
	}
	if a.Excerpt == "" {
		a.Excerpt = textutil.Excerpt(a.Content, excerptWords)
	}

	if err := p.store.CreateArticle(ctx, a); err != nil {
		return domain.Article{}, fmt.Errorf("schedule %s: store article: %w", s.ID, err)
	}

	p.log.Info().
		Str("schedule_id", s.ID).
		Str("article_id", a.ID).
		Str("title", a.Title).
		Time("scheduled_for", a.ScheduledFor).
		Msg("article generated")
	return a, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func dedupe(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
