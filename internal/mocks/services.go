package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"autopublish/internal/domain"
)

// Generator is a scripted ContentGenerator.
type Generator struct {
	mu         sync.Mutex
	IdeasList  []domain.Idea
	Draft      domain.Draft
	IdeasErr   error
	ArticleErr error
	IdeasCalls int
}

func (g *Generator) Ideas(ctx context.Context, profile domain.ContentProfile, count int) ([]domain.Idea, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.IdeasCalls++
	if g.IdeasErr != nil {
		return nil, g.IdeasErr
	}
	if len(g.IdeasList) > count {
		return g.IdeasList[:count], nil
	}
	return g.IdeasList, nil
}

func (g *Generator) Article(ctx context.Context, idea domain.Idea, profile domain.ContentProfile) (domain.Draft, error) {
	if g.ArticleErr != nil {
		return domain.Draft{}, g.ArticleErr
	}
	return g.Draft, nil
}

type Analyzer struct {
	Profile domain.ContentProfile
	Err     error
	Calls   int
}

func (a *Analyzer) Analyze(ctx context.Context, siteRef string) (domain.ContentProfile, error) {
	a.Calls++
	if a.Err != nil {
		return domain.ContentProfile{}, a.Err
	}
	return a.Profile, nil
}

type Images struct {
	URL string
	Err error
}

func (i *Images) Generate(ctx context.Context, subject string) (string, error) {
	if i.Err != nil {
		return "", i.Err
	}
	return i.URL, nil
}

// Target is a recording PublishingTarget. FailTitles makes Publish fail for the listed titles.
// Target is a scripted PublishingTarget. When Categories is set, names resolve through it
// and unknown names fail; otherwise every name resolves to CategoryID.
type Target struct {
	mu          sync.Mutex
	CategoryID  string
	CategoryErr error
	Categories  map[string]string
	Result      domain.PublishResult
	PublishErr  error
	FailTitles  map[string]bool

	// PublishHook runs after the post is recorded, outside the lock. A non-nil error fails the publish.
	PublishHook func(ctx context.Context) error

	Posts   []domain.Post
	Lookups []string
}

func (t *Target) ResolveCategory(ctx context.Context, siteRef, name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Lookups = append(t.Lookups, name)
	if t.CategoryErr != nil {
		return "", t.CategoryErr
	}
	if t.Categories != nil {
		id, ok := t.Categories[name]
		if !ok {
			return "", fmt.Errorf("category %q not found", name)
		}
		return id, nil
	}
	return t.CategoryID, nil
}

func (t *Target) Publish(ctx context.Context, post domain.Post) (domain.PublishResult, error) {
	t.mu.Lock()
	t.Posts = append(t.Posts, post)
	hook := t.PublishHook
	t.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return domain.PublishResult{}, err
		}
	}
	if t.PublishErr != nil {
		return domain.PublishResult{}, t.PublishErr
	}
	if t.FailTitles[post.Title] {
		return domain.PublishResult{}, errors.New("remote rejected post")
	}
	return t.Result, nil
}

func (t *Target) PostCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Posts)
}

// Sites is a fixed SiteDirectory.
type Sites map[string]domain.Site

func (s Sites) Site(ref string) (domain.Site, bool) {
	site, ok := s[ref]
	return site, ok
}
