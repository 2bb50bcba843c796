package domain

import "context"

// ContentAnalyzer inspects a content source and summarises its style and niche.
type ContentAnalyzer interface {
	Analyze(ctx context.Context, siteRef string) (ContentProfile, error)
}

// ContentGenerator produces article ideas and bodies from a profile.
type ContentGenerator interface {
	Ideas(ctx context.Context, profile ContentProfile, count int) ([]Idea, error)
	Article(ctx context.Context, idea Idea, profile ContentProfile) (Draft, error)
}

// ImageGenerator returns a URL for a generated cover image. Callers treat failures as non-fatal.
type ImageGenerator interface {
	Generate(ctx context.Context, subject string) (string, error)
}

type PublishingTarget interface {
	ResolveCategory(ctx context.Context, siteRef, name string) (string, error)
	Publish(ctx context.Context, post Post) (PublishResult, error)
}

// Site is a registered publishing target and content source.
type Site struct {
	Ref             string `yaml:"ref" json:"ref"`
	URL             string `yaml:"url" json:"url"`
	FeedURL         string `yaml:"feedUrl" json:"feedUrl,omitempty"`
	Username        string `yaml:"username" json:"-"`
	AppPassword     string `yaml:"appPassword" json:"-"`
	DefaultCategory string `yaml:"defaultCategory" json:"defaultCategory,omitempty"`
}

type SiteDirectory interface {
	Site(ref string) (Site, bool)
}
