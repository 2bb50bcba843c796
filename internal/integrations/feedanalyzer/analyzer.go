// Package feedanalyzer derives a content profile from a site's RSS or Atom feed.
package feedanalyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"autopublish/internal/domain"
	"autopublish/internal/integrations/httpjson"
	"autopublish/internal/textutil"
)

const (
	maxSampleTitles = 10
	maxTopics       = 8
	maxKeywords     = 12
)

type Analyzer struct {
	sites  domain.SiteDirectory
	http   *httpjson.Client
	parser *gofeed.Parser
	log    zerolog.Logger
}

func New(sites domain.SiteDirectory, hc *httpjson.Client, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		sites:  sites,
		http:   hc,
		parser: gofeed.NewParser(),
		log:    logger.With().Str("component", "feedanalyzer").Logger(),
	}
}

// Analyze implements domain.ContentAnalyzer.
func (a *Analyzer) Analyze(ctx context.Context, siteRef string) (domain.ContentProfile, error) {
	site, ok := a.sites.Site(siteRef)
	if !ok {
		return domain.ContentProfile{}, analysisError(siteRef, fmt.Errorf("site %q is not registered", siteRef))
	}
	feed, err := a.fetchFeed(ctx, site)
	if err != nil {
		return domain.ContentProfile{}, analysisError(siteRef, err)
	}
	if len(feed.Items) == 0 {
		return domain.ContentProfile{}, analysisError(siteRef, errors.New("feed has no items"))
	}

	p := profileFromFeed(feed)
	if p.Niche == "" {
		p.Niche = textutil.CategoryName(site.DefaultCategory)
	}
	a.log.Info().Str("site", siteRef).Str("niche", p.Niche).Int("items", len(feed.Items)).Msg("site analyzed")
	return p, nil
}

func (a *Analyzer) fetchFeed(ctx context.Context, site domain.Site) (*gofeed.Feed, error) {
	candidates := []string{}
	if site.FeedURL != "" {
		candidates = append(candidates, site.FeedURL)
	} else {
		if discovered, err := a.discover(ctx, site.URL); err != nil {
			a.log.Debug().Err(err).Str("site", site.Ref).Msg("feed discovery failed")
		} else if discovered != "" {
			candidates = append(candidates, discovered)
		}
		candidates = append(candidates, strings.TrimRight(site.URL, "/")+"/feed")
	}

	var errs []error
	for _, u := range candidates {
		body, _, err := a.http.Do(ctx, httpjson.Request{Method: http.MethodGet, URL: u})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		feed, err := a.parser.Parse(bytes.NewReader(body))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to parse feed %s: %w", u, err))
			continue
		}
		return feed, nil
	}
	return nil, errors.Join(errs...)
}

// discover looks for a <link rel="alternate"> feed on the site's home page.
func (a *Analyzer) discover(ctx context.Context, siteURL string) (string, error) {
	body, _, err := a.http.Do(ctx, httpjson.Request{Method: http.MethodGet, URL: siteURL})
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	href, _ := doc.Find(`link[rel="alternate"][type="application/rss+xml"], link[rel="alternate"][type="application/atom+xml"]`).First().Attr("href")
	if href == "" {
		return "", nil
	}
	base, err := url.Parse(siteURL)
	if err != nil {
		return href, nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func profileFromFeed(feed *gofeed.Feed) domain.ContentProfile {
	p := domain.ContentProfile{
		SiteTitle:   strings.TrimSpace(feed.Title),
		Description: textutil.PlainText(feed.Description),
		Language:    feed.Language,
	}

	categories := map[string]int{}
	words := map[string]int{}
	totalWords, counted := 0, 0
	for _, item := range feed.Items {
		if t := strings.TrimSpace(item.Title); t != "" && len(p.SampleTitles) < maxSampleTitles {
			p.SampleTitles = append(p.SampleTitles, t)
		}
		for _, c := range item.Categories {
			if name := textutil.CategoryName(c); name != "" && !textutil.SameName(name, "uncategorized") {
				categories[name]++
			}
		}
		for _, w := range titleWords(item.Title) {
			words[w]++
		}
		body := item.Content
		if body == "" {
			body = item.Description
		}
		if n := textutil.WordCount(body); n > 0 {
			totalWords += n
			counted++
		}
	}

	p.Topics = topN(categories, maxTopics, 1)
	p.Keywords = topN(words, maxKeywords, 2)
	if len(p.Topics) > 0 {
		p.Niche = p.Topics[0]
	}
	if counted > 0 {
		p.AverageWordCount = totalWords / counted
	}
	return p
}

var stopWords = map[string]bool{
	"about": true, "after": true, "before": true, "from": true, "have": true, "into": true, "more": true,
	"that": true, "their": true, "there": true, "these": true, "this": true, "what": true, "when": true,
	"where": true, "which": true, "while": true, "with": true, "your": true, "best": true, "guide": true,
}

func titleWords(title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 3 && !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

// topN returns up to n keys seen at least min times, most frequent first, ties alphabetical.
func topN(counts map[string]int, n, min int) []string {
	keys := make([]string, 0, len(counts))
	for k, c := range counts {
		if c >= min {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func analysisError(siteRef string, err error) error {
	return &domain.StageError{Kind: domain.ErrAnalysis, Stage: "analyze " + siteRef, Err: err}
}
