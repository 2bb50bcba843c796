package feedanalyzer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"autopublish/internal/domain"
	"autopublish/internal/integrations/httpjson"
	"autopublish/internal/mocks"
)

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Green Thumb</title>
  <description>Notes from a &lt;b&gt;small&lt;/b&gt; garden</description>
  <language>en-us</language>
  <item>
    <title>Composting in winter</title>
    <category>home gardening</category>
    <category>Uncategorized</category>
    <description>&lt;p&gt;Keep the pile warm and covered.&lt;/p&gt;</description>
  </item>
  <item>
    <title>Winter composting mistakes</title>
    <category>Home Gardening</category>
    <category>soil</category>
    <description>&lt;p&gt;Too wet, too cold.&lt;/p&gt;</description>
  </item>
  <item>
    <title>Seed starting indoors</title>
    <category>seeds</category>
    <description>&lt;p&gt;Light matters most.&lt;/p&gt;</description>
  </item>
</channel>
</rss>`

func newServer(t *testing.T, withLink bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if withLink {
			_, _ = w.Write([]byte(`<html><head><link rel="alternate" type="application/rss+xml" href="/custom.xml"></head></html>`))
			return
		}
		_, _ = w.Write([]byte(`<html><head></head></html>`))
	})
	mux.HandleFunc("/custom.xml", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(rssFeed)) })
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(rssFeed)) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyzeBuildsProfile(t *testing.T) {
	srv := newServer(t, true)
	sites := mocks.Sites{"blog": {Ref: "blog", URL: srv.URL}}
	a := New(sites, httpjson.New(httpjson.Options{}), zerolog.Nop())

	p, err := a.Analyze(context.Background(), "blog")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if p.SiteTitle != "Green Thumb" || p.Language != "en-us" || p.Description != "Notes from a small garden" {
		t.Errorf("unexpected feed metadata %+v", p)
	}
	if p.Niche != "Home Gardening" {
		t.Errorf("expected most frequent category as niche, got %q", p.Niche)
	}
	if len(p.Topics) != 3 {
		t.Errorf("expected 3 topics without uncategorized, got %v", p.Topics)
	}
	if len(p.Keywords) != 2 || p.Keywords[0] != "composting" || p.Keywords[1] != "winter" {
		t.Errorf("expected repeated title words as keywords, got %v", p.Keywords)
	}
	if len(p.SampleTitles) != 3 || p.AverageWordCount == 0 {
		t.Errorf("unexpected samples %v / words %d", p.SampleTitles, p.AverageWordCount)
	}
}

func TestAnalyzeFallsBackToFeedPath(t *testing.T) {
	srv := newServer(t, false)
	sites := mocks.Sites{"blog": {Ref: "blog", URL: srv.URL}}
	p, err := New(sites, httpjson.New(httpjson.Options{}), zerolog.Nop()).Analyze(context.Background(), "blog")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if p.SiteTitle != "Green Thumb" {
		t.Errorf("expected feed from /feed, got %+v", p)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	srv := newServer(t, false)
	sites := mocks.Sites{
		"broken": {Ref: "broken", URL: srv.URL, FeedURL: srv.URL + "/missing.xml"},
	}
	a := New(sites, httpjson.New(httpjson.Options{}), zerolog.Nop())

	for _, ref := range []string{"broken", "unregistered"} {
		if _, err := a.Analyze(context.Background(), ref); !errors.Is(err, domain.ErrAnalysis) {
			t.Errorf("%s: expected ErrAnalysis, got %v", ref, err)
		}
	}
}
