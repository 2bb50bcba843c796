// Package wordpress publishes articles through the WordPress REST API using application passwords.
package wordpress

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"autopublish/internal/domain"
	"autopublish/internal/integrations/httpjson"
	"autopublish/internal/textutil"
)

type Target struct {
	sites domain.SiteDirectory
	http  *httpjson.Client
	log   zerolog.Logger
}

func New(sites domain.SiteDirectory, hc *httpjson.Client, logger zerolog.Logger) *Target {
	return &Target{sites: sites, http: hc, log: logger.With().Str("component", "wordpress").Logger()}
}

type category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type postRequest struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	Excerpt       string `json:"excerpt,omitempty"`
	Status        string `json:"status"`
	Categories    []int  `json:"categories,omitempty"`
	FeaturedMedia int    `json:"featured_media,omitempty"`
}

type postResponse struct {
	ID   int    `json:"id"`
	Link string `json:"link"`
}

type mediaResponse struct {
	ID int `json:"id"`
}

// ResolveCategory finds a category by name, preferring an exact case-insensitive match.
func (t *Target) ResolveCategory(ctx context.Context, siteRef, name string) (string, error) {
	site, err := t.site(siteRef)
	if err != nil {
		return "", err
	}
	q := url.Values{"search": {name}, "per_page": {"20"}}
	var cats []category
	if err := t.http.JSON(ctx, http.MethodGet, apiURL(site, "categories")+"?"+q.Encode(), authHeader(site), nil, &cats); err != nil {
		return "", fmt.Errorf("search categories: %w", err)
	}
	if len(cats) == 0 {
		return "", fmt.Errorf("category %q not found on %s", name, siteRef)
	}
	for _, c := range cats {
		if textutil.SameName(c.Name, name) || textutil.SameName(c.Slug, name) {
			return strconv.Itoa(c.ID), nil
		}
	}
	return strconv.Itoa(cats[0].ID), nil
}

// Publish creates a published post. A featured image that cannot be uploaded is skipped.
func (t *Target) Publish(ctx context.Context, post domain.Post) (domain.PublishResult, error) {
	site, err := t.site(post.SiteRef)
	if err != nil {
		return domain.PublishResult{}, err
	}

	req := postRequest{Title: post.Title, Content: post.Content, Excerpt: post.Excerpt, Status: "publish"}
	if post.CategoryID != "" {
		id, err := strconv.Atoi(post.CategoryID)
		if err != nil {
			return domain.PublishResult{}, fmt.Errorf("category id %q: %w", post.CategoryID, err)
		}
		req.Categories = []int{id}
	}
	if post.ImageURL != "" {
		mediaID, err := t.uploadImage(ctx, site, post.ImageURL, post.Title)
		if err != nil {
			t.log.Warn().Err(err).Str("site", site.Ref).Msg("featured image upload failed, publishing without image")
		} else {
			req.FeaturedMedia = mediaID
		}
	}

	var resp postResponse
	if err := t.http.JSON(ctx, http.MethodPost, apiURL(site, "posts"), authHeader(site), req, &resp); err != nil {
		return domain.PublishResult{}, fmt.Errorf("create post: %w", err)
	}
	if resp.ID == 0 {
		return domain.PublishResult{}, errors.New("create post: response has no id")
	}
	return domain.PublishResult{ExternalID: strconv.Itoa(resp.ID), Link: resp.Link}, nil
}

func (t *Target) uploadImage(ctx context.Context, site domain.Site, imageURL, title string) (int, error) {
	data, header, err := t.http.Do(ctx, httpjson.Request{Method: http.MethodGet, URL: imageURL})
	if err != nil {
		return 0, fmt.Errorf("download image: %w", err)
	}
	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	headers := authHeader(site)
	headers["Content-Disposition"] = fmt.Sprintf(`attachment; filename="%s"`, imageFilename(imageURL, title, contentType))
	body, _, err := t.http.Do(ctx, httpjson.Request{
		Method:      http.MethodPost,
		URL:         apiURL(site, "media"),
		Headers:     headers,
		Body:        data,
		ContentType: contentType,
	})
	if err != nil {
		return 0, fmt.Errorf("upload media: %w", err)
	}
	var media mediaResponse
	if err := json.Unmarshal(body, &media); err != nil {
		return 0, fmt.Errorf("decode media response: %w", err)
	}
	return media.ID, nil
}

func (t *Target) site(ref string) (domain.Site, error) {
	site, ok := t.sites.Site(ref)
	if !ok {
		return domain.Site{}, fmt.Errorf("site %q is not registered", ref)
	}
	return site, nil
}

func apiURL(site domain.Site, resource string) string {
	return strings.TrimRight(site.URL, "/") + "/wp-json/wp/v2/" + resource
}

func authHeader(site domain.Site) map[string]string {
	if site.Username == "" {
		return map[string]string{}
	}
	token := base64.StdEncoding.EncodeToString([]byte(site.Username + ":" + site.AppPassword))
	return map[string]string{"Authorization": "Basic " + token}
}

func imageFilename(imageURL, title, contentType string) string {
	ext := ".png"
	switch {
	case strings.Contains(contentType, "jpeg"):
		ext = ".jpg"
	case strings.Contains(contentType, "webp"):
		ext = ".webp"
	}
	if u, err := url.Parse(imageURL); err == nil {
		if base := path.Base(u.Path); strings.Contains(base, ".") && base != "." && base != "/" {
			return base
		}
	}
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, title)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "cover"
	}
	return slug + ext
}
