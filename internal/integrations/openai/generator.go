package openai

import (
	"context"
	"fmt"
	"strings"

	"autopublish/internal/domain"
)

const ideasSystemPrompt = `You plan blog posts. Reply with JSON only: {"ideas":[{"title":string,"angle":string,"category":string,"keywords":[string]}]}.`

const articleSystemPrompt = `You write blog posts in HTML. Reply with JSON only: {"title":string,"content":string,"excerpt":string}.`

type ideasPayload struct {
	Ideas []domain.Idea `json:"ideas"`
}

// Ideas implements domain.ContentGenerator.
func (c *Client) Ideas(ctx context.Context, profile domain.ContentProfile, count int) ([]domain.Idea, error) {
	raw, err := c.complete(ctx, ideasSystemPrompt, ideasPrompt(profile, count))
	if err != nil {
		return nil, generationError("ideas", err)
	}
	var payload ideasPayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, generationError("ideas", err)
	}
	ideas := make([]domain.Idea, 0, len(payload.Ideas))
	for i, idea := range payload.Ideas {
		if strings.TrimSpace(idea.Title) == "" {
			return nil, generationError("ideas", fmt.Errorf("idea %d has no title", i))
		}
		ideas = append(ideas, idea)
	}
	if len(ideas) == 0 {
		return nil, generationError("ideas", fmt.Errorf("no ideas returned"))
	}
	if len(ideas) > count {
		ideas = ideas[:count]
	}
	return ideas, nil
}

// Article implements domain.ContentGenerator.
func (c *Client) Article(ctx context.Context, idea domain.Idea, profile domain.ContentProfile) (domain.Draft, error) {
	raw, err := c.complete(ctx, articleSystemPrompt, articlePrompt(idea, profile))
	if err != nil {
		return domain.Draft{}, generationError("article", err)
	}
	var d domain.Draft
	if err := decodeStrict(raw, &d); err != nil {
		return domain.Draft{}, generationError("article", err)
	}
	if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.Content) == "" {
		return domain.Draft{}, generationError("article", fmt.Errorf("draft is missing title or content"))
	}
	return d, nil
}

func ideasPrompt(p domain.ContentProfile, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Site: %s\nNiche: %s\n", p.SiteTitle, p.Niche)
	if p.Description != "" {
		fmt.Fprintf(&b, "About: %s\n", p.Description)
	}
	if p.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", p.Language)
	}
	if len(p.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(p.Topics, ", "))
	}
	if len(p.SampleTitles) > 0 {
		fmt.Fprintf(&b, "Recent posts (avoid repeating):\n- %s\n", strings.Join(p.SampleTitles, "\n- "))
	}
	fmt.Fprintf(&b, "Propose %d new post idea(s).", count)
	return b.String()
}

func articlePrompt(idea domain.Idea, p domain.ContentProfile) string {
	words := p.AverageWordCount
	if words <= 0 {
		words = 900
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Write a post for %q (%s).\nTitle: %s\n", p.SiteTitle, p.Niche, idea.Title)
	if idea.Angle != "" {
		fmt.Fprintf(&b, "Angle: %s\n", idea.Angle)
	}
	if len(idea.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(idea.Keywords, ", "))
	}
	if p.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", p.Language)
	}
	fmt.Fprintf(&b, "Length: about %d words.", words)
	return b.String()
}
