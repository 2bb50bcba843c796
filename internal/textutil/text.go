// Package textutil normalises names and derives plain text from HTML bodies.
package textutil

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CategoryName trims and title-cases a category or niche label ("home  gardening" -> "Home Gardening").
func CategoryName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return cases.Title(language.Und).String(s)
}

// SameName compares labels case-insensitively with Unicode folding.
func SameName(a, b string) bool {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(a)) == fold.String(strings.TrimSpace(b))
}

const blockTags = "p,div,br,li,h1,h2,h3,h4,h5,h6,blockquote,pre,tr,td,th,section,article"

// PlainText strips markup and collapses whitespace.
func PlainText(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return strings.Join(strings.Fields(html), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script,style").Remove()
	doc.Find(blockTags).AfterHtml(" ")
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Excerpt returns the first n words of the body's text, with an ellipsis when truncated.
func Excerpt(html string, n int) string {
	words := strings.Fields(PlainText(html))
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "…"
}

func WordCount(html string) int {
	return len(strings.Fields(PlainText(html)))
}
