package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// TimeOfDay is a wall-clock hour:minute in the schedule's own timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("time of day %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: invalid hour", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: invalid minute", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type ArticleStatus string

const (
	StatusPending    ArticleStatus = "pending"
	StatusGenerating ArticleStatus = "generating"
	StatusReady      ArticleStatus = "ready"
	StatusPublishing ArticleStatus = "publishing"
	StatusPublished  ArticleStatus = "published"
	StatusFailed     ArticleStatus = "failed"
)

var articleStatusOrder = map[ArticleStatus]int{
	StatusPending:    0,
	StatusGenerating: 1,
	StatusReady:      2,
	StatusPublishing: 3,
	StatusPublished:  4,
	StatusFailed:     4,
}

func (s ArticleStatus) Valid() bool {
	_, ok := articleStatusOrder[s]
	return ok
}

// CanTransition reports whether moving from s to next is a forward step.
// published and failed are both terminal.
func (s ArticleStatus) CanTransition(next ArticleStatus) bool {
	from, ok := articleStatusOrder[s]
	if !ok {
		return false
	}
	to, ok := articleStatusOrder[next]
	if !ok {
		return false
	}
	if s == StatusPublished || s == StatusFailed {
		return false
	}
	return to > from
}

// ContentProfile summarises the style and topics of a content source.
type ContentProfile struct {
	SiteTitle        string   `json:"site_title"`
	Description      string   `json:"description,omitempty"`
	Language         string   `json:"language,omitempty"`
	Niche            string   `json:"niche"`
	Topics           []string `json:"topics"`
	Keywords         []string `json:"keywords,omitempty"`
	SampleTitles     []string `json:"sample_titles,omitempty"`
	AverageWordCount int      `json:"average_word_count,omitempty"`
}

type Schedule struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	TargetSiteRef  string          `json:"target_site_ref"`
	Frequency      Frequency       `json:"frequency"`
	TimeOfDay      TimeOfDay       `json:"time_of_day"`
	Timezone       string          `json:"timezone"`
	IsActive       bool            `json:"is_active"`
	Profile        *ContentProfile `json:"profile,omitempty"`
	LastAnalyzedAt *time.Time      `json:"last_analyzed_at,omitempty"`
	NextRunAt      time.Time       `json:"next_run_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Article struct {
	ID               string        `json:"id"`
	ScheduleID       string        `json:"schedule_id"`
	Title            string        `json:"title"`
	Content          string        `json:"content"`
	Excerpt          string        `json:"excerpt"`
	Category         string        `json:"category"`
	Tags             []string      `json:"tags"`
	FeaturedImageURL string        `json:"featured_image_url,omitempty"`
	Status           ArticleStatus `json:"status"`
	ScheduledFor     time.Time     `json:"scheduled_for"`
	PublishedAt      *time.Time    `json:"published_at,omitempty"`
	ExternalPostID   string        `json:"external_post_id,omitempty"`
	ExternalURL      string        `json:"external_url,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Idea is a single article proposal returned by a content generator.
type Idea struct {
	Title    string   `json:"title"`
	Angle    string   `json:"angle"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// Draft is the full body a generator returns for an idea.
type Draft struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Excerpt string `json:"excerpt"`
}

// Post is what gets handed to a publishing target.
type Post struct {
	SiteRef    string
	OwnerID    string
	Title      string
	Content    string
	Excerpt    string
	CategoryID string
	Tags       []string
	ImageURL   string
}

type PublishResult struct {
	ExternalID string
	Link       string
}

// ArticleFilter narrows article listings. Zero values match everything.
type ArticleFilter struct {
	OwnerID    string
	ScheduleID string
	Status     ArticleStatus
	Limit      int
}
