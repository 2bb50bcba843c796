package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"autopublish/internal/domain"
	"autopublish/internal/store"
)

// Store is an in-memory schedule and article store with the same semantics as store.SQLite.
type Store struct {
	mu        sync.Mutex
	Schedules map[string]domain.Schedule
	Articles  map[string]domain.Article

	CreateArticleError error
	ListDueError       error
	SaveNextRunCalls   int
	ClaimCalls         int
}

func NewStore() *Store {
	return &Store{
		Schedules: make(map[string]domain.Schedule),
		Articles:  make(map[string]domain.Article),
	}
}

func (m *Store) CreateSchedule(ctx context.Context, s domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Schedules[s.ID]; ok {
		return fmt.Errorf("schedule %s already exists", s.ID)
	}
	m.Schedules[s.ID] = s
	return nil
}

func (m *Store) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Schedules[id]
	if !ok {
		return domain.Schedule{}, fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

func (m *Store) ListSchedules(ctx context.Context, ownerID string) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Schedule
	for _, s := range m.Schedules {
		if ownerID == "" || s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) UpdateSchedule(ctx context.Context, s domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.Schedules[s.ID]
	if !ok {
		return fmt.Errorf("schedule %s: %w", s.ID, domain.ErrNotFound)
	}
	cur.TargetSiteRef = s.TargetSiteRef
	cur.Frequency = s.Frequency
	cur.TimeOfDay = s.TimeOfDay
	cur.Timezone = s.Timezone
	cur.IsActive = s.IsActive
	cur.NextRunAt = s.NextRunAt
	cur.UpdatedAt = time.Now()
	m.Schedules[s.ID] = cur
	return nil
}

func (m *Store) DeleteSchedule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Schedules[id]; !ok {
		return fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	delete(m.Schedules, id)
	for aid, a := range m.Articles {
		if a.ScheduleID == id {
			delete(m.Articles, aid)
		}
	}
	return nil
}

func (m *Store) CountActiveSchedules(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Schedules {
		if s.IsActive {
			n++
		}
	}
	return n, nil
}

func (m *Store) ListActiveDue(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListDueError != nil {
		return nil, m.ListDueError
	}
	var out []domain.Schedule
	for _, s := range m.Schedules {
		if s.IsActive && s.Profile != nil && !s.NextRunAt.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out, nil
}

func (m *Store) SaveNextRun(ctx context.Context, id string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveNextRunCalls++
	s, ok := m.Schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	s.NextRunAt = next
	m.Schedules[id] = s
	return nil
}

func (m *Store) SaveProfile(ctx context.Context, id string, profile domain.ContentProfile, analyzedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	s.Profile = &profile
	s.LastAnalyzedAt = &analyzedAt
	m.Schedules[id] = s
	return nil
}

func (m *Store) CreateArticle(ctx context.Context, a domain.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateArticleError != nil {
		return m.CreateArticleError
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.Articles[a.ID] = a
	return nil
}

func (m *Store) GetArticle(ctx context.Context, id string) (domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Articles[id]
	if !ok {
		return domain.Article{}, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (m *Store) ListArticles(ctx context.Context, f domain.ArticleFilter) ([]domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Article
	for _, a := range m.Articles {
		if f.ScheduleID != "" && a.ScheduleID != f.ScheduleID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.OwnerID != "" && m.Schedules[a.ScheduleID].OwnerID != f.OwnerID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Store) ListPublishable(ctx context.Context, now time.Time) ([]domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Article
	for _, a := range m.Articles {
		if a.Status == domain.StatusReady && !a.ScheduledFor.After(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (m *Store) ClaimArticle(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("claim article: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClaimCalls++
	a, ok := m.advance(id, domain.StatusReady, domain.StatusPublishing)
	if !ok {
		return false, nil
	}
	m.Articles[id] = a
	return true, nil
}

func (m *Store) MarkPublished(ctx context.Context, id string, res domain.PublishResult, imageURL string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.advance(id, domain.StatusPublishing, domain.StatusPublished)
	if !ok {
		return fmt.Errorf("article %s: %w", id, store.ErrNotClaimable)
	}
	a.PublishedAt = &at
	a.ExternalPostID = res.ExternalID
	a.ExternalURL = res.Link
	a.ErrorMessage = ""
	if imageURL != "" {
		a.FeaturedImageURL = imageURL
	}
	m.Articles[id] = a
	return nil
}

func (m *Store) MarkFailed(ctx context.Context, id, message string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.advance(id, domain.StatusPublishing, domain.StatusFailed)
	if !ok {
		return fmt.Errorf("article %s: %w", id, store.ErrNotClaimable)
	}
	a.ErrorMessage = message
	m.Articles[id] = a
	return nil
}

// advance returns the article moved from one status to the next, or false when it is not in
// from or the move is not a forward transition. Callers hold m.mu and store the result.
func (m *Store) advance(id string, from, to domain.ArticleStatus) (domain.Article, bool) {
	a, ok := m.Articles[id]
	if !ok || a.Status != from || !from.CanTransition(to) {
		return domain.Article{}, false
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	return a, true
}

func (m *Store) CountArticlesByStatus(ctx context.Context) (map[domain.ArticleStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[domain.ArticleStatus]int{}
	for _, a := range m.Articles {
		counts[a.Status]++
	}
	return counts, nil
}
