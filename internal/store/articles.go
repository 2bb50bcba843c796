package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"autopublish/internal/domain"
)

var articleColumnList = []string{
	"id", "schedule_id", "title", "content", "excerpt", "category", "tags", "featured_image_url", "status",
	"scheduled_for", "published_at", "external_post_id", "external_url", "error_message", "created_at", "updated_at",
}

var articleColumns = strings.Join(articleColumnList, ",")

// ErrNotClaimable is returned when a terminal transition finds the article outside the publishing state.
var ErrNotClaimable = errors.New("article is not in publishing state")

func (s *SQLite) CreateArticle(ctx context.Context, a domain.Article) error {
	tags, err := json.Marshal(nonNil(a.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO articles (`+articleColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, a.ID, a.ScheduleID, a.Title, a.Content, a.Excerpt, a.Category, string(tags), nullStr(a.FeaturedImageURL),
		string(a.Status), toMillis(a.ScheduledFor), nullMillis(a.PublishedAt), nullStr(a.ExternalPostID),
		nullStr(a.ExternalURL), nullStr(a.ErrorMessage), toMillis(a.CreatedAt), toMillis(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

func (s *SQLite) GetArticle(ctx context.Context, id string) (domain.Article, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id=?`, id)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Article{}, fmt.Errorf("get article: %w", err)
	}
	return a, nil
}

// ListArticles applies the optional filters, newest first.
func (s *SQLite) ListArticles(ctx context.Context, f domain.ArticleFilter) ([]domain.Article, error) {
	cols := make([]string, len(articleColumnList))
	for i, c := range articleColumnList {
		cols[i] = "a." + c
	}
	q := sq.Select(cols...).From("articles a").Join("schedules s ON s.id = a.schedule_id").OrderBy("a.created_at DESC")
	if f.OwnerID != "" {
		q = q.Where(sq.Eq{"s.owner_id": f.OwnerID})
	}
	if f.ScheduleID != "" {
		q = q.Where(sq.Eq{"a.schedule_id": f.ScheduleID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"a.status": string(f.Status)})
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q = q.Limit(uint64(limit))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article query: %w", err)
	}
	return s.queryArticles(ctx, query, args...)
}

// ListPublishable returns ready articles whose scheduled time has arrived.
func (s *SQLite) ListPublishable(ctx context.Context, now time.Time) ([]domain.Article, error) {
	return s.queryArticles(ctx, `
SELECT `+articleColumns+`
FROM articles
WHERE status='ready' AND scheduled_for <= ?
ORDER BY scheduled_for, created_at`, toMillis(now))
}

// ClaimArticle moves an article from ready to publishing. It reports false when
// the article was no longer ready, i.e. somebody else claimed it first.
func (s *SQLite) ClaimArticle(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE articles SET status='publishing', updated_at=?
WHERE id=? AND status='ready'`, toMillis(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("claim article: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLite) MarkPublished(ctx context.Context, id string, result domain.PublishResult, imageURL string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE articles
SET status='published', published_at=?, external_post_id=?, external_url=?,
    featured_image_url=COALESCE(?, featured_image_url), error_message=NULL, updated_at=?
WHERE id=? AND status='publishing'`, toMillis(at), nullStr(result.ExternalID), nullStr(result.Link),
		nullStr(imageURL), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return expectClaimed(res, id)
}

func (s *SQLite) MarkFailed(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE articles SET status='failed', error_message=?, updated_at=?
WHERE id=? AND status='publishing'`, message, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return expectClaimed(res, id)
}

func (s *SQLite) CountArticlesByStatus(ctx context.Context) (map[domain.ArticleStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM articles GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count articles: %w", err)
	}
	defer rows.Close()

	counts := map[domain.ArticleStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.ArticleStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLite) queryArticles(ctx context.Context, query string, args ...any) ([]domain.Article, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var articles []domain.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func scanArticle(row rowScanner) (domain.Article, error) {
	var (
		a                                    domain.Article
		tags, status                         string
		image, externalID, externalURL, errM sql.NullString
		scheduledFor, created, updated       int64
		publishedAt                          sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.ScheduleID, &a.Title, &a.Content, &a.Excerpt, &a.Category, &tags, &image, &status,
		&scheduledFor, &publishedAt, &externalID, &externalURL, &errM, &created, &updated); err != nil {
		return domain.Article{}, err
	}
	if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
		return domain.Article{}, fmt.Errorf("decode tags: %w", err)
	}
	a.FeaturedImageURL = image.String
	a.Status = domain.ArticleStatus(status)
	a.ScheduledFor = fromMillis(scheduledFor)
	a.PublishedAt = timePtr(publishedAt)
	a.ExternalPostID = externalID.String
	a.ExternalURL = externalURL.String
	a.ErrorMessage = errM.String
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

func expectClaimed(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("article %s: %w", id, ErrNotClaimable)
	}
	return nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
