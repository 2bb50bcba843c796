package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"autopublish/internal/domain"
)

const scheduleColumns = `id,owner_id,target_site_ref,frequency,time_of_day,timezone,is_active,profile,last_analyzed_at,next_run_at,created_at,updated_at`

func (s *SQLite) CreateSchedule(ctx context.Context, sch domain.Schedule) error {
	profile, err := encodeProfile(sch.Profile)
	if err != nil {
		return err
	}
	now := time.Now()
	if sch.CreatedAt.IsZero() {
		sch.CreatedAt = now
	}
	if sch.UpdatedAt.IsZero() {
		sch.UpdatedAt = now
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO schedules (`+scheduleColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`, sch.ID, sch.OwnerID, sch.TargetSiteRef, string(sch.Frequency), sch.TimeOfDay.String(), sch.Timezone,
		sch.IsActive, profile, nullMillis(sch.LastAnalyzedAt), toMillis(sch.NextRunAt),
		toMillis(sch.CreatedAt), toMillis(sch.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (s *SQLite) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id=?`, id)
	sch, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Schedule{}, fmt.Errorf("schedule %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("get schedule: %w", err)
	}
	return sch, nil
}

// ListSchedules returns every schedule, or only ownerID's when it is set.
func (s *SQLite) ListSchedules(ctx context.Context, ownerID string) ([]domain.Schedule, error) {
	q := sq.Select(scheduleColumns).From("schedules").OrderBy("created_at")
	if ownerID != "" {
		q = q.Where(sq.Eq{"owner_id": ownerID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build schedule query: %w", err)
	}
	return s.querySchedules(ctx, query, args...)
}

// UpdateSchedule writes the user-editable fields and next_run_at.
func (s *SQLite) UpdateSchedule(ctx context.Context, sch domain.Schedule) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE schedules SET target_site_ref=?,frequency=?,time_of_day=?,timezone=?,is_active=?,next_run_at=?,updated_at=?
WHERE id=?`, sch.TargetSiteRef, string(sch.Frequency), sch.TimeOfDay.String(), sch.Timezone, sch.IsActive,
		toMillis(sch.NextRunAt), toMillis(time.Now()), sch.ID)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return expectOne(res, "schedule", sch.ID)
}

// DeleteSchedule removes the schedule; its articles go with it.
func (s *SQLite) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return expectOne(res, "schedule", id)
}

func (s *SQLite) CountActiveSchedules(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedules WHERE is_active=1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active schedules: %w", err)
	}
	return n, nil
}

// ListActiveDue returns active, analyzed schedules whose next run has arrived.
func (s *SQLite) ListActiveDue(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	return s.querySchedules(ctx, `
SELECT `+scheduleColumns+`
FROM schedules
WHERE is_active=1 AND profile IS NOT NULL AND next_run_at <= ?
ORDER BY next_run_at`, toMillis(now))
}

func (s *SQLite) SaveNextRun(ctx context.Context, id string, next time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET next_run_at=?,updated_at=? WHERE id=?`,
		toMillis(next), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("save next run: %w", err)
	}
	return expectOne(res, "schedule", id)
}

func (s *SQLite) SaveProfile(ctx context.Context, id string, profile domain.ContentProfile, analyzedAt time.Time) error {
	raw, err := encodeProfile(&profile)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET profile=?,last_analyzed_at=?,updated_at=? WHERE id=?`,
		raw, toMillis(analyzedAt), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return expectOne(res, "schedule", id)
}

func (s *SQLite) querySchedules(ctx context.Context, query string, args ...any) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, sch)
	}
	return schedules, rows.Err()
}

func scanSchedule(row rowScanner) (domain.Schedule, error) {
	var (
		sch          domain.Schedule
		freq, tod    string
		profile      sql.NullString
		lastAnalyzed sql.NullInt64
		nextRun      int64
		created      int64
		updated      int64
	)
	if err := row.Scan(&sch.ID, &sch.OwnerID, &sch.TargetSiteRef, &freq, &tod, &sch.Timezone, &sch.IsActive,
		&profile, &lastAnalyzed, &nextRun, &created, &updated); err != nil {
		return domain.Schedule{}, err
	}
	sch.Frequency = domain.Frequency(freq)
	at, err := domain.ParseTimeOfDay(tod)
	if err != nil {
		return domain.Schedule{}, err
	}
	sch.TimeOfDay = at
	if profile.Valid {
		var p domain.ContentProfile
		if err := json.Unmarshal([]byte(profile.String), &p); err != nil {
			return domain.Schedule{}, fmt.Errorf("decode profile: %w", err)
		}
		sch.Profile = &p
	}
	sch.LastAnalyzedAt = timePtr(lastAnalyzed)
	sch.NextRunAt = fromMillis(nextRun)
	sch.CreatedAt = fromMillis(created)
	sch.UpdatedAt = fromMillis(updated)
	return sch, nil
}

func encodeProfile(p *domain.ContentProfile) (any, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return string(raw), nil
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}
