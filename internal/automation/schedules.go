package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"autopublish/internal/cadence"
	"autopublish/internal/domain"
)

type ScheduleInput struct {
	TargetSiteRef string `json:"target_site_ref"`
	Frequency     string `json:"frequency"`
	TimeOfDay     string `json:"time_of_day"`
	Timezone      string `json:"timezone"`
	IsActive      *bool  `json:"is_active"`
}

// ScheduleUpdate changes only the fields that are set.
type ScheduleUpdate struct {
	TargetSiteRef *string `json:"target_site_ref"`
	Frequency     *string `json:"frequency"`
	TimeOfDay     *string `json:"time_of_day"`
	Timezone      *string `json:"timezone"`
	IsActive      *bool   `json:"is_active"`
}

func (c *Controller) CreateSchedule(ctx context.Context, ownerID string, in ScheduleInput) (domain.Schedule, error) {
	if ownerID == "" {
		return domain.Schedule{}, domain.Validationf("owner is required")
	}
	sch := domain.Schedule{
		ID:            "sch_" + uuid.NewString(),
		OwnerID:       ownerID,
		TargetSiteRef: strings.TrimSpace(in.TargetSiteRef),
		Frequency:     domain.Frequency(strings.ToLower(strings.TrimSpace(in.Frequency))),
		Timezone:      strings.TrimSpace(in.Timezone),
		IsActive:      in.IsActive == nil || *in.IsActive,
	}
	if sch.Timezone == "" {
		sch.Timezone = "UTC"
	}
	at, err := domain.ParseTimeOfDay(in.TimeOfDay)
	if err != nil {
		return domain.Schedule{}, domain.Validationf("%v", err)
	}
	sch.TimeOfDay = at

	if err := c.validate(sch); err != nil {
		return domain.Schedule{}, err
	}
	now := c.now()
	sch.NextRunAt, _ = cadence.ForSchedule(sch, now)
	sch.CreatedAt, sch.UpdatedAt = now, now

	if err := c.store.CreateSchedule(ctx, sch); err != nil {
		return domain.Schedule{}, err
	}
	c.log.Info().
		Str("schedule_id", sch.ID).
		Str("owner_id", ownerID).
		Str("frequency", string(sch.Frequency)).
		Time("next_run", sch.NextRunAt).
		Msg("schedule created")

	if sch.IsActive {
		if err := c.OnScheduleCreated(ctx); err != nil {
			c.log.Error().Err(err).Msg("failed to react to new schedule")
		}
	}
	return sch, nil
}

// GetSchedule returns the schedule if ownerID owns it.
func (c *Controller) GetSchedule(ctx context.Context, ownerID, id string) (domain.Schedule, error) {
	sch, err := c.store.GetSchedule(ctx, id)
	if err != nil {
		return domain.Schedule{}, err
	}
	if sch.OwnerID != ownerID {
		return domain.Schedule{}, fmt.Errorf("schedule %s: %w", id, domain.ErrForbidden)
	}
	return sch, nil
}

func (c *Controller) ListSchedules(ctx context.Context, ownerID string) ([]domain.Schedule, error) {
	if ownerID == "" {
		return nil, domain.Validationf("owner is required")
	}
	return c.store.ListSchedules(ctx, ownerID)
}

// UpdateSchedule applies the change and recomputes the next run when timing or activation changed.
func (c *Controller) UpdateSchedule(ctx context.Context, ownerID, id string, upd ScheduleUpdate) (domain.Schedule, error) {
	sch, err := c.GetSchedule(ctx, ownerID, id)
	if err != nil {
		return domain.Schedule{}, err
	}
	wasActive := sch.IsActive
	retime := false

	if upd.TargetSiteRef != nil {
		sch.TargetSiteRef = strings.TrimSpace(*upd.TargetSiteRef)
	}
	if upd.Frequency != nil {
		sch.Frequency = domain.Frequency(strings.ToLower(strings.TrimSpace(*upd.Frequency)))
		retime = true
	}
	if upd.TimeOfDay != nil {
		at, err := domain.ParseTimeOfDay(*upd.TimeOfDay)
		if err != nil {
			return domain.Schedule{}, domain.Validationf("%v", err)
		}
		sch.TimeOfDay = at
		retime = true
	}
	if upd.Timezone != nil {
		sch.Timezone = strings.TrimSpace(*upd.Timezone)
		if sch.Timezone == "" {
			sch.Timezone = "UTC"
		}
		retime = true
	}
	if upd.IsActive != nil {
		sch.IsActive = *upd.IsActive
		if sch.IsActive && !wasActive {
			retime = true
		}
	}
	if err := c.validate(sch); err != nil {
		return domain.Schedule{}, err
	}

	now := c.now()
	if retime {
		sch.NextRunAt, _ = cadence.ForSchedule(sch, now)
	}
	sch.UpdatedAt = now
	if err := c.store.UpdateSchedule(ctx, sch); err != nil {
		return domain.Schedule{}, err
	}
	c.log.Info().Str("schedule_id", sch.ID).Bool("active", sch.IsActive).Time("next_run", sch.NextRunAt).Msg("schedule updated")

	switch {
	case sch.IsActive && !wasActive:
		err = c.OnScheduleCreated(ctx)
	case !sch.IsActive && wasActive:
		err = c.OnScheduleRemoved(ctx)
	}
	if err != nil {
		c.log.Error().Err(err).Msg("failed to react to schedule change")
	}
	return sch, nil
}

func (c *Controller) DeleteSchedule(ctx context.Context, ownerID, id string) error {
	if _, err := c.GetSchedule(ctx, ownerID, id); err != nil {
		return err
	}
	if err := c.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	c.log.Info().Str("schedule_id", id).Msg("schedule deleted")
	if err := c.OnScheduleRemoved(ctx); err != nil {
		c.log.Error().Err(err).Msg("failed to react to schedule removal")
	}
	return nil
}

// AnalyzeSchedule runs the content analyzer for the schedule's site and stores the profile.
func (c *Controller) AnalyzeSchedule(ctx context.Context, ownerID, id string) (domain.Schedule, error) {
	sch, err := c.GetSchedule(ctx, ownerID, id)
	if err != nil {
		return domain.Schedule{}, err
	}
	if c.analyzer == nil {
		return domain.Schedule{}, domain.NewStageError(domain.ErrAnalysis, id, "analyze", fmt.Errorf("no analyzer configured"))
	}
	profile, err := c.analyzer.Analyze(ctx, sch.TargetSiteRef)
	if err != nil {
		return domain.Schedule{}, domain.NewStageError(domain.ErrAnalysis, id, "analyze", err)
	}
	now := c.now()
	if err := c.store.SaveProfile(ctx, id, profile, now); err != nil {
		return domain.Schedule{}, err
	}
	sch.Profile = &profile
	sch.LastAnalyzedAt = &now
	c.log.Info().Str("schedule_id", id).Str("niche", profile.Niche).Int("topics", len(profile.Topics)).Msg("schedule analyzed")
	return sch, nil
}

func (c *Controller) ListArticles(ctx context.Context, ownerID string, f domain.ArticleFilter) ([]domain.Article, error) {
	if ownerID == "" {
		return nil, domain.Validationf("owner is required")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.Validationf("unknown status %q", f.Status)
	}
	if f.ScheduleID != "" {
		if _, err := c.GetSchedule(ctx, ownerID, f.ScheduleID); err != nil {
			return nil, err
		}
	}
	f.OwnerID = ownerID
	return c.store.ListArticles(ctx, f)
}

func (c *Controller) GetArticle(ctx context.Context, ownerID, id string) (domain.Article, error) {
	a, err := c.store.GetArticle(ctx, id)
	if err != nil {
		return domain.Article{}, err
	}
	if _, err := c.GetSchedule(ctx, ownerID, a.ScheduleID); err != nil {
		return domain.Article{}, err
	}
	return a, nil
}

func (c *Controller) validate(s domain.Schedule) error {
	if s.TargetSiteRef == "" {
		return domain.Validationf("target_site_ref is required")
	}
	if c.sites != nil {
		if _, ok := c.sites.Site(s.TargetSiteRef); !ok {
			return domain.Validationf("unknown site %q", s.TargetSiteRef)
		}
	}
	if !s.Frequency.Valid() {
		return domain.Validationf("frequency must be one of hourly, daily, weekly, monthly")
	}
	if _, err := cadence.LoadLocation(s.Timezone); err != nil {
		return domain.Validationf("%v", err)
	}
	return nil
}
