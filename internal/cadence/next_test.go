package cadence

import (
	"testing"
	"time"

	"autopublish/internal/domain"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return ts
}

func TestNextExamples(t *testing.T) {
	tests := []struct {
		name string
		freq domain.Frequency
		at   domain.TimeOfDay
		tz   string
		now  string
		want string
	}{
		{"daily past", domain.FrequencyDaily, domain.TimeOfDay{Hour: 9}, "UTC", "2024-01-01T10:00:00Z", "2024-01-02T09:00:00Z"},
		{"daily upcoming", domain.FrequencyDaily, domain.TimeOfDay{Hour: 9}, "UTC", "2024-01-01T08:59:00Z", "2024-01-01T09:00:00Z"},
		{"hourly just past", domain.FrequencyHourly, domain.TimeOfDay{Hour: 9}, "UTC", "2024-01-01T09:30:00Z", "2024-01-01T10:00:00Z"},
		{"hourly hours past", domain.FrequencyHourly, domain.TimeOfDay{Hour: 9}, "UTC", "2024-01-01T15:10:00Z", "2024-01-01T16:00:00Z"},
		{"hourly exact", domain.FrequencyHourly, domain.TimeOfDay{Hour: 9}, "UTC", "2024-01-01T09:00:00Z", "2024-01-01T10:00:00Z"},
		{"weekly", domain.FrequencyWeekly, domain.TimeOfDay{Hour: 7, Minute: 15}, "UTC", "2024-01-01T08:00:00Z", "2024-01-08T07:15:00Z"},
		{"monthly", domain.FrequencyMonthly, domain.TimeOfDay{Hour: 6}, "UTC", "2024-03-15T07:00:00Z", "2024-04-15T06:00:00Z"},
		{"monthly clamps leap", domain.FrequencyMonthly, domain.TimeOfDay{Hour: 6}, "UTC", "2024-01-31T07:00:00Z", "2024-02-29T06:00:00Z"},
		{"monthly clamps", domain.FrequencyMonthly, domain.TimeOfDay{Hour: 6}, "UTC", "2023-01-31T07:00:00Z", "2023-02-28T06:00:00Z"},
		{"monthly year rollover", domain.FrequencyMonthly, domain.TimeOfDay{Hour: 6}, "UTC", "2023-12-31T07:00:00Z", "2024-01-31T06:00:00Z"},
		{"zone local date", domain.FrequencyDaily, domain.TimeOfDay{Hour: 9}, "Asia/Tokyo", "2024-01-01T23:30:00Z", "2024-01-02T00:00:00Z"},
		{"zone before time", domain.FrequencyDaily, domain.TimeOfDay{Hour: 9}, "America/New_York", "2024-01-01T12:00:00Z", "2024-01-01T14:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := LoadLocation(tt.tz)
			if err != nil {
				t.Fatalf("load location: %v", err)
			}
			got := Next(tt.freq, tt.at, loc, mustTime(t, tt.now))
			want := mustTime(t, tt.want)
			if !got.Equal(want) {
				t.Errorf("expected %s, got %s", want, got.UTC())
			}
		})
	}
}

func TestNextAlwaysAfterNow(t *testing.T) {
	freqs := []domain.Frequency{domain.FrequencyHourly, domain.FrequencyDaily, domain.FrequencyWeekly, domain.FrequencyMonthly}
	zones := []string{"UTC", "Europe/Berlin", "America/Los_Angeles", "Australia/Adelaide"}
	start := mustTime(t, "2024-03-09T00:00:00Z")

	for _, tz := range zones {
		loc, err := LoadLocation(tz)
		if err != nil {
			t.Fatalf("load %s: %v", tz, err)
		}
		for _, freq := range freqs {
			for h := 0; h < 24; h += 5 {
				at := domain.TimeOfDay{Hour: h, Minute: 30}
				for step := 0; step < 24*40; step += 7 {
					now := start.Add(time.Duration(step)*time.Hour + 17*time.Minute)
					got := Next(freq, at, loc, now)
					if !got.After(now) {
						t.Fatalf("%s %s %s now=%s: next %s is not after now", tz, freq, at, now, got)
					}
					if again := Next(freq, at, loc, now); !again.Equal(got) {
						t.Fatalf("%s %s: not deterministic: %s vs %s", tz, freq, got, again)
					}
				}
			}
		}
	}
}

func TestNextPreservesWallClockAcrossDST(t *testing.T) {
	loc, err := LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// Day before the 2024-03-31 spring-forward.
	now := mustTime(t, "2024-03-30T10:00:00Z")
	got := Next(domain.FrequencyDaily, domain.TimeOfDay{Hour: 9}, loc, now).In(loc)
	if got.Hour() != 9 || got.Day() != 31 {
		t.Errorf("expected 2024-03-31 09:00 local, got %s", got)
	}
}

func TestLoadLocation(t *testing.T) {
	if loc, err := LoadLocation(""); err != nil || loc != time.UTC {
		t.Errorf("expected UTC for empty timezone, got %v, %v", loc, err)
	}
	if _, err := LoadLocation("Mars/Olympus_Mons"); err == nil {
		t.Error("expected error for unknown timezone")
	}
	loc, ok := ResolveLocation("Mars/Olympus_Mons")
	if ok || loc != time.UTC {
		t.Errorf("expected UTC fallback, got %v (ok=%v)", loc, ok)
	}
}
