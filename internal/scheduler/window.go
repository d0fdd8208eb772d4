package scheduler

import (
	"time"

	"keyword_alerts/internal/model"
)

// LastBoundary returns the most recent digest boundary at or before now. Daily
// boundaries fall on every day at pref.DigestTime; weekly ones only on
// pref.DigestWeekday. Times are read in loc.
func LastBoundary(pref model.NotificationPreference, now time.Time, loc *time.Location) time.Time {
	hour, minute := digestClock(pref.DigestTime)
	local := now.In(loc)

	b := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if b.After(local) {
		b = b.AddDate(0, 0, -1)
	}
	if pref.Period == model.PeriodWeekly {
		for b.Weekday() != pref.DigestWeekday {
			b = b.AddDate(0, 0, -1)
		}
	}
	return b
}

// ValidDigestTime reports whether s is a 24-hour "HH:MM" clock time.
func ValidDigestTime(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}

func digestClock(s string) (hour, minute int) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		t, _ = time.Parse("15:04", model.DefaultDigestTime)
	}
	return t.Hour(), t.Minute()
}
