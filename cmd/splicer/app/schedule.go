package app

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule evaluates a channel's time-based auto-insert rule. A break starts
// whenever the cron expression fires; the cue lasts the channel's default ad
// duration.
type Schedule struct {
	sched cron.Schedule
}

// ParseSchedule accepts standard five-field cron expressions plus the
// @every shorthand.
func ParseSchedule(expr string) (*Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", expr, err)
	}
	return &Schedule{sched: sched}, nil
}

// ActiveAt reports whether a scheduled break covers now, and if so when it
// started. A firing within [now-durationSec, now] counts as active.
func (s *Schedule) ActiveAt(now time.Time, durationSec float64) (time.Time, bool) {
	windowStart := now.Add(-time.Duration(durationSec * float64(time.Second)))
	// Next() from just before the window tells us the most recent firing.
	fire := s.sched.Next(windowStart.Add(-time.Second))
	for !fire.IsZero() && !fire.After(now) {
		if !fire.Before(windowStart) {
			return fire, true
		}
		fire = s.sched.Next(fire)
	}
	return time.Time{}, false
}

// scheduleCueID derives the stable cue id for one scheduled firing, so every
// viewer request during the break folds into the same state.
func scheduleCueID(fire time.Time) string {
	return fmt.Sprintf("sched-%d", fire.Unix())
}
