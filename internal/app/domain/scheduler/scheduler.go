// Package scheduler lays a day's candidate destinations into a time-boxed
// schedule.
//
// Placement is a single greedy pass: candidates are ordered once and each one
// is placed if it still fits, otherwise skipped. The result is deterministic
// but not optimal; a later, shorter candidate can be left out even when a
// different ordering would have fit more visits into the day.
package scheduler

import (
	"math"
	"sort"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// breakEvery is the number of placements between two breaks.
const breakEvery = 2

// minFreeTime is the remaining-minutes threshold for a trailing free slot.
const minFreeTime = 60

// ratingTie is the rating distance under which shorter visits go first.
const ratingTie = 0.5

// Schedule is the placement result for one day.
type Schedule struct {
	Day          int
	Destinations []models.ScheduledDestination
	Breaks       []models.TimeSlot
	FreeTime     []models.TimeSlot
	Skipped      []models.ScheduledDestination
	TotalMinutes int
	EndsAt       models.TimeOfDay
}

// Order sorts candidates by must-visit first, then rating descending. Ratings
// closer than half a point are treated as equal and the shorter visit wins.
func Order(candidates []models.ScheduledDestination, prefs models.Preferences) []models.ScheduledDestination {
	out := append([]models.ScheduledDestination(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		am, bm := prefs.IsMustVisit(a.ID), prefs.IsMustVisit(b.ID)
		if am != bm {
			return am
		}
		if math.Abs(a.Rating-b.Rating) < ratingTie {
			return a.Duration < b.Duration
		}
		return a.Rating > b.Rating
	})
	return out
}

// Day places candidates for day index day. Every placed destination satisfies
// ScheduledTime + Duration + BufferTime <= PreferredEndTime.
func Day(candidates []models.ScheduledDestination, day int, prefs models.Preferences, cfg models.DayStructureConfig) Schedule {
	s := Schedule{Day: day, EndsAt: cfg.PreferredStartTime}
	clock := cfg.PreferredStartTime
	end := cfg.PreferredEndTime

	for _, c := range Order(candidates, prefs) {
		if len(s.Destinations) >= cfg.MaxDailyActivities {
			s.Skipped = append(s.Skipped, c)
			continue
		}
		start, fits := fit(clock, c, cfg.BufferTime, end)
		if !fits {
			s.Skipped = append(s.Skipped, c)
			continue
		}
		c.ScheduledTime = start
		s.Destinations = append(s.Destinations, c)
		s.TotalMinutes += c.Duration
		clock = start.Add(c.Duration + cfg.BufferTime)

		if cfg.BreakDuration > 0 && len(s.Destinations)%breakEvery == 0 && clock.Add(cfg.BreakDuration) <= end {
			s.Breaks = append(s.Breaks, models.TimeSlot{
				Start:    clock,
				End:      clock.Add(cfg.BreakDuration),
				Duration: cfg.BreakDuration,
				Label:    "break",
			})
			clock = clock.Add(cfg.BreakDuration)
		}
	}

	if remaining := int(end - clock); cfg.IncludeFreeTime && remaining > minFreeTime {
		s.FreeTime = append(s.FreeTime, models.TimeSlot{
			Start:    clock,
			End:      end,
			Duration: remaining,
			Label:    "free time",
		})
	}
	s.EndsAt = clock
	return s
}

// fit returns the earliest start at or after clock that respects the
// destination's opening hours and still ends, buffer included, by end.
func fit(clock models.TimeOfDay, d models.ScheduledDestination, buffer int, end models.TimeOfDay) (models.TimeOfDay, bool) {
	start := clock
	if h := d.OpeningHours; h != nil {
		if start < h.Open {
			start = h.Open
		}
		if start.Add(d.Duration) > h.Close {
			return 0, false
		}
	}
	if start.Add(d.Duration+buffer) > end {
		return 0, false
	}
	return start, true
}
