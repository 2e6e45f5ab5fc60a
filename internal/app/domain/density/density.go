package density

import (
	"fmt"
	"sort"
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// DayBudgetMinutes is the fixed per-day time budget used for free-time metrics.
const DayBudgetMinutes = 600

// MinFreeTimePercent is the free-time floor below which a plan is flagged.
const MinFreeTimePercent = 20

// levelCaps bounds activities per day by intensity level.
var levelCaps = map[models.IntensityLevel]int{
	models.IntensityRelaxed:  2,
	models.IntensityModerate: 4,
}

// PerDayCap is the effective activities-per-day ceiling for cfg.
func PerDayCap(cfg models.ActivityDensityConfig) int {
	limit := cfg.MaxActivitiesPerDay
	if c, ok := levelCaps[cfg.Level]; ok && c < limit {
		limit = c
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Matcher finds preferred types inside categories and tags.
type Matcher struct {
	ac    ahocorasick.AhoCorasick
	empty bool
}

// NewMatcher builds a case-insensitive substring matcher over types.
func NewMatcher(types []string) *Matcher {
	patterns := make([]string, 0, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			patterns = append(patterns, t)
		}
	}
	if len(patterns) == 0 {
		return &Matcher{empty: true}
	}
	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  false,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
		DFA:                  true,
	})
	return &Matcher{ac: builder.Build(patterns)}
}

// Matches reports whether d's category or any tag contains a preferred type.
// An empty matcher matches everything.
func (m *Matcher) Matches(d models.Destination) bool {
	if m.empty {
		return true
	}
	if len(m.ac.FindAll(d.Category)) > 0 {
		return true
	}
	for _, tag := range d.Tags {
		if len(m.ac.FindAll(tag)) > 0 {
			return true
		}
	}
	return false
}

// Result is the outcome of Filter.
type Result struct {
	Destinations []models.ScheduledDestination
	Dropped      int
	// Unmatched is set when no candidate matched the preferred types and the
	// full set was kept instead.
	Unmatched bool
}

// Filter keeps destinations matching the preferred types, must-visit ones
// always included, then caps the set at PerDayCap * days by rating.
func Filter(candidates []models.ScheduledDestination, prefs models.Preferences, cfg models.ActivityDensityConfig, days int) Result {
	m := NewMatcher(cfg.PreferredTypes)

	var kept []models.ScheduledDestination
	matched := 0
	for _, c := range candidates {
		switch {
		case m.Matches(c.Destination):
			matched++
			kept = append(kept, c)
		case prefs.IsMustVisit(c.ID):
			kept = append(kept, c)
		}
	}

	res := Result{}
	if matched == 0 && len(candidates) > 0 {
		kept = append([]models.ScheduledDestination(nil), candidates...)
		res.Unmatched = true
	}

	limit := PerDayCap(cfg) * days
	if len(kept) > limit {
		sort.SliceStable(kept, func(i, j int) bool {
			mi, mj := prefs.IsMustVisit(kept[i].ID), prefs.IsMustVisit(kept[j].ID)
			if mi != mj {
				return mi
			}
			return kept[i].Rating > kept[j].Rating
		})
		kept = kept[:limit]
	}
	res.Destinations = kept
	res.Dropped = len(candidates) - len(kept)
	return res
}

// Intensity classifies activities per day: up to 2 is relaxed, up to 4 is
// moderate, anything above is intensive.
func Intensity(perDay float64) models.IntensityLevel {
	switch {
	case perDay <= 2:
		return models.IntensityRelaxed
	case perDay <= 4:
		return models.IntensityModerate
	default:
		return models.IntensityIntensive
	}
}

// Measure computes density metrics for a plan.
func Measure(days []models.DayPlan) models.DensityMetrics {
	if len(days) == 0 {
		return models.DensityMetrics{Intensity: models.IntensityRelaxed, FreeTimePercent: 100}
	}
	activities := 0
	duration := 0
	for _, d := range days {
		for _, s := range d.Destinations {
			if s.Placeholder {
				continue
			}
			activities++
			duration += s.Duration
		}
	}
	budget := DayBudgetMinutes * len(days)
	free := float64(budget-duration) / float64(budget) * 100
	if free < 0 {
		free = 0
	}
	perDay := float64(activities) / float64(len(days))
	return models.DensityMetrics{
		ActivitiesPerDay: perDay,
		TotalDuration:    duration,
		FreeTimePercent:  free,
		Intensity:        Intensity(perDay),
	}
}

// Check flags over-scheduling and low free time. It never blocks.
func Check(m models.DensityMetrics, cfg models.ActivityDensityConfig) []string {
	var warnings []string
	if limit := PerDayCap(cfg); m.ActivitiesPerDay > float64(limit) {
		warnings = append(warnings, fmt.Sprintf("over-scheduled: %.1f activities per day exceeds %d", m.ActivitiesPerDay, limit))
	}
	if m.FreeTimePercent < MinFreeTimePercent {
		warnings = append(warnings, fmt.Sprintf("free time %.0f%% is below %d%%", m.FreeTimePercent, MinFreeTimePercent))
	}
	return warnings
}
