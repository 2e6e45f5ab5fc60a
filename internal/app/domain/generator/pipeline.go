package generator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/catalog"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/costs"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/density"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/meals"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/recovery"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/scheduler"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/transport"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/validation"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// run executes one generation attempt under the attempt's timeout. It returns
// a nil output whenever it returns an error.
func (s *ServiceImpl) run(parent context.Context, id string, a *recovery.Attempt) (*models.GeneratorOutput, error) {
	ctx, cancel := context.WithTimeout(parent, a.Timeout)
	defer cancel()

	in := &a.Input
	cfg := a.Config
	prefs := in.Preferences
	l := s.logger.With(zap.String("method", "run"), zap.String("itinerary_id", id))

	pool, err := s.destinations(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := checkpoint(ctx, "catalog"); err != nil {
		return nil, err
	}

	candidates, confidence, err := s.score(ctx, in.UserID, prefs, pool)
	if err != nil {
		return nil, err
	}
	if err := checkpoint(ctx, "oracle"); err != nil {
		return nil, err
	}

	var warnings []string
	filtered := density.Filter(candidates, prefs, cfg.ActivityDensity, prefs.Days)
	if filtered.Unmatched {
		warnings = append(warnings, "no destination matched the preferred types; using the full catalog")
	}
	if filtered.Dropped > 0 {
		l.Debug("Density filter dropped destinations", zap.Int("dropped", filtered.Dropped))
	}

	start := s.startDate(prefs)
	budget := costs.Allocate(prefs.Budget, prefs.Days, cfg.CostDistribution)
	plans, dayWarnings := s.layoutDays(filtered.Destinations, start, in, cfg, budget, confidence)
	warnings = append(warnings, dayWarnings...)

	alternatives(plans, pool)

	if err := s.transfers(ctx, plans, cfg.Performance.MaxConcurrency); err != nil {
		if perr := checkpoint(ctx, "transfers"); perr != nil {
			return nil, perr
		}
		warnings = append(warnings, fmt.Sprintf("transfer quotes unavailable: %v", err))
	}
	for i := range plans {
		plans[i].TotalCost = costs.DayTotal(plans[i], prefs.Travelers)
	}

	warnings = append(warnings, enforceBudget(plans, prefs, cfg)...)

	if res := validation.ValidateStructure(&models.GeneratorOutput{Days: plans}); !res.Valid {
		return nil, recovery.NewError(recovery.CodeValidation, "structure", res.Err())
	}

	out := s.assemble(id, in, cfg, plans, budget, start)
	out.Warnings = append(warnings, out.Warnings...)
	return out, nil
}

func checkpoint(ctx context.Context, stage string) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return recovery.NewError(recovery.CodeTimeout, stage, err)
	}
	return recovery.NewError(recovery.CodeUnknown, stage, err)
}

// stageError classifies an I/O failure from a collaborator.
func stageError(ctx context.Context, stage string, err error) error {
	if cerr := checkpoint(ctx, stage); cerr != nil {
		return cerr
	}
	switch recovery.Classify(err) {
	case recovery.CodeDataMissing:
		return recovery.NewError(recovery.CodeDataMissing, stage, err)
	case recovery.CodeTimeout:
		return recovery.NewError(recovery.CodeTimeout, stage, err)
	case recovery.CodeValidation:
		return recovery.NewError(recovery.CodeValidation, stage, err)
	default:
		return recovery.NewError(recovery.CodeNetwork, stage, err)
	}
}

func (s *ServiceImpl) destinations(ctx context.Context, in *models.GeneratorInput) ([]models.Destination, error) {
	if len(in.Destinations) > 0 {
		return in.Destinations, nil
	}
	if s.provider == nil {
		return nil, recovery.NewError(recovery.CodeDataMissing, "catalog", errors.New("no destinations and no catalog provider"))
	}
	pool, err := s.provider.Destinations(ctx, in.Preferences.Cities)
	if err != nil {
		return nil, stageError(ctx, "catalog", err)
	}
	if len(pool) == 0 {
		return nil, recovery.NewError(recovery.CodeDataMissing, "catalog", fmt.Errorf("catalog returned no destinations: %w", models.ErrNotFound))
	}
	return pool, nil
}

// score asks the oracle for verdicts. Missing verdicts fall back to rating.
func (s *ServiceImpl) score(ctx context.Context, userID string, prefs models.Preferences, pool []models.Destination) ([]models.ScheduledDestination, map[string]float64, error) {
	byID := make(map[string]models.Score, len(pool))
	if s.oracle != nil {
		if po, ok := s.oracle.(catalog.ProfileObserver); ok {
			po.ObserveProfile(userID, append(append([]string(nil), prefs.Interests...), prefs.Themes...))
		}
		scores, err := s.oracle.Score(ctx, userID, pool)
		if err != nil {
			return nil, nil, stageError(ctx, "oracle", err)
		}
		for _, sc := range scores {
			byID[sc.ID] = sc
		}
	}

	out := make([]models.ScheduledDestination, 0, len(pool))
	confidence := make(map[string]float64, len(pool))
	for _, d := range pool {
		sc, ok := byID[d.ID]
		if !ok {
			sc = models.Score{ID: d.ID, Score: d.Rating / 5, Confidence: 0.5, PredictedRating: d.Rating}
		}
		confidence[d.ID] = clamp01(sc.Confidence)
		out = append(out, models.ScheduledDestination{
			Destination:           d,
			RecommendationScore:   clamp01(sc.Score),
			PredictedSatisfaction: sc.PredictedRating,
		})
	}
	return out, confidence, nil
}

func (s *ServiceImpl) startDate(prefs models.Preferences) time.Time {
	start := prefs.StartDate
	if start.IsZero() {
		start = s.now()
	}
	return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
}

// cityForDay cycles through the target cities.
func cityForDay(cities []string, day int) string {
	if len(cities) == 0 {
		return ""
	}
	return cities[day%len(cities)]
}

// assignDays spreads candidates over days in priority order. A destination
// goes to the least-loaded day in its own city while that day is under the
// even share, otherwise to the least-loaded day overall.
func assignDays(candidates []models.ScheduledDestination, prefs models.Preferences) [][]models.ScheduledDestination {
	days := make([][]models.ScheduledDestination, prefs.Days)
	share := (len(candidates) + prefs.Days - 1) / prefs.Days
	leastLoaded := func(match func(int) bool) int {
		best := -1
		for i := range days {
			if match(i) && (best < 0 || len(days[i]) < len(days[best])) {
				best = i
			}
		}
		return best
	}
	for _, c := range scheduler.Order(candidates, prefs) {
		best := leastLoaded(func(i int) bool {
			return len(days[i]) < share && strings.EqualFold(strings.TrimSpace(c.Location), strings.TrimSpace(cityForDay(prefs.Cities, i)))
		})
		if best < 0 {
			best = leastLoaded(func(int) bool { return true })
		}
		days[best] = append(days[best], c)
	}
	return days
}

func (s *ServiceImpl) layoutDays(candidates []models.ScheduledDestination, start time.Time, in *models.GeneratorInput, cfg models.GeneratorConfig, budget models.BudgetBreakdown, confidence map[string]float64) ([]models.DayPlan, []string) {
	prefs := in.Preferences
	buckets := assignDays(candidates, prefs)
	nights := nightsFor(prefs.Days)
	stay := accommodation(prefs, budget, nights)

	var warnings []string
	var carry []models.ScheduledDestination
	plans := make([]models.DayPlan, 0, prefs.Days)
	for i := 0; i < prefs.Days; i++ {
		city := cityForDay(prefs.Cities, i)
		date := start.AddDate(0, 0, i)
		sched := scheduler.Day(append(carry, buckets[i]...), i+1, prefs, cfg.DayStructure)
		carry = sched.Skipped

		dests := sched.Destinations
		if len(dests) == 0 {
			dests = []models.ScheduledDestination{placeholder(city, cfg.DayStructure)}
			warnings = append(warnings, fmt.Sprintf("day %d had no schedulable destination; added a placeholder", i+1))
		}
		for j := range dests {
			dests[j].CrowdLevel = crowdLevel(dests[j], date)
		}

		plan := models.DayPlan{
			Day:          i + 1,
			Date:         date,
			City:         city,
			Destinations: dests,
			Breaks:       sched.Breaks,
			FreeTime:     sched.FreeTime,
			Meals:        meals.Plan(city, cfg.Meals, prefs.Travelers, prefs.Constraints.DietaryNeeds),
			TotalMinutes: minutes(dests),
			MLConfidence: dayConfidence(dests, confidence),
		}
		if i < len(budget.DailyBudgets) {
			plan.Budget = budget.DailyBudgets[i]
		}
		tr := transport.Select(dests, cfg.Transportation)
		plan.Transportation = &tr
		if i < nights {
			a := stay
			a.City = city
			plan.Accommodation = &a
		}
		capMeals(&plan, budget, prefs.Days)
		plans = append(plans, plan)
	}
	if len(carry) > 0 {
		warnings = append(warnings, fmt.Sprintf("%d destinations did not fit into any day", len(carry)))
	}
	return plans, warnings
}

func placeholder(city string, ds models.DayStructureConfig) models.ScheduledDestination {
	d := recovery.FallbackDestination(city)
	if room := int(ds.PreferredEndTime-ds.PreferredStartTime) - ds.BufferTime; room < d.Duration {
		d.Duration = max(1, room)
	}
	return models.ScheduledDestination{
		Destination:           d,
		ScheduledTime:         ds.PreferredStartTime,
		RecommendationScore:   recovery.FallbackConfidence,
		PredictedSatisfaction: d.Rating,
		Placeholder:           true,
	}
}

func minutes(dests []models.ScheduledDestination) int {
	total := 0
	for _, d := range dests {
		total += d.Duration
	}
	return total
}

func dayConfidence(dests []models.ScheduledDestination, confidence map[string]float64) float64 {
	if len(dests) == 0 {
		return 0
	}
	var sum float64
	for _, d := range dests {
		if d.Placeholder {
			sum += recovery.FallbackConfidence
			continue
		}
		c, ok := confidence[d.ID]
		if !ok {
			c = 0.5
		}
		sum += c
	}
	return round(clamp01(sum / float64(len(dests))))
}

// crowdLevel estimates crowding from popularity, weekday and hour.
func crowdLevel(d models.ScheduledDestination, date time.Time) models.CrowdLevel {
	if d.Placeholder {
		return models.CrowdMedium
	}
	score := 0
	switch {
	case d.Rating >= 4.5:
		score += 2
	case d.Rating >= 4.0:
		score++
	}
	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		score++
	}
	if h := d.ScheduledTime.Hour(); h >= 10 && h < 15 {
		score++
	}
	switch {
	case score >= 3:
		return models.CrowdHigh
	case score >= 2:
		return models.CrowdMedium
	default:
		return models.CrowdLow
	}
}

// alternatives attaches up to two unscheduled pool items of the same category.
func alternatives(plans []models.DayPlan, pool []models.Destination) {
	scheduled := make(map[string]bool)
	for _, p := range plans {
		for _, d := range p.Destinations {
			scheduled[d.ID] = true
		}
	}
	for i := range plans {
		for j := range plans[i].Destinations {
			d := &plans[i].Destinations[j]
			if d.Placeholder {
				continue
			}
			d.Alternatives = nil
			for _, c := range pool {
				if len(d.Alternatives) == 2 {
					break
				}
				if !scheduled[c.ID] && c.ID != d.ID && strings.EqualFold(c.Category, d.Category) {
					d.Alternatives = append(d.Alternatives, c.ID)
				}
			}
		}
	}
}

// transfers attaches the cheapest route quote to each day that changes city.
func (s *ServiceImpl) transfers(ctx context.Context, plans []models.DayPlan, concurrency int) error {
	if s.provider == nil {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency))
	for i := 1; i < len(plans); i++ {
		from, to := plans[i-1].City, plans[i].City
		if from == "" || strings.EqualFold(from, to) {
			continue
		}
		g.Go(func() error {
			quotes, err := s.provider.RouteQuotes(gctx, from, to, plans[i].Date)
			if err != nil {
				return err
			}
			if len(quotes) == 0 {
				return nil
			}
			best := quotes[0]
			for _, q := range quotes[1:] {
				if q.Price < best.Price {
					best = q
				}
			}
			plans[i].Transfer = &best
			return nil
		})
	}
	return g.Wait()
}

func nightsFor(days int) int {
	return max(1, days-1)
}

// roomRates is the nightly rate of one room per accommodation tier.
var roomRates = map[models.AccommodationType]float64{
	models.AccommodationBudget:   250000,
	models.AccommodationModerate: 600000,
	models.AccommodationLuxury:   1500000,
}

const travelersPerRoom = 2

// accommodation prices one night, capped at the category allocation spread
// over the nights.
func accommodation(prefs models.Preferences, budget models.BudgetBreakdown, nights int) models.Accommodation {
	rooms := int(math.Ceil(float64(prefs.Travelers) / travelersPerRoom))
	perNight := roomRates[prefs.AccommodationType] * float64(rooms)
	capPerNight := budget.Categories[models.CategoryAccommodation].Allocated / float64(nights)
	rec := fmt.Sprintf("%d %s room(s)", rooms, prefs.AccommodationType)
	if perNight > capPerNight {
		perNight = capPerNight
		rec += " within budget"
	}
	return models.Accommodation{
		Type:           prefs.AccommodationType,
		CostPerNight:   math.Round(perNight),
		Rooms:          rooms,
		Recommendation: rec,
	}
}

// capMeals scales the day's meals down to the daily food allocation.
func capMeals(plan *models.DayPlan, budget models.BudgetBreakdown, days int) {
	total := meals.Total(plan.Meals)
	limit := budget.Categories[models.CategoryFood].Allocated / float64(days)
	if total <= limit || total == 0 {
		return
	}
	ratio := limit / total
	for i := range plan.Meals {
		plan.Meals[i].Cost = math.Floor(plan.Meals[i].Cost * ratio)
	}
}

func totalCost(plans []models.DayPlan) float64 {
	var sum float64
	for _, p := range plans {
		sum += p.TotalCost
	}
	return sum
}

// enforceBudget drops the lowest scoring optional visits until the plan fits
// budget*(1+tolerance). A day never loses its last destination.
func enforceBudget(plans []models.DayPlan, prefs models.Preferences, cfg models.GeneratorConfig) []string {
	limit := prefs.Budget * (1 + cfg.CostDistribution.VariabilityTolerance)
	var warnings []string
	for totalCost(plans) > limit {
		di, si := -1, -1
		for i, p := range plans {
			if len(p.Destinations) < 2 {
				continue
			}
			for j, d := range p.Destinations {
				if d.Placeholder || prefs.IsMustVisit(d.ID) {
					continue
				}
				if di < 0 || d.RecommendationScore < plans[di].Destinations[si].RecommendationScore {
					di, si = i, j
				}
			}
		}
		if di < 0 {
			warnings = append(warnings, fmt.Sprintf("plan costs %.0f, above the %.0f limit, and nothing optional is left to drop", totalCost(plans), limit))
			break
		}
		dropped := plans[di].Destinations[si]
		plans[di].Destinations = append(plans[di].Destinations[:si:si], plans[di].Destinations[si+1:]...)
		plans[di].TotalMinutes = minutes(plans[di].Destinations)
		tr := transport.Select(plans[di].Destinations, cfg.Transportation)
		plans[di].Transportation = &tr
		plans[di].TotalCost = costs.DayTotal(plans[di], prefs.Travelers)
		warnings = append(warnings, fmt.Sprintf("dropped %s from day %d to stay within budget", dropped.Name, plans[di].Day))
	}
	return warnings
}

func (s *ServiceImpl) assemble(id string, in *models.GeneratorInput, cfg models.GeneratorConfig, plans []models.DayPlan, budget models.BudgetBreakdown, start time.Time) *models.GeneratorOutput {
	prefs := in.Preferences
	count := 0
	for _, p := range plans {
		for _, d := range p.Destinations {
			if !d.Placeholder {
				count++
			}
		}
	}

	suggestions := costs.Suggest(prefs, count, budget, s.now())
	total := totalCost(plans)
	dm := density.Measure(plans)

	out := &models.GeneratorOutput{
		Success:         true,
		ItineraryID:     id,
		UserID:          in.UserID,
		Days:            plans,
		TotalCost:       total,
		Budget:          costs.Reconcile(budget, costs.Spent(plans, prefs.Travelers)),
		Insights:        insights(plans),
		CostVariability: costs.Variability(plans, start, suggestions),
		Optimization: models.OptimizationMetrics{
			BudgetUtilization: round(total / prefs.Budget),
			TimeUtilization:   round(timeUtilization(plans, cfg.DayStructure)),
			SatisfactionScore: round(satisfaction(plans)),
			Density:           dm,
			Suggestions:       suggestions,
		},
		Metadata: models.GenerationMetadata{
			GeneratedAt:    s.now(),
			Config:         cfg,
			Preferences:    prefs,
			EngineVersions: models.EngineVersions(),
		},
	}
	out.Warnings = append(out.Warnings, density.Check(dm, cfg.ActivityDensity)...)
	return out
}

func insights(plans []models.DayPlan) models.MLInsights {
	var score, conf float64
	n := 0
	categories := map[string]int{}
	for _, p := range plans {
		conf += p.MLConfidence
		for _, d := range p.Destinations {
			if d.Placeholder {
				continue
			}
			score += d.RecommendationScore
			n++
			if d.Category != "" {
				categories[d.Category]++
			}
		}
	}
	out := models.MLInsights{OracleVersion: models.ScoreVersion}
	if n > 0 {
		out.AverageScore = round(score / float64(n))
	}
	if len(plans) > 0 {
		out.AverageConfidence = round(conf / float64(len(plans)))
	}
	names := make([]string, 0, len(categories))
	for c := range categories {
		names = append(names, c)
	}
	sort.Slice(names, func(i, j int) bool {
		if categories[names[i]] != categories[names[j]] {
			return categories[names[i]] > categories[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > 3 {
		names = names[:3]
	}
	out.TopCategories = names
	return out
}

func timeUtilization(plans []models.DayPlan, ds models.DayStructureConfig) float64 {
	window := int(ds.PreferredEndTime - ds.PreferredStartTime)
	if window <= 0 || len(plans) == 0 {
		return 0
	}
	used := 0
	for _, p := range plans {
		used += p.TotalMinutes
	}
	return clamp01(float64(used) / float64(window*len(plans)))
}

func satisfaction(plans []models.DayPlan) float64 {
	var sum float64
	n := 0
	for _, p := range plans {
		for _, d := range p.Destinations {
			sum += d.PredictedSatisfaction
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return clamp01(sum / float64(n) / 5)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
