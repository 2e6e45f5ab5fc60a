package costs

import (
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

const decayRatio = 0.8

const peakShare = 0.4

// categoryShares is the fixed split of the budget net of the emergency fund.
var categoryShares = []struct {
	Category models.BudgetCategory
	Share    float64
}{
	{models.CategoryAccommodation, 0.35},
	{models.CategoryTransport, 0.20},
	{models.CategoryFood, 0.25},
	{models.CategoryActivities, 0.15},
	{models.CategoryMisc, 0.05},
}

// Categories lists the budget categories in split order.
func Categories() []models.BudgetCategory {
	out := make([]models.BudgetCategory, 0, len(categoryShares))
	for _, c := range categoryShares {
		out = append(out, c.Category)
	}
	return out
}

// DayWeights returns per-day weights summing to 1 for the given strategy.
// The peak day is index days/2.
func DayWeights(strategy models.AllocationStrategy, days int) []float64 {
	if days <= 0 {
		return nil
	}
	w := make([]float64, days)
	switch strategy {
	case models.StrategyFrontLoaded, models.StrategyBackLoaded:
		for i := range w {
			w[i] = math.Pow(decayRatio, float64(i))
		}
		if strategy == models.StrategyBackLoaded {
			for i, j := 0, days-1; i < j; i, j = i+1, j-1 {
				w[i], w[j] = w[j], w[i]
			}
		}
	case models.StrategyPeakDay:
		if days == 1 {
			w[0] = 1
			return w
		}
		rest := (1 - peakShare) / float64(days-1)
		for i := range w {
			w[i] = rest
		}
		w[days/2] = peakShare
		return w
	default:
		for i := range w {
			w[i] = 1
		}
	}
	return normalize(w)
}

func normalize(w []float64) []float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// Allocate builds the budget breakdown. The category split and the day weights
// are computed independently; both work on the budget net of the emergency fund.
func Allocate(total float64, days int, cfg models.CostDistributionConfig) models.BudgetBreakdown {
	emergency := total * cfg.EmergencyFundPercent / 100
	net := total - emergency

	b := models.BudgetBreakdown{
		Total:         total,
		EmergencyFund: emergency,
		Categories:    make(map[models.BudgetCategory]models.CategoryBudget, len(categoryShares)),
		Strategy:      cfg.Strategy,
	}

	var assigned float64
	for i, c := range categoryShares {
		amount := net * c.Share
		if i == len(categoryShares)-1 {
			amount = net - assigned
		}
		assigned += amount
		b.Categories[c.Category] = models.CategoryBudget{Allocated: amount, Recommended: amount}
	}

	for _, weight := range DayWeights(cfg.Strategy, days) {
		b.DailyBudgets = append(b.DailyBudgets, net*weight)
	}
	return b
}

// Reconcile records actual spend per category as the recommended amount and
// the unspent remainder as savings.
func Reconcile(b models.BudgetBreakdown, spent map[models.BudgetCategory]float64) models.BudgetBreakdown {
	out := b
	out.Categories = make(map[models.BudgetCategory]models.CategoryBudget, len(b.Categories))
	for cat, cb := range b.Categories {
		s := spent[cat]
		cb.Recommended = s
		cb.Savings = math.Max(0, cb.Allocated-s)
		out.Categories[cat] = cb
	}
	out.DailyBudgets = append([]float64(nil), b.DailyBudgets...)
	return out
}

// Suggest lists savings opportunities for the trip.
func Suggest(prefs models.Preferences, destinations int, b models.BudgetBreakdown, now time.Time) []models.OptimizationSuggestion {
	var out []models.OptimizationSuggestion

	if destinations >= 3 {
		out = append(out, models.OptimizationSuggestion{
			Type:             "group_discount",
			Description:      fmt.Sprintf("Bundle tickets for %d destinations to unlock group pricing", destinations),
			EstimatedSavings: b.Categories[models.CategoryActivities].Allocated * 0.10,
			Impact:           models.ImpactMedium,
		})
	}

	if !prefs.StartDate.IsZero() && isLowSeason(prefs.StartDate.Month()) {
		out = append(out, models.OptimizationSuggestion{
			Type:             "low_season",
			Description:      fmt.Sprintf("%s is low season; negotiate accommodation rates", prefs.StartDate.Month()),
			EstimatedSavings: b.Categories[models.CategoryAccommodation].Allocated * 0.15,
			Impact:           models.ImpactHigh,
		})
	}

	if !prefs.StartDate.IsZero() && prefs.StartDate.Sub(now) >= 30*24*time.Hour {
		out = append(out, models.OptimizationSuggestion{
			Type:             "early_booking",
			Description:      "Book transport and lodging now for early-bird fares",
			EstimatedSavings: (b.Categories[models.CategoryAccommodation].Allocated + b.Categories[models.CategoryTransport].Allocated) * 0.08,
			Impact:           models.ImpactLow,
		})
	}
	return out
}

// SeasonalMultiplier is 1.2 in high season, 0.9 in low season, else 1.
func SeasonalMultiplier(m time.Month) float64 {
	switch {
	case isHighSeason(m):
		return 1.2
	case isLowSeason(m):
		return 0.9
	default:
		return 1.0
	}
}

func isHighSeason(m time.Month) bool {
	return m == time.June || m == time.July || m == time.August || m == time.December
}

func isLowSeason(m time.Month) bool {
	return m == time.January || m == time.February || m == time.March || m == time.November
}

// Variability annotates the plan with seasonal and demand multipliers and a
// deterministic synthetic price delta per scheduled destination.
func Variability(days []models.DayPlan, start time.Time, suggestions []models.OptimizationSuggestion) models.CostVariability {
	v := models.CostVariability{
		SeasonalMultiplier: SeasonalMultiplier(start.Month()),
		DemandMultiplier:   1.0,
	}
	for _, d := range days {
		if wd := d.Date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			v.DemandMultiplier = 1.1
		}
		date := d.Date.Format(time.DateOnly)
		for _, s := range d.Destinations {
			v.PriceDeltas = append(v.PriceDeltas, models.PriceDelta{
				DestinationID: s.ID,
				Date:          date,
				DeltaPercent:  PriceDelta(s.ID, date),
			})
		}
	}
	for _, s := range suggestions {
		v.Discounts = append(v.Discounts, s.Type)
	}
	return v
}

// PriceDelta maps (id, date) onto a percentage in [-5, 5] with one decimal.
func PriceDelta(id, date string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id + "|" + date))
	return float64(int(h.Sum32()%101)-50) / 10
}

// DaySpent splits what one day costs. Destination entry and inter-city
// transfer prices are per person; meals, local transport and the room are
// already totals.
func DaySpent(day models.DayPlan, travelers int) map[models.BudgetCategory]float64 {
	out := make(map[models.BudgetCategory]float64, len(categoryShares))
	for _, d := range day.Destinations {
		out[models.CategoryActivities] += d.Cost * float64(travelers)
	}
	if day.Transportation != nil {
		out[models.CategoryTransport] += day.Transportation.Cost
	}
	if day.Transfer != nil {
		out[models.CategoryTransport] += day.Transfer.Price * float64(travelers)
	}
	for _, m := range day.Meals {
		out[models.CategoryFood] += m.Cost
	}
	if day.Accommodation != nil {
		out[models.CategoryAccommodation] += day.Accommodation.CostPerNight
	}
	return out
}

// DayTotal is the sum of DaySpent.
func DayTotal(day models.DayPlan, travelers int) float64 {
	var total float64
	for _, v := range DaySpent(day, travelers) {
		total += v
	}
	return total
}

// Spent sums DaySpent over the plan.
func Spent(days []models.DayPlan, travelers int) map[models.BudgetCategory]float64 {
	out := make(map[models.BudgetCategory]float64, len(categoryShares))
	for _, d := range days {
		for cat, v := range DaySpent(d, travelers) {
			out[cat] += v
		}
	}
	return out
}
