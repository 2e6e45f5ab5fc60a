package meals

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// ReferenceBudget is the meal budget the baselines are priced against.
const ReferenceBudget = 150000

// Baselines is the per-person cost of each meal at the reference budget.
var Baselines = map[models.MealType]float64{
	models.MealBreakfast: 25000,
	models.MealLunch:     50000,
	models.MealDinner:    75000,
}

var title = cases.Title(language.Und)

// Plan returns the day's meals, or nil when meals are disabled. Costs cover
// every traveler.
func Plan(city string, cfg models.MealConfig, travelers int, dietary []string) []models.Meal {
	if !cfg.Include {
		return nil
	}
	if travelers < 1 {
		travelers = 1
	}
	cuisine := "local"
	if len(cfg.PreferredCuisines) > 0 && strings.TrimSpace(cfg.PreferredCuisines[0]) != "" {
		cuisine = strings.TrimSpace(cfg.PreferredCuisines[0])
	}
	scale := cfg.Budget / ReferenceBudget

	slots := []struct {
		kind models.MealType
		at   models.TimeOfDay
	}{
		{models.MealBreakfast, cfg.Timing.Breakfast},
		{models.MealLunch, cfg.Timing.Lunch},
		{models.MealDinner, cfg.Timing.Dinner},
	}
	out := make([]models.Meal, 0, len(slots))
	for _, s := range slots {
		out = append(out, models.Meal{
			Type:           s.kind,
			Time:           s.at,
			Cuisine:        cuisine,
			Recommendation: recommend(s.kind, cuisine, city, dietary),
			Cost:           Baselines[s.kind] * scale * float64(travelers),
		})
	}
	return out
}

// Total sums the cost of meals.
func Total(meals []models.Meal) float64 {
	var sum float64
	for _, m := range meals {
		sum += m.Cost
	}
	return sum
}

func recommend(kind models.MealType, cuisine, city string, dietary []string) string {
	text := fmt.Sprintf("%s %s", title.String(cuisine), kind)
	if city != "" {
		text += " in " + title.String(city)
	}
	if len(dietary) > 0 {
		text += " (" + strings.Join(dietary, ", ") + ")"
	}
	return text
}
