package itinerary

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/costs"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/genconfig"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/validation"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

type applyMode string

const (
	modeNoop        applyMode = "noop"
	modeIncremental applyMode = "incremental"
	modeRegenerate  applyMode = "regenerate"
)

// apply mutates st in place. Only budget changes are patched incrementally;
// every other accepted change regenerates the plan from the updated input.
func (e *Engine) apply(ctx context.Context, st *models.ItineraryState, upd models.ItineraryUpdate) (applyMode, error) {
	ensureInput(st)
	in := st.Input

	switch upd.Type {
	case models.UpdateDestinationAdd:
		var p models.DestinationPayload
		if err := upd.Decode(&p); err != nil {
			return "", err
		}
		if res := validation.Struct(p.Destination); !res.Valid {
			return "", fmt.Errorf("destination: %v: %w", res.Err(), models.ErrBadRequest)
		}
		if indexOf(in.Destinations, p.Destination.ID) >= 0 {
			return modeNoop, nil
		}
		in.Destinations = append(in.Destinations, p.Destination)
		if !in.Preferences.IsMustVisit(p.Destination.ID) {
			in.Preferences.MustVisit = append(in.Preferences.MustVisit, p.Destination.ID)
		}

	case models.UpdateDestinationRemove:
		var p models.DestinationRemovePayload
		if err := upd.Decode(&p); err != nil {
			return "", err
		}
		i := indexOf(in.Destinations, p.DestinationID)
		if i < 0 {
			return modeNoop, nil
		}
		in.Destinations = slices.Delete(in.Destinations, i, i+1)
		in.Preferences.MustVisit = slices.DeleteFunc(in.Preferences.MustVisit, func(id string) bool {
			return id == p.DestinationID
		})
		if len(in.Destinations) == 0 {
			return "", fmt.Errorf("cannot remove the last destination: %w", models.ErrBadRequest)
		}

	case models.UpdateDestinationUpdate:
		var p models.DestinationPayload
		if err := upd.Decode(&p); err != nil {
			return "", err
		}
		if res := validation.Struct(p.Destination); !res.Valid {
			return "", fmt.Errorf("destination: %v: %w", res.Err(), models.ErrBadRequest)
		}
		i := indexOf(in.Destinations, p.Destination.ID)
		if i < 0 {
			return "", fmt.Errorf("destination %s is not in the itinerary: %w", p.Destination.ID, models.ErrBadRequest)
		}
		in.Destinations[i] = p.Destination

	case models.UpdateBudgetChange:
		var p models.BudgetPayload
		if err := upd.Decode(&p); err != nil {
			return "", err
		}
		if p.Budget <= 0 || math.IsNaN(p.Budget) || math.IsInf(p.Budget, 0) {
			return "", fmt.Errorf("budget must be positive: %w", models.ErrBadRequest)
		}
		in.Preferences.Budget = p.Budget
		e.patchBudget(st, p.Budget)
		return modeIncremental, nil

	case models.UpdateDateChange:
		var p models.DatePayload
		if err := upd.Decode(&p); err != nil {
			return "", err
		}
		if p.StartDate.IsZero() {
			return "", fmt.Errorf("start_date is required: %w", models.ErrBadRequest)
		}
		in.Preferences.StartDate = p.StartDate
		if p.Days != nil {
			in.Preferences.Days = *p.Days
		}

	case models.UpdatePreferenceUpdate:
		var p models.PreferencePayload
		if err := upd.Decode(&p); err != nil {
			return "", err
		}
		prefs := &in.Preferences
		if p.Travelers != nil {
			prefs.Travelers = *p.Travelers
		}
		if p.AccommodationType != nil {
			prefs.AccommodationType = *p.AccommodationType
		}
		if p.Cities != nil {
			prefs.Cities = p.Cities
		}
		if p.Interests != nil {
			prefs.Interests = p.Interests
		}
		if p.Themes != nil {
			prefs.Themes = p.Themes
		}
		if p.Constraints != nil {
			prefs.Constraints = *p.Constraints
		}
		merged, err := genconfig.MergeOverrides(in.Config, p.Config)
		if err != nil {
			return "", err
		}
		in.Config = merged

	default:
		return "", fmt.Errorf("unknown update type %q: %w", upd.Type, models.ErrBadRequest)
	}

	out, err := e.gen.Regenerate(ctx, st.ID, in)
	if err != nil {
		return "", fmt.Errorf("regenerating after %s: %w", upd.Type, err)
	}
	st.Output = out
	return modeRegenerate, nil
}

// patchBudget reallocates the budget over the existing days without touching
// the scheduled destinations.
func (e *Engine) patchBudget(st *models.ItineraryState, budget float64) {
	out := st.Output
	cfg := out.Metadata.Config.CostDistribution
	if cfg.Strategy == "" {
		cfg = genconfig.Defaults().CostDistribution
	}
	travelers := max(1, st.Input.Preferences.Travelers)

	alloc := costs.Allocate(budget, len(out.Days), cfg)
	out.Budget = costs.Reconcile(alloc, costs.Spent(out.Days, travelers))
	for i := range out.Days {
		if i < len(alloc.DailyBudgets) {
			out.Days[i].Budget = alloc.DailyBudgets[i]
		}
	}

	out.Metadata.Preferences.Budget = budget
	out.Optimization.BudgetUtilization = math.Round(out.TotalCost/budget*1000) / 1000
	out.Optimization.Suggestions = costs.Suggest(st.Input.Preferences, len(out.DestinationIDs()), out.Budget, e.now())
	out.CostVariability.Discounts = nil
	for _, s := range out.Optimization.Suggestions {
		out.CostVariability.Discounts = append(out.CostVariability.Discounts, s.Description)
	}
	if out.TotalCost > budget {
		out.Warnings = append(out.Warnings, fmt.Sprintf("plan costs %.0f, above the new budget of %.0f", out.TotalCost, budget))
	}
}

// ensureInput rebuilds the generation input from the plan when the state
// was restored without one, and pins the destination set to what the plan
// already schedules.
func ensureInput(st *models.ItineraryState) {
	out := st.Output
	if st.Input == nil {
		prefs := out.Metadata.Preferences
		prefs.MustVisit = append([]string(nil), prefs.MustVisit...)
		if prefs.Days == 0 {
			prefs.Days = len(out.Days)
		}
		if prefs.Budget <= 0 {
			prefs.Budget = out.Budget.Total
		}
		if prefs.Travelers < 1 {
			prefs.Travelers = 1
		}
		if prefs.AccommodationType == "" {
			prefs.AccommodationType = models.AccommodationModerate
		}
		if len(prefs.Cities) == 0 {
			for _, d := range out.Days {
				if d.City != "" && !slices.Contains(prefs.Cities, d.City) {
					prefs.Cities = append(prefs.Cities, d.City)
				}
			}
		}
		if prefs.StartDate.IsZero() && len(out.Days) > 0 {
			prefs.StartDate = out.Days[0].Date
		}
		st.Input = &models.GeneratorInput{UserID: st.UserID, Preferences: prefs}
		if st.Input.UserID == "" {
			st.Input.UserID = out.UserID
		}
	}
	if len(st.Input.Destinations) == 0 {
		for _, d := range out.Days {
			for _, s := range d.Destinations {
				if s.Placeholder || indexOf(st.Input.Destinations, s.ID) >= 0 {
					continue
				}
				st.Input.Destinations = append(st.Input.Destinations, s.Destination)
			}
		}
	}
}

func indexOf(ds []models.Destination, id string) int {
	return slices.IndexFunc(ds, func(d models.Destination) bool { return d.ID == id })
}
