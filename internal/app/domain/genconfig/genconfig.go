// Package genconfig owns the generation policy: its defaults, the per-block
// merge of partial overrides, and schema validation of the merged result.
package genconfig

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/validation"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// Defaults returns a fresh copy of the default policy.
func Defaults() models.GeneratorConfig {
	return models.GeneratorConfig{
		DayStructure: models.DayStructureConfig{
			PreferredStartTime: models.MustTimeOfDay("08:00"),
			PreferredEndTime:   models.MustTimeOfDay("20:00"),
			MaxDailyActivities: 4,
			BufferTime:         30,
			BreakDuration:      60,
			IncludeFreeTime:    true,
		},
		CostDistribution: models.CostDistributionConfig{
			Strategy:             models.StrategyEqual,
			VariabilityTolerance: 0.15,
			EmergencyFundPercent: 10,
		},
		ActivityDensity: models.ActivityDensityConfig{
			Level:               models.IntensityModerate,
			MaxActivitiesPerDay: 4,
			FreeTimePercent:     20,
		},
		Transportation: models.TransportationConfig{
			AllowedModes: []models.TransportMode{
				models.ModeWalking, models.ModePublicTransit, models.ModeTaxi, models.ModeRentalCar,
			},
			MaxWalkingDistanceKm: 2,
		},
		Meals: models.MealConfig{
			Include:           true,
			Budget:            150000,
			PreferredCuisines: []string{"local"},
			Timing: models.MealTiming{
				Breakfast: models.MustTimeOfDay("07:00"),
				Lunch:     models.MustTimeOfDay("12:00"),
				Dinner:    models.MustTimeOfDay("18:00"),
			},
		},
		Performance: models.PerformanceConfig{
			CacheTTLSeconds: 300,
			MaxConcurrency:  4,
			TimeoutMs:       30000,
		},
		Persistence: models.PersistenceConfig{
			StorageType:    models.StorageHybrid,
			BackupEnabled:  true,
			RetryAttempts:  3,
			SyncIntervalMs: 5000,
		},
	}
}

// Merge applies overrides onto base one block at a time. Inside a present
// block only the fields that are set replace base values, so siblings are
// never dropped. base is not modified.
func Merge(base models.GeneratorConfig, o *models.ConfigOverrides) models.GeneratorConfig {
	out := clone(base)
	if o == nil {
		return out
	}
	if b := o.DayStructure; b != nil {
		setIf(&out.DayStructure.PreferredStartTime, b.PreferredStartTime)
		setIf(&out.DayStructure.PreferredEndTime, b.PreferredEndTime)
		setIf(&out.DayStructure.MaxDailyActivities, b.MaxDailyActivities)
		setIf(&out.DayStructure.BufferTime, b.BufferTime)
		setIf(&out.DayStructure.BreakDuration, b.BreakDuration)
		setIf(&out.DayStructure.IncludeFreeTime, b.IncludeFreeTime)
	}
	if b := o.CostDistribution; b != nil {
		setIf(&out.CostDistribution.Strategy, b.Strategy)
		setIf(&out.CostDistribution.VariabilityTolerance, b.VariabilityTolerance)
		setIf(&out.CostDistribution.EmergencyFundPercent, b.EmergencyFundPercent)
	}
	if b := o.ActivityDensity; b != nil {
		setIf(&out.ActivityDensity.Level, b.Level)
		setIf(&out.ActivityDensity.MaxActivitiesPerDay, b.MaxActivitiesPerDay)
		setIf(&out.ActivityDensity.FreeTimePercent, b.FreeTimePercent)
		if b.PreferredTypes != nil {
			out.ActivityDensity.PreferredTypes = append([]string(nil), b.PreferredTypes...)
		}
	}
	if b := o.Transportation; b != nil {
		if b.AllowedModes != nil {
			out.Transportation.AllowedModes = append([]models.TransportMode(nil), b.AllowedModes...)
		}
		setIf(&out.Transportation.MaxWalkingDistanceKm, b.MaxWalkingDistanceKm)
		setIf(&out.Transportation.BudgetPriority, b.BudgetPriority)
		setIf(&out.Transportation.EcoPriority, b.EcoPriority)
	}
	if b := o.Meals; b != nil {
		setIf(&out.Meals.Include, b.Include)
		setIf(&out.Meals.Budget, b.Budget)
		if b.PreferredCuisines != nil {
			out.Meals.PreferredCuisines = append([]string(nil), b.PreferredCuisines...)
		}
		setIf(&out.Meals.Timing, b.Timing)
	}
	if b := o.Performance; b != nil {
		setIf(&out.Performance.CacheTTLSeconds, b.CacheTTLSeconds)
		setIf(&out.Performance.MaxConcurrency, b.MaxConcurrency)
		setIf(&out.Performance.TimeoutMs, b.TimeoutMs)
	}
	if b := o.Persistence; b != nil {
		setIf(&out.Persistence.StorageType, b.StorageType)
		setIf(&out.Persistence.BackupEnabled, b.BackupEnabled)
		setIf(&out.Persistence.RetryAttempts, b.RetryAttempts)
		setIf(&out.Persistence.SyncIntervalMs, b.SyncIntervalMs)
	}
	return out
}

// MergeOverrides layers top over bottom, block by block and field by field.
// A block that cannot be encoded, such as one holding NaN, fails the merge
// with models.ErrBadRequest.
func MergeOverrides(bottom, top *models.ConfigOverrides) (*models.ConfigOverrides, error) {
	if bottom == nil {
		return top, nil
	}
	if top == nil {
		return bottom, nil
	}
	out := models.ConfigOverrides{}
	var errs [7]error
	out.DayStructure, errs[0] = mergeBlock("day_structure", bottom.DayStructure, top.DayStructure)
	out.CostDistribution, errs[1] = mergeBlock("cost_distribution", bottom.CostDistribution, top.CostDistribution)
	out.ActivityDensity, errs[2] = mergeBlock("activity_density", bottom.ActivityDensity, top.ActivityDensity)
	out.Transportation, errs[3] = mergeBlock("transportation", bottom.Transportation, top.Transportation)
	out.Meals, errs[4] = mergeBlock("meals", bottom.Meals, top.Meals)
	out.Performance, errs[5] = mergeBlock("performance", bottom.Performance, top.Performance)
	out.Persistence, errs[6] = mergeBlock("persistence", bottom.Persistence, top.Persistence)
	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &out, nil
}

// mergeBlock overlays the non-null JSON fields of top onto bottom.
func mergeBlock[T any](name string, bottom, top *T) (*T, error) {
	if bottom == nil || top == nil {
		if top != nil {
			return top, nil
		}
		return bottom, nil
	}
	var merged T
	for _, layer := range []*T{bottom, top} {
		raw, err := json.Marshal(layer)
		if err == nil {
			err = json.Unmarshal(raw, &merged)
		}
		if err != nil {
			return nil, fmt.Errorf("merging %s overrides: %v: %w", name, err, models.ErrBadRequest)
		}
	}
	return &merged, nil
}

// Validate checks cfg against the schema and itemizes every failure.
func Validate(cfg models.GeneratorConfig) validation.Result {
	return validation.Struct(cfg)
}

// Resolve merges overrides onto the defaults and rejects a schema-invalid
// result. The returned error wraps models.ErrValidation.
func Resolve(o *models.ConfigOverrides) (models.GeneratorConfig, validation.Result, error) {
	cfg := Merge(Defaults(), o)
	res := Validate(cfg)
	if !res.Valid {
		return models.GeneratorConfig{}, res, fmt.Errorf("generator config: %w", res.Err())
	}
	return cfg, res, nil
}

// LoadOverrides reads a YAML or JSON overrides file. Keys use the same
// snake_case names as the JSON form.
func LoadOverrides(path string) (*models.ConfigOverrides, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read generator config file: %w", err)
	}

	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to encode generator config: %w", err)
	}
	var o models.ConfigOverrides
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("failed to decode generator config: %w", err)
	}
	return &o, nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func clone(c models.GeneratorConfig) models.GeneratorConfig {
	out := c
	out.ActivityDensity.PreferredTypes = append([]string(nil), c.ActivityDensity.PreferredTypes...)
	out.Transportation.AllowedModes = append([]models.TransportMode(nil), c.Transportation.AllowedModes...)
	out.Meals.PreferredCuisines = append([]string(nil), c.Meals.PreferredCuisines...)
	return out
}
