package models

// AllocationStrategy selects how the total budget is weighted across days.
type AllocationStrategy string

const (
	StrategyEqual       AllocationStrategy = "equal"
	StrategyFrontLoaded AllocationStrategy = "front-loaded"
	StrategyBackLoaded  AllocationStrategy = "back-loaded"
	StrategyPeakDay     AllocationStrategy = "peak-day"
)

// IntensityLevel is the desired activity density.
type IntensityLevel string

const (
	IntensityRelaxed   IntensityLevel = "relaxed"
	IntensityModerate  IntensityLevel = "moderate"
	IntensityIntensive IntensityLevel = "intensive"
)

// TransportMode is one of the modes the selector can pick.
type TransportMode string

const (
	ModeWalking       TransportMode = "walking"
	ModePublicTransit TransportMode = "public_transit"
	ModeTaxi          TransportMode = "taxi"
	ModeRentalCar     TransportMode = "rental_car"
)

// StorageType is the configured persistence mode.
type StorageType string

const (
	StorageDatabase     StorageType = "database"
	StorageLocalStorage StorageType = "localStorage"
	StorageHybrid       StorageType = "hybrid"
)

// GeneratorConfig is the resolved, immutable generation policy. Every block is
// an independent unit; see genconfig.Merge for how overrides are applied.
type GeneratorConfig struct {
	DayStructure     DayStructureConfig     `json:"day_structure"`
	CostDistribution CostDistributionConfig `json:"cost_distribution"`
	ActivityDensity  ActivityDensityConfig  `json:"activity_density"`
	Transportation   TransportationConfig   `json:"transportation"`
	Meals            MealConfig             `json:"meals"`
	Performance      PerformanceConfig      `json:"performance"`
	Persistence      PersistenceConfig      `json:"persistence"`
}

type DayStructureConfig struct {
	PreferredStartTime TimeOfDay `json:"preferred_start_time" validate:"min=0,max=1439"`
	PreferredEndTime   TimeOfDay `json:"preferred_end_time" validate:"min=0,max=1439,gtfield=PreferredStartTime"`
	MaxDailyActivities int       `json:"max_daily_activities" validate:"min=1,max=12"`
	BufferTime         int       `json:"buffer_time" validate:"min=0,max=180"`
	BreakDuration      int       `json:"break_duration" validate:"min=0,max=240"`
	IncludeFreeTime    bool      `json:"include_free_time"`
}

type CostDistributionConfig struct {
	Strategy             AllocationStrategy `json:"strategy" validate:"oneof=equal front-loaded back-loaded peak-day"`
	VariabilityTolerance float64            `json:"variability_tolerance" validate:"min=0,max=1"`
	EmergencyFundPercent float64            `json:"emergency_fund_percent" validate:"min=0,max=50"`
}

type ActivityDensityConfig struct {
	Level               IntensityLevel `json:"level" validate:"oneof=relaxed moderate intensive"`
	MaxActivitiesPerDay int            `json:"max_activities_per_day" validate:"min=1,max=12"`
	FreeTimePercent     float64        `json:"free_time_percent" validate:"min=0,max=100"`
	PreferredTypes      []string       `json:"preferred_types" validate:"dive,required"`
}

type TransportationConfig struct {
	AllowedModes         []TransportMode `json:"allowed_modes" validate:"min=1,dive,oneof=walking public_transit taxi rental_car"`
	MaxWalkingDistanceKm float64         `json:"max_walking_distance_km" validate:"min=0,max=50"`
	BudgetPriority       bool            `json:"budget_priority"`
	EcoPriority          bool            `json:"eco_priority"`
}

type MealConfig struct {
	Include           bool       `json:"include"`
	Budget            float64    `json:"budget" validate:"min=0"`
	PreferredCuisines []string   `json:"preferred_cuisines" validate:"dive,required"`
	Timing            MealTiming `json:"timing"`
}

// MealTiming holds the start of each meal window.
type MealTiming struct {
	Breakfast TimeOfDay `json:"breakfast" validate:"min=0,max=1439"`
	Lunch     TimeOfDay `json:"lunch" validate:"min=0,max=1439"`
	Dinner    TimeOfDay `json:"dinner" validate:"min=0,max=1439"`
}

type PerformanceConfig struct {
	CacheTTLSeconds int `json:"cache_ttl_seconds" validate:"min=1"`
	MaxConcurrency  int `json:"max_concurrency" validate:"min=1,max=64"`
	TimeoutMs       int `json:"timeout_ms" validate:"min=100"`
}

type PersistenceConfig struct {
	StorageType    StorageType `json:"storage_type" validate:"oneof=database localStorage hybrid"`
	BackupEnabled  bool        `json:"backup_enabled"`
	RetryAttempts  int         `json:"retry_attempts" validate:"min=0,max=10"`
	SyncIntervalMs int         `json:"sync_interval_ms" validate:"min=100"`
}

// ConfigOverrides is a partial GeneratorConfig. A nil block leaves the base
// block untouched; inside a present block only non-nil fields replace base values.
type ConfigOverrides struct {
	DayStructure     *DayStructureOverrides     `json:"day_structure,omitempty"`
	CostDistribution *CostDistributionOverrides `json:"cost_distribution,omitempty"`
	ActivityDensity  *ActivityDensityOverrides  `json:"activity_density,omitempty"`
	Transportation   *TransportationOverrides   `json:"transportation,omitempty"`
	Meals            *MealOverrides             `json:"meals,omitempty"`
	Performance      *PerformanceOverrides      `json:"performance,omitempty"`
	Persistence      *PersistenceOverrides      `json:"persistence,omitempty"`
}

type DayStructureOverrides struct {
	PreferredStartTime *TimeOfDay `json:"preferred_start_time,omitempty"`
	PreferredEndTime   *TimeOfDay `json:"preferred_end_time,omitempty"`
	MaxDailyActivities *int       `json:"max_daily_activities,omitempty"`
	BufferTime         *int       `json:"buffer_time,omitempty"`
	BreakDuration      *int       `json:"break_duration,omitempty"`
	IncludeFreeTime    *bool      `json:"include_free_time,omitempty"`
}

type CostDistributionOverrides struct {
	Strategy             *AllocationStrategy `json:"strategy,omitempty"`
	VariabilityTolerance *float64            `json:"variability_tolerance,omitempty"`
	EmergencyFundPercent *float64            `json:"emergency_fund_percent,omitempty"`
}

type ActivityDensityOverrides struct {
	Level               *IntensityLevel `json:"level,omitempty"`
	MaxActivitiesPerDay *int            `json:"max_activities_per_day,omitempty"`
	FreeTimePercent     *float64        `json:"free_time_percent,omitempty"`
	PreferredTypes      []string        `json:"preferred_types,omitempty"`
}

type TransportationOverrides struct {
	AllowedModes         []TransportMode `json:"allowed_modes,omitempty"`
	MaxWalkingDistanceKm *float64        `json:"max_walking_distance_km,omitempty"`
	BudgetPriority       *bool           `json:"budget_priority,omitempty"`
	EcoPriority          *bool           `json:"eco_priority,omitempty"`
}

type MealOverrides struct {
	Include           *bool       `json:"include,omitempty"`
	Budget            *float64    `json:"budget,omitempty"`
	PreferredCuisines []string    `json:"preferred_cuisines,omitempty"`
	Timing            *MealTiming `json:"timing,omitempty"`
}

type PerformanceOverrides struct {
	CacheTTLSeconds *int `json:"cache_ttl_seconds,omitempty"`
	MaxConcurrency  *int `json:"max_concurrency,omitempty"`
	TimeoutMs       *int `json:"timeout_ms,omitempty"`
}

type PersistenceOverrides struct {
	StorageType    *StorageType `json:"storage_type,omitempty"`
	BackupEnabled  *bool        `json:"backup_enabled,omitempty"`
	RetryAttempts  *int         `json:"retry_attempts,omitempty"`
	SyncIntervalMs *int         `json:"sync_interval_ms,omitempty"`
}
