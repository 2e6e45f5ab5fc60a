package models

import "time"

// CrowdLevel is a coarse crowding estimate for a scheduled visit.
type CrowdLevel string

const (
	CrowdLow    CrowdLevel = "low"
	CrowdMedium CrowdLevel = "medium"
	CrowdHigh   CrowdLevel = "high"
)

// ScheduledDestination is a catalog destination placed in a day.
type ScheduledDestination struct {
	Destination
	ScheduledTime         TimeOfDay  `json:"scheduled_time"`
	RecommendationScore   float64    `json:"recommendation_score"`
	PredictedSatisfaction float64    `json:"predicted_satisfaction"`
	CrowdLevel            CrowdLevel `json:"crowd_level"`
	Alternatives          []string   `json:"alternatives,omitempty"`
	Placeholder           bool       `json:"placeholder,omitempty"`
}

// End returns the time the visit (without buffer) finishes.
func (s ScheduledDestination) End() TimeOfDay {
	return s.ScheduledTime.Add(s.Duration)
}

type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
)

type Meal struct {
	Type           MealType  `json:"type"`
	Time           TimeOfDay `json:"time"`
	Recommendation string    `json:"recommendation"`
	Cuisine        string    `json:"cuisine"`
	Cost           float64   `json:"cost"`
}

type Accommodation struct {
	Type           AccommodationType `json:"type"`
	City           string            `json:"city"`
	CostPerNight   float64           `json:"cost_per_night"`
	Rooms          int               `json:"rooms"`
	Recommendation string            `json:"recommendation"`
}

type Transportation struct {
	Mode            TransportMode `json:"mode"`
	DistanceKm      float64       `json:"distance_km"`
	Cost            float64       `json:"cost"`
	DurationMinutes int           `json:"duration_minutes"`
	Reason          string        `json:"reason"`
}

// RouteQuote is a coarse price/duration quote between two named points.
type RouteQuote struct {
	From            string  `json:"from"`
	To              string  `json:"to"`
	Mode            string  `json:"mode"`
	Price           float64 `json:"price"`
	DurationMinutes int     `json:"duration_minutes"`
}

type TimeSlot struct {
	Start    TimeOfDay `json:"start"`
	End      TimeOfDay `json:"end"`
	Duration int       `json:"duration"`
	Label    string    `json:"label"`
}

type DayPlan struct {
	Day            int                    `json:"day" validate:"min=1"`
	Date           time.Time              `json:"date"`
	City           string                 `json:"city"`
	Destinations   []ScheduledDestination `json:"destinations" validate:"min=1"`
	Breaks         []TimeSlot             `json:"breaks,omitempty"`
	FreeTime       []TimeSlot             `json:"free_time,omitempty"`
	Meals          []Meal                 `json:"meals,omitempty"`
	Accommodation  *Accommodation         `json:"accommodation,omitempty"`
	Transportation *Transportation        `json:"transportation,omitempty"`
	Transfer       *RouteQuote            `json:"transfer,omitempty"`
	Budget         float64                `json:"budget"`
	TotalCost      float64                `json:"total_cost" validate:"min=0"`
	TotalMinutes   int                    `json:"total_minutes"`
	MLConfidence   float64                `json:"ml_confidence" validate:"min=0,max=1"`
}

// BudgetCategory names one slice of the fixed category split.
type BudgetCategory string

const (
	CategoryAccommodation BudgetCategory = "accommodation"
	CategoryTransport     BudgetCategory = "transport"
	CategoryFood          BudgetCategory = "food"
	CategoryActivities    BudgetCategory = "activities"
	CategoryMisc          BudgetCategory = "misc"
)

type CategoryBudget struct {
	Allocated   float64 `json:"allocated"`
	Recommended float64 `json:"recommended"`
	Savings     float64 `json:"savings"`
}

type BudgetBreakdown struct {
	Total         float64                           `json:"total"`
	EmergencyFund float64                           `json:"emergency_fund"`
	Categories    map[BudgetCategory]CategoryBudget `json:"categories"`
	DailyBudgets  []float64                         `json:"daily_budgets"`
	Strategy      AllocationStrategy                `json:"strategy"`
}

type ImpactTier string

const (
	ImpactLow    ImpactTier = "low"
	ImpactMedium ImpactTier = "medium"
	ImpactHigh   ImpactTier = "high"
)

type OptimizationSuggestion struct {
	Type             string     `json:"type"`
	Description      string     `json:"description"`
	EstimatedSavings float64    `json:"estimated_savings"`
	Impact           ImpactTier `json:"impact"`
}

type MLInsights struct {
	AverageScore      float64  `json:"average_score"`
	AverageConfidence float64  `json:"average_confidence"`
	TopCategories     []string `json:"top_categories,omitempty"`
	OracleVersion     string   `json:"oracle_version"`
}

type DensityMetrics struct {
	ActivitiesPerDay float64        `json:"activities_per_day"`
	TotalDuration    int            `json:"total_duration"`
	FreeTimePercent  float64        `json:"free_time_percent"`
	Intensity        IntensityLevel `json:"intensity"`
}

type OptimizationMetrics struct {
	BudgetUtilization float64                  `json:"budget_utilization"`
	TimeUtilization   float64                  `json:"time_utilization"`
	SatisfactionScore float64                  `json:"satisfaction_score"`
	Density           DensityMetrics           `json:"density"`
	Suggestions       []OptimizationSuggestion `json:"suggestions,omitempty"`
}

type PriceDelta struct {
	DestinationID string  `json:"destination_id"`
	Date          string  `json:"date"`
	DeltaPercent  float64 `json:"delta_percent"`
}

type CostVariability struct {
	SeasonalMultiplier float64      `json:"seasonal_multiplier"`
	DemandMultiplier   float64      `json:"demand_multiplier"`
	Discounts          []string     `json:"discounts,omitempty"`
	PriceDeltas        []PriceDelta `json:"price_deltas,omitempty"`
}

type GenerationMetadata struct {
	GeneratedAt    time.Time         `json:"generated_at"`
	DurationMs     int64             `json:"duration_ms"`
	Attempts       int               `json:"attempts"`
	Recoveries     []string          `json:"recoveries,omitempty"`
	Config         GeneratorConfig   `json:"config"`
	Preferences    Preferences       `json:"preferences"`
	EngineVersions map[string]string `json:"engine_versions"`
}

// GeneratorOutput is the full result of a generation call. Days is never
// empty, including when Success is false.
type GeneratorOutput struct {
	Success         bool                `json:"success"`
	ItineraryID     string              `json:"itinerary_id" validate:"required"`
	UserID          string              `json:"user_id"`
	Days            []DayPlan           `json:"days" validate:"min=1,dive"`
	TotalCost       float64             `json:"total_cost" validate:"min=0"`
	Budget          BudgetBreakdown     `json:"budget"`
	Insights        MLInsights          `json:"insights"`
	Optimization    OptimizationMetrics `json:"optimization"`
	CostVariability CostVariability     `json:"cost_variability"`
	Metadata        GenerationMetadata  `json:"metadata"`
	Errors          []string            `json:"errors,omitempty"`
	Warnings        []string            `json:"warnings,omitempty"`
}

// DestinationIDs returns every scheduled destination id in plan order.
func (o *GeneratorOutput) DestinationIDs() []string {
	var ids []string
	for _, d := range o.Days {
		for _, s := range d.Destinations {
			ids = append(ids, s.ID)
		}
	}
	return ids
}
