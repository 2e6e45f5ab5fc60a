package recovery

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/costs"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/genconfig"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
	"github.com/FACorreiaa/loci-planner/internal/app/observability/metrics"
)

// FallbackConfidence is the confidence stamped on every fallback day.
const FallbackConfidence = 0.3

// FallbackBudgetShare is the share of the requested budget a fallback plan uses.
const FallbackBudgetShare = 0.5

// Attempt is the mutable state of one generation run that strategies adjust
// between retries.
type Attempt struct {
	Input      models.GeneratorInput
	Config     models.GeneratorConfig
	Timeout    time.Duration
	RetryCount int
	Recoveries []string

	defaultsApplied  bool
	timeoutRelaxed   bool
	fallbackInjected bool
}

// NewAttempt starts an attempt from a cloned input.
func NewAttempt(in *models.GeneratorInput, cfg models.GeneratorConfig) *Attempt {
	return &Attempt{
		Input:   in.Clone(),
		Config:  cfg,
		Timeout: time.Duration(cfg.Performance.TimeoutMs) * time.Millisecond,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackoffBase sets the first network retry delay.
func WithBackoffBase(d time.Duration) Option {
	return func(m *Manager) { m.backoffBase = d }
}

// Manager runs recovery strategies for failed generation attempts.
type Manager struct {
	logger      *zap.Logger
	backoffBase time.Duration
}

func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{logger: logger, backoffBase: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Recover applies the strategy for err to a. It reports whether the attempt
// should be retried; false means recovery is exhausted or inapplicable.
func (m *Manager) Recover(ctx context.Context, err error, a *Attempt) bool {
	l := m.logger.With(zap.String("method", "Recover"), zap.Int("retry_count", a.RetryCount))
	if !IsRecoverable(err, a.RetryCount) {
		l.Warn("Error is not recoverable", zap.Error(err))
		return false
	}

	code := Classify(err)
	var applied bool
	switch code {
	case CodeValidation:
		applied = m.useDefaults(a)
	case CodeNetwork:
		applied = m.backoff(ctx, a)
	case CodeTimeout:
		applied = m.relaxTimeout(a)
	case CodeDataMissing:
		applied = m.injectFallback(a)
	}
	if !applied {
		l.Warn("Recovery strategy exhausted", zap.String("code", string(code)), zap.Error(err))
		return false
	}

	a.Recoveries = append(a.Recoveries, string(code))
	metrics.Get().RecoveriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(code))))
	l.Info("Recovery strategy applied", zap.String("code", string(code)))
	return true
}

func (m *Manager) useDefaults(a *Attempt) bool {
	if a.defaultsApplied {
		return false
	}
	a.defaultsApplied = true
	a.Config = genconfig.Defaults()
	a.Input.Config = nil
	a.Timeout = time.Duration(a.Config.Performance.TimeoutMs) * time.Millisecond
	return true
}

func (m *Manager) backoff(ctx context.Context, a *Attempt) bool {
	delay := m.backoffBase << a.RetryCount
	a.RetryCount++
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) relaxTimeout(a *Attempt) bool {
	if a.timeoutRelaxed {
		return false
	}
	a.timeoutRelaxed = true
	a.Timeout *= 2
	return true
}

func (m *Manager) injectFallback(a *Attempt) bool {
	if a.fallbackInjected {
		return false
	}
	a.fallbackInjected = true
	city := ""
	if len(a.Input.Preferences.Cities) > 0 {
		city = a.Input.Preferences.Cities[0]
	}
	a.Input.Destinations = []models.Destination{FallbackDestination(city)}
	return true
}

// FallbackDestination is the generic stand-in visit for a city.
func FallbackDestination(city string) models.Destination {
	if city == "" {
		city = "the area"
	}
	slug := strings.ToLower(strings.Join(strings.Fields(city), "-"))
	return models.Destination{
		ID:       "fallback-" + slug,
		Name:     "Explore " + city,
		Location: city,
		Category: "sightseeing",
		Duration: 120,
		Rating:   3,
	}
}

// Fallback builds a minimal plan that always passes structural validation:
// one generic destination per day, half the budget, low confidence, and the
// original error preserved.
func Fallback(itineraryID string, in *models.GeneratorInput, cfg models.GeneratorConfig, cause error, now time.Time) *models.GeneratorOutput {
	prefs := in.Preferences
	days := prefs.Days
	if days < 1 {
		days = 1
	}
	start := prefs.StartDate
	if start.IsZero() {
		start = now
	}
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())

	budget := costs.Allocate(prefs.Budget*FallbackBudgetShare, days, cfg.CostDistribution)
	ds := cfg.DayStructure
	duration := 120
	if room := int(ds.PreferredEndTime-ds.PreferredStartTime) - ds.BufferTime; room < duration {
		duration = room
	}
	if duration < 1 {
		duration = 1
	}

	out := &models.GeneratorOutput{
		Success:     false,
		ItineraryID: itineraryID,
		UserID:      in.UserID,
		Budget:      budget,
		Insights:    models.MLInsights{AverageConfidence: FallbackConfidence, OracleVersion: models.ScoreVersion},
		Metadata: models.GenerationMetadata{
			GeneratedAt:    now,
			Config:         cfg,
			Preferences:    prefs,
			EngineVersions: models.EngineVersions(),
		},
	}
	if cause != nil {
		out.Errors = append(out.Errors, cause.Error())
	}
	out.Warnings = append(out.Warnings, "returned a fallback plan")

	for i := 0; i < days; i++ {
		city := ""
		if len(prefs.Cities) > 0 {
			city = prefs.Cities[i%len(prefs.Cities)]
		}
		d := FallbackDestination(city)
		d.Duration = duration
		var daily float64
		if i < len(budget.DailyBudgets) {
			daily = budget.DailyBudgets[i]
		}
		out.Days = append(out.Days, models.DayPlan{
			Day:  i + 1,
			Date: start.AddDate(0, 0, i),
			City: city,
			Destinations: []models.ScheduledDestination{{
				Destination:           d,
				ScheduledTime:         ds.PreferredStartTime,
				RecommendationScore:   FallbackConfidence,
				PredictedSatisfaction: d.Rating,
				CrowdLevel:            models.CrowdMedium,
				Placeholder:           true,
			}},
			Budget:       daily,
			TotalMinutes: duration,
			MLConfidence: FallbackConfidence,
		})
	}
	return out
}
