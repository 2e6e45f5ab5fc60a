package generator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/catalog"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/costs"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/recovery"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/validation"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

var fixedNow = time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)

type stubProvider struct {
	destinations func(ctx context.Context, cities []string) ([]models.Destination, error)
	calls        int
}

func (p *stubProvider) Destinations(ctx context.Context, cities []string) ([]models.Destination, error) {
	p.calls++
	return p.destinations(ctx, cities)
}

func (p *stubProvider) RouteQuotes(context.Context, string, string, time.Time) ([]models.RouteQuote, error) {
	return nil, nil
}

func newService(provider catalog.Provider) *ServiceImpl {
	return NewGeneratorService(
		provider,
		catalog.NewHeuristicOracle(),
		recovery.NewManager(nil, recovery.WithBackoffBase(time.Millisecond)),
		nil,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return "itin-1" }),
	)
}

func batuInput() *models.GeneratorInput {
	return &models.GeneratorInput{
		UserID: "user-1",
		Preferences: models.Preferences{
			Budget:            2000000,
			Days:              3,
			Travelers:         2,
			AccommodationType: models.AccommodationModerate,
			Cities:            []string{"Malang", "Batu"},
			Interests:         []string{"history", "family"},
		},
		Destinations: []models.Destination{
			{ID: "batu-jatim-park-2", Name: "Jatim Park 2", Location: "Batu", Category: "theme park", Cost: 120000, Duration: 180, Coordinates: models.Coordinates{Lat: -7.8848, Lng: 112.5262}, Tags: []string{"family"}, Rating: 4.8},
			{ID: "batu-museum-angkut", Name: "Museum Angkut", Location: "Batu", Category: "museum", Cost: 100000, Duration: 150, Coordinates: models.Coordinates{Lat: -7.8789, Lng: 112.5197}, Tags: []string{"history"}, Rating: 4.7},
			{ID: "batu-selecta", Name: "Taman Rekreasi Selecta", Location: "Batu", Category: "park", Cost: 50000, Duration: 120, Coordinates: models.Coordinates{Lat: -7.8197, Lng: 112.5247}, Tags: []string{"nature"}, Rating: 4.6},
		},
	}
}

func TestGenerateThreeDayPlan(t *testing.T) {
	svc := newService(catalog.NewStaticCatalog(nil, catalog.DefaultCities()...))
	in := batuInput()

	out, err := svc.Generate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.True(t, out.Success)
	assert.Equal(t, "itin-1", out.ItineraryID)
	require.Len(t, out.Days, 3)
	for i, day := range out.Days {
		assert.Equal(t, i+1, day.Day)
		assert.NotEmpty(t, day.Destinations, "day %d", day.Day)
		assert.GreaterOrEqual(t, day.MLConfidence, 0.0)
		assert.LessOrEqual(t, day.MLConfidence, 1.0)
		assert.Equal(t, fixedNow.AddDate(0, 0, i).Truncate(24*time.Hour), day.Date)
	}
	assert.LessOrEqual(t, out.TotalCost, in.Preferences.Budget*(1+out.Metadata.Config.CostDistribution.VariabilityTolerance))
	assert.True(t, validation.ValidateStructure(out).Valid)
	assert.Equal(t, 1, out.Metadata.Attempts)
	assert.Empty(t, out.Metadata.Recoveries)
	assert.Equal(t, models.GeneratorVersion, out.Metadata.EngineVersions["generator"])
	assert.Equal(t, models.ScoreVersion, out.Insights.OracleVersion)

	// The caller's input is never mutated.
	assert.Equal(t, batuInput(), in)
}

func TestGenerateKeepsMustVisit(t *testing.T) {
	svc := newService(nil)
	in := batuInput()
	in.Preferences.Budget = 300000
	in.Preferences.MustVisit = []string{"batu-selecta"}

	out, err := svc.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out.DestinationIDs(), "batu-selecta")
	for _, day := range out.Days {
		assert.NotEmpty(t, day.Destinations)
	}
}

func TestGenerateFromCatalog(t *testing.T) {
	svc := newService(catalog.NewStaticCatalog(nil, catalog.DefaultCities()...))
	in := batuInput()
	in.Destinations = nil

	out, err := svc.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, out.Success)

	known := map[string]bool{}
	for _, c := range catalog.DefaultCities() {
		for _, d := range c.Destinations {
			known[d.ID] = true
		}
	}
	for _, id := range out.DestinationIDs() {
		if !known[id] {
			assert.Contains(t, id, "fallback-", "unexpected destination %s", id)
		}
	}
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name           string
		destinations   func(ctx context.Context, cities []string) ([]models.Destination, error)
		overrides      *models.ConfigOverrides
		wantSuccess    bool
		wantRecoveries []string
		wantError      string
	}{
		{
			name: "network failure falls back",
			destinations: func(context.Context, []string) ([]models.Destination, error) {
				return nil, errors.New("connection refused")
			},
			wantSuccess:    false,
			wantRecoveries: []string{"NETWORK_ERROR", "NETWORK_ERROR", "NETWORK_ERROR"},
			wantError:      "connection refused",
		},
		{
			name: "missing data injects a fallback destination",
			destinations: func(context.Context, []string) ([]models.Destination, error) {
				return nil, fmt.Errorf("no rows: %w", models.ErrNotFound)
			},
			wantSuccess:    true,
			wantRecoveries: []string{"DATA_MISSING"},
		},
		{
			name: "timeout is relaxed once then falls back",
			destinations: func(ctx context.Context, _ []string) ([]models.Destination, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			overrides: &models.ConfigOverrides{
				Performance: &models.PerformanceOverrides{TimeoutMs: ptr(100)},
			},
			wantSuccess:    false,
			wantRecoveries: []string{"TIMEOUT_ERROR"},
			wantError:      "TIMEOUT_ERROR",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(&stubProvider{destinations: tt.destinations})
			in := batuInput()
			in.Destinations = nil
			in.Config = tt.overrides

			out, err := svc.Generate(context.Background(), in)
			require.NoError(t, err)
			require.NotNil(t, out)

			assert.Equal(t, tt.wantSuccess, out.Success)
			assert.Equal(t, tt.wantRecoveries, out.Metadata.Recoveries)
			require.Len(t, out.Days, 3)
			for _, day := range out.Days {
				assert.NotEmpty(t, day.Destinations)
			}
			if !tt.wantSuccess {
				require.NotEmpty(t, out.Errors)
				assert.Contains(t, out.Errors[0], tt.wantError)
				assert.Equal(t, recovery.FallbackConfidence, out.Insights.AverageConfidence)
				assert.Contains(t, out.Warnings, "returned a fallback plan")
			}
		})
	}
}

func TestGenerateRejectsInvalidInput(t *testing.T) {
	svc := newService(nil)
	in := batuInput()
	in.Preferences.Days = 0

	out, err := svc.Generate(context.Background(), in)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestGenerateInvalidConfigUsesDefaults(t *testing.T) {
	svc := newService(nil)
	in := batuInput()
	in.Config = &models.ConfigOverrides{
		DayStructure: &models.DayStructureOverrides{MaxDailyActivities: ptr(0)},
	}

	out, err := svc.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, []string{"VALIDATION_ERROR"}, out.Metadata.Recoveries)
	assert.Equal(t, 4, out.Metadata.Config.DayStructure.MaxDailyActivities)
}

func TestRegenerateKeepsID(t *testing.T) {
	svc := newService(nil)
	out, err := svc.Regenerate(context.Background(), "existing", batuInput())
	require.NoError(t, err)
	assert.Equal(t, "existing", out.ItineraryID)
}

func TestEnforceBudgetDropsLowestScore(t *testing.T) {
	cfg := newService(nil).base
	prefs := models.Preferences{Budget: 100000, Travelers: 1, MustVisit: []string{"a"}}
	plans := []models.DayPlan{{
		Day: 1,
		Destinations: []models.ScheduledDestination{
			{Destination: models.Destination{ID: "a", Name: "A", Cost: 90000, Duration: 60}, RecommendationScore: 0.1},
			{Destination: models.Destination{ID: "b", Name: "B", Cost: 50000, Duration: 60}, RecommendationScore: 0.9},
			{Destination: models.Destination{ID: "c", Name: "C", Cost: 40000, Duration: 60}, RecommendationScore: 0.5},
		},
	}}
	plans[0].TotalCost = costs.DayTotal(plans[0], 1)

	warnings := enforceBudget(plans, prefs, cfg)

	ids := []string{}
	for _, d := range plans[0].Destinations {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"a"}, ids)
	assert.Len(t, warnings, 2)
}

func TestCrowdLevel(t *testing.T) {
	saturday := time.Date(2026, time.October, 17, 0, 0, 0, 0, time.UTC)
	wednesday := time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC)
	popular := models.ScheduledDestination{Destination: models.Destination{Rating: 4.8}, ScheduledTime: models.MustTimeOfDay("11:00")}
	quiet := models.ScheduledDestination{Destination: models.Destination{Rating: 3.5}, ScheduledTime: models.MustTimeOfDay("08:00")}

	assert.Equal(t, models.CrowdHigh, crowdLevel(popular, saturday))
	assert.Equal(t, models.CrowdHigh, crowdLevel(popular, wednesday))
	assert.Equal(t, models.CrowdLow, crowdLevel(quiet, wednesday))
	assert.Equal(t, models.CrowdLow, crowdLevel(quiet, saturday))
}

func ptr[T any](v T) *T { return &v }
