package transport

import (
	"fmt"
	"math"
	"slices"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
	"github.com/FACorreiaa/loci-planner/internal/pkg/geo"
)

// Rate is the fixed per-km price and travel time of a mode.
type Rate struct {
	CostPerKm    float64
	MinutesPerKm float64
}

// Rates is the per-mode table.
var Rates = map[models.TransportMode]Rate{
	models.ModeWalking:       {CostPerKm: 0, MinutesPerKm: 12},
	models.ModePublicTransit: {CostPerKm: 3000, MinutesPerKm: 4},
	models.ModeTaxi:          {CostPerKm: 6500, MinutesPerKm: 2.5},
	models.ModeRentalCar:     {CostPerKm: 4000, MinutesPerKm: 2},
}

type rule struct {
	mode   models.TransportMode
	reason string
	match  func(km float64, cfg models.TransportationConfig) bool
}

// rules are evaluated in order and the first match wins.
var rules = []rule{
	{
		mode:   models.ModeWalking,
		reason: "stops are within walking distance",
		match: func(km float64, cfg models.TransportationConfig) bool {
			return km <= cfg.MaxWalkingDistanceKm && allowed(cfg, models.ModeWalking)
		},
	},
	{
		mode:   models.ModePublicTransit,
		reason: "budget priority",
		match: func(_ float64, cfg models.TransportationConfig) bool {
			return cfg.BudgetPriority
		},
	},
	{
		mode:   models.ModeWalking,
		reason: "eco priority",
		match: func(_ float64, cfg models.TransportationConfig) bool {
			return cfg.EcoPriority
		},
	},
	{
		mode:   models.ModeTaxi,
		reason: "door to door between distant stops",
		match: func(_ float64, cfg models.TransportationConfig) bool {
			return allowed(cfg, models.ModeTaxi)
		},
	},
}

func allowed(cfg models.TransportationConfig, m models.TransportMode) bool {
	return slices.Contains(cfg.AllowedModes, m)
}

// Distance sums the straight-line distance between consecutive stops.
func Distance(stops []models.ScheduledDestination) float64 {
	points := make([]geo.Point, 0, len(stops))
	for _, s := range stops {
		points = append(points, geo.Point{Lat: s.Coordinates.Lat, Lng: s.Coordinates.Lng})
	}
	return geo.PathLength(points)
}

// Select picks the day's mode from the rule list; rental car is the default.
func Select(stops []models.ScheduledDestination, cfg models.TransportationConfig) models.Transportation {
	km := Distance(stops)
	mode, reason := models.ModeRentalCar, "default"
	for _, r := range rules {
		if r.match(km, cfg) {
			mode, reason = r.mode, r.reason
			break
		}
	}
	rate := Rates[mode]
	return models.Transportation{
		Mode:            mode,
		DistanceKm:      math.Round(km*100) / 100,
		Cost:            math.Round(km * rate.CostPerKm),
		DurationMinutes: int(math.Ceil(km * rate.MinutesPerKm)),
		Reason:          fmt.Sprintf("%s (%.1f km)", reason, km),
	}
}
