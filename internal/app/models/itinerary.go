package models

import (
	"time"
)

// AccommodationType is the lodging tier requested by the traveler.
type AccommodationType string

const (
	AccommodationBudget   AccommodationType = "budget"
	AccommodationModerate AccommodationType = "moderate"
	AccommodationLuxury   AccommodationType = "luxury"
)

type Coordinates struct {
	Lat float64 `json:"lat" validate:"min=-90,max=90"`
	Lng float64 `json:"lng" validate:"min=-180,max=180"`
}

type OpeningHours struct {
	Open  TimeOfDay `json:"open"`
	Close TimeOfDay `json:"close"`
}

// Destination is a catalog entry. Cost is per person, Duration in minutes.
type Destination struct {
	ID           string        `json:"id" validate:"required"`
	Name         string        `json:"name" validate:"required"`
	Location     string        `json:"location"`
	Category     string        `json:"category"`
	Cost         float64       `json:"cost" validate:"min=0"`
	Duration     int           `json:"duration" validate:"min=1,max=1440"`
	Coordinates  Coordinates   `json:"coordinates"`
	Tags         []string      `json:"tags,omitempty"`
	Rating       float64       `json:"rating" validate:"min=0,max=5"`
	OpeningHours *OpeningHours `json:"opening_hours,omitempty"`
}

// Constraints are scheduling hints supplied with the preferences.
type Constraints struct {
	AvoidCrowds   bool     `json:"avoid_crowds"`
	Accessibility []string `json:"accessibility,omitempty"`
	DietaryNeeds  []string `json:"dietary_needs,omitempty"`
}

type Preferences struct {
	Budget            float64           `json:"budget" validate:"gt=0"`
	Days              int               `json:"days" validate:"min=1,max=30"`
	Travelers         int               `json:"travelers" validate:"min=1,max=50"`
	AccommodationType AccommodationType `json:"accommodation_type" validate:"oneof=budget moderate luxury"`
	Cities            []string          `json:"cities" validate:"min=1,dive,required"`
	Interests         []string          `json:"interests,omitempty"`
	Themes            []string          `json:"themes,omitempty"`
	MustVisit         []string          `json:"must_visit,omitempty"`
	StartDate         time.Time         `json:"start_date"`
	Constraints       Constraints       `json:"constraints"`
}

// GeneratorInput is immutable for the duration of a generation call.
type GeneratorInput struct {
	UserID       string           `json:"user_id" validate:"required"`
	SessionID    string           `json:"session_id"`
	Preferences  Preferences      `json:"preferences"`
	Destinations []Destination    `json:"destinations" validate:"dive"`
	Config       *ConfigOverrides `json:"config,omitempty"`
}

// IsMustVisit reports whether a destination id is on the must-visit list.
func (p Preferences) IsMustVisit(id string) bool {
	for _, m := range p.MustVisit {
		if m == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate slices freely.
func (in GeneratorInput) Clone() GeneratorInput {
	out := in
	out.Preferences.Cities = append([]string(nil), in.Preferences.Cities...)
	out.Preferences.Interests = append([]string(nil), in.Preferences.Interests...)
	out.Preferences.Themes = append([]string(nil), in.Preferences.Themes...)
	out.Preferences.MustVisit = append([]string(nil), in.Preferences.MustVisit...)
	out.Destinations = make([]Destination, len(in.Destinations))
	for i, d := range in.Destinations {
		d.Tags = append([]string(nil), d.Tags...)
		out.Destinations[i] = d
	}
	if in.Config != nil {
		cfg := *in.Config
		out.Config = &cfg
	}
	return out
}
