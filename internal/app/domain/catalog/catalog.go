package catalog

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
	"github.com/FACorreiaa/loci-planner/internal/pkg/geo"
)

// Provider is the destination and route source. Implementations must be
// idempotent for a given (from, to, date).
type Provider interface {
	Destinations(ctx context.Context, cities []string) ([]models.Destination, error)
	RouteQuotes(ctx context.Context, from, to string, date time.Time) ([]models.RouteQuote, error)
}

// City is a catalog city with its reference point and destinations.
type City struct {
	Name         string
	Center       models.Coordinates
	Destinations []models.Destination
}

type routeRate struct {
	mode         string
	pricePerKm   float64
	minutesPerKm float64
}

var routeRates = []routeRate{
	{mode: "bus", pricePerKm: 800, minutesPerKm: 1.6},
	{mode: "train", pricePerKm: 1200, minutesPerKm: 1.1},
	{mode: "car", pricePerKm: 3500, minutesPerKm: 1.3},
}

var _ Provider = (*StaticCatalog)(nil)

// StaticCatalog serves a fixed, in-memory set of cities.
type StaticCatalog struct {
	logger *zap.Logger
	cities map[string]City
}

func NewStaticCatalog(logger *zap.Logger, cities ...City) *StaticCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &StaticCatalog{logger: logger, cities: make(map[string]City, len(cities))}
	for _, city := range cities {
		c.cities[cityKey(city.Name)] = city
	}
	return c
}

func cityKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (c *StaticCatalog) Destinations(ctx context.Context, cities []string) ([]models.Destination, error) {
	_, span := otel.Tracer("CatalogService").Start(ctx, "Destinations", trace.WithAttributes(
		attribute.StringSlice("cities", cities),
	))
	defer span.End()

	l := c.logger.With(zap.String("method", "Destinations"), zap.Strings("cities", cities))
	l.Debug("Looking up destinations")

	var out []models.Destination
	for _, name := range cities {
		city, ok := c.cities[cityKey(name)]
		if !ok {
			l.Debug("City not in catalog", zap.String("city", name))
			continue
		}
		for _, d := range city.Destinations {
			d.Tags = append([]string(nil), d.Tags...)
			if d.Location == "" {
				d.Location = city.Name
			}
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		err := fmt.Errorf("no destinations for %s: %w", strings.Join(cities, ", "), models.ErrNotFound)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no destinations")
		return nil, err
	}
	span.SetStatus(codes.Ok, "Destinations found")
	return out, nil
}

// RouteQuotes prices bus, train and car between two city centres, cheapest
// first. Weekend travel costs 10% more.
func (c *StaticCatalog) RouteQuotes(ctx context.Context, from, to string, date time.Time) ([]models.RouteQuote, error) {
	_, span := otel.Tracer("CatalogService").Start(ctx, "RouteQuotes", trace.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
	defer span.End()

	a, okA := c.cities[cityKey(from)]
	b, okB := c.cities[cityKey(to)]
	if !okA || !okB {
		err := fmt.Errorf("route %s -> %s: %w", from, to, models.ErrNotFound)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown city")
		return nil, err
	}

	km := geo.Haversine(
		geo.Point{Lat: a.Center.Lat, Lng: a.Center.Lng},
		geo.Point{Lat: b.Center.Lat, Lng: b.Center.Lng},
	)
	surcharge := 1.0
	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		surcharge = 1.1
	}

	quotes := make([]models.RouteQuote, 0, len(routeRates))
	for _, r := range routeRates {
		quotes = append(quotes, models.RouteQuote{
			From:            a.Name,
			To:              b.Name,
			Mode:            r.mode,
			Price:           math.Round(km * r.pricePerKm * surcharge),
			DurationMinutes: int(math.Ceil(km * r.minutesPerKm)),
		})
	}
	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].Price < quotes[j].Price })
	span.SetStatus(codes.Ok, "Quotes built")
	return quotes, nil
}

// DefaultCities is the bundled East Java catalog.
func DefaultCities() []City {
	return []City{
		{
			Name:   "Malang",
			Center: models.Coordinates{Lat: -7.9666, Lng: 112.6326},
			Destinations: []models.Destination{
				{ID: "mlg-jodipan", Name: "Kampung Warna Warni Jodipan", Category: "neighbourhood", Cost: 10000, Duration: 60, Coordinates: models.Coordinates{Lat: -7.9826, Lng: 112.6373}, Tags: []string{"photography", "culture"}, Rating: 4.5},
				{ID: "mlg-tugu", Name: "Alun-Alun Tugu", Category: "landmark", Cost: 0, Duration: 45, Coordinates: models.Coordinates{Lat: -7.9771, Lng: 112.6341}, Tags: []string{"history", "park"}, Rating: 4.4},
				{ID: "mlg-museum-brawijaya", Name: "Museum Brawijaya", Category: "museum", Cost: 15000, Duration: 90, Coordinates: models.Coordinates{Lat: -7.9700, Lng: 112.6216}, Tags: []string{"history"}, Rating: 4.3, OpeningHours: &models.OpeningHours{Open: models.MustTimeOfDay("08:00"), Close: models.MustTimeOfDay("15:00")}},
				{ID: "mlg-pasar-besar", Name: "Pasar Besar Malang", Category: "market", Cost: 0, Duration: 60, Coordinates: models.Coordinates{Lat: -7.9875, Lng: 112.6300}, Tags: []string{"food", "shopping"}, Rating: 4.1},
			},
		},
		{
			Name:   "Batu",
			Center: models.Coordinates{Lat: -7.8671, Lng: 112.5239},
			Destinations: []models.Destination{
				{ID: "batu-jatim-park-2", Name: "Jatim Park 2", Category: "theme park", Cost: 120000, Duration: 180, Coordinates: models.Coordinates{Lat: -7.8848, Lng: 112.5262}, Tags: []string{"family", "animals"}, Rating: 4.8},
				{ID: "batu-museum-angkut", Name: "Museum Angkut", Category: "museum", Cost: 100000, Duration: 150, Coordinates: models.Coordinates{Lat: -7.8789, Lng: 112.5197}, Tags: []string{"history", "photography"}, Rating: 4.7, OpeningHours: &models.OpeningHours{Open: models.MustTimeOfDay("12:00"), Close: models.MustTimeOfDay("20:00")}},
				{ID: "batu-selecta", Name: "Taman Rekreasi Selecta", Category: "park", Cost: 50000, Duration: 120, Coordinates: models.Coordinates{Lat: -7.8197, Lng: 112.5247}, Tags: []string{"nature", "garden"}, Rating: 4.6},
				{ID: "batu-coban-rondo", Name: "Coban Rondo Waterfall", Category: "nature", Cost: 35000, Duration: 120, Coordinates: models.Coordinates{Lat: -7.8847, Lng: 112.4773}, Tags: []string{"hiking", "waterfall"}, Rating: 4.5},
			},
		},
		{
			Name:   "Surabaya",
			Center: models.Coordinates{Lat: -7.2575, Lng: 112.7521},
			Destinations: []models.Destination{
				{ID: "sby-house-sampoerna", Name: "House of Sampoerna", Category: "museum", Cost: 0, Duration: 90, Coordinates: models.Coordinates{Lat: -7.2308, Lng: 112.7343}, Tags: []string{"history", "architecture"}, Rating: 4.6},
				{ID: "sby-suramadu", Name: "Suramadu Bridge Viewpoint", Category: "landmark", Cost: 0, Duration: 45, Coordinates: models.Coordinates{Lat: -7.1856, Lng: 112.7790}, Tags: []string{"photography"}, Rating: 4.2},
			},
		},
	}
}
