package catalog

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
	"github.com/FACorreiaa/loci-planner/internal/pkg/cache"
)

var _ Provider = (*CachedProvider)(nil)

// CachedProvider memoises a Provider. Destination lookups go through the
// shared destination cache; route quotes live in a go-cache keyed by
// (from, to, date).
type CachedProvider struct {
	next         Provider
	logger       *zap.Logger
	destinations *cache.UnifiedCache[[]models.Destination]
	quotes       *gocache.Cache
}

func NewCachedProvider(next Provider, destinations *cache.UnifiedCache[[]models.Destination], ttl time.Duration, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		next:         next,
		logger:       logger,
		destinations: destinations,
		quotes:       gocache.New(ttl, 2*ttl),
	}
}

func (p *CachedProvider) Destinations(ctx context.Context, cities []string) ([]models.Destination, error) {
	key := cache.NewCacheKeyBuilder(p.logger).AddCities(cities).BuildOrDefault()
	if key != "" {
		if hit, ok := p.destinations.Get(key); ok {
			return cloneDestinations(hit), nil
		}
	}
	out, err := p.next.Destinations(ctx, cities)
	if err != nil {
		return nil, err
	}
	if key != "" {
		p.destinations.Set(key, cloneDestinations(out))
	}
	return out, nil
}

func (p *CachedProvider) RouteQuotes(ctx context.Context, from, to string, date time.Time) ([]models.RouteQuote, error) {
	key := fmt.Sprintf("%s|%s|%s", cityKey(from), cityKey(to), date.Format(time.DateOnly))
	if hit, ok := p.quotes.Get(key); ok {
		return append([]models.RouteQuote(nil), hit.([]models.RouteQuote)...), nil
	}
	out, err := p.next.RouteQuotes(ctx, from, to, date)
	if err != nil {
		return nil, err
	}
	p.quotes.Set(key, append([]models.RouteQuote(nil), out...), gocache.DefaultExpiration)
	return out, nil
}

func cloneDestinations(in []models.Destination) []models.Destination {
	out := make([]models.Destination, len(in))
	for i, d := range in {
		d.Tags = append([]string(nil), d.Tags...)
		out[i] = d
	}
	return out
}
