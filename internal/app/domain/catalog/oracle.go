package catalog

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
	"github.com/FACorreiaa/loci-planner/internal/pkg/cache"
)

// Oracle scores candidate destinations for a user. It must behave as a pure
// function of the user's profile and the items.
type Oracle interface {
	Score(ctx context.Context, userID string, items []models.Destination) ([]models.Score, error)
}

// ProfileObserver is implemented by oracles that learn interests from the
// requests they see.
type ProfileObserver interface {
	ObserveProfile(userID string, interests []string)
}

var (
	_ Oracle          = (*HeuristicOracle)(nil)
	_ ProfileObserver = (*HeuristicOracle)(nil)
	_ Oracle          = (*CachedOracle)(nil)
	_ ProfileObserver = (*CachedOracle)(nil)
)

// HeuristicOracle blends rating with interest overlap. It is deterministic.
type HeuristicOracle struct {
	mu        sync.RWMutex
	interests map[string][]string
}

func NewHeuristicOracle() *HeuristicOracle {
	return &HeuristicOracle{interests: make(map[string][]string)}
}

func (o *HeuristicOracle) ObserveProfile(userID string, interests []string) {
	norm := make([]string, 0, len(interests))
	for _, i := range interests {
		if i = strings.ToLower(strings.TrimSpace(i)); i != "" {
			norm = append(norm, i)
		}
	}
	sort.Strings(norm)
	o.mu.Lock()
	o.interests[userID] = norm
	o.mu.Unlock()
}

func (o *HeuristicOracle) profile(userID string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.interests[userID]
}

func (o *HeuristicOracle) Score(_ context.Context, userID string, items []models.Destination) ([]models.Score, error) {
	interests := o.profile(userID)
	out := make([]models.Score, 0, len(items))
	for _, d := range items {
		overlap := interestOverlap(d, interests)
		score := 0.7*(d.Rating/5) + 0.3*overlap
		confidence := 0.5 + 0.1*math.Min(float64(len(d.Tags)), 3)
		if d.Rating > 0 {
			confidence += 0.15
		}
		predicted := math.Min(5, d.Rating+0.5*overlap)
		out = append(out, models.Score{
			ID:              d.ID,
			Score:           round(clamp01(score)),
			Confidence:      round(clamp01(confidence)),
			PredictedRating: round(predicted),
		})
	}
	return out, nil
}

func interestOverlap(d models.Destination, interests []string) float64 {
	if len(interests) == 0 {
		return 0
	}
	hay := strings.ToLower(d.Category + " " + strings.Join(d.Tags, " "))
	hits := 0
	for _, i := range interests {
		if strings.Contains(hay, i) {
			hits++
		}
	}
	return float64(hits) / float64(len(interests))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// CachedOracle memoises an Oracle per user and candidate set.
type CachedOracle struct {
	next   Oracle
	scores *cache.UnifiedCache[[]models.Score]
	logger *zap.Logger
}

func NewCachedOracle(next Oracle, scores *cache.UnifiedCache[[]models.Score], logger *zap.Logger) *CachedOracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedOracle{next: next, scores: scores, logger: logger}
}

// ObserveProfile forwards to the wrapped oracle. The profile is part of the
// cache key, so verdicts for an older profile are not served.
func (c *CachedOracle) ObserveProfile(userID string, interests []string) {
	if po, ok := c.next.(ProfileObserver); ok {
		po.ObserveProfile(userID, interests)
	}
}

func (c *CachedOracle) Score(ctx context.Context, userID string, items []models.Destination) ([]models.Score, error) {
	ids := make([]string, 0, len(items))
	for _, d := range items {
		ids = append(ids, d.ID)
	}
	b := cache.NewCacheKeyBuilder(c.logger).AddUser(userID).Add("items", ids)
	if h, ok := c.next.(*HeuristicOracle); ok {
		b.Add("profile", h.profile(userID))
	}
	key := b.BuildOrDefault()
	if key != "" {
		if hit, ok := c.scores.Get(key); ok {
			return append([]models.Score(nil), hit...), nil
		}
	}
	out, err := c.next.Score(ctx, userID, items)
	if err != nil {
		return nil, err
	}
	if key != "" {
		c.scores.Set(key, append([]models.Score(nil), out...))
	}
	return out, nil
}
