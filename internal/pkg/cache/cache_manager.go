package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// CacheManager holds the caches shared by the generation pipeline.
type CacheManager struct {
	// Oracle verdicts keyed by user and candidate set
	Scores *UnifiedCache[[]models.Score]

	// Catalog lookups keyed by city list
	Destinations *UnifiedCache[[]models.Destination]
}

// NewCacheManager creates the caches with the given TTL.
func NewCacheManager(ttl time.Duration, logger *zap.Logger) *CacheManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheManager{
		Scores:       NewUnifiedCache[[]models.Score](ttl, "scores", logger),
		Destinations: NewUnifiedCache[[]models.Destination](ttl, "destinations", logger),
	}
}

// GetAllMetrics returns metrics for all caches
func (cm *CacheManager) GetAllMetrics() map[string]CacheMetrics {
	return map[string]CacheMetrics{
		"scores":       cm.Scores.GetMetrics(),
		"destinations": cm.Destinations.GetMetrics(),
	}
}

// ClearAll clears all caches
func (cm *CacheManager) ClearAll() {
	cm.Scores.Clear()
	cm.Destinations.Clear()
}

// Close stops every cache's cleanup loop.
func (cm *CacheManager) Close() {
	cm.Scores.Close()
	cm.Destinations.Close()
}
