package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HealthState summarises the tier checks.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// healthKeyPrefix marks health-check records; they never collide with itinerary ids.
const healthKeyPrefix = "__health__"

type TierHealth struct {
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type HealthReport struct {
	Status    HealthState           `json:"status"`
	Tiers     map[string]TierHealth `json:"tiers"`
	CheckedAt time.Time             `json:"checked_at"`
}

// Health checks every tier concurrently with a write, read and delete of a
// throwaway key. It does not read application data.
func (m *Manager) Health(ctx context.Context) HealthReport {
	l := m.logger.With(zap.String("method", "Health"))
	report := HealthReport{Tiers: make(map[string]TierHealth), CheckedAt: m.now().UTC()}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range m.all() {
		g.Go(func() error {
			th := checkTier(gctx, b, m.now)
			mu.Lock()
			report.Tiers[b.Name()] = th
			mu.Unlock()
			if !th.Healthy {
				l.Warn("Storage tier unhealthy", zap.String("tier", b.Name()), zap.String("error", th.Error))
			}
			return nil
		})
	}
	_ = g.Wait()

	healthy := 0
	for _, th := range report.Tiers {
		if th.Healthy {
			healthy++
		}
	}
	switch {
	case len(report.Tiers) > 0 && healthy == len(report.Tiers):
		report.Status = Healthy
	case healthy > 0:
		report.Status = Degraded
	default:
		report.Status = Unhealthy
	}
	l.Debug("Health checked", zap.String("status", string(report.Status)), zap.Int("healthy_tiers", healthy))
	return report
}

type checkBody struct {
	Key string `json:"check"`
}

func checkTier(ctx context.Context, b Backend, now func() time.Time) TierHealth {
	start := time.Now()
	key := healthKeyPrefix + uuid.NewString()
	payload, _ := json.Marshal(checkBody{Key: key})
	fail := func(err error) TierHealth {
		return TierHealth{LatencyMs: time.Since(start).Milliseconds(), Error: err.Error()}
	}

	if err := b.Put(ctx, Record{Key: key, Version: 1, Payload: payload, UpdatedAt: now().UTC()}); err != nil {
		return fail(fmt.Errorf("write: %w", err))
	}
	defer func() { _ = b.Delete(context.WithoutCancel(ctx), key) }()

	rec, err := b.Get(ctx, key)
	if err != nil {
		return fail(fmt.Errorf("read: %w", err))
	}
	var body checkBody
	if err := json.Unmarshal(rec.Payload, &body); err != nil || body.Key != key {
		return fail(fmt.Errorf("read back a different payload"))
	}
	return TierHealth{Healthy: true, LatencyMs: time.Since(start).Milliseconds()}
}
