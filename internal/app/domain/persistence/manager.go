package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
	"github.com/FACorreiaa/loci-planner/internal/app/observability/metrics"
)

// Status is the save state of one record.
type Status string

const (
	StatusUnsaved  Status = "unsaved"
	StatusSaving   Status = "saving"
	StatusRetrying Status = "retrying"
	StatusSaved    Status = "saved"
	StatusFailed   Status = "failed"
)

// Tiers are the configured backends. Any of them may be nil.
type Tiers struct {
	Structured Backend
	KV         Backend
	Session    Backend
}

// SaveResult reports where a record ended up.
type SaveResult struct {
	Primary   string `json:"primary,omitempty"`
	Secondary string `json:"secondary,omitempty"`
	Backup    bool   `json:"backup"`
	Attempts  int    `json:"attempts"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryUnit sets the backoff unit; retry n waits n*unit.
func WithRetryUnit(d time.Duration) Option {
	return func(m *Manager) { m.retryUnit = d }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager saves and loads itinerary state across the tiers in the order the
// storage type asks for.
type Manager struct {
	logger    *zap.Logger
	tiers     Tiers
	cfg       models.PersistenceConfig
	retryUnit time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	status map[string]Status
}

func NewManager(cfg models.PersistenceConfig, tiers Tiers, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:    logger,
		tiers:     tiers,
		cfg:       cfg,
		retryUnit: time.Second,
		now:       time.Now,
		status:    make(map[string]Status),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// durable returns the non-session tiers in priority order for the mode.
func (m *Manager) durable() []Backend {
	var order []Backend
	switch m.cfg.StorageType {
	case models.StorageLocalStorage:
		order = []Backend{m.tiers.KV, m.tiers.Structured}
	default:
		order = []Backend{m.tiers.Structured, m.tiers.KV}
	}
	out := order[:0]
	for _, b := range order {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// all returns every configured tier, session last.
func (m *Manager) all() []Backend {
	out := m.durable()
	if m.tiers.Session != nil {
		out = append(out, m.tiers.Session)
	}
	return out
}

// Status returns the save state of id.
func (m *Manager) Status(id string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.status[id]; ok {
		return s
	}
	return StatusUnsaved
}

func (m *Manager) setStatus(id string, s Status) {
	m.mu.Lock()
	m.status[id] = s
	m.mu.Unlock()
}

// Forget drops the save state of id.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	delete(m.status, id)
	m.mu.Unlock()
}

func (m *Manager) encode(st *models.ItineraryState) (Record, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return Record{}, fmt.Errorf("encoding itinerary %s: %w", st.ID, err)
	}
	return Record{
		Key:       st.ID,
		OwnerID:   st.UserID,
		Version:   st.Version,
		Payload:   payload,
		UpdatedAt: m.now().UTC(),
	}, nil
}

// Save writes st to the primary tier with retries, falls through to the next
// durable tier if the primary is exhausted, writes the hybrid secondary copy
// and the session backup. It fails with ErrStorageExhausted only when no tier
// accepted the record, and with ErrConflict, without touching later tiers,
// when a durable tier already holds a newer version.
func (m *Manager) Save(ctx context.Context, st *models.ItineraryState) (SaveResult, error) {
	ctx, span := otel.Tracer("PersistenceManager").Start(ctx, "Save", trace.WithAttributes(
		attribute.String("itinerary.id", st.ID),
		attribute.Int64("itinerary.version", st.Version),
		attribute.String("storage.type", string(m.cfg.StorageType)),
	))
	defer span.End()

	l := m.logger.With(zap.String("method", "Save"), zap.String("itinerary_id", st.ID), zap.Int64("version", st.Version))
	l.Debug("Saving itinerary")

	rec, err := m.encode(st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Encode failed")
		m.setStatus(st.ID, StatusFailed)
		return SaveResult{}, err
	}

	m.setStatus(st.ID, StatusSaving)
	var res SaveResult
	tiers := m.durable()
	var errs []error
	used := -1
	for i, b := range tiers {
		retries := 0
		if i == 0 {
			retries = m.cfg.RetryAttempts
		}
		n, err := m.putWithRetry(ctx, b, rec, retries)
		res.Attempts += n
		if err == nil {
			used = i
			res.Primary = b.Name()
			break
		}
		if errors.Is(err, models.ErrConflict) {
			m.Forget(st.ID)
			l.Warn("Storage tier holds a newer version", zap.String("tier", b.Name()), zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "Stale write")
			return res, fmt.Errorf("saving itinerary %s: %w", st.ID, err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		l.Warn("Storage tier failed", zap.String("tier", b.Name()), zap.Error(err))
	}

	if used >= 0 && m.cfg.StorageType == models.StorageHybrid {
		for i, b := range tiers {
			if i == used {
				continue
			}
			if err := m.put(ctx, b, rec); err != nil {
				l.Warn("Hybrid secondary write failed", zap.String("tier", b.Name()), zap.Error(err))
				continue
			}
			res.Secondary = b.Name()
			break
		}
	}

	if m.tiers.Session != nil && (m.cfg.BackupEnabled || used < 0) {
		if err := m.put(ctx, m.tiers.Session, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.tiers.Session.Name(), err))
		} else {
			res.Backup = true
		}
	}

	if used < 0 && !res.Backup {
		err := fmt.Errorf("saving itinerary %s: %w: %w", st.ID, models.ErrStorageExhausted, errors.Join(errs...))
		m.setStatus(st.ID, StatusFailed)
		l.Error("Every storage tier failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Storage exhausted")
		return res, err
	}
	if used < 0 {
		l.Warn("Itinerary saved to the session backup only")
	}

	m.setStatus(st.ID, StatusSaved)
	l.Info("Itinerary saved", zap.String("primary", res.Primary), zap.String("secondary", res.Secondary), zap.Bool("backup", res.Backup))
	span.SetStatus(codes.Ok, "Itinerary saved")
	return res, nil
}

func (m *Manager) put(ctx context.Context, b Backend, rec Record) error {
	err := b.Put(ctx, rec)
	result := "ok"
	switch {
	case errors.Is(err, models.ErrConflict):
		result = "stale"
	case err != nil:
		result = "error"
	}
	metrics.Get().StorageWritesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", b.Name()),
		attribute.String("result", result),
	))
	return err
}

// putWithRetry makes 1+retries attempts, waiting attempt*retryUnit between
// them. It returns the number of attempts made.
func (m *Manager) putWithRetry(ctx context.Context, b Backend, rec Record, retries int) (int, error) {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			m.setStatus(rec.Key, StatusRetrying)
			metrics.Get().StorageRetriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", b.Name())))
			timer := time.NewTimer(time.Duration(attempt) * m.retryUnit)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, errors.Join(err, ctx.Err())
			case <-timer.C:
			}
		}
		if err = m.put(ctx, b, rec); err == nil || errors.Is(err, models.ErrConflict) {
			return attempt + 1, err
		}
	}
	return retries + 1, err
}

func decode(rec *Record) (*models.ItineraryState, error) {
	var st models.ItineraryState
	if err := json.Unmarshal(rec.Payload, &st); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", rec.Key, err)
	}
	if st.Output == nil || len(st.Output.Days) == 0 {
		return nil, fmt.Errorf("record %s has no plan: %w", rec.Key, models.ErrNotFound)
	}
	return &st, nil
}

// Load returns the highest version valid copy of id across every tier; ties
// go to the higher priority tier.
func (m *Manager) Load(ctx context.Context, id string) (*models.ItineraryState, error) {
	ctx, span := otel.Tracer("PersistenceManager").Start(ctx, "Load", trace.WithAttributes(
		attribute.String("itinerary.id", id),
	))
	defer span.End()

	l := m.logger.With(zap.String("method", "Load"), zap.String("itinerary_id", id))
	l.Debug("Loading itinerary")

	var best *models.ItineraryState
	var source string
	for _, b := range m.all() {
		rec, err := b.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				l.Warn("Storage tier read failed", zap.String("tier", b.Name()), zap.Error(err))
			}
			continue
		}
		st, err := decode(rec)
		if err != nil {
			l.Warn("Discarding unusable record", zap.String("tier", b.Name()), zap.Error(err))
			continue
		}
		if best == nil || st.Version > best.Version {
			best, source = st, b.Name()
		}
	}
	if best == nil {
		span.SetStatus(codes.Error, "Not found")
		return nil, fmt.Errorf("itinerary %s: %w", id, models.ErrNotFound)
	}
	l.Info("Itinerary loaded", zap.String("tier", source), zap.Int64("version", best.Version))
	span.SetStatus(codes.Ok, "Itinerary loaded")
	return best, nil
}

// Delete removes id from every tier.
func (m *Manager) Delete(ctx context.Context, id string) error {
	var errs []error
	for _, b := range m.all() {
		if err := b.Delete(ctx, id); err != nil && !errors.Is(err, models.ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	m.Forget(id)
	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("Delete incomplete", zap.String("method", "Delete"), zap.String("itinerary_id", id), zap.Error(err))
		return fmt.Errorf("deleting itinerary %s: %w", id, err)
	}
	return nil
}

// ListByOwner returns the valid records of ownerID from the first tier with
// an owner index.
func (m *Manager) ListByOwner(ctx context.Context, ownerID string) ([]*models.ItineraryState, error) {
	for _, b := range m.durable() {
		idx, ok := b.(OwnerIndex)
		if !ok {
			continue
		}
		recs, err := idx.ListByOwner(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("listing itineraries for %s: %w", ownerID, err)
		}
		out := make([]*models.ItineraryState, 0, len(recs))
		for i := range recs {
			if st, err := decode(&recs[i]); err == nil {
				out = append(out, st)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("no storage tier indexes owners: %w", models.ErrNotFound)
}
