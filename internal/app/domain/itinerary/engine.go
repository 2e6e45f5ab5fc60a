// Package itinerary owns versioned itinerary state. It routes updates to an
// incremental patch or a full regeneration, revalidates, checks the stored
// version, persists and broadcasts every accepted mutation.
package itinerary

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/generator"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/persistence"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/recovery"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/syncmgr"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/validation"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
	"github.com/FACorreiaa/loci-planner/internal/app/observability/metrics"
)

const (
	maxErrorLog       = 20
	maxAppliedUpdates = 50
	maxAutoRegenerate = 2
)

// Store is the persistence surface the engine uses.
type Store interface {
	Save(ctx context.Context, st *models.ItineraryState) (persistence.SaveResult, error)
	Load(ctx context.Context, id string) (*models.ItineraryState, error)
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*models.ItineraryState, error)
	Health(ctx context.Context) persistence.HealthReport
	Status(id string) persistence.Status
}

// Syncer settles version conflicts before a mutation is stored and announces
// it afterwards.
type Syncer interface {
	Check(ctx context.Context, st *models.ItineraryState) (syncmgr.Outcome, error)
	Broadcast(ctx context.Context, st *models.ItineraryState) error
}

var _ syncmgr.Handler = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

func WithSyncer(s Syncer) Option {
	return func(e *Engine) { e.syncer = s }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEviction sets how long an untouched state stays in memory and how
// often the sweep runs.
func WithEviction(after, every time.Duration) Option {
	return func(e *Engine) {
		e.evictAfter = after
		e.sweepEvery = every
	}
}

// Engine is safe for concurrent use. Updates to one id are serialised;
// readers always see a complete state because mutations work on a clone that
// replaces the map entry in one step. A state is never modified once it is in
// the map.
type Engine struct {
	logger     *zap.Logger
	gen        generator.Service
	store      Store
	syncer     Syncer
	now        func() time.Time
	evictAfter time.Duration
	sweepEvery time.Duration

	mu     sync.RWMutex
	states map[string]*models.ItineraryState
	locks  map[string]*sync.Mutex

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewEngine builds an engine. The default eviction window is twice the
// default cache ttl.
func NewEngine(gen generator.Service, store Store, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger:     logger,
		gen:        gen,
		store:      store,
		now:        time.Now,
		evictAfter: 10 * time.Minute,
		sweepEvery: time.Minute,
		states:     make(map[string]*models.ItineraryState),
		locks:      make(map[string]*sync.Mutex),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

func (e *Engine) cached(id string) *models.ItineraryState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.states[id]
}

func (e *Engine) put(st *models.ItineraryState) {
	e.mu.Lock()
	e.states[st.ID] = st
	e.mu.Unlock()
}

// Generate runs the pipeline and registers version 1 of the new itinerary.
// When no storage tier accepts the record the state is discarded and the
// error wraps models.ErrStorageExhausted.
func (e *Engine) Generate(ctx context.Context, in *models.GeneratorInput) (*models.ItineraryState, error) {
	ctx, span := otel.Tracer("ItineraryEngine").Start(ctx, "Generate", trace.WithAttributes(
		attribute.String("user.id", in.UserID),
	))
	defer span.End()

	l := e.logger.With(zap.String("method", "Generate"), zap.String("user_id", in.UserID))
	l.Debug("Creating itinerary")

	out, err := e.gen.Generate(ctx, in)
	if err != nil {
		l.Error("Generation rejected", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Generation rejected")
		return nil, err
	}

	input := in.Clone()
	st := &models.ItineraryState{
		ID:           out.ItineraryID,
		UserID:       in.UserID,
		Version:      1,
		LastModified: e.now().UTC(),
		Output:       out,
		Input:        &input,
		SyncStatus:   models.SyncPending,
	}
	e.revalidate(ctx, st)

	lock := e.lockFor(st.ID)
	lock.Lock()
	defer lock.Unlock()

	st, err = e.commit(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Storage failed")
		if errors.Is(err, models.ErrStorageExhausted) {
			return nil, fmt.Errorf("storing itinerary %s: %w", st.ID, err)
		}
	}
	e.put(st)

	span.SetAttributes(attribute.String("itinerary.id", st.ID))
	span.SetStatus(codes.Ok, "Itinerary created")
	l.Info("Itinerary created", zap.String("itinerary_id", st.ID), zap.Bool("success", out.Success))
	return st.Clone(), nil
}

// Get returns the current state, reloading it from storage when it was
// evicted from memory.
func (e *Engine) Get(ctx context.Context, id string) (*models.ItineraryState, error) {
	if st := e.cached(id); st != nil {
		return st.Clone(), nil
	}
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	st, err := e.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// loadLocked returns the in-memory state or reloads it. Callers hold the id
// lock.
func (e *Engine) loadLocked(ctx context.Context, id string) (*models.ItineraryState, error) {
	if st := e.cached(id); st != nil {
		return st, nil
	}
	st, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	e.put(st)
	e.logger.Debug("Itinerary reloaded from storage", zap.String("itinerary_id", id), zap.Int64("version", st.Version))
	return st, nil
}

// Update applies upd to itinerary id. It returns models.ErrNotFound, with a
// nil state, when the itinerary is unknown and the update carries no full
// plan to rebuild it from. Validation and persistence problems never abort an
// accepted update; they are logged on the state.
func (e *Engine) Update(ctx context.Context, id string, upd models.ItineraryUpdate) (*models.ItineraryState, error) {
	ctx, span := otel.Tracer("ItineraryEngine").Start(ctx, "Update", trace.WithAttributes(
		attribute.String("itinerary.id", id),
		attribute.String("update.type", string(upd.Type)),
		attribute.String("update.source", string(upd.Source)),
	))
	defer span.End()

	l := e.logger.With(zap.String("method", "Update"), zap.String("itinerary_id", id), zap.String("type", string(upd.Type)))
	l.Debug("Applying update")

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cur, err := e.loadLocked(ctx, id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		l.Warn("Reload failed", zap.Error(err))
	}
	if cur == nil {
		plan := upd.FullPlan()
		if plan == nil {
			l.Warn("Update for unknown itinerary")
			span.SetStatus(codes.Error, "Itinerary not found")
			return nil, fmt.Errorf("itinerary %s: %w", id, models.ErrNotFound)
		}
		cur = fromPlan(id, plan, e.now().UTC())
		l.Info("Rebuilt itinerary from full plan payload")
	}

	if upd.ID != "" && slices.Contains(cur.AppliedUpdates, upd.ID) {
		l.Debug("Update already applied", zap.String("update_id", upd.ID))
		span.SetStatus(codes.Ok, "Duplicate update")
		return cur.Clone(), nil
	}

	next := cur.Clone()
	mode, err := e.apply(ctx, next, upd)
	if err != nil {
		l.Warn("Update rejected", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Update rejected")
		return nil, err
	}
	if mode == modeNoop {
		if upd.ID != "" {
			next.AppliedUpdates = appendBounded(next.AppliedUpdates, upd.ID, maxAppliedUpdates)
			e.put(next)
		}
		span.SetStatus(codes.Ok, "No change")
		return next.Clone(), nil
	}

	next.Version = cur.Version + 1
	next.LastModified = e.now().UTC()
	next.SyncStatus = models.SyncPending
	if upd.ID != "" {
		next.AppliedUpdates = appendBounded(next.AppliedUpdates, upd.ID, maxAppliedUpdates)
	}
	e.revalidate(ctx, next)

	next, err = e.commit(ctx, next)
	if err != nil {
		span.RecordError(err)
	}
	e.put(next)

	metrics.Get().UpdatesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(upd.Type)),
		attribute.String("mode", string(mode)),
	))
	span.SetAttributes(attribute.Int64("itinerary.version", next.Version))
	span.SetStatus(codes.Ok, "Update applied")
	l.Info("Update applied", zap.Int64("version", next.Version), zap.String("mode", string(mode)))
	return next.Clone(), nil
}

// revalidate checks the plan structure and regenerates from the stored input
// while it stays broken. A plan that cannot be repaired is replaced by the
// fallback plan.
func (e *Engine) revalidate(ctx context.Context, st *models.ItineraryState) {
	res := validation.ValidateStructure(st.Output)
	for attempt := 0; !res.Valid && attempt < maxAutoRegenerate && st.Input != nil; attempt++ {
		e.logger.Warn("Plan failed structural validation, regenerating",
			zap.String("itinerary_id", st.ID), zap.Strings("errors", res.Messages()))
		e.logError(st, "validation", res.Err())
		out, err := e.gen.Regenerate(ctx, st.ID, st.Input)
		if err != nil {
			e.logError(st, "regenerate", err)
			break
		}
		st.Output = out
		res = validation.ValidateStructure(st.Output)
	}
	if !res.Valid {
		e.logError(st, "validation", res.Err())
		in := models.GeneratorInput{UserID: st.UserID}
		if st.Input != nil {
			in = *st.Input
		} else if st.Output != nil {
			in.Preferences = st.Output.Metadata.Preferences
		}
		cfg := models.GeneratorConfig{}
		if st.Output != nil {
			cfg = st.Output.Metadata.Config
		}
		st.Output = recovery.Fallback(st.ID, &in, cfg, res.Err(), e.now())
		res = validation.ValidateStructure(st.Output)
	}
	if out := validation.ValidateOutput(st.Output); !out.Valid {
		e.logger.Debug("Plan has schema warnings", zap.String("itinerary_id", st.ID), zap.Strings("errors", out.Messages()))
	}
	if res.Valid {
		st.ValidationStatus = models.ValidationValid
	} else {
		st.ValidationStatus = models.ValidationInvalid
	}
}

// commit settles next against the stored version, persists it and announces
// it. It returns the state to publish, which is the stored copy when the
// stored copy wins. next must not be in the map yet. Callers hold the id lock.
// The returned error is the storage failure, also recorded on the state.
func (e *Engine) commit(ctx context.Context, next *models.ItineraryState) (*models.ItineraryState, error) {
	l := e.logger.With(zap.String("method", "commit"), zap.String("itinerary_id", next.ID))

	for attempt := 0; ; attempt++ {
		if e.syncer != nil {
			out, err := e.syncer.Check(ctx, next)
			if err != nil {
				l.Warn("Version check failed", zap.Error(err))
				e.logError(next, "sync", err)
			}
			switch out.Resolution {
			case syncmgr.ResolutionRemote:
				adopted := out.Adopted
				e.logError(adopted, "sync", fmt.Errorf("local v%d discarded for stored v%d: %w", next.Version, adopted.Version, models.ErrConflict))
				l.Info("Adopted stored version", zap.Int64("local_version", next.Version), zap.Int64("version", adopted.Version))
				return adopted, nil
			case syncmgr.ResolutionManual:
				next.SyncStatus = models.SyncConflict
				next.Conflict = out.Conflict
				l.Warn("Conflict left for manual resolution", zap.Int64("remote_version", out.Conflict.RemoteVersion))
				return next, nil
			case syncmgr.ResolutionLocal:
				next = out.Adopted
			}
		}

		_, err := e.store.Save(ctx, next)
		if err == nil {
			break
		}
		if errors.Is(err, models.ErrConflict) && e.syncer != nil && attempt == 0 {
			l.Warn("Stored version moved during save, checking again", zap.Error(err))
			continue
		}
		l.Error("Persisting itinerary failed", zap.Int64("version", next.Version), zap.Error(err))
		e.logError(next, "persist", err)
		next.SyncStatus = models.SyncError
		return next, err
	}

	if e.syncer == nil {
		return next, nil
	}
	switch err := e.syncer.Broadcast(ctx, next); {
	case err == nil:
		next.SyncStatus = models.SyncSynced
	case errors.Is(err, models.ErrOffline):
		next.SyncStatus = models.SyncPending
	default:
		l.Warn("Broadcast failed, queued", zap.Error(err))
		e.logError(next, "sync", err)
		next.SyncStatus = models.SyncPending
	}
	return next, nil
}

func (e *Engine) logError(st *models.ItineraryState, stage string, err error) {
	if err == nil {
		return
	}
	st.Errors = append(st.Errors, models.ErrorLogEntry{At: e.now().UTC(), Stage: stage, Message: err.Error()})
	if len(st.Errors) > maxErrorLog {
		st.Errors = st.Errors[len(st.Errors)-maxErrorLog:]
	}
}

func appendBounded(ids []string, id string, limit int) []string {
	ids = append(ids, id)
	if len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	return ids
}

// fromPlan builds a state for a plan that is not known locally. The version
// starts at zero so the update that carried it becomes version 1.
func fromPlan(id string, plan *models.GeneratorOutput, now time.Time) *models.ItineraryState {
	out := *plan
	out.ItineraryID = id
	return &models.ItineraryState{
		ID:               id,
		UserID:           plan.UserID,
		LastModified:     now,
		Output:           &out,
		SyncStatus:       models.SyncPending,
		ValidationStatus: models.ValidationPending,
	}
}

// Delete removes the itinerary from memory and every storage tier.
func (e *Engine) Delete(ctx context.Context, id string) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	delete(e.states, id)
	e.mu.Unlock()
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.logger.Info("Itinerary deleted", zap.String("method", "Delete"), zap.String("itinerary_id", id))
	return nil
}

// ListByOwner lists stored itineraries of userID.
func (e *Engine) ListByOwner(ctx context.Context, userID string) ([]*models.ItineraryState, error) {
	return e.store.ListByOwner(ctx, userID)
}

// Health reports the storage tiers.
func (e *Engine) Health(ctx context.Context) persistence.HealthReport {
	return e.store.Health(ctx)
}
