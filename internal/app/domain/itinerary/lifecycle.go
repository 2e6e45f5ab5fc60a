package itinerary

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/persistence"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/syncmgr"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// ApplyRemote adopts a version announced by another context once the shared
// store holds it. States not held in memory are left alone; the next Get
// reloads them. An open manual conflict is not replaced, only its remote
// version is raised.
func (e *Engine) ApplyRemote(ctx context.Context, msg syncmgr.Message) error {
	l := e.logger.With(zap.String("method", "ApplyRemote"), zap.String("itinerary_id", msg.ItineraryID),
		zap.Int64("remote_version", msg.Version), zap.String("origin", msg.Origin))

	lock := e.lockFor(msg.ItineraryID)
	lock.Lock()
	defer lock.Unlock()

	cur := e.cached(msg.ItineraryID)
	if cur == nil || msg.Version <= cur.Version {
		return nil
	}
	if cur.SyncStatus == models.SyncConflict && cur.Conflict != nil {
		if msg.Version > cur.Conflict.RemoteVersion {
			next := cur.Clone()
			next.Conflict.RemoteVersion = msg.Version
			e.put(next)
			l.Info("Raised remote version of open conflict")
		}
		return nil
	}
	stored, err := e.store.Load(ctx, msg.ItineraryID)
	if err != nil {
		l.Warn("Remote version announced but not readable", zap.Error(err))
		return fmt.Errorf("loading remote version of %s: %w", msg.ItineraryID, err)
	}
	if stored.Version < msg.Version {
		l.Debug("Stored copy lags the announcement")
		return nil
	}
	stored.SyncStatus = models.SyncSynced
	stored.Conflict = nil
	e.put(stored)
	l.Info("Adopted remote version", zap.Int64("version", stored.Version))
	return nil
}

// MarkSynced flags the in-memory state as synced when version is still current.
func (e *Engine) MarkSynced(id string, version int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.states[id]
	if !ok || cur.Version != version || cur.SyncStatus == models.SyncSynced {
		return
	}
	next := cur.Clone()
	next.SyncStatus = models.SyncSynced
	e.states[id] = next
}

// ResolveConflict settles a manual conflict. keepLocal writes the local plan
// on top of the remote version; otherwise the stored remote copy is adopted.
func (e *Engine) ResolveConflict(ctx context.Context, id string, keepLocal bool) (*models.ItineraryState, error) {
	l := e.logger.With(zap.String("method", "ResolveConflict"), zap.String("itinerary_id", id), zap.Bool("keep_local", keepLocal))

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cur := e.cached(id)
	if cur == nil {
		return nil, fmt.Errorf("itinerary %s: %w", id, models.ErrNotFound)
	}
	if cur.SyncStatus != models.SyncConflict || cur.Conflict == nil {
		return nil, fmt.Errorf("itinerary %s has no open conflict: %w", id, models.ErrBadRequest)
	}

	var next *models.ItineraryState
	if keepLocal {
		next = cur.Clone()
		next.Version = cur.Conflict.RemoteVersion + 1
		next.LastModified = e.now().UTC()
		next.Conflict = nil
		next.SyncStatus = models.SyncPending
		committed, err := e.commit(ctx, next)
		if err != nil {
			l.Error("Persisting resolution failed", zap.Error(err))
			return nil, err
		}
		next = committed
	} else {
		stored, err := e.store.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading remote version: %w", err)
		}
		next = stored
		next.Conflict = nil
		next.SyncStatus = models.SyncSynced
	}
	e.put(next)
	l.Info("Conflict resolved", zap.Int64("version", next.Version))
	return next.Clone(), nil
}

// Start launches the eviction sweep.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.sweep(ctx)
	})
}

// Close stops the sweep and waits for it.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
	return nil
}

func (e *Engine) sweep(ctx context.Context) {
	defer e.wg.Done()
	t := time.NewTicker(e.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-t.C:
			if n := e.Evict(); n > 0 {
				e.logger.Debug("Evicted idle itineraries", zap.Int("count", n))
			}
		}
	}
}

// Evict drops states untouched for longer than the eviction window. A state
// whose id lock is held, whose conflict is open or whose last save did not
// reach storage is skipped until the next sweep.
func (e *Engine) Evict() int {
	cutoff := e.now().UTC().Add(-e.evictAfter)
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, st := range e.states {
		if !st.LastModified.Before(cutoff) || st.SyncStatus == models.SyncConflict {
			continue
		}
		if !evictable(e.store.Status(id)) {
			continue
		}
		lock := e.locks[id]
		if lock != nil && !lock.TryLock() {
			continue
		}
		delete(e.states, id)
		if lock != nil {
			lock.Unlock()
		}
		n++
	}
	return n
}

// Cached reports whether id is held in memory.
func (e *Engine) Cached(id string) bool {
	return e.cached(id) != nil
}

// evictable reports whether a state with the given save status can be
// dropped from memory and reloaded later.
func evictable(s persistence.Status) bool {
	switch s {
	case persistence.StatusSaving, persistence.StatusRetrying, persistence.StatusFailed:
		return false
	}
	return true
}
