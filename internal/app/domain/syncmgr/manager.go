// Package syncmgr keeps itinerary versions consistent between execution
// contexts. Before a mutation is persisted the local store is checked for a
// newer version; once persisted the mutation is broadcast, or queued while
// offline.
package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
	"github.com/FACorreiaa/loci-planner/internal/app/observability/metrics"
)

// Strategy decides which side wins a version conflict.
type Strategy string

const (
	// StrategyServerWins adopts the newer stored version.
	StrategyServerWins Strategy = "server-wins"
	// StrategyClientWins keeps the local state and overwrites the stored one.
	StrategyClientWins Strategy = "client-wins"
	// StrategyManual surfaces both versions and leaves the choice to the caller.
	StrategyManual Strategy = "manual"
)

// ParseStrategy maps a configuration value onto a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyServerWins, StrategyClientWins, StrategyManual:
		return Strategy(s), nil
	case "":
		return StrategyServerWins, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q: %w", s, models.ErrBadRequest)
}

// Store is the part of the persistence manager sync needs.
type Store interface {
	Load(ctx context.Context, id string) (*models.ItineraryState, error)
}

// Handler receives what other contexts broadcast and learns when a queued
// version finally went out.
type Handler interface {
	ApplyRemote(ctx context.Context, msg Message) error
	MarkSynced(id string, version int64)
}

// Resolution names how Check settled a version conflict.
type Resolution string

const (
	// ResolutionNone means the stored copy is older; persist as planned.
	ResolutionNone Resolution = ""
	// ResolutionRemote means the stored copy replaces the caller's state and
	// nothing must be written.
	ResolutionRemote Resolution = "remote"
	// ResolutionLocal means the caller's state was rebased above the stored
	// version and must be persisted.
	ResolutionLocal Resolution = "local"
	// ResolutionManual means the conflict is left open for the caller.
	ResolutionManual Resolution = "manual"
)

// Outcome tells the caller what to do with its state after Check.
type Outcome struct {
	Status     models.SyncStatus
	Resolution Resolution
	// Adopted replaces the caller's state when set.
	Adopted  *models.ItineraryState
	Conflict *models.ConflictInfo
}

// Option configures a Manager.
type Option func(*Manager)

// WithOrigin sets the context id stamped on outgoing messages.
func WithOrigin(origin string) Option {
	return func(m *Manager) { m.origin = origin }
}

// WithFlushLimit throttles queue flushes to one per interval with the given
// burst.
func WithFlushLimit(every time.Duration, burst int) Option {
	return func(m *Manager) { m.limiter = rate.NewLimiter(rate.Every(every), burst) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type Manager struct {
	logger   *zap.Logger
	channel  Channel
	store    Store
	strategy Strategy
	interval time.Duration
	origin   string
	limiter  *rate.Limiter
	now      func() time.Time

	mu      sync.Mutex
	online  bool
	queue   map[string]Message
	handler Handler

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewManager builds a manager that starts online. interval drives the
// background flush sweep.
func NewManager(channel Channel, store Store, strategy Strategy, interval time.Duration, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if strategy == "" {
		strategy = StrategyServerWins
	}
	m := &Manager{
		logger:   logger,
		channel:  channel,
		store:    store,
		strategy: strategy,
		interval: interval,
		origin:   uuid.NewString(),
		limiter:  rate.NewLimiter(rate.Every(time.Second), 3),
		now:      time.Now,
		online:   true,
		queue:    make(map[string]Message),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Origin() string     { return m.origin }
func (m *Manager) Strategy() Strategy { return m.strategy }

// SetHandler registers the receiver of remote messages.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *Manager) getHandler() Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

func (m *Manager) message(st *models.ItineraryState) Message {
	return Message{
		ItineraryID:  st.ID,
		Version:      st.Version,
		LastModified: st.LastModified,
		SyncStatus:   models.SyncSynced,
		Origin:       m.origin,
	}
}

// Check runs before st is persisted. A stored copy at or above st.Version
// was written by another context after st's base version was read, so it is
// a conflict and the configured strategy settles it. Check never writes.
func (m *Manager) Check(ctx context.Context, st *models.ItineraryState) (Outcome, error) {
	ctx, span := otel.Tracer("SyncManager").Start(ctx, "Check", trace.WithAttributes(
		attribute.String("itinerary.id", st.ID),
		attribute.Int64("itinerary.version", st.Version),
		attribute.String("sync.strategy", string(m.strategy)),
	))
	defer span.End()

	l := m.logger.With(zap.String("method", "Check"), zap.String("itinerary_id", st.ID), zap.Int64("version", st.Version))
	l.Debug("Checking stored version")

	stored, err := m.store.Load(ctx, st.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		l.Error("Failed to read local tier", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Local read failed")
		return Outcome{Status: models.SyncError}, fmt.Errorf("checking stored version: %w", err)
	}
	if stored == nil || stored.Version < st.Version {
		span.SetStatus(codes.Ok, "No conflict")
		return Outcome{Status: models.SyncPending}, nil
	}

	metrics.Get().SyncConflictsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", string(m.strategy))))
	l.Warn("Stored version is newer", zap.Int64("stored_version", stored.Version))
	switch m.strategy {
	case StrategyServerWins:
		adopted := stored.Clone()
		adopted.SyncStatus = models.SyncSynced
		adopted.Conflict = nil
		span.SetStatus(codes.Ok, "Adopted stored version")
		return Outcome{Status: models.SyncSynced, Resolution: ResolutionRemote, Adopted: adopted}, nil
	case StrategyClientWins:
		local := st.Clone()
		local.Version = stored.Version + 1
		local.LastModified = m.now().UTC()
		local.Conflict = nil
		span.SetStatus(codes.Ok, "Rebased local version")
		return Outcome{Status: models.SyncPending, Resolution: ResolutionLocal, Adopted: local}, nil
	default:
		info := &models.ConflictInfo{LocalVersion: st.Version, RemoteVersion: stored.Version, DetectedAt: m.now().UTC()}
		span.SetStatus(codes.Error, "Conflict needs resolution")
		return Outcome{Status: models.SyncConflict, Resolution: ResolutionManual, Conflict: info}, nil
	}
}

// Broadcast publishes st's status tuple, queueing it when offline or when the
// channel fails. It returns models.ErrOffline when queued for being offline.
func (m *Manager) Broadcast(ctx context.Context, st *models.ItineraryState) error {
	msg := m.message(st)
	m.mu.Lock()
	online := m.online
	if !online {
		m.enqueueLocked(msg)
	}
	m.mu.Unlock()
	if !online {
		return models.ErrOffline
	}

	if err := m.channel.Publish(ctx, msg); err != nil {
		m.mu.Lock()
		m.enqueueLocked(msg)
		m.mu.Unlock()
		m.count(ctx, "publish_failed")
		return fmt.Errorf("broadcasting %s v%d: %w", msg.ItineraryID, msg.Version, err)
	}
	m.count(ctx, "published")
	return nil
}

func (m *Manager) count(ctx context.Context, result string) {
	metrics.Get().SyncMessagesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// enqueueLocked keeps only the highest version per itinerary.
func (m *Manager) enqueueLocked(msg Message) {
	if prev, ok := m.queue[msg.ItineraryID]; ok && prev.Version >= msg.Version {
		return
	}
	m.queue[msg.ItineraryID] = msg
}

// Pending returns the queued messages ordered by itinerary id.
func (m *Manager) Pending() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, 0, len(m.queue))
	for _, msg := range m.queue {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItineraryID < out[j].ItineraryID })
	return out
}

// SetOnline records connectivity and flushes the queue on reconnect.
func (m *Manager) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	m.mu.Unlock()
	m.logger.Info("Connectivity changed", zap.String("method", "SetOnline"), zap.Bool("online", online))
	if online && !was {
		m.Flush(ctx)
	}
}

// NotifyVisibility flushes the queue when the context comes back to the
// foreground.
func (m *Manager) NotifyVisibility(ctx context.Context, visible bool) {
	if visible {
		m.Flush(ctx)
	}
}

// Flush publishes queued messages whose version is still current in the
// store. It is rate limited and returns the number of messages sent.
func (m *Manager) Flush(ctx context.Context) int {
	l := m.logger.With(zap.String("method", "Flush"))
	m.mu.Lock()
	if !m.online || len(m.queue) == 0 {
		m.mu.Unlock()
		return 0
	}
	m.mu.Unlock()
	if !m.limiter.Allow() {
		l.Debug("Flush throttled")
		return 0
	}

	sent := 0
	for _, msg := range m.Pending() {
		if stored, err := m.store.Load(ctx, msg.ItineraryID); err == nil && stored.Version > msg.Version {
			l.Info("Dropping stale queued message", zap.String("itinerary_id", msg.ItineraryID),
				zap.Int64("queued_version", msg.Version), zap.Int64("stored_version", stored.Version))
			m.dequeue(msg)
			m.count(ctx, "stale")
			continue
		}
		if err := m.channel.Publish(ctx, msg); err != nil {
			l.Warn("Flush publish failed", zap.String("itinerary_id", msg.ItineraryID), zap.Error(err))
			m.count(ctx, "publish_failed")
			continue
		}
		m.dequeue(msg)
		m.count(ctx, "published")
		sent++
		if h := m.getHandler(); h != nil {
			h.MarkSynced(msg.ItineraryID, msg.Version)
		}
	}
	if sent > 0 {
		l.Info("Flushed queued sync messages", zap.Int("sent", sent))
	}
	return sent
}

// dequeue removes msg unless a newer version was queued meanwhile.
func (m *Manager) dequeue(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.queue[msg.ItineraryID]; ok && cur.Version <= msg.Version {
		delete(m.queue, msg.ItineraryID)
	}
}

// Start subscribes to the channel and runs the flush sweep until Close.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		var msgs <-chan Message
		var cleanup func()
		msgs, cleanup, err = m.channel.Subscribe(ctx)
		if err != nil {
			err = fmt.Errorf("subscribing to sync channel: %w", err)
			return
		}
		m.wg.Add(2)
		go func() {
			defer m.wg.Done()
			defer cleanup()
			m.listen(ctx, msgs)
		}()
		go func() {
			defer m.wg.Done()
			m.sweep(ctx)
		}()
		m.logger.Info("Sync manager started", zap.String("origin", m.origin), zap.Duration("interval", m.interval))
	})
	return err
}

func (m *Manager) listen(ctx context.Context, msgs <-chan Message) {
	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.Origin == m.origin {
				continue
			}
			m.count(ctx, "received")
			h := m.getHandler()
			if h == nil {
				continue
			}
			if err := h.ApplyRemote(ctx, msg); err != nil {
				m.logger.Warn("Failed to apply remote version",
					zap.String("method", "listen"),
					zap.String("itinerary_id", msg.ItineraryID),
					zap.Int64("version", msg.Version),
					zap.Error(err))
			}
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Flush(ctx)
		}
	}
}

// Close stops the background goroutines and waits for them.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	return nil
}
