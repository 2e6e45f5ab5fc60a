package itinerary

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/catalog"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/genconfig"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/generator"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/persistence"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/recovery"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/syncmgr"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

var genTime = time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newGenerator() *generator.ServiceImpl {
	return generator.NewGeneratorService(
		catalog.NewStaticCatalog(nil, catalog.DefaultCities()...),
		catalog.NewHeuristicOracle(),
		recovery.NewManager(nil, recovery.WithBackoffBase(time.Millisecond)),
		nil,
		generator.WithClock(func() time.Time { return genTime }),
		generator.WithIDGenerator(func() string { return "itin-1" }),
	)
}

func newStore() *persistence.Manager {
	return persistence.NewManager(
		genconfig.Defaults().Persistence,
		persistence.Tiers{KV: persistence.NewSessionStore(time.Hour)},
		nil,
		persistence.WithRetryUnit(time.Millisecond),
	)
}

func newEngine(t *testing.T, store Store, opts ...Option) (*Engine, *clock) {
	t.Helper()
	c := &clock{now: genTime}
	opts = append([]Option{WithClock(c.Now)}, opts...)
	return NewEngine(newGenerator(), store, nil, opts...), c
}

func tripInput() *models.GeneratorInput {
	return &models.GeneratorInput{
		UserID: "user-1",
		Preferences: models.Preferences{
			Budget:            2000000,
			Days:              3,
			Travelers:         2,
			AccommodationType: models.AccommodationModerate,
			Cities:            []string{"Malang", "Batu"},
			Interests:         []string{"history", "family"},
		},
		Destinations: []models.Destination{
			{ID: "batu-jatim-park-2", Name: "Jatim Park 2", Location: "Batu", Category: "theme park", Cost: 120000, Duration: 180, Coordinates: models.Coordinates{Lat: -7.8848, Lng: 112.5262}, Rating: 4.8},
			{ID: "batu-museum-angkut", Name: "Museum Angkut", Location: "Batu", Category: "museum", Cost: 100000, Duration: 150, Coordinates: models.Coordinates{Lat: -7.8789, Lng: 112.5197}, Rating: 4.7},
			{ID: "batu-selecta", Name: "Taman Rekreasi Selecta", Location: "Batu", Category: "park", Cost: 50000, Duration: 120, Coordinates: models.Coordinates{Lat: -7.8197, Lng: 112.5247}, Rating: 4.6},
		},
	}
}

func update(t *testing.T, typ models.UpdateType, payload any) models.ItineraryUpdate {
	t.Helper()
	upd, err := models.NewUpdate(typ, payload, models.SourceUser)
	require.NoError(t, err)
	return upd
}

func TestGenerateRegistersVersionOne(t *testing.T) {
	store := newStore()
	e, _ := newEngine(t, store)

	st, err := e.Generate(context.Background(), tripInput())
	require.NoError(t, err)
	assert.Equal(t, "itin-1", st.ID)
	assert.Equal(t, int64(1), st.Version)
	assert.Equal(t, models.ValidationValid, st.ValidationStatus)
	assert.Equal(t, models.SyncPending, st.SyncStatus)
	require.NotNil(t, st.Input)

	stored, err := store.Load(context.Background(), "itin-1")
	require.NoError(t, err)
	assert.Equal(t, st.Version, stored.Version)
	assert.Equal(t, persistence.StatusSaved, store.Status("itin-1"))
}

func TestGenerateFailsWhenStorageExhausted(t *testing.T) {
	store := persistence.NewManager(genconfig.Defaults().Persistence, persistence.Tiers{}, nil)
	e, _ := newEngine(t, store)

	st, err := e.Generate(context.Background(), tripInput())
	require.ErrorIs(t, err, models.ErrStorageExhausted)
	assert.Nil(t, st)
	assert.False(t, e.Cached("itin-1"))
}

func TestBudgetChangeKeepsDestinations(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, newStore())
	before, err := e.Generate(ctx, tripInput())
	require.NoError(t, err)

	after, err := e.Update(ctx, before.ID, update(t, models.UpdateBudgetChange, models.BudgetPayload{Budget: 3000000}))
	require.NoError(t, err)

	assert.Equal(t, before.Version+1, after.Version)
	assert.Equal(t, before.Output.DestinationIDs(), after.Output.DestinationIDs())
	assert.Equal(t, 3000000.0, after.Output.Budget.Total)
	assert.Equal(t, 3000000.0, after.Output.Metadata.Preferences.Budget)
	assert.Equal(t, 3000000.0, after.Input.Preferences.Budget)
	assert.InDelta(t, before.Output.TotalCost, after.Output.TotalCost, 0.001)
	var daily float64
	for _, d := range after.Output.Days {
		daily += d.Budget
	}
	assert.InDelta(t, 3000000-after.Output.Budget.EmergencyFund, daily, 0.01)
	assert.Less(t, after.Output.Optimization.BudgetUtilization, before.Output.Optimization.BudgetUtilization)
}

func TestUpdateRejectsBadPayloads(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, newStore())
	st, err := e.Generate(ctx, tripInput())
	require.NoError(t, err)

	tests := []struct {
		name string
		upd  models.ItineraryUpdate
	}{
		{"zero budget", update(t, models.UpdateBudgetChange, models.BudgetPayload{Budget: 0})},
		{"missing date", update(t, models.UpdateDateChange, models.DatePayload{})},
		{"unknown destination", update(t, models.UpdateDestinationUpdate, models.DestinationPayload{Destination: models.Destination{ID: "nope", Name: "Nope", Duration: 60}})},
		{"invalid destination", update(t, models.UpdateDestinationAdd, models.DestinationPayload{Destination: models.Destination{ID: "x"}})},
		{"unknown type", models.ItineraryUpdate{Type: "teleport", Payload: json.RawMessage(`{}`)}},
		{"no payload", models.ItineraryUpdate{Type: models.UpdateBudgetChange}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Update(ctx, st.ID, tt.upd)
			require.ErrorIs(t, err, models.ErrBadRequest)
			assert.Nil(t, got)
		})
	}

	cur, err := e.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Version, cur.Version)
}

func TestVersionsIncreaseMonotonically(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, newStore())
	st, err := e.Generate(ctx, tripInput())
	require.NoError(t, err)

	days := 2
	updates := []models.ItineraryUpdate{
		update(t, models.UpdateBudgetChange, models.BudgetPayload{Budget: 2500000}),
		update(t, models.UpdateDateChange, models.DatePayload{StartDate: genTime.AddDate(0, 1, 0), Days: &days}),
		update(t, models.UpdatePreferenceUpdate, models.PreferencePayload{Interests: []string{"nature"}}),
		update(t, models.UpdateDestinationRemove, models.DestinationRemovePayload{DestinationID: "batu-selecta"}),
	}
	last := st.Version
	for _, upd := range updates {
		got, err := e.Update(ctx, st.ID, upd)
		require.NoError(t, err, upd.Type)
		assert.Greater(t, got.Version, last, upd.Type)
		last = got.Version
	}

	cur, err := e.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, cur.Output.Days, 2)
	assert.NotContains(t, cur.Output.DestinationIDs(), "batu-selecta")
	assert.Equal(t, []string{"nature"}, cur.Input.Preferences.Interests)
}

func TestDestinationAdd(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, newStore())
	st, err := e.Generate(ctx, tripInput())
	require.NoError(t, err)

	dup := update(t, models.UpdateDestinationAdd, models.DestinationPayload{Destination: tripInput().Destinations[0]})
	got, err := e.Update(ctx, st.ID, dup)
	require.NoError(t, err)
	assert.Equal(t, st.Version, got.Version)
	assert.Equal(t, st.Output.DestinationIDs(), got.Output.DestinationIDs())

	alun := models.Destination{ID: "malang-alun-alun", Name: "Alun-Alun Malang", Location: "Malang", Category: "park", Duration: 60, Coordinates: models.Coordinates{Lat: -7.9826, Lng: 112.6308}, Rating: 4.4}
	got, err = e.Update(ctx, st.ID, update(t, models.UpdateDestinationAdd, models.DestinationPayload{Destination: alun}))
	require.NoError(t, err)
	assert.Equal(t, st.Version+1, got.Version)
	assert.Contains(t, got.Output.DestinationIDs(), alun.ID)
	assert.True(t, got.Input.Preferences.IsMustVisit(alun.ID))
}

func TestUpdateIsIdempotentByID(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, newStore())
	st, err := e.Generate(ctx, tripInput())
	require.NoError(t, err)

	upd := update(t, models.UpdateBudgetChange, models.BudgetPayload{Budget: 2200000})
	upd.ID = "upd-1"
	first, err := e.Update(ctx, st.ID, upd)
	require.NoError(t, err)
	second, err := e.Update(ctx, st.ID, upd)
	require.NoError(t, err)

	assert.Equal(t, st.Version+1, first.Version)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, []string{"upd-1"}, second.AppliedUpdates)
}

func TestUpdateUnknownItinerary(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, newStore())

	got, err := e.Update(ctx, "missing", update(t, models.UpdateBudgetChange, models.BudgetPayload{Budget: 1000}))
	require.ErrorIs(t, err, models.ErrNotFound)
	assert.Nil(t, got)
}

func TestUpdateRebuildsFromFullPlan(t *testing.T) {
	ctx := context.Background()
	plan, err := newGenerator().Generate(ctx, tripInput())
	require.NoError(t, err)

	e, _ := newEngine(t, newStore())
	upd := update(t, models.UpdateBudgetChange, struct {
		Budget float64                 `json:"budget"`
		Plan   *models.GeneratorOutput `json:"plan"`
	}{Budget: 2400000, Plan: plan})

	got, err := e.Update(ctx, "restored", upd)
	require.NoError(t, err)
	assert.Equal(t, "restored", got.ID)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, 2400000.0, got.Output.Budget.Total)
	assert.Equal(t, plan.DestinationIDs(), got.Output.DestinationIDs())
	require.NotNil(t, got.Input)
	var scheduled []string
	for _, d := range plan.Days {
		for _, s := range d.Destinations {
			if !s.Placeholder {
				scheduled = append(scheduled, s.ID)
			}
		}
	}
	var restored []string
	for _, d := range got.Input.Destinations {
		restored = append(restored, d.ID)
	}
	assert.ElementsMatch(t, scheduled, restored)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, newStore())
	st, err := e.Generate(ctx, tripInput())
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, st.ID))
	_, err = e.Get(ctx, st.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestEvictionReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	e, c := newEngine(t, newStore(), WithEviction(time.Minute, time.Hour))
	st, err := e.Generate(ctx, tripInput())
	require.NoError(t, err)

	assert.Zero(t, e.Evict())
	c.Advance(2 * time.Minute)
	assert.Equal(t, 1, e.Evict())
	assert.False(t, e.Cached(st.ID))

	got, err := e.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Version, got.Version)
	assert.True(t, e.Cached(st.ID))
}

func TestApplyRemoteAdoptsNewerVersion(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	a, _ := newEngine(t, store)
	b, _ := newEngine(t, store)

	st, err := a.Generate(ctx, tripInput())
	require.NoError(t, err)
	_, err = b.Get(ctx, st.ID)
	require.NoError(t, err)

	next, err := a.Update(ctx, st.ID, update(t, models.UpdateBudgetChange, models.BudgetPayload{Budget: 2600000}))
	require.NoError(t, err)

	require.NoError(t, b.ApplyRemote(ctx, syncmgr.Message{ItineraryID: st.ID, Version: next.Version, Origin: "a"}))
	got, err := b.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, next.Version, got.Version)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)

	// Older announcements are ignored.
	require.NoError(t, b.ApplyRemote(ctx, syncmgr.Message{ItineraryID: st.ID, Version: 1}))
	got, err = b.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, next.Version, got.Version)
}

func newSyncer(t *testing.T, store syncmgr.Store, strategy syncmgr.Strategy) *syncmgr.Manager {
	t.Helper()
	m := syncmgr.NewManager(syncmgr.NewLocalChannel(0), store, strategy, time.Hour, nil)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// staleUpdate generates v1 on engine a, moves the stored copy to v3 through
// engine b and then applies a budget change on a, which still holds v1.
func staleUpdate(t *testing.T, strategy syncmgr.Strategy) (*Engine, *persistence.Manager, *models.ItineraryState) {
	t.Helper()
	ctx := context.Background()
	store := newStore()
	var opts []Option
	if strategy != "" {
		opts = append(opts, WithSyncer(newSyncer(t, store, strategy)))
	}
	a, _ := newEngine(t, store, opts...)
	b, _ := newEngine(t, store, WithSyncer(newSyncer(t, store, syncmgr.StrategyServerWins)))

	st, err := a.Generate(ctx, tripInput())
	require.NoError(t, err)
	require.Equal(t, int64(1), st.Version)
	for _, budget := range []float64{2100000, 2200000} {
		_, err = b.Update(ctx, st.ID, update(t, models.UpdateBudgetChange, models.BudgetPayload{Budget: budget}))
		require.NoError(t, err)
	}
	stored, err := store.Load(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), stored.Version)

	got, err := a.Update(ctx, st.ID, update(t, models.UpdateBudgetChange, models.BudgetPayload{Budget: 3000000}))
	require.NoError(t, err)
	return a, store, got
}

func storedVersion(t *testing.T, store *persistence.Manager, id string) (int64, float64) {
	t.Helper()
	stored, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	return stored.Version, stored.Output.Budget.Total
}

func TestStaleUpdateServerWins(t *testing.T) {
	a, store, got := staleUpdate(t, syncmgr.StrategyServerWins)

	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, 2200000.0, got.Output.Budget.Total)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
	assert.Nil(t, got.Conflict)
	require.NotEmpty(t, got.Errors)
	assert.Equal(t, "sync", got.Errors[len(got.Errors)-1].Stage)

	version, budget := storedVersion(t, store, got.ID)
	assert.Equal(t, int64(3), version)
	assert.Equal(t, 2200000.0, budget)

	cur, err := a.Get(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur.Version)
}

func TestStaleUpdateClientWins(t *testing.T) {
	_, store, got := staleUpdate(t, syncmgr.StrategyClientWins)

	assert.Equal(t, int64(4), got.Version)
	assert.Equal(t, 3000000.0, got.Output.Budget.Total)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)

	version, budget := storedVersion(t, store, got.ID)
	assert.Equal(t, int64(4), version)
	assert.Equal(t, 3000000.0, budget)
}

func TestStaleUpdateManual(t *testing.T) {
	tests := []struct {
		name        string
		keepLocal   bool
		wantVersion int64
		wantBudget  float64
	}{
		{name: "keep local", keepLocal: true, wantVersion: 4, wantBudget: 3000000},
		{name: "take remote", keepLocal: false, wantVersion: 3, wantBudget: 2200000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			a, store, got := staleUpdate(t, syncmgr.StrategyManual)

			assert.Equal(t, models.SyncConflict, got.SyncStatus)
			require.NotNil(t, got.Conflict)
			assert.Equal(t, int64(2), got.Conflict.LocalVersion)
			assert.Equal(t, int64(3), got.Conflict.RemoteVersion)
			version, _ := storedVersion(t, store, got.ID)
			assert.Equal(t, int64(3), version, "open conflict must not be stored")

			resolved, err := a.ResolveConflict(ctx, got.ID, tt.keepLocal)
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, resolved.Version)
			assert.Equal(t, tt.wantBudget, resolved.Output.Budget.Total)
			assert.Equal(t, models.SyncSynced, resolved.SyncStatus)
			assert.Nil(t, resolved.Conflict)

			version, budget := storedVersion(t, store, got.ID)
			assert.Equal(t, tt.wantVersion, version)
			assert.Equal(t, tt.wantBudget, budget)

			_, err = a.ResolveConflict(ctx, got.ID, tt.keepLocal)
			require.ErrorIs(t, err, models.ErrBadRequest)
		})
	}
}

func TestStaleUpdateWithoutSyncer(t *testing.T) {
	_, store, got := staleUpdate(t, "")

	assert.Equal(t, models.SyncError, got.SyncStatus)
	require.NotEmpty(t, got.Errors)
	assert.Equal(t, "persist", got.Errors[len(got.Errors)-1].Stage)

	version, budget := storedVersion(t, store, got.ID)
	assert.Equal(t, int64(3), version)
	assert.Equal(t, 2200000.0, budget)
}

func TestApplyRemoteRaisesOpenConflict(t *testing.T) {
	ctx := context.Background()
	a, _, got := staleUpdate(t, syncmgr.StrategyManual)

	require.NoError(t, a.ApplyRemote(ctx, syncmgr.Message{ItineraryID: got.ID, Version: 5, Origin: "b"}))
	cur, err := a.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncConflict, cur.SyncStatus)
	assert.Equal(t, got.Version, cur.Version)
	require.NotNil(t, cur.Conflict)
	assert.Equal(t, int64(5), cur.Conflict.RemoteVersion)
}

func TestReadsDuringUpdates(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	e, _ := newEngine(t, store, WithSyncer(newSyncer(t, store, syncmgr.StrategyServerWins)))
	st, err := e.Generate(ctx, tripInput())
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var last int64
		for {
			select {
			case <-done:
				return
			default:
			}
			got, err := e.Get(ctx, st.ID)
			if err != nil {
				t.Error(err)
				return
			}
			if got.Version < last || got.Output == nil || got.SyncStatus == "" {
				t.Errorf("inconsistent read: v%d after v%d, status %q", got.Version, last, got.SyncStatus)
				return
			}
			last = got.Version
			e.MarkSynced(st.ID, got.Version)
		}
	}()

	for i := 1; i <= 20; i++ {
		_, err := e.Update(ctx, st.ID, update(t, models.UpdateBudgetChange, models.BudgetPayload{Budget: 2000000 + float64(i)*10000}))
		assert.NoError(t, err)
	}
	close(done)
	wg.Wait()

	cur, err := e.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(21), cur.Version)
	version, _ := storedVersion(t, store, st.ID)
	assert.Equal(t, int64(21), version)
}

// flakyBackend fails writes while down is set.
type flakyBackend struct {
	*persistence.SessionStore
	down atomic.Bool
}

func (b *flakyBackend) Put(ctx context.Context, rec persistence.Record) error {
	if b.down.Load() {
		return errors.New("kv unavailable")
	}
	return b.SessionStore.Put(ctx, rec)
}

func TestEvictionKeepsUnsavedState(t *testing.T) {
	ctx := context.Background()
	kv := &flakyBackend{SessionStore: persistence.NewSessionStore(time.Hour)}
	store := persistence.NewManager(genconfig.Defaults().Persistence, persistence.Tiers{KV: kv}, nil, persistence.WithRetryUnit(time.Millisecond))
	e, c := newEngine(t, store, WithEviction(time.Minute, time.Hour))
	st, err := e.Generate(ctx, tripInput())
	require.NoError(t, err)

	kv.down.Store(true)
	got, err := e.Update(ctx, st.ID, update(t, models.UpdateBudgetChange, models.BudgetPayload{Budget: 2500000}))
	require.NoError(t, err)
	assert.Equal(t, models.SyncError, got.SyncStatus)
	assert.Equal(t, persistence.StatusFailed, store.Status(st.ID))

	c.Advance(2 * time.Minute)
	assert.Zero(t, e.Evict())
	assert.True(t, e.Cached(st.ID))

	kv.down.Store(false)
	got, err = e.Update(ctx, st.ID, update(t, models.UpdateBudgetChange, models.BudgetPayload{Budget: 2600000}))
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusSaved, store.Status(st.ID))

	c.Advance(2 * time.Minute)
	assert.Equal(t, 1, e.Evict())
	reloaded, err := e.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Version, reloaded.Version)
	assert.Equal(t, 2600000.0, reloaded.Output.Budget.Total)
}

func TestMarkSynced(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, newStore())
	st, err := e.Generate(ctx, tripInput())
	require.NoError(t, err)

	e.MarkSynced(st.ID, st.Version+1)
	got, _ := e.Get(ctx, st.ID)
	assert.Equal(t, models.SyncPending, got.SyncStatus)

	e.MarkSynced(st.ID, st.Version)
	got, _ = e.Get(ctx, st.ID)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
}
