package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// fakeBackend is an in-memory tier whose writes can be made to fail.
type fakeBackend struct {
	name     string
	mu       sync.Mutex
	data     map[string]Record
	failPuts int
	broken   bool
	puts     int
}

func newFake(name string) *fakeBackend {
	return &fakeBackend{name: name, data: map[string]Record{}}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Put(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.broken || f.puts <= f.failPuts {
		return errors.New(f.name + " unavailable")
	}
	if prev, ok := f.data[rec.Key]; ok && prev.Version > rec.Version {
		return staleWrite(rec, prev.Version)
	}
	f.data[rec.Key] = rec.clone()
	return nil
}

func (f *fakeBackend) Get(_ context.Context, key string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return nil, errors.New(f.name + " unavailable")
	}
	rec, ok := f.data[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	rec = rec.clone()
	return &rec, nil
}

func (f *fakeBackend) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeBackend) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

func testState(id string, version int64) *models.ItineraryState {
	return &models.ItineraryState{
		ID:      id,
		UserID:  "user-1",
		Version: version,
		Output: &models.GeneratorOutput{
			Success:     true,
			ItineraryID: id,
			Days: []models.DayPlan{{
				Day:  1,
				Date: time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC),
				City: "Batu",
				Destinations: []models.ScheduledDestination{{
					Destination:   models.Destination{ID: "batu-selecta", Name: "Taman Rekreasi Selecta", Duration: 120, Rating: 4.6},
					ScheduledTime: models.MustTimeOfDay("08:00"),
				}},
				TotalCost:    50000,
				MLConfidence: 0.7,
			}},
			TotalCost: 50000,
		},
		SyncStatus:       models.SyncPending,
		ValidationStatus: models.ValidationValid,
	}
}

func persistenceConfig(mode models.StorageType) models.PersistenceConfig {
	return models.PersistenceConfig{StorageType: mode, BackupEnabled: true, RetryAttempts: 3, SyncIntervalMs: 5000}
}

func newTestManager(cfg models.PersistenceConfig, tiers Tiers) *Manager {
	return NewManager(cfg, tiers, nil, WithRetryUnit(time.Millisecond))
}

func TestSaveRetriesPrimary(t *testing.T) {
	structured, kv, session := newFake("structured"), newFake("kv"), newFake("session")
	structured.failPuts = 2
	m := newTestManager(persistenceConfig(models.StorageDatabase), Tiers{Structured: structured, KV: kv, Session: session})

	res, err := m.Save(context.Background(), testState("itin-1", 1))
	require.NoError(t, err)
	assert.Equal(t, "structured", res.Primary)
	assert.Equal(t, 3, res.Attempts)
	assert.Empty(t, res.Secondary)
	assert.True(t, res.Backup)
	assert.Equal(t, StatusSaved, m.Status("itin-1"))
	assert.False(t, kv.has("itin-1"))
}

func TestSaveTierOrder(t *testing.T) {
	tests := []struct {
		name          string
		mode          models.StorageType
		broken        string
		wantPrimary   string
		wantSecondary string
	}{
		{name: "database", mode: models.StorageDatabase, wantPrimary: "structured"},
		{name: "local storage", mode: models.StorageLocalStorage, wantPrimary: "kv"},
		{name: "hybrid", mode: models.StorageHybrid, wantPrimary: "structured", wantSecondary: "kv"},
		{name: "database falls through", mode: models.StorageDatabase, broken: "structured", wantPrimary: "kv"},
		{name: "local storage falls through", mode: models.StorageLocalStorage, broken: "kv", wantPrimary: "structured"},
		{name: "hybrid without secondary", mode: models.StorageHybrid, broken: "kv", wantPrimary: "structured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakes := map[string]*fakeBackend{"structured": newFake("structured"), "kv": newFake("kv")}
			if tt.broken != "" {
				fakes[tt.broken].broken = true
			}
			m := newTestManager(persistenceConfig(tt.mode), Tiers{Structured: fakes["structured"], KV: fakes["kv"], Session: newFake("session")})

			res, err := m.Save(context.Background(), testState("itin-1", 1))
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrimary, res.Primary)
			assert.Equal(t, tt.wantSecondary, res.Secondary)
		})
	}
}

func TestSaveExhausted(t *testing.T) {
	structured, kv, session := newFake("structured"), newFake("kv"), newFake("session")
	structured.broken, kv.broken, session.broken = true, true, true
	m := newTestManager(persistenceConfig(models.StorageHybrid), Tiers{Structured: structured, KV: kv, Session: session})

	_, err := m.Save(context.Background(), testState("itin-1", 1))
	assert.ErrorIs(t, err, models.ErrStorageExhausted)
	assert.Equal(t, StatusFailed, m.Status("itin-1"))
}

func TestSaveRefusesOlderVersion(t *testing.T) {
	structured, kv, session := newFake("structured"), newFake("kv"), newFake("session")
	m := newTestManager(persistenceConfig(models.StorageHybrid), Tiers{Structured: structured, KV: kv, Session: session})
	ctx := context.Background()

	_, err := m.Save(ctx, testState("itin-1", 3))
	require.NoError(t, err)
	structured.mu.Lock()
	before := structured.puts
	structured.mu.Unlock()

	_, err = m.Save(ctx, testState("itin-1", 1))
	require.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, StatusUnsaved, m.Status("itin-1"))

	structured.mu.Lock()
	assert.Equal(t, before+1, structured.puts, "conflicts are not retried")
	structured.mu.Unlock()

	got, err := m.Load(ctx, "itin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
}

func TestSaveBackupOnly(t *testing.T) {
	structured, session := newFake("structured"), newFake("session")
	structured.broken = true
	cfg := persistenceConfig(models.StorageDatabase)
	cfg.BackupEnabled = false
	m := newTestManager(cfg, Tiers{Structured: structured, Session: session})

	res, err := m.Save(context.Background(), testState("itin-1", 1))
	require.NoError(t, err)
	assert.Empty(t, res.Primary)
	assert.True(t, res.Backup)
	assert.True(t, session.has("itin-1"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	modes := []models.StorageType{models.StorageDatabase, models.StorageLocalStorage, models.StorageHybrid}
	for _, mode := range modes {
		for _, failPrimary := range []bool{false, true} {
			name := string(mode)
			if failPrimary {
				name += " primary down"
			}
			t.Run(name, func(t *testing.T) {
				structured, kv, session := newFake("structured"), newFake("kv"), newFake("session")
				if failPrimary {
					if mode == models.StorageLocalStorage {
						kv.broken = true
					} else {
						structured.broken = true
					}
				}
				m := newTestManager(persistenceConfig(mode), Tiers{Structured: structured, KV: kv, Session: session})
				st := testState("itin-1", 3)

				_, err := m.Save(context.Background(), st)
				require.NoError(t, err)
				got, err := m.Load(context.Background(), "itin-1")
				require.NoError(t, err)
				assert.Equal(t, st.Version, got.Version)
				assert.Equal(t, st.Output, got.Output)
			})
		}
	}
}

func TestLoadPrefersHighestVersion(t *testing.T) {
	ctx := context.Background()
	structured, kv, session := newFake("structured"), newFake("kv"), newFake("session")
	m := newTestManager(persistenceConfig(models.StorageHybrid), Tiers{Structured: structured, KV: kv, Session: session})

	old, err := m.encode(testState("itin-1", 2))
	require.NoError(t, err)
	newer, err := m.encode(testState("itin-1", 5))
	require.NoError(t, err)
	empty, err := m.encode(&models.ItineraryState{ID: "itin-1", Version: 9})
	require.NoError(t, err)
	require.NoError(t, structured.Put(ctx, old))
	require.NoError(t, kv.Put(ctx, empty))
	require.NoError(t, session.Put(ctx, newer))

	got, err := m.Load(ctx, "itin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Version)

	_, err = m.Load(ctx, "unknown")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteRemovesEveryTier(t *testing.T) {
	ctx := context.Background()
	structured, kv, session := newFake("structured"), newFake("kv"), newFake("session")
	m := newTestManager(persistenceConfig(models.StorageHybrid), Tiers{Structured: structured, KV: kv, Session: session})

	_, err := m.Save(ctx, testState("itin-1", 1))
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "itin-1"))

	for _, f := range []*fakeBackend{structured, kv, session} {
		assert.False(t, f.has("itin-1"), f.name)
	}
	assert.Equal(t, StatusUnsaved, m.Status("itin-1"))
}

func TestListByOwner(t *testing.T) {
	ctx := context.Background()
	store, err := NewGormStore(newSQLite(t), nil)
	require.NoError(t, err)
	m := newTestManager(persistenceConfig(models.StorageDatabase), Tiers{Structured: store, Session: NewSessionStore(time.Minute)})

	for _, id := range []string{"a", "b"} {
		_, err := m.Save(ctx, testState(id, 1))
		require.NoError(t, err)
	}
	states, err := m.ListByOwner(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, states, 2)

	noIndex := newTestManager(persistenceConfig(models.StorageLocalStorage), Tiers{KV: newFake("kv")})
	_, err = noIndex.ListByOwner(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		broken []string
		want   HealthState
	}{
		{name: "all tiers up", want: Healthy},
		{name: "one tier down", broken: []string{"kv"}, want: Degraded},
		{name: "all tiers down", broken: []string{"structured", "kv", "session"}, want: Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakes := map[string]*fakeBackend{"structured": newFake("structured"), "kv": newFake("kv"), "session": newFake("session")}
			for _, b := range tt.broken {
				fakes[b].broken = true
			}
			m := newTestManager(persistenceConfig(models.StorageHybrid), Tiers{Structured: fakes["structured"], KV: fakes["kv"], Session: fakes["session"]})

			report := m.Health(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Tiers, 3)
			for name, f := range fakes {
				assert.Empty(t, f.data, "health-check key left behind in %s", name)
			}
		})
	}
}

func TestHealthWithNoTiers(t *testing.T) {
	m := newTestManager(persistenceConfig(models.StorageDatabase), Tiers{})
	assert.Equal(t, Unhealthy, m.Health(context.Background()).Status)
}
