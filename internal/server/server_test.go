package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/itinerary"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/persistence"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/syncmgr"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
	"github.com/FACorreiaa/loci-planner/internal/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Storage: config.StorageConfig{
			Driver:        "sqlite",
			SQLitePath:    filepath.Join(dir, "planner.db"),
			LocalDriver:   "file",
			LocalFilePath: filepath.Join(dir, "planner-local.cache"),
		},
		SyncChannel:  "local",
		SyncStrategy: "server-wins",
		ServerPort:   "0",
	}
}

func TestProvideGeneratorConfigDefaults(t *testing.T) {
	cfg, err := ProvideGeneratorConfig(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, models.StorageHybrid, cfg.Persistence.StorageType)
	assert.Positive(t, cfg.Performance.CacheTTLSeconds)
}

func TestProvideGeneratorConfigMissingFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.GeneratorConfigFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := ProvideGeneratorConfig(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestProvideTiersEmbedded(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	tiers, err := ProvideTiers(lc, testConfig(t), nil, zap.NewNop())
	require.NoError(t, err)
	lc.RequireStart()
	defer lc.RequireStop()

	assert.Equal(t, "sqlite", tiers.Structured.Name())
	assert.Equal(t, "file", tiers.KV.Name())
	assert.Equal(t, "session", tiers.Session.Name())
}

func TestCoreModuleGeneratesAndPersists(t *testing.T) {
	var (
		engine *itinerary.Engine
		store  *persistence.Manager
	)
	app := fxtest.New(t,
		fx.Supply(testConfig(t), zap.NewNop()),
		CoreModule,
		fx.Populate(&engine, &store),
	)
	app.RequireStart()
	defer app.RequireStop()

	ctx := context.Background()
	st, err := engine.Generate(ctx, &models.GeneratorInput{
		UserID: "user-1",
		Preferences: models.Preferences{
			Budget:            1500000,
			Days:              2,
			Travelers:         1,
			AccommodationType: models.AccommodationBudget,
			Cities:            []string{"Malang"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, st.Output.Days, 2)

	loaded, err := store.Load(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Version, loaded.Version)

	report := engine.Health(ctx)
	assert.Equal(t, persistence.Healthy, report.Status)

	owned, err := engine.ListByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, st.ID, owned[0].ID)
}

func TestProvideSyncManagerStrategy(t *testing.T) {
	genCfg, err := ProvideGeneratorConfig(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	store := persistence.NewManager(genCfg.Persistence, persistence.Tiers{KV: persistence.NewSessionStore(time.Hour)}, nil)

	for _, strategy := range []syncmgr.Strategy{syncmgr.StrategyServerWins, syncmgr.StrategyClientWins, syncmgr.StrategyManual} {
		cfg := testConfig(t)
		cfg.SyncStrategy = string(strategy)
		m, err := ProvideSyncManager(cfg, genCfg, syncmgr.NewLocalChannel(0), store, zap.NewNop())
		require.NoError(t, err, strategy)
		assert.Equal(t, strategy, m.Strategy())
	}

	cfg := testConfig(t)
	cfg.SyncStrategy = "last-write-wins"
	_, err = ProvideSyncManager(cfg, genCfg, syncmgr.NewLocalChannel(0), store, zap.NewNop())
	require.ErrorIs(t, err, models.ErrBadRequest)
}

func TestCoreModuleUsesConfiguredStrategy(t *testing.T) {
	cfg := testConfig(t)
	cfg.SyncStrategy = "manual"
	var m *syncmgr.Manager
	app := fxtest.New(t,
		fx.Supply(cfg, zap.NewNop()),
		CoreModule,
		fx.Populate(&m),
	)
	app.RequireStart()
	defer app.RequireStop()

	assert.Equal(t, syncmgr.StrategyManual, m.Strategy())
}

func TestSetupRouter(t *testing.T) {
	r := SetupRouter(itinerary.NewHandler(nil, nil), zap.NewNop())

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.want, w.Code, tt.path)
		assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	}
}
