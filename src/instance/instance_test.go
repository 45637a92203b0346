package instance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/configs"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/featureflag"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/orchestrator"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/migration"
)

func TestNew_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := configs.NewConfig()
	cfg.AppDataPath = t.TempDir()

	inst, err := New(ctx, cfg)
	require.NoError(t, err)

	_, ok := inst.Flags.Get(featureflag.FlagEnhancedMigration)
	assert.True(t, ok)
	assert.Len(t, inst.InstallID, 32)

	_, err = inst.Orchestrator.ImportLegacy(ctx, []byte(`[{"id":"t1","currencyPair":"EURUSD","entryPrice":1.1,"lotSize":1,"side":"long","status":"open"}]`))
	require.NoError(t, err)
	result, err := inst.Orchestrator.ExecutePlan(ctx, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	installID := inst.InstallID
	require.NoError(t, inst.Close())

	// 重新打开后状态保留
	again, err := New(ctx, cfg)
	require.NoError(t, err)
	defer again.Close()

	version, err := again.Migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)
	assert.Equal(t, installID, again.InstallID)

	progress, err := again.Orchestrator.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCompleted, progress.Status)
	assert.True(t, again.Flags.IsEnabled(featureflag.FlagReviewWorkflow, featureflag.Context{Identity: "u"}))
}

func TestNew_RecoversInterruptedRun(t *testing.T) {
	ctx := context.Background()
	cfg := configs.NewConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "journal.db")

	store, err := metadata.NewSQLiteStore(cfg.Store.Path)
	require.NoError(t, err)
	require.NoError(t, migration.NewMarkerManager(store).Mark(ctx,
		migration.NewRunMarker(orchestrator.PlanEnhancedSchemaV1, "run-x", migration.NoVersion, "1.0.0", cfgNow())))
	require.NoError(t, store.Close())

	inst, err := New(ctx, cfg)
	require.NoError(t, err)
	defer inst.Close()

	marker, err := migration.NewMarkerManager(inst.Store).Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, marker)
}

func cfgNow() time.Time {
	return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := configs.NewConfig()
	cfg.Migration.BatchSize = 0
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)

	cfg = configs.NewConfig()
	cfg.Store.Backend = metadata.BackendMemory
	cfg.Migration.DefaultPlan = "nope"
	_, err = New(context.Background(), cfg)
	assert.ErrorIs(t, err, orchestrator.ErrUnknownPlan)
}
