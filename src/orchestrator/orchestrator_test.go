package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/featureflag"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/migration"
)

const cleanLegacy = `[
	{"id":"t1","currencyPair":"EURUSD","entryPrice":1.10,"exitPrice":1.105,"lotSize":1.0,"lotType":"standard","side":"long","status":"closed","tags":"a,b"},
	{"id":"t2","currencyPair":"USDJPY","entryPrice":150.2,"exitPrice":150.0,"lotSize":0.5,"lotType":"mini","side":"short","status":"closed"},
	{"id":"t5","currencyPair":"EURGBP","entryPrice":0.85,"lotSize":1,"side":"short","status":"open","tags":["x","x"]}
]`

// t3 价格非数字，t4 已平仓但没有出场价
const mixedLegacy = `[
	{"id":"t1","currencyPair":"EURUSD","entryPrice":1.10,"exitPrice":1.105,"lotSize":1.0,"side":"long","status":"closed"},
	{"id":"t3","currencyPair":"GBPUSD","entryPrice":"abc","lotSize":1,"side":"long","status":"open"},
	{"id":"t4","currencyPair":"AUDUSD","entryPrice":0.66,"lotSize":2,"side":"long","status":"closed"}
]`

var fixedNow = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

var errInjected = errors.New("injected storage failure")

// faultyStore 对指定前缀的键注入写入或列举失败
type faultyStore struct {
	metadata.Store
	failSet  string
	failList string
}

func (s *faultyStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failSet != "" && strings.HasPrefix(key, s.failSet) {
		return errInjected
	}
	return s.Store.Set(ctx, key, value)
}

func (s *faultyStore) List(ctx context.Context, prefix string) ([]string, error) {
	if s.failList != "" && strings.HasPrefix(prefix, s.failList) {
		return nil, errInjected
	}
	return s.Store.List(ctx, prefix)
}

type fixture struct {
	store    metadata.Store
	flags    *featureflag.Registry
	migrator *migration.Migrator
	orch     *Orchestrator
}

func newFixture(t *testing.T, store metadata.Store, target string) *fixture {
	t.Helper()
	ctx := context.Background()

	flags, err := featureflag.NewRegistry(ctx, store, featureflag.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	return newFixtureWithFlags(t, store, flags, target)
}

func newFixtureWithFlags(t *testing.T, store metadata.Store, flags *featureflag.Registry, target string) *fixture {
	t.Helper()
	opts := migration.DefaultOptions()
	opts.BatchSize = 2
	if target != "" {
		opts.TargetVersion = target
	}
	tick := 0
	opts.Now = func() time.Time {
		tick++
		return fixedNow.Add(time.Duration(tick) * time.Second)
	}
	m, err := migration.NewMigrator(store, opts)
	require.NoError(t, err)

	o, err := New(store, flags, m, Options{Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	return &fixture{store: store, flags: flags, migrator: m, orch: o}
}

func seed(t *testing.T, store metadata.Store, data string) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), migration.KeyLegacy, []byte(data)))
}

func noop(context.Context, *Run) error { return nil }

func TestExecutePlan_UnknownPlanCreatesNoProgress(t *testing.T) {
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")
	seed(t, store, cleanLegacy)

	result, err := f.orch.ExecutePlan(context.Background(), "invalid_plan")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrUnknownPlan)
	assert.Contains(t, err.Error(), "invalid_plan")

	_, err = store.Get(context.Background(), KeyProgress)
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestExecutePlan_DefaultPlanSucceeds(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")
	seed(t, store, cleanLegacy)

	needed, err := f.orch.IsMigrationNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, needed)

	result, err := f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.MigratedCount)
	assert.Equal(t, 0, result.FailedCount)
	require.NotNil(t, result.RollbackData)
	assert.JSONEq(t, cleanLegacy, string(result.RollbackData.Data))

	version, err := f.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	for _, key := range featureflag.SchemaFlags() {
		flag, ok := f.flags.Get(key)
		require.True(t, ok)
		assert.True(t, flag.Enabled, key)
		assert.Equal(t, 100, flag.RolloutPercentage, key)
		assert.True(t, f.flags.IsEnabled(key, featureflag.Context{Identity: "any-user"}), key)
	}

	progress, err := f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, progress.Status)
	assert.Equal(t, PlanEnhancedSchemaV1, progress.PlanID)
	assert.NotEmpty(t, progress.RunID)
	assert.Equal(t, 100, progress.Percentage)
	require.NotNil(t, progress.CompletedAt)
	for _, s := range progress.Steps {
		assert.Equal(t, StepCompleted, s.Status, s.StepID)
	}

	marker, err := migration.NewMarkerManager(store).Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, marker)

	available, err := f.orch.IsRollbackAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, available)

	needed, err = f.orch.IsMigrationNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, needed)
}

func TestExecutePlan_FailedRecordsHaltBeforeVersionUpdate(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")
	seed(t, store, mixedLegacy)

	result, err := f.orch.ExecutePlan(ctx, PlanEnhancedSchemaV1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepFailed)

	var planErr *PlanError
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, StepMigrateRecords, planErr.StepID)

	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.MigratedCount)
	assert.Equal(t, 2, result.FailedCount)

	version, err := f.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migration.NoVersion, version)

	flag, _ := f.flags.Get(featureflag.FlagEnhancedTradeSchema)
	assert.False(t, flag.Enabled)

	progress, err := f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, progress.Status)
	assert.NotEmpty(t, progress.ErrorMessage)
	assert.Equal(t, StepFailed, progress.Step(StepMigrateRecords).Status)
	assert.Equal(t, StepPending, progress.Step(StepUpdateVersion).Status)
	assert.Equal(t, 50, progress.Percentage)
}

func TestExecutePlan_StorageFailureInRequiredStepAborts(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{Store: metadata.NewMemoryStore(), failSet: migration.KeyBackup}
	f := newFixture(t, store, "")
	seed(t, store, cleanLegacy)

	result, err := f.orch.ExecutePlan(ctx, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)

	_, err = store.Get(ctx, migration.KeyMigrated)
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	progress, err := f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, progress.Status)
	assert.Equal(t, StepFailed, progress.Step(StepBackupData).Status)
	assert.Equal(t, StepPending, progress.Step(StepMigrateRecords).Status)
}

func TestExecutePlan_OptionalStepFailureIsWarning(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{Store: metadata.NewMemoryStore(), failList: migration.KeyBackup + "."}
	f := newFixture(t, store, "")
	seed(t, store, cleanLegacy)

	result, err := f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)
	assert.True(t, result.Success)

	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, StepCleanup) {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", result.Warnings)

	progress, err := f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, progress.Status)
	assert.Equal(t, StepFailed, progress.Step(StepCleanup).Status)
}

func TestExecutePlan_RequiredStepAfterFailedOptionalDependency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, metadata.NewMemoryStore(), "")

	require.NoError(t, f.orch.RegisterPlan(&Plan{
		ID: "dependent",
		Steps: []Step{
			{ID: "optional", Order: 1, Run: func(context.Context, *Run) error { return errors.New("boom") }},
			{ID: "needs_optional", Order: 2, Required: true, Dependencies: []string{"optional"}, Run: noop},
		},
	}))

	result, err := f.orch.ExecutePlan(ctx, "dependent")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepFailed)
	assert.False(t, result.Success)

	progress, err := f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepFailed, progress.Step("optional").Status)
	assert.Equal(t, StepSkipped, progress.Step("needs_optional").Status)
}

func TestExecutePlan_Cancellation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, metadata.NewMemoryStore(), "")
	assert.False(t, f.orch.CancelMigration())

	secondRan := false
	require.NoError(t, f.orch.RegisterPlan(&Plan{
		ID: "cancel_me",
		Steps: []Step{
			{ID: "first", Order: 1, Required: true, Run: func(context.Context, *Run) error {
				assert.True(t, f.orch.CancelMigration())
				return nil
			}},
			{ID: "second", Order: 2, Required: true, Run: func(context.Context, *Run) error {
				secondRan = true
				return nil
			}},
		},
	}))

	result, err := f.orch.ExecutePlan(ctx, "cancel_me")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, secondRan)
	assert.False(t, result.Success)
	assert.False(t, f.orch.Running())

	progress, err := f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, progress.Status)
	assert.Equal(t, StepCompleted, progress.Step("first").Status)
	assert.Equal(t, StepPending, progress.Step("second").Status)

	// 取消标记不影响下一次执行
	result, err = f.orch.ExecutePlan(ctx, PlanValidateOnly)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestExecutePlan_RejectsConcurrentRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, metadata.NewMemoryStore(), "")

	var nestedErr error
	require.NoError(t, f.orch.RegisterPlan(&Plan{
		ID: "nested",
		Steps: []Step{
			{ID: "only", Order: 1, Required: true, Run: func(ctx context.Context, _ *Run) error {
				_, nestedErr = f.orch.ExecutePlan(ctx, PlanValidateOnly)
				return nil
			}},
		},
	}))

	_, err := f.orch.ExecutePlan(ctx, "nested")
	require.NoError(t, err)
	assert.ErrorIs(t, nestedErr, ErrMigrationInProgress)
}

func TestExecutePlan_ValidateOnlyWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")
	seed(t, store, mixedLegacy)

	result, err := f.orch.ExecutePlan(ctx, PlanValidateOnly)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.MigratedCount)
	assert.Equal(t, 2, result.FailedCount)

	for _, key := range []string{migration.KeyMigrated, migration.KeyBackup, migration.KeyVersion, migration.KeyRun} {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, metadata.ErrNotFound, key)
	}

	progress, err := f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, progress.Status)
	assert.Equal(t, PlanValidateOnly, progress.PlanID)
}

func TestRollbackMigration_WithoutSnapshot(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")
	seed(t, store, cleanLegacy)

	_, err := f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)

	for _, in := range []*migration.MigrationResult{nil, {}, {RollbackData: &migration.Snapshot{}}} {
		out := f.orch.RollbackMigration(ctx, in)
		assert.False(t, out.Success)
		require.NotEmpty(t, out.Errors)
		assert.Contains(t, out.Errors[0].Message, "no rollback data available")
	}

	version, err := f.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	progress, err := f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, progress.Status)
}

func TestRollbackMigration_RestoresDataAndFlags(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")
	seed(t, store, cleanLegacy)

	result, err := f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)
	require.True(t, result.Success)

	out := f.orch.RollbackMigration(ctx, result)
	require.True(t, out.Success, "errors: %v", out.Errors)
	assert.Equal(t, migration.NoVersion, out.Version)
	assert.Equal(t, 3, out.MigratedCount)

	legacy, err := store.Get(ctx, migration.KeyLegacy)
	require.NoError(t, err)
	assert.JSONEq(t, cleanLegacy, string(legacy))

	_, err = store.Get(ctx, migration.KeyMigrated)
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	_, err = store.Get(ctx, KeyFlagBackup)
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	history, err := f.migrator.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)

	for _, key := range featureflag.SchemaFlags() {
		flag, ok := f.flags.Get(key)
		require.True(t, ok)
		assert.False(t, flag.Enabled, key)
	}

	progress, err := f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, progress.Status)
	assert.True(t, progress.Rollback)
	require.Len(t, progress.Steps, 2)
	assert.Equal(t, StepRestoreFlags, progress.Steps[0].StepID)
	assert.Equal(t, StepRestoreRecords, progress.Steps[1].StepID)

	// 备份保留，可以再次迁移
	available, err := f.orch.IsRollbackAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, available)

	needed, err := f.orch.IsMigrationNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, needed)
}

func TestRollbackFromBackup(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")

	out := f.orch.RollbackFromBackup(ctx)
	assert.False(t, out.Success)
	require.NotEmpty(t, out.Errors)

	seed(t, store, cleanLegacy)
	_, err := f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)

	out = f.orch.RollbackFromBackup(ctx)
	assert.True(t, out.Success)
	assert.Equal(t, migration.NoVersion, out.Version)
}

func TestVersionMonotonicity(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")
	seed(t, store, cleanLegacy)

	_, err := f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)

	again, err := f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.NotEmpty(t, again.Warnings)

	history, err := f.migrator.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)

	next := newFixtureWithFlags(t, store, f.flags, "1.1.0")
	_, err = next.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)

	history, err = next.migrator.History(ctx)
	require.NoError(t, err)
	versions := make([]string, 0, len(history))
	for _, h := range history {
		versions = append(versions, h.Version)
	}
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, versions)

	current, err := next.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, versions[len(versions)-1], current)
}

func assertSchemaFlagsDisabled(t *testing.T, flags *featureflag.Registry) {
	t.Helper()
	for _, key := range featureflag.SchemaFlags() {
		flag, ok := flags.Get(key)
		require.True(t, ok)
		assert.False(t, flag.Enabled, key)
	}
}

func TestExecutePlan_RerunKeepsRollbackIntact(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")
	seed(t, store, cleanLegacy)

	first, err := f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)
	require.True(t, first.Success)
	progress, err := f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	firstRun := progress.RunID

	second, err := f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Nil(t, second.RollbackData)
	require.NotEmpty(t, second.Warnings)
	assert.Contains(t, second.Warnings[0], "already applied")

	// 第二次执行不产生新的运行记录，也不改写备份和开关快照
	progress, err = f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, firstRun, progress.RunID)

	snap, err := f.migrator.Backups().Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, migration.NoVersion, snap.Version)
	assert.JSONEq(t, cleanLegacy, string(snap.Data))

	data, err := store.Get(ctx, KeyFlagBackup)
	require.NoError(t, err)
	var saved []featureflag.Flag
	require.NoError(t, json.Unmarshal(data, &saved))
	for _, flag := range saved {
		if flag.Key == featureflag.FlagEnhancedTradeSchema {
			assert.False(t, flag.Enabled)
		}
	}

	out := f.orch.RollbackMigration(ctx, second)
	assert.False(t, out.Success)
	version, err := f.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	out = f.orch.RollbackFromBackup(ctx)
	require.True(t, out.Success, "errors: %v", out.Errors)
	version, err = f.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migration.NoVersion, version)
	assertSchemaFlagsDisabled(t, f.flags)

	legacy, err := store.Get(ctx, migration.KeyLegacy)
	require.NoError(t, err)
	assert.JSONEq(t, cleanLegacy, string(legacy))
}

func TestRollbackMigration_AfterLaterVersionResetsToNoVersion(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")
	seed(t, store, cleanLegacy)

	_, err := f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)

	next := newFixtureWithFlags(t, store, f.flags, "1.1.0")
	result, err := next.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "1.0.0", result.RollbackData.Version)

	out := next.orch.RollbackMigration(ctx, result)
	require.True(t, out.Success, "errors: %v", out.Errors)
	assert.Equal(t, migration.NoVersion, out.Version)

	version, err := next.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migration.NoVersion, version)
	history, err := next.migrator.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
	_, err = store.Get(ctx, migration.KeyMigrated)
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	// 开关回到首次迁移前的状态
	assertSchemaFlagsDisabled(t, f.flags)
}

// hookStore 在读取指定键时回调
type hookStore struct {
	metadata.Store
	key    string
	onRead func()
}

func (s *hookStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == s.key && s.onRead != nil {
		s.onRead()
	}
	return s.Store.Get(ctx, key)
}

func TestExecutePlan_CancelRightAfterStartIsHonored(t *testing.T) {
	ctx := context.Background()
	store := &hookStore{Store: metadata.NewMemoryStore(), key: migration.KeyRun}
	f := newFixture(t, store, "")
	seed(t, store, cleanLegacy)

	// 运行开始后第一次读取运行标记时请求取消
	cancelled := false
	store.onRead = func() {
		if !cancelled {
			cancelled = f.orch.CancelMigration()
		}
	}

	result, err := f.orch.ExecutePlan(ctx, "")
	require.True(t, cancelled)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, result.Success)

	version, err := f.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migration.NoVersion, version)

	// 已结束的运行不会把取消带到下一次
	store.onRead = nil
	assert.False(t, f.orch.CancelMigration())
	result, err = f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestIsMigrationNeeded(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")

	needed, err := f.orch.IsMigrationNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, needed, "no legacy data")

	seed(t, store, cleanLegacy)
	needed, err = f.orch.IsMigrationNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, needed)

	require.NoError(t, f.flags.DisableFlag(ctx, featureflag.FlagEnhancedMigration))
	needed, err = f.orch.IsMigrationNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, needed, "flag disabled")
}

func TestCheckAndRecover(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")

	recovered, err := f.orch.CheckAndRecover(ctx)
	require.NoError(t, err)
	assert.False(t, recovered)

	// 模拟进程在执行中退出
	stale := NewProgress(PlanEnhancedSchemaV1, "run-1", []Step{{ID: StepValidateEnvironment}}, fixedNow)
	stale.MarkStarted(fixedNow)
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, KeyProgress, data))
	markers := migration.NewMarkerManager(store)
	require.NoError(t, markers.Mark(ctx, migration.NewRunMarker(PlanEnhancedSchemaV1, "run-1", migration.NoVersion, "1.0.0", fixedNow)))

	recovered, err = f.orch.CheckAndRecover(ctx)
	require.NoError(t, err)
	assert.True(t, recovered)

	progress, err := f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, progress.Status)
	assert.Equal(t, "interrupted", progress.ErrorMessage)

	marker, err := markers.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, marker)
}

func TestResetMigrationState(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")
	seed(t, store, cleanLegacy)

	_, err := f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)

	require.NoError(t, f.orch.ResetMigrationState(ctx))

	progress, err := f.orch.GetMigrationProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusNotStarted, progress.Status)

	version, err := f.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)
	_, err = store.Get(ctx, migration.KeyMigrated)
	assert.NoError(t, err)
}

func TestImportLegacy(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")

	n, err := f.orch.ImportLegacy(ctx, []byte(cleanLegacy))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	has, err := f.migrator.HasLegacyData(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	_, err = f.orch.ImportLegacy(ctx, []byte(`{"id":"t1"}`))
	assert.Error(t, err)
	_, err = f.orch.ImportLegacy(ctx, []byte(`[1, 2]`))
	assert.Error(t, err)

	// 失败的导入不覆盖已有数据
	records, err := f.migrator.LoadLegacy(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	f := newFixture(t, store, "")
	seed(t, store, cleanLegacy)

	report, err := f.orch.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, migration.NoVersion, report.CurrentVersion)
	assert.Equal(t, "1.0.0", report.TargetVersion)
	assert.True(t, report.MigrationNeeded)
	assert.False(t, report.RollbackAvailable)
	assert.Equal(t, StatusNotStarted, report.Progress.Status)

	_, err = f.orch.ExecutePlan(ctx, "")
	require.NoError(t, err)

	report, err = f.orch.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", report.CurrentVersion)
	assert.Len(t, report.History, 1)
	assert.False(t, report.MigrationNeeded)
	assert.True(t, report.RollbackAvailable)
	assert.Len(t, report.Backups, 1)
	assert.False(t, report.Running)
}

func TestGetPlan(t *testing.T) {
	f := newFixture(t, metadata.NewMemoryStore(), "")

	p, err := f.orch.GetPlan("")
	require.NoError(t, err)
	assert.Equal(t, PlanEnhancedSchemaV1, p.ID)
	assert.NotEmpty(t, p.RollbackSteps)

	// 返回副本
	p.Steps[0].ID = "changed"
	again, err := f.orch.GetPlan(PlanEnhancedSchemaV1)
	require.NoError(t, err)
	assert.Equal(t, StepValidateEnvironment, again.Steps[0].ID)

	assert.Len(t, f.orch.Plans(), 2)

	err = f.orch.RegisterPlan(&Plan{ID: PlanValidateOnly, Steps: []Step{{ID: "a", Order: 1, Run: noop}}})
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestValidatePlan(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
		ok    bool
	}{
		{
			name: "valid",
			steps: []Step{
				{ID: "a", Order: 1, Run: noop},
				{ID: "b", Order: 5, Dependencies: []string{"a"}, Run: noop},
			},
			ok: true,
		},
		{
			name: "forward dependency",
			steps: []Step{
				{ID: "a", Order: 1, Dependencies: []string{"b"}, Run: noop},
				{ID: "b", Order: 2, Run: noop},
			},
		},
		{
			name:  "self dependency",
			steps: []Step{{ID: "a", Order: 1, Dependencies: []string{"a"}, Run: noop}},
		},
		{
			name:  "unknown dependency",
			steps: []Step{{ID: "a", Order: 1, Dependencies: []string{"missing"}, Run: noop}},
		},
		{
			name: "duplicate order",
			steps: []Step{
				{ID: "a", Order: 1, Run: noop},
				{ID: "b", Order: 1, Run: noop},
			},
		},
		{
			name: "decreasing order",
			steps: []Step{
				{ID: "a", Order: 2, Run: noop},
				{ID: "b", Order: 1, Run: noop},
			},
		},
		{
			name: "duplicate id",
			steps: []Step{
				{ID: "a", Order: 1, Run: noop},
				{ID: "a", Order: 2, Run: noop},
			},
		},
		{
			name:  "missing implementation",
			steps: []Step{{ID: "a", Order: 1}},
		},
		{
			name: "no steps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlan(&Plan{ID: "p", Steps: tt.steps})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}
}
