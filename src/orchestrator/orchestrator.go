package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/featureflag"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/metrics"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/migration"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/sentry"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/trade"
)

// DefaultIdentity 评估迁移开关时使用的身份
const DefaultIdentity = "system"

// Options 编排器选项
type Options struct {
	// DefaultPlan ExecutePlan 传入空 ID 时使用的计划
	DefaultPlan string
	// Identity 评估 enhanced_migration 开关的身份
	Identity string
	Now      func() time.Time
	Logger   *logrus.Entry
}

// Orchestrator 迁移编排器
// 同一时间只允许一次执行或回滚；不同进程之间不做互斥
type Orchestrator struct {
	store    metadata.Store
	flags    *featureflag.Registry
	migrator *migration.Migrator
	markers  *migration.MarkerManager

	mu        sync.RWMutex
	plans     map[string]*Plan
	planOrder []string

	opts   Options
	logger *logrus.Entry
	now    func() time.Time

	// runMu 保证取消请求不会落到已结束的运行上
	runMu     sync.Mutex
	running   atomic.Bool
	cancelled atomic.Bool
}

// New 创建编排器并注册内置计划
func New(store metadata.Store, flags *featureflag.Registry, migrator *migration.Migrator, opts Options) (*Orchestrator, error) {
	if store == nil || flags == nil || migrator == nil {
		return nil, fmt.Errorf("store, flags and migrator are required")
	}
	if opts.DefaultPlan == "" {
		opts.DefaultPlan = PlanEnhancedSchemaV1
	}
	if opts.Identity == "" {
		opts.Identity = DefaultIdentity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "orchestrator")
	}

	o := &Orchestrator{
		store:    store,
		flags:    flags,
		migrator: migrator,
		markers:  migration.NewMarkerManager(store),
		plans:    make(map[string]*Plan),
		opts:     opts,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	for _, p := range builtinPlans(o) {
		if err := o.RegisterPlan(p); err != nil {
			return nil, err
		}
	}
	if _, ok := o.plans[opts.DefaultPlan]; !ok {
		return nil, &PlanError{PlanID: opts.DefaultPlan, Err: ErrUnknownPlan}
	}
	return o, nil
}

// RegisterPlan 注册计划，ID 已存在或结构不合法时返回错误
func (o *Orchestrator) RegisterPlan(p *Plan) error {
	if err := ValidatePlan(p); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.plans[p.ID]; exists {
		return &PlanError{PlanID: p.ID, Err: fmt.Errorf("%w: plan already registered", ErrInvalidPlan)}
	}
	o.plans[p.ID] = p.clone()
	o.planOrder = append(o.planOrder, p.ID)
	return nil
}

// Plans 已注册的计划（按注册顺序）
func (o *Orchestrator) Plans() []*Plan {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Plan, 0, len(o.planOrder))
	for _, id := range o.planOrder {
		out = append(out, o.plans[id].clone())
	}
	return out
}

// GetPlan 按 ID 获取计划，空 ID 返回默认计划
func (o *Orchestrator) GetPlan(planID string) (*Plan, error) {
	if planID == "" {
		planID = o.opts.DefaultPlan
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.plans[planID]
	if !ok {
		return nil, &PlanError{PlanID: planID, Err: ErrUnknownPlan}
	}
	return p.clone(), nil
}

// IsMigrationNeeded 开关打开、目标版本尚未应用并且存在旧版数据时返回 true
func (o *Orchestrator) IsMigrationNeeded(ctx context.Context) (bool, error) {
	if !o.flags.IsEnabled(featureflag.FlagEnhancedMigration, featureflag.Context{Identity: o.opts.Identity}) {
		return false, nil
	}
	applied, err := o.migrator.Versions().IsApplied(ctx, o.migrator.Options().TargetVersion)
	if err != nil {
		return false, err
	}
	if applied {
		return false, nil
	}
	return o.migrator.HasLegacyData(ctx)
}

// ExecutePlan 执行计划
// 未知计划立即返回错误且不创建进度；其余情况总是返回结果，
// 必需步骤失败或被取消时同时返回 *PlanError
func (o *Orchestrator) ExecutePlan(ctx context.Context, planID string) (*migration.MigrationResult, error) {
	plan, err := o.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, &PlanError{PlanID: plan.ID, Err: ErrMigrationInProgress}
	}
	defer o.release()

	if _, err := o.CheckAndRecover(ctx); err != nil {
		o.logger.WithError(err).Warn("failed to check for interrupted runs")
	}

	start := o.now()
	target := o.migrator.Options().TargetVersion
	if !plan.DryRun {
		// 目标版本已应用时不再执行，避免覆盖备份与开关快照
		applied, err := o.migrator.Versions().IsApplied(ctx, target)
		if err != nil {
			result := migration.NewResult(target, start)
			result.AddError("", "", err.Error())
			result.FinishedAt = o.now()
			return result, &PlanError{PlanID: plan.ID, Err: err}
		}
		if applied {
			result := migration.NewResult(target, start)
			result.Success = true
			result.AddWarning("version %s already applied, plan %s not executed", target, plan.ID)
			result.FinishedAt = o.now()
			o.logger.WithFields(logrus.Fields{
				"plan_id":        plan.ID,
				"target_version": target,
			}).Info("target version already applied, nothing to do")
			return result, nil
		}
	}

	runID := newRunID()
	logger := o.logger.WithFields(logrus.Fields{
		"plan_id": plan.ID,
		"run_id":  runID,
	})
	run := &Run{
		ID:     runID,
		Plan:   plan,
		Result: migration.NewResult(target, start),
		Logger: logger,
	}

	progress := NewProgress(plan.ID, runID, plan.Steps, start)
	progress.MarkStarted(start)
	o.persistProgress(ctx, progress)

	if !plan.DryRun {
		from, err := o.migrator.CurrentVersion(ctx)
		if err != nil {
			from = migration.NoVersion
		}
		if err := o.markers.Mark(ctx, migration.NewRunMarker(plan.ID, runID, from, target, start)); err != nil {
			logger.WithError(err).Warn("failed to write run marker")
		}
		defer func() {
			if err := o.markers.Clear(ctx); err != nil {
				logger.WithError(err).Warn("failed to clear run marker")
			}
		}()
	}

	logger.WithField("target_version", target).Info("migration plan started")
	execErr := o.executeSteps(ctx, run, plan.Steps, progress, true)

	result := run.Result
	result.FinishedAt = o.now()
	if execErr != nil {
		result.Success = false
		result.AddError("", "", execErr.Error())
		progress.MarkFailed(execErr.Error(), result.FinishedAt)
		metrics.PlanRuns.WithLabelValues(plan.ID, string(StatusFailed)).Inc()
		sentry.CaptureExceptionWithTags(ctx, execErr, map[string]string{"plan_id": plan.ID, "run_id": runID})
		logger.WithError(execErr).Error("migration plan failed")
	} else {
		result.Success = !result.HasErrors()
		progress.MarkCompleted(result.FinishedAt)
		metrics.PlanRuns.WithLabelValues(plan.ID, string(StatusCompleted)).Inc()
		logger.WithFields(logrus.Fields{
			"migrated": result.MigratedCount,
			"failed":   result.FailedCount,
			"warnings": len(result.Warnings),
			"success":  result.Success,
		}).Info("migration plan completed")
	}
	o.persistProgress(ctx, progress)
	return result, execErr
}

// CancelMigration 请求取消正在执行的计划，在下一个步骤边界生效
// 没有正在执行的计划时返回 false
func (o *Orchestrator) CancelMigration() bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if !o.running.Load() {
		return false
	}
	o.cancelled.Store(true)
	o.logger.Warn("migration cancellation requested")
	return true
}

// release 结束一次运行；取消请求只对当前运行有效
func (o *Orchestrator) release() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	o.cancelled.Store(false)
	o.running.Store(false)
}

// Running 是否有计划正在执行
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// RollbackMigration 使用结果携带的快照逆序执行回滚步骤
// 没有快照时返回失败结果，不修改任何存储
func (o *Orchestrator) RollbackMigration(ctx context.Context, result *migration.MigrationResult) *migration.MigrationResult {
	if result == nil || result.RollbackData.Empty() {
		return o.migrator.Rollback(ctx, nil)
	}
	if !o.running.CompareAndSwap(false, true) {
		failed := migration.NewResult(migration.NoVersion, o.now())
		failed.AddError("", "", ErrMigrationInProgress.Error())
		failed.FinishedAt = o.now()
		return failed
	}
	defer o.release()

	plan := o.rollbackPlan(ctx)
	runID := newRunID()
	start := o.now()
	logger := o.logger.WithFields(logrus.Fields{
		"plan_id":  plan.ID,
		"run_id":   runID,
		"rollback": true,
	})
	run := &Run{
		ID:       runID,
		Plan:     plan,
		Result:   migration.NewResult(migration.NoVersion, start),
		Snapshot: result.RollbackData,
		Logger:   logger,
	}

	steps := reverseSteps(plan.RollbackSteps)
	progress := NewProgress(plan.ID, runID, steps, start)
	progress.Rollback = true
	progress.MarkStarted(start)
	o.persistProgress(ctx, progress)

	logger.WithField("snapshot_version", result.RollbackData.Version).Info("rollback started")
	err := o.executeSteps(ctx, run, steps, progress, false)

	out := run.Result
	out.FinishedAt = o.now()
	if err != nil {
		out.Success = false
		out.AddError("", "", (&migration.RollbackError{Reason: "rollback step failed", Err: err}).Error())
		progress.MarkFailed(err.Error(), out.FinishedAt)
		metrics.PlanRuns.WithLabelValues(plan.ID, "rollback_failed").Inc()
		sentry.CaptureExceptionWithTags(ctx, err, map[string]string{"plan_id": plan.ID, "run_id": runID, "rollback": "true"})
		logger.WithError(err).Error("rollback failed")
	} else {
		out.Success = true
		progress.MarkRolledBack(out.FinishedAt)
		metrics.PlanRuns.WithLabelValues(plan.ID, string(StatusRolledBack)).Inc()
		logger.WithField("version", out.Version).Info("rollback completed")
	}
	o.persistProgress(ctx, progress)
	return out
}

// RollbackFromBackup 使用存储中最新的快照回滚
func (o *Orchestrator) RollbackFromBackup(ctx context.Context) *migration.MigrationResult {
	snap, err := o.migrator.Backups().Latest(ctx)
	if err != nil {
		failed := migration.NewResult(migration.NoVersion, o.now())
		failed.AddError("", "", (&migration.RollbackError{Reason: "no rollback data available", Err: err}).Error())
		failed.FinishedAt = o.now()
		return failed
	}
	return o.RollbackMigration(ctx, &migration.MigrationResult{RollbackData: snap})
}

// rollbackPlan 最近一次执行的计划若带回滚步骤则使用它，否则使用默认计划
func (o *Orchestrator) rollbackPlan(ctx context.Context) *Plan {
	if progress, err := o.GetMigrationProgress(ctx); err == nil && progress.PlanID != "" {
		if p, err := o.GetPlan(progress.PlanID); err == nil && len(p.RollbackSteps) > 0 {
			return p
		}
	}
	p, _ := o.GetPlan(o.opts.DefaultPlan)
	return p
}

// GetMigrationProgress 读取持久化的进度，不存在时返回 not_started
func (o *Orchestrator) GetMigrationProgress(ctx context.Context) (*Progress, error) {
	data, err := o.store.Get(ctx, KeyProgress)
	if errors.Is(err, metadata.ErrNotFound) {
		return &Progress{Status: StatusNotStarted, Steps: []StepResult{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var progress Progress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyProgress, err)
	}
	return &progress, nil
}

// IsRollbackAvailable 存储中是否存在备份快照
func (o *Orchestrator) IsRollbackAvailable(ctx context.Context) (bool, error) {
	return o.migrator.Backups().Exists(ctx)
}

// ResetMigrationState 只清除持久化的进度，不动版本历史与数据
func (o *Orchestrator) ResetMigrationState(ctx context.Context) error {
	if o.running.Load() {
		return ErrMigrationInProgress
	}
	if err := o.store.Remove(ctx, KeyProgress); err != nil {
		return err
	}
	o.logger.Info("migration progress reset")
	return nil
}

// ImportLegacy 用一组旧版记录（JSON 数组）覆盖 records.legacy，返回记录数
func (o *Orchestrator) ImportLegacy(ctx context.Context, data []byte) (int, error) {
	if o.running.Load() {
		return 0, ErrMigrationInProgress
	}
	records, err := trade.ParseLegacyCollection(data)
	if err != nil {
		return 0, fmt.Errorf("import legacy records: %w", err)
	}
	if err := o.store.Set(ctx, migration.KeyLegacy, data); err != nil {
		return 0, err
	}
	o.logger.WithField("records", len(records)).Info("legacy records imported")
	return len(records), nil
}

// CheckAndRecover 检查上次运行是否被中断
// 存在运行标记时把仍处于 in_progress 的进度标记为失败并删除标记
func (o *Orchestrator) CheckAndRecover(ctx context.Context) (bool, error) {
	marker, err := o.markers.Get(ctx)
	if err != nil {
		return false, err
	}
	if marker == nil {
		return false, nil
	}

	logger := o.logger.WithFields(logrus.Fields{
		"plan_id":    marker.PlanID,
		"run_id":     marker.RunID,
		"pid":        marker.PID,
		"start_time": marker.StartTime,
	})

	progress, err := o.GetMigrationProgress(ctx)
	switch {
	case err != nil:
		logger.WithError(err).Warn("progress unreadable while recovering")
	case progress.Status == StatusInProgress:
		progress.MarkFailed("interrupted", o.now())
		o.persistProgress(ctx, progress)
	}

	if err := o.markers.Clear(ctx); err != nil {
		return true, err
	}
	logger.Warn("found interrupted migration run, marked as failed")
	return true, nil
}

// Status 汇总当前迁移状态
func (o *Orchestrator) Status(ctx context.Context) (*StatusReport, error) {
	current, err := o.migrator.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	history, err := o.migrator.History(ctx)
	if err != nil {
		return nil, err
	}
	progress, err := o.GetMigrationProgress(ctx)
	if err != nil {
		return nil, err
	}
	needed, err := o.IsMigrationNeeded(ctx)
	if err != nil {
		return nil, err
	}
	available, err := o.IsRollbackAvailable(ctx)
	if err != nil {
		return nil, err
	}
	backups, err := o.migrator.Backups().ListBackups(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		CurrentVersion:    current,
		TargetVersion:     o.migrator.Options().TargetVersion,
		History:           history,
		Progress:          progress,
		MigrationNeeded:   needed,
		RollbackAvailable: available,
		Backups:           backups,
		Running:           o.running.Load(),
	}, nil
}

// persistProgress 进度写入失败只记录日志
func (o *Orchestrator) persistProgress(ctx context.Context, progress *Progress) {
	data, err := json.Marshal(progress)
	if err == nil {
		err = o.store.Set(ctx, KeyProgress, data)
	}
	if err != nil {
		o.logger.WithError(err).WithField("run_id", progress.RunID).Warn("failed to persist migration progress")
	}
}

func newRunID() string {
	return uuid.Must(uuid.NewV4()).String()
}
