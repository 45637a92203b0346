package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/trade"
)

// Migrator 交易记录迁移器
// 所有存储写入严格串行：上一批写入完成后才开始下一批
type Migrator struct {
	store         metadata.Store
	opts          Options
	backupManager *BackupManager
	versions      *VersionManager
	logger        *logrus.Entry
	now           func() time.Time
}

// NewMigrator 创建迁移器
func NewMigrator(store metadata.Store, opts Options) (*Migrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.TargetVersion == "" {
		opts.TargetVersion = DefaultTargetVersion
	}
	if _, err := ParseVersion(opts.TargetVersion); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "migrator")
	}

	return &Migrator{
		store:         store,
		opts:          opts,
		backupManager: NewBackupManager(store, opts.Logger.WithField("component", "backup")),
		versions:      NewVersionManager(store),
		logger:        opts.Logger,
		now:           opts.Now,
	}, nil
}

// Options 迁移器选项
func (m *Migrator) Options() Options {
	return m.opts
}

// Backups 备份管理器
func (m *Migrator) Backups() *BackupManager {
	return m.backupManager
}

// Versions 版本管理器
func (m *Migrator) Versions() *VersionManager {
	return m.versions
}

// CurrentVersion 当前版本
func (m *Migrator) CurrentVersion(ctx context.Context) (string, error) {
	return m.versions.Current(ctx)
}

// History 版本历史
func (m *Migrator) History(ctx context.Context) ([]MigrationVersion, error) {
	return m.versions.History(ctx)
}

// MigrateOne 以当前默认值转换单条记录
func (m *Migrator) MigrateOne(legacy trade.LegacyRecord) trade.EnhancedRecord {
	return trade.MigrateOne(legacy, trade.Defaults{
		AccountID: m.opts.DefaultAccountID,
		Now:       m.now(),
	})
}

// LoadLegacy 读取旧版记录集合，不存在时返回空集合
func (m *Migrator) LoadLegacy(ctx context.Context) ([]trade.LegacyRecord, error) {
	data, err := m.store.Get(ctx, KeyLegacy)
	if errors.Is(err, metadata.ErrNotFound) {
		return []trade.LegacyRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	records, err := trade.ParseLegacyCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyLegacy, err)
	}
	return records, nil
}

// LoadMigrated 读取已迁移的记录
func (m *Migrator) LoadMigrated(ctx context.Context) ([]trade.EnhancedRecord, error) {
	data, err := m.store.Get(ctx, KeyMigrated)
	if errors.Is(err, metadata.ErrNotFound) {
		return []trade.EnhancedRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	var records []trade.EnhancedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyMigrated, err)
	}
	return records, nil
}

// HasLegacyData 是否存在待迁移的旧版记录
func (m *Migrator) HasLegacyData(ctx context.Context) (bool, error) {
	records, err := m.LoadLegacy(ctx)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// Backup 保存旧版记录的完整快照
func (m *Migrator) Backup(ctx context.Context, records []trade.LegacyRecord) (*Snapshot, error) {
	version, err := m.versions.Current(ctx)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []trade.LegacyRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode legacy records: %w", err)
	}

	snap := &Snapshot{
		Timestamp: m.now(),
		Version:   version,
		Data:      data,
	}
	key, err := m.backupManager.CreateBackup(ctx, snap)
	if err != nil {
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{
		"backup_key": key,
		"records":    len(records),
		"version":    version,
	}).Info("pre-migration backup created")
	return snap, nil
}

// MigrateMany 迁移一组旧版记录
// 返回的 error 仅表示存储失败；结果始终返回，校验问题记录在结果中
func (m *Migrator) MigrateMany(ctx context.Context, records []trade.LegacyRecord) (*MigrationResult, error) {
	result := NewResult(m.opts.TargetVersion, m.now())
	defer func() {
		result.FinishedAt = m.now()
	}()

	if m.opts.BackupBeforeMigration {
		snap, err := m.Backup(ctx, records)
		if err != nil {
			result.AddError("", "", err.Error())
			return result, err
		}
		result.RollbackData = snap
	}

	if err := m.MigrateBatches(ctx, records, result); err != nil {
		result.AddError("", "", err.Error())
		return result, err
	}

	if m.opts.ValidateAfterMigration {
		if err := m.VerifyMigrated(ctx, result); err != nil {
			result.AddError("", "", err.Error())
			return result, err
		}
	}

	result.Success = !result.HasErrors()
	if !result.Success {
		m.logger.WithFields(logrus.Fields{
			"migrated": result.MigratedCount,
			"failed":   result.FailedCount,
		}).Warn("migration finished with failed records, version not advanced")
		return result, nil
	}

	if err := m.CommitVersion(ctx, result); err != nil {
		result.Success = false
		result.AddError("", "", err.Error())
		return result, err
	}
	return result, nil
}

// VerifyMigrated 重新读取并校验已写入的记录，问题只作为警告
func (m *Migrator) VerifyMigrated(ctx context.Context, result *MigrationResult) error {
	written, err := m.LoadMigrated(ctx)
	if err != nil {
		return err
	}
	if len(written) != result.MigratedCount {
		result.AddWarning("expected %d migrated records in store, found %d", result.MigratedCount, len(written))
	}
	for _, rec := range written {
		res := trade.Validate(rec)
		for _, e := range res.Errors {
			result.AddWarning("post-migration check: record %s: %s: %s", rec.ID, e.Field, e.Message)
		}
	}
	return nil
}

// CommitVersion 写入目标版本；当前版本已不低于目标时跳过并记录警告
func (m *Migrator) CommitVersion(ctx context.Context, result *MigrationResult) error {
	applied, err := m.versions.IsApplied(ctx, m.opts.TargetVersion)
	if err != nil {
		return err
	}
	if applied {
		result.AddWarning("version %s already applied, history unchanged", m.opts.TargetVersion)
		return nil
	}

	entry := MigrationVersion{
		Version:           m.opts.TargetVersion,
		Description:       m.opts.Description,
		AppliedAt:         m.now(),
		RollbackAvailable: !result.RollbackData.Empty(),
	}
	if err := m.versions.Append(ctx, entry); err != nil {
		return err
	}
	m.logger.WithField("version", entry.Version).Info("migration version recorded")
	return nil
}

// Rollback 将存储恢复为快照内容：覆盖旧版记录、清空已迁移记录、清空版本历史
// 快照为空时返回失败结果，不做任何修改
func (m *Migrator) Rollback(ctx context.Context, snap *Snapshot) *MigrationResult {
	result := NewResult(NoVersion, m.now())
	defer func() {
		result.FinishedAt = m.now()
	}()

	if snap.Empty() {
		err := &RollbackError{Reason: "no rollback data available", Err: ErrNoBackup}
		result.AddError("", "", err.Error())
		m.logger.Warn("rollback requested without snapshot")
		return result
	}

	fail := func(reason string, err error) *MigrationResult {
		rerr := &RollbackError{Reason: reason, Err: err}
		result.AddError("", "", rerr.Error())
		m.logger.WithError(err).Error("rollback failed")
		return result
	}

	records, err := trade.ParseLegacyCollection(snap.Data)
	if err != nil {
		return fail("snapshot data is not a legacy collection", err)
	}
	if err := m.store.Set(ctx, KeyLegacy, snap.Data); err != nil {
		return fail("restore legacy records", err)
	}
	if err := m.store.Remove(ctx, KeyMigrated); err != nil {
		return fail("clear migrated records", err)
	}

	// 已迁移记录已清空，版本必须回到 NoVersion
	if err := m.versions.Reset(ctx); err != nil {
		return fail("reset version history", err)
	}

	result.Success = true
	result.Version = NoVersion
	result.MigratedCount = len(records)
	m.logger.WithFields(logrus.Fields{
		"records": len(records),
		"snapshot_version": snap.Version,
	}).Info("rollback completed successfully")
	return result
}

// DryRun 只转换与校验，不写入存储
func (m *Migrator) DryRun(records []trade.LegacyRecord) *MigrationResult {
	result := NewResult(m.opts.TargetVersion, m.now())
	for _, rec := range records {
		m.applyRecord(rec, result)
	}
	result.Success = !result.HasErrors()
	result.FinishedAt = m.now()
	return result
}
