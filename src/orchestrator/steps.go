package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/featureflag"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
)

func (o *Orchestrator) stepValidateEnvironment(ctx context.Context, run *Run) error {
	current, err := o.migrator.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read current version: %w", err)
	}
	target := o.migrator.Options().TargetVersion
	applied, err := o.migrator.Versions().IsApplied(ctx, target)
	if err != nil {
		return err
	}
	if applied {
		run.Result.AddWarning("version %s already applied (current %s)", target, current)
	}
	run.Logger.WithFields(logrus.Fields{
		"current_version": current,
		"target_version":  target,
	}).Info("environment validated")
	return nil
}

func (o *Orchestrator) stepLoadLegacy(ctx context.Context, run *Run) error {
	records, err := o.migrator.LoadLegacy(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		run.Result.AddWarning("no legacy records found")
	}
	run.Records = records
	run.Logger.WithField("records", len(records)).Info("legacy records loaded")
	return nil
}

func (o *Orchestrator) stepBackupData(ctx context.Context, run *Run) error {
	if !o.migrator.Options().BackupBeforeMigration {
		run.Result.AddWarning("backup disabled, rollback will not be available")
		return nil
	}
	snap, err := o.migrator.Backup(ctx, run.Records)
	if err != nil {
		return err
	}
	run.Result.RollbackData = snap
	return nil
}

func (o *Orchestrator) stepMigrateRecords(ctx context.Context, run *Run) error {
	if err := o.migrator.MigrateBatches(ctx, run.Records, run.Result); err != nil {
		return err
	}
	if run.Result.HasErrors() {
		return fmt.Errorf("%d of %d records failed validation", run.Result.FailedCount, len(run.Records))
	}
	return nil
}

func (o *Orchestrator) stepVerifyMigration(ctx context.Context, run *Run) error {
	if !o.migrator.Options().ValidateAfterMigration {
		return nil
	}
	return o.migrator.VerifyMigrated(ctx, run.Result)
}

func (o *Orchestrator) stepUpdateVersion(ctx context.Context, run *Run) error {
	return o.migrator.CommitVersion(ctx, run.Result)
}

// stepEnableFlags 先保存开关快照再全量打开结构相关开关
// 已有快照时保留原快照，回滚总是回到首次迁移前的开关状态
func (o *Orchestrator) stepEnableFlags(ctx context.Context, run *Run) error {
	_, err := o.store.Get(ctx, KeyFlagBackup)
	switch {
	case err == nil:
		run.Logger.Info("flag snapshot already recorded, keeping it")
	case errors.Is(err, metadata.ErrNotFound):
		data, err := json.Marshal(o.flags.Snapshot())
		if err != nil {
			return fmt.Errorf("encode flag snapshot: %w", err)
		}
		if err := o.store.Set(ctx, KeyFlagBackup, data); err != nil {
			return err
		}
	default:
		return fmt.Errorf("read flag snapshot: %w", err)
	}
	for _, key := range featureflag.SchemaFlags() {
		if err := o.flags.EnableFlag(ctx, key, 100); err != nil {
			return fmt.Errorf("enable flag %s: %w", key, err)
		}
	}
	run.Logger.WithField("flags", featureflag.SchemaFlags()).Info("schema flags enabled")
	return nil
}

func (o *Orchestrator) stepCleanup(ctx context.Context, _ *Run) error {
	return o.migrator.Backups().CleanupOldBackups(ctx)
}

func (o *Orchestrator) stepDryRun(_ context.Context, run *Run) error {
	dry := o.migrator.DryRun(run.Records)
	run.Result.MigratedCount = dry.MigratedCount
	run.Result.FailedCount = dry.FailedCount
	run.Result.Errors = append(run.Result.Errors, dry.Errors...)
	run.Result.Warnings = append(run.Result.Warnings, dry.Warnings...)
	return nil
}

func (o *Orchestrator) stepRestoreRecords(ctx context.Context, run *Run) error {
	restored := o.migrator.Rollback(ctx, run.Snapshot)
	run.Result.Warnings = append(run.Result.Warnings, restored.Warnings...)
	if !restored.Success {
		if len(restored.Errors) > 0 {
			return errors.New(restored.Errors[0].Message)
		}
		return errors.New("rollback failed")
	}
	run.Result.Version = restored.Version
	run.Result.MigratedCount = restored.MigratedCount
	return nil
}

// stepRestoreFlags 恢复迁移前的开关状态，没有记录时只给出警告
func (o *Orchestrator) stepRestoreFlags(ctx context.Context, run *Run) error {
	data, err := o.store.Get(ctx, KeyFlagBackup)
	if errors.Is(err, metadata.ErrNotFound) {
		run.Result.AddWarning("no flag snapshot recorded, flags left unchanged")
		return nil
	}
	if err != nil {
		return err
	}
	var flags []featureflag.Flag
	if err := json.Unmarshal(data, &flags); err != nil {
		return fmt.Errorf("decode flag snapshot: %w", err)
	}
	if err := o.flags.Restore(ctx, flags); err != nil {
		return err
	}
	if err := o.store.Remove(ctx, KeyFlagBackup); err != nil {
		return err
	}
	run.Logger.WithField("flags", len(flags)).Info("feature flags restored")
	return nil
}
