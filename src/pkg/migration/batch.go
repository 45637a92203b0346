package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/metrics"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/trade"
)

// splitBatches 按 size 切分记录
func splitBatches(records []trade.LegacyRecord, size int) [][]trade.LegacyRecord {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]trade.LegacyRecord, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end])
	}
	return batches
}

// MigrateBatches 逐批转换、校验并追加写入 records.migrated
// 批与批之间顺序执行，只在批边界检查 ctx；返回的 error 仅表示存储失败或 ctx 结束
func (m *Migrator) MigrateBatches(ctx context.Context, records []trade.LegacyRecord, result *MigrationResult) error {
	migrated := make([]trade.EnhancedRecord, 0, len(records))
	if err := m.writeMigrated(ctx, migrated); err != nil {
		return err
	}

	batches := splitBatches(records, m.opts.BatchSize)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("migration interrupted before batch %d: %w", i+1, err)
		}

		start := time.Now()
		accepted := make([]trade.EnhancedRecord, 0, len(batch))
		for _, rec := range batch {
			if enh, ok := m.applyRecord(rec, result); ok {
				accepted = append(accepted, enh)
			}
		}

		migrated = append(migrated, accepted...)
		if err := m.writeMigrated(ctx, migrated); err != nil {
			return err
		}
		metrics.BatchDuration.Observe(time.Since(start).Seconds())

		m.logger.WithFields(logrus.Fields{
			"batch":    i + 1,
			"batches":  len(batches),
			"accepted": len(accepted),
			"size":     len(batch),
		}).Debug("batch persisted")
	}
	return nil
}

// applyRecord 转换并校验单条记录，返回是否应写入
func (m *Migrator) applyRecord(rec trade.LegacyRecord, result *MigrationResult) (trade.EnhancedRecord, bool) {
	enh := m.MigrateOne(rec)
	res := trade.Validate(enh)
	if res.OK() {
		result.MigratedCount++
		metrics.RecordsMigrated.Inc()
		return enh, true
	}

	entry := m.logger.WithFields(logrus.Fields{
		"record_id": enh.ID,
		"issues":    res.Messages(),
	})
	if m.opts.SkipValidationErrors {
		for _, e := range res.Errors {
			result.Errors = append(result.Errors, MigrationError{
				RecordID: enh.ID,
				Field:    e.Field,
				Message:  e.Message,
				Severity: SeverityWarning,
			})
		}
		result.AddWarning("record %s migrated with validation issues: %v", enh.ID, res.Messages())
		result.MigratedCount++
		metrics.RecordsMigrated.Inc()
		metrics.RecordsFailed.WithLabelValues("skipped").Inc()
		entry.Warn("record failed validation, migrated anyway")
		return enh, true
	}

	for _, e := range res.Errors {
		result.AddError(enh.ID, e.Field, e.Message)
	}
	result.FailedCount++
	metrics.RecordsFailed.WithLabelValues("failed").Inc()
	entry.Warn("record failed validation, not migrated")
	return trade.EnhancedRecord{}, false
}

func (m *Migrator) writeMigrated(ctx context.Context, records []trade.EnhancedRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode migrated records: %w", err)
	}
	return m.store.Set(ctx, KeyMigrated, data)
}
