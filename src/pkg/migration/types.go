package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// 存储键
const (
	KeyVersion  = "migration.version"
	KeyHistory  = "migration.history"
	KeyBackup   = "migration.backup"
	KeyRun      = "migration.lock"
	KeyLegacy   = "records.legacy"
	KeyMigrated = "records.migrated"
)

// NoVersion 从未迁移过的版本哨兵值
const NoVersion = "0.0.0"

const (
	// DefaultBatchSize 默认批大小
	DefaultBatchSize = 50
	// DefaultTargetVersion 默认目标版本
	DefaultTargetVersion = "1.0.0"
)

var (
	// ErrNoBackup 无备份可回滚
	ErrNoBackup = errors.New("no backup available for rollback")
	// ErrInvalidVersion 版本号不是合法的语义化版本
	ErrInvalidVersion = errors.New("invalid migration version")
	// ErrVersionNotIncreasing 新版本不大于当前版本
	ErrVersionNotIncreasing = errors.New("migration version must be strictly increasing")
)

// Severity 错误级别
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// MigrationError 单条记录的迁移问题
type MigrationError struct {
	RecordID string   `json:"recordId"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
}

// Snapshot 迁移前的完整数据快照
type Snapshot struct {
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	Data      json.RawMessage `json:"data"`
}

// Empty 快照是否没有可恢复的数据
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Data) == 0
}

// MigrationResult 一次迁移（或回滚）的结果
type MigrationResult struct {
	Success       bool             `json:"success"`
	Version       string           `json:"version"`
	MigratedCount int              `json:"migratedCount"`
	FailedCount   int              `json:"failedCount"`
	Errors        []MigrationError `json:"errors"`
	Warnings      []string         `json:"warnings"`
	RollbackData  *Snapshot        `json:"rollbackData,omitempty"`
	StartedAt     time.Time        `json:"startedAt"`
	FinishedAt    time.Time        `json:"finishedAt"`
}

// NewResult 创建空结果
func NewResult(version string, now time.Time) *MigrationResult {
	return &MigrationResult{
		Version:   version,
		Errors:    []MigrationError{},
		Warnings:  []string{},
		StartedAt: now,
	}
}

// AddError 追加错误
func (r *MigrationResult) AddError(recordID, field, msg string) {
	r.Errors = append(r.Errors, MigrationError{RecordID: recordID, Field: field, Message: msg, Severity: SeverityError})
}

// AddWarning 追加警告
func (r *MigrationResult) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors 是否存在 error 级别的问题
func (r *MigrationResult) HasErrors() bool {
	for _, e := range r.Errors {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// MigrationVersion 版本历史条目
type MigrationVersion struct {
	Version           string    `json:"version"`
	Description       string    `json:"description"`
	AppliedAt         time.Time `json:"appliedAt"`
	RollbackAvailable bool      `json:"rollbackAvailable"`
}

// RollbackError 回滚无法进行
type RollbackError struct {
	Reason string
	Err    error
}

func (e *RollbackError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rollback failed: %s: %v", e.Reason, e.Err)
	}
	return "rollback failed: " + e.Reason
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

// Options 迁移器选项
type Options struct {
	// BatchSize 每批处理的记录数
	BatchSize int
	// BackupBeforeMigration 迁移前保存完整快照
	BackupBeforeMigration bool
	// SkipValidationErrors 校验失败的记录记为警告并照常写入
	SkipValidationErrors bool
	// ValidateAfterMigration 写入完成后重新校验
	ValidateAfterMigration bool
	// TargetVersion 本次迁移的目标版本
	TargetVersion string
	// Description 写入版本历史的描述
	Description string
	// DefaultAccountID 旧版记录缺少账户时使用
	DefaultAccountID string
	// Now 时钟，默认 time.Now
	Now func() time.Time
	// Logger 日志，默认 component=migrator
	Logger *logrus.Entry
}

// DefaultOptions 默认选项
func DefaultOptions() Options {
	return Options{
		BatchSize:              DefaultBatchSize,
		BackupBeforeMigration:  true,
		ValidateAfterMigration: true,
		TargetVersion:          DefaultTargetVersion,
		Description:            "Enhanced trade schema with review workflow and notes",
	}
}
