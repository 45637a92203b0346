package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
)

const (
	// BackupTimeFormat 带时间戳备份键的后缀格式
	BackupTimeFormat = "20060102_150405.000000"
	// MaxBackupCount 最大保留备份数量
	MaxBackupCount = 5
)

// BackupManager 备份管理器
// 最新快照写在 KeyBackup，同时保留最多 MaxBackupCount 个带时间戳的副本
type BackupManager struct {
	store  metadata.Store
	logger *logrus.Entry
}

// NewBackupManager 创建备份管理器
func NewBackupManager(store metadata.Store, logger *logrus.Entry) *BackupManager {
	if logger == nil {
		logger = logrus.WithField("component", "backup")
	}
	return &BackupManager{
		store:  store,
		logger: logger,
	}
}

// CreateBackup 保存快照，返回带时间戳的备份键
func (m *BackupManager) CreateBackup(ctx context.Context, snap *Snapshot) (string, error) {
	if snap == nil {
		return "", fmt.Errorf("snapshot cannot be nil")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	backupKey := KeyBackup + "." + snap.Timestamp.UTC().Format(BackupTimeFormat)
	if err := m.store.Set(ctx, backupKey, data); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	if err := m.store.Set(ctx, KeyBackup, data); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}

	// 清理旧备份（清理失败不影响主流程）
	if err := m.CleanupOldBackups(ctx); err != nil {
		m.logger.WithError(err).Warn("failed to cleanup old backups")
	}
	return backupKey, nil
}

// Latest 读取最新快照，没有时返回 ErrNoBackup
func (m *BackupManager) Latest(ctx context.Context) (*Snapshot, error) {
	return m.load(ctx, KeyBackup)
}

// Load 读取指定备份键的快照
func (m *BackupManager) Load(ctx context.Context, backupKey string) (*Snapshot, error) {
	return m.load(ctx, backupKey)
}

func (m *BackupManager) load(ctx context.Context, key string) (*Snapshot, error) {
	data, err := m.store.Get(ctx, key)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, ErrNoBackup
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode backup %s: %w", key, err)
	}
	return &snap, nil
}

// Exists 是否存在最新快照
func (m *BackupManager) Exists(ctx context.Context) (bool, error) {
	_, err := m.store.Get(ctx, KeyBackup)
	if errors.Is(err, metadata.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BackupInfo 带时间戳的备份
type BackupInfo struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// ListBackups 列出带时间戳的备份（最新的在前）
func (m *BackupManager) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	keys, err := m.store.List(ctx, KeyBackup+".")
	if err != nil {
		return nil, err
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] > keys[j]
	})
	backups := make([]BackupInfo, 0, len(keys))
	for _, key := range keys {
		backups = append(backups, BackupInfo{Key: key, CreatedAt: backupTime(key)})
	}
	return backups, nil
}

// CleanupOldBackups 清理旧备份，保留最近的 MaxBackupCount 个
func (m *BackupManager) CleanupOldBackups(ctx context.Context) error {
	backups, err := m.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= MaxBackupCount {
		return nil
	}
	for _, b := range backups[MaxBackupCount:] {
		if err := m.store.Remove(ctx, b.Key); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", b.Key, err)
		}
	}
	return nil
}

// backupTime 从备份键解析时间，失败时返回零值
func backupTime(key string) time.Time {
	prefix := KeyBackup + "."
	if len(key) <= len(prefix) {
		return time.Time{}
	}
	t, err := time.Parse(BackupTimeFormat, key[len(prefix):])
	if err != nil {
		return time.Time{}
	}
	return t
}
