package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
)

// RunMarker 运行标记，迁移开始时写入、结束时删除
// 启动时若仍存在，说明上次运行被中断
type RunMarker struct {
	PlanID        string `json:"plan_id"`
	RunID         string `json:"run_id"`
	StartTime     string `json:"start_time"`
	FromVersion   string `json:"from_version"`
	TargetVersion string `json:"target_version"`
	PID           int    `json:"pid"`
}

// MarkerManager 运行标记管理器
type MarkerManager struct {
	store metadata.Store
}

// NewMarkerManager 创建运行标记管理器
func NewMarkerManager(store metadata.Store) *MarkerManager {
	return &MarkerManager{store: store}
}

// NewRunMarker 创建当前进程的运行标记
func NewRunMarker(planID, runID, fromVersion, targetVersion string, now time.Time) *RunMarker {
	return &RunMarker{
		PlanID:        planID,
		RunID:         runID,
		StartTime:     now.Format(time.RFC3339),
		FromVersion:   fromVersion,
		TargetVersion: targetVersion,
		PID:           os.Getpid(),
	}
}

// Mark 写入运行标记
func (m *MarkerManager) Mark(ctx context.Context, marker *RunMarker) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run marker: %w", err)
	}
	if err := m.store.Set(ctx, KeyRun, data); err != nil {
		return fmt.Errorf("failed to write run marker: %w", err)
	}
	return nil
}

// Clear 删除运行标记
func (m *MarkerManager) Clear(ctx context.Context) error {
	if err := m.store.Remove(ctx, KeyRun); err != nil {
		return fmt.Errorf("failed to remove run marker: %w", err)
	}
	return nil
}

// Get 读取运行标记，不存在时返回 nil
func (m *MarkerManager) Get(ctx context.Context) (*RunMarker, error) {
	data, err := m.store.Get(ctx, KeyRun)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run marker: %w", err)
	}

	var marker RunMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run marker: %w", err)
	}
	return &marker, nil
}
