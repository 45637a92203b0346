package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
)

// VersionManager 版本历史管理
// 历史只追加且严格递增，当前版本始终等于最后一条（无历史时为 NoVersion）
type VersionManager struct {
	store metadata.Store
}

// NewVersionManager 创建版本管理器
func NewVersionManager(store metadata.Store) *VersionManager {
	return &VersionManager{store: store}
}

// ParseVersion 解析语义化版本
func ParseVersion(v string) (*semver.Version, error) {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, v, err)
	}
	return parsed, nil
}

// Current 当前版本
func (vm *VersionManager) Current(ctx context.Context) (string, error) {
	data, err := vm.store.Get(ctx, KeyVersion)
	if errors.Is(err, metadata.ErrNotFound) {
		return NoVersion, nil
	}
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil || v == "" {
		return NoVersion, nil
	}
	return v, nil
}

// History 版本历史
func (vm *VersionManager) History(ctx context.Context) ([]MigrationVersion, error) {
	data, err := vm.store.Get(ctx, KeyHistory)
	if errors.Is(err, metadata.ErrNotFound) {
		return []MigrationVersion{}, nil
	}
	if err != nil {
		return nil, err
	}
	var history []MigrationVersion
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decode migration history: %w", err)
	}
	if history == nil {
		history = []MigrationVersion{}
	}
	return history, nil
}

// IsApplied 当前版本是否已达到 target
func (vm *VersionManager) IsApplied(ctx context.Context, target string) (bool, error) {
	t, err := ParseVersion(target)
	if err != nil {
		return false, err
	}
	cur, err := vm.Current(ctx)
	if err != nil {
		return false, err
	}
	c, err := ParseVersion(cur)
	if err != nil {
		return false, err
	}
	return !c.LessThan(t), nil
}

// Append 追加版本，必须严格大于最后一条历史
func (vm *VersionManager) Append(ctx context.Context, entry MigrationVersion) error {
	next, err := ParseVersion(entry.Version)
	if err != nil {
		return err
	}
	history, err := vm.History(ctx)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		last, err := ParseVersion(history[len(history)-1].Version)
		if err != nil {
			return err
		}
		if !next.GreaterThan(last) {
			return fmt.Errorf("%w: %s is not greater than %s", ErrVersionNotIncreasing, entry.Version, last.Original())
		}
	}

	history = append(history, entry)
	return vm.write(ctx, history)
}

// Reset 清空版本历史，当前版本回到 NoVersion
func (vm *VersionManager) Reset(ctx context.Context) error {
	return vm.write(ctx, []MigrationVersion{})
}

func (vm *VersionManager) write(ctx context.Context, history []MigrationVersion) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode migration history: %w", err)
	}
	if err := vm.store.Set(ctx, KeyHistory, data); err != nil {
		return err
	}

	current := NoVersion
	if len(history) > 0 {
		current = history[len(history)-1].Version
	}
	data, _ = json.Marshal(current)
	return vm.store.Set(ctx, KeyVersion, data)
}
