package featureflag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/sirupsen/logrus"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/metrics"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
)

// StoreKey 开关列表在存储中的键
const StoreKey = "feature.flags"

const defaultBucketCacheSize = 4096

// Registry 特性开关注册表
// 所有修改同步写入存储，写入失败时内存状态不变
type Registry struct {
	mu      sync.RWMutex
	store   metadata.Store
	flags   map[string]Flag
	buckets gcache.Cache
	logger  *logrus.Entry
	now     func() time.Time

	cacheSize int
}

// Option 注册表选项
type Option func(*Registry)

// WithLogger 指定日志
func WithLogger(logger *logrus.Entry) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock 指定时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithBucketCacheSize 分桶缓存容量
func WithBucketCacheSize(size int) Option {
	return func(r *Registry) {
		if size > 0 {
			r.cacheSize = size
		}
	}
}

// NewRegistry 从存储加载开关；存储中没有或数据损坏时写入默认集合
func NewRegistry(ctx context.Context, store metadata.Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		store:     store,
		flags:     make(map[string]Flag),
		logger:    logrus.WithField("component", "feature_flags"),
		now:       time.Now,
		cacheSize: defaultBucketCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.buckets = gcache.New(r.cacheSize).
		LRU().
		LoaderFunc(func(k interface{}) (interface{}, error) {
			bk := k.(bucketKey)
			return Bucket(bk.identity, bk.flag), nil
		}).
		Build()

	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

type bucketKey struct {
	identity string
	flag     string
}

// Reload 重新从存储读取开关状态
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.store.Get(ctx, StoreKey)
	if errors.Is(err, metadata.ErrNotFound) {
		r.logger.Info("no persisted feature flags, installing defaults")
		return r.replaceLocked(ctx, DefaultFlags(r.now()))
	}
	if err != nil {
		return fmt.Errorf("load feature flags: %w", err)
	}

	var list []Flag
	if err := json.Unmarshal(data, &list); err != nil {
		r.logger.WithError(err).Warn("persisted feature flags are corrupt, installing defaults")
		return r.replaceLocked(ctx, DefaultFlags(r.now()))
	}
	flags := make(map[string]Flag, len(list))
	for _, f := range list {
		f.RolloutPercentage = ClampRollout(f.RolloutPercentage)
		flags[f.Key] = f
	}
	r.flags = flags
	return nil
}

// IsEnabled 判断开关对给定上下文是否打开
// 依次检查：开关已启用、上下文落在灰度范围内、所有条件成立。未知开关返回 false
func (r *Registry) IsEnabled(key string, fctx Context) bool {
	r.mu.RLock()
	flag, ok := r.flags[key]
	r.mu.RUnlock()

	if !ok {
		r.logger.WithField("flag", key).Warn("unknown feature flag requested")
		metrics.FlagEvaluations.WithLabelValues(key, "unknown").Inc()
		return false
	}

	on := r.evaluate(flag, fctx)
	result := "off"
	if on {
		result = "on"
	}
	metrics.FlagEvaluations.WithLabelValues(key, result).Inc()
	return on
}

func (r *Registry) evaluate(flag Flag, fctx Context) bool {
	if !flag.Enabled {
		return false
	}
	if flag.RolloutPercentage < 100 {
		if r.Bucket(fctx.Identity, flag.Key) > flag.RolloutPercentage {
			return false
		}
	}
	for _, c := range flag.Conditions {
		if !evaluateCondition(c, fctx) {
			return false
		}
	}
	return true
}

// Bucket 返回 identity 在开关下的分桶 (1-100)
func (r *Registry) Bucket(identity, key string) int {
	if identity == "" {
		identity = AnonymousIdentity
	}
	v, err := r.buckets.Get(bucketKey{identity: identity, flag: key})
	if err != nil {
		return Bucket(identity, key)
	}
	return v.(int)
}

// Get 返回开关副本
func (r *Registry) Get(key string) (Flag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flags[key]
	if !ok {
		return Flag{}, false
	}
	return f.clone(), true
}

// List 按 key 排序返回全部开关
func (r *Registry) List() []Flag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(r.flags)
}

// Snapshot 当前全部开关的副本，可交给 Restore 还原
func (r *Registry) Snapshot() []Flag {
	return r.List()
}

// Restore 用快照整体替换开关状态
func (r *Registry) Restore(ctx context.Context, flags []Flag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replaceLocked(ctx, flags)
}

// ResetToDefaults 整体替换为内置默认集合
func (r *Registry) ResetToDefaults(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Info("resetting feature flags to defaults")
	return r.replaceLocked(ctx, DefaultFlags(r.now()))
}

// EnableFlag 启用开关并设置灰度百分比（限制在 0-100）
func (r *Registry) EnableFlag(ctx context.Context, key string, rollout int) error {
	_, err := r.mutate(ctx, key, func(f *Flag) error {
		f.Enabled = true
		f.RolloutPercentage = ClampRollout(rollout)
		return nil
	})
	return err
}

// DisableFlag 关闭开关，保留灰度百分比
func (r *Registry) DisableFlag(ctx context.Context, key string) error {
	_, err := r.mutate(ctx, key, func(f *Flag) error {
		f.Enabled = false
		return nil
	})
	return err
}

// UpdateFlag 部分更新开关
func (r *Registry) UpdateFlag(ctx context.Context, key string, u FlagUpdate) (Flag, error) {
	return r.mutate(ctx, key, func(f *Flag) error {
		if u.Name != nil {
			f.Name = *u.Name
		}
		if u.Description != nil {
			f.Description = *u.Description
		}
		if u.Enabled != nil {
			f.Enabled = *u.Enabled
		}
		if u.RolloutPercentage != nil {
			f.RolloutPercentage = ClampRollout(*u.RolloutPercentage)
		}
		if u.Conditions != nil {
			f.Conditions = append([]Condition(nil), (*u.Conditions)...)
		}
		if u.Metadata != nil {
			if f.Metadata == nil {
				f.Metadata = make(map[string]string, len(u.Metadata))
			}
			for k, v := range u.Metadata {
				f.Metadata[k] = v
			}
		}
		return nil
	})
}

// GradualRollout 将灰度百分比向 target 移动最多 increment，不越过 target，返回新的百分比
func (r *Registry) GradualRollout(ctx context.Context, key string, target, increment int) (int, error) {
	if increment <= 0 {
		return 0, fmt.Errorf("%w: rollout increment must be positive, got %d", ErrInvalidFlag, increment)
	}
	target = ClampRollout(target)
	f, err := r.mutate(ctx, key, func(f *Flag) error {
		cur := f.RolloutPercentage
		switch {
		case cur < target:
			f.RolloutPercentage = min(cur+increment, target)
		case cur > target:
			f.RolloutPercentage = max(cur-increment, target)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.WithFields(logrus.Fields{
		"flag":    key,
		"rollout": f.RolloutPercentage,
		"target":  target,
	}).Info("gradual rollout step applied")
	return f.RolloutPercentage, nil
}

// CreateFlag 新建开关
func (r *Registry) CreateFlag(ctx context.Context, flag Flag) error {
	if flag.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidFlag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.flags[flag.Key]; ok {
		return fmt.Errorf("%w: %s", ErrFlagExists, flag.Key)
	}
	now := r.now()
	flag = flag.clone()
	flag.RolloutPercentage = ClampRollout(flag.RolloutPercentage)
	flag.CreatedAt = now
	flag.UpdatedAt = now

	next := r.copyLocked()
	next[flag.Key] = flag
	if err := r.persist(ctx, next); err != nil {
		return err
	}
	r.flags = next
	return nil
}

// DeleteFlag 删除开关
func (r *Registry) DeleteFlag(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.flags[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFlag, key)
	}
	next := r.copyLocked()
	delete(next, key)
	if err := r.persist(ctx, next); err != nil {
		return err
	}
	r.flags = next
	return nil
}

func (r *Registry) mutate(ctx context.Context, key string, fn func(f *Flag) error) (Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.flags[key]
	if !ok {
		return Flag{}, fmt.Errorf("%w: %s", ErrUnknownFlag, key)
	}
	f := cur.clone()
	if err := fn(&f); err != nil {
		return Flag{}, err
	}
	f.UpdatedAt = r.now()

	next := r.copyLocked()
	next[key] = f
	if err := r.persist(ctx, next); err != nil {
		return Flag{}, err
	}
	r.flags = next
	return f.clone(), nil
}

func (r *Registry) replaceLocked(ctx context.Context, list []Flag) error {
	next := make(map[string]Flag, len(list))
	for _, f := range list {
		f = f.clone()
		f.RolloutPercentage = ClampRollout(f.RolloutPercentage)
		next[f.Key] = f
	}
	if err := r.persist(ctx, next); err != nil {
		return err
	}
	r.flags = next
	return nil
}

func (r *Registry) copyLocked() map[string]Flag {
	next := make(map[string]Flag, len(r.flags))
	for k, f := range r.flags {
		next[k] = f
	}
	return next
}

func (r *Registry) sortedLocked(flags map[string]Flag) []Flag {
	list := make([]Flag, 0, len(flags))
	for _, f := range flags {
		list = append(list, f.clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	return list
}

func (r *Registry) persist(ctx context.Context, flags map[string]Flag) error {
	data, err := json.Marshal(r.sortedLocked(flags))
	if err != nil {
		return fmt.Errorf("encode feature flags: %w", err)
	}
	if err := r.store.Set(ctx, StoreKey, data); err != nil {
		return fmt.Errorf("persist feature flags: %w", err)
	}
	return nil
}
