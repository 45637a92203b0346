//go:generate go run go.uber.org/mock/mockgen -package mocks -destination mocks/store_mock.go github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata Store

// Package metadata 提供交易日志数据的持久化存储
// 迁移子系统只通过 Store 接口读写命名空间下的键值数据（版本、进度、备份、特性开关、交易记录集合）
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound 键不存在
	ErrNotFound = errors.New("key not found")
	// ErrUnknownBackend 未知的存储后端
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Store 记录存储适配器接口
// 键采用 "<namespace>.<key>" 形式，例如 migration.version、records.legacy
type Store interface {
	// Get 读取键对应的值，键不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 写入键值（覆盖）
	Set(ctx context.Context, key string, value []byte) error
	// Remove 删除键，键不存在时不报错
	Remove(ctx context.Context, key string) error
	// List 按前缀列出所有键，结果有序
	List(ctx context.Context, prefix string) ([]string, error)
	// Close 关闭存储
	Close() error
}

// Backend 存储后端类型
type Backend string

const (
	// BackendSQLite 默认后端，单文件 SQLite
	BackendSQLite Backend = "sqlite"
	// BackendBadger Badger 键值数据库
	BackendBadger Backend = "badger"
	// BackendMemory 内存存储，进程退出即丢失
	BackendMemory Backend = "memory"
)

// IsValid 检查后端类型是否受支持
func (b Backend) IsValid() bool {
	switch b {
	case BackendSQLite, BackendBadger, BackendMemory:
		return true
	}
	return false
}

// Open 根据后端类型打开存储
func Open(backend Backend, path string) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		return NewSQLiteStore(path)
	case BackendBadger:
		return NewBadgerStore(BadgerConfig{Path: path, SyncWrites: true})
	case BackendMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
}

// StorageError 存储读写失败
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Err: err}
}

// IsStorageError 判断错误链中是否包含 StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// splitKey 将完整键拆分为命名空间与键名
func splitKey(fullKey string) (namespace, key string) {
	if i := strings.IndexByte(fullKey, '.'); i >= 0 {
		return fullKey[:i], fullKey[i+1:]
	}
	return "", fullKey
}

func joinKey(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + "." + key
}
