package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore SQLite 存储实现
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewSQLiteStore 打开（或创建）SQLite 存储并升级表结构
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// 迁移子系统严格串行写入，单连接即可
	db.SetMaxOpenConns(1)

	logger := logrus.WithFields(logrus.Fields{
		"component": "metadata_store",
		"db_path":   dbPath,
	})
	if err := runSchemaMigrations(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Path 返回数据库文件路径
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Get 读取值
func (s *SQLiteStore) Get(ctx context.Context, fullKey string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	namespace, key := splitKey(fullKey)
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM metadata WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", fullKey, err)
	}
	return value, nil
}

// Set 写入值
func (s *SQLiteStore) Set(ctx context.Context, fullKey string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	namespace, key := splitKey(fullKey)
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, strftime('%s', 'now'))
		 ON CONFLICT(namespace, key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = strftime('%s', 'now')`,
		namespace, key, value,
	)
	return storageErr("set", fullKey, err)
}

// Remove 删除键
func (s *SQLiteStore) Remove(ctx context.Context, fullKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	namespace, key := splitKey(fullKey)
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM metadata WHERE namespace = ? AND key = ?",
		namespace, key,
	)
	return storageErr("remove", fullKey, err)
}

// List 按前缀列出键
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT namespace, key FROM metadata"
	var args []any
	if namespace, _ := splitKey(prefix); namespace != "" {
		query += " WHERE namespace = ?"
		args = append(args, namespace)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var namespace, key string
		if err := rows.Scan(&namespace, &key); err != nil {
			return nil, storageErr("list", prefix, err)
		}
		full := joinKey(namespace, key)
		if strings.HasPrefix(full, prefix) {
			keys = append(keys, full)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
