package configs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/migration"
)

// 环境变量覆盖
const (
	EnvSentryDSN    = "TJ_SENTRY_DSN"
	EnvStorePath    = "TJ_STORE_PATH"
	EnvStoreBackend = "TJ_STORE_BACKEND"
	EnvDebug        = "TJ_DEBUG"
)

// Store 记录存储配置
type Store struct {
	Backend metadata.Backend `yaml:"backend" json:"backend"`
	// Path 为空时放在 app_data_path 下
	Path string `yaml:"path" json:"path"`
}

var defaultStore = Store{
	Backend: metadata.BackendSQLite,
}

func (s *Store) verify() error {
	if !s.Backend.IsValid() {
		return fmt.Errorf("未知的存储后端: %q", s.Backend)
	}
	return nil
}

// Migration 迁移配置
type Migration struct {
	BatchSize              int    `yaml:"batch_size" json:"batch_size"`
	BackupBeforeMigration  bool   `yaml:"backup_before_migration" json:"backup_before_migration"`
	SkipValidationErrors   bool   `yaml:"skip_validation_errors" json:"skip_validation_errors"`
	ValidateAfterMigration bool   `yaml:"validate_after_migration" json:"validate_after_migration"`
	DefaultPlan            string `yaml:"default_plan" json:"default_plan"`
	TargetVersion          string `yaml:"target_version" json:"target_version"`
	DefaultAccountID       string `yaml:"default_account_id" json:"default_account_id"`
}

var defaultMigration = Migration{
	BatchSize:              migration.DefaultBatchSize,
	BackupBeforeMigration:  true,
	SkipValidationErrors:   false,
	ValidateAfterMigration: true,
	DefaultPlan:            "enhanced_schema_v1",
	TargetVersion:          migration.DefaultTargetVersion,
	DefaultAccountID:       "default",
}

func (m *Migration) verify() error {
	if m.BatchSize <= 0 {
		return fmt.Errorf("batch_size 必须大于 0")
	}
	if strings.TrimSpace(m.DefaultPlan) == "" {
		return fmt.Errorf("default_plan 不能为空")
	}
	if _, err := migration.ParseVersion(m.TargetVersion); err != nil {
		return fmt.Errorf("target_version 无效: %w", err)
	}
	return nil
}

// Options 转换为迁移器选项
func (m Migration) Options() migration.Options {
	opts := migration.DefaultOptions()
	opts.BatchSize = m.BatchSize
	opts.BackupBeforeMigration = m.BackupBeforeMigration
	opts.SkipValidationErrors = m.SkipValidationErrors
	opts.ValidateAfterMigration = m.ValidateAfterMigration
	opts.TargetVersion = m.TargetVersion
	opts.DefaultAccountID = m.DefaultAccountID
	return opts
}

// Flags 特性开关配置
type Flags struct {
	// Identity 评估迁移开关时使用的身份
	Identity        string `yaml:"identity" json:"identity"`
	BucketCacheSize int    `yaml:"bucket_cache_size" json:"bucket_cache_size"`
}

var defaultFlags = Flags{
	Identity:        "system",
	BucketCacheSize: 1024,
}

type Log struct {
	OutPutFolder string `yaml:"out_put_folder" json:"out_put_folder"`
	SaveLastLog  bool   `yaml:"save_last_log" json:"save_last_log"`
	SaveEveryLog bool   `yaml:"save_every_log" json:"save_every_log"`
	// RotateDays 按天滚动日志时最多保留的天数（<=0 表示不清理）
	RotateDays int `yaml:"rotate_days" json:"rotate_days"`
}

// Sentry 错误监控配置
type Sentry struct {
	Enable      bool   `yaml:"enable" json:"enable"`
	DSN         string `yaml:"dsn" json:"dsn"`
	Environment string `yaml:"environment" json:"environment"`
}

// Config content all config info.
type Config struct {
	File  string `yaml:"-" json:"-"`
	Debug bool   `yaml:"debug" json:"debug"`

	AppDataPath string    `yaml:"app_data_path" json:"app_data_path"`
	Store       Store     `yaml:"store" json:"store"`
	Migration   Migration `yaml:"migration" json:"migration"`
	Flags       Flags     `yaml:"flags" json:"flags"`
	Log         Log       `yaml:"log" json:"log"`
	Sentry      Sentry    `yaml:"sentry" json:"sentry"`
}

var defaultConfig = Config{
	Debug:       false,
	AppDataPath: "./.appdata",
	Store:       defaultStore,
	Migration:   defaultMigration,
	Flags:       defaultFlags,
	Log: Log{
		OutPutFolder: "./",
		SaveLastLog:  false,
		SaveEveryLog: false,
		RotateDays:   7,
	},
	Sentry: Sentry{
		Environment: "production",
	},
}

// 使用 atomic.Value 存放当前配置指针
var config atomic.Value // stores *Config

var currentDebug atomic.Bool

func SetCurrentConfig(cfg *Config) {
	if cfg == nil {
		config.Store((*Config)(nil))
		currentDebug.Store(false)
		return
	}
	config.Store(cfg)
	currentDebug.Store(cfg.Debug)
}

func GetCurrentConfig() *Config {
	v := config.Load()
	if v == nil {
		return nil
	}
	return v.(*Config)
}

// IsDebug 提供并发安全、低开销的 Debug 值读取
func IsDebug() bool {
	return currentDebug.Load()
}

func NewConfig() *Config {
	config := defaultConfig
	return &config
}

// Verify will return an error when this config has problem.
func (c *Config) Verify() error {
	if c == nil {
		return fmt.Errorf("配置不存在")
	}
	if err := c.Store.verify(); err != nil {
		return err
	}
	if err := c.Migration.verify(); err != nil {
		return err
	}
	if c.Store.Backend != metadata.BackendMemory && c.StorePath() == "" {
		return fmt.Errorf("存储路径不能为空")
	}
	if c.Sentry.Enable && c.Sentry.DSN == "" {
		return fmt.Errorf("已启用 Sentry 但未配置 dsn")
	}
	return nil
}

// StorePath 存储路径，未配置时按后端放在 app_data_path 下
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.AppDataPath == "" {
		return ""
	}
	switch c.Store.Backend {
	case metadata.BackendBadger:
		return filepath.Join(c.AppDataPath, "journal.badger")
	case metadata.BackendMemory:
		return ""
	default:
		return filepath.Join(c.AppDataPath, "journal.db")
	}
}

// ApplyEnv 用环境变量覆盖配置
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvSentryDSN); ok && v != "" {
		c.Sentry.DSN = v
		c.Sentry.Enable = true
	}
	if v, ok := lookup(EnvStorePath); ok && v != "" {
		c.Store.Path = v
	}
	if v, ok := lookup(EnvStoreBackend); ok && v != "" {
		c.Store.Backend = metadata.Backend(strings.ToLower(v))
	}
	if v, ok := lookup(EnvDebug); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
}

func NewConfigWithBytes(b []byte) (*Config, error) {
	config := defaultConfig
	if err := yaml.Unmarshal(b, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func NewConfigWithFile(file string) (*Config, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("can`t open file: %s: %w", file, err)
	}
	config, err := NewConfigWithBytes(b)
	if err != nil {
		return nil, err
	}
	config.File = file
	// 可能会修改配置文件（添加缺失字段等），保存回去
	if err := config.Marshal(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Marshal() error {
	if c.File == "" {
		return errors.New("config path not set")
	}

	var newNode yaml.Node
	tempBytes, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(tempBytes, &newNode); err != nil {
		return err
	}

	DecorateConfigNode(&newNode)

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&newNode); err != nil {
		return err
	}

	return os.WriteFile(c.File, buf.Bytes(), 0644)
}

func (c Config) GetFilePath() (string, error) {
	if c.File == "" {
		return "", errors.New("config path not set")
	}
	return c.File, nil
}
