package instance

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/configs"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/consts"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/featureflag"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/orchestrator"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/migration"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/sentry"
)

const sentryFlushTimeout = 2 * time.Second

// Instance 进程内唯一的服务容器，启动时创建、退出时关闭
type Instance struct {
	Config       *configs.Config
	Logger       *logrus.Entry
	Store        metadata.Store
	Flags        *featureflag.Registry
	Migrator     *migration.Migrator
	Orchestrator *orchestrator.Orchestrator
	InstallID    string
}

// New 按配置打开存储并装配各组件
// 存在中断的运行时会把它标记为失败
func New(ctx context.Context, cfg *configs.Config) (*Instance, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	logger := logrus.WithField("app", consts.AppName)

	store, err := metadata.Open(cfg.Store.Backend, cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	inst := &Instance{
		Config: cfg,
		Logger: logger,
		Store:  store,
	}

	if err := inst.wire(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return inst, nil
}

func (inst *Instance) wire(ctx context.Context) error {
	cfg := inst.Config

	flags, err := featureflag.NewRegistry(ctx, inst.Store,
		featureflag.WithLogger(inst.Logger.WithField("component", "feature_flags")),
		featureflag.WithBucketCacheSize(cfg.Flags.BucketCacheSize),
	)
	if err != nil {
		return fmt.Errorf("load feature flags: %w", err)
	}

	opts := cfg.Migration.Options()
	opts.Logger = inst.Logger.WithField("component", "migrator")
	migrator, err := migration.NewMigrator(inst.Store, opts)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(inst.Store, flags, migrator, orchestrator.Options{
		DefaultPlan: cfg.Migration.DefaultPlan,
		Identity:    cfg.Flags.Identity,
		Logger:      inst.Logger.WithField("component", "orchestrator"),
	})
	if err != nil {
		return err
	}
	if _, err := orch.CheckAndRecover(ctx); err != nil {
		inst.Logger.WithError(err).Warn("failed to check for interrupted migration runs")
	}

	inst.Flags = flags
	inst.Migrator = migrator
	inst.Orchestrator = orch
	inst.InstallID = sentry.InstallID(ctx, inst.Store)

	if cfg.Sentry.Enable {
		info := consts.GetAppInfo()
		if err := sentry.Init(sentry.Options{
			DSN:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     info.Release(),
			InstallID:   inst.InstallID,
		}); err != nil {
			inst.Logger.WithError(err).Warn("failed to initialize sentry")
		}
	}
	return nil
}

// Close 刷新错误上报并关闭存储
func (inst *Instance) Close() error {
	sentry.Flush(sentryFlushTimeout)
	if inst.Store == nil {
		return nil
	}
	return inst.Store.Close()
}
