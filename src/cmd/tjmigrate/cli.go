package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/configs"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/consts"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/featureflag"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/instance"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/log"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/metrics"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/orchestrator"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/migration"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/sentry"
)

// errRunFailed 命令已执行但结果为失败，结果已输出
var errRunFailed = errors.New("migration run did not succeed")

type cli struct {
	app *kingpin.Application
	out io.Writer

	configFile  *string
	debug       *bool
	metricsFile *string

	migratePlan   *string
	importFile    *string
	flagKeys      map[string]*string
	flagRollout   *int
	flagTarget    *int
	flagIncrement *int
	flagIdentity  *string
}

func newCLI(out, errOut io.Writer) *cli {
	info := consts.GetAppInfo()
	c := &cli{
		app:      kingpin.New(consts.AppName, "Trading journal schema migration tool."),
		out:      out,
		flagKeys: make(map[string]*string),
	}
	c.app.Version(info.Release())
	c.app.UsageWriter(errOut).ErrorWriter(errOut)
	c.app.Terminate(nil)

	c.configFile = c.app.Flag("config", "配置文件路径").Short('c').String()
	c.debug = c.app.Flag("debug", "输出调试日志").Bool()
	c.metricsFile = c.app.Flag("metrics-file", "命令结束后将本进程指标以 Prometheus 文本格式写入该文件").String()

	c.app.Command("status", "查看当前版本、进度与备份")
	c.app.Command("plans", "列出已注册的迁移计划")
	c.app.Command("progress", "查看最近一次运行的进度")
	migrate := c.app.Command("migrate", "执行迁移计划")
	c.migratePlan = migrate.Flag("plan", "计划 ID，默认使用配置中的 default_plan").Short('p').String()
	c.app.Command("rollback", "从最近的备份回滚")
	c.app.Command("reset", "清除已保存的运行进度")
	importCmd := c.app.Command("import", "导入旧版交易记录（JSON 数组）")
	c.importFile = importCmd.Arg("file", "JSON 文件").Required().ExistingFile()
	c.app.Command("backups", "列出备份")

	flags := c.app.Command("flags", "管理特性开关")
	flags.Command("list", "列出全部开关")
	enable := flags.Command("enable", "开启开关")
	c.flagKeys["flags enable"] = enable.Arg("key", "开关 key").Required().String()
	c.flagRollout = enable.Arg("rollout", "灰度百分比").Default("100").Int()
	disable := flags.Command("disable", "关闭开关")
	c.flagKeys["flags disable"] = disable.Arg("key", "开关 key").Required().String()
	rollout := flags.Command("rollout", "逐步提高灰度百分比")
	c.flagKeys["flags rollout"] = rollout.Arg("key", "开关 key").Required().String()
	c.flagTarget = rollout.Arg("target", "目标百分比").Required().Int()
	c.flagIncrement = rollout.Arg("increment", "单次增量").Default("10").Int()
	check := flags.Command("check", "按身份评估开关")
	c.flagKeys["flags check"] = check.Arg("key", "开关 key").Required().String()
	c.flagIdentity = check.Flag("identity", "用户标识").Default(orchestrator.DefaultIdentity).String()
	flags.Command("reset", "恢复内置默认开关")
	return c
}

// run 解析参数并执行子命令，返回进程退出码
func run(args []string, out, errOut io.Writer) int {
	c := newCLI(out, errOut)
	command, err := c.app.Parse(args)
	if err != nil {
		fmt.Fprintf(errOut, "%s: %v\n", consts.AppName, err)
		return 2
	}
	if command == "" {
		// --help 或 --version
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.execute(ctx, command); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(errOut, err.Error())
		}
		return 1
	}
	return 0
}

func (c *cli) loadConfig() (*configs.Config, error) {
	cfg := configs.NewConfig()
	if *c.configFile != "" {
		loaded, err := configs.NewConfigWithFile(*c.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(nil)
	if *c.debug {
		cfg.Debug = true
	}
	return cfg, cfg.Verify()
}

func (c *cli) execute(ctx context.Context, command string) (err error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	configs.SetCurrentConfig(cfg)

	_, logCloser, err := log.New(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if *c.metricsFile != "" {
		defer func() {
			if werr := writeMetrics(*c.metricsFile); werr != nil {
				log.WithComponent("cli").WithError(werr).Warn("failed to write metrics")
			}
		}()
	}

	inst, err := instance.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer inst.Close()
	// 在 Close 刷新之前上报
	defer func() {
		if err != nil && !errors.Is(err, errRunFailed) {
			sentry.CaptureException(err)
		}
	}()

	orch := inst.Orchestrator
	switch command {
	case "status":
		report, err := orch.Status(ctx)
		if err != nil {
			return err
		}
		return c.print(report)
	case "plans":
		return c.print(orch.Plans())
	case "progress":
		progress, err := orch.GetMigrationProgress(ctx)
		if err != nil {
			return err
		}
		return c.print(progress)
	case "migrate":
		result, err := orch.ExecutePlan(ctx, *c.migratePlan)
		if result == nil {
			return err
		}
		if err != nil {
			log.WithComponent("cli").WithError(err).Error("migration failed")
		}
		return c.printResult(result)
	case "rollback":
		return c.printResult(orch.RollbackFromBackup(ctx))
	case "reset":
		if err := orch.ResetMigrationState(ctx); err != nil {
			return err
		}
		return c.print(map[string]bool{"reset": true})
	case "import":
		data, err := os.ReadFile(*c.importFile)
		if err != nil {
			return err
		}
		n, err := orch.ImportLegacy(ctx, data)
		if err != nil {
			return err
		}
		return c.print(map[string]int{"imported": n})
	case "backups":
		backups, err := inst.Migrator.Backups().ListBackups(ctx)
		if err != nil {
			return err
		}
		return c.print(backups)
	}
	return c.executeFlags(ctx, inst.Flags, command)
}

func (c *cli) executeFlags(ctx context.Context, flags *featureflag.Registry, command string) error {
	var key string
	if p, ok := c.flagKeys[command]; ok {
		key = *p
	}
	switch command {
	case "flags list":
		return c.print(flags.List())
	case "flags enable":
		if err := flags.EnableFlag(ctx, key, *c.flagRollout); err != nil {
			return err
		}
	case "flags disable":
		if err := flags.DisableFlag(ctx, key); err != nil {
			return err
		}
	case "flags rollout":
		if _, err := flags.GradualRollout(ctx, key, *c.flagTarget, *c.flagIncrement); err != nil {
			return err
		}
	case "flags check":
		enabled := flags.IsEnabled(key, featureflag.Context{Identity: *c.flagIdentity})
		return c.print(map[string]any{
			"key":     key,
			"enabled": enabled,
			"bucket":  flags.Bucket(*c.flagIdentity, key),
		})
	case "flags reset":
		if err := flags.ResetToDefaults(ctx); err != nil {
			return err
		}
		return c.print(flags.List())
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	flag, _ := flags.Get(key)
	return c.print(flag)
}

// writeMetrics 以文本格式写出本进程指标
func writeMetrics(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := metrics.Dump(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// printResult 输出结果（不含快照数据），失败时返回 errRunFailed
func (c *cli) printResult(result *migration.MigrationResult) error {
	summary := *result
	summary.RollbackData = nil
	if err := c.print(summary); err != nil {
		return err
	}
	if !result.Success {
		return errRunFailed
	}
	return nil
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
