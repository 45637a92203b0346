// Package metrics 迁移与特性开关的 Prometheus 指标
package metrics

import (
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "tjmigrate"

var (
	// RecordsMigrated 成功迁移的记录数
	RecordsMigrated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "migrator",
		Name:      "records_migrated_total",
		Help:      "Total legacy records migrated to the enhanced schema",
	})

	// RecordsFailed 校验失败的记录数
	// Labels: outcome (skipped, failed)
	RecordsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "migrator",
		Name:      "records_invalid_total",
		Help:      "Records that failed validation, by outcome",
	}, []string{"outcome"})

	// BatchDuration 每个批次的处理时间
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "migrator",
		Name:      "batch_duration_seconds",
		Help:      "Time spent transforming and persisting one batch",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// PlanRuns 计划执行次数
	// Labels: plan, status (completed, failed, rolled_back)
	PlanRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "plan_runs_total",
		Help:      "Migration plan executions by terminal status",
	}, []string{"plan", "status"})

	// StepDuration 步骤耗时
	// Labels: step, status (completed, failed, skipped)
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "step_duration_seconds",
		Help:      "Migration step duration in seconds",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	}, []string{"step", "status"})

	// FlagEvaluations 特性开关求值次数
	// Labels: flag, result (on, off, unknown)
	FlagEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flags",
		Name:      "evaluations_total",
		Help:      "Feature flag evaluations by result",
	}, []string{"flag", "result"})
)

// Dump 以文本格式输出本进程注册的指标
func Dump(w io.Writer) error {
	return DumpFrom(prometheus.DefaultGatherer, w)
}

// DumpFrom 从指定 Gatherer 输出本子系统的指标
func DumpFrom(g prometheus.Gatherer, w io.Writer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	for _, mf := range families {
		if !ownFamily(mf) {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func ownFamily(mf *dto.MetricFamily) bool {
	return strings.HasPrefix(mf.GetName(), namespace+"_")
}
