package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/metrics"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/sentry"
)

// executeSteps 按顺序执行步骤，每一步结束后持久化进度
// 必需步骤失败立即中止；可选步骤失败记为警告后继续
// cancellable 为 true 时在步骤之间检查取消
func (o *Orchestrator) executeSteps(ctx context.Context, run *Run, steps []Step, progress *Progress, cancellable bool) error {
	statuses := make(map[string]StepStatus, len(steps))

	for i, step := range steps {
		if cancellable {
			if err := o.checkCancelled(ctx); err != nil {
				return &PlanError{PlanID: run.Plan.ID, StepID: step.ID, Err: err}
			}
		}

		logger := run.Logger.WithFields(logrus.Fields{
			"step_id": step.ID,
			"step":    fmt.Sprintf("%d/%d", i+1, len(steps)),
		})

		if dep, ok := unmetDependency(step, statuses); !ok {
			msg := fmt.Sprintf("dependency %s not completed", dep)
			statuses[step.ID] = StepSkipped
			progress.stepFinished(step.ID, StepSkipped, msg, o.now())
			o.persistProgress(ctx, progress)
			if step.Required {
				logger.Error("required step skipped: " + msg)
				return &PlanError{PlanID: run.Plan.ID, StepID: step.ID, Err: fmt.Errorf("%w: %s", ErrStepFailed, msg)}
			}
			run.Result.AddWarning("step %s skipped: %s", step.ID, msg)
			logger.Warn("optional step skipped: " + msg)
			continue
		}

		progress.stepStarted(step.ID, o.now())
		logger.Debug("step started")

		start := time.Now()
		err := step.Run(ctx, run)
		elapsed := time.Since(start)

		if err == nil {
			statuses[step.ID] = StepCompleted
			progress.stepFinished(step.ID, StepCompleted, "", o.now())
			o.persistProgress(ctx, progress)
			metrics.StepDuration.WithLabelValues(step.ID, string(StepCompleted)).Observe(elapsed.Seconds())
			logger.WithField("elapsed", elapsed).Info("step completed")
			continue
		}

		statuses[step.ID] = StepFailed
		progress.stepFinished(step.ID, StepFailed, err.Error(), o.now())
		o.persistProgress(ctx, progress)
		metrics.StepDuration.WithLabelValues(step.ID, string(StepFailed)).Observe(elapsed.Seconds())

		if step.Required {
			logger.WithError(err).Error("required step failed")
			return &PlanError{PlanID: run.Plan.ID, StepID: step.ID, Err: fmt.Errorf("%w: %w", ErrStepFailed, err)}
		}
		run.Result.AddWarning("optional step %s failed: %v", step.ID, err)
		sentry.CaptureMessage(fmt.Sprintf("plan %s: optional step %s failed: %v", run.Plan.ID, step.ID, err))
		logger.WithError(err).Warn("optional step failed, continuing")
	}
	return nil
}

// unmetDependency 返回第一个未成功完成的依赖
func unmetDependency(step Step, statuses map[string]StepStatus) (string, bool) {
	for _, dep := range step.Dependencies {
		if statuses[dep] != StepCompleted {
			return dep, false
		}
	}
	return "", true
}

func (o *Orchestrator) checkCancelled(ctx context.Context) error {
	if o.cancelled.Load() {
		return ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

func reverseSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[len(steps)-1-i] = s
	}
	return out
}
