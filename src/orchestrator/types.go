// Package orchestrator 按声明式计划执行交易记录结构迁移
// 计划由有序步骤组成，步骤之间顺序执行，每一步结束后持久化进度
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/migration"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/trade"
)

// 存储键
const (
	KeyProgress   = "migration.progress"
	KeyFlagBackup = "migration.flags"
)

var (
	// ErrUnknownPlan 计划 ID 不存在
	ErrUnknownPlan = errors.New("unknown migration plan")
	// ErrInvalidPlan 步骤顺序或依赖关系不合法
	ErrInvalidPlan = errors.New("invalid migration plan")
	// ErrMigrationInProgress 已有迁移在执行
	ErrMigrationInProgress = errors.New("migration already in progress")
	// ErrCancelled 迁移被取消
	ErrCancelled = errors.New("migration cancelled")
	// ErrStepFailed 必需步骤失败
	ErrStepFailed = errors.New("required step failed")
)

// Status 迁移进度状态
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRolledBack
}

// StepStatus 步骤状态
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Run 一次计划执行（或回滚）过程中步骤之间共享的状态
type Run struct {
	ID       string
	Plan     *Plan
	Result   *migration.MigrationResult
	Records  []trade.LegacyRecord
	Snapshot *migration.Snapshot
	Logger   *logrus.Entry
}

// StepFunc 步骤实现
type StepFunc func(ctx context.Context, run *Run) error

// Step 计划中的一个步骤
type Step struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Order        int      `json:"order"`
	Required     bool     `json:"required"`
	Dependencies []string `json:"dependencies,omitempty"`
	Run          StepFunc `json:"-"`
}

// Plan 迁移计划
type Plan struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	DryRun        bool   `json:"dryRun"`
	Steps         []Step `json:"steps"`
	RollbackSteps []Step `json:"rollbackSteps,omitempty"`
}

func (p *Plan) clone() *Plan {
	cp := *p
	cp.Steps = cloneSteps(p.Steps)
	cp.RollbackSteps = cloneSteps(p.RollbackSteps)
	return &cp
}

func cloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		s.Dependencies = append([]string(nil), s.Dependencies...)
		out[i] = s
	}
	return out
}

// StepResult 单个步骤的执行情况
type StepResult struct {
	StepID       string     `json:"stepId"`
	Status       StepStatus `json:"status"`
	Required     bool       `json:"required"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Progress 持久化的迁移进度
type Progress struct {
	PlanID       string       `json:"planId"`
	RunID        string       `json:"runId"`
	Rollback     bool         `json:"rollback,omitempty"`
	Status       Status       `json:"status"`
	CurrentStep  string       `json:"currentStep,omitempty"`
	Steps        []StepResult `json:"steps"`
	Percentage   int          `json:"percentage"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// NewProgress 为一组步骤创建未开始的进度
func NewProgress(planID, runID string, steps []Step, now time.Time) *Progress {
	results := make([]StepResult, 0, len(steps))
	for _, s := range steps {
		results = append(results, StepResult{StepID: s.ID, Status: StepPending, Required: s.Required})
	}
	return &Progress{
		PlanID:    planID,
		RunID:     runID,
		Status:    StatusNotStarted,
		Steps:     results,
		UpdatedAt: now,
	}
}

// MarkStarted 进入 in_progress
func (p *Progress) MarkStarted(now time.Time) {
	p.Status = StatusInProgress
	p.StartedAt = &now
	p.UpdatedAt = now
}

// MarkCompleted 标记完成
func (p *Progress) MarkCompleted(now time.Time) {
	p.finish(StatusCompleted, "", now)
}

// MarkFailed 标记失败
func (p *Progress) MarkFailed(msg string, now time.Time) {
	p.finish(StatusFailed, msg, now)
}

// MarkRolledBack 标记已回滚
func (p *Progress) MarkRolledBack(now time.Time) {
	p.finish(StatusRolledBack, "", now)
}

func (p *Progress) finish(status Status, msg string, now time.Time) {
	p.Status = status
	p.ErrorMessage = msg
	p.CurrentStep = ""
	p.CompletedAt = &now
	p.UpdatedAt = now
}

// Step 按 ID 查找步骤结果
func (p *Progress) Step(id string) *StepResult {
	for i := range p.Steps {
		if p.Steps[i].StepID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// stepStarted 记录步骤开始
func (p *Progress) stepStarted(id string, now time.Time) {
	if s := p.Step(id); s != nil {
		s.Status = StepRunning
		s.StartedAt = &now
	}
	p.CurrentStep = id
	p.UpdatedAt = now
}

// stepFinished 记录步骤结束并重新计算百分比
func (p *Progress) stepFinished(id string, status StepStatus, msg string, now time.Time) {
	if s := p.Step(id); s != nil {
		s.Status = status
		s.ErrorMessage = msg
		if status != StepSkipped {
			s.CompletedAt = &now
		}
	}
	p.UpdatedAt = now
	p.updatePercentage()
}

func (p *Progress) updatePercentage() {
	if len(p.Steps) == 0 {
		p.Percentage = 100
		return
	}
	done := 0
	for _, s := range p.Steps {
		if s.Status == StepCompleted || s.Status == StepFailed || s.Status == StepSkipped {
			done++
		}
	}
	p.Percentage = done * 100 / len(p.Steps)
}

// PlanError 计划相关错误：未知计划、非法依赖、必需步骤失败、取消
type PlanError struct {
	PlanID string
	StepID string
	Err    error
}

func (e *PlanError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("plan %s: step %s: %v", e.PlanID, e.StepID, e.Err)
	}
	return fmt.Sprintf("plan %s: %v", e.PlanID, e.Err)
}

func (e *PlanError) Unwrap() error {
	return e.Err
}

// StatusReport 迁移状态汇总
type StatusReport struct {
	CurrentVersion    string                       `json:"currentVersion"`
	TargetVersion     string                       `json:"targetVersion"`
	History           []migration.MigrationVersion `json:"history"`
	Progress          *Progress                    `json:"progress"`
	MigrationNeeded   bool                         `json:"migrationNeeded"`
	RollbackAvailable bool                         `json:"rollbackAvailable"`
	Backups           []migration.BackupInfo       `json:"backups"`
	Running           bool                         `json:"running"`
}
