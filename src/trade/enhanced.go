package trade

import (
	"errors"
	"time"
)

// SchemaVersion 增强版记录的结构版本
const SchemaVersion = "1.0.0"

// 交易方向
const (
	SideLong  = "long"
	SideShort = "short"
)

// 交易状态
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// 手数类型
const (
	LotStandard = "standard"
	LotMini     = "mini"
	LotMicro    = "micro"
)

// 复盘阶段 ID
const (
	StageSetupReview     = "setup_review"
	StageExecutionReview = "execution_review"
	StageOutcomeReview   = "outcome_review"
	StageEmotionalReview = "emotional_review"
	StageLessonsLearned  = "lessons_learned"
)

// ErrUnknownStage 复盘阶段不存在
var ErrUnknownStage = errors.New("unknown review stage")

// EnhancedRecord 增强版交易记录
type EnhancedRecord struct {
	ID           string   `json:"id" validate:"required"`
	AccountID    string   `json:"accountId" validate:"required"`
	CurrencyPair string   `json:"currencyPair" validate:"required"`
	Date         string   `json:"date,omitempty"`
	TimeIn       string   `json:"timeIn,omitempty"`
	TimeOut      string   `json:"timeOut,omitempty"`
	Side         string   `json:"side" validate:"required,oneof=long short"`
	Status       string   `json:"status" validate:"required,oneof=open closed"`
	EntryPrice   float64  `json:"entryPrice" validate:"gt=0"`
	ExitPrice    *float64 `json:"exitPrice,omitempty" validate:"omitempty,gt=0"`
	StopLoss     *float64 `json:"stopLoss,omitempty" validate:"omitempty,gt=0"`
	TakeProfit   *float64 `json:"takeProfit,omitempty" validate:"omitempty,gt=0"`
	LotSize      float64  `json:"lotSize" validate:"gt=0"`
	LotType      string   `json:"lotType" validate:"oneof=standard mini micro"`
	Units        float64  `json:"units" validate:"gte=0"`
	Pips         *float64 `json:"pips,omitempty"`
	PnL          *float64 `json:"pnl,omitempty"`
	Commission   float64  `json:"commission"`
	Strategy     string   `json:"strategy,omitempty"`
	Tags         []string `json:"tags"`
	// Notes 旧版扁平备注原值，供 ToLegacyFormat 回退使用
	Notes         string     `json:"notes,omitempty"`
	ReviewData    ReviewData `json:"reviewData"`
	SchemaVersion string     `json:"schemaVersion"`
	MigratedAt    time.Time  `json:"migratedAt"`

	// issues 转换阶段发现但无法在类型中表达的问题（如非数字价格）
	issues []ValidationError
}

// ReviewData 复盘数据
type ReviewData struct {
	Workflow ReviewWorkflow `json:"workflow"`
	Notes    Notes          `json:"notes"`
}

// Notes 分段备注
type Notes struct {
	PreTradeNotes    string    `json:"preTradeNotes,omitempty"`
	DuringTradeNotes string    `json:"duringTradeNotes,omitempty"`
	PostTradeNotes   string    `json:"postTradeNotes,omitempty"`
	LessonsLearned   string    `json:"lessonsLearned,omitempty"`
	GeneralNotes     string    `json:"generalNotes,omitempty"`
	Version          int       `json:"version"`
	LastModified     time.Time `json:"lastModified"`
}

// Stage 复盘阶段
type Stage struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Required    bool       `json:"required"`
	Completed   bool       `json:"completed"`
	Notes       string     `json:"notes,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ReviewWorkflow 复盘流程
type ReviewWorkflow struct {
	TradeID         string     `json:"tradeId"`
	Stages          []Stage    `json:"stages"`
	OverallProgress int        `json:"overallProgress"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// NewReviewWorkflow 创建默认复盘流程，所有阶段均未完成
func NewReviewWorkflow(tradeID string, now time.Time) ReviewWorkflow {
	return ReviewWorkflow{
		TradeID: tradeID,
		Stages: []Stage{
			{ID: StageSetupReview, Name: "Setup Review", Description: "Review the trade setup and entry criteria", Required: true},
			{ID: StageExecutionReview, Name: "Execution Review", Description: "Evaluate entry, management and exit execution", Required: true},
			{ID: StageOutcomeReview, Name: "Outcome Review", Description: "Analyze the result against the plan", Required: true},
			{ID: StageEmotionalReview, Name: "Emotional Review", Description: "Reflect on emotional state during the trade", Required: false},
			{ID: StageLessonsLearned, Name: "Lessons Learned", Description: "Capture takeaways for future trades", Required: true},
		},
		StartedAt: now,
	}
}

// Progress 按已完成阶段数计算的整体进度 (0-100)
func (w *ReviewWorkflow) Progress() int {
	if len(w.Stages) == 0 {
		return 0
	}
	done := 0
	for _, s := range w.Stages {
		if s.Completed {
			done++
		}
	}
	// 整数除法保证只有全部完成时才是 100
	return done * 100 / len(w.Stages)
}

// CompleteStage 完成指定阶段
// 全部阶段完成时设置 CompletedAt，且只设置一次
func (w *ReviewWorkflow) CompleteStage(stageID, note string, now time.Time) error {
	i := w.stageIndex(stageID)
	if i < 0 {
		return ErrUnknownStage
	}
	s := &w.Stages[i]
	if !s.Completed {
		s.Completed = true
		t := now
		s.CompletedAt = &t
	}
	if note != "" {
		s.Notes = note
	}

	w.OverallProgress = w.Progress()
	if w.OverallProgress == 100 && w.CompletedAt == nil {
		t := now
		w.CompletedAt = &t
	}
	return nil
}

// ResetStage 将阶段标记为未完成，CompletedAt 保持不变
func (w *ReviewWorkflow) ResetStage(stageID string) error {
	i := w.stageIndex(stageID)
	if i < 0 {
		return ErrUnknownStage
	}
	w.Stages[i].Completed = false
	w.Stages[i].CompletedAt = nil
	w.OverallProgress = w.Progress()
	return nil
}

// RequiredComplete 所有必需阶段是否已完成
func (w *ReviewWorkflow) RequiredComplete() bool {
	for _, s := range w.Stages {
		if s.Required && !s.Completed {
			return false
		}
	}
	return true
}

func (w *ReviewWorkflow) stageIndex(stageID string) int {
	for i := range w.Stages {
		if w.Stages[i].ID == stageID {
			return i
		}
	}
	return -1
}
