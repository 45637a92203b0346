package featureflag

import "time"

// 内置开关
const (
	// FlagEnhancedMigration 是否允许执行增强版结构迁移
	FlagEnhancedMigration = "enhanced_migration"
	// FlagEnhancedTradeSchema 读取增强版交易记录
	FlagEnhancedTradeSchema = "enhanced_trade_schema"
	// FlagReviewWorkflow 复盘流程
	FlagReviewWorkflow = "review_workflow"
	// FlagAdvancedNotes 分段备注
	FlagAdvancedNotes = "advanced_notes"
	// FlagLegacyFallback 增强版读取失败时回退到旧版记录
	FlagLegacyFallback = "legacy_fallback"
)

// SchemaFlags 迁移成功后需要全量打开的开关
func SchemaFlags() []string {
	return []string{FlagEnhancedTradeSchema, FlagReviewWorkflow, FlagAdvancedNotes}
}

// DefaultFlags 内置默认开关集合
func DefaultFlags(now time.Time) []Flag {
	return []Flag{
		{
			Key:               FlagEnhancedMigration,
			Name:              "Enhanced Migration",
			Description:       "Allow migrating legacy trades to the enhanced schema",
			Enabled:           true,
			RolloutPercentage: 100,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		{
			Key:         FlagEnhancedTradeSchema,
			Name:        "Enhanced Trade Schema",
			Description: "Read and write trades in the enhanced schema",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			Key:         FlagReviewWorkflow,
			Name:        "Review Workflow",
			Description: "Staged trade review workflow",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			Key:         FlagAdvancedNotes,
			Name:        "Advanced Notes",
			Description: "Sectioned trade notes",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			Key:               FlagLegacyFallback,
			Name:              "Legacy Fallback",
			Description:       "Fall back to legacy records when enhanced data is unavailable",
			Enabled:           true,
			RolloutPercentage: 100,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
	}
}
