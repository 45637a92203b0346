// Package featureflag 特性开关注册表
// 支持按百分比灰度（确定性分桶）与条件定向，状态持久化到记录存储
package featureflag

import (
	"errors"
	"time"
)

var (
	// ErrUnknownFlag 开关不存在
	ErrUnknownFlag = errors.New("unknown feature flag")
	// ErrFlagExists 创建时开关已存在
	ErrFlagExists = errors.New("feature flag already exists")
	// ErrInvalidFlag 开关定义不合法
	ErrInvalidFlag = errors.New("invalid feature flag")
)

// ConditionType 条件类型
type ConditionType string

const (
	ConditionUserID      ConditionType = "user_id"
	ConditionAccountType ConditionType = "account_type"
	ConditionTradeCount  ConditionType = "trade_count"
	ConditionCustom      ConditionType = "custom"
)

// Operator 条件运算符
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
)

// Condition 定向条件
type Condition struct {
	Type     ConditionType `json:"type" yaml:"type"`
	Operator Operator      `json:"operator" yaml:"operator"`
	Value    any           `json:"value" yaml:"value"`
	// Attribute 仅 custom 类型使用，指定 Context.Custom 中的键
	Attribute string `json:"attribute,omitempty" yaml:"attribute,omitempty"`
}

// Flag 特性开关
type Flag struct {
	Key               string            `json:"key"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Enabled           bool              `json:"enabled"`
	RolloutPercentage int               `json:"rolloutPercentage"`
	Conditions        []Condition       `json:"conditions,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Context 求值上下文，由调用方每次传入，不持久化
type Context struct {
	// Identity 用户标识，为空时按 "anonymous" 分桶
	Identity    string
	AccountType string
	TradeCount  int
	Custom      map[string]any
}

// FlagUpdate 部分更新，nil 字段保持不变
type FlagUpdate struct {
	Name              *string
	Description       *string
	Enabled           *bool
	RolloutPercentage *int
	Conditions        *[]Condition
	Metadata          map[string]string
}

// ClampRollout 将灰度百分比限制在 [0,100]
func ClampRollout(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func (f Flag) clone() Flag {
	out := f
	if f.Conditions != nil {
		out.Conditions = append([]Condition(nil), f.Conditions...)
	}
	if f.Metadata != nil {
		out.Metadata = make(map[string]string, len(f.Metadata))
		for k, v := range f.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
