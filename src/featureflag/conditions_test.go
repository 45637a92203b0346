package featureflag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateCondition(t *testing.T) {
	fctx := Context{
		Identity:    "user-7",
		AccountType: "pro",
		TradeCount:  25,
		Custom: map[string]any{
			"region":     "eu-west",
			"strategies": []any{"breakout", "scalp"},
			"score":      4.5,
		},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals", Condition{Type: ConditionAccountType, Operator: OpEquals, Value: "pro"}, true},
		{"equals mismatch", Condition{Type: ConditionAccountType, Operator: OpEquals, Value: "free"}, false},
		{"not equals", Condition{Type: ConditionUserID, Operator: OpNotEquals, Value: "user-8"}, true},
		{"greater than", Condition{Type: ConditionTradeCount, Operator: OpGreaterThan, Value: 20}, true},
		{"greater than json number", Condition{Type: ConditionTradeCount, Operator: OpGreaterThan, Value: float64(25)}, false},
		{"less than", Condition{Type: ConditionTradeCount, Operator: OpLessThan, Value: 30}, true},
		{"less than non numeric", Condition{Type: ConditionTradeCount, Operator: OpLessThan, Value: "many"}, false},
		{"in", Condition{Type: ConditionUserID, Operator: OpIn, Value: []any{"user-1", "user-7"}}, true},
		{"in string slice", Condition{Type: ConditionAccountType, Operator: OpIn, Value: []string{"free", "trial"}}, false},
		{"in non list", Condition{Type: ConditionUserID, Operator: OpIn, Value: "user-7"}, false},
		{"not in", Condition{Type: ConditionAccountType, Operator: OpNotIn, Value: []any{"free"}}, true},
		{"not in member", Condition{Type: ConditionAccountType, Operator: OpNotIn, Value: []any{"pro"}}, false},
		{"contains string", Condition{Type: ConditionCustom, Attribute: "region", Operator: OpContains, Value: "eu"}, true},
		{"contains list", Condition{Type: ConditionCustom, Attribute: "strategies", Operator: OpContains, Value: "scalp"}, true},
		{"contains list miss", Condition{Type: ConditionCustom, Attribute: "strategies", Operator: OpContains, Value: "swing"}, false},
		{"custom numeric", Condition{Type: ConditionCustom, Attribute: "score", Operator: OpGreaterThan, Value: 4}, true},
		{"custom missing attribute", Condition{Type: ConditionCustom, Attribute: "nope", Operator: OpNotEquals, Value: "x"}, false},
		{"unknown operator", Condition{Type: ConditionAccountType, Operator: "matches", Value: "pro"}, false},
		{"unknown type", Condition{Type: "geo", Operator: OpEquals, Value: "pro"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluateCondition(tt.cond, fctx))
		})
	}
}
