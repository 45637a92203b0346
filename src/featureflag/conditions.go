package featureflag

import (
	"fmt"
	"strconv"
	"strings"
)

// evaluateCondition 判断单个条件是否成立；无法取值或未知运算符时不成立
func evaluateCondition(c Condition, ctx Context) bool {
	actual, ok := conditionSubject(c, ctx)
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return valuesEqual(actual, c.Value)
	case OpNotEquals:
		return !valuesEqual(actual, c.Value)
	case OpGreaterThan, OpLessThan:
		a, okA := toFloat(actual)
		b, okB := toFloat(c.Value)
		if !okA || !okB {
			return false
		}
		if c.Operator == OpGreaterThan {
			return a > b
		}
		return a < b
	case OpIn, OpNotIn:
		list, ok := toList(c.Value)
		if !ok {
			return false
		}
		found := false
		for _, v := range list {
			if valuesEqual(actual, v) {
				found = true
				break
			}
		}
		if c.Operator == OpIn {
			return found
		}
		return !found
	case OpContains:
		if list, ok := toList(actual); ok {
			for _, v := range list {
				if valuesEqual(v, c.Value) {
					return true
				}
			}
			return false
		}
		s, ok := actual.(string)
		if !ok {
			return false
		}
		return strings.Contains(s, fmt.Sprint(c.Value))
	}
	return false
}

func conditionSubject(c Condition, ctx Context) (any, bool) {
	switch c.Type {
	case ConditionUserID:
		return ctx.Identity, true
	case ConditionAccountType:
		return ctx.AccountType, true
	case ConditionTradeCount:
		return ctx.TradeCount, true
	case ConditionCustom:
		if ctx.Custom == nil {
			return nil, false
		}
		v, ok := ctx.Custom[c.Attribute]
		return v, ok
	}
	return nil, false
}

func valuesEqual(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}
