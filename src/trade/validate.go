package trade

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// 校验错误代码
const (
	CodeRequired             = "required"
	CodeInvalidValue         = "invalid_value"
	CodeOutOfRange           = "out_of_range"
	CodeNotNumeric           = "not_numeric"
	CodeNotFinite            = "not_finite"
	CodeMissingExit          = "missing_exit"
	CodeInconsistentProgress = "inconsistent_progress"
)

// recordValidate 增强版记录的结构体标签校验器
var recordValidate *validator.Validate

func init() {
	recordValidate = validator.New()
	// 错误中使用 JSON 字段名
	recordValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidationError 记录不满足增强版结构约束
type ValidationError struct {
	RecordID string `json:"recordId"`
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("record %s: %s: %s", e.RecordID, e.Field, e.Message)
}

// ValidationResult 校验结果
type ValidationResult struct {
	RecordID string
	Errors   []ValidationError
}

// OK 是否通过校验
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Err 将全部错误合并为一个 error，通过时返回 nil
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for i := range r.Errors {
		errs = append(errs, &r.Errors[i])
	}
	return errors.Join(errs...)
}

// Messages 错误描述列表
func (r ValidationResult) Messages() []string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return msgs
}

func (r *ValidationResult) add(field, code, msg string) {
	r.Errors = append(r.Errors, ValidationError{
		RecordID: r.RecordID,
		Field:    field,
		Code:     code,
		Message:  msg,
	})
}

func (r *ValidationResult) has(field string) bool {
	for _, e := range r.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Validate 校验增强版记录，不抛出错误，结果中列出所有问题
func Validate(rec EnhancedRecord) ValidationResult {
	res := ValidationResult{RecordID: rec.ID}

	// 转换阶段已发现的问题优先，同一字段不再重复报告
	for _, issue := range rec.issues {
		issue.RecordID = rec.ID
		res.Errors = append(res.Errors, issue)
	}

	for _, f := range []struct {
		name  string
		value *float64
	}{
		{"entryPrice", &rec.EntryPrice},
		{"exitPrice", rec.ExitPrice},
		{"stopLoss", rec.StopLoss},
		{"takeProfit", rec.TakeProfit},
		{"lotSize", &rec.LotSize},
		{"units", &rec.Units},
		{"pips", rec.Pips},
		{"pnl", rec.PnL},
		{"commission", &rec.Commission},
	} {
		if f.value != nil && !isFinite(*f.value) && !res.has(f.name) {
			res.add(f.name, CodeNotFinite, "must be a finite number")
		}
	}

	if err := recordValidate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			res.add("", CodeInvalidValue, err.Error())
			return res
		}
		for _, fe := range verrs {
			if res.has(fe.Field()) {
				continue
			}
			res.add(fe.Field(), tagCode(fe.Tag()), tagMessage(fe))
		}
	}

	if rec.Tags == nil {
		res.add("tags", CodeInvalidValue, "must be a list, not null")
	}
	if rec.Status == StatusClosed && rec.ExitPrice == nil && !res.has("exitPrice") {
		res.add("exitPrice", CodeMissingExit, "closed trade must carry an exit price")
	}

	wf := rec.ReviewData.Workflow
	if wf.OverallProgress != wf.Progress() {
		res.add("reviewData.workflow.overallProgress", CodeInconsistentProgress,
			fmt.Sprintf("overall progress %d does not match completed stages (%d)", wf.OverallProgress, wf.Progress()))
	}
	return res
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func tagCode(tag string) string {
	switch tag {
	case "required":
		return CodeRequired
	case "gt", "gte", "lt", "lte":
		return CodeOutOfRange
	}
	return CodeInvalidValue
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
