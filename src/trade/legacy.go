// Package trade 定义交易日志记录的旧版与增强版结构，以及二者之间的转换与校验
package trade

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidJSON 输入不是合法 JSON
	ErrInvalidJSON = errors.New("invalid json")
	// ErrNotObject 记录不是 JSON 对象
	ErrNotObject = errors.New("legacy record must be a json object")
	// ErrNotArray 记录集合不是 JSON 数组
	ErrNotArray = errors.New("legacy collection must be a json array")
)

// FieldKind 旧版字段的原始类型
type FieldKind int

const (
	KindMissing FieldKind = iota
	KindNull
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

func (k FieldKind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "unknown"
}

// RawField 旧版记录中的一个字段，保留其原始类型
// 所有"类型不确定"的处理都集中在这里，后续业务逻辑只接触 EnhancedRecord
type RawField struct {
	Kind  FieldKind
	Str   string
	Num   float64
	Bool  bool
	Items []RawField
	// Raw 字段原始 JSON 文本
	Raw string
}

func newRawField(r gjson.Result) RawField {
	if !r.Exists() {
		return RawField{Kind: KindMissing}
	}
	f := RawField{Raw: r.Raw}
	switch r.Type {
	case gjson.Null:
		f.Kind = KindNull
	case gjson.String:
		f.Kind = KindString
		f.Str = r.Str
	case gjson.Number:
		f.Kind = KindNumber
		f.Num = r.Num
	case gjson.True, gjson.False:
		f.Kind = KindBool
		f.Bool = r.Type == gjson.True
	case gjson.JSON:
		if r.IsArray() {
			f.Kind = KindArray
			r.ForEach(func(_, item gjson.Result) bool {
				f.Items = append(f.Items, newRawField(item))
				return true
			})
		} else {
			f.Kind = KindObject
		}
	}
	return f
}

// Present 字段存在且不为 null
func (f RawField) Present() bool {
	return f.Kind != KindMissing && f.Kind != KindNull
}

// Text 返回字段的文本形式，非标量返回空串
func (f RawField) Text() string {
	switch f.Kind {
	case KindString:
		return f.Str
	case KindNumber, KindBool:
		return f.Raw
	}
	return ""
}

// Float 将字段解析为有限浮点数，接受数字与数字字符串
// present 表示字段有值，ok 表示值可以解析
func (f RawField) Float() (value float64, present bool, ok bool) {
	switch f.Kind {
	case KindMissing, KindNull:
		return 0, false, false
	case KindNumber:
		return f.Num, true, !math.IsNaN(f.Num) && !math.IsInf(f.Num, 0)
	case KindString:
		s := strings.TrimSpace(f.Str)
		if s == "" {
			return 0, false, false
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, true, false
		}
		return v, true, true
	}
	return 0, true, false
}

// List 将逗号分隔字符串或数组统一为去重、去空白的字符串切片，永不返回 nil
func (f RawField) List() []string {
	var parts []string
	switch f.Kind {
	case KindString:
		parts = strings.Split(f.Str, ",")
	case KindArray:
		for _, item := range f.Items {
			parts = append(parts, item.Text())
		}
	}

	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// LegacyRecord 旧版交易记录
// 字段类型松散，原始 JSON 原样保留，序列化时逐字节还原
type LegacyRecord struct {
	fields map[string]RawField
	raw    []byte
}

// ParseLegacy 解析单条旧版记录
func ParseLegacy(data []byte) (LegacyRecord, error) {
	if !gjson.ValidBytes(data) {
		return LegacyRecord{}, ErrInvalidJSON
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return LegacyRecord{}, ErrNotObject
	}
	return newLegacyRecord(root), nil
}

// ParseLegacyCollection 解析旧版记录数组
func ParseLegacyCollection(data []byte) ([]LegacyRecord, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, ErrNotArray
	}

	records := make([]LegacyRecord, 0)
	var parseErr error
	index := 0
	root.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			parseErr = fmt.Errorf("element %d: %w", index, ErrNotObject)
			return false
		}
		records = append(records, newLegacyRecord(item))
		index++
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return records, nil
}

func newLegacyRecord(obj gjson.Result) LegacyRecord {
	rec := LegacyRecord{
		fields: make(map[string]RawField),
		raw:    []byte(obj.Raw),
	}
	obj.ForEach(func(key, value gjson.Result) bool {
		rec.fields[key.String()] = newRawField(value)
		return true
	})
	return rec
}

// Field 按名称取字段，不存在时 Kind 为 KindMissing
func (r LegacyRecord) Field(name string) RawField {
	if f, ok := r.fields[name]; ok {
		return f
	}
	return RawField{Kind: KindMissing}
}

// first 返回第一个有值的字段，用于兼容字段别名
func (r LegacyRecord) first(names ...string) RawField {
	for _, name := range names {
		if f := r.Field(name); f.Present() {
			return f
		}
	}
	return RawField{Kind: KindMissing}
}

// ID 记录 ID
func (r LegacyRecord) ID() string {
	return r.Field("id").Text()
}

// Len 字段数量
func (r LegacyRecord) Len() int {
	return len(r.fields)
}

// MarshalJSON 输出原始 JSON
func (r LegacyRecord) MarshalJSON() ([]byte, error) {
	if len(r.raw) == 0 {
		return []byte("{}"), nil
	}
	return r.raw, nil
}

// UnmarshalJSON 实现 json.Unmarshaler
func (r *LegacyRecord) UnmarshalJSON(data []byte) error {
	rec, err := ParseLegacy(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}
