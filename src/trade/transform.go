package trade

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// DefaultAccountID 旧版记录缺少账户时使用
const DefaultAccountID = "default"

// Defaults 转换时补齐缺失字段所用的默认值
type Defaults struct {
	AccountID string
	// Now 转换时间，保持 MigrateOne 为纯函数
	Now time.Time
}

// unitsPerLot 每手对应的基础货币单位
var unitsPerLot = map[string]int64{
	LotStandard: 100000,
	LotMini:     10000,
	LotMicro:    1000,
}

// MigrateOne 将一条旧版记录转换为增强版记录
// 纯函数：不读写存储，不报错；无法解析的数值记录为问题，由 Validate 报告
func MigrateOne(legacy LegacyRecord, d Defaults) EnhancedRecord {
	rec := EnhancedRecord{
		ID:            legacy.ID(),
		AccountID:     strings.TrimSpace(legacy.first("accountId", "account_id").Text()),
		CurrencyPair:  strings.ToUpper(strings.TrimSpace(legacy.first("currencyPair", "pair", "symbol").Text())),
		Date:          legacy.Field("date").Text(),
		TimeIn:        legacy.Field("timeIn").Text(),
		TimeOut:       legacy.Field("timeOut").Text(),
		Side:          normalizeSide(legacy.first("side", "type").Text()),
		Status:        strings.ToLower(strings.TrimSpace(legacy.Field("status").Text())),
		LotType:       strings.ToLower(strings.TrimSpace(legacy.Field("lotType").Text())),
		Strategy:      legacy.Field("strategy").Text(),
		Tags:          legacy.Field("tags").List(),
		Notes:         legacy.Field("notes").Text(),
		SchemaVersion: SchemaVersion,
		MigratedAt:    d.Now,
	}
	if rec.AccountID == "" {
		rec.AccountID = d.AccountID
	}
	if rec.AccountID == "" {
		rec.AccountID = DefaultAccountID
	}
	if rec.LotType == "" {
		rec.LotType = LotStandard
	}

	rec.EntryPrice, _ = rec.number(legacy, "entryPrice")
	rec.LotSize, _ = rec.number(legacy, "lotSize")
	rec.Commission, _ = rec.number(legacy, "commission")
	rec.ExitPrice = rec.optional(legacy, "exitPrice")
	rec.StopLoss = rec.optional(legacy, "stopLoss")
	rec.TakeProfit = rec.optional(legacy, "takeProfit")
	rec.PnL = rec.optional(legacy, "pnl")

	if units, ok := rec.number(legacy, "units"); ok {
		rec.Units = units
	} else {
		rec.Units = lotUnits(rec.LotSize, rec.LotType)
	}

	rec.Pips = rec.optional(legacy, "pips")
	if rec.Pips == nil && !legacy.Field("pips").Present() &&
		rec.Status == StatusClosed && rec.ExitPrice != nil && rec.EntryPrice > 0 {
		p := PipDistance(rec.CurrencyPair, rec.Side, rec.EntryPrice, *rec.ExitPrice)
		rec.Pips = &p
	}

	rec.ReviewData = ReviewData{
		Workflow: NewReviewWorkflow(rec.ID, d.Now),
		Notes: Notes{
			GeneralNotes: rec.Notes,
			Version:      1,
			LastModified: d.Now,
		},
	}
	return rec
}

// number 读取数值字段；字段有值但无法解析时记录 not_numeric 问题
func (rec *EnhancedRecord) number(legacy LegacyRecord, name string) (float64, bool) {
	v, present, ok := legacy.Field(name).Float()
	if present && !ok {
		rec.issues = append(rec.issues, ValidationError{
			Field:   name,
			Code:    CodeNotNumeric,
			Message: "value " + legacy.Field(name).Raw + " is not numeric",
		})
		return 0, false
	}
	return v, ok
}

func (rec *EnhancedRecord) optional(legacy LegacyRecord, name string) *float64 {
	if v, ok := rec.number(legacy, name); ok {
		return &v
	}
	return nil
}

func normalizeSide(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "buy":
		return SideLong
	case "sell":
		return SideShort
	}
	return s
}

// IsJPYPair 日元交叉盘的点值为 0.01
func IsJPYPair(pair string) bool {
	return strings.Contains(strings.ToUpper(pair), "JPY")
}

// PipDistance 按方向计算入场到出场的点数，保留一位小数
func PipDistance(pair, side string, entry, exit float64) float64 {
	scale := decimal.NewFromInt(10000)
	if IsJPYPair(pair) {
		scale = decimal.NewFromInt(100)
	}
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == SideShort {
		diff = diff.Neg()
	}
	v, _ := diff.Mul(scale).Round(1).Float64()
	return v
}

func lotUnits(lotSize float64, lotType string) float64 {
	per, ok := unitsPerLot[lotType]
	if !ok || lotSize <= 0 {
		return 0
	}
	v, _ := decimal.NewFromFloat(lotSize).Mul(decimal.NewFromInt(per)).Float64()
	return v
}

// legacyWire 旧版记录的输出格式
type legacyWire struct {
	ID           string   `json:"id"`
	AccountID    string   `json:"accountId,omitempty"`
	CurrencyPair string   `json:"currencyPair"`
	Date         string   `json:"date,omitempty"`
	TimeIn       string   `json:"timeIn,omitempty"`
	TimeOut      string   `json:"timeOut,omitempty"`
	Side         string   `json:"side"`
	Status       string   `json:"status"`
	EntryPrice   float64  `json:"entryPrice"`
	ExitPrice    *float64 `json:"exitPrice,omitempty"`
	StopLoss     *float64 `json:"stopLoss,omitempty"`
	TakeProfit   *float64 `json:"takeProfit,omitempty"`
	LotSize      float64  `json:"lotSize"`
	LotType      string   `json:"lotType,omitempty"`
	Units        float64  `json:"units"`
	Pips         *float64 `json:"pips,omitempty"`
	PnL          *float64 `json:"pnl,omitempty"`
	Commission   float64  `json:"commission,omitempty"`
	Strategy     string   `json:"strategy,omitempty"`
	Tags         []string `json:"tags"`
	Notes        string   `json:"notes,omitempty"`
}

// ToLegacyFormat 将增强版记录尽力还原为旧版格式，供仍使用旧结构的调用方
func ToLegacyFormat(rec EnhancedRecord) LegacyRecord {
	notes := rec.ReviewData.Notes.GeneralNotes
	if notes == "" {
		notes = rec.Notes
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	wire := legacyWire{
		ID:           rec.ID,
		AccountID:    rec.AccountID,
		CurrencyPair: rec.CurrencyPair,
		Date:         rec.Date,
		TimeIn:       rec.TimeIn,
		TimeOut:      rec.TimeOut,
		Side:         rec.Side,
		Status:       rec.Status,
		EntryPrice:   rec.EntryPrice,
		ExitPrice:    rec.ExitPrice,
		StopLoss:     rec.StopLoss,
		TakeProfit:   rec.TakeProfit,
		LotSize:      rec.LotSize,
		LotType:      rec.LotType,
		Units:        rec.Units,
		Pips:         rec.Pips,
		PnL:          rec.PnL,
		Commission:   rec.Commission,
		Strategy:     rec.Strategy,
		Tags:         tags,
		Notes:        notes,
	}
	data, err := json.Marshal(wire)
	if err != nil {
		// 只有非有限浮点数会导致失败，此时保留 ID 等文本字段
		wire.EntryPrice, wire.LotSize, wire.Units, wire.Commission = 0, 0, 0, 0
		wire.ExitPrice, wire.StopLoss, wire.TakeProfit, wire.Pips, wire.PnL = nil, nil, nil, nil, nil
		data, _ = json.Marshal(wire)
	}
	return newLegacyRecord(gjson.ParseBytes(data))
}
