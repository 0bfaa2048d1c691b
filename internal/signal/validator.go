package signal

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"

	"github.com/utrading/utrading-live-engine/internal/instrument"
	"github.com/utrading/utrading-live-engine/internal/models"
)

// Catalog 合约查询
type Catalog interface {
	Get(symbol string) (instrument.Instrument, bool)
}

// Validator 信号校验器，无状态，并发安全
type Validator struct {
	catalog   Catalog
	freshness time.Duration
	bucket    time.Duration
}

func NewValidator(catalog Catalog, freshness, bucket time.Duration) *Validator {
	if freshness <= 0 {
		freshness = 60 * time.Second
	}
	if bucket <= 0 {
		bucket = 60 * time.Second
	}
	return &Validator{catalog: catalog, freshness: freshness, bucket: bucket}
}

func malformed(format string, args ...any) error {
	return errors.Wrapf(ErrMalformedSignal, format, args...)
}

// Validate 解析并校验原始 JSON，成功时返回带指纹的信号
func (v *Validator) Validate(raw []byte, now time.Time) (*Signal, error) {
	if !gjson.ValidBytes(raw) {
		return nil, malformed("invalid json")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, malformed("payload is not an object")
	}

	typ := Type(strings.ToUpper(strings.TrimSpace(doc.Get("type").String())))
	if !typ.Valid() {
		return nil, malformed("type %q", doc.Get("type").String())
	}

	symbol := strings.ToUpper(strings.TrimSpace(doc.Get("instrument").String()))
	if symbol == "" {
		return nil, malformed("instrument is required")
	}

	label := strings.TrimSpace(doc.Get("position").String())
	if label == "" {
		return nil, malformed("position is required")
	}

	sig := &Signal{
		Type:       typ,
		Instrument: symbol,
		Label:      label,
		Direction:  DirectionOf(label),
		ER:         decimal.NewFromInt(1),
	}

	var err error
	if sig.Price, err = requiredDecimal(doc, "price"); err != nil {
		return nil, err
	}
	if !sig.Price.IsPositive() {
		return nil, malformed("price must be positive")
	}

	stop, ok, err := optionalDecimal(doc, "stop")
	if err != nil {
		return nil, err
	}
	if typ.IsEntry() {
		if !ok {
			return nil, malformed("stop is required for %s", typ)
		}
		if !stop.IsPositive() {
			return nil, malformed("stop must be positive")
		}
		if stop.Equal(sig.Price) {
			return nil, malformed("stop equals price")
		}
		// 多头止损在价格下方，空头在上方
		if long := sig.Direction == models.DirectionLong; long != stop.LessThan(sig.Price) {
			return nil, malformed("stop %s on wrong side of price %s for %s", stop, sig.Price, sig.Direction)
		}
	}
	sig.Stop = stop

	atr, ok, err := optionalDecimal(doc, "atr")
	if err != nil {
		return nil, err
	}
	if atr.IsNegative() {
		return nil, malformed("atr must not be negative")
	}
	if typ == Pyramid && (!ok || !atr.IsPositive()) {
		return nil, malformed("atr is required for %s", typ)
	}
	sig.ATR = atr

	er, ok, err := optionalDecimal(doc, "efficiency_ratio")
	if err != nil {
		return nil, err
	}
	if ok {
		if er.IsNegative() || er.GreaterThan(decimal.NewFromInt(1)) {
			return nil, malformed("efficiency_ratio %s outside [0,1]", er)
		}
		sig.ER = er
	}

	roc, ok, err := optionalDecimal(doc, "roc")
	if err != nil {
		return nil, err
	}
	if ok {
		sig.ROC = decimal.NewNullDecimal(roc)
	}

	if res := doc.Get("suggested_lots"); res.Exists() && res.Type != gjson.Null {
		lots, err := cast.ToInt64E(res.Value())
		if err != nil || lots < 0 {
			return nil, malformed("suggested_lots %q", res.Raw)
		}
		sig.SuggestedLots = lots
	}

	ts, err := parseTimestamp(doc.Get("timestamp"))
	if err != nil {
		return nil, err
	}
	if ts.After(now.Add(v.freshness)) {
		return nil, malformed("timestamp %s is in the future", ts.Format(time.RFC3339))
	}
	if now.Sub(ts) > v.freshness {
		return nil, errors.Wrapf(ErrStaleSignal, "age %s exceeds %s", now.Sub(ts).Truncate(time.Millisecond), v.freshness)
	}
	sig.Timestamp = ts

	inst, ok := v.catalog.Get(symbol)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownInstrument, "%s", symbol)
	}
	sig.Instrument = inst.Symbol

	sig.Fingerprint = Fingerprint(sig.Type, sig.Instrument, sig.Label, sig.Timestamp, v.bucket)
	return sig, nil
}

// requiredDecimal 数字或数字字符串
func requiredDecimal(doc gjson.Result, field string) (decimal.Decimal, error) {
	d, ok, err := optionalDecimal(doc, field)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, malformed("%s is required", field)
	}
	return d, nil
}

func optionalDecimal(doc gjson.Result, field string) (decimal.Decimal, bool, error) {
	res := doc.Get(field)
	switch res.Type {
	case gjson.Null:
		return decimal.Zero, false, nil
	case gjson.Number:
		d, err := decimal.NewFromString(res.Raw)
		if err != nil {
			return decimal.Zero, false, malformed("%s %q", field, res.Raw)
		}
		return d, true, nil
	case gjson.String:
		s := strings.TrimSpace(res.Str)
		if s == "" {
			return decimal.Zero, false, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false, malformed("%s %q", field, res.Str)
		}
		return d, true, nil
	default:
		return decimal.Zero, false, malformed("%s has type %s", field, res.Type)
	}
}

// parseTimestamp 支持秒、毫秒时间戳（数字或字符串）和 RFC3339
func parseTimestamp(res gjson.Result) (time.Time, error) {
	switch res.Type {
	case gjson.Number, gjson.String:
	default:
		return time.Time{}, malformed("timestamp is required")
	}

	raw := strings.TrimSpace(res.String())
	if res.Type == gjson.String {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t.UTC(), nil
		}
	}

	n, err := cast.ToInt64E(strings.SplitN(raw, ".", 2)[0])
	if err != nil || n <= 0 {
		return time.Time{}, malformed("timestamp %q", raw)
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
