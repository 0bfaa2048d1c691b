package sizing

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-live-engine/config"
)

var (
	ErrZeroStopDistance = errors.New("entry equals stop")
	ErrInvalidInput     = errors.New("invalid sizing input")
)

// 约束名称，顺序即并列时的拼接顺序
const (
	BindRisk      = "risk"
	BindVol       = "vol"
	BindMargin    = "margin"
	BindScaling   = "scaling"
	BindSuggested = "suggested"
)

type Config struct {
	RiskFraction   decimal.Decimal
	VolFraction    decimal.Decimal
	ScalingFactor  decimal.Decimal
	CapToSuggested bool
}

// ConfigFrom 由配置文件构造
func ConfigFrom(risk config.Risk, pyramid config.Pyramid) Config {
	return Config{
		RiskFraction:   decimal.NewFromFloat(risk.RiskFraction),
		VolFraction:    decimal.NewFromFloat(risk.VolFraction),
		ScalingFactor:  decimal.NewFromFloat(pyramid.ScalingFactor),
		CapToSuggested: risk.CapToSuggestedLots,
	}
}

type Inputs struct {
	Watermark       decimal.Decimal
	MarginAvailable decimal.Decimal
	Entry           decimal.Decimal
	Stop            decimal.Decimal
	ATR             decimal.Decimal
	PointValue      decimal.Decimal
	MarginPerLot    decimal.Decimal
	ER              decimal.Decimal

	// 金字塔加仓时为上一层手数
	Pyramid  bool
	PrevLots int64

	SuggestedLots int64
}

// Ceiling 单个约束计算出的手数上限
type Ceiling struct {
	Name string `json:"name"`
	Lots int64  `json:"lots"`
}

type Result struct {
	Lots     int64     `json:"lots"`
	Binding  string    `json:"binding_constraint"`
	Ceilings []Ceiling `json:"ceilings"`
}

// Ceiling 按名称取约束，不存在返回 false
func (r Result) Ceiling(name string) (int64, bool) {
	for _, c := range r.Ceilings {
		if c.Name == name {
			return c.Lots, true
		}
	}
	return 0, false
}

// Size 三重约束计算手数
//
//	risk_lots   = floor(watermark * risk_fraction / (|entry - stop| * point_value))
//	vol_lots    = floor(watermark * vol_fraction / (atr * point_value))
//	margin_lots = floor(margin_available / margin_per_lot)
//
// 取最小值，atr 为 0 跳过波动约束，margin_per_lot 为 0 跳过保证金约束
func Size(in Inputs, cfg Config) (Result, error) {
	if !in.PointValue.IsPositive() {
		return Result{}, errors.Wrap(ErrInvalidInput, "point_value must be positive")
	}
	if in.ATR.IsNegative() || in.MarginPerLot.IsNegative() {
		return Result{}, errors.Wrap(ErrInvalidInput, "atr and margin_per_lot must not be negative")
	}
	dist := in.Entry.Sub(in.Stop).Abs()
	if dist.IsZero() {
		return Result{}, errors.WithStack(ErrZeroStopDistance)
	}

	ceilings := make([]Ceiling, 0, 5)
	ceilings = append(ceilings, Ceiling{
		Name: BindRisk,
		Lots: floorDiv(in.Watermark.Mul(cfg.RiskFraction), dist.Mul(in.PointValue)),
	})
	if !in.ATR.IsZero() {
		ceilings = append(ceilings, Ceiling{
			Name: BindVol,
			Lots: floorDiv(in.Watermark.Mul(cfg.VolFraction), in.ATR.Mul(in.PointValue)),
		})
	}
	if !in.MarginPerLot.IsZero() {
		ceilings = append(ceilings, Ceiling{
			Name: BindMargin,
			Lots: floorDiv(in.MarginAvailable, in.MarginPerLot),
		})
	}
	if in.Pyramid {
		ceilings = append(ceilings, Ceiling{Name: BindScaling, Lots: ScalingLots(in.PrevLots, in.ER, cfg.ScalingFactor)})
	}
	if cfg.CapToSuggested && in.SuggestedLots > 0 {
		ceilings = append(ceilings, Ceiling{Name: BindSuggested, Lots: in.SuggestedLots})
	}

	lowest := ceilings[0].Lots
	for _, c := range ceilings[1:] {
		if c.Lots < lowest {
			lowest = c.Lots
		}
	}
	names := make([]string, 0, len(ceilings))
	for _, c := range ceilings {
		if c.Lots == lowest {
			names = append(names, c.Name)
		}
	}

	lots := lowest
	if lots < 0 {
		lots = 0
	}
	return Result{Lots: lots, Binding: strings.Join(names, "_or_"), Ceilings: ceilings}, nil
}

// ScalingLots floor(prev_lots * factor * er)
func ScalingLots(prevLots int64, er, factor decimal.Decimal) int64 {
	return floorDiv(decimal.NewFromInt(prevLots).Mul(factor).Mul(er), decimal.NewFromInt(1))
}

// MarginLots floor(margin_available / margin_per_lot)，margin_per_lot 为 0 时不受限
func MarginLots(available, perLot decimal.Decimal) (int64, bool) {
	if perLot.IsZero() {
		return 0, false
	}
	return floorDiv(available, perLot), true
}

func floorDiv(a, b decimal.Decimal) int64 {
	q, r := a.QuoRem(b, 0)
	if !r.IsZero() && (r.Sign() < 0) != (b.Sign() < 0) {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.IntPart()
}
