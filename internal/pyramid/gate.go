package pyramid

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-live-engine/config"
	"github.com/utrading/utrading-live-engine/internal/models"
)

// 拒绝原因，按判定顺序
const (
	ReasonState         = "state"
	ReasonProfitability = "profitability"
	ReasonSpacing       = "spacing"
	ReasonMomentum      = "momentum"
	ReasonCapacity      = "capacity"
)

// Phase 品种的金字塔阶段
type Phase string

const (
	PhaseNoPosition Phase = "NO_POSITION"
	PhaseBaseOpen   Phase = "BASE_OPEN"
	PhasePyramiding Phase = "PYRAMIDING"
)

// PhaseOf 由状态推导阶段
func PhaseOf(s *models.PyramidState) Phase {
	switch {
	case s == nil || !s.BaseOpen || s.Count < 0:
		return PhaseNoPosition
	case s.Count == 0:
		return PhaseBaseOpen
	default:
		return PhasePyramiding
	}
}

type Config struct {
	MaxLevels         int
	SpacingATR        decimal.Decimal
	MomentumEnabled   bool
	MomentumThreshold decimal.Decimal
}

func ConfigFrom(c config.Pyramid) Config {
	return Config{
		MaxLevels:         c.MaxLevels,
		SpacingATR:        decimal.NewFromFloat(c.SpacingATR),
		MomentumEnabled:   c.MomentumEnabled,
		MomentumThreshold: decimal.NewFromFloat(c.MomentumThreshold),
	}
}

type Input struct {
	State     *models.PyramidState
	Base      *models.Position // 底仓
	Direction string
	Price     decimal.Decimal
	ATR       decimal.Decimal

	// ROC 回看区间涨跌幅（百分比），未知时 Valid 为 false
	ROC decimal.NullDecimal

	MarginLots  int64
	MarginBound bool // false 表示保证金不受限
	ScalingLots int64
}

type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

func reject(reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Evaluate 依次检查 state -> profitability -> spacing -> momentum -> capacity，遇到第一个失败即返回
func Evaluate(in Input, cfg Config) Decision {
	phase := PhaseOf(in.State)
	if phase == PhaseNoPosition || in.Base == nil {
		return reject(ReasonState, "no base position")
	}
	if in.State.Count >= cfg.MaxLevels {
		return reject(ReasonState, "level %d reached max %d", in.State.Count, cfg.MaxLevels)
	}
	if in.Direction != "" && in.Direction != in.Base.Direction {
		return reject(ReasonState, "direction %s differs from base %s", in.Direction, in.Base.Direction)
	}

	profit := in.Base.ProfitPerUnit(in.Price)
	risk := in.Base.InitialRiskPerUnit()
	if !profit.GreaterThan(risk) {
		return reject(ReasonProfitability, "profit %s <= initial risk %s", profit, risk)
	}

	move := in.Price.Sub(in.State.LastEntryPrice).Mul(models.DirectionSign(in.Base.Direction))
	need := cfg.SpacingATR.Mul(in.ATR)
	if move.LessThan(need) {
		return reject(ReasonSpacing, "move %s < %s x atr %s", move, cfg.SpacingATR, in.ATR)
	}

	if cfg.MomentumEnabled {
		if !in.ROC.Valid {
			return reject(ReasonMomentum, "roc unavailable")
		}
		roc := in.ROC.Decimal.Mul(models.DirectionSign(in.Base.Direction))
		if !roc.GreaterThan(cfg.MomentumThreshold) {
			return reject(ReasonMomentum, "roc %s <= threshold %s", roc, cfg.MomentumThreshold)
		}
	}

	if in.MarginBound && in.MarginLots < 1 {
		return reject(ReasonCapacity, "margin allows %d lots", in.MarginLots)
	}
	if in.ScalingLots < 1 {
		return reject(ReasonCapacity, "scaling allows %d lots", in.ScalingLots)
	}

	return Decision{Approved: true}
}

// ROC 百分比变化，past 为 0 时无效
func ROC(now, past decimal.Decimal) decimal.NullDecimal {
	if past.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(now.Sub(past).Div(past).Mul(decimal.NewFromInt(100)))
}
