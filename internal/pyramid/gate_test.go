package pyramid

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/utrading/utrading-live-engine/config"
	"github.com/utrading/utrading-live-engine/internal/models"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func basePosition(direction string, entry, stop decimal.Decimal) *models.Position {
	return &models.Position{
		Instrument:   "BANKNIFTY",
		Label:        "Long_1",
		Direction:    direction,
		PyramidLevel: 0,
		Lots:         2,
		EntryPrice:   entry,
		StopPrice:    stop,
		InitialStop:  stop,
		PointValue:   d("30"),
		Status:       models.PositionOpen,
	}
}

func baseState(count int, last decimal.Decimal) *models.PyramidState {
	return &models.PyramidState{Instrument: "BANKNIFTY", BaseOpen: true, Count: count, LastEntryPrice: last}
}

func approvedInput() Input {
	return Input{
		State:       baseState(0, d("52000")),
		Base:        basePosition(models.DirectionLong, d("52000"), d("51650")),
		Direction:   models.DirectionLong,
		Price:       d("52500"),
		ATR:         d("350"),
		MarginLots:  3,
		MarginBound: true,
		ScalingLots: 1,
	}
}

func defaultConfig() Config {
	return ConfigFrom(config.Default().Pyramid)
}

func TestEvaluate_Approved(t *testing.T) {
	dec := Evaluate(approvedInput(), defaultConfig())
	assert.True(t, dec.Approved)
	assert.Empty(t, dec.Reason)
}

func TestEvaluate_OrderedPredicates(t *testing.T) {
	cfg := defaultConfig()

	tests := []struct {
		name   string
		mutate func(in *Input)
		reason string
	}{
		{"no position", func(in *Input) { in.State = models.NewPyramidState("BANKNIFTY") }, ReasonState},
		{"max levels", func(in *Input) { in.State.Count = cfg.MaxLevels }, ReasonState},
		{"opposite direction", func(in *Input) { in.Direction = models.DirectionShort }, ReasonState},
		{"profit equals risk", func(in *Input) { in.Price = d("52350") }, ReasonProfitability},
		{"spacing", func(in *Input) { in.State.LastEntryPrice = d("52400") }, ReasonSpacing},
		{"margin", func(in *Input) { in.MarginLots = 0 }, ReasonCapacity},
		{"scaling", func(in *Input) { in.ScalingLots = 0 }, ReasonCapacity},
		// 状态失败优先于盈利失败
		{"state first", func(in *Input) { in.State.Count = cfg.MaxLevels; in.Price = d("52000") }, ReasonState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := approvedInput()
			tt.mutate(&in)
			dec := Evaluate(in, cfg)
			assert.False(t, dec.Approved)
			assert.Equal(t, tt.reason, dec.Reason)
			assert.NotEmpty(t, dec.Detail)
		})
	}
}

func TestEvaluate_MarginUnbound(t *testing.T) {
	in := approvedInput()
	in.MarginBound = false
	in.MarginLots = 0
	assert.True(t, Evaluate(in, defaultConfig()).Approved)
}

func TestEvaluate_Momentum(t *testing.T) {
	cfg := defaultConfig()
	cfg.MomentumEnabled = true
	cfg.MomentumThreshold = d("0.5")

	in := approvedInput()
	dec := Evaluate(in, cfg)
	assert.Equal(t, ReasonMomentum, dec.Reason)

	in.ROC = decimal.NewNullDecimal(d("0.4"))
	assert.Equal(t, ReasonMomentum, Evaluate(in, cfg).Reason)

	in.ROC = ROC(d("52500"), d("52000"))
	assert.True(t, Evaluate(in, cfg).Approved)
}

func TestEvaluate_Short(t *testing.T) {
	in := approvedInput()
	in.Base = basePosition(models.DirectionShort, d("52000"), d("52350"))
	in.Direction = models.DirectionShort
	in.Price = d("51500")
	assert.True(t, Evaluate(in, defaultConfig()).Approved)

	in.Price = d("52500")
	assert.Equal(t, ReasonProfitability, Evaluate(in, defaultConfig()).Reason)
}

// 随机输入下，只要浮盈不超过初始风险就必须以 profitability 拒绝
func TestEvaluate_RandomizedProfitNotAboveRisk(t *testing.T) {
	rnd := rand.New(rand.NewSource(99))
	cfg := defaultConfig()

	for i := 0; i < 1000; i++ {
		entry := decimal.NewFromInt(10_000 + rnd.Int63n(50_000))
		riskUnits := decimal.NewFromInt(1 + rnd.Int63n(1_000))
		direction := models.DirectionLong
		if rnd.Intn(2) == 0 {
			direction = models.DirectionShort
		}
		sign := models.DirectionSign(direction)
		stop := entry.Sub(riskUnits.Mul(sign))
		// 浮盈在 [-risk, risk] 内
		profit := decimal.NewFromInt(rnd.Int63n(2*riskUnits.IntPart()+1)).Sub(riskUnits)
		price := entry.Add(profit.Mul(sign))

		in := Input{
			State:       baseState(rnd.Intn(cfg.MaxLevels), entry),
			Base:        basePosition(direction, entry, stop),
			Direction:   direction,
			Price:       price,
			ATR:         decimal.NewFromInt(rnd.Int63n(100)),
			ROC:         decimal.NewNullDecimal(d("5")),
			MarginLots:  10,
			MarginBound: true,
			ScalingLots: 10,
		}
		dec := Evaluate(in, cfg)
		assert.False(t, dec.Approved)
		assert.Equal(t, ReasonProfitability, dec.Reason, "entry=%s stop=%s price=%s", entry, stop, price)
	}
}

func TestPhaseOf(t *testing.T) {
	assert.Equal(t, PhaseNoPosition, PhaseOf(nil))
	assert.Equal(t, PhaseNoPosition, PhaseOf(models.NewPyramidState("X")))
	assert.Equal(t, PhaseBaseOpen, PhaseOf(baseState(0, decimal.Zero)))
	assert.Equal(t, PhasePyramiding, PhaseOf(baseState(2, decimal.Zero)))
}
