package sizing

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-live-engine/config"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func defaultConfig() Config {
	return ConfigFrom(config.Default().Risk, config.Default().Pyramid)
}

func workedExample() Inputs {
	return Inputs{
		Watermark:       d("5000000"),
		MarginAvailable: d("800000"),
		Entry:           d("52000"),
		Stop:            d("51650"),
		ATR:             d("350"),
		PointValue:      d("30"),
		MarginPerLot:    d("270000"),
		ER:              d("1"),
	}
}

func TestSize_WorkedExample(t *testing.T) {
	res, err := Size(workedExample(), defaultConfig())
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Lots)
	assert.Equal(t, "vol_or_margin", res.Binding)

	risk, _ := res.Ceiling(BindRisk)
	vol, _ := res.Ceiling(BindVol)
	margin, _ := res.Ceiling(BindMargin)
	assert.Equal(t, int64(7), risk)
	assert.Equal(t, int64(2), vol)
	assert.Equal(t, int64(2), margin)
}

func TestSize_Deterministic(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	cfg := defaultConfig()
	for i := 0; i < 200; i++ {
		in := Inputs{
			Watermark:       decimal.NewFromInt(rnd.Int63n(10_000_000) + 1),
			MarginAvailable: decimal.NewFromInt(rnd.Int63n(5_000_000)),
			Entry:           decimal.NewFromInt(50_000 + rnd.Int63n(1000)),
			Stop:            decimal.NewFromInt(49_000 + rnd.Int63n(900)),
			ATR:             decimal.NewFromInt(rnd.Int63n(500)),
			PointValue:      decimal.NewFromInt(rnd.Int63n(50) + 1),
			MarginPerLot:    decimal.NewFromInt(rnd.Int63n(300_000)),
			ER:              decimal.NewFromFloat(rnd.Float64()).Round(4),
		}
		a, errA := Size(in, cfg)
		b, errB := Size(in, cfg)
		require.NoError(t, errA)
		require.NoError(t, errB)
		assert.Equal(t, a, b)
		assert.GreaterOrEqual(t, a.Lots, int64(0))
	}
}

func TestSize_SkipsZeroCeilings(t *testing.T) {
	in := workedExample()
	in.ATR = decimal.Zero
	in.MarginPerLot = decimal.Zero

	res, err := Size(in, defaultConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Lots)
	assert.Equal(t, BindRisk, res.Binding)
	_, ok := res.Ceiling(BindVol)
	assert.False(t, ok)
	_, ok = res.Ceiling(BindMargin)
	assert.False(t, ok)
}

func TestSize_ZeroStopDistance(t *testing.T) {
	in := workedExample()
	in.Stop = in.Entry
	_, err := Size(in, defaultConfig())
	assert.ErrorIs(t, err, ErrZeroStopDistance)

	in = workedExample()
	in.PointValue = decimal.Zero
	_, err = Size(in, defaultConfig())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSize_NoTradeIsValid(t *testing.T) {
	in := workedExample()
	in.MarginAvailable = d("100000")

	res, err := Size(in, defaultConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Lots)
	assert.Equal(t, BindMargin, res.Binding)

	// 保证金为负时手数仍为 0
	in.MarginAvailable = d("-100000")
	res, err = Size(in, defaultConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Lots)
	assert.Equal(t, BindMargin, res.Binding)
}

func TestSize_PyramidScaling(t *testing.T) {
	in := workedExample()
	in.MarginAvailable = d("5000000")
	in.ATR = d("100")
	in.Pyramid = true
	in.PrevLots = 4
	in.ER = d("0.6")

	res, err := Size(in, defaultConfig())
	require.NoError(t, err)
	// floor(4 * 0.5 * 0.6) = 1
	assert.Equal(t, int64(1), res.Lots)
	assert.Equal(t, BindScaling, res.Binding)
}

func TestSize_SuggestedCap(t *testing.T) {
	in := workedExample()
	in.SuggestedLots = 1

	res, err := Size(in, defaultConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Lots)

	cfg := defaultConfig()
	cfg.CapToSuggested = true
	res, err = Size(in, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Lots)
	assert.Equal(t, BindSuggested, res.Binding)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, int64(2), floorDiv(d("7"), d("3")))
	assert.Equal(t, int64(-3), floorDiv(d("-7"), d("3")))
	assert.Equal(t, int64(3), floorDiv(d("9"), d("3")))
	assert.Equal(t, int64(0), floorDiv(d("0.99"), d("1")))
}
