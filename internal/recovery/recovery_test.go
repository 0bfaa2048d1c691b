package recovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/utrading/utrading-live-engine/internal/dal"
	"github.com/utrading/utrading-live-engine/internal/models"
	"github.com/utrading/utrading-live-engine/internal/portfolio"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func setup(t *testing.T) (*portfolio.Manager, *gorm.DB) {
	t.Helper()
	db, err := dal.OpenSQLite(filepath.Join(t.TempDir(), "recovery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dal.CloseDB(db) })

	pm := portfolio.NewManager(db, portfolio.Config{
		InitialEquity:             d("5000000"),
		MaxInstrumentRiskFraction: d("0.1"),
		MaxConflictRetries:        3,
	})
	_, err = pm.Ensure(context.Background())
	require.NoError(t, err)
	return pm, db
}

func seed(t *testing.T, pm *portfolio.Manager) {
	ctx := context.Background()
	for _, inst := range []string{"NIFTY", "BANKNIFTY"} {
		_, err := pm.Apply(ctx, &portfolio.Transition{
			Kind:         portfolio.KindOpen,
			Instrument:   inst,
			Label:        "Long_1",
			Direction:    models.DirectionLong,
			Lots:         1,
			Price:        d("20000"),
			Stop:         d("19800"),
			ATR:          d("150"),
			PointValue:   d("25"),
			MarginPerLot: d("150000"),
			Fingerprint:  "fp-" + inst,
		})
		require.NoError(t, err)
	}
	_, err := pm.Apply(ctx, &portfolio.Transition{
		Kind:         portfolio.KindScale,
		Instrument:   "NIFTY",
		Label:        "Long_2",
		Direction:    models.DirectionLong,
		Lots:         1,
		Price:        d("20400"),
		Stop:         d("20200"),
		ATR:          d("150"),
		PointValue:   d("25"),
		MarginPerLot: d("150000"),
		Fingerprint:  "fp-scale",
	})
	require.NoError(t, err)
}

func TestRun_IdempotentSnapshot(t *testing.T) {
	ctx := context.Background()
	pm, _ := setup(t)
	seed(t, pm)

	r := New(pm)
	assert.False(t, r.Ready())

	first, err := r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, r.Ready())
	assert.Empty(t, first.Violations)
	assert.Len(t, first.View.Positions, 3)

	second, err := New(pm).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(first.Snapshot), string(second.Snapshot))
	assert.Same(t, second, r.Last())
}

func TestRun_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	pm, db := setup(t)
	seed(t, pm)

	require.NoError(t, db.Exec("UPDATE portfolio_state SET margin_used = 1").Error)
	require.NoError(t, db.Exec("UPDATE pyramid_states SET count = 3 WHERE instrument = ?", "BANKNIFTY").Error)

	r := New(pm)
	report, err := r.Run(ctx)
	assert.ErrorIs(t, err, ErrHealthCheckFailed)
	assert.False(t, r.Ready())
	require.NotNil(t, report)
	assert.Len(t, report.Violations, 2)
	assert.Contains(t, err.Error(), "margin_used")
	assert.Contains(t, err.Error(), "BANKNIFTY pyramid state")
}

func TestValidate_AllViolations(t *testing.T) {
	positions := []*models.Position{
		{ID: 1, Instrument: "X", PyramidLevel: 0, Lots: 10, EntryPrice: d("100"), StopPrice: d("0"), PointValue: d("1000"), MarginUsed: d("10")},
		{ID: 2, Instrument: "X", PyramidLevel: 0, Lots: 1, EntryPrice: d("100"), StopPrice: d("90"), PointValue: d("1"), MarginUsed: d("10")},
		{ID: 3, Instrument: "Y", PyramidLevel: 0, Lots: 1, EntryPrice: d("100"), StopPrice: d("90"), PointValue: d("1"), MarginUsed: d("10")},
	}
	for _, p := range positions {
		p.Status = models.PositionOpen
	}
	pyramids := []*models.PyramidState{
		{Instrument: "X", BaseOpen: true, Count: 0},
		{Instrument: "Z", BaseOpen: true, Count: 1},
	}
	v := &portfolio.View{
		Portfolio: models.PortfolioState{Equity: d("2000000"), Watermark: d("1000000"), MarginUsed: d("5")},
		RiskByInstrument: map[string]decimal.Decimal{
			"X": d("1000010"),
			"Y": d("10"),
		},
		Positions: positions,
		Pyramids:  pyramids,
	}

	out := Validate(v, d("0.1"))
	require.Len(t, out, 6)
	assert.Contains(t, out[0], "slot X:0")
	assert.Contains(t, out[1], "instrument X risk")
	assert.Contains(t, out[2], "watermark")
	assert.Contains(t, out[3], "margin_used")
	assert.Contains(t, out[4], "instrument Y has open positions but no pyramid state")
	assert.Contains(t, out[5], "instrument Z pyramid state")
}
