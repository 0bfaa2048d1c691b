package dao

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/utrading/utrading-live-engine/internal/dal"
	"github.com/utrading/utrading-live-engine/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dal.OpenSQLite(filepath.Join(t.TempDir(), "dao.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dal.CloseDB(db) })
	return db
}

func openPosition(instrument string, level int) *models.Position {
	return &models.Position{
		Instrument:   instrument,
		Label:        "Long_1",
		Direction:    models.DirectionLong,
		PyramidLevel: level,
		Lots:         2,
		EntryPrice:   decimal.NewFromInt(52000),
		StopPrice:    decimal.NewFromInt(51650),
		InitialStop:  decimal.NewFromInt(51650),
		PointValue:   decimal.NewFromInt(30),
		MarginUsed:   decimal.NewFromInt(540000),
		Status:       models.PositionOpen,
		Fingerprint:  "fp",
		OpenedAt:     time.Now(),
	}
}

func TestPositionDAO_OptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	d := NewPositionDAO(setupTestDB(t))

	p := openPosition("BANKNIFTY", 0)
	require.NoError(t, d.Create(ctx, p))
	assert.Equal(t, int64(1), p.Version)
	require.NotNil(t, p.OpenSlot)
	assert.Equal(t, "BANKNIFTY:0", *p.OpenSlot)

	// 两个读者拿到同一版本
	a, err := d.Get(ctx, p.ID)
	require.NoError(t, err)
	b, err := d.Get(ctx, p.ID)
	require.NoError(t, err)

	a.StopPrice = decimal.NewFromInt(51800)
	require.NoError(t, d.Update(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.StopPrice = decimal.NewFromInt(51900)
	assert.ErrorIs(t, d.Update(ctx, b), ErrVersionConflict)

	got, err := d.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.StopPrice.Equal(decimal.NewFromInt(51800)))
}

func TestPositionDAO_OneOpenPerSlot(t *testing.T) {
	ctx := context.Background()
	d := NewPositionDAO(setupTestDB(t))

	require.NoError(t, d.Create(ctx, openPosition("BANKNIFTY", 0)))
	assert.ErrorIs(t, d.Create(ctx, openPosition("BANKNIFTY", 0)), ErrDuplicate)
	assert.NoError(t, d.Create(ctx, openPosition("BANKNIFTY", 1)))
	assert.NoError(t, d.Create(ctx, openPosition("GOLDM", 0)))

	open, err := d.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 3)
	assert.Equal(t, "BANKNIFTY", open[0].Instrument)
	assert.Equal(t, 1, open[1].PyramidLevel)
	assert.Equal(t, "GOLDM", open[2].Instrument)

	n, err := d.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPositionDAO_CloseFreesSlot(t *testing.T) {
	ctx := context.Background()
	d := NewPositionDAO(setupTestDB(t))

	p := openPosition("BANKNIFTY", 0)
	require.NoError(t, d.Create(ctx, p))

	now := time.Now()
	p.Status = models.PositionClosed
	p.OpenSlot = nil
	p.ExitPrice = decimal.NewNullDecimal(decimal.NewFromInt(52500))
	p.RealizedPnL = decimal.NewNullDecimal(decimal.NewFromInt(30000))
	p.ClosedAt = &now
	require.NoError(t, d.Update(ctx, p))

	assert.NoError(t, d.Create(ctx, openPosition("BANKNIFTY", 0)))

	list, err := d.ListOpenByInstrument(ctx, "BANKNIFTY")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPyramidDAO_Save(t *testing.T) {
	ctx := context.Background()
	d := NewPyramidDAO(setupTestDB(t))

	s, err := d.Get(ctx, "BANKNIFTY")
	require.NoError(t, err)
	assert.Equal(t, uint(0), s.ID)
	assert.Equal(t, models.NoPosition, s.Count)

	s.BaseOpen = true
	s.Count = 0
	s.LastEntryPrice = decimal.NewFromInt(52000)
	require.NoError(t, d.Save(ctx, s))

	got, err := d.Get(ctx, "BANKNIFTY")
	require.NoError(t, err)
	assert.True(t, got.BaseOpen)
	assert.Equal(t, 0, got.Count)

	// 并发新建同一品种
	dup := models.NewPyramidState("BANKNIFTY")
	assert.ErrorIs(t, d.Save(ctx, dup), ErrVersionConflict)

	stale := *got
	got.Count = 1
	require.NoError(t, d.Save(ctx, got))
	stale.Count = 2
	assert.ErrorIs(t, d.Save(ctx, &stale), ErrVersionConflict)
}

func TestPortfolioDAO_EnsureAndUpdate(t *testing.T) {
	ctx := context.Background()
	d := NewPortfolioDAO(setupTestDB(t))

	s, err := d.Ensure(ctx, decimal.NewFromInt(5000000))
	require.NoError(t, err)
	assert.True(t, s.Equity.Equal(decimal.NewFromInt(5000000)))
	assert.True(t, s.Watermark.Equal(decimal.NewFromInt(5000000)))

	s.MarginUsed = decimal.NewFromInt(540000)
	require.NoError(t, d.Update(ctx, s))

	// 再次 Ensure 不覆盖
	again, err := d.Ensure(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, again.MarginUsed.Equal(decimal.NewFromInt(540000)))
	assert.Equal(t, int64(2), again.Version)
	assert.True(t, again.MarginAvailable().Equal(decimal.NewFromInt(4460000)))

	s.Version = 1
	assert.ErrorIs(t, d.Update(ctx, s), ErrVersionConflict)
}

func signalRow(fp string, created time.Time) *models.SignalLog {
	return &models.SignalLog{
		Fingerprint: fp,
		Type:        "BASE_ENTRY",
		Instrument:  "BANKNIFTY",
		Label:       "Long_1",
		Price:       decimal.NewFromInt(52000),
		SignalTime:  created.UTC(),
		ClaimedBy:   "engine-a",
		Status:      models.SignalClaimed,
		CreatedAt:   created,
	}
}

func TestSignalDAO_Lifecycle(t *testing.T) {
	ctx := context.Background()
	d := NewSignalDAO(setupTestDB(t))

	require.NoError(t, d.Insert(ctx, signalRow("fp-1", time.Now())))
	assert.ErrorIs(t, d.Insert(ctx, signalRow("fp-1", time.Now())), ErrDuplicate)

	require.NoError(t, d.IncDuplicate(ctx, "fp-1"))
	require.NoError(t, d.IncDuplicate(ctx, "fp-1"))
	assert.ErrorIs(t, d.IncDuplicate(ctx, "missing"), ErrNotFound)

	require.NoError(t, d.SetOutcome(ctx, "fp-1", models.Outcome{
		Status: models.SignalExecuted, Lots: 2, BindingConstraint: "vol_or_margin", OrderID: "o-1",
	}))

	row, err := d.GetByFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.DuplicateCount)
	assert.Equal(t, models.SignalExecuted, row.Status)
	assert.Equal(t, "vol_or_margin", row.BindingConstraint)
	assert.True(t, row.Terminal())

	_, err = d.GetByFingerprint(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSignalDAO_StaleClaimsAndRetention(t *testing.T) {
	ctx := context.Background()
	d := NewSignalDAO(setupTestDB(t))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, d.Insert(ctx, signalRow("stale", old)))
	require.NoError(t, d.Insert(ctx, signalRow("fresh", time.Now())))
	done := signalRow("done", old)
	done.Status = models.SignalExecuted
	require.NoError(t, d.Insert(ctx, done))

	n, err := d.MarkStaleClaims(ctx, time.Now().Add(-time.Hour), models.SignalManualReview, "claim expired")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err := d.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.SignalManualReview])
	assert.Equal(t, int64(1), counts[models.SignalClaimed])
	assert.Equal(t, int64(1), counts[models.SignalExecuted])

	// manual_review 不会被保留期清理
	deleted, err := d.DeleteOld(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	fps, err := d.FingerprintsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, fps)
}

func TestSignalDAO_PriceAtOrBefore(t *testing.T) {
	ctx := context.Background()
	d := NewSignalDAO(setupTestDB(t))

	base := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	for i, price := range []int64{100, 105, 110} {
		row := signalRow("fp-"+decimal.NewFromInt(int64(i)).String(), time.Now())
		row.Price = decimal.NewFromInt(price)
		row.SignalTime = base.Add(time.Duration(i) * 5 * time.Minute)
		require.NoError(t, d.Insert(ctx, row))
	}

	price, ok, err := d.PriceAtOrBefore(ctx, "BANKNIFTY", base.Add(7*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(105)))

	_, ok, err = d.PriceAtOrBefore(ctx, "BANKNIFTY", base.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInstanceDAO_Heartbeat(t *testing.T) {
	ctx := context.Background()
	d := NewInstanceDAO(setupTestDB(t))

	now := time.Now()
	require.NoError(t, d.Heartbeat(ctx, &models.InstanceMetadata{
		InstanceID: "engine-a", Role: models.RoleFollower, StartedAt: now, LastSeenAt: now,
	}))
	require.NoError(t, d.Heartbeat(ctx, &models.InstanceMetadata{
		InstanceID: "engine-a", Role: models.RoleLeader, StartedAt: now, LastSeenAt: now.Add(time.Second),
	}))
	require.NoError(t, d.Heartbeat(ctx, &models.InstanceMetadata{
		InstanceID: "engine-b", Role: models.RoleFollower, StartedAt: now, LastSeenAt: now.Add(-time.Hour),
	}))

	alive, err := d.ListAlive(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, alive, 1)
	assert.Equal(t, models.RoleLeader, alive[0].Role)

	n, err := d.DeleteStale(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLeadershipDAO(t *testing.T) {
	ctx := context.Background()
	d := NewLeadershipDAO(setupTestDB(t))

	require.NoError(t, d.Record(ctx, &models.LeadershipHistory{Resource: "scheduler-lock", InstanceID: "a", Event: models.LeaseAcquired}))
	require.NoError(t, d.Record(ctx, &models.LeadershipHistory{Resource: "scheduler-lock", InstanceID: "a", Event: models.LeaseDemoted}))

	list, err := d.ListRecent(ctx, "scheduler-lock", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.LeaseDemoted, list[0].Event)
}

func TestInitDAO_Singletons(t *testing.T) {
	db := setupTestDB(t)
	InitDAO(db)
	assert.NotNil(t, Position())
	assert.NotNil(t, Pyramid())
	assert.NotNil(t, Portfolio())
	assert.NotNil(t, Signal())
	assert.NotNil(t, Instance())
	assert.NotNil(t, Leadership())
}
