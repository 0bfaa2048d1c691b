package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/utrading/utrading-live-engine/config"
	"github.com/utrading/utrading-live-engine/internal/coordination"
	"github.com/utrading/utrading-live-engine/internal/dal"
	"github.com/utrading/utrading-live-engine/internal/dao"
	"github.com/utrading/utrading-live-engine/internal/instrument"
	"github.com/utrading/utrading-live-engine/internal/leader"
	"github.com/utrading/utrading-live-engine/internal/models"
	"github.com/utrading/utrading-live-engine/internal/nats"
)

var testNow = time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

type fakeLeader struct {
	leader atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

func newFakeLeader(leader bool) *fakeLeader {
	f := &fakeLeader{}
	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.leader.Store(leader)
	return f
}

func (f *fakeLeader) Verify(context.Context) bool {
	return f.leader.Load()
}

func (f *fakeLeader) LeadershipContext() context.Context {
	return f.ctx
}

type alertSink struct {
	mu     sync.Mutex
	alerts []*nats.RolloverAlert
}

func (s *alertSink) PublishRollover(a *nats.RolloverAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dal.OpenSQLite(filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dal.CloseDB(db) })
	return db
}

func testCatalog() *instrument.Catalog {
	return instrument.New(
		instrument.Instrument{
			Symbol:       "BANKNIFTY",
			BrokerSymbol: "BANKNIFTY24MARFUT",
			PointValue:   decimal.NewFromInt(30),
			MarginPerLot: decimal.NewFromInt(270000),
			Expiry:       time.Date(2024, 3, 27, 0, 0, 0, 0, time.UTC),
		},
		instrument.Instrument{
			Symbol:       "GOLDM",
			BrokerSymbol: "GOLDM24JUNFUT",
			PointValue:   decimal.NewFromInt(10),
			MarginPerLot: decimal.NewFromInt(100000),
			Expiry:       time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
		},
	)
}

func openPosition(t *testing.T, db *gorm.DB, inst string, level int, lots int64) {
	t.Helper()
	err := dao.NewPositionDAO(db).Create(context.Background(), &models.Position{
		Instrument:   inst,
		Label:        "Long_1",
		Direction:    models.DirectionLong,
		PyramidLevel: level,
		Lots:         lots,
		EntryPrice:   decimal.NewFromInt(100),
		StopPrice:    decimal.NewFromInt(90),
		InitialStop:  decimal.NewFromInt(90),
		PointValue:   decimal.NewFromInt(1),
		Status:       models.PositionOpen,
		Fingerprint:  inst,
		OpenedAt:     testNow,
	})
	require.NoError(t, err)
}

func newTasks(db *gorm.DB, alerts AlertPublisher) *Tasks {
	tasks := NewTasks(db, testCatalog(), alerts, config.Default().Scheduler)
	tasks.now = func() time.Time { return testNow }
	return tasks
}

func TestRollover_AlertsNearExpiry(t *testing.T) {
	db := setupDB(t)
	openPosition(t, db, "BANKNIFTY", 0, 2)
	openPosition(t, db, "BANKNIFTY", 1, 1)
	openPosition(t, db, "GOLDM", 0, 3)

	sink := &alertSink{}
	alerts, err := newTasks(db, sink).Rollover(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "BANKNIFTY", alerts[0].Instrument)
	assert.Equal(t, 7, alerts[0].DaysToExpiry)
	assert.Equal(t, int64(3), alerts[0].OpenLots)
	assert.Equal(t, 2, alerts[0].Positions)
	assert.Equal(t, "2024-03-27", alerts[0].Expiry)
	assert.Len(t, sink.alerts, 1)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	signals := dao.NewSignalDAO(db)
	tasks := newTasks(db, nil)

	insert := func(fp, status string, created time.Time) {
		require.NoError(t, signals.Insert(ctx, &models.SignalLog{
			Fingerprint: fp,
			Type:        "BASE_ENTRY",
			Instrument:  "BANKNIFTY",
			Label:       "Long_1",
			Price:       decimal.NewFromInt(52000),
			SignalTime:  created,
			ClaimedBy:   "engine-a",
			Status:      status,
			CreatedAt:   created,
		}))
	}
	insert("stale", models.SignalClaimed, testNow.Add(-time.Hour))
	insert("fresh", models.SignalClaimed, testNow.Add(-time.Minute))
	insert("ancient", models.SignalExecuted, testNow.Add(-60*24*time.Hour))

	instances := dao.NewInstanceDAO(db)
	require.NoError(t, instances.Heartbeat(ctx, &models.InstanceMetadata{
		InstanceID: "gone", Role: models.RoleFollower, StartedAt: testNow.Add(-72 * time.Hour), LastSeenAt: testNow.Add(-48 * time.Hour),
	}))
	require.NoError(t, instances.Heartbeat(ctx, &models.InstanceMetadata{
		InstanceID: "alive", Role: models.RoleLeader, StartedAt: testNow.Add(-time.Hour), LastSeenAt: testNow,
	}))

	require.NoError(t, tasks.Prune(ctx))

	row, err := signals.GetByFingerprint(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.SignalManualReview, row.Status)

	row, err = signals.GetByFingerprint(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.SignalClaimed, row.Status)

	_, err = signals.GetByFingerprint(ctx, "ancient")
	assert.True(t, errors.Is(err, dao.ErrNotFound))

	alive, err := instances.ListAlive(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, alive, 1)
	assert.Equal(t, "alive", alive[0].InstanceID)

	// 幂等
	require.NoError(t, tasks.Prune(ctx))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	openPosition(t, db, "BANKNIFTY", 0, 2)
	require.NoError(t, dao.NewInstanceDAO(db).Heartbeat(ctx, &models.InstanceMetadata{
		InstanceID: "engine-a", Role: models.RoleLeader, StartedAt: testNow, LastSeenAt: testNow,
	}))

	stats, err := newTasks(db, nil).Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.InstancesAlive)
	assert.Equal(t, int64(1), stats.OpenPositions)
}

func TestScheduler_OnlyLeaderRuns(t *testing.T) {
	fl := newFakeLeader(false)
	s := New(fl)
	var runs atomic.Int32
	s.Register(Job{Name: "count", Interval: time.Hour, Run: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}})

	ran, err := s.RunNow("count")
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, int32(0), runs.Load())

	fl.leader.Store(true)
	ran, err = s.RunNow("count")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(1), runs.Load())

	_, err = s.RunNow("missing")
	assert.Error(t, err)
}

func TestScheduler_LeadershipLossCancelsJob(t *testing.T) {
	fl := newFakeLeader(true)
	s := New(fl)
	started := make(chan struct{})
	s.Register(Job{Name: "slow", Interval: time.Hour, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.RunNow("slow")
		errCh <- err
	}()
	<-started
	fl.cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("job not cancelled")
	}
}

func TestScheduler_StartStopWithElector(t *testing.T) {
	backend := coordination.NewMemoryBackend(time.Hour)
	elector := leader.NewElector(coordination.NewClient(backend, time.Second), nil, "engine-a", time.Second)
	elector.Step(context.Background())
	require.True(t, elector.IsLeader())

	s := New(elector)
	var runs atomic.Int32
	s.Register(Job{Name: "tick", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}})
	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Equal(t, []string{"tick"}, s.Jobs())
}
