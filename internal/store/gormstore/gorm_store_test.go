package gormstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerd/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "store.db"), 10000)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadPortfolioLazyCreatesWithSeedCash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, p.Cash)
	assert.Equal(t, 10000.0, p.PeakEquity)
	assert.Empty(t, p.Positions)
}

func TestSavePortfolioVersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)
	b, err := s.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)

	a.Cash = 9000
	require.NoError(t, s.SavePortfolio(ctx, a))

	// The stale snapshot must lose.
	b.Cash = 8000
	err = s.SavePortfolio(ctx, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionConflict)

	p, err := s.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 9000.0, p.Cash)
}

func TestSavePortfolioReconcilesPositionRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)
	p.Positions = map[string]*types.Position{
		"AAPL": {Symbol: "AAPL", Quantity: 10, AvgBuyPrice: 100, TotalInvested: 1000},
		"MSFT": {Symbol: "MSFT", Quantity: 5, AvgBuyPrice: 200, TotalInvested: 1000},
	}
	require.NoError(t, s.SavePortfolio(ctx, p))

	p, err = s.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, p.Positions, 2)

	delete(p.Positions, "MSFT")
	p.Positions["AAPL"].Quantity = 4
	require.NoError(t, s.SavePortfolio(ctx, p))

	p, err = s.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, p.Positions, 1)
	assert.Equal(t, 4.0, p.Positions["AAPL"].Quantity)
}

func TestMarkOrderExecutedOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := &types.Order{
		ID: uuid.NewString(), UserID: "user-1", Symbol: "AAPL",
		Action: types.ActionBuy, Quantity: 1, Type: types.OrderTypeMarket,
		Status: types.OrderStatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, s.CreateOrder(ctx, o))

	require.NoError(t, s.MarkOrderExecuted(ctx, o.ID, 100, 0.1, nil))
	err := s.MarkOrderExecuted(ctx, o.ID, 105, 0.1, nil)
	assert.ErrorIs(t, err, ErrStatusChanged)

	saved, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, *saved.ExecutionPrice)
}

func TestCloseOrderRejectsNonTerminalStatus(t *testing.T) {
	s := newTestStore(t)
	err := s.CloseOrder(context.Background(), "any", types.OrderStatusExecuted, "nope")
	assert.Error(t, err)
}

func TestGetOrderNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRescheduleAttemptSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &QueueTask{Type: "order:check", Payload: []byte(`{}`), MaxAttempts: 3}
	require.NoError(t, s.EnqueueTask(ctx, task))

	lease := func() QueueTask {
		tasks, err := s.LeaseDueTasks(ctx, 1)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		return tasks[0]
	}

	// Silent reschedule: attempts stay at zero no matter how often.
	for i := 0; i < 3; i++ {
		got := lease()
		assert.Equal(t, 0, got.Attempts)
		require.NoError(t, s.RescheduleTask(ctx, got.ID, -time.Second, false, ""))
	}

	// Failure reschedule burns one attempt and records the error.
	got := lease()
	require.NoError(t, s.RescheduleTask(ctx, got.ID, -time.Second, true, "feed down"))
	got = lease()
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "feed down", got.LastError)
}

func TestLeaseSkipsFutureAndRunningTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	future := &QueueTask{Type: "order:check", Payload: []byte(`{}`), RunAt: time.Now().Add(time.Hour), MaxAttempts: 1}
	require.NoError(t, s.EnqueueTask(ctx, future))
	due := &QueueTask{Type: "order:check", Payload: []byte(`{}`), MaxAttempts: 1}
	require.NoError(t, s.EnqueueTask(ctx, due))

	tasks, err := s.LeaseDueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, due.ID, tasks[0].ID)

	// Leased tasks are running and not handed out twice.
	tasks, err = s.LeaseDueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRequeueStaleRunningReclaimsCrashedLeases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &QueueTask{Type: "risk:protective", Payload: []byte(`{}`), MaxAttempts: 3}
	require.NoError(t, s.EnqueueTask(ctx, task))

	leased, err := s.LeaseDueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	// A fresh lease is left alone.
	n, err := s.RequeueStaleRunning(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
	tasks, err := s.LeaseDueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	// With the cutoff in the future the lease counts as abandoned, as it
	// would after a crash and restart.
	n, err = s.RequeueStaleRunning(ctx, -time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	tasks, err = s.LeaseDueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)
}

func TestActivateStrategyGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mkStrategy := func(rules int) *types.Strategy {
		st := &types.Strategy{ID: uuid.NewString(), UserID: "user-1", Name: "s"}
		for i := 0; i < rules; i++ {
			st.Rules = append(st.Rules, types.Rule{
				ID:        fmt.Sprintf("r%d", i),
				Condition: types.RuleCondition{Symbol: "AAPL", Indicator: "price", Operator: ">", Value: 1},
				Action:    types.RuleAction{Type: types.ActionBuy, Quantity: 1},
			})
		}
		st.Status = types.StrategyStatusInactive
		require.NoError(t, s.CreateStrategy(ctx, st))
		return st
	}

	t.Run("no rules refused", func(t *testing.T) {
		st := mkStrategy(0)
		assert.Error(t, s.ActivateStrategy(ctx, st.ID, 10))
	})

	t.Run("per-user cap enforced", func(t *testing.T) {
		first := mkStrategy(1)
		require.NoError(t, s.ActivateStrategy(ctx, first.ID, 1))
		second := mkStrategy(1)
		err := s.ActivateStrategy(ctx, second.ID, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "active strategies")
	})

	t.Run("active strategy cannot be deleted", func(t *testing.T) {
		st := mkStrategy(1)
		require.NoError(t, s.SetStrategyStatus(ctx, st.ID, types.StrategyStatusActive))
		assert.Error(t, s.DeleteStrategy(ctx, st.ID))
		require.NoError(t, s.SetStrategyStatus(ctx, st.ID, types.StrategyStatusInactive))
		assert.NoError(t, s.DeleteStrategy(ctx, st.ID))
		_, err := s.GetStrategy(ctx, st.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSaveStrategyTrimsLogTail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := &types.Strategy{
		ID: uuid.NewString(), UserID: "user-1", Name: "chatty",
		Rules: []types.Rule{{
			ID:        "r1",
			Condition: types.RuleCondition{Symbol: "AAPL", Indicator: "price", Operator: ">", Value: 1},
			Action:    types.RuleAction{Type: types.ActionBuy, Quantity: 1},
		}},
		Status: types.StrategyStatusActive,
	}
	require.NoError(t, s.CreateStrategy(ctx, st))

	for i := 0; i < maxExecutionLogs+50; i++ {
		st.ExecutionLogs = append(st.ExecutionLogs, types.ExecutionLog{
			RuleID: "r1", Status: "executed", Timestamp: time.Now(),
			Reason: fmt.Sprintf("fire %d", i),
		})
	}
	require.NoError(t, s.SaveStrategy(ctx, st))

	got, err := s.GetStrategy(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, got.ExecutionLogs, maxExecutionLogs)
	// The tail keeps the newest entries.
	assert.Equal(t, fmt.Sprintf("fire %d", maxExecutionLogs+49), got.ExecutionLogs[maxExecutionLogs-1].Reason)
}

func TestRiskSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetRiskSettings(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	rs := &types.RiskSettings{
		UserID: "user-1", StopLossPercentage: 5, TakeProfitPercentage: 10,
		MaxDrawdownPercentage: 20, CapitalAllocationPercent: 20,
		DailyLossLimit: 300, AutoStopLossEnabled: true,
		RiskPreset: types.PresetModerate,
	}
	require.NoError(t, s.SaveRiskSettings(ctx, rs))

	got, err := s.GetRiskSettings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.StopLossPercentage)
	assert.True(t, got.AutoStopLossEnabled)

	// Upsert, not duplicate.
	rs.StopLossPercentage = 3
	require.NoError(t, s.SaveRiskSettings(ctx, rs))
	got, err = s.GetRiskSettings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.StopLossPercentage)
}

func TestListUsersWithOpenOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(user string, status types.OrderStatus) {
		o := &types.Order{
			ID: uuid.NewString(), UserID: user, Symbol: "AAPL",
			Action: types.ActionBuy, Quantity: 1, Type: types.OrderTypeMarket,
			Status: status, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
		require.NoError(t, s.CreateOrder(ctx, o))
	}
	mk("alice", types.OrderStatusPending)
	mk("alice", types.OrderStatusPending)
	mk("bob", types.OrderStatusExecuted)

	users, err := s.ListUsersWithOpenOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}
