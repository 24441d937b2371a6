package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerd/internal/store/gormstore"
	"brokerd/internal/types"
)

type allowAll struct{}

func (allowAll) ValidateTradeRisk(context.Context, *types.Order, float64) (types.TradeCheck, error) {
	return types.TradeCheck{Allowed: true}, nil
}

type denyAll struct{ violations []string }

func (d denyAll) ValidateTradeRisk(context.Context, *types.Order, float64) (types.TradeCheck, error) {
	return types.TradeCheck{Allowed: false, Violations: d.violations}, nil
}

func newTestExecutor(t *testing.T, initialCash float64) (*Executor, *gormstore.Store) {
	t.Helper()
	store, err := gormstore.New(filepath.Join(t.TempDir(), "engine.db"), initialCash)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewExecutor(store, allowAll{}, nil, 0.001), store
}

func pendingOrder(t *testing.T, store *gormstore.Store, userID string, action types.OrderAction, symbol string, qty float64) *types.Order {
	t.Helper()
	o := &types.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Symbol:    symbol,
		Action:    action,
		Quantity:  qty,
		Type:      types.OrderTypeMarket,
		Status:    types.OrderStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.CreateOrder(context.Background(), o))
	return o
}

func TestExecuteBuyCommitsLedgerAndOrder(t *testing.T) {
	exec, store := newTestExecutor(t, 10000)
	ctx := context.Background()
	o := pendingOrder(t, store, "user-1", types.ActionBuy, "BTCUSDT", 0.1)

	require.NoError(t, exec.ExecuteOrder(ctx, o.ID, 50000))

	saved, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusExecuted, saved.Status)
	require.NotNil(t, saved.ExecutionPrice)
	assert.Equal(t, 50000.0, *saved.ExecutionPrice)
	assert.Equal(t, 5.0, saved.Fees)
	require.NotNil(t, saved.ExecutedAt)

	p, err := store.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)
	// 10000 - 0.1*50000 - 5 fee
	assert.InDelta(t, 4995.0, p.Cash, 1e-9)
	pos, ok := p.Position("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 0.1, pos.Quantity, 1e-12)
	assert.InDelta(t, 50000.0, pos.AvgBuyPrice, 1e-9)
}

func TestExecuteOrderReplayIsNoOp(t *testing.T) {
	exec, store := newTestExecutor(t, 10000)
	ctx := context.Background()
	o := pendingOrder(t, store, "user-1", types.ActionBuy, "BTCUSDT", 0.1)

	require.NoError(t, exec.ExecuteOrder(ctx, o.ID, 50000))
	p1, err := store.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)

	// At-least-once delivery can hand the same task to a worker twice.
	require.NoError(t, exec.ExecuteOrder(ctx, o.ID, 51000))

	p2, err := store.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, p1.Cash, p2.Cash)
	assert.Equal(t, p1.Version, p2.Version)
	saved, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, *saved.ExecutionPrice)
}

func TestExecuteSellRealizesPnL(t *testing.T) {
	exec, store := newTestExecutor(t, 10000)
	ctx := context.Background()

	buy := pendingOrder(t, store, "user-1", types.ActionBuy, "ETHUSDT", 2)
	require.NoError(t, exec.ExecuteOrder(ctx, buy.ID, 2000))

	sell := pendingOrder(t, store, "user-1", types.ActionSell, "ETHUSDT", 2)
	require.NoError(t, exec.ExecuteOrder(ctx, sell.ID, 2500))

	saved, err := store.GetOrder(ctx, sell.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusExecuted, saved.Status)
	require.NotNil(t, saved.RealizedPnL)
	// (2500-2000)*2 minus the 5.00 sell fee
	assert.InDelta(t, 995.0, *saved.RealizedPnL, 1e-9)

	p, err := store.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)
	_, held := p.Position("ETHUSDT")
	assert.False(t, held)
	assert.InDelta(t, 995.0, p.RealizedPnL, 1e-9)
}

func TestExecuteBuyInsufficientCashCancels(t *testing.T) {
	exec, store := newTestExecutor(t, 100)
	ctx := context.Background()
	o := pendingOrder(t, store, "user-1", types.ActionBuy, "BTCUSDT", 1)

	require.NoError(t, exec.ExecuteOrder(ctx, o.ID, 50000))

	saved, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, saved.Status)
	assert.Contains(t, saved.StatusReason, "insufficient cash")

	p, err := store.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.Cash)
}

func TestExecuteSellWithoutHoldingsCancels(t *testing.T) {
	exec, store := newTestExecutor(t, 10000)
	ctx := context.Background()
	o := pendingOrder(t, store, "user-1", types.ActionSell, "BTCUSDT", 1)

	require.NoError(t, exec.ExecuteOrder(ctx, o.ID, 50000))

	saved, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, saved.Status)
	assert.Contains(t, saved.StatusReason, "insufficient holdings")
}

func TestAdmissionDenialBlocksOrderWithAudit(t *testing.T) {
	store, err := gormstore.New(filepath.Join(t.TempDir(), "engine.db"), 10000)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	exec := NewExecutor(store, denyAll{violations: []string{"position size $5000.00 exceeds limit $1000.00"}}, nil, 0.001)

	ctx := context.Background()
	o := pendingOrder(t, store, "user-1", types.ActionBuy, "BTCUSDT", 0.1)
	require.NoError(t, exec.ExecuteOrder(ctx, o.ID, 50000))

	saved, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusBlocked, saved.Status)
	assert.Contains(t, saved.StatusReason, "exceeds limit")

	actions, err := store.ListRiskActions(ctx, gormstore.RiskActionFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, types.RiskActionTradeBlocked, actions[0].Action)
	assert.Equal(t, "BTCUSDT", actions[0].Symbol)

	// Ledger untouched.
	p, err := store.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, p.Cash)
}

func TestCancelBeatsExecution(t *testing.T) {
	exec, store := newTestExecutor(t, 10000)
	ctx := context.Background()
	o := pendingOrder(t, store, "user-1", types.ActionBuy, "BTCUSDT", 0.1)

	require.NoError(t, exec.CancelOrder(ctx, o.ID, "changed my mind"))
	// The execution attempt after cancellation must not move money.
	require.NoError(t, exec.ExecuteOrder(ctx, o.ID, 50000))

	saved, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, saved.Status)
	p, err := store.LoadPortfolio(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, p.Cash)
}

func TestCancelSettledOrderFails(t *testing.T) {
	exec, store := newTestExecutor(t, 10000)
	ctx := context.Background()
	o := pendingOrder(t, store, "user-1", types.ActionBuy, "BTCUSDT", 0.1)
	require.NoError(t, exec.ExecuteOrder(ctx, o.ID, 50000))

	err := exec.CancelOrder(ctx, o.ID, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no longer open")
}

func TestExecuteOrderRejectsInvalidFillPrice(t *testing.T) {
	exec, store := newTestExecutor(t, 10000)
	ctx := context.Background()
	o := pendingOrder(t, store, "user-1", types.ActionBuy, "BTCUSDT", 0.1)

	require.Error(t, exec.ExecuteOrder(ctx, o.ID, 0))

	saved, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPending, saved.Status)
}
