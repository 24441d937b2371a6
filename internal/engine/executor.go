// Package engine owns the single money-movement path of the core. Every
// producer of executions (the pending-order worker, the risk monitor, the
// strategy engine) commits through Executor.ExecuteOrder; there is no
// privileged fast path, so one invariant set governs all mutation.
package engine

import (
	"context"
	"errors"
	"fmt"

	"brokerd/internal/gateway/notifier"
	"brokerd/internal/ledger"
	"brokerd/internal/logger"
	"brokerd/internal/pkg/money"
	"brokerd/internal/store/gormstore"
	"brokerd/internal/types"
)

// versionRetries bounds transparent retries on optimistic save conflicts.
const versionRetries = 3

// AdmissionChecker is the pre-commit risk gate. Implemented by the risk
// service; an error here is fatal to the calling job, a disallowed verdict
// terminally blocks the order.
type AdmissionChecker interface {
	ValidateTradeRisk(ctx context.Context, order *types.Order, fillPrice float64) (types.TradeCheck, error)
}

type Executor struct {
	store     *gormstore.Store
	admission AdmissionChecker
	notifier  notifier.TextNotifier
	feeRate   float64

	locks userLocks
}

func NewExecutor(store *gormstore.Store, admission AdmissionChecker, n notifier.TextNotifier, feeRate float64) *Executor {
	if n == nil {
		n = notifier.Noop{}
	}
	return &Executor{
		store:     store,
		admission: admission,
		notifier:  n,
		feeRate:   feeRate,
	}
}

// SetAdmission late-binds the risk gate. The risk service needs the
// executor for protective sells, so the two are wired in two steps.
func (e *Executor) SetAdmission(a AdmissionChecker) {
	e.admission = a
}

// ExecuteOrder commits one fill to the user's ledger. It is safe to call
// again for an already-settled order id: the pending-status guard turns the
// replay into a no-op. A nil return means the order reached a terminal
// state (executed, cancelled or blocked); an error means the attempt should
// be retried by the caller's scheduling layer.
func (e *Executor) ExecuteOrder(ctx context.Context, orderID string, fillPrice float64) error {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order.Status != types.OrderStatusPending {
		logger.Debugf("engine: order %s already %s, skip", orderID, order.Status)
		return nil
	}
	if fillPrice <= 0 {
		return fmt.Errorf("order %s: invalid fill price %.8f", orderID, fillPrice)
	}

	// Same-user attempts serialize here; cross-process writers are caught
	// by the portfolio version check below.
	unlock := e.locks.lock(order.UserID)
	defer unlock()

	if e.admission != nil {
		check, err := e.admission.ValidateTradeRisk(ctx, order, fillPrice)
		if err != nil {
			return fmt.Errorf("risk admission for order %s: %w", orderID, err)
		}
		if !check.Allowed {
			return e.blockOrder(ctx, order, fillPrice, check.Violations)
		}
	}

	fees := money.Fee(fillPrice, order.Quantity, e.feeRate)
	exec := ledger.Execution{
		Symbol:   order.Symbol,
		Action:   order.Action,
		Quantity: order.Quantity,
		Price:    fillPrice,
		Fees:     fees,
	}

	for attempt := 0; ; attempt++ {
		p, err := e.store.LoadPortfolio(ctx, order.UserID)
		if err != nil {
			return fmt.Errorf("load portfolio %s: %w", order.UserID, err)
		}
		res, err := ledger.Apply(p, exec)
		if errors.Is(err, ledger.ErrInsufficientCash) || errors.Is(err, ledger.ErrInsufficientHoldings) {
			return e.cancelOrder(ctx, order, err.Error())
		}
		if err != nil {
			return fmt.Errorf("apply order %s: %w", orderID, err)
		}

		err = e.store.Transact(func(tx *gormstore.Store) error {
			// Status guard first: if the order was cancelled out-of-band
			// the whole transaction rolls back as a no-op.
			if err := tx.MarkOrderExecuted(ctx, order.ID, fillPrice, fees, res.RealizedPnL); err != nil {
				return err
			}
			return tx.SavePortfolio(ctx, p)
		})
		switch {
		case err == nil:
			logger.Infof("engine: order %s executed %s %s %.8f @ %.4f (fees %.2f)",
				order.ID, order.Action, order.Symbol, order.Quantity, fillPrice, fees)
			e.notifyAsync(order, fillPrice, res.RealizedPnL)
			return nil
		case errors.Is(err, gormstore.ErrStatusChanged):
			logger.Infof("engine: order %s no longer pending, commit aborted", order.ID)
			return nil
		case errors.Is(err, gormstore.ErrVersionConflict):
			if attempt+1 >= versionRetries {
				return fmt.Errorf("order %s: portfolio contention persists: %w", orderID, err)
			}
			continue // transparent retry on a fresh snapshot
		default:
			return fmt.Errorf("commit order %s: %w", orderID, err)
		}
	}
}

// CancelOrder cancels a pending order out-of-band. Safe against an
// in-flight execution: the status guard lets exactly one side win.
func (e *Executor) CancelOrder(ctx context.Context, orderID, reason string) error {
	if reason == "" {
		reason = "cancelled by user"
	}
	err := e.store.CloseOrder(ctx, orderID, types.OrderStatusCancelled, reason)
	if errors.Is(err, gormstore.ErrStatusChanged) {
		return fmt.Errorf("order %s is no longer open", orderID)
	}
	return err
}

func (e *Executor) blockOrder(ctx context.Context, order *types.Order, price float64, violations []string) error {
	reason := "risk limits exceeded"
	if len(violations) > 0 {
		reason = violations[0]
	}
	if err := e.store.CloseOrder(ctx, order.ID, types.OrderStatusBlocked, reason); err != nil {
		if errors.Is(err, gormstore.ErrStatusChanged) {
			return nil
		}
		return err
	}
	audit := &types.RiskAction{
		UserID:     order.UserID,
		Action:     types.RiskActionTradeBlocked,
		Symbol:     order.Symbol,
		Quantity:   order.Quantity,
		Price:      price,
		Reason:     reason,
		Violations: violations,
		Status:     "completed",
	}
	if err := e.store.AppendRiskAction(ctx, audit); err != nil {
		logger.Warnf("engine: audit write failed for blocked order %s: %v", order.ID, err)
	}
	logger.Infof("engine: order %s blocked: %s", order.ID, reason)
	e.notifier.SendTextAsync(fmt.Sprintf("Order %s %s %s blocked: %s", order.ID, order.Action, order.Symbol, reason))
	return nil
}

func (e *Executor) cancelOrder(ctx context.Context, order *types.Order, reason string) error {
	if err := e.store.CloseOrder(ctx, order.ID, types.OrderStatusCancelled, reason); err != nil {
		if errors.Is(err, gormstore.ErrStatusChanged) {
			return nil
		}
		return err
	}
	logger.Infof("engine: order %s cancelled: %s", order.ID, reason)
	e.notifier.SendTextAsync(fmt.Sprintf("Order %s %s %s cancelled: %s", order.ID, order.Action, order.Symbol, reason))
	return nil
}

// notifyAsync fires the trade notification without ever blocking or
// failing the committed trade.
func (e *Executor) notifyAsync(order *types.Order, price float64, pnl *float64) {
	msg := fmt.Sprintf("Executed %s %s %.8f @ %.4f", order.Action, order.Symbol, order.Quantity, price)
	if pnl != nil {
		msg += fmt.Sprintf(" (realized PnL %.2f)", *pnl)
	}
	if order.TriggeredBy != "" {
		msg += " [" + order.TriggeredBy + "]"
	}
	e.notifier.SendTextAsync(msg)
}

// FeeFor exposes the fee schedule to intake estimation.
func (e *Executor) FeeFor(price, qty float64) float64 {
	return money.Fee(price, qty, e.feeRate)
}
