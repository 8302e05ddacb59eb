// Package recovery implements the emergency flatten operations: cancel all
// open orders, convert them to market, and square off all positions. Each
// operation acts on every eligible target and reports per-target outcomes
// instead of stopping at the first failure.
package recovery

import (
	"context"
	"log/slog"

	"dartbot/internal/books"
	"dartbot/internal/domain"
	"dartbot/internal/orders"
)

// Runner executes recovery actions against the live account.
type Runner struct {
	books  *books.Reader
	orders *orders.Manager
	log    *slog.Logger
}

// NewRunner creates a recovery Runner.
func NewRunner(b *books.Reader, o *orders.Manager, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		books:  b,
		orders: o,
		log:    logger.With("component", "recovery"),
	}
}

// ActionResult is the outcome for one order or position.
type ActionResult struct {
	ID  string // order ID or trading symbol
	OK  bool
	Err error
}

// Report summarizes a recovery run.
type Report struct {
	Attempted int
	Succeeded int
	Failed    int
	Results   []ActionResult
}

func (r *Report) add(id string, err error) {
	r.Attempted++
	if err == nil {
		r.Succeeded++
	} else {
		r.Failed++
	}
	r.Results = append(r.Results, ActionResult{ID: id, OK: err == nil, Err: err})
}

// CancelAllOrders cancels every open order in the book.
func (r *Runner) CancelAllOrders(ctx context.Context) (*Report, error) {
	open, err := r.books.OpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(open))
	for i, e := range open {
		ids[i] = e.OrderID
	}
	return r.CancelOrders(ctx, ids), nil
}

// CancelOrders cancels the given order IDs, continuing past failures.
func (r *Runner) CancelOrders(ctx context.Context, ids []string) *Report {
	report := &Report{}
	for _, id := range ids {
		_, err := r.orders.Cancel(ctx, id)
		report.add(id, err)
		if err != nil {
			r.log.Warn("cancel failed", "order_id", id, "err", err)
		}
	}
	r.log.Info("cancel run finished", "attempted", report.Attempted, "failed", report.Failed)
	return report
}

// ModifyAllToMarket converts every open order to a market order at its
// remaining quantity, forcing immediate execution.
func (r *Runner) ModifyAllToMarket(ctx context.Context) (*Report, error) {
	open, err := r.books.OpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	return r.modifyToMarket(ctx, open), nil
}

// ModifyToMarket converts the given open orders to market orders.
func (r *Runner) ModifyToMarket(ctx context.Context, ids []string) (*Report, error) {
	open, err := r.books.OpenOrders(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var targets []domain.OrderBookEntry
	for _, e := range open {
		if wanted[e.OrderID] {
			targets = append(targets, e)
		}
	}
	return r.modifyToMarket(ctx, targets), nil
}

func (r *Runner) modifyToMarket(ctx context.Context, entries []domain.OrderBookEntry) *Report {
	report := &Report{}
	for _, e := range entries {
		qty := e.PendingQty
		if qty == 0 {
			qty = e.Quantity
		}
		_, err := r.orders.Modify(ctx, domain.ModifyRequest{
			Exchange:      e.Exchange,
			OrderID:       e.OrderID,
			TradingSymbol: e.TradingSymbol,
			OrderType:     domain.OrderSide(e.OrderType),
			PriceType:     domain.PriceTypeMarket,
			ProductType:   domain.ProductType(e.ProductType),
			Quantity:      qty,
		})
		report.add(e.OrderID, err)
		if err != nil {
			r.log.Warn("modify to market failed", "order_id", e.OrderID, "err", err)
		}
	}
	r.log.Info("modify-to-market run finished", "attempted", report.Attempted, "failed", report.Failed)
	return report
}

// SquareOffAll flattens every non-flat net position with opposite-side
// market orders. Open orders should normally be cancelled first so fills
// racing the square-off do not reopen exposure.
func (r *Runner) SquareOffAll(ctx context.Context) (*Report, error) {
	positions, err := r.books.Positions(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, p := range positions {
		if p.NetQuantity == 0 {
			continue
		}
		_, err := r.orders.SquareOff(ctx, p)
		report.add(p.TradingSymbol, err)
		if err != nil {
			r.log.Warn("square-off failed", "symbol", p.TradingSymbol, "err", err)
		}
	}
	r.log.Info("square-off run finished", "attempted", report.Attempted, "failed", report.Failed)
	return report, nil
}

// Flatten runs the full recovery sequence: cancel all open orders, then
// square off all positions. The reports are returned in that order.
func (r *Runner) Flatten(ctx context.Context) (*Report, *Report, error) {
	cancelled, err := r.CancelAllOrders(ctx)
	if err != nil {
		return nil, nil, err
	}
	squared, err := r.SquareOffAll(ctx)
	if err != nil {
		return cancelled, nil, err
	}
	return cancelled, squared, nil
}
