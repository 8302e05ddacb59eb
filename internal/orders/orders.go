// Package orders submits and manages orders through the trading gateway:
// normal, GTT, and OCO placement, modification, cancellation, and position
// square-off. Every action is journaled locally for audit.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"dartbot/internal/api"
	"dartbot/internal/domain"
)

// Manager places and manages orders. The journal is optional; when present,
// journal write failures are logged and never fail the order.
type Manager struct {
	client  *api.Client
	journal *Journal
	log     *slog.Logger
}

// NewManager creates an order Manager on top of the gateway client.
func NewManager(client *api.Client, journal *Journal, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:  client,
		journal: journal,
		log:     logger.With("component", "orders"),
	}
}

// newRemark returns a unique tag for correlating an order with its journal
// entry and book rows.
func newRemark() string {
	return "dartbot-" + uuid.NewString()
}

// Place submits a normal order. A unique remark is generated when the caller
// did not set one.
func (m *Manager) Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResponse, error) {
	if req.Remarks == "" {
		req.Remarks = newRemark()
	}

	resp, err := m.submit(ctx, "placeorder", req)
	m.journalEntry(ctx, JournalEntry{
		Action:   "place",
		Remark:   req.Remarks,
		OrderID:  resp.OrderID,
		Symbol:   req.TradingSymbol,
		Exchange: req.Exchange,
		Side:     string(req.OrderType),
		Quantity: int64(req.Quantity),
		Price:    req.Price,
		Status:   resp.Status,
		Message:  resp.Message,
	})
	return resp, err
}

// Modify changes price, quantity, or type of an existing open order.
func (m *Manager) Modify(ctx context.Context, req domain.ModifyRequest) (domain.OrderResponse, error) {
	resp, err := m.submit(ctx, "modify", req)
	m.journalEntry(ctx, JournalEntry{
		Action:   "modify",
		Remark:   req.Remarks,
		OrderID:  req.OrderID,
		Symbol:   req.TradingSymbol,
		Exchange: req.Exchange,
		Side:     string(req.OrderType),
		Quantity: int64(req.Quantity),
		Price:    req.Price,
		Status:   resp.Status,
		Message:  resp.Message,
	})
	return resp, err
}

// Cancel cancels an open order by ID.
func (m *Manager) Cancel(ctx context.Context, orderID string) (domain.OrderResponse, error) {
	resp, err := m.get(ctx, "cancel/"+orderID)
	m.journalEntry(ctx, JournalEntry{
		Action:  "cancel",
		OrderID: orderID,
		Status:  resp.Status,
		Message: resp.Message,
	})
	return resp, err
}

// PlaceGTT submits a good-till-triggered order.
func (m *Manager) PlaceGTT(ctx context.Context, req domain.GTTRequest) (domain.OrderResponse, error) {
	resp, err := m.submit(ctx, "gttplaceorder", req)
	m.journalEntry(ctx, JournalEntry{
		Action:   "gtt_place",
		OrderID:  resp.OrderID,
		Symbol:   req.TradingSymbol,
		Exchange: req.Exchange,
		Side:     string(req.OrderType),
		Quantity: int64(req.Quantity),
		Price:    req.Price,
		Status:   resp.Status,
		Message:  resp.Message,
	})
	return resp, err
}

// ModifyGTT changes the trigger or order terms of a pending GTT.
func (m *Manager) ModifyGTT(ctx context.Context, req domain.GTTModifyRequest) (domain.OrderResponse, error) {
	resp, err := m.submit(ctx, "gttmodify", req)
	m.journalEntry(ctx, JournalEntry{
		Action:   "gtt_modify",
		OrderID:  req.AlertID,
		Symbol:   req.TradingSymbol,
		Exchange: req.Exchange,
		Side:     string(req.OrderType),
		Quantity: int64(req.Quantity),
		Price:    req.Price,
		Status:   resp.Status,
		Message:  resp.Message,
	})
	return resp, err
}

// CancelGTT cancels a pending GTT order by its alert ID.
func (m *Manager) CancelGTT(ctx context.Context, alertID string) (domain.OrderResponse, error) {
	resp, err := m.get(ctx, "gttcancel/"+alertID)
	m.journalEntry(ctx, JournalEntry{
		Action:  "gtt_cancel",
		OrderID: alertID,
		Status:  resp.Status,
		Message: resp.Message,
	})
	return resp, err
}

// PlaceOCO submits a one-cancels-other target/stoploss pair. A unique remark
// is generated when the caller did not set one.
func (m *Manager) PlaceOCO(ctx context.Context, req domain.OCORequest) (domain.OrderResponse, error) {
	if req.Remarks == "" {
		req.Remarks = newRemark()
	}

	resp, err := m.submit(ctx, "ocoplaceorder", req)
	m.journalEntry(ctx, JournalEntry{
		Action:   "oco_place",
		Remark:   req.Remarks,
		OrderID:  resp.OrderID,
		Symbol:   req.TradingSymbol,
		Exchange: req.Exchange,
		Side:     string(req.OrderType),
		Quantity: int64(req.TargetQty),
		Price:    req.TargetPrice,
		Status:   resp.Status,
		Message:  resp.Message,
	})
	return resp, err
}

// BatchResult is one outcome from a batch placement.
type BatchResult struct {
	Index    int
	Response domain.OrderResponse
	Err      error
}

// PlaceBatchGTT submits each GTT request in order, continuing past
// failures. The result slice has one entry per request.
func (m *Manager) PlaceBatchGTT(ctx context.Context, reqs []domain.GTTRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		resp, err := m.PlaceGTT(ctx, req)
		results[i] = BatchResult{Index: i, Response: resp, Err: err}
		if err != nil {
			m.log.Warn("batch gtt placement failed", "index", i, "symbol", req.TradingSymbol, "err", err)
		}
	}
	return results
}

// PlaceBatchOCO submits each OCO request in order, continuing past failures.
func (m *Manager) PlaceBatchOCO(ctx context.Context, reqs []domain.OCORequest) []BatchResult {
	results := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		resp, err := m.PlaceOCO(ctx, req)
		results[i] = BatchResult{Index: i, Response: resp, Err: err}
		if err != nil {
			m.log.Warn("batch oco placement failed", "index", i, "symbol", req.TradingSymbol, "err", err)
		}
	}
	return results
}

// SquareOff flattens a net position with an opposite-side market order.
// A long position sells; a short position buys back. Flat positions are a
// no-op.
func (m *Manager) SquareOff(ctx context.Context, pos domain.Position) (domain.OrderResponse, error) {
	if pos.NetQuantity == 0 {
		return domain.OrderResponse{Status: "SUCCESS", Message: "position already flat"}, nil
	}

	side := domain.OrderSideSell
	qty := pos.NetQuantity
	if qty < 0 {
		side = domain.OrderSideBuy
		qty = -qty
	}

	req := domain.OrderRequest{
		Exchange:      pos.Exchange,
		TradingSymbol: pos.TradingSymbol,
		OrderType:     side,
		PriceType:     domain.PriceTypeMarket,
		ProductType:   domain.ProductType(pos.ProductType),
		Quantity:      qty,
		Remarks:       newRemark(),
	}

	resp, err := m.submit(ctx, "placeorder", req)
	m.journalEntry(ctx, JournalEntry{
		Action:   "square_off",
		Remark:   req.Remarks,
		OrderID:  resp.OrderID,
		Symbol:   req.TradingSymbol,
		Exchange: req.Exchange,
		Side:     string(side),
		Quantity: int64(qty),
		Status:   resp.Status,
		Message:  resp.Message,
	})
	return resp, err
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (m *Manager) submit(ctx context.Context, path string, body any) (domain.OrderResponse, error) {
	raw, err := m.client.Post(ctx, path, body)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	return decodeResponse(path, raw)
}

func (m *Manager) get(ctx context.Context, path string) (domain.OrderResponse, error) {
	raw, err := m.client.Get(ctx, path, nil)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	return decodeResponse(path, raw)
}

func decodeResponse(op string, raw json.RawMessage) (domain.OrderResponse, error) {
	var resp domain.OrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.OrderResponse{}, &domain.ParseError{Op: op, Detail: err.Error()}
	}
	if !resp.OK() {
		return resp, &domain.ProtocolError{
			Op:   op,
			Body: fmt.Sprintf("status=%s message=%s", resp.Status, strings.TrimSpace(resp.Message)),
		}
	}
	return resp, nil
}

func (m *Manager) journalEntry(ctx context.Context, e JournalEntry) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Record(ctx, e); err != nil {
		m.log.Warn("journal write failed", "action", e.Action, "order_id", e.OrderID, "err", err)
	}
}
