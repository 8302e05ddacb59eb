// Package books reads the account's daily books from the gateway: orders,
// trades, net positions, and demat holdings.
package books

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"

	"dartbot/internal/api"
	"dartbot/internal/domain"
)

// Reader fetches the account books. A book endpoint reporting a non-SUCCESS
// status (which the broker also uses for "no data") yields an empty slice,
// not an error; malformed rows are skipped with a warning so one bad record
// cannot hide the rest of the book.
type Reader struct {
	client *api.Client
	log    *slog.Logger
}

// NewReader creates a book Reader on top of the gateway client.
func NewReader(client *api.Client, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		client: client,
		log:    logger.With("component", "books"),
	}
}

// envelope is the common wrapper around every book response. The payload key
// differs per endpoint, so rows are captured raw and decoded individually.
type envelope struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Orders    []json.RawMessage `json:"orders"`
	Trades    []json.RawMessage `json:"trades"`
	Positions []json.RawMessage `json:"positions"`
	Holdings  []json.RawMessage `json:"data"`
}

// Orders returns the day's order book.
func (r *Reader) Orders(ctx context.Context) ([]domain.OrderBookEntry, error) {
	env, err := r.fetch(ctx, "orders", nil)
	if err != nil {
		return nil, err
	}
	return decodeRows[domain.OrderBookEntry](r.log, "orders", env.Orders), nil
}

// Trades returns the day's trade book.
func (r *Reader) Trades(ctx context.Context) ([]domain.TradeBookEntry, error) {
	env, err := r.fetch(ctx, "trades", nil)
	if err != nil {
		return nil, err
	}
	return decodeRows[domain.TradeBookEntry](r.log, "trades", env.Trades), nil
}

// Positions returns the day's net positions.
func (r *Reader) Positions(ctx context.Context) ([]domain.Position, error) {
	env, err := r.fetch(ctx, "positions", nil)
	if err != nil {
		return nil, err
	}
	return decodeRows[domain.Position](r.log, "positions", env.Positions), nil
}

// Holdings returns the demat holdings.
func (r *Reader) Holdings(ctx context.Context) ([]domain.Holding, error) {
	env, err := r.fetch(ctx, "holdings", nil)
	if err != nil {
		return nil, err
	}
	return decodeRows[domain.Holding](r.log, "holdings", env.Holdings), nil
}

// OpenOrders returns only the order-book entries that can still be
// cancelled or modified.
func (r *Reader) OpenOrders(ctx context.Context) ([]domain.OrderBookEntry, error) {
	entries, err := r.Orders(ctx)
	if err != nil {
		return nil, err
	}
	open := entries[:0]
	for _, e := range entries {
		if e.Open() {
			open = append(open, e)
		}
	}
	return open, nil
}

// Summary aggregates the day's net positions.
func (r *Reader) Summary(ctx context.Context) (domain.PositionSummary, error) {
	positions, err := r.Positions(ctx)
	if err != nil {
		return domain.PositionSummary{}, err
	}

	var sum domain.PositionSummary
	for _, p := range positions {
		sum.TotalNetQty += p.NetQuantity
		sum.TotalRealizedPnL += p.RealizedPnL
		sum.TotalUnrealizedPnL += p.UnrealizedPnL
	}
	return sum, nil
}

func (r *Reader) fetch(ctx context.Context, path string, params url.Values) (*envelope, error) {
	raw, err := r.client.Get(ctx, path, params)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &domain.ParseError{Op: path, Detail: err.Error()}
	}
	if env.Status != "SUCCESS" {
		r.log.Warn("book endpoint reported no data", "book", path, "status", env.Status, "message", env.Message)
		return &envelope{Status: env.Status}, nil
	}
	return &env, nil
}

// decodeRows unmarshals each raw row, skipping ones that do not decode.
func decodeRows[T any](log *slog.Logger, book string, rows []json.RawMessage) []T {
	out := make([]T, 0, len(rows))
	for i, raw := range rows {
		var row T
		if err := json.Unmarshal(raw, &row); err != nil {
			log.Warn("skipping malformed book row", "book", book, "row", i, "err", err)
			continue
		}
		out = append(out, row)
	}
	return out
}
