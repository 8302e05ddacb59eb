// Package domain defines the shared types used across the dartbot system:
// historical series points, order and book records, and the error taxonomy
// every component reports through.
package domain

import "time"

// ---------------------------------------------------------------------------
// Historical series
// ---------------------------------------------------------------------------

// Timeframe is the granularity of a historical series.
type Timeframe string

const (
	TimeframeDay    Timeframe = "day"
	TimeframeMinute Timeframe = "minute"
	TimeframeTick   Timeframe = "tick"
)

// Unit returns the resume step for the timeframe: the smallest increment
// that advances past an already-stored point.
func (tf Timeframe) Unit() time.Duration {
	switch tf {
	case TimeframeDay:
		return 24 * time.Hour
	case TimeframeMinute:
		return time.Minute
	default:
		return time.Second
	}
}

// Valid reports whether tf is one of the known timeframes.
func (tf Timeframe) Valid() bool {
	switch tf {
	case TimeframeDay, TimeframeMinute, TimeframeTick:
		return true
	}
	return false
}

// SeriesKey identifies one locally-persisted historical dataset.
type SeriesKey struct {
	Segment   string // exchange segment, e.g. NSE, NFO, MCX
	Token     string // broker-assigned instrument token
	Timeframe Timeframe
}

// Candle is one day or minute observation.
type Candle struct {
	Timestamp    time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64
	OpenInterest int64
}

// Tick is one tick observation. LTP/LTQ are the last traded price and
// quantity.
type Tick struct {
	Timestamp    time.Time // UTC seconds on the wire
	LTP          float64
	LTQ          int64
	OpenInterest int64
}

// Series is the full in-memory dataset for one key. Exactly one of Candles
// or Ticks is populated, depending on Key.Timeframe.
type Series struct {
	Key     SeriesKey
	Candles []Candle
	Ticks   []Tick
}

// Len returns the number of points in the series.
func (s *Series) Len() int {
	if s.Key.Timeframe == TimeframeTick {
		return len(s.Ticks)
	}
	return len(s.Candles)
}

// LastTimestamp returns the timestamp of the last point, or a zero time if
// the series is empty.
func (s *Series) LastTimestamp() time.Time {
	if s.Key.Timeframe == TimeframeTick {
		if n := len(s.Ticks); n > 0 {
			return s.Ticks[n-1].Timestamp
		}
		return time.Time{}
	}
	if n := len(s.Candles); n > 0 {
		return s.Candles[n-1].Timestamp
	}
	return time.Time{}
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// PriceType selects how an order is priced.
type PriceType string

const (
	PriceTypeLimit    PriceType = "LIMIT"
	PriceTypeMarket   PriceType = "MARKET"
	PriceTypeSLLimit  PriceType = "SL-LIMIT"
	PriceTypeSLMarket PriceType = "SL-MARKET"
)

// ProductType selects the margin product an order trades under.
type ProductType string

const (
	ProductCNC      ProductType = "CNC"
	ProductIntraday ProductType = "INTRADAY"
	ProductNormal   ProductType = "NORMAL"
)

// GTTCondition is the trigger condition for a GTT order.
type GTTCondition string

const (
	GTTLTPAbove GTTCondition = "LTP_ABOVE"
	GTTLTPBelow GTTCondition = "LTP_BELOW"
)

// OrderRequest is a normal order submission.
type OrderRequest struct {
	Exchange      string      `json:"exchange"`
	TradingSymbol string      `json:"tradingsymbol"`
	OrderType     OrderSide   `json:"order_type"`
	PriceType     PriceType   `json:"price_type"`
	ProductType   ProductType `json:"product_type"`
	Quantity      int         `json:"quantity"`
	Price         float64     `json:"price"`
	TriggerPrice  float64     `json:"trigger_price,omitempty"`
	DisclosedQty  int         `json:"disclosed_quantity,omitempty"`
	Validity      string      `json:"validity,omitempty"`
	Remarks       string      `json:"remarks,omitempty"`
}

// ModifyRequest modifies an existing normal order.
type ModifyRequest struct {
	Exchange      string      `json:"exchange"`
	OrderID       string      `json:"order_id"`
	TradingSymbol string      `json:"tradingsymbol"`
	OrderType     OrderSide   `json:"order_type"`
	PriceType     PriceType   `json:"price_type"`
	ProductType   ProductType `json:"product_type"`
	Quantity      int         `json:"quantity"`
	Price         float64     `json:"price"`
	TriggerPrice  float64     `json:"trigger_price,omitempty"`
	DisclosedQty  int         `json:"disclosed_quantity,omitempty"`
	Validity      string      `json:"validity,omitempty"`
	Remarks       string      `json:"remarks,omitempty"`
}

// GTTRequest places a good-till-triggered order.
type GTTRequest struct {
	Exchange      string       `json:"exchange"`
	TradingSymbol string       `json:"tradingsymbol"`
	OrderType     OrderSide    `json:"order_type"`
	Condition     GTTCondition `json:"condition"`
	AlertPrice    float64      `json:"alert_price"`
	Price         float64      `json:"price"`
	Quantity      int          `json:"quantity"`
	ProductType   ProductType  `json:"product_type"`
}

// GTTModifyRequest changes the trigger or order terms of a pending GTT.
type GTTModifyRequest struct {
	AlertID       string       `json:"alert_id"`
	Exchange      string       `json:"exchange"`
	TradingSymbol string       `json:"tradingsymbol"`
	OrderType     OrderSide    `json:"order_type"`
	Condition     GTTCondition `json:"condition"`
	AlertPrice    float64      `json:"alert_price"`
	Price         float64      `json:"price"`
	Quantity      int          `json:"quantity"`
	ProductType   ProductType  `json:"product_type"`
}

// OCORequest places a one-cancels-other target/stoploss pair.
type OCORequest struct {
	Remarks       string      `json:"remarks"`
	Exchange      string      `json:"exchange"`
	TradingSymbol string      `json:"tradingsymbol"`
	OrderType     OrderSide   `json:"order_type"`
	TargetQty     int         `json:"target_quantity"`
	StoplossQty   int         `json:"stoploss_quantity"`
	TargetPrice   float64     `json:"target_price"`
	StoplossPrice float64     `json:"stoploss_price"`
	ProductType   ProductType `json:"product_type"`
}

// OrderResponse is the broker acknowledgement for order operations.
type OrderResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

// OK reports whether the broker accepted the operation.
func (r OrderResponse) OK() bool { return r.Status == "SUCCESS" }

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

// OrderBookEntry is one row of the day's order book.
type OrderBookEntry struct {
	OrderID       string  `json:"order_id"`
	Exchange      string  `json:"exchange"`
	TradingSymbol string  `json:"tradingsymbol"`
	OrderType     string  `json:"order_type"`
	PriceType     string  `json:"price_type"`
	ProductType   string  `json:"product_type"`
	Quantity      int     `json:"quantity,string"`
	FilledQty     int     `json:"filled_qty,string"`
	PendingQty    int     `json:"pending_qty,string"`
	Price         float64 `json:"price,string"`
	TriggerPrice  float64 `json:"trigger_price,string"`
	Status        string  `json:"order_status"`
	Variety       string  `json:"variety"`
	EntryTime     string  `json:"order_entry_time"`
}

// Open reports whether the order can still be cancelled or modified.
func (e OrderBookEntry) Open() bool {
	switch e.Status {
	case "OPEN", "TRIGGER_PENDING", "PARTIALLY FILLED":
		return true
	}
	return false
}

// TradeBookEntry is one fill from the day's trade book.
type TradeBookEntry struct {
	FillID        string  `json:"fill_id"`
	OrderID       string  `json:"order_id"`
	Exchange      string  `json:"exchange"`
	TradingSymbol string  `json:"tradingsymbol"`
	FilledQty     int     `json:"filled_qty,string"`
	FillPrice     float64 `json:"fill_price,string"`
	FillTime      string  `json:"fill_time"`
	ExchOrderID   string  `json:"exchange_orderid"`
}

// Position is one net position for the day.
type Position struct {
	Exchange      string  `json:"exchange"`
	TradingSymbol string  `json:"tradingsymbol"`
	ProductType   string  `json:"product_type"`
	NetQuantity   int     `json:"net_quantity,string"`
	NetAvgPrice   float64 `json:"net_averageprice,string"`
	RealizedPnL   float64 `json:"realized_pnl,string"`
	UnrealizedPnL float64 `json:"unrealized_pnl,string"`
	LastPrice     float64 `json:"lastPrice,string"`
}

// Holding is one demat holding.
type Holding struct {
	Exchange      string  `json:"exchange"`
	TradingSymbol string  `json:"tradingsymbol"`
	ISIN          string  `json:"isin"`
	DPQuantity    int     `json:"dp_qty,string"`
	AvgBuyPrice   float64 `json:"avg_buy_price,string"`
	LastPrice     float64 `json:"lastPrice,string"`
}

// PositionSummary aggregates the day's net positions.
type PositionSummary struct {
	TotalNetQty        int
	TotalRealizedPnL   float64
	TotalUnrealizedPnL float64
}
