package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"dartbot/internal/api"
	"dartbot/internal/books"
	"dartbot/internal/domain"
	"dartbot/internal/orders"
)

type stubAuth struct{}

func (stubAuth) AuthHeaders() (map[string]string, error) {
	return map[string]string{"Authorization": "K"}, nil
}

// brokerStub serves the book endpoints and records order actions.
type brokerStub struct {
	mu         sync.Mutex
	orderBook  string
	positions  string
	cancelled  []string
	modified   []map[string]any
	placed     []map[string]any
	failOrders map[string]bool // order IDs whose cancel/modify should fail
}

func (b *brokerStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		switch {
		case r.URL.Path == "/orders":
			fmt.Fprint(w, b.orderBook)
		case r.URL.Path == "/positions":
			fmt.Fprint(w, b.positions)
		case strings.HasPrefix(r.URL.Path, "/cancel/"):
			id := strings.TrimPrefix(r.URL.Path, "/cancel/")
			b.cancelled = append(b.cancelled, id)
			if b.failOrders[id] {
				json.NewEncoder(w).Encode(domain.OrderResponse{Status: "ERROR", Message: "too late"})
				return
			}
			json.NewEncoder(w).Encode(domain.OrderResponse{Status: "SUCCESS", OrderID: id})
		case r.URL.Path == "/modify":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			b.modified = append(b.modified, body)
			id, _ := body["order_id"].(string)
			if b.failOrders[id] {
				json.NewEncoder(w).Encode(domain.OrderResponse{Status: "ERROR", Message: "rejected"})
				return
			}
			json.NewEncoder(w).Encode(domain.OrderResponse{Status: "SUCCESS", OrderID: id})
		case r.URL.Path == "/placeorder":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			b.placed = append(b.placed, body)
			json.NewEncoder(w).Encode(domain.OrderResponse{Status: "SUCCESS", OrderID: "SQ1"})
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestRunner(t *testing.T, stub *brokerStub) *Runner {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	client := api.NewClient(srv.URL, stubAuth{}, nil, nil)
	return NewRunner(books.NewReader(client, nil), orders.NewManager(client, nil, nil), nil)
}

const twoOpenOneComplete = `{"status":"SUCCESS","orders":[
	{"order_id":"O1","exchange":"NSE","tradingsymbol":"INFY-EQ","order_type":"BUY","product_type":"INTRADAY","quantity":"10","filled_qty":"4","pending_qty":"6","price":"1500","trigger_price":"0","order_status":"OPEN"},
	{"order_id":"O2","exchange":"NSE","tradingsymbol":"TCS-EQ","order_type":"SELL","product_type":"INTRADAY","quantity":"5","filled_qty":"0","pending_qty":"5","price":"4000","trigger_price":"0","order_status":"TRIGGER_PENDING"},
	{"order_id":"O3","exchange":"NSE","tradingsymbol":"WIPRO-EQ","order_type":"BUY","product_type":"INTRADAY","quantity":"1","filled_qty":"1","pending_qty":"0","price":"500","trigger_price":"0","order_status":"COMPLETE"}
]}`

func TestCancelAllOrdersOnlyOpen(t *testing.T) {
	stub := &brokerStub{orderBook: twoOpenOneComplete}
	r := newTestRunner(t, stub)

	report, err := r.CancelAllOrders(context.Background())
	if err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
	if report.Attempted != 2 || report.Failed != 0 {
		t.Errorf("report = %+v, want 2 attempted 0 failed", report)
	}
	if len(stub.cancelled) != 2 || stub.cancelled[0] != "O1" || stub.cancelled[1] != "O2" {
		t.Errorf("cancelled = %v, want [O1 O2]", stub.cancelled)
	}
}

func TestCancelOrdersContinuesPastFailure(t *testing.T) {
	stub := &brokerStub{failOrders: map[string]bool{"O1": true}}
	r := newTestRunner(t, stub)

	report := r.CancelOrders(context.Background(), []string{"O1", "O2"})
	if report.Attempted != 2 || report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("report = %+v, want 1 success 1 failure", report)
	}
	if report.Results[0].OK || report.Results[0].ID != "O1" {
		t.Errorf("result 0 = %+v, want failed O1", report.Results[0])
	}
	if !report.Results[1].OK {
		t.Errorf("result 1 = %+v, want succeeded O2", report.Results[1])
	}
	if len(stub.cancelled) != 2 {
		t.Errorf("cancelled = %v, want both attempted", stub.cancelled)
	}
}

func TestModifyAllToMarketUsesPendingQty(t *testing.T) {
	stub := &brokerStub{orderBook: twoOpenOneComplete}
	r := newTestRunner(t, stub)

	report, err := r.ModifyAllToMarket(context.Background())
	if err != nil {
		t.Fatalf("ModifyAllToMarket: %v", err)
	}
	if report.Attempted != 2 {
		t.Fatalf("attempted = %d, want 2", report.Attempted)
	}

	first := stub.modified[0]
	if first["order_id"] != "O1" || first["price_type"] != "MARKET" {
		t.Errorf("modify body = %v, want O1 at MARKET", first)
	}
	// Partially filled order converts its remaining quantity only.
	if first["quantity"] != float64(6) {
		t.Errorf("quantity = %v, want pending 6", first["quantity"])
	}
}

func TestModifyToMarketFiltersByID(t *testing.T) {
	stub := &brokerStub{orderBook: twoOpenOneComplete}
	r := newTestRunner(t, stub)

	report, err := r.ModifyToMarket(context.Background(), []string{"O2"})
	if err != nil {
		t.Fatalf("ModifyToMarket: %v", err)
	}
	if report.Attempted != 1 || len(stub.modified) != 1 {
		t.Fatalf("attempted = %d, want only O2", report.Attempted)
	}
	if stub.modified[0]["order_id"] != "O2" {
		t.Errorf("modified = %v, want O2", stub.modified[0])
	}
}

func TestSquareOffAllSkipsFlat(t *testing.T) {
	stub := &brokerStub{positions: `{"status":"SUCCESS","positions":[
		{"exchange":"NSE","tradingsymbol":"INFY-EQ","product_type":"INTRADAY","net_quantity":"10","net_averageprice":"1500","realized_pnl":"0","unrealized_pnl":"0","lastPrice":"1490"},
		{"exchange":"NSE","tradingsymbol":"TCS-EQ","product_type":"INTRADAY","net_quantity":"0","net_averageprice":"0","realized_pnl":"0","unrealized_pnl":"0","lastPrice":"0"},
		{"exchange":"NSE","tradingsymbol":"WIPRO-EQ","product_type":"INTRADAY","net_quantity":"-5","net_averageprice":"500","realized_pnl":"0","unrealized_pnl":"0","lastPrice":"505"}
	]}`}
	r := newTestRunner(t, stub)

	report, err := r.SquareOffAll(context.Background())
	if err != nil {
		t.Fatalf("SquareOffAll: %v", err)
	}
	if report.Attempted != 2 {
		t.Fatalf("attempted = %d, want 2 (flat skipped)", report.Attempted)
	}
	if len(stub.placed) != 2 {
		t.Fatalf("placed = %d, want 2", len(stub.placed))
	}
	if stub.placed[0]["order_type"] != "SELL" || stub.placed[1]["order_type"] != "BUY" {
		t.Errorf("sides = %v / %v, want SELL then BUY",
			stub.placed[0]["order_type"], stub.placed[1]["order_type"])
	}
}

func TestFlattenSequence(t *testing.T) {
	stub := &brokerStub{
		orderBook: twoOpenOneComplete,
		positions: `{"status":"SUCCESS","positions":[
			{"exchange":"NSE","tradingsymbol":"INFY-EQ","product_type":"INTRADAY","net_quantity":"10","net_averageprice":"1500","realized_pnl":"0","unrealized_pnl":"0","lastPrice":"1490"}
		]}`,
	}
	r := newTestRunner(t, stub)

	cancelled, squared, err := r.Flatten(context.Background())
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if cancelled.Attempted != 2 || squared.Attempted != 1 {
		t.Errorf("reports = %+v / %+v, want 2 cancels then 1 square-off", cancelled, squared)
	}
	// Cancels must land before the square-off order.
	if len(stub.cancelled) != 2 || len(stub.placed) != 1 {
		t.Errorf("cancelled=%v placed=%d", stub.cancelled, len(stub.placed))
	}
}
