package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dartbot/internal/domain"
)

type stubSession struct{}

func (stubSession) StreamToken() (string, error) { return "S-TOKEN", nil }
func (stubSession) UserID() string               { return "U1" }

type collector struct {
	mu    sync.Mutex
	ticks map[string][]domain.Tick
}

func (c *collector) WriteTicks(segment, token string, ticks []domain.Tick) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticks == nil {
		c.ticks = make(map[string][]domain.Tick)
	}
	key := segment + "|" + token
	c.ticks[key] = append(c.ticks[key], ticks...)
	return nil
}

func (c *collector) get(key string) []domain.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks[key]
}

func TestParseInstrument(t *testing.T) {
	inst, err := ParseInstrument("NSE|2885")
	if err != nil {
		t.Fatalf("ParseInstrument: %v", err)
	}
	if inst.Segment != "NSE" || inst.Token != "2885" {
		t.Errorf("instrument = %+v", inst)
	}
	if inst.String() != "NSE|2885" {
		t.Errorf("String = %q", inst.String())
	}

	if _, err := ParseInstrument("garbage"); err == nil {
		t.Error("malformed instrument should error")
	}
}

func TestStreamAuthSubscribeAndTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Auth frame.
		var auth map[string]string
		if err := conn.ReadJSON(&auth); err != nil {
			t.Errorf("reading auth: %v", err)
			return
		}
		if auth["t"] != "c" || auth["uid"] != "U1" || auth["susertoken"] != "S-TOKEN" || auth["source"] != "API" {
			t.Errorf("auth frame = %v", auth)
		}

		// Subscribe frame.
		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("reading subscribe: %v", err)
			return
		}
		if sub["t"] != "t" || sub["k"] != "NSE|2885#NFO|56789" {
			t.Errorf("subscribe frame = %v", sub)
		}

		// One touchline feed, one depth-only update (ignored), then close.
		conn.WriteJSON(map[string]string{
			"t": "tf", "e": "NSE", "tk": "2885",
			"lp": "1500.5", "ltq": "10", "ft": "1710495900",
		})
		conn.WriteJSON(map[string]string{"t": "tf", "e": "NSE", "tk": "2885", "bp1": "1500"})
	}))
	defer srv.Close()

	sink := &collector{}
	c := NewClient(
		"ws"+strings.TrimPrefix(srv.URL, "http"),
		stubSession{}, sink,
		[]Instrument{{Segment: "NSE", Token: "2885"}, {Segment: "NFO", Token: "56789"}},
		nil, nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// The server hangs up after two messages; one pass is enough.
	_ = c.runOnce(ctx)

	ticks := sink.get("NSE|2885")
	if len(ticks) != 1 {
		t.Fatalf("ticks = %d, want 1 (depth-only update ignored)", len(ticks))
	}
	tk := ticks[0]
	if tk.LTP != 1500.5 || tk.LTQ != 10 {
		t.Errorf("tick = %+v", tk)
	}
	if !tk.Timestamp.Equal(time.Unix(1710495900, 0)) {
		t.Errorf("timestamp = %v, want feed time", tk.Timestamp)
	}
}

func TestTouchlineDecode(t *testing.T) {
	var msg touchline
	raw := `{"t":"tk","e":"NFO","tk":"56789","lp":"105.25","ltq":"25","oi":"12000","ft":"1710495901"}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	tick, ok := msg.tick()
	if !ok {
		t.Fatal("tick() = false, want decoded tick")
	}
	if tick.LTP != 105.25 || tick.LTQ != 25 || tick.OpenInterest != 12000 {
		t.Errorf("tick = %+v", tick)
	}

	// No LTP means no tick.
	if _, ok := (touchline{T: "tf"}).tick(); ok {
		t.Error("priceless update should not produce a tick")
	}
}
