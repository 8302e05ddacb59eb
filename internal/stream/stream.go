// Package stream maintains the live tick websocket: it authenticates with
// the session's stream token, subscribes to touchline updates for a set of
// instruments, and hands decoded ticks to a writer.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"dartbot/internal/domain"
	"dartbot/internal/metrics"
	"dartbot/internal/util"
)

// SessionSource supplies the live stream credentials. The session manager
// is the production implementation.
type SessionSource interface {
	StreamToken() (string, error)
	UserID() string
}

// TickWriter receives decoded ticks. The history tick archive satisfies it
// through an adapter; tests use an in-memory collector.
type TickWriter interface {
	WriteTicks(segment, token string, ticks []domain.Tick) error
}

// Instrument is one subscription target.
type Instrument struct {
	Segment string
	Token   string
}

// ParseInstrument parses "SEGMENT|TOKEN".
func ParseInstrument(s string) (Instrument, error) {
	seg, token, ok := strings.Cut(strings.TrimSpace(s), "|")
	if !ok || seg == "" || token == "" {
		return Instrument{}, &domain.ParseError{Op: "instrument", Detail: fmt.Sprintf("want SEGMENT|TOKEN, got %q", s)}
	}
	return Instrument{Segment: seg, Token: token}, nil
}

func (i Instrument) String() string { return i.Segment + "|" + i.Token }

// Client runs the websocket feed. Run blocks until the context is
// cancelled, reconnecting with backoff when the connection drops.
type Client struct {
	url         string
	session     SessionSource
	writer      TickWriter
	instruments []Instrument
	metrics     *metrics.Metrics
	log         *slog.Logger

	dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

// NewClient creates a stream Client subscribing to the given instruments.
func NewClient(url string, session SessionSource, writer TickWriter, instruments []Instrument, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:         url,
		session:     session,
		writer:      writer,
		instruments: instruments,
		metrics:     m,
		log:         logger.With("component", "stream"),
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// connectRequest authenticates the websocket.
type connectRequest struct {
	T          string `json:"t"`
	UID        string `json:"uid"`
	ActID      string `json:"actid"`
	Susertoken string `json:"susertoken"`
	Source     string `json:"source"`
}

// subscribeRequest subscribes to touchline updates. K is a #-joined list of
// SEGMENT|TOKEN scrips.
type subscribeRequest struct {
	T string `json:"t"`
	K string `json:"k"`
}

// touchline is one incoming feed message. Only touchline acks and updates
// carry prices; other message types are ignored.
type touchline struct {
	T       string `json:"t"`
	Segment string `json:"e"`
	Token   string `json:"tk"`
	LTP     string `json:"lp"`
	LTQ     string `json:"ltq"`
	OI      string `json:"oi"`
	FeedTS  string `json:"ft"`
}

// Run connects, subscribes, and pumps ticks to the writer until ctx is
// cancelled. Dropped connections reconnect with exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := util.Retry(ctx, 5, time.Second, func() error {
			return c.runOnce(ctx)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("stream disconnected, reconnecting", "err", err)
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	token, err := c.session.StreamToken()
	if err != nil {
		return err
	}

	conn, err := c.dial(ctx, c.url)
	if err != nil {
		return &domain.TransportError{Op: "dial stream", Err: err}
	}
	defer conn.Close()

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	uid := c.session.UserID()
	if err := conn.WriteJSON(connectRequest{T: "c", UID: uid, ActID: uid, Susertoken: token, Source: "API"}); err != nil {
		return &domain.TransportError{Op: "stream auth", Err: err}
	}

	scrips := make([]string, len(c.instruments))
	for i, inst := range c.instruments {
		scrips[i] = inst.String()
	}
	if err := conn.WriteJSON(subscribeRequest{T: "t", K: strings.Join(scrips, "#")}); err != nil {
		return &domain.TransportError{Op: "stream subscribe", Err: err}
	}
	c.log.Info("stream subscribed", "instruments", len(scrips))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &domain.TransportError{Op: "stream read", Err: err}
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg touchline
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("undecodable stream message", "err", err)
		return
	}
	// tk = touchline ack, tf = touchline feed.
	if msg.T != "tk" && msg.T != "tf" {
		return
	}

	tick, ok := msg.tick()
	if !ok {
		return
	}
	if c.metrics != nil {
		c.metrics.StreamTicks.Inc()
	}
	if err := c.writer.WriteTicks(msg.Segment, msg.Token, []domain.Tick{tick}); err != nil {
		c.log.Warn("tick write failed", "segment", msg.Segment, "token", msg.Token, "err", err)
	}
}

// tick converts a touchline message to a Tick. Messages without a last
// traded price (depth-only updates) produce no tick.
func (m touchline) tick() (domain.Tick, bool) {
	if m.LTP == "" {
		return domain.Tick{}, false
	}
	ltp, err := strconv.ParseFloat(m.LTP, 64)
	if err != nil {
		return domain.Tick{}, false
	}

	tick := domain.Tick{Timestamp: time.Now().UTC(), LTP: ltp}
	if secs, err := strconv.ParseInt(m.FeedTS, 10, 64); err == nil {
		tick.Timestamp = time.Unix(secs, 0).UTC()
	}
	if ltq, err := strconv.ParseInt(m.LTQ, 10, 64); err == nil {
		tick.LTQ = ltq
	}
	if oi, err := strconv.ParseInt(m.OI, 10, 64); err == nil {
		tick.OpenInterest = oi
	}
	return tick, true
}
