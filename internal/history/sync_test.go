package history

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"dartbot/internal/domain"
	"dartbot/internal/util"
)

type stubAuth struct {
	headers map[string]string
	err     error
}

func (s *stubAuth) AuthHeaders() (map[string]string, error) {
	return s.headers, s.err
}

func dayKey() domain.SeriesKey {
	return domain.SeriesKey{Segment: "NSE", Token: "2885", Timeframe: domain.TimeframeDay}
}

func newTestSync(t *testing.T, baseURL string) *Synchronizer {
	t.Helper()
	return NewSynchronizer(Opts{
		BaseURL:  baseURL,
		Auth:     &stubAuth{headers: map[string]string{"Authorization": "K"}},
		Store:    NewStore(t.TempDir()),
		Calendar: util.NewTradingCalendar("no-such-mic"),
	})
}

// dayRows renders n daily candle rows starting at start, close price
// 100+i.
func dayRows(start time.Time, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		ts := start.AddDate(0, 0, i)
		fmt.Fprintf(&b, "%s,99,101,98,%d,1000,0\n", ts.Format("2006-01-02 15:04:05"), 100+i)
	}
	return b.String()
}

func TestSyncCold(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "K" {
			t.Errorf("Authorization = %q, want K", got)
		}
		if !strings.HasPrefix(r.URL.Path, "/NSE/2885/day/") {
			t.Errorf("path = %q, want /NSE/2885/day/ prefix", r.URL.Path)
		}
		fmt.Fprint(w, dayRows(start, 5))
	}))
	defer srv.Close()

	s := newTestSync(t, srv.URL)
	series, err := s.Sync(context.Background(), dayKey(), start, start.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(series.Candles) != 5 {
		t.Fatalf("candles = %d, want 5", len(series.Candles))
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}

	// The dataset must be on disk and reloadable.
	loaded, found, err := s.store.Load(dayKey())
	if err != nil || !found {
		t.Fatalf("Load after sync: found=%v err=%v", found, err)
	}
	if len(loaded.Candles) != 5 {
		t.Errorf("persisted candles = %d, want 5", len(loaded.Candles))
	}
}

func TestSyncColdDeduplicatesRemoteRows(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The feed repeats 01 Jan with a corrected close; the later row
		// must win and only one candle may be persisted.
		fmt.Fprintf(w, "%s,99,101,98,100,1000,0\n", start.Format(localTimeLayout))
		fmt.Fprintf(w, "%s,99,101,98,200,1000,0\n", start.Format(localTimeLayout))
		fmt.Fprintf(w, "%s,99,101,98,101,1000,0\n", start.AddDate(0, 0, 1).Format(localTimeLayout))
	}))
	defer srv.Close()

	s := newTestSync(t, srv.URL)
	series, err := s.Sync(context.Background(), dayKey(), start, start.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(series.Candles) != 2 {
		t.Fatalf("candles = %d, want 2 (repeated timestamp deduplicated)", len(series.Candles))
	}
	if got := series.Candles[0].Close; got != 200 {
		t.Errorf("close = %v, want 200 (last occurrence wins)", got)
	}

	loaded, found, err := s.store.Load(dayKey())
	if err != nil || !found {
		t.Fatalf("Load after sync: found=%v err=%v", found, err)
	}
	if len(loaded.Candles) != 2 {
		t.Errorf("persisted candles = %d, want 2", len(loaded.Candles))
	}
}

func TestSyncResumesFromLastTimestamp(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var fromSeen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		fromSeen.Store(parts[len(parts)-2])
		// Rows 6..10.
		fmt.Fprint(w, dayRows(start.AddDate(0, 0, 5), 5))
	}))
	defer srv.Close()

	s := newTestSync(t, srv.URL)

	// Seed the first five days locally.
	seed, err := parseRemote(dayKey(), []byte(dayRows(start, 5)))
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}
	if err := s.store.Write(seed); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	series, err := s.Sync(context.Background(), dayKey(), start, start.AddDate(0, 0, 10))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// The request must start one day past the local tail (06 Jan), not at
	// the caller's from.
	wantFrom := start.AddDate(0, 0, 5).Format(apiTimeLayout)
	if got := fromSeen.Load(); got != wantFrom {
		t.Errorf("requested from = %v, want %s", got, wantFrom)
	}

	if len(series.Candles) != 10 {
		t.Fatalf("candles = %d, want 10", len(series.Candles))
	}
	for i := 1; i < len(series.Candles); i++ {
		if !series.Candles[i-1].Timestamp.Before(series.Candles[i].Timestamp) {
			t.Fatalf("timestamps not strictly increasing at %d", i)
		}
	}
}

func TestSyncIdempotentNoop(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := start.AddDate(0, 0, 5)

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, dayRows(start, 5))
	}))
	defer srv.Close()

	s := newTestSync(t, srv.URL)
	if _, err := s.Sync(context.Background(), dayKey(), start, to); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	// Local tail is 05 Jan, so resume (06 Jan) is not before to: the
	// second call must not touch the network.
	series, err := s.Sync(context.Background(), dayKey(), start, to)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if len(series.Candles) != 5 {
		t.Errorf("candles = %d, want 5", len(series.Candles))
	}
}

func TestSyncFetchedRowWinsOnOverlap(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Overlapping row for 05 Jan with a corrected close, plus 06 Jan.
		fmt.Fprintf(w, "%s,99,101,98,500,1000,0\n", start.AddDate(0, 0, 4).Format(localTimeLayout))
		fmt.Fprintf(w, "%s,99,101,98,105,1000,0\n", start.AddDate(0, 0, 5).Format(localTimeLayout))
	}))
	defer srv.Close()

	s := newTestSync(t, srv.URL)
	seed, _ := parseRemote(dayKey(), []byte(dayRows(start, 5)))
	if err := s.store.Write(seed); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	series, err := s.Sync(context.Background(), dayKey(), start, start.AddDate(0, 0, 6))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(series.Candles) != 6 {
		t.Fatalf("candles = %d, want 6 (overlap deduplicated)", len(series.Candles))
	}
	if got := series.Candles[4].Close; got != 500 {
		t.Errorf("overlapping close = %v, want fetched value 500", got)
	}
}

func TestSyncFailedFetchLeavesDatasetUntouched(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newTestSync(t, srv.URL)
	seed, _ := parseRemote(dayKey(), []byte(dayRows(start, 5)))
	if err := s.store.Write(seed); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	_, err := s.Sync(context.Background(), dayKey(), start, start.AddDate(0, 0, 10))
	var terr *domain.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if terr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", terr.StatusCode)
	}
	if !strings.Contains(terr.Body, "upstream down") {
		t.Errorf("Body = %q, want snippet of response", terr.Body)
	}

	loaded, found, err := s.store.Load(dayKey())
	if err != nil || !found {
		t.Fatalf("Load after failure: found=%v err=%v", found, err)
	}
	if len(loaded.Candles) != 5 {
		t.Errorf("candles after failed sync = %d, want original 5", len(loaded.Candles))
	}
}

func TestSyncMalformedBodyLeavesDatasetUntouched(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "2024-01-06 00:00:00,99,101\n")
	}))
	defer srv.Close()

	s := newTestSync(t, srv.URL)
	seed, _ := parseRemote(dayKey(), []byte(dayRows(start, 5)))
	if err := s.store.Write(seed); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	_, err := s.Sync(context.Background(), dayKey(), start, start.AddDate(0, 0, 10))
	var perr *domain.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ParseError", err)
	}

	loaded, _, _ := s.store.Load(dayKey())
	if len(loaded.Candles) != 5 {
		t.Errorf("candles after parse failure = %d, want original 5", len(loaded.Candles))
	}
}

func TestSyncUnknownTimeframe(t *testing.T) {
	s := newTestSync(t, "http://unused.invalid")
	key := domain.SeriesKey{Segment: "NSE", Token: "1", Timeframe: "hour"}
	_, err := s.Sync(context.Background(), key, time.Now().Add(-time.Hour), time.Now())
	var perr *domain.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ParseError", err)
	}
}

func TestPreviousCloseCompletedDay(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s := newTestSync(t, "http://unused.invalid")
	seed, _ := parseRemote(dayKey(), []byte(dayRows(start, 5)))
	if err := s.store.Write(seed); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	// Well after the last candle's trading date.
	s.now = func() time.Time { return start.AddDate(0, 0, 30) }

	close, ok, err := s.PreviousClose(context.Background(), "NSE", "2885")
	if err != nil || !ok {
		t.Fatalf("PreviousClose: ok=%v err=%v", ok, err)
	}
	if close != 104 {
		t.Errorf("close = %v, want 104 (last candle)", close)
	}
}

func TestPreviousCloseSkipsFormingCandle(t *testing.T) {
	// Mon 2024-01-08 is the last candle's date; "now" is the same trading
	// date, so the candle is still forming and the prior close must win.
	start := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)

	s := newTestSync(t, "http://unused.invalid")
	seed, _ := parseRemote(dayKey(), []byte(dayRows(start, 5)))
	if err := s.store.Write(seed); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	s.now = func() time.Time { return time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC) }

	close, ok, err := s.PreviousClose(context.Background(), "NSE", "2885")
	if err != nil || !ok {
		t.Fatalf("PreviousClose: ok=%v err=%v", ok, err)
	}
	if close != 103 {
		t.Errorf("close = %v, want 103 (candle before today's)", close)
	}
}

func TestPreviousCloseFallbackSync(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, dayRows(start, 5))
	}))
	defer srv.Close()

	s := newTestSync(t, srv.URL)
	s.now = func() time.Time { return start.AddDate(0, 0, 10) }

	close, ok, err := s.PreviousClose(context.Background(), "NSE", "2885")
	if err != nil || !ok {
		t.Fatalf("PreviousClose: ok=%v err=%v", ok, err)
	}
	if close != 104 {
		t.Errorf("close = %v, want 104", close)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1 fallback sync", calls.Load())
	}
}

func TestPreviousCloseNoDataIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no data", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := newTestSync(t, srv.URL)
	_, ok, err := s.PreviousClose(context.Background(), "NSE", "2885")
	if err != nil {
		t.Fatalf("PreviousClose: %v", err)
	}
	if ok {
		t.Error("ok = true, want false when nothing could be fetched")
	}
}
