package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"dartbot/internal/api"
	"dartbot/internal/domain"
	"dartbot/internal/metrics"
	"dartbot/internal/util"
)

// Synchronizer fetches the missing tail of historical series and merges it
// into the local dataset store. Per-key locking makes concurrent syncs of
// the same key safe; a failed fetch or parse leaves the prior dataset
// untouched.
type Synchronizer struct {
	baseURL      string
	auth         api.AuthProvider
	httpClient   *http.Client
	store        *Store
	cal          *util.TradingCalendar
	lookbackDays int
	limiter      *util.RateLimiter
	metrics      *metrics.Metrics
	log          *slog.Logger
	now          func() time.Time

	mu    sync.Mutex
	locks map[domain.SeriesKey]*sync.Mutex
}

// Opts configures a Synchronizer.
type Opts struct {
	BaseURL      string
	Auth         api.AuthProvider
	Store        *Store
	Calendar     *util.TradingCalendar
	LookbackDays int // previous-close fallback window; defaults to 10
	Timeout      time.Duration

	// RequestsPerMinute caps fetch calls against the history endpoint.
	// Zero means unlimited.
	RequestsPerMinute int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(opts Opts) *Synchronizer {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	lookback := opts.LookbackDays
	if lookback == 0 {
		lookback = 10
	}
	cal := opts.Calendar
	if cal == nil {
		cal = util.NewTradingCalendar("xnse")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *util.RateLimiter
	if opts.RequestsPerMinute > 0 {
		limiter = util.NewRateLimiter(opts.RequestsPerMinute)
	}

	return &Synchronizer{
		baseURL:      opts.BaseURL,
		auth:         opts.Auth,
		httpClient:   &http.Client{Timeout: timeout},
		store:        opts.Store,
		cal:          cal,
		lookbackDays: lookback,
		limiter:      limiter,
		metrics:      opts.Metrics,
		log:          logger.With("component", "history"),
		now:          time.Now,
		locks:        make(map[domain.SeriesKey]*sync.Mutex),
	}
}

// keyLock returns the mutex guarding one dataset key's read-merge-write
// sequence.
func (s *Synchronizer) keyLock(key domain.SeriesKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Sync fetches the data missing since the last local observation for key
// and persists the merged dataset. When the local tail already covers the
// requested range, no network call is made and the existing dataset is
// returned unchanged.
func (s *Synchronizer) Sync(ctx context.Context, key domain.SeriesKey, from, to time.Time) (*domain.Series, error) {
	if !key.Timeframe.Valid() {
		return nil, &domain.ParseError{Op: "sync", Detail: fmt.Sprintf("unknown timeframe %q", key.Timeframe)}
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	existing, found, err := s.store.Load(key)
	if err != nil {
		return nil, err
	}

	fetchFrom := from
	if found && existing.Len() > 0 {
		// Resume one unit past the last stored point so the first
		// fetched row is new, not a duplicate of the tail.
		resume := existing.LastTimestamp().Add(key.Timeframe.Unit())
		if !resume.Before(to) {
			s.log.Debug("dataset up to date", "segment", key.Segment, "token", key.Token, "timeframe", key.Timeframe)
			s.countSync("noop")
			return existing, nil
		}
		fetchFrom = resume
	}

	fetched, err := s.fetch(ctx, key, fetchFrom, to)
	if err != nil {
		s.countSync("error")
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SyncRows.Add(float64(fetched.Len()))
	}

	// Merge even on a cold start: the remote feed itself can repeat a
	// timestamp, and the sorted-unique invariant must hold on disk.
	if !found {
		existing = &domain.Series{Key: key}
	}
	merged := mergeSeries(existing, fetched)

	if err := s.store.Write(merged); err != nil {
		s.countSync("error")
		return nil, err
	}

	s.log.Info("synced dataset",
		"segment", key.Segment,
		"token", key.Token,
		"timeframe", key.Timeframe,
		"fetched", fetched.Len(),
		"total", merged.Len(),
	)
	s.countSync("fetched")
	return merged, nil
}

// PreviousClose returns the close price of the last fully completed day
// candle for the instrument. If no local data exists it first syncs the
// trailing lookback window. The second result is false when no data could
// be obtained; that case is not an error.
func (s *Synchronizer) PreviousClose(ctx context.Context, segment, token string) (float64, bool, error) {
	key := domain.SeriesKey{Segment: segment, Token: token, Timeframe: domain.TimeframeDay}

	series, found, err := s.store.Load(key)
	if err != nil {
		return 0, false, err
	}
	if !found || series.Len() == 0 {
		to := s.now()
		from := to.AddDate(0, 0, -s.lookbackDays)
		series, err = s.Sync(ctx, key, from, to)
		if err != nil {
			s.log.Warn("previous-close fallback sync failed", "segment", segment, "token", token, "err", err)
			return 0, false, nil
		}
	}

	n := len(series.Candles)
	if n == 0 {
		return 0, false, nil
	}

	last := series.Candles[n-1]
	// Today's candle is still forming; use the one before it.
	if n >= 2 && s.cal.SameTradingDate(last.Timestamp, s.now()) {
		return series.Candles[n-2].Close, true, nil
	}
	return last.Close, true, nil
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (s *Synchronizer) fetch(ctx context.Context, key domain.SeriesKey, from, to time.Time) (*domain.Series, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	url := fmt.Sprintf("%s/%s/%s/%s/%s/%s",
		s.baseURL, key.Segment, key.Token, key.Timeframe,
		formatAPITime(from), formatAPITime(to))
	op := fmt.Sprintf("GET history %s/%s/%s", key.Segment, key.Token, key.Timeframe)

	headers, err := s.auth.AuthHeaders()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.TransportError{Op: op, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Body: domain.Snippet(body)}
	}

	return parseRemote(key, body)
}

func (s *Synchronizer) countSync(result string) {
	if s.metrics != nil {
		s.metrics.SyncRequests.WithLabelValues(result).Inc()
	}
}

// mergeSeries combines existing and freshly fetched points: sorted ascending
// by timestamp, de-duplicated keeping the last occurrence so fetched data
// wins over stale local data on overlap.
func mergeSeries(existing, incoming *domain.Series) *domain.Series {
	merged := &domain.Series{Key: existing.Key}

	if existing.Key.Timeframe == domain.TimeframeTick {
		seen := make(map[int64]domain.Tick, len(existing.Ticks)+len(incoming.Ticks))
		for _, tk := range existing.Ticks {
			seen[tk.Timestamp.Unix()] = tk
		}
		for _, tk := range incoming.Ticks {
			seen[tk.Timestamp.Unix()] = tk
		}
		merged.Ticks = make([]domain.Tick, 0, len(seen))
		for _, tk := range seen {
			merged.Ticks = append(merged.Ticks, tk)
		}
	} else {
		seen := make(map[int64]domain.Candle, len(existing.Candles)+len(incoming.Candles))
		for _, c := range existing.Candles {
			seen[c.Timestamp.Unix()] = c
		}
		for _, c := range incoming.Candles {
			seen[c.Timestamp.Unix()] = c
		}
		merged.Candles = make([]domain.Candle, 0, len(seen))
		for _, c := range seen {
			merged.Candles = append(merged.Candles, c)
		}
	}

	sortSeries(merged)
	return merged
}

func sortSeries(s *domain.Series) {
	sort.Slice(s.Candles, func(i, j int) bool {
		return s.Candles[i].Timestamp.Before(s.Candles[j].Timestamp)
	})
	sort.Slice(s.Ticks, func(i, j int) bool {
		return s.Ticks[i].Timestamp.Before(s.Ticks[j].Timestamp)
	})
}
