// Package history implements the incremental historical-data synchronizer:
// it fetches only the missing tail of a series from the broker's history
// endpoint and merges it idempotently into a local ordered CSV dataset.
package history

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dartbot/internal/domain"
)

// apiTimeLayout is the ddMMyyyyHHmm format the history endpoint expects in
// its from/to path segments.
const apiTimeLayout = "020120061504"

// localTimeLayout is the canonical datetime format written to local candle
// datasets.
const localTimeLayout = "2006-01-02 15:04:05"

// remoteTimeLayouts are the datetime shapes the broker has been observed to
// emit for day/minute rows, tried in order.
var remoteTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"2006-01-02",
	"02-01-2006",
}

// candleColumns and tickColumns are the dataset header rows.
var (
	candleColumns = []string{"datetime", "open", "high", "low", "close", "volume", "oi"}
	tickColumns   = []string{"utc", "ltp", "ltq", "oi"}
)

// formatAPITime renders t for the history endpoint path.
func formatAPITime(t time.Time) string {
	return t.Format(apiTimeLayout)
}

func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range remoteTimeLayouts {
		if ts, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised datetime %q", v)
}

func parseFloat(v string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}

func parseInt(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	// Some feeds format integer columns as floats ("1200.0").
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// parseRemote decodes the headerless delimited body returned by the history
// endpoint into typed points for the key's timeframe. A row whose column
// count does not match the expected shape is a ParseError and leaves any
// local data untouched.
func parseRemote(key domain.SeriesKey, body []byte) (*domain.Series, error) {
	op := fmt.Sprintf("parse %s/%s/%s", key.Segment, key.Token, key.Timeframe)
	series := &domain.Series{Key: key}

	for lineNo, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")

		if key.Timeframe == domain.TimeframeTick {
			if len(fields) != len(tickColumns) {
				return nil, &domain.ParseError{Op: op, Detail: fmt.Sprintf("line %d: got %d columns, want %d", lineNo+1, len(fields), len(tickColumns))}
			}
			tick, err := parseTickRow(fields)
			if err != nil {
				return nil, &domain.ParseError{Op: op, Detail: fmt.Sprintf("line %d: %v", lineNo+1, err)}
			}
			series.Ticks = append(series.Ticks, tick)
			continue
		}

		if len(fields) != len(candleColumns) {
			return nil, &domain.ParseError{Op: op, Detail: fmt.Sprintf("line %d: got %d columns, want %d", lineNo+1, len(fields), len(candleColumns))}
		}
		candle, err := parseCandleRow(fields)
		if err != nil {
			return nil, &domain.ParseError{Op: op, Detail: fmt.Sprintf("line %d: %v", lineNo+1, err)}
		}
		series.Candles = append(series.Candles, candle)
	}

	return series, nil
}

func parseCandleRow(fields []string) (domain.Candle, error) {
	ts, err := parseTimestamp(fields[0])
	if err != nil {
		return domain.Candle{}, err
	}

	var c domain.Candle
	c.Timestamp = ts
	if c.Open, err = parseFloat(fields[1]); err != nil {
		return domain.Candle{}, fmt.Errorf("open: %w", err)
	}
	if c.High, err = parseFloat(fields[2]); err != nil {
		return domain.Candle{}, fmt.Errorf("high: %w", err)
	}
	if c.Low, err = parseFloat(fields[3]); err != nil {
		return domain.Candle{}, fmt.Errorf("low: %w", err)
	}
	if c.Close, err = parseFloat(fields[4]); err != nil {
		return domain.Candle{}, fmt.Errorf("close: %w", err)
	}
	if c.Volume, err = parseInt(fields[5]); err != nil {
		return domain.Candle{}, fmt.Errorf("volume: %w", err)
	}
	if c.OpenInterest, err = parseInt(fields[6]); err != nil {
		return domain.Candle{}, fmt.Errorf("oi: %w", err)
	}
	return c, nil
}

func parseTickRow(fields []string) (domain.Tick, error) {
	secs, err := parseInt(fields[0])
	if err != nil {
		return domain.Tick{}, fmt.Errorf("utc: %w", err)
	}

	var tk domain.Tick
	tk.Timestamp = time.Unix(secs, 0).UTC()
	if tk.LTP, err = parseFloat(fields[1]); err != nil {
		return domain.Tick{}, fmt.Errorf("ltp: %w", err)
	}
	if tk.LTQ, err = parseInt(fields[2]); err != nil {
		return domain.Tick{}, fmt.Errorf("ltq: %w", err)
	}
	if tk.OpenInterest, err = parseInt(fields[3]); err != nil {
		return domain.Tick{}, fmt.Errorf("oi: %w", err)
	}
	return tk, nil
}

// encodeCandle renders one local dataset row.
func encodeCandle(c domain.Candle) string {
	return strings.Join([]string{
		c.Timestamp.UTC().Format(localTimeLayout),
		strconv.FormatFloat(c.Open, 'f', -1, 64),
		strconv.FormatFloat(c.High, 'f', -1, 64),
		strconv.FormatFloat(c.Low, 'f', -1, 64),
		strconv.FormatFloat(c.Close, 'f', -1, 64),
		strconv.FormatInt(c.Volume, 10),
		strconv.FormatInt(c.OpenInterest, 10),
	}, ",")
}

// encodeTick renders one local dataset row. Timestamps are stored as epoch
// seconds, matching the wire format.
func encodeTick(tk domain.Tick) string {
	return strings.Join([]string{
		strconv.FormatInt(tk.Timestamp.Unix(), 10),
		strconv.FormatFloat(tk.LTP, 'f', -1, 64),
		strconv.FormatInt(tk.LTQ, 10),
		strconv.FormatInt(tk.OpenInterest, 10),
	}, ",")
}
