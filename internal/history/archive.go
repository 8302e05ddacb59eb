package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"dartbot/internal/domain"
)

// Archive persists tick data as Parquet files partitioned by instrument and
// trading date:
//
//	<DataDir>/ticks/<segment>/<token>/<YYYY-MM-DD>.parquet
//
// It is the long-term sink for streamed ticks; the CSV Store remains the
// format the synchronizer resumes from.
type Archive struct {
	DataDir string
}

// NewArchive creates an Archive rooted at dataDir.
func NewArchive(dataDir string) *Archive {
	return &Archive{DataDir: dataDir}
}

// TickRecord is the Parquet schema for archived ticks.
type TickRecord struct {
	Timestamp    int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	LTP          float64 `parquet:"ltp"`
	LTQ          int64   `parquet:"ltq"`
	OpenInterest int64   `parquet:"oi"`
}

// WriteTicks merges ticks into the per-date Parquet files for the
// instrument. Re-archiving the same ticks is a no-op: records deduplicate by
// timestamp with incoming data winning.
func (a *Archive) WriteTicks(segment, token string, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	groups := make(map[string][]TickRecord)
	for _, tk := range ticks {
		date := tk.Timestamp.UTC().Format("2006-01-02")
		groups[date] = append(groups[date], TickRecord{
			Timestamp:    tk.Timestamp.UnixMilli(),
			LTP:          tk.LTP,
			LTQ:          tk.LTQ,
			OpenInterest: tk.OpenInterest,
		})
	}

	for date, records := range groups {
		path := a.tickPath(segment, token, date)

		existing, _ := readParquetFile[TickRecord](path)
		merged := mergeTickRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("archiving ticks for %s/%s/%s: %w", segment, token, date, err)
		}
	}
	return nil
}

// ReadTicks reads archived ticks for the instrument within [start, end],
// inclusive. Dates with no archive file are skipped.
func (a *Archive) ReadTicks(segment, token string, start, end time.Time) ([]domain.Tick, error) {
	var ticks []domain.Tick
	for d := start.UTC().Truncate(24 * time.Hour); !d.After(end); d = d.AddDate(0, 0, 1) {
		path := a.tickPath(segment, token, d.Format("2006-01-02"))
		records, err := readParquetFile[TickRecord](path)
		if err != nil {
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if (ts.Equal(start) || ts.After(start)) && (ts.Equal(end) || ts.Before(end)) {
				ticks = append(ticks, domain.Tick{
					Timestamp:    ts,
					LTP:          r.LTP,
					LTQ:          r.LTQ,
					OpenInterest: r.OpenInterest,
				})
			}
		}
	}
	return ticks, nil
}

// ListTokens lists the instrument tokens that have archived ticks in a
// segment.
func (a *Archive) ListTokens(segment string) ([]string, error) {
	dir := filepath.Join(a.DataDir, "ticks", segment)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tokens []string
	for _, e := range entries {
		if e.IsDir() {
			tokens = append(tokens, e.Name())
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

func (a *Archive) tickPath(segment, token, date string) string {
	return filepath.Join(a.DataDir, "ticks", segment, token, date+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeTickRecords deduplicates by timestamp, preferring incoming records,
// and returns the result sorted ascending.
func mergeTickRecords(existing, incoming []TickRecord) []TickRecord {
	seen := make(map[int64]TickRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]TickRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
