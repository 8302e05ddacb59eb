package history

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dartbot/internal/domain"
)

// Store persists one CSV dataset per (segment, token, timeframe) key under
// <DataDir>/historical/<segment>/<token>_<timeframe>.csv. Files carry a
// header row and are always rewritten wholesale so the sorted-unique
// invariant holds on disk at all times.
type Store struct {
	DataDir string
}

// NewStore creates a Store rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{DataDir: dataDir}
}

// Path returns the dataset file location for a key.
func (s *Store) Path(key domain.SeriesKey) string {
	name := fmt.Sprintf("%s_%s.csv", key.Token, key.Timeframe)
	return filepath.Join(s.DataDir, "historical", key.Segment, name)
}

// Load reads the dataset for a key. The second result is false when no
// dataset exists yet.
func (s *Store) Load(key domain.SeriesKey) (*domain.Series, bool, error) {
	path := s.Path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading dataset %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 {
		// Drop the header row.
		lines = lines[1:]
	}

	body := strings.Join(lines, "\n")
	series, perr := parseRemote(key, []byte(body))
	if perr != nil {
		return nil, false, perr
	}
	return series, true, nil
}

// Write replaces the dataset for series.Key wholesale: the rows are written
// to a temp file alongside the target and renamed into place, so a failed
// sync can never corrupt the previous dataset.
func (s *Store) Write(series *domain.Series) error {
	path := s.Path(series.Key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dataset dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".dataset-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp dataset: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	writeErr := writeRows(w, series)
	if writeErr == nil {
		writeErr = w.Flush()
	}
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing dataset %s: %w", path, writeErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing dataset %s: %w", path, err)
	}
	return nil
}

func writeRows(w *bufio.Writer, series *domain.Series) error {
	if series.Key.Timeframe == domain.TimeframeTick {
		if _, err := w.WriteString(strings.Join(tickColumns, ",") + "\n"); err != nil {
			return err
		}
		for _, tk := range series.Ticks {
			if _, err := w.WriteString(encodeTick(tk) + "\n"); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := w.WriteString(strings.Join(candleColumns, ",") + "\n"); err != nil {
		return err
	}
	for _, c := range series.Candles {
		if _, err := w.WriteString(encodeCandle(c) + "\n"); err != nil {
			return err
		}
	}
	return nil
}
