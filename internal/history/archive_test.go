package history

import (
	"testing"
	"time"

	"dartbot/internal/domain"
)

func sampleTicks(start time.Time, n int) []domain.Tick {
	ticks := make([]domain.Tick, n)
	for i := range ticks {
		ticks[i] = domain.Tick{
			Timestamp: start.Add(time.Duration(i) * time.Second),
			LTP:       100 + float64(i),
			LTQ:       int64(10 + i),
		}
	}
	return ticks
}

func TestArchiveWriteReadTicks(t *testing.T) {
	a := NewArchive(t.TempDir())
	start := time.Date(2024, 3, 15, 9, 15, 0, 0, time.UTC)

	if err := a.WriteTicks("NSE", "2885", sampleTicks(start, 5)); err != nil {
		t.Fatalf("WriteTicks: %v", err)
	}

	ticks, err := a.ReadTicks("NSE", "2885", start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(ticks) != 5 {
		t.Fatalf("ticks = %d, want 5", len(ticks))
	}
	if ticks[4].LTP != 104 {
		t.Errorf("ltp = %v, want 104", ticks[4].LTP)
	}
}

func TestArchiveWriteTicksIdempotent(t *testing.T) {
	a := NewArchive(t.TempDir())
	start := time.Date(2024, 3, 15, 9, 15, 0, 0, time.UTC)
	ticks := sampleTicks(start, 3)

	if err := a.WriteTicks("NSE", "2885", ticks); err != nil {
		t.Fatalf("WriteTicks: %v", err)
	}
	if err := a.WriteTicks("NSE", "2885", ticks); err != nil {
		t.Fatalf("WriteTicks again: %v", err)
	}

	got, err := a.ReadTicks("NSE", "2885", start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("ticks after re-archive = %d, want 3", len(got))
	}
}

func TestArchiveSpansDates(t *testing.T) {
	a := NewArchive(t.TempDir())
	// Two ticks either side of midnight land in separate date files.
	ticks := []domain.Tick{
		{Timestamp: time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC), LTP: 1},
		{Timestamp: time.Date(2024, 3, 16, 0, 0, 1, 0, time.UTC), LTP: 2},
	}
	if err := a.WriteTicks("NSE", "2885", ticks); err != nil {
		t.Fatalf("WriteTicks: %v", err)
	}

	got, err := a.ReadTicks("NSE", "2885",
		time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 16, 23, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ticks = %d, want 2 across both dates", len(got))
	}

	tokens, err := a.ListTokens("NSE")
	if err != nil {
		t.Fatalf("ListTokens: %v", err)
	}
	if len(tokens) != 1 || tokens[0] != "2885" {
		t.Errorf("tokens = %v, want [2885]", tokens)
	}
}
