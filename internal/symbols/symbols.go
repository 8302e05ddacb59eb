// Package symbols resolves tradable instruments from the broker's symbol
// master file.
package symbols

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"dartbot/internal/domain"
)

// Instrument is one row of the symbol master.
type Instrument struct {
	Exchange      string
	Token         string
	Symbol        string
	Name          string
	InstrumentTyp string
	Expiry        string
	LotSize       int
	Strike        float64
	OptionType    string
	Underlying    string
	TickSize      float64
	Multiplier    int
	ISIN          string
}

// masterColumns is the fixed layout of the master file. Files with a
// different column count are rejected outright.
const masterColumns = 13

// Cache holds the parsed symbol master in memory, keyed for exact lookup
// by (exchange, symbol).
type Cache struct {
	byKey map[string]Instrument
	all   []Instrument
	log   *slog.Logger
}

// Load parses the symbol master file at path into a Cache.
func Load(path string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening symbol master: %w", err)
	}
	defer f.Close()

	c := &Cache{
		byKey: make(map[string]Instrument),
		log:   logger.With("component", "symbols"),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != masterColumns {
			return nil, &domain.ParseError{
				Op:     "symbol master",
				Detail: fmt.Sprintf("line %d: got %d columns, want %d", lineNo, len(fields), masterColumns),
			}
		}
		inst := parseRow(fields)
		c.byKey[key(inst.Exchange, inst.Symbol)] = inst
		c.all = append(c.all, inst)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading symbol master: %w", err)
	}

	c.log.Info("symbol master loaded", "instruments", len(c.all))
	return c, nil
}

func parseRow(fields []string) Instrument {
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	lot, _ := strconv.Atoi(fields[6])
	strike, _ := strconv.ParseFloat(fields[7], 64)
	tick, _ := strconv.ParseFloat(fields[10], 64)
	mult, _ := strconv.Atoi(fields[11])
	return Instrument{
		Exchange:      fields[0],
		Token:         fields[1],
		Symbol:        fields[2],
		Name:          fields[3],
		InstrumentTyp: fields[4],
		Expiry:        fields[5],
		LotSize:       lot,
		Strike:        strike,
		OptionType:    fields[8],
		Underlying:    fields[9],
		TickSize:      tick,
		Multiplier:    mult,
		ISIN:          fields[12],
	}
}

func key(exchange, symbol string) string {
	return strings.ToUpper(exchange) + "|" + strings.ToUpper(symbol)
}

// Len returns the number of loaded instruments.
func (c *Cache) Len() int { return len(c.all) }

// Lookup returns the instrument for an exact (exchange, symbol) pair.
func (c *Cache) Lookup(exchange, symbol string) (Instrument, bool) {
	inst, ok := c.byKey[key(exchange, symbol)]
	return inst, ok
}

// Search returns up to max instruments whose symbol or name contains the
// query, case-insensitively, in master-file order.
func (c *Cache) Search(query string, max int) []Instrument {
	if max <= 0 || query == "" {
		return nil
	}
	q := strings.ToUpper(query)

	var out []Instrument
	for _, inst := range c.all {
		if strings.Contains(strings.ToUpper(inst.Symbol), q) ||
			strings.Contains(strings.ToUpper(inst.Name), q) {
			out = append(out, inst)
			if len(out) == max {
				break
			}
		}
	}
	return out
}
