package orders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Journal records every order action and its broker outcome in a local
// SQLite database. It is an audit trail: journal failures are logged by the
// Manager but never fail the order itself.
type Journal struct {
	db *sql.DB
}

// JournalEntry is one recorded order action.
type JournalEntry struct {
	Timestamp time.Time
	Action    string // place, modify, cancel, gtt_place, oco_place, square_off, ...
	Remark    string
	OrderID   string
	Symbol    string
	Exchange  string
	Side      string
	Quantity  int64
	Price     float64
	Status    string
	Message   string
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS order_journal (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        TEXT NOT NULL,
	action    TEXT NOT NULL,
	remark    TEXT,
	order_id  TEXT,
	symbol    TEXT,
	exchange  TEXT,
	side      TEXT,
	quantity  INTEGER,
	price     REAL,
	status    TEXT,
	message   TEXT
);
CREATE INDEX IF NOT EXISTS idx_order_journal_order_id ON order_journal(order_id);
`

// NewJournal opens (or creates) the journal database at dbPath.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one entry.
func (j *Journal) Record(ctx context.Context, e JournalEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO order_journal
			(ts, action, remark, order_id, symbol, exchange, side, quantity, price, status, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339), e.Action, e.Remark, e.OrderID,
		e.Symbol, e.Exchange, e.Side, e.Quantity, e.Price, e.Status, e.Message,
	)
	return err
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT ts, action, remark, order_id, symbol, exchange, side, quantity, price, status, message
		FROM order_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var ts string
		if err := rows.Scan(&ts, &e.Action, &e.Remark, &e.OrderID,
			&e.Symbol, &e.Exchange, &e.Side, &e.Quantity, &e.Price, &e.Status, &e.Message); err != nil {
			return nil, err
		}
		if parsed, perr := time.Parse(time.RFC3339, ts); perr == nil {
			e.Timestamp = parsed
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
