// Package journal persists every order round-trip to SQLite. The journal
// is an audit log: the engine never reads it back to make decisions, but
// the control plane and the daily-loss check query it.
package journal

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	exchange   TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	size       REAL NOT NULL,
	price      REAL NOT NULL,
	order_id   TEXT NOT NULL DEFAULT '',
	stage      INTEGER NOT NULL DEFAULT 0,
	rule_id    TEXT NOT NULL DEFAULT '',
	pnl        REAL NOT NULL DEFAULT 0,
	err        TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(exchange, symbol);
`

// Journal is the SQLite-backed trade log.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path and applies the schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "journal: open sqlite")
	}
	// SQLite is happiest with one writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "journal: migrate")
	}
	return &Journal{db: db}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record is one journal row.
type Record struct {
	ID        int64
	Kind      string
	Exchange  string
	Symbol    string
	Side      string
	Size      float64
	Price     float64
	OrderID   string
	Stage     int
	RuleID    string
	PnL       float64
	Err       string
	CreatedAt time.Time
}

func (j *Journal) insert(r Record) error {
	_, err := j.db.Exec(`
		INSERT INTO trades (kind, exchange, symbol, side, size, price, order_id, stage, rule_id, pnl, err, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Kind, r.Exchange, r.Symbol, r.Side, r.Size, r.Price,
		r.OrderID, r.Stage, r.RuleID, r.PnL, r.Err, r.CreatedAt.UTC(),
	)
	return errors.Wrap(err, "journal: insert trade")
}

// DailyRealizedPnL sums realized PnL for day's UTC date.
func (j *Journal) DailyRealizedPnL(day time.Time) (float64, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var pnl sql.NullFloat64
	err := j.db.QueryRow(`
		SELECT SUM(pnl) FROM trades
		WHERE created_at >= ? AND created_at < ? AND err = ''`,
		start, end,
	).Scan(&pnl)
	if err != nil {
		return 0, errors.Wrap(err, "journal: daily pnl")
	}
	return pnl.Float64, nil
}

// RecentTrades returns up to limit most recent rows, newest first.
func (j *Journal) RecentTrades(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`
		SELECT id, kind, exchange, symbol, side, size, price, order_id, stage, rule_id, pnl, err, created_at
		FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "journal: recent trades")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Kind, &r.Exchange, &r.Symbol, &r.Side,
			&r.Size, &r.Price, &r.OrderID, &r.Stage, &r.RuleID, &r.PnL,
			&r.Err, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "journal: scan trade")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "journal: iterate trades")
}
