// Package sqlstore persists daily candles in SQLite or Postgres and serves
// them as a history source.
package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"marketchart/internal/history"
	"marketchart/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS daily_candles (
	exchange TEXT             NOT NULL,
	market   TEXT             NOT NULL,
	code     TEXT             NOT NULL,
	day      BIGINT           NOT NULL,
	open     DOUBLE PRECISION NOT NULL,
	high     DOUBLE PRECISION NOT NULL,
	low      DOUBLE PRECISION NOT NULL,
	close    DOUBLE PRECISION NOT NULL,
	volume   BIGINT           NOT NULL DEFAULT 0,
	turnover DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (exchange, market, code, day)
)`

// candleRow is the table row shape.
type candleRow struct {
	Exchange string  `db:"exchange"`
	Market   string  `db:"market"`
	Code     string  `db:"code"`
	Day      int64   `db:"day"`
	Open     float64 `db:"open"`
	High     float64 `db:"high"`
	Low      float64 `db:"low"`
	Close    float64 `db:"close"`
	Volume   int64   `db:"volume"`
	Turnover float64 `db:"turnover"`
}

func (r candleRow) candle() model.Candle {
	return model.Candle{
		Time:     r.Day,
		Open:     r.Open,
		High:     r.High,
		Low:      r.Low,
		Close:    r.Close,
		Volume:   r.Volume,
		Turnover: r.Turnover,
	}
}

// Store is a candle table behind sqlx.
type Store struct {
	db *sqlx.DB
}

// Open connects with driver ("sqlite3" or "postgres") and creates the
// schema when missing.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver == "sqlite3" && !strings.Contains(dsn, "?") && dsn != ":memory:" {
		dsn += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: connect %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: schema: %w", err)
	}
	slog.Info("candle store opened", "driver", driver)
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Fetch implements history.Source: the newest req.Limit candles older than
// req.Before (or the newest overall when Before is 0), oldest first.
func (s *Store) Fetch(ctx context.Context, req history.Request) ([]model.Candle, error) {
	if req.Interval != "" && req.Interval != history.IntervalDaily {
		return nil, fmt.Errorf("sqlstore: unsupported interval %q", req.Interval)
	}
	query := `
		SELECT exchange, market, code, day, open, high, low, close, volume, turnover
		FROM daily_candles
		WHERE exchange = ? AND market = ? AND code = ?`
	args := []any{req.Instrument.Exchange, req.Instrument.Market, req.Instrument.Code}
	if req.Before != 0 {
		query += ` AND day < ?`
		args = append(args, req.Before)
	}
	query += ` ORDER BY day DESC LIMIT ?`
	args = append(args, req.Limit)

	var rows []candleRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: select %s: %w", req.Instrument.Key(), err)
	}

	out := make([]model.Candle, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.candle()
	}
	return out, nil
}

// UpsertCandles inserts or replaces candles of inst in one transaction.
func (s *Store) UpsertCandles(ctx context.Context, inst model.Instrument, candles []model.Candle) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO daily_candles (exchange, market, code, day, open, high, low, close, volume, turnover)
		VALUES (:exchange, :market, :code, :day, :open, :high, :low, :close, :volume, :turnover)
		ON CONFLICT (exchange, market, code, day) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			turnover = excluded.turnover`)
	if err != nil {
		return fmt.Errorf("sqlstore: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		row := candleRow{
			Exchange: inst.Exchange,
			Market:   inst.Market,
			Code:     inst.Code,
			Day:      c.Time,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
			Turnover: c.Turnover,
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("sqlstore: upsert %s@%d: %w", inst.Key(), c.Time, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored candles of inst.
func (s *Store) Count(ctx context.Context, inst model.Instrument) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(
		`SELECT COUNT(*) FROM daily_candles WHERE exchange = ? AND market = ? AND code = ?`),
		inst.Exchange, inst.Market, inst.Code)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: count: %w", err)
	}
	return n, nil
}
