// Package store provides the embedded relational persistence layer: matched
// markets, ring-buffered quote snapshots, positions, closed trades, the
// wallet singleton, tunable parameters, and the append-only audit log.
//
// Backed by modernc.org/sqlite (pure Go, no cgo), write-ahead logging on,
// a single writer connection, and a versioned schema_version migration
// ladder so the database file can be upgraded in place across releases.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"predxarb/internal/config"
	"predxarb/pkg/types"
)

const quoteRingBufferSize = 500

// Store wraps the sqlite connection. Writes are serialized through the
// single *sql.DB connection pool (capped at one open connection) since
// sqlite only supports one writer at a time; readers tolerate brief
// staleness and need no explicit transaction.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database file and runs pending migrations.
func Open(cfg config.StoreConfig, logger *slog.Logger) (*Store, error) {
	busyTimeout := cfg.BusyTimeoutMS
	if busyTimeout <= 0 {
		busyTimeout = 10000
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", cfg.Path, busyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline (spec §5)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	version := 0
	s.db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS matched_markets (
				id             TEXT PRIMARY KEY,
				venueA_id      TEXT NOT NULL,
				venueB_id      TEXT NOT NULL DEFAULT '',
				venueC_id      TEXT NOT NULL DEFAULT '',
				category       TEXT NOT NULL,
				title          TEXT NOT NULL,
				confidence     REAL NOT NULL DEFAULT 0,
				structural_meta TEXT NOT NULL DEFAULT '',
				first_seen_ts  TEXT NOT NULL,
				last_seen_ts   TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS market_quotes (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				matched_id TEXT NOT NULL REFERENCES matched_markets(id),
				venue      TEXT NOT NULL,
				bid        REAL NOT NULL,
				ask        REAL NOT NULL,
				last       REAL NOT NULL,
				bid_depth  REAL NOT NULL DEFAULT 0,
				ask_depth  REAL NOT NULL DEFAULT 0,
				ts         TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_market_quotes_matched ON market_quotes(matched_id, ts);

			CREATE TABLE IF NOT EXISTS positions (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				matched_id     TEXT NOT NULL REFERENCES matched_markets(id),
				venueA_market  TEXT NOT NULL,
				direction      TEXT NOT NULL,
				entry_price    REAL NOT NULL,
				qty            REAL NOT NULL,
				notional       REAL NOT NULL,
				entry_ts       TEXT NOT NULL,
				mode           TEXT NOT NULL,
				category       TEXT NOT NULL,
				tp             REAL NOT NULL,
				sl             REAL NOT NULL,
				max_hold_ts    TEXT NOT NULL,
				hw             REAL NOT NULL,
				lw             REAL NOT NULL,
				state          TEXT NOT NULL,
				idempotency_key TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_positions_state ON positions(state);

			CREATE TABLE IF NOT EXISTS trades (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				position_id  INTEGER NOT NULL REFERENCES positions(id),
				entry_price  REAL NOT NULL,
				exit_price   REAL NOT NULL,
				qty          REAL NOT NULL,
				gross_pnl    REAL NOT NULL,
				net_pnl      REAL NOT NULL,
				fees         REAL NOT NULL,
				exit_reason  TEXT NOT NULL,
				hold_seconds INTEGER NOT NULL,
				mode         TEXT NOT NULL,
				closed_ts    TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_trades_closed ON trades(closed_ts DESC);

			CREATE TABLE IF NOT EXISTS wallet (
				id             INTEGER PRIMARY KEY CHECK (id = 1),
				balance        REAL NOT NULL,
				initial        REAL NOT NULL,
				peak           REAL NOT NULL,
				daily_pnl      REAL NOT NULL DEFAULT 0,
				daily_loss_count INTEGER NOT NULL DEFAULT 0,
				daily_start_ts TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS parameters (
				key        TEXT PRIMARY KEY,
				value      REAL NOT NULL,
				min        REAL NOT NULL,
				max        REAL NOT NULL,
				updated_ts TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS audit (
				id      INTEGER PRIMARY KEY AUTOINCREMENT,
				ts      TEXT NOT NULL,
				kind    TEXT NOT NULL,
				payload_json TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit(ts DESC);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		s.logger.Info("applied migration", "version", 1)
	}

	return nil
}

// --- matched markets ---

func (s *Store) UpsertMatchedMarket(ctx context.Context, m types.MatchedMarket) error {
	structural := ""
	if m.Structural != nil {
		structural = fmt.Sprintf("%s|%s|%s|%s", m.Structural.Asset, m.Structural.Strike.String(), m.Structural.Expiry.Format(time.RFC3339), m.Structural.Payoff)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matched_markets (id, venueA_id, venueB_id, venueC_id, category, title, confidence, structural_meta, first_seen_ts, last_seen_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			venueA_id = excluded.venueA_id,
			venueB_id = excluded.venueB_id,
			venueC_id = excluded.venueC_id,
			confidence = excluded.confidence,
			last_seen_ts = excluded.last_seen_ts
	`, m.ID, m.VenueAID, m.VenueBID, m.VenueCID, m.Category, m.Title, m.Confidence, structural,
		m.FirstSeen.Format(time.RFC3339), m.LastSeenA.Format(time.RFC3339))
	return err
}

// --- market quotes (ring-buffered) ---

// InsertQuote appends a quote snapshot, then purges the oldest rows for the
// market beyond quoteRingBufferSize so the table never grows unbounded.
func (s *Store) InsertQuote(ctx context.Context, matchedID string, q types.Quote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO market_quotes (matched_id, venue, bid, ask, last, bid_depth, ask_depth, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, matchedID, q.Venue, decimalToFloat(q.Bid), decimalToFloat(q.Ask), decimalToFloat(q.Last),
		decimalToFloat(q.BidDepth), decimalToFloat(q.AskDepth), q.Timestamp.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("insert quote: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM market_quotes
		WHERE matched_id = ? AND venue = ? AND id NOT IN (
			SELECT id FROM market_quotes WHERE matched_id = ? AND venue = ? ORDER BY id DESC LIMIT ?
		)
	`, matchedID, q.Venue, matchedID, q.Venue, quoteRingBufferSize); err != nil {
		return fmt.Errorf("purge quote ring buffer: %w", err)
	}
	return tx.Commit()
}

// --- positions / trades (implements the trading.Store interface) ---

func (s *Store) InsertPosition(ctx context.Context, p types.Position) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (matched_id, venueA_market, direction, entry_price, qty, notional, entry_ts, mode, category, tp, sl, max_hold_ts, hw, lw, state, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.MatchedID, p.VenueAMarket, p.Direction, decimalToFloat(p.EntryPrice), decimalToFloat(p.Quantity),
		decimalToFloat(p.Notional), p.EntryTimestamp.Format(time.RFC3339), p.Mode, p.Category,
		decimalToFloat(p.TakeProfit), decimalToFloat(p.StopLoss), p.MaxHoldUntil.Format(time.RFC3339),
		decimalToFloat(p.HighWater), decimalToFloat(p.LowWater), p.State, p.IdempotencyKey)
	if err != nil {
		return 0, fmt.Errorf("insert position: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) UpdatePosition(ctx context.Context, p types.Position) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE positions SET tp = ?, sl = ?, hw = ?, lw = ?, state = ?
		WHERE id = ?
	`, decimalToFloat(p.TakeProfit), decimalToFloat(p.StopLoss), decimalToFloat(p.HighWater),
		decimalToFloat(p.LowWater), p.State, p.ID)
	return err
}

// ClosePosition marks the position closed, inserts its trade record, and
// applies the trade's net P&L to the wallet singleton, all in one
// transaction, matching the one-transaction-per-meaningful-event rule (spec
// §3, §4.7: the wallet is updated atomically with each closed trade).
func (s *Store) ClosePosition(ctx context.Context, p types.Position, trade types.ClosedTrade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE positions SET state = ? WHERE id = ?`, types.StateClosed, p.ID); err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades (position_id, entry_price, exit_price, qty, gross_pnl, net_pnl, fees, exit_reason, hold_seconds, mode, closed_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, decimalToFloat(trade.EntryPrice), decimalToFloat(trade.ExitPrice), decimalToFloat(trade.Quantity),
		decimalToFloat(trade.GrossPnL), decimalToFloat(trade.NetPnL), decimalToFloat(trade.Fees),
		trade.ExitReason, trade.HoldSeconds, trade.Mode, trade.ClosedAt.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	var balance, peak, dailyPnL float64
	var dailyLossCount int
	var dailyStartTS string
	err = tx.QueryRowContext(ctx, `SELECT balance, peak, daily_pnl, daily_loss_count, daily_start_ts FROM wallet WHERE id = 1`).
		Scan(&balance, &peak, &dailyPnL, &dailyLossCount, &dailyStartTS)
	if err != nil {
		return fmt.Errorf("load wallet for close: %w", err)
	}

	netPnL := decimalToFloat(trade.NetPnL)
	balance += netPnL
	if balance > peak {
		peak = balance
	}
	dailyPnL += netPnL
	if netPnL < 0 {
		dailyLossCount++
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE wallet SET balance = ?, peak = ?, daily_pnl = ?, daily_loss_count = ? WHERE id = 1
	`, balance, peak, dailyPnL, dailyLossCount); err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}

	return tx.Commit()
}

func (s *Store) OpenPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, matched_id, venueA_market, direction, entry_price, qty, notional, entry_ts, mode, category, tp, sl, max_hold_ts, hw, lw, state, idempotency_key
		FROM positions WHERE state IN (?, ?)
	`, types.StateOpen, types.StateExiting)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var p types.Position
		var entryPrice, qty, notional, tp, sl, hw, lw float64
		var entryTS, maxHoldTS string
		if err := rows.Scan(&p.ID, &p.MatchedID, &p.VenueAMarket, &p.Direction, &entryPrice, &qty, &notional,
			&entryTS, &p.Mode, &p.Category, &tp, &sl, &maxHoldTS, &hw, &lw, &p.State, &p.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.EntryPrice = decimal.NewFromFloat(entryPrice)
		p.Quantity = decimal.NewFromFloat(qty)
		p.Notional = decimal.NewFromFloat(notional)
		p.TakeProfit = decimal.NewFromFloat(tp)
		p.StopLoss = decimal.NewFromFloat(sl)
		p.HighWater = decimal.NewFromFloat(hw)
		p.LowWater = decimal.NewFromFloat(lw)
		p.EntryTimestamp, _ = time.Parse(time.RFC3339, entryTS)
		p.MaxHoldUntil, _ = time.Parse(time.RFC3339, maxHoldTS)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) RecentClosedTrades(ctx context.Context, n int) ([]types.ClosedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, position_id, entry_price, exit_price, qty, gross_pnl, net_pnl, fees, exit_reason, hold_seconds, mode, closed_ts
		FROM trades ORDER BY id DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	defer rows.Close()

	var out []types.ClosedTrade
	for rows.Next() {
		var t types.ClosedTrade
		var entryPrice, exitPrice, qty, gross, net, fees float64
		var closedTS string
		if err := rows.Scan(&t.ID, &t.PositionID, &entryPrice, &exitPrice, &qty, &gross, &net, &fees,
			&t.ExitReason, &t.HoldSeconds, &t.Mode, &closedTS); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.EntryPrice = decimal.NewFromFloat(entryPrice)
		t.ExitPrice = decimal.NewFromFloat(exitPrice)
		t.Quantity = decimal.NewFromFloat(qty)
		t.GrossPnL = decimal.NewFromFloat(gross)
		t.NetPnL = decimal.NewFromFloat(net)
		t.Fees = decimal.NewFromFloat(fees)
		t.ClosedAt, _ = time.Parse(time.RFC3339, closedTS)
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- wallet singleton ---

func (s *Store) GetWallet(ctx context.Context) (types.Wallet, error) {
	var w types.Wallet
	var balance, initial, peak, dailyPnL float64
	var dailyStartTS string
	err := s.db.QueryRowContext(ctx, `SELECT balance, initial, peak, daily_pnl, daily_loss_count, daily_start_ts FROM wallet WHERE id = 1`).
		Scan(&balance, &initial, &peak, &dailyPnL, &w.DailyLossCount, &dailyStartTS)
	if err == sql.ErrNoRows {
		return types.Wallet{}, nil
	}
	if err != nil {
		return types.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	w.Balance = decimal.NewFromFloat(balance)
	w.Initial = decimal.NewFromFloat(initial)
	w.Peak = decimal.NewFromFloat(peak)
	w.DailyPnL = decimal.NewFromFloat(dailyPnL)
	w.DailyStartTS, _ = time.Parse(time.RFC3339, dailyStartTS)
	return w, nil
}

// InitWallet seeds the wallet singleton with the configured starting
// balance the first time the bot ever runs against this database. It is
// idempotent: once the row exists, later calls are no-ops, so it is safe to
// call unconditionally on every Start().
func (s *Store) InitWallet(ctx context.Context, initial float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO wallet (id, balance, initial, peak, daily_pnl, daily_loss_count, daily_start_ts)
		VALUES (1, ?, ?, ?, 0, 0, ?)
	`, initial, initial, initial, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Store) SaveWallet(ctx context.Context, w types.Wallet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet (id, balance, initial, peak, daily_pnl, daily_loss_count, daily_start_ts)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			balance = excluded.balance,
			peak = excluded.peak,
			daily_pnl = excluded.daily_pnl,
			daily_loss_count = excluded.daily_loss_count,
			daily_start_ts = excluded.daily_start_ts
	`, decimalToFloat(w.Balance), decimalToFloat(w.Initial), decimalToFloat(w.Peak),
		decimalToFloat(w.DailyPnL), w.DailyLossCount, w.DailyStartTS.Format(time.RFC3339))
	return err
}

// --- tunable parameters ---

func (s *Store) GetParameter(ctx context.Context, key string) (types.Parameter, bool, error) {
	var p types.Parameter
	var updatedTS string
	err := s.db.QueryRowContext(ctx, `SELECT key, value, min, max, updated_ts FROM parameters WHERE key = ?`, key).
		Scan(&p.Key, &p.Value, &p.Min, &p.Max, &updatedTS)
	if err == sql.ErrNoRows {
		return types.Parameter{}, false, nil
	}
	if err != nil {
		return types.Parameter{}, false, fmt.Errorf("get parameter: %w", err)
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedTS)
	return p, true, nil
}

// SetParameter clamps the value to [min, max] before persisting, never
// trusting the caller to have pre-clamped it.
func (s *Store) SetParameter(ctx context.Context, p types.Parameter) error {
	if p.Value < p.Min {
		p.Value = p.Min
	}
	if p.Value > p.Max {
		p.Value = p.Max
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parameters (key, value, min, max, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_ts = excluded.updated_ts
	`, p.Key, p.Value, p.Min, p.Max, p.UpdatedAt.Format(time.RFC3339))
	return err
}

func (s *Store) ListParameters(ctx context.Context) ([]types.Parameter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, min, max, updated_ts FROM parameters ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Parameter
	for rows.Next() {
		var p types.Parameter
		var updatedTS string
		if err := rows.Scan(&p.Key, &p.Value, &p.Min, &p.Max, &updatedTS); err != nil {
			return nil, err
		}
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedTS)
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- audit log ---

func (s *Store) AppendAudit(ctx context.Context, kind string, payload string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit (ts, kind, payload_json) VALUES (?, ?, ?)`,
		time.Now().Format(time.RFC3339), kind, payload)
	return err
}

func (s *Store) RecentAudit(ctx context.Context, n int) ([]types.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, ts, kind, payload_json FROM audit ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Kind, &e.Payload); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func decimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
