// Package trading executes validated orders against the broker and keeps
// the trade journal.
package trading

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/database"
	"github.com/aristath/microcap/internal/domain"
)

// Trade is one journal row: a submitted order and its last observed state.
type Trade struct {
	ID             int64
	Timestamp      time.Time
	Ticker         string
	Side           domain.Side
	Qty            int
	LimitPrice     float64
	FilledQty      float64
	FilledAvgPrice float64
	Status         string
	OrderID        string
	ClientOrderID  string
	Reason         string
}

// TradeRepository persists trades in the ledger database.
type TradeRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewTradeRepository creates a trade repository.
func NewTradeRepository(db *database.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repository", "trades").Logger(),
	}
}

// InitSchema creates the trades table if it does not exist.
func (r *TradeRepository) InitSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			ticker TEXT NOT NULL,
			side TEXT NOT NULL,
			qty INTEGER NOT NULL,
			limit_price REAL NOT NULL,
			filled_qty REAL NOT NULL DEFAULT 0,
			filled_avg_price REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			order_id TEXT,
			client_order_id TEXT,
			reason TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker);
		CREATE INDEX IF NOT EXISTS idx_trades_order_id ON trades(order_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create trades schema: %w", err)
	}
	return nil
}

// Create inserts a new trade record.
func (r *TradeRepository) Create(t Trade) error {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}

	_, err := r.db.Exec(`
		INSERT INTO trades (timestamp, ticker, side, qty, limit_price, filled_qty,
			filled_avg_price, status, order_id, client_order_id, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Timestamp.Format(time.RFC3339),
		t.Ticker,
		string(t.Side),
		t.Qty,
		t.LimitPrice,
		t.FilledQty,
		t.FilledAvgPrice,
		t.Status,
		t.OrderID,
		t.ClientOrderID,
		t.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// CreateBatch inserts a group of trade records atomically. Used for the
// liquidation sweep, where a partially journaled flatten would misstate what
// was actually sent to the broker.
func (r *TradeRepository) CreateBatch(trades []Trade) error {
	if len(trades) == 0 {
		return nil
	}

	return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		for _, t := range trades {
			if t.Timestamp.IsZero() {
				t.Timestamp = time.Now().UTC()
			}
			if _, err := tx.Exec(`
				INSERT INTO trades (timestamp, ticker, side, qty, limit_price, filled_qty,
					filled_avg_price, status, order_id, client_order_id, reason)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.Timestamp.Format(time.RFC3339),
				t.Ticker,
				string(t.Side),
				t.Qty,
				t.LimitPrice,
				t.FilledQty,
				t.FilledAvgPrice,
				t.Status,
				t.OrderID,
				t.ClientOrderID,
				t.Reason,
			); err != nil {
				return fmt.Errorf("failed to insert trade for %s: %w", t.Ticker, err)
			}
		}
		return nil
	})
}

// UpdateStatus patches the last observed status of a submitted order.
// Used by the order-update stream when fills arrive after the poll budget.
func (r *TradeRepository) UpdateStatus(orderID string, status domain.OrderStatus, filledQty, filledAvgPrice float64) error {
	res, err := r.db.Exec(`
		UPDATE trades SET status = ?, filled_qty = ?, filled_avg_price = ?
		WHERE order_id = ?`,
		string(status), filledQty, filledAvgPrice, orderID,
	)
	if err != nil {
		return fmt.Errorf("failed to update trade status: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		r.log.Debug().Str("order_id", orderID).Msg("Status update for unknown order, ignoring")
	}
	return nil
}

// GetHistory retrieves recent trades, newest first.
func (r *TradeRepository) GetHistory(limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(`
		SELECT id, timestamp, ticker, side, qty, limit_price, filled_qty,
			filled_avg_price, status, order_id, client_order_id, reason
		FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetByOrderID retrieves a trade by broker order ID.
func (r *TradeRepository) GetByOrderID(orderID string) (*Trade, error) {
	rows, err := r.db.Query(`
		SELECT id, timestamp, ticker, side, qty, limit_price, filled_qty,
			filled_avg_price, status, order_id, client_order_id, reason
		FROM trades WHERE order_id = ? LIMIT 1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, nil
	}
	return &trades[0], nil
}

// GetTradeCountToday returns the number of trades journaled today (UTC).
func (r *TradeRepository) GetTradeCountToday() (int, error) {
	today := time.Now().UTC().Format("2006-01-02")

	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM trades WHERE timestamp >= ?`, today,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

func scanTrades(rows *sql.Rows) ([]Trade, error) {
	var trades []Trade
	for rows.Next() {
		var t Trade
		var ts, side string
		var orderID, clientOrderID, reason sql.NullString

		if err := rows.Scan(&t.ID, &ts, &t.Ticker, &side, &t.Qty, &t.LimitPrice,
			&t.FilledQty, &t.FilledAvgPrice, &t.Status, &orderID, &clientOrderID, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}

		parsed, err := time.Parse(time.RFC3339, ts)
		if err == nil {
			t.Timestamp = parsed
		}
		t.Side = domain.Side(side)
		t.OrderID = orderID.String
		t.ClientOrderID = clientOrderID.String
		t.Reason = reason.String

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
