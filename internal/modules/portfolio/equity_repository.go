package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/database"
)

// EquityRow is one point of the running total-equity series.
type EquityRow struct {
	ID          int64
	Timestamp   time.Time
	CashBalance float64
	TotalEquity float64
}

// EquityRepository persists the total-equity series in the ledger database.
// The latest row drives the drawdown baseline and the daily-change report.
type EquityRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewEquityRepository creates an equity series repository.
func NewEquityRepository(db *database.DB, log zerolog.Logger) *EquityRepository {
	return &EquityRepository{
		db:  db,
		log: log.With().Str("repository", "equity").Logger(),
	}
}

// InitSchema creates the equity table if it does not exist.
func (r *EquityRepository) InitSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS equity_series (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			cash_balance REAL NOT NULL,
			total_equity REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_equity_timestamp ON equity_series(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create equity schema: %w", err)
	}
	return nil
}

// Append records a new equity total.
func (r *EquityRepository) Append(cashBalance, totalEquity float64) error {
	_, err := r.db.Exec(
		`INSERT INTO equity_series (timestamp, cash_balance, total_equity) VALUES (?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), cashBalance, totalEquity,
	)
	if err != nil {
		return fmt.Errorf("failed to append equity row: %w", err)
	}
	return nil
}

// LatestTotalEquity returns the most recent recorded total equity, or 0 on
// first run (no rows yet).
func (r *EquityRepository) LatestTotalEquity() (float64, error) {
	var equity float64
	err := r.db.QueryRow(
		`SELECT total_equity FROM equity_series ORDER BY id DESC LIMIT 1`,
	).Scan(&equity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load latest equity: %w", err)
	}
	return equity, nil
}

// GetSeries returns the most recent rows, oldest first.
func (r *EquityRepository) GetSeries(limit int) ([]EquityRow, error) {
	if limit <= 0 {
		limit = 365
	}

	rows, err := r.db.Query(`
		SELECT id, timestamp, cash_balance, total_equity FROM (
			SELECT id, timestamp, cash_balance, total_equity
			FROM equity_series ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity series: %w", err)
	}
	defer rows.Close()

	var series []EquityRow
	for rows.Next() {
		var row EquityRow
		var ts string
		if err := rows.Scan(&row.ID, &ts, &row.CashBalance, &row.TotalEquity); err != nil {
			return nil, fmt.Errorf("failed to scan equity row: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			row.Timestamp = parsed
		}
		series = append(series, row)
	}
	return series, rows.Err()
}
