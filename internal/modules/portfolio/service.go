// Package portfolio provides the held-portfolio snapshot and the persisted
// total-equity series.
package portfolio

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/domain"
)

// Snapshot is the read-only portfolio state captured at run start.
type Snapshot struct {
	Positions []domain.Position
	Cash      float64
	Equity    float64
}

// ByTicker returns the positions keyed by symbol.
func (s *Snapshot) ByTicker() map[string]domain.Position {
	out := make(map[string]domain.Position, len(s.Positions))
	for _, p := range s.Positions {
		out[p.Symbol] = p
	}
	return out
}

// Tickers returns the held symbols.
func (s *Snapshot) Tickers() []string {
	out := make([]string, 0, len(s.Positions))
	for _, p := range s.Positions {
		out = append(out, p.Symbol)
	}
	return out
}

// Service loads portfolio snapshots from the broker.
type Service struct {
	broker domain.BrokerClient
	log    zerolog.Logger
}

// NewService creates a portfolio service.
func NewService(broker domain.BrokerClient, log zerolog.Logger) *Service {
	return &Service{
		broker: broker,
		log:    log.With().Str("service", "portfolio").Logger(),
	}
}

// LoadSnapshot fetches positions and account figures in one pass.
func (s *Service) LoadSnapshot() (*Snapshot, error) {
	positions, err := s.broker.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	account, err := s.broker.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	s.log.Debug().
		Int("positions", len(positions)).
		Float64("cash", account.Cash).
		Float64("equity", account.Equity).
		Msg("Portfolio snapshot loaded")

	return &Snapshot{
		Positions: positions,
		Cash:      account.Cash,
		Equity:    account.Equity,
	}, nil
}

// promptPosition is the JSON shape embedded in the advisory prompt.
type promptPosition struct {
	Ticker       string  `json:"ticker"`
	Shares       float64 `json:"shares"`
	CostBasis    float64 `json:"cost_basis"`
	CurrentPrice float64 `json:"current_price"`
	TotalValue   float64 `json:"total_value"`
}

// SummarizeForPrompt renders the holdings as a compact JSON array for the
// advisory prompt. An empty portfolio yields "[]".
func SummarizeForPrompt(positions []domain.Position) string {
	rows := make([]promptPosition, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, promptPosition{
			Ticker:       p.Symbol,
			Shares:       p.Shares,
			CostBasis:    p.CostBasis,
			CurrentPrice: p.CurrentPrice,
			TotalValue:   p.TotalValue,
		})
	}

	data, err := json.Marshal(rows)
	if err != nil {
		return "[]"
	}
	return string(data)
}
