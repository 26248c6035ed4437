// Package health assesses broad-market conditions before new capital is
// deployed. It is an optional gate: when the market looks stressed, buy
// intents are dropped for the session while sells still go through.
package health

import (
	"math"
	"strings"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/config"
	"github.com/aristath/microcap/internal/domain"
)

// Assessment is the market-health verdict for one session.
type Assessment struct {
	Healthy   bool
	Reasons   []string
	IndexRSI  float64
	FearLevel float64 // latest close of the fear proxy
}

// Reason joins the individual signals into one log-friendly string.
func (a Assessment) Reason() string {
	if len(a.Reasons) == 0 {
		return "ok"
	}
	return strings.Join(a.Reasons, "; ")
}

// Service computes market-health assessments from index and volatility data.
type Service struct {
	broker domain.BrokerClient
	cfg    config.HealthConfig
	log    zerolog.Logger
}

// NewService creates a market-health service.
func NewService(broker domain.BrokerClient, cfg config.HealthConfig, log zerolog.Logger) *Service {
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.RSIOverbought <= 0 {
		cfg.RSIOverbought = 80
	}
	return &Service{
		broker: broker,
		cfg:    cfg,
		log:    log.With().Str("service", "market_health").Logger(),
	}
}

// Assess evaluates the configured index symbols. Data failures degrade to a
// healthy verdict with a warning: a missing feed must not block trading.
func (s *Service) Assess() Assessment {
	result := Assessment{Healthy: true}
	if !s.cfg.Enabled {
		return result
	}

	for _, symbol := range []string{s.cfg.IndexSymbol, s.cfg.SecondSymbol} {
		if symbol == "" {
			continue
		}
		rsi, ok := s.indexRSI(symbol)
		if !ok {
			continue
		}
		if symbol == s.cfg.IndexSymbol {
			result.IndexRSI = rsi
		}
		if rsi >= s.cfg.RSIOverbought {
			result.Healthy = false
			result.Reasons = append(result.Reasons, symbol+" overbought")
		}
	}

	if s.cfg.FearSymbol != "" {
		if level, ok := s.fearLevel(s.cfg.FearSymbol); ok {
			result.FearLevel = level
			if level > s.cfg.FearThreshold {
				result.Healthy = false
				result.Reasons = append(result.Reasons, "volatility elevated")
			}
		}
	}

	s.log.Info().
		Bool("healthy", result.Healthy).
		Float64("index_rsi", result.IndexRSI).
		Float64("fear_level", result.FearLevel).
		Str("reason", result.Reason()).
		Msg("Market health assessed")

	return result
}

// indexRSI computes the latest RSI value for symbol over the configured
// period. Requires period+1 closes; anything less reports no signal.
func (s *Service) indexRSI(symbol string) (float64, bool) {
	bars, err := s.broker.GetRecentBars(symbol, s.cfg.RSIPeriod*3)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to fetch index bars")
		return 0, false
	}
	if len(bars) < s.cfg.RSIPeriod+1 {
		return 0, false
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	rsi := talib.Rsi(closes, s.cfg.RSIPeriod)
	latest := rsi[len(rsi)-1]
	if math.IsNaN(latest) || latest <= 0 {
		return 0, false
	}
	return latest, true
}

// fearLevel returns the latest close of the fear proxy. The gate trips on
// the absolute level, not its rate of change: an already-stressed tape is
// reason enough to stop buying.
func (s *Service) fearLevel(symbol string) (float64, bool) {
	bars, err := s.broker.GetRecentBars(symbol, 5)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to fetch fear proxy bars")
		return 0, false
	}
	if len(bars) == 0 {
		return 0, false
	}

	last := bars[len(bars)-1].Close
	if last <= 0 {
		return 0, false
	}
	return last, true
}
