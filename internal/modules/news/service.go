// Package news gathers recent headlines for prompt context.
package news

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/domain"
)

// Service fetches per-symbol headlines from the broker's news feed.
type Service struct {
	broker domain.BrokerClient
	limit  int
	log    zerolog.Logger
}

// NewService creates a news service fetching up to limit headlines per symbol.
func NewService(broker domain.BrokerClient, limit int, log zerolog.Logger) *Service {
	if limit <= 0 {
		limit = 3
	}
	return &Service{
		broker: broker,
		limit:  limit,
		log:    log.With().Str("service", "news").Logger(),
	}
}

// ForSymbols returns headlines keyed by symbol. Per-symbol feed failures
// are skipped; news is context, never a hard dependency.
func (s *Service) ForSymbols(symbols []string) map[string][]domain.NewsItem {
	out := make(map[string][]domain.NewsItem, len(symbols))
	for _, symbol := range symbols {
		items, err := s.broker.GetNews(symbol, s.limit)
		if err != nil {
			s.log.Debug().Err(err).Str("symbol", symbol).Msg("News fetch failed, skipping")
			continue
		}
		if len(items) > 0 {
			out[symbol] = items
		}
	}
	return out
}

// SummarizeForPrompt renders the headlines as compact prompt text.
// Returns "" when there is nothing to report.
func SummarizeForPrompt(headlines map[string][]domain.NewsItem) string {
	if len(headlines) == 0 {
		return ""
	}

	var b strings.Builder
	for symbol, items := range headlines {
		for _, item := range items {
			fmt.Fprintf(&b, "%s: %s (%s)\n", symbol, item.Headline, item.Source)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
