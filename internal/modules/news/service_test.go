package news

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/microcap/internal/domain"
)

type newsBroker struct {
	domain.BrokerClient
	items map[string][]domain.NewsItem
}

func (b *newsBroker) GetNews(symbol string, limit int) ([]domain.NewsItem, error) {
	items, ok := b.items[symbol]
	if !ok {
		return nil, errors.New("feed down")
	}
	return items, nil
}

func TestForSymbols_SkipsFailedFeeds(t *testing.T) {
	broker := &newsBroker{items: map[string][]domain.NewsItem{
		"AAA": {{Headline: "AAA wins contract", Source: "wire"}},
		"BBB": {},
	}}

	svc := NewService(broker, 3, zerolog.Nop())
	out := svc.ForSymbols([]string{"AAA", "BBB", "DOWN"})

	require.Len(t, out, 1)
	assert.Equal(t, "AAA wins contract", out["AAA"][0].Headline)
}

func TestSummarizeForPrompt(t *testing.T) {
	assert.Empty(t, SummarizeForPrompt(nil))

	text := SummarizeForPrompt(map[string][]domain.NewsItem{
		"AAA": {{Headline: "AAA wins contract", Source: "wire"}},
	})
	assert.Equal(t, "AAA: AAA wins contract (wire)", text)
}
