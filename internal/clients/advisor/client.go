// Package advisor implements the advisory-model client against an
// OpenAI-compatible chat completions API.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/microcap/internal/domain"
)

const systemPrompt = `You are a professional portfolio strategist managing a ` +
	`real-money micro-cap equity portfolio. Respond ONLY with a JSON object of ` +
	`the form {"orders": [{"ticker": "...", "side": "buy"|"sell", "shares": N, ` +
	`"reason": "..."}], "thesis": "..."}. Propose at most a handful of orders. ` +
	`An empty orders array is a valid answer.`

// Config holds the advisory endpoint and credentials.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client queries one advisory model. It satisfies domain.Advisor; transport
// failures and malformed answers surface as errors, which the voter treats
// as abstentions.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// Compile-time check that Client satisfies the advisor interface
var _ domain.Advisor = (*Client)(nil)

// NewClient creates an advisor client for one model.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log.With().Str("client", "advisor").Str("model", cfg.Model).Logger(),
	}
}

// Name identifies the advisor by its model.
func (c *Client) Name() string {
	return c.cfg.Model
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// advisorAnswer is the JSON document the model is instructed to produce.
type advisorAnswer struct {
	Orders []struct {
		Ticker string  `json:"ticker"`
		Side   string  `json:"side"`
		Shares float64 `json:"shares"`
		Reason string  `json:"reason"`
	} `json:"orders"`
	Thesis string `json:"thesis"`
}

// Ask sends the prompt and parses the structured answer. Any malformed
// order row invalidates the whole response.
func (c *Client) Ask(ctx context.Context, prompt string) (*domain.AdvisorResponse, error) {
	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
		Temperature:    0.2,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read chat response: %w", err)
	}

	var chat chatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if chat.Error != nil {
		return nil, fmt.Errorf("advisory service error: %s", chat.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("advisory service returned %d", resp.StatusCode)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("advisory response had no choices")
	}

	return parseAnswer(chat.Choices[0].Message.Content)
}

// parseAnswer decodes the model's JSON document into a structured response.
// Models occasionally wrap JSON in a markdown fence even in JSON mode.
func parseAnswer(content string) (*domain.AdvisorResponse, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var answer advisorAnswer
	if err := json.Unmarshal([]byte(content), &answer); err != nil {
		return nil, fmt.Errorf("malformed advisor answer: %w", err)
	}

	response := &domain.AdvisorResponse{
		Thesis: strings.TrimSpace(answer.Thesis),
		Orders: make([]domain.Intent, 0, len(answer.Orders)),
	}

	for _, row := range answer.Orders {
		side, err := domain.SideFromString(row.Side)
		if err != nil {
			return nil, fmt.Errorf("malformed advisor order for %q: %w", row.Ticker, err)
		}
		ticker := strings.ToUpper(strings.TrimSpace(row.Ticker))
		if ticker == "" {
			return nil, fmt.Errorf("malformed advisor order: empty ticker")
		}
		response.Orders = append(response.Orders, domain.Intent{
			Ticker: ticker,
			Side:   side,
			Shares: row.Shares,
			Reason: strings.TrimSpace(row.Reason),
		})
	}

	return response, nil
}
