package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/foxseedlab/mensetsu/internal/oracle"
	"github.com/sethvargo/go-retry"
)

const (
	defaultGroqBaseURL     = "https://api.groq.com/openai/v1"
	defaultGroqMaxAttempts = 2
	defaultGroqRetryBase   = time.Second
	groqMaxTokens          = 10
	groqTemperature        = 0.1
)

type GroqConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxAttempts int
	RetryBase   time.Duration
}

type GroqOracle struct {
	apiKey      string
	model       string
	baseURL     string
	maxAttempts int
	retryBase   time.Duration
	client      *http.Client
}

func NewGroqOracle(cfg GroqConfig) oracle.Oracle {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGroqBaseURL
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultGroqMaxAttempts
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = defaultGroqRetryBase
	}
	return &GroqOracle{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     baseURL,
		maxAttempts: attempts,
		retryBase:   retryBase,
		client:      &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("groq returned status %d", e.code)
}

func (g *GroqOracle) CheckCompletion(ctx context.Context, req oracle.Request) (oracle.Verdict, error) {
	if g.apiKey == "" {
		return oracle.VerdictIncomplete, oracle.ErrUnavailable
	}
	body, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: oracle.BuildPrompt(req)}},
		MaxTokens:   groqMaxTokens,
		Temperature: groqTemperature,
	})
	if err != nil {
		return oracle.VerdictIncomplete, err
	}

	backoff := retry.WithMaxRetries(uint64(g.maxAttempts-1), retry.NewExponential(g.retryBase))
	scaled := retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := backoff.Next()
		if stop {
			return 0, true
		}
		return oracle.ScaleDelay(ctx, d), false
	})

	var reply string
	err = retry.Do(ctx, scaled, func(ctx context.Context) error {
		out, err := g.post(ctx, body)
		if err != nil {
			if isRetryable(err) {
				slog.Warn("groq request failed; retrying", "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		reply = out
		return nil
	})
	if err != nil {
		return oracle.VerdictIncomplete, err
	}
	return oracle.ParseVerdict(reply), nil
}

func (g *GroqOracle) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &statusError{code: resp.StatusCode}
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode groq response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
