package oracle

import (
	"context"
	"fmt"

	"github.com/foxseedlab/mensetsu/internal/oracle"
	"google.golang.org/genai"
)

const geminiMaxOutputTokens = 10

type GeminiConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API endpoint.
	BaseURL string
}

type GeminiOracle struct {
	client *genai.Client
	model  string
}

func NewGeminiOracle(ctx context.Context, cfg GeminiConfig) (oracle.Oracle, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiOracle{client: client, model: cfg.Model}, nil
}

func (g *GeminiOracle) CheckCompletion(ctx context.Context, req oracle.Request) (oracle.Verdict, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(oracle.BuildPrompt(req)), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.1),
		MaxOutputTokens: geminiMaxOutputTokens,
	})
	if err != nil {
		return oracle.VerdictIncomplete, fmt.Errorf("gemini generate: %w", err)
	}
	return oracle.ParseVerdict(resp.Text()), nil
}
