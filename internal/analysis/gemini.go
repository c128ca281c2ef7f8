// internal/analysis/gemini.go
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

// GeminiProvider implements Provider using a Vertex AI generative model.
type GeminiProvider struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
	logger *slog.Logger
}

// NewGeminiProvider creates a Gemini-backed analysis provider. Service
// account credentials are picked up from GOOGLE_APPLICATION_CREDENTIALS
// when set; otherwise ambient application-default credentials apply.
func NewGeminiProvider(ctx context.Context, project, location, modelName string, logger *slog.Logger) (*GeminiProvider, error) {
	var opts []option.ClientOption
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}

	client, err := genai.NewClient(ctx, project, location, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	// Low temperature keeps the findings JSON stable across runs.
	model.SetTemperature(0.1)
	model.SetTopP(0.8)

	return &GeminiProvider{
		client: client,
		model:  model,
		name:   modelName,
		logger: logger,
	}, nil
}

func (p *GeminiProvider) ModelName() string { return p.name }

// Close releases the underlying API client.
func (p *GeminiProvider) Close() error { return p.client.Close() }

// AnalyzeSecurity runs one analysis call and prices it from the usage
// metadata the model reports.
func (p *GeminiProvider) AnalyzeSecurity(ctx context.Context, prompt, fileBlock string) (*Result, error) {
	full := prompt + "\n\nFiles to analyze:\n\n" + fileBlock

	resp, err := p.model.GenerateContent(ctx, genai.Text(full))
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("model returned no candidates")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, fmt.Errorf("unexpected response part type %T", resp.Candidates[0].Content.Parts[0])
	}

	result := &Result{Content: string(text)}
	if usage := resp.UsageMetadata; usage != nil {
		result.InputTokens = int(usage.PromptTokenCount)
		result.OutputTokens = int(usage.CandidatesTokenCount)
		result.TokensUsed = int(usage.TotalTokenCount)
	}
	result.Cost = CalculateCost(p.name, result.InputTokens, result.OutputTokens)

	p.logger.Info("Analysis completed",
		"model", p.name,
		"tokens", result.TokensUsed,
		"cost_usd", fmt.Sprintf("%.4f", result.Cost))
	return result, nil
}
