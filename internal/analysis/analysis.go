// internal/analysis/analysis.go

// Package analysis wraps the AI model used for security analysis behind
// a provider interface, with token accounting and cost calculation.
package analysis

import "context"

// Result is one completed analysis call.
type Result struct {
	Content      string
	InputTokens  int
	OutputTokens int
	TokensUsed   int
	Cost         float64
}

// Provider performs a security analysis of prepared action files.
type Provider interface {
	// AnalyzeSecurity sends the security prompt plus the prepared file
	// block to the model and returns its raw answer with usage figures.
	AnalyzeSecurity(ctx context.Context, prompt, fileBlock string) (*Result, error)
	// ModelName identifies the underlying model for logging and cost rows.
	ModelName() string
}
