// cmd/scanner/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/suchithnarayan/actions-guard-hub/internal/analysis"
	"github.com/suchithnarayan/actions-guard-hub/internal/api"
	"github.com/suchithnarayan/actions-guard-hub/internal/config"
	"github.com/suchithnarayan/actions-guard-hub/internal/files"
	"github.com/suchithnarayan/actions-guard-hub/internal/github"
	"github.com/suchithnarayan/actions-guard-hub/internal/input"
	"github.com/suchithnarayan/actions-guard-hub/internal/model"
	"github.com/suchithnarayan/actions-guard-hub/internal/report"
	"github.com/suchithnarayan/actions-guard-hub/internal/resolve"
	"github.com/suchithnarayan/actions-guard-hub/internal/scanner"
	"github.com/suchithnarayan/actions-guard-hub/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Open the scan state store
	st, err := store.Open(cfg.StatsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to open scan state: %w", err)
	}

	// 5. Initialize collaborators
	ghClient := github.NewClient(cfg.GithubToken, logger)
	resolver := resolve.NewResolver(ghClient, logger)
	selector := files.NewSelector(logger)
	renderer := report.NewRenderer(cfg.ReportsDir, logger)

	var analyzer analysis.Provider
	var prompt string
	if !cfg.SkipAIScan {
		prompt, err = loadPrompt(cfg.PromptFile)
		if err != nil {
			return err
		}
		gemini, err := analysis.NewGeminiProvider(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.ModelName, logger)
		if err != nil {
			return fmt.Errorf("failed to create analysis provider: %w", err)
		}
		defer gemini.Close()
		analyzer = gemini
	}

	orchestrator := scanner.New(scanner.Options{
		Host:           ghClient,
		Resolver:       resolver,
		Selector:       selector,
		Analyzer:       analyzer,
		Renderer:       renderer,
		Store:          st,
		Prompt:         prompt,
		OutputDir:      cfg.OutputDir,
		MetadataDir:    cfg.MetadataDir,
		FrontendDir:    cfg.FrontendDir,
		SkipAIScan:     cfg.SkipAIScan,
		MetadataMaxAge: cfg.MetadataMaxAge,
		Logger:         logger,
	})

	// 6. Optionally expose the read-only API while the batch runs
	if cfg.APIAddr != "" {
		srv := &http.Server{Addr: cfg.APIAddr, Handler: api.NewRouter(st, cfg.FrontendDir, logger)}
		go func() {
			logger.Info("API listening", "addr", cfg.APIAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("API server error", "error", err)
			}
		}()
		defer srv.Close()
	}

	// 7. Build the batch and run it
	collector := input.NewCollector(ghClient, logger)
	refs, err := collector.Collect(ctx, cfg.Actions, cfg.ActionsFile, cfg.Org)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return fmt.Errorf("no action references to scan")
	}
	logger.Info("Starting batch scan", "actions", len(refs), "concurrency", cfg.Concurrency)

	outcomes := orchestrator.RunBatch(ctx, refs, cfg.Concurrency)
	summarize(logger, outcomes)

	// 8. Batch report and overview regeneration
	if path, err := orchestrator.GenerateBatchReport("batch_scan_report"); err != nil {
		logger.Error("Failed to generate batch report", "error", err)
	} else if path != "" {
		logger.Info("Batch report written", "path", path)
	}
	if _, err := renderer.GenerateOverview(cfg.OutputDir, overviewPath(cfg)); err != nil {
		logger.Error("Failed to update security overview", "error", err)
	}

	// 9. Final flush so the state on disk matches memory
	if err := st.Flush(); err != nil {
		return fmt.Errorf("final state flush failed: %w", err)
	}

	for _, outcome := range outcomes {
		if !outcome.Success {
			return fmt.Errorf("%d of %d scans failed", countFailed(outcomes), len(outcomes))
		}
	}
	return nil
}

func loadPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to load security prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("security prompt %s is empty", path)
	}
	return prompt, nil
}

func overviewPath(cfg *config.Config) string {
	return filepath.Join(cfg.FrontendDir, "security-overview.json")
}

func summarize(logger *slog.Logger, outcomes []model.ScanOutcome) {
	var newScans, existing, failed int
	var tokens int
	var cost float64
	for _, o := range outcomes {
		switch {
		case !o.Success:
			failed++
		case o.ScanType == model.ScanTypeExisting:
			existing++
		default:
			newScans++
		}
		tokens += o.TokensUsed
		cost += o.Cost
	}
	logger.Info("Batch finished",
		"new", newScans,
		"existing", existing,
		"failed", failed,
		"tokens", tokens,
		"cost_usd", fmt.Sprintf("%.4f", cost))
}

func countFailed(outcomes []model.ScanOutcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.Success {
			n++
		}
	}
	return n
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
