// internal/scanner/scanner.go

// Package scanner drives one scan unit end-to-end: parse the action
// reference, refresh repository metadata, resolve the version, consult
// the scan cache, and on a miss download, analyze and record a fresh
// scan.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/suchithnarayan/actions-guard-hub/internal/analysis"
	apperrors "github.com/suchithnarayan/actions-guard-hub/internal/errors"
	"github.com/suchithnarayan/actions-guard-hub/internal/github"
	"github.com/suchithnarayan/actions-guard-hub/internal/model"
	"github.com/suchithnarayan/actions-guard-hub/internal/report"
	"github.com/suchithnarayan/actions-guard-hub/internal/store"
)

// CodeHost is the slice of the code host client the orchestrator and
// refresher consume.
type CodeHost interface {
	GetRepositoryStats(ctx context.Context, owner, repo string) (*model.RepositoryRecord, error)
	DownloadArchive(ctx context.Context, owner, repo, ref string) (string, func(), error)
}

// VersionResolver maps a loose version spec to a concrete label/SHA.
type VersionResolver interface {
	Resolve(ctx context.Context, owner, repo, spec string, rec *model.RepositoryRecord) (string, string)
}

// FileSelector extracts and prepares analyzable files from an action tree.
type FileSelector interface {
	ExtractFiles(dir string) (map[string]string, error)
	Validate(files map[string]string) error
	PrepareForAnalysis(files map[string]string) string
}

// Reporter renders human-readable reports from scan artifacts.
type Reporter interface {
	RenderAction(actionRef, scanPath, metadataPath string, rec *model.RepositoryRecord, commitSHA string) (string, error)
	RenderBatch(items []report.BatchItem, reportName string) (string, error)
}

// Options collects the orchestrator's collaborators and settings.
type Options struct {
	Host     CodeHost
	Resolver VersionResolver
	Selector FileSelector
	Analyzer analysis.Provider
	Renderer Reporter
	Store    *store.Store

	Prompt      string
	OutputDir   string
	MetadataDir string
	FrontendDir string

	SkipAIScan     bool
	MetadataMaxAge time.Duration

	Logger *slog.Logger
}

// Orchestrator runs scan units. References against distinct
// repositories run in parallel; two references against the same
// repository serialize on a per-repository run lock, since a run reads
// the live store record between its merge and its record-scan and must
// not observe another run's half-applied mutations.
type Orchestrator struct {
	host     CodeHost
	resolver VersionResolver
	selector FileSelector
	analyzer analysis.Provider
	renderer Reporter
	store    *store.Store
	decider  *DecisionEngine
	refresh  *MetadataRefresher

	prompt      string
	outputDir   string
	metadataDir string
	skipAIScan  bool
	logger      *slog.Logger

	runMu    sync.Mutex
	runLocks map[string]*sync.Mutex

	mu        sync.Mutex
	generated []report.BatchItem
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{
		host:        opts.Host,
		resolver:    opts.Resolver,
		selector:    opts.Selector,
		analyzer:    opts.Analyzer,
		renderer:    opts.Renderer,
		store:       opts.Store,
		decider:     NewDecisionEngine(opts.OutputDir, opts.FrontendDir, opts.Logger),
		refresh:     NewMetadataRefresher(opts.Host, opts.Store, opts.MetadataMaxAge, opts.Logger),
		prompt:      opts.Prompt,
		outputDir:   opts.OutputDir,
		metadataDir: opts.MetadataDir,
		skipAIScan:  opts.SkipAIScan,
		logger:      opts.Logger,
		runLocks:    make(map[string]*sync.Mutex),
	}
}

// runLock returns the per-repository run lock, creating it on first use.
func (o *Orchestrator) runLock(ownerRepo string) *sync.Mutex {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	l, ok := o.runLocks[ownerRepo]
	if !ok {
		l = &sync.Mutex{}
		o.runLocks[ownerRepo] = l
	}
	return l
}

// Run processes one action reference to completion and returns its
// outcome. Failures are values on the outcome; Run never panics a
// batch.
func (o *Orchestrator) Run(ctx context.Context, actionRef string) model.ScanOutcome {
	outcome := model.ScanOutcome{ActionRef: actionRef, ScanType: model.ScanTypeNew}

	owner, repo, versionSpec, err := github.ParseActionReference(actionRef)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	ownerRepo := owner + "/" + repo
	logger := o.logger.With("repo", ownerRepo, "spec", versionSpec)
	logger.Info("Processing action")

	// Serialize whole runs per repository: the record read by the
	// resolver and decision engine must be the one the refresh just
	// merged, with no concurrent same-repo run mutating it in between.
	lock := o.runLock(ownerRepo)
	lock.Lock()
	defer lock.Unlock()

	// Freshness is a correctness requirement for the resolver, so the
	// refresh is always forced here; the 6h window only applies to
	// refreshes the refresher initiates on its own.
	rec := o.refresh.Refresh(ctx, owner, repo, true)

	resolved, commitSHA := o.resolver.Resolve(ctx, owner, repo, versionSpec, rec)
	outcome.Version = resolved
	outcome.CommitSHA = commitSHA
	logger.Info("Resolved version", "version", resolved, "sha", shortSHA(commitSHA))

	dec := o.decider.Decide(rec, resolved)
	if dec.CommitSHA != "" {
		outcome.CommitSHA = dec.CommitSHA
	}
	if dec.Stale {
		o.store.InvalidateScan(ownerRepo, dec.Label)
	}

	if dec.Reuse {
		logger.Info("Reusing existing scan", "artifact", dec.ArtifactPath)
		outcome.ScanType = model.ScanTypeExisting
		outcome.ScanPath = dec.ArtifactPath
		outcome.Success = true
		o.renderOutcome(&outcome, rec)
		return outcome
	}

	if o.skipAIScan {
		logger.Info("Metadata-only mode, skipping analysis")
		outcome.Success = true
		return outcome
	}

	o.freshScan(ctx, &outcome, owner, repo, resolved)
	if outcome.Success {
		o.store.RecordScan(ownerRepo, resolved, outcome.CommitSHA, outcome.ScanPath)
		o.renderOutcome(&outcome, o.store.Get(ownerRepo))
	}
	return outcome
}

// freshScan performs download → extract → analyze → persist for one
// resolved version. The temporary download directory is removed on
// every exit path. Nothing is recorded in the store on failure.
func (o *Orchestrator) freshScan(ctx context.Context, outcome *model.ScanOutcome, owner, repo, resolved string) {
	actionDir, cleanup, err := o.host.DownloadArchive(ctx, owner, repo, resolved)
	if err != nil {
		outcome.Err = &apperrors.ErrStageFailed{Stage: "download", Err: err}
		return
	}
	defer cleanup()

	actionFiles, err := o.selector.ExtractFiles(actionDir)
	if err == nil {
		err = o.selector.Validate(actionFiles)
	}
	if err != nil {
		outcome.Err = &apperrors.ErrStageFailed{Stage: "extract", Err: err}
		return
	}

	result, err := o.analyzer.AnalyzeSecurity(ctx, o.prompt, o.selector.PrepareForAnalysis(actionFiles))
	if err != nil {
		outcome.Err = &apperrors.ErrStageFailed{Stage: "analysis", Err: err}
		return
	}
	outcome.TokensUsed = result.TokensUsed
	outcome.Cost = result.Cost

	resolvedRef := fmt.Sprintf("%s/%s@%s", owner, repo, resolved)
	scanPath, err := o.saveScanResults(resolvedRef, result, resolved, outcome.CommitSHA)
	if err != nil {
		outcome.Err = &apperrors.ErrStageFailed{Stage: "persist", Err: err}
		return
	}

	outcome.ScanPath = scanPath
	outcome.Success = true
}

// saveScanResults writes the analysis content as a scan artifact plus a
// token/cost metadata sidecar, and returns the artifact path. Content
// that still fails to parse after repair is persisted inside a
// structured text wrapper rather than dropped.
func (o *Orchestrator) saveScanResults(actionRef string, result *analysis.Result, version, commitSHA string) (string, error) {
	validated := analysis.ValidateAndRepairJSON(result.Content)

	var payload map[string]any
	if err := json.Unmarshal([]byte(validated), &payload); err != nil {
		o.logger.Warn("Analysis content is not valid JSON after repair, wrapping as text", "action", actionRef)
		payload = map[string]any{
			"scan_status":  "completed_with_text_output",
			"content_type": "text",
			"raw_content":  validated,
			"note":         "AI response could not be parsed as JSON, saved as raw text",
		}
	}
	sha := commitSHA
	if sha == "" {
		sha = model.DateUnknown
	}
	payload["repo-name"] = actionRef
	payload["version"] = version
	payload["SHA"] = sha

	data, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		return "", err
	}
	scanPath := filepath.Join(o.outputDir, report.SafeName(actionRef)+".json")
	if err := os.WriteFile(scanPath, data, 0o644); err != nil {
		return "", err
	}

	if err := os.MkdirAll(o.metadataDir, 0o755); err == nil {
		sidecar := filepath.Join(o.metadataDir, report.SafeName(actionRef)+"-metadata.txt")
		content := fmt.Sprintf("GitHub URL: %s\nTotal tokens used: %d\nCost of operation: $%.4f\nScan timestamp: %s\n",
			actionRef, result.TokensUsed, result.Cost, time.Now().Format(time.RFC3339))
		if err := os.WriteFile(sidecar, []byte(content), 0o644); err != nil {
			o.logger.Warn("Failed to write scan metadata sidecar", "path", sidecar, "error", err)
		}
	}

	o.logger.Info("Scan results saved", "path", scanPath)
	return scanPath, nil
}

// renderOutcome generates the per-action text report and tracks it for
// the batch summary. Rendering problems degrade the outcome's report
// path, never its success.
func (o *Orchestrator) renderOutcome(outcome *model.ScanOutcome, rec *model.RepositoryRecord) {
	if o.renderer == nil || outcome.ScanPath == "" {
		return
	}
	metadataPath := filepath.Join(o.metadataDir, report.SafeName(outcome.ActionRef)+"-metadata.txt")
	if _, err := os.Stat(metadataPath); err != nil {
		metadataPath = ""
	}
	reportPath, err := o.renderer.RenderAction(outcome.ActionRef, outcome.ScanPath, metadataPath, rec, outcome.CommitSHA)
	if err != nil {
		o.logger.Error("Failed to render report", "action", outcome.ActionRef, "error", err)
		return
	}
	outcome.ReportPath = reportPath

	o.mu.Lock()
	o.generated = append(o.generated, report.BatchItem{
		ActionRef: outcome.ActionRef,
		ScanPath:  outcome.ScanPath,
		Version:   outcome.Version,
		CommitSHA: outcome.CommitSHA,
	})
	o.mu.Unlock()
}

// RunBatch processes refs with at most concurrency in flight. A failure
// on one reference never aborts the rest.
func (o *Orchestrator) RunBatch(ctx context.Context, refs []string, concurrency int) []model.ScanOutcome {
	outcomes := make([]model.ScanOutcome, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			if gctx.Err() != nil {
				outcomes[i] = model.ScanOutcome{ActionRef: ref, Err: gctx.Err()}
				return nil
			}
			outcomes[i] = o.Run(gctx, ref)
			if outcomes[i].Err != nil {
				o.logger.Error("Scan failed", "action", ref, "error", outcomes[i].Err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// GenerateBatchReport writes a summary covering every report generated
// so far, or returns "" when nothing was scanned.
func (o *Orchestrator) GenerateBatchReport(reportName string) (string, error) {
	o.mu.Lock()
	items := make([]report.BatchItem, len(o.generated))
	copy(items, o.generated)
	o.mu.Unlock()

	if len(items) == 0 {
		return "", nil
	}
	return o.renderer.RenderBatch(items, reportName)
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	if sha == "" {
		return model.DateUnknown
	}
	return sha
}
