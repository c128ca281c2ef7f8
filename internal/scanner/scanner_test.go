// internal/scanner/scanner_test.go
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suchithnarayan/actions-guard-hub/internal/analysis"
	apperrors "github.com/suchithnarayan/actions-guard-hub/internal/errors"
	"github.com/suchithnarayan/actions-guard-hub/internal/model"
	"github.com/suchithnarayan/actions-guard-hub/internal/report"
	"github.com/suchithnarayan/actions-guard-hub/internal/store"
)

const testSHA = "aaa1111aaa1111aaa1111aaa1111aaa1111aaa11"

// fakeHost serves canned metadata snapshots and empty archives. Call
// counters are atomic because RunBatch exercises it concurrently.
type fakeHost struct {
	archiveDir string

	statsCalls    atomic.Int32
	downloadCalls atomic.Int32
}

func (f *fakeHost) GetRepositoryStats(ctx context.Context, owner, repo string) (*model.RepositoryRecord, error) {
	f.statsCalls.Add(1)
	return &model.RepositoryRecord{
		Repository: model.RepositoryStats{Owner: owner, Name: repo, Stars: 42},
		Releases: map[string]*model.ReleaseRecord{
			"v4": model.NewReleaseRecord("2024-01-01T00:00:00Z", testSHA),
		},
		LastUpdated: time.Now().Format(time.RFC3339),
	}, nil
}

func (f *fakeHost) DownloadArchive(ctx context.Context, owner, repo, ref string) (string, func(), error) {
	f.downloadCalls.Add(1)
	return f.archiveDir, func() {}, nil
}

// stubResolver answers with a fixed label/SHA pair.
type stubResolver struct {
	label string
	sha   string
}

func (s *stubResolver) Resolve(ctx context.Context, owner, repo, spec string, rec *model.RepositoryRecord) (string, string) {
	return s.label, s.sha
}

// stubSelector returns one canned file set.
type stubSelector struct{}

func (stubSelector) ExtractFiles(dir string) (map[string]string, error) {
	return map[string]string{"action.yml": "name: test-action"}, nil
}

func (stubSelector) Validate(files map[string]string) error { return nil }

func (stubSelector) PrepareForAnalysis(files map[string]string) string {
	return "=== FILE: action.yml ===\nname: test-action\n"
}

// countingAnalyzer counts calls and returns canned content.
type countingAnalyzer struct {
	content string
	err     error
	calls   atomic.Int32
}

func (c *countingAnalyzer) AnalyzeSecurity(ctx context.Context, prompt, fileBlock string) (*analysis.Result, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &analysis.Result{
		Content:      c.content,
		InputTokens:  1000,
		OutputTokens: 234,
		TokensUsed:   1234,
		Cost:         0.05,
	}, nil
}

func (c *countingAnalyzer) ModelName() string { return "test-model" }

type fixture struct {
	orch     *Orchestrator
	host     *fakeHost
	analyzer *countingAnalyzer
	store    *store.Store
	opts     Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	logger := testLogger()

	st, err := store.Open(filepath.Join(base, "action-stats.json"), logger)
	require.NoError(t, err)

	host := &fakeHost{archiveDir: t.TempDir()}
	analyzer := &countingAnalyzer{content: `{"checks": [], "Security-Issues": []}`}

	opts := Options{
		Host:           host,
		Resolver:       &stubResolver{label: "v4", sha: testSHA},
		Selector:       stubSelector{},
		Analyzer:       analyzer,
		Renderer:       report.NewRenderer(filepath.Join(base, "scan-reports"), logger),
		Store:          st,
		Prompt:         "analyze this action",
		OutputDir:      filepath.Join(base, "scan-results"),
		MetadataDir:    filepath.Join(base, "scan-metadata"),
		FrontendDir:    filepath.Join(base, "frontend"),
		MetadataMaxAge: 6 * time.Hour,
		Logger:         logger,
	}
	return &fixture{orch: New(opts), host: host, analyzer: analyzer, store: st, opts: opts}
}

func TestOrchestrator_FreshScanThenReuse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.orch.Run(ctx, "actions/checkout@v4")

	require.NoError(t, first.Err)
	assert.True(t, first.Success)
	assert.Equal(t, model.ScanTypeNew, first.ScanType)
	assert.Equal(t, "v4", first.Version)
	assert.Equal(t, testSHA, first.CommitSHA)
	assert.Equal(t, 1234, first.TokensUsed)
	assert.FileExists(t, first.ScanPath)
	assert.FileExists(t, first.ReportPath)
	assert.Equal(t, int32(1), f.analyzer.calls.Load())

	rel, ok := f.store.Get("actions/checkout").Release("v4")
	require.True(t, ok)
	assert.True(t, rel.Scanned)
	assert.Equal(t, first.ScanPath, rel.ScanReport)

	// Same reference again: the cached scan must be reused as-is.
	second := f.orch.Run(ctx, "actions/checkout@v4")

	require.NoError(t, second.Err)
	assert.True(t, second.Success)
	assert.Equal(t, model.ScanTypeExisting, second.ScanType)
	assert.Equal(t, first.ScanPath, second.ScanPath)
	assert.Zero(t, second.TokensUsed)
	assert.Zero(t, second.Cost)
	assert.Equal(t, int32(1), f.analyzer.calls.Load(), "no second analysis")
	assert.Equal(t, int32(1), f.host.downloadCalls.Load(), "no second download")
}

func TestOrchestrator_RescanAfterArtifactRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.orch.Run(ctx, "actions/checkout@v4")
	require.True(t, first.Success)
	require.NoError(t, os.Remove(first.ScanPath))

	second := f.orch.Run(ctx, "actions/checkout@v4")

	require.NoError(t, second.Err)
	assert.Equal(t, model.ScanTypeNew, second.ScanType, "missing artifact forces a rescan")
	assert.Equal(t, int32(2), f.analyzer.calls.Load())
	assert.FileExists(t, second.ScanPath)
}

func TestOrchestrator_ArtifactPayload(t *testing.T) {
	f := newFixture(t)
	f.analyzer.content = `{"checks": [], "risk-assessment": "low"}`

	outcome := f.orch.Run(context.Background(), "actions/checkout@v4")
	require.True(t, outcome.Success)

	data, err := os.ReadFile(outcome.ScanPath)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))

	assert.Equal(t, "actions/checkout@v4", payload["repo-name"])
	assert.Equal(t, "v4", payload["version"])
	assert.Equal(t, testSHA, payload["SHA"])
	assert.Equal(t, "low", payload["risk-assessment"])

	sidecar := filepath.Join(f.opts.MetadataDir, report.SafeName("actions/checkout@v4")+"-metadata.txt")
	assert.FileExists(t, sidecar)
}

func TestOrchestrator_UnparseableAnalysisIsWrapped(t *testing.T) {
	f := newFixture(t)
	f.analyzer.content = "I could not produce JSON for this one."

	outcome := f.orch.Run(context.Background(), "actions/checkout@v4")
	require.True(t, outcome.Success, "text output is persisted, not dropped")

	data, err := os.ReadFile(outcome.ScanPath)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))

	assert.Equal(t, "completed_with_text_output", payload["scan_status"])
	assert.Equal(t, "I could not produce JSON for this one.", payload["raw_content"])
	assert.Equal(t, "actions/checkout@v4", payload["repo-name"])
}

func TestOrchestrator_SkipAIScan(t *testing.T) {
	f := newFixture(t)
	f.opts.SkipAIScan = true
	f.opts.Analyzer = nil
	f.orch = New(f.opts)

	outcome := f.orch.Run(context.Background(), "actions/checkout@v4")

	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Success)
	assert.Empty(t, outcome.ScanPath)
	assert.Zero(t, f.host.downloadCalls.Load())
	assert.Equal(t, int32(1), f.host.statsCalls.Load(), "metadata is still refreshed")

	rec := f.store.Get("actions/checkout")
	require.NotNil(t, rec)
	assert.Equal(t, 42, rec.Repository.Stars)
}

func TestOrchestrator_InvalidReference(t *testing.T) {
	f := newFixture(t)

	outcome := f.orch.Run(context.Background(), "not-a-reference")

	assert.False(t, outcome.Success)
	var refErr *apperrors.ErrInvalidRepoFormat
	assert.ErrorAs(t, outcome.Err, &refErr)
	assert.Zero(t, f.host.statsCalls.Load(), "nothing runs for a malformed reference")
}

func TestOrchestrator_AnalysisFailure(t *testing.T) {
	f := newFixture(t)
	f.analyzer.err = errors.New("model unavailable")

	outcome := f.orch.Run(context.Background(), "actions/checkout@v4")

	assert.False(t, outcome.Success)
	var stageErr *apperrors.ErrStageFailed
	require.ErrorAs(t, outcome.Err, &stageErr)
	assert.Equal(t, "analysis", stageErr.Stage)

	rel, ok := f.store.Get("actions/checkout").Release("v4")
	require.True(t, ok)
	assert.False(t, rel.Scanned, "failed scans are never recorded")
}

func TestOrchestrator_RunBatch(t *testing.T) {
	f := newFixture(t)

	refs := []string{"actions/checkout@v4", "actions/cache@v4", "bogus"}
	outcomes := f.orch.RunBatch(context.Background(), refs, 2)

	require.Len(t, outcomes, 3)
	assert.Equal(t, "actions/checkout@v4", outcomes[0].ActionRef, "outcome order follows input order")
	assert.True(t, outcomes[0].Success)
	assert.True(t, outcomes[1].Success)
	assert.False(t, outcomes[2].Success)

	path, err := f.orch.GenerateBatchReport("batch_scan_report")
	require.NoError(t, err)
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Actions Scanned: 2", "only successful scans carry reports")
}

func TestOrchestrator_RunBatch_SameRepoSerializes(t *testing.T) {
	f := newFixture(t)

	// Both references resolve to the same release. Run concurrently, one
	// must win the fresh scan and the other must reuse its artifact; the
	// loser reading the winner's half-recorded state would analyze twice.
	refs := []string{"actions/checkout@v4", "actions/checkout@aaa1111"}
	outcomes := f.orch.RunBatch(context.Background(), refs, 2)

	require.Len(t, outcomes, 2)
	require.True(t, outcomes[0].Success)
	require.True(t, outcomes[1].Success)
	assert.Equal(t, int32(1), f.analyzer.calls.Load(), "exactly one analysis across both runs")
	assert.Equal(t, int32(1), f.host.downloadCalls.Load())

	types := []string{outcomes[0].ScanType, outcomes[1].ScanType}
	assert.ElementsMatch(t, []string{model.ScanTypeNew, model.ScanTypeExisting}, types)
	assert.Equal(t, outcomes[0].ScanPath, outcomes[1].ScanPath, "the reuse points at the winner's artifact")
}

func TestOrchestrator_GenerateBatchReport_Empty(t *testing.T) {
	f := newFixture(t)

	path, err := f.orch.GenerateBatchReport("batch_scan_report")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestMetadataRefresher_FreshnessWindow(t *testing.T) {
	f := newFixture(t)
	refresher := NewMetadataRefresher(f.host, f.store, 6*time.Hour, testLogger())

	rec := refresher.Refresh(context.Background(), "actions", "checkout", false)
	require.NotNil(t, rec)
	assert.Equal(t, int32(1), f.host.statsCalls.Load())

	// Within the window an unforced refresh is a no-op.
	refresher.Refresh(context.Background(), "actions", "checkout", false)
	assert.Equal(t, int32(1), f.host.statsCalls.Load())

	// Forcing always fetches.
	refresher.Refresh(context.Background(), "actions", "checkout", true)
	assert.Equal(t, int32(2), f.host.statsCalls.Load())
}

func TestMetadataRefresher_FetchFailureDegrades(t *testing.T) {
	base := t.TempDir()
	st, err := store.Open(filepath.Join(base, "action-stats.json"), testLogger())
	require.NoError(t, err)

	host := &failingHost{}
	refresher := NewMetadataRefresher(host, st, 0, testLogger())

	assert.Nil(t, refresher.Refresh(context.Background(), "actions", "checkout", true),
		"no stored record and no fetch yields nil, not a panic")
}

type failingHost struct{}

func (failingHost) GetRepositoryStats(ctx context.Context, owner, repo string) (*model.RepositoryRecord, error) {
	return nil, fmt.Errorf("boom")
}

func (failingHost) DownloadArchive(ctx context.Context, owner, repo, ref string) (string, func(), error) {
	return "", nil, fmt.Errorf("boom")
}
