// internal/scanner/decision.go
package scanner

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/suchithnarayan/actions-guard-hub/internal/model"
)

// Decision is the outcome of consulting the scan cache for one
// resolved version. Stale reports a release marked scanned whose
// artifact is gone; the caller resets it through the store so the heal
// is synchronized with flushes.
type Decision struct {
	Reuse        bool
	Stale        bool
	Label        string
	CommitSHA    string
	ArtifactPath string
}

// DecisionEngine decides whether a prior scan can be reused for a
// resolved version. It validates lazily and never mutates the record
// itself: record writes belong to the store, which holds the document
// lock.
type DecisionEngine struct {
	outputDir   string
	frontendDir string
	logger      *slog.Logger
}

func NewDecisionEngine(outputDir, frontendDir string, logger *slog.Logger) *DecisionEngine {
	return &DecisionEngine{outputDir: outputDir, frontendDir: frontendDir, logger: logger}
}

// Decide locates resolvedLabel in rec by label or by commit SHA (exact
// or prefix) and reports whether its recorded scan is still valid.
func (d *DecisionEngine) Decide(rec *model.RepositoryRecord, resolvedLabel string) Decision {
	label, sha, rel, ok := rec.FindRelease(resolvedLabel)
	if !ok {
		return Decision{Label: resolvedLabel}
	}

	dec := Decision{Label: label, CommitSHA: sha}
	if !rel.Scanned {
		return dec
	}
	if rel.ScanReport == "" {
		// Scanned without an artifact violates the record invariant.
		dec.Stale = true
		return dec
	}

	path := d.resolveArtifactPath(rel.ScanReport)
	if path == "" {
		d.logger.Warn("Scan artifact missing, scan state needs reset",
			"release", label, "artifact", rel.ScanReport)
		dec.Stale = true
		return dec
	}

	dec.Reuse = true
	dec.ArtifactPath = path
	return dec
}

// resolveArtifactPath finds the artifact on disk, trying the stored
// path as-is and the known artifact locations for relative paths.
func (d *DecisionEngine) resolveArtifactPath(stored string) string {
	if stored == "" {
		return ""
	}
	if filepath.IsAbs(stored) {
		if fileExists(stored) {
			return stored
		}
		return ""
	}

	candidates := []string{
		stored,
		filepath.Join(d.frontendDir, stored),
		filepath.Join(d.outputDir, filepath.Base(stored)),
	}
	for _, candidate := range candidates {
		if fileExists(candidate) {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return candidate
			}
			return abs
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
