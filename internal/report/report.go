// internal/report/report.go

// Package report renders persisted scan artifacts into human-readable
// text reports. The artifact payload is model output and treated as
// opaque: every field is read defensively and missing sections are
// simply omitted.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/suchithnarayan/actions-guard-hub/internal/model"
)

const divider = "----------------------------------------"
const banner = "================================================================================"

// Renderer writes text reports under reportsDir.
type Renderer struct {
	reportsDir string
	logger     *slog.Logger
}

func NewRenderer(reportsDir string, logger *slog.Logger) *Renderer {
	return &Renderer{reportsDir: reportsDir, logger: logger}
}

// RenderAction generates the report for one scanned action and returns
// the report path. metadataPath and rec may be empty/nil.
func (r *Renderer) RenderAction(actionRef, scanPath, metadataPath string, rec *model.RepositoryRecord, commitSHA string) (string, error) {
	scanData, err := loadJSON(scanPath)
	if err != nil {
		return "", fmt.Errorf("could not load scan result %s: %w", scanPath, err)
	}

	// Existing scans predating SHA resolution may carry the sentinel.
	if sha, _ := scanData["SHA"].(string); commitSHA != "" && (sha == "" || sha == model.DateUnknown) {
		scanData["SHA"] = commitSHA
	}

	metadata := loadMetadata(metadataPath)

	content := r.renderContent(actionRef, scanData, metadata, rec)

	if err := os.MkdirAll(r.reportsDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.txt", SafeName(actionRef), time.Now().Format("20060102_150405"))
	path := filepath.Join(r.reportsDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	r.logger.Info("Report generated", "action", actionRef, "path", path)
	return path, nil
}

// SafeName converts an action reference into a filesystem-safe stem.
func SafeName(actionRef string) string {
	s := strings.ReplaceAll(actionRef, "/", "-")
	s = strings.ReplaceAll(s, "@", "_")
	return strings.ReplaceAll(s, ":", "_")
}

func (r *Renderer) renderContent(actionRef string, scanData map[string]any, metadata map[string]string, rec *model.RepositoryRecord) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line(banner)
	line("GITHUB ACTIONS SECURITY SCAN REPORT")
	line(banner)
	line("")

	line("BASIC INFORMATION")
	line(divider)
	line("Action Reference: %s", actionRef)
	line("Repository: %s", str(scanData, "repo-name"))
	line("Version/Tag: %s", str(scanData, "version"))
	line("Commit SHA: %s", str(scanData, "SHA"))
	line("Scan Date: %s", time.Now().Format("2006-01-02 15:04:05"))
	line("")

	if rec != nil {
		line("REPOSITORY STATISTICS")
		line(divider)
		line("Created: %s", rec.Repository.CreatedAt)
		line("Stars: %d", rec.Repository.Stars)
		line("Contributors: %d", rec.Repository.Contributors)
		line("Issues: %d", rec.Repository.Issues)
		line("")
	}

	writeSummary(&b, scanData)
	writeChecks(&b, scanData)
	writeIssues(&b, scanData)
	writeRecommendations(&b, scanData)
	writeMitigations(&b, scanData)
	writeRiskAssessment(&b, scanData)

	if len(metadata) > 0 {
		line("SCAN METADATA")
		line(divider)
		for _, key := range []string{"GitHub URL", "Total tokens used", "Cost of operation", "Scan timestamp"} {
			if v, ok := metadata[key]; ok {
				line("%s: %s", key, v)
			}
		}
		line("")
	}

	line("")
	line(banner)
	line("End of Report")
	line(banner)
	return b.String()
}

func writeSummary(b *strings.Builder, scanData map[string]any) {
	fmt.Fprintf(b, "SECURITY ANALYSIS SUMMARY\n%s\n", divider)

	checks := list(scanData, "checks")
	if len(checks) > 0 {
		safe := 0
		for _, c := range checks {
			if str(c, "status") == "safe" {
				safe++
			}
		}
		fmt.Fprintf(b, "Total Security Checks: %d\n", len(checks))
		fmt.Fprintf(b, "Safe Checks: %d\n", safe)
		fmt.Fprintf(b, "Unsafe Checks: %d\n", len(checks)-safe)
		fmt.Fprintf(b, "Safety Score: %d/%d (%.1f%%)\n", safe, len(checks), float64(safe)/float64(len(checks))*100)
	}

	if counts := CountBySeverity(list(scanData, "Security-Issues")); len(counts) > 0 {
		fmt.Fprintln(b, "")
		fmt.Fprintln(b, "Security Issues by Severity:")
		for _, severity := range []string{"Critical", "High", "Medium", "Low"} {
			if n := counts[severity]; n > 0 {
				fmt.Fprintf(b, "  %s: %d\n", severity, n)
			}
		}
	}
	fmt.Fprintln(b, "")
}

// CountBySeverity tallies issues per severity label.
func CountBySeverity(issues []map[string]any) map[string]int {
	counts := make(map[string]int)
	for _, issue := range issues {
		switch sev := str(issue, "severity"); sev {
		case "Critical", "High", "Medium", "Low":
			counts[sev]++
		}
	}
	return counts
}

func writeChecks(b *strings.Builder, scanData map[string]any) {
	checks := list(scanData, "checks")
	if len(checks) == 0 {
		return
	}
	fmt.Fprintf(b, "DETAILED SECURITY CHECKS\n%s\n", divider)
	for _, check := range checks {
		fmt.Fprintf(b, "* %s\n", strOr(check, "title", "Unknown Check"))
		fmt.Fprintf(b, "   Status: %s\n", strings.ToUpper(strOr(check, "status", "unknown")))
		if score := str(check, "score"); score != "" {
			fmt.Fprintf(b, "   Score: %s\n", score)
		}
		if analysis := str(check, "analysis"); analysis != "" {
			fmt.Fprintf(b, "   Analysis: %s\n", wrap(analysis, 70, "   "))
		}
		fmt.Fprintln(b, "")
	}
}

func writeIssues(b *strings.Builder, scanData map[string]any) {
	issues := list(scanData, "Security-Issues")
	if len(issues) == 0 {
		fmt.Fprintf(b, "NO SECURITY ISSUES FOUND\n%s\n", divider)
		fmt.Fprintln(b, "No security issues were identified during the scan.")
		fmt.Fprintln(b, "")
		return
	}

	fmt.Fprintf(b, "SECURITY ISSUES FOUND\n%s\n", divider)
	for i, issue := range issues {
		fmt.Fprintf(b, "%d. %s SEVERITY\n", i+1, strings.ToUpper(strOr(issue, "severity", "unknown")))
		fmt.Fprintf(b, "   File: %s\n", strOr(issue, "file", "Unknown"))
		fmt.Fprintf(b, "   Line: %s\n", strOr(issue, "line", "Unknown"))
		if desc := str(issue, "description"); desc != "" {
			fmt.Fprintf(b, "   Description: %s\n", wrap(desc, 70, "   "))
		}
		fmt.Fprintln(b, "")
	}
}

func writeRecommendations(b *strings.Builder, scanData map[string]any) {
	recs := list(scanData, "Recommendations")
	if len(recs) == 0 {
		return
	}
	fmt.Fprintf(b, "RECOMMENDATIONS\n%s\n", divider)
	for _, rec := range recs {
		if verdict := str(rec, "verdict"); verdict != "" {
			fmt.Fprintf(b, "Verdict: %s\n", verdict)
		}
		if desc := str(rec, "description"); desc != "" {
			fmt.Fprintf(b, "Description: %s\n", wrap(desc, 70, ""))
		}
		fmt.Fprintln(b, "")
	}
}

func writeMitigations(b *strings.Builder, scanData map[string]any) {
	// The artifact schema spells this key with the historical typo.
	raw, ok := scanData["mitigation-stratagy"].([]any)
	if !ok || len(raw) == 0 {
		return
	}
	fmt.Fprintf(b, "MITIGATION STRATEGIES\n%s\n", divider)
	for i, entry := range raw {
		switch v := entry.(type) {
		case map[string]any:
			if desc := str(v, "description"); desc != "" {
				fmt.Fprintf(b, "%d. %s\n", i+1, wrap(desc, 70, ""))
			}
		case string:
			fmt.Fprintf(b, "%d. %s\n", i+1, wrap(v, 70, ""))
		}
		fmt.Fprintln(b, "")
	}
}

func writeRiskAssessment(b *strings.Builder, scanData map[string]any) {
	fmt.Fprintf(b, "RISK ASSESSMENT\n%s\n", divider)
	if risk := str(scanData, "risk-assessment"); risk != "" {
		fmt.Fprintln(b, wrap(risk, 70, ""))
	} else {
		fmt.Fprintln(b, "No risk assessment available.")
	}
	fmt.Fprintln(b, "")
}

func loadJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadMetadata parses the "Key: value" sidecar written at scan time.
func loadMetadata(path string) map[string]string {
	out := make(map[string]string)
	if path == "" {
		return out
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	for _, line := range strings.Split(string(data), "\n") {
		if key, value, found := strings.Cut(line, ":"); found {
			out[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return out
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.2f", v), ".00")
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func strOr(m map[string]any, key, fallback string) string {
	if s := str(m, key); s != "" {
		return s
	}
	return fallback
}

func list(m map[string]any, key string) []map[string]any {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if em, ok := entry.(map[string]any); ok {
			out = append(out, em)
		}
	}
	return out
}

// wrap folds text at width characters, indenting continuation lines.
func wrap(text string, width int, indent string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return text
	}
	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) > width {
			lines = append(lines, current)
			current = word
			continue
		}
		current += " " + word
	}
	lines = append(lines, current)
	return strings.Join(lines, "\n"+indent)
}
