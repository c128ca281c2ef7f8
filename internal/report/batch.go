// internal/report/batch.go
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BatchItem is one scanned action summarized in a batch report.
type BatchItem struct {
	ActionRef string
	ScanPath  string
	Version   string
	CommitSHA string
}

// RenderBatch writes a summary report covering every item and returns
// its path. Items whose artifacts cannot be read are listed as
// unreadable rather than dropped.
func (r *Renderer) RenderBatch(items []BatchItem, reportName string) (string, error) {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line(banner)
	line("GITHUB ACTIONS BATCH SCAN REPORT")
	line(banner)
	line("")
	line("Report: %s", reportName)
	line("Generated: %s", time.Now().Format("2006-01-02 15:04:05"))
	line("Actions Scanned: %d", len(items))
	line("")

	totals := make(map[string]int)
	flagged := 0

	for i, item := range items {
		line("%d. %s", i+1, item.ActionRef)
		line("   Version: %s", item.Version)
		line("   Commit SHA: %s", item.CommitSHA)

		scanData, err := loadJSON(item.ScanPath)
		if err != nil {
			line("   (scan artifact unreadable: %v)", err)
			line("")
			continue
		}

		counts := CountBySeverity(list(scanData, "Security-Issues"))
		issueTotal := 0
		for severity, n := range counts {
			totals[severity] += n
			issueTotal += n
		}
		if issueTotal > 0 {
			flagged++
			parts := make([]string, 0, 4)
			for _, severity := range []string{"Critical", "High", "Medium", "Low"} {
				if counts[severity] > 0 {
					parts = append(parts, fmt.Sprintf("%s: %d", severity, counts[severity]))
				}
			}
			line("   Issues: %d (%s)", issueTotal, strings.Join(parts, ", "))
		} else {
			line("   Issues: none")
		}
		line("")
	}

	line(divider)
	line("BATCH SUMMARY")
	line(divider)
	line("Actions with findings: %d/%d", flagged, len(items))
	for _, severity := range []string{"Critical", "High", "Medium", "Low"} {
		if totals[severity] > 0 {
			line("%s issues: %d", severity, totals[severity])
		}
	}
	line("")
	line(banner)
	line("End of Report")
	line(banner)

	if err := os.MkdirAll(r.reportsDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.txt", reportName, time.Now().Format("20060102_150405"))
	path := filepath.Join(r.reportsDir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write batch report: %w", err)
	}

	r.logger.Info("Batch report generated", "path", path, "actions", len(items))
	return path, nil
}
