// internal/report/overview.go
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// OverviewItem is one row of the frontend security overview.
type OverviewItem struct {
	Action   string         `json:"action"`
	Version  string         `json:"version"`
	SHA      string         `json:"sha"`
	Issues   map[string]int `json:"issues"`
	ScanFile string         `json:"scan_file"`
}

// GenerateOverview rebuilds the overview document from every scan
// artifact in outputDir and writes it to overviewPath. Artifacts that
// fail to parse are skipped; the overview reflects what is readable.
func (r *Renderer) GenerateOverview(outputDir, overviewPath string) (int, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read scan output directory: %w", err)
	}

	var items []OverviewItem
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(outputDir, entry.Name())
		scanData, err := loadJSON(path)
		if err != nil {
			r.logger.Warn("Skipping unreadable scan artifact", "path", path, "error", err)
			continue
		}
		items = append(items, OverviewItem{
			Action:   strOr(scanData, "repo-name", strings.TrimSuffix(entry.Name(), ".json")),
			Version:  str(scanData, "version"),
			SHA:      str(scanData, "SHA"),
			Issues:   CountBySeverity(list(scanData, "Security-Issues")),
			ScanFile: entry.Name(),
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Action < items[j].Action })

	data, err := json.MarshalIndent(items, "", "    ")
	if err != nil {
		return 0, err
	}
	if dir := filepath.Dir(overviewPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}
	if err := os.WriteFile(overviewPath, data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write overview: %w", err)
	}

	r.logger.Info("Security overview updated", "path", overviewPath, "actions", len(items))
	return len(items), nil
}
