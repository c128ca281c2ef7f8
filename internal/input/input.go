// internal/input/input.go

// Package input builds the batch of action references to scan from the
// configured sources: an explicit list, a reference file, or a GitHub
// organization.
package input

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// OrgLister expands an organization into its action repositories.
type OrgLister interface {
	ListOrgActionRepos(ctx context.Context, org string) ([]string, error)
}

// Collector gathers action references from all configured sources.
type Collector struct {
	lister OrgLister
	logger *slog.Logger
}

func NewCollector(lister OrgLister, logger *slog.Logger) *Collector {
	return &Collector{lister: lister, logger: logger}
}

// Collect merges explicit references, a reference file and an
// organization expansion into one deduplicated list, preserving first
// occurrence order.
func (c *Collector) Collect(ctx context.Context, actions []string, actionsFile, org string) ([]string, error) {
	var refs []string
	refs = append(refs, actions...)

	if actionsFile != "" {
		fromFile, err := readActionsFile(actionsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read actions file: %w", err)
		}
		c.logger.Info("Loaded action references from file", "file", actionsFile, "count", len(fromFile))
		refs = append(refs, fromFile...)
	}

	if org != "" {
		fromOrg, err := c.lister.ListOrgActionRepos(ctx, org)
		if err != nil {
			return nil, fmt.Errorf("failed to list organization repositories: %w", err)
		}
		refs = append(refs, fromOrg...)
	}

	return dedupe(refs), nil
}

// readActionsFile reads one reference per line, ignoring blank lines
// and # comments.
func readActionsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var refs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	return refs, scanner.Err()
}

func dedupe(refs []string) []string {
	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}
