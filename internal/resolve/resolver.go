// internal/resolve/resolver.go
package resolve

import (
	"context"
	"log/slog"

	"github.com/suchithnarayan/actions-guard-hub/internal/model"
)

// Reserved aliases that must be resolved to a concrete release or
// branch before a scan can be cached against them.
var reservedAliases = map[string]bool{
	"latest":     true,
	"main":       true,
	"master":     true,
	"prod":       true,
	"production": true,
}

// ReleaseInfo is a latest-release answer from the code host.
type ReleaseInfo struct {
	Tag    string
	Commit string
}

// ReleaseSource is the slice of the code host client the resolver needs
// for its network fallbacks.
type ReleaseSource interface {
	GetLatestRelease(ctx context.Context, owner, repo string) (*ReleaseInfo, error)
	GetDefaultBranch(ctx context.Context, owner, repo string) (string, error)
}

// Resolver turns a loosely specified version reference into a concrete
// (label, commit SHA) pair. It degrades to weaker answers rather than
// failing: for a well-formed repository Resolve never returns an error
// state, only a less precise one.
type Resolver struct {
	source ReleaseSource
	logger *slog.Logger
}

func NewResolver(source ReleaseSource, logger *slog.Logger) *Resolver {
	return &Resolver{source: source, logger: logger}
}

// Resolve maps versionSpec to a concrete label and, when known, the
// commit SHA it denotes. rec is the current store record for the
// repository and may be nil.
//
// A spec that is not a reserved alias is treated as already concrete:
// it is matched against the record's release labels, then against every
// recorded SHA (exact or prefix), and otherwise passed through
// unresolved with an empty SHA; the caller may still use it directly
// as a download ref.
//
// A reserved alias resolves, in order, to: the record's newest release
// by published date, the code host's latest published release, the
// repository's default branch, and finally the literal "main".
func (r *Resolver) Resolve(ctx context.Context, owner, repo, versionSpec string, rec *model.RepositoryRecord) (string, string) {
	ownerRepo := owner + "/" + repo

	if !reservedAliases[versionSpec] {
		if label, sha, _, ok := rec.FindRelease(versionSpec); ok {
			return label, sha
		}
		return versionSpec, ""
	}

	logger := r.logger.With("repo", ownerRepo, "spec", versionSpec)

	if label, rel, ok := rec.NewestRelease(); ok {
		logger.Debug("Resolved alias from cached releases", "release", label)
		return label, rel.Latest
	}

	release, err := r.source.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		logger.Debug("Latest release lookup failed", "error", err)
	} else if release != nil && release.Tag != "" {
		logger.Debug("Resolved alias from latest release", "release", release.Tag)
		return release.Tag, release.Commit
	}

	branch, err := r.source.GetDefaultBranch(ctx, owner, repo)
	if err != nil {
		logger.Debug("Default branch lookup failed", "error", err)
	} else if branch != "" {
		logger.Debug("Resolved alias to default branch", "branch", branch)
		return branch, ""
	}

	logger.Warn("Could not resolve version, falling back to 'main'")
	return "main", ""
}
