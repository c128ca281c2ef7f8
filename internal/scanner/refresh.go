// internal/scanner/refresh.go
package scanner

import (
	"context"
	"log/slog"
	"time"

	"github.com/suchithnarayan/actions-guard-hub/internal/model"
	"github.com/suchithnarayan/actions-guard-hub/internal/store"
)

// MetadataRefresher fetches a repository metadata snapshot and merges
// it into the store. It owns the wall-clock caching policy: when not
// forced, a record refreshed within maxAge is left alone. The
// orchestrator always forces at run start, so scan correctness never
// depends on this window.
type MetadataRefresher struct {
	host   CodeHost
	store  *store.Store
	maxAge time.Duration
	logger *slog.Logger
}

func NewMetadataRefresher(host CodeHost, st *store.Store, maxAge time.Duration, logger *slog.Logger) *MetadataRefresher {
	return &MetadataRefresher{host: host, store: st, maxAge: maxAge, logger: logger}
}

// Refresh returns the freshest record available for owner/repo. A
// failed fetch degrades to the stored record (possibly nil) instead of
// failing the run; the resolver and decision engine both tolerate a
// stale or missing record.
func (m *MetadataRefresher) Refresh(ctx context.Context, owner, repo string, force bool) *model.RepositoryRecord {
	ownerRepo := owner + "/" + repo

	if !force && m.isFresh(ownerRepo) {
		m.logger.Debug("Metadata recently refreshed, skipping", "repo", ownerRepo)
		return m.store.Get(ownerRepo)
	}

	incoming, err := m.host.GetRepositoryStats(ctx, owner, repo)
	if err != nil {
		m.logger.Warn("Metadata refresh failed, using stored record", "repo", ownerRepo, "error", err)
		return m.store.Get(ownerRepo)
	}

	return m.store.MergeRepository(ownerRepo, incoming)
}

func (m *MetadataRefresher) isFresh(ownerRepo string) bool {
	if m.maxAge <= 0 {
		return false
	}
	rec := m.store.Get(ownerRepo)
	if rec == nil || rec.LastUpdated == "" {
		return false
	}
	last, err := time.Parse(time.RFC3339, rec.LastUpdated)
	if err != nil {
		return false
	}
	return time.Since(last) < m.maxAge
}
