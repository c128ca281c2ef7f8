// internal/store/store.go
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/suchithnarayan/actions-guard-hub/internal/model"
)

// Store is the persistent mapping from "owner/repo" to its
// RepositoryRecord. Mutations are read-modify-write over shared state,
// so the store serializes them per repository; the backing file is a
// single JSON document rewritten in full on every flush, so flushes are
// serialized globally through flushMu regardless of which repository
// triggered them.
//
// Every record mutation additionally holds the document lock mu for
// writing. Flush marshals all live records under mu, so a merge of one
// repository and a flush triggered by another can never overlap on the
// same record. All mutations, including the scan-state heal, therefore
// go through store methods; records handed out by Get are the live
// in-memory objects and must be treated as read-only by callers.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string]*model.RepositoryRecord

	lockMu    sync.Mutex
	repoLocks map[string]*sync.Mutex

	flushMu sync.Mutex
}

// Open loads the store from path, starting empty when the file does not
// exist yet. A file that exists but cannot be parsed is an error: silently
// starting empty would orphan every recorded scan on the next flush.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:      path,
		logger:    logger,
		records:   make(map[string]*model.RepositoryRecord),
		repoLocks: make(map[string]*sync.Mutex),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("No existing scan state, starting empty", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scan state %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("failed to parse scan state %s: %w", path, err)
	}

	logger.Info("Loaded scan state", "path", path, "repositories", len(s.records))
	return s, nil
}

// repoLock returns the mutual-exclusion lock for one owner/repo,
// creating it on first use.
func (s *Store) repoLock(ownerRepo string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.repoLocks[ownerRepo]
	if !ok {
		l = &sync.Mutex{}
		s.repoLocks[ownerRepo] = l
	}
	return l
}

// Get returns the live record for ownerRepo, or nil when the repository
// has never been seen.
func (s *Store) Get(ownerRepo string) *model.RepositoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[ownerRepo]
}

// Snapshot returns the owner/repo keys currently in the store.
func (s *Store) Snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	return keys
}

// MergeRepository folds a freshly fetched metadata snapshot into the
// stored record for ownerRepo without destroying prior scan state.
//
// The repository block and last_updated are replaced wholesale; per
// release the rules are:
//   - unknown label: inserted as-is, unscanned;
//   - known label, same head SHA: scan state preserved, SHA sets
//     unioned;
//   - known label, moved head SHA: drift; scan state reset, SHA sets
//     unioned so old commits stay discoverable;
//   - stored labels absent from the snapshot are left untouched (the
//     snapshot may be a partial view).
//
// The merged record is flushed before returning; a flush failure is
// reported but never rolls back the in-memory merge.
func (s *Store) MergeRepository(ownerRepo string, incoming *model.RepositoryRecord) *model.RepositoryRecord {
	lock := s.repoLock(ownerRepo)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	existing, ok := s.records[ownerRepo]
	if !ok {
		s.logger.Info("Adding new repository", "repo", ownerRepo)
		if incoming.Releases == nil {
			incoming.Releases = make(map[string]*model.ReleaseRecord)
		}
		if incoming.LastUpdated == "" {
			incoming.LastUpdated = time.Now().Format(time.RFC3339)
		}
		s.records[ownerRepo] = incoming
		s.mu.Unlock()
		s.flushReporting()
		return incoming
	}

	// The merge mutates the live record, so it stays under the document
	// lock: a flush for an unrelated repository marshals this record too.
	s.mergeInto(ownerRepo, existing, incoming)
	s.mu.Unlock()

	s.flushReporting()
	return existing
}

func (s *Store) mergeInto(ownerRepo string, existing, incoming *model.RepositoryRecord) {
	logger := s.logger.With("repo", ownerRepo)

	if existing.Repository.Stars != incoming.Repository.Stars {
		logger.Info("Stars changed", "old", existing.Repository.Stars, "new", incoming.Repository.Stars)
	}
	if existing.Repository.Contributors != incoming.Repository.Contributors {
		logger.Info("Contributors changed", "old", existing.Repository.Contributors, "new", incoming.Repository.Contributors)
	}
	existing.Repository = incoming.Repository

	existing.LastUpdated = incoming.LastUpdated
	if existing.LastUpdated == "" {
		existing.LastUpdated = time.Now().Format(time.RFC3339)
	}

	if len(incoming.Releases) == 0 {
		return
	}
	if existing.Releases == nil {
		existing.Releases = make(map[string]*model.ReleaseRecord)
	}

	added, drifted := 0, 0
	for label, in := range incoming.Releases {
		old, known := existing.Releases[label]
		if !known {
			in.ResetScan()
			in.AddSHA(in.Latest)
			existing.Releases[label] = in
			added++
			continue
		}

		if old.Latest != in.Latest {
			logger.Info("Release head moved", "release", label, "old_sha", short(old.Latest), "new_sha", short(in.Latest))
			old.ResetScan()
			drifted++
		}
		// Union the SHA history regardless of drift.
		for _, sha := range in.SHA {
			old.AddSHA(sha)
		}
		old.SetLatest(in.Latest)
		if in.PublishedDate != model.DateUnknown {
			old.PublishedDate = in.PublishedDate
		}
	}

	logger.Info("Releases merged", "total", len(existing.Releases), "added", added, "drifted", drifted)
}

// RecordScan upserts the release entry for label and marks it scanned
// with the artifact at artifactPath, ensuring commitSHA is both the
// label head and part of the historical set. Repository and release
// entries are synthesized with defaults when absent.
func (s *Store) RecordScan(ownerRepo, label, commitSHA, artifactPath string) {
	lock := s.repoLock(ownerRepo)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	rec, ok := s.records[ownerRepo]
	if !ok {
		rec = &model.RepositoryRecord{
			Releases:    make(map[string]*model.ReleaseRecord),
			LastUpdated: time.Now().Format(time.RFC3339),
		}
		s.records[ownerRepo] = rec
	}
	rel := rec.EnsureRelease(label, commitSHA)
	if commitSHA != "" {
		rel.SetLatest(commitSHA)
	}
	rel.MarkScanned(artifactPath)
	s.mu.Unlock()

	s.logger.Info("Recorded scan", "repo", ownerRepo, "release", label, "sha", short(commitSHA), "artifact", artifactPath)
	s.flushReporting()
}

// InvalidateScan resets the scan state for one release whose recorded
// artifact turned out to be missing, and persists the heal. A missing
// repository or label is a no-op.
func (s *Store) InvalidateScan(ownerRepo, label string) {
	lock := s.repoLock(ownerRepo)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	healed := false
	if rec := s.records[ownerRepo]; rec != nil {
		if rel, ok := rec.Release(label); ok {
			rel.ResetScan()
			healed = true
		}
	}
	s.mu.Unlock()

	if !healed {
		return
	}
	s.logger.Info("Reset scan state", "repo", ownerRepo, "release", label)
	s.flushReporting()
}

// Flush rewrites the whole backing document. It is the single writer:
// concurrent merges of distinct repositories funnel through flushMu so
// two full rewrites never interleave.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	data, err := json.MarshalIndent(s.records, "", "    ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode scan state: %w", err)
	}

	tmp := s.path + ".tmp"
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write scan state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace scan state: %w", err)
	}
	return nil
}

// flushReporting flushes after a mutation. Failures are logged, not
// propagated: in-memory state stays authoritative and the next
// successful flush carries the accumulated delta.
func (s *Store) flushReporting() {
	if err := s.Flush(); err != nil {
		s.logger.Error("Failed to flush scan state, keeping in-memory changes", "error", err)
	}
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	if sha == "" {
		return "N/A"
	}
	return sha
}
