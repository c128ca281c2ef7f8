// internal/model/models.go
package model

import "time"

// DateUnknown is the sentinel stored when a release has no published
// date, e.g. a raw tag that was never promoted to a GitHub release.
const DateUnknown = "N/A"

// Scan types reported on a ScanOutcome.
const (
	ScanTypeNew      = "new"
	ScanTypeExisting = "existing"
)

// RepositoryStats is the point-in-time repository block of a record.
// Counters carry no history; a metadata refresh replaces them wholesale.
type RepositoryStats struct {
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at"`
	Stars        int    `json:"stars"`
	Issues       int    `json:"issues"`
	Contributors int    `json:"contributors"`
}

// ReleaseRecord is the per-version-label scan bookkeeping entry.
//
// Latest is the commit SHA the label currently points to; SHA
// accumulates every commit ever observed for the label, since tags can
// be force-moved and branches always move. Latest is kept inside SHA by
// every mutating method.
type ReleaseRecord struct {
	PublishedDate string   `json:"published_date"`
	Scanned       bool     `json:"scanned"`
	Latest        string   `json:"latest"`
	SHA           []string `json:"sha"`
	Safe          bool     `json:"safe"`
	ScanReport    string   `json:"scan_report,omitempty"`
}

// NewReleaseRecord builds an unscanned release entry pointing at sha.
func NewReleaseRecord(publishedDate, sha string) *ReleaseRecord {
	if publishedDate == "" {
		publishedDate = DateUnknown
	}
	r := &ReleaseRecord{
		PublishedDate: publishedDate,
		Latest:        sha,
		Safe:          true,
	}
	r.AddSHA(sha)
	return r
}

// AddSHA records a commit SHA in the historical set, ignoring
// duplicates and empty values.
func (r *ReleaseRecord) AddSHA(sha string) {
	if sha == "" {
		return
	}
	for _, s := range r.SHA {
		if s == sha {
			return
		}
	}
	r.SHA = append(r.SHA, sha)
}

// SetLatest moves the label head to sha and keeps it in the SHA set.
func (r *ReleaseRecord) SetLatest(sha string) {
	r.Latest = sha
	r.AddSHA(sha)
}

// MatchSHA returns the full SHA matching spec exactly or by prefix.
// Label lookups run before SHA lookups, so a short prefix only reaches
// here when it named no release.
func (r *ReleaseRecord) MatchSHA(spec string) (string, bool) {
	if spec == "" {
		return "", false
	}
	for _, s := range r.SHA {
		if s == spec {
			return s, true
		}
		if len(s) > len(spec) && s[:len(spec)] == spec {
			return s, true
		}
	}
	return "", false
}

// ResetScan invalidates any prior scan for this label. Used when the
// label's head SHA drifts and when a recorded artifact goes missing.
func (r *ReleaseRecord) ResetScan() {
	r.Scanned = false
	r.ScanReport = ""
	r.Safe = true
}

// MarkScanned records a completed scan with its artifact path.
func (r *ReleaseRecord) MarkScanned(artifactPath string) {
	r.Scanned = true
	r.ScanReport = artifactPath
}

// RepositoryRecord is the persisted state for one owner/repo.
type RepositoryRecord struct {
	Repository  RepositoryStats           `json:"repository"`
	Releases    map[string]*ReleaseRecord `json:"releases"`
	LastUpdated string                    `json:"last_updated"`
}

// Release returns the entry for label, if present.
func (rec *RepositoryRecord) Release(label string) (*ReleaseRecord, bool) {
	if rec == nil || rec.Releases == nil {
		return nil, false
	}
	r, ok := rec.Releases[label]
	return r, ok
}

// EnsureRelease returns the entry for label, creating a default
// unscanned entry pointing at sha when absent.
func (rec *RepositoryRecord) EnsureRelease(label, sha string) *ReleaseRecord {
	if rec.Releases == nil {
		rec.Releases = make(map[string]*ReleaseRecord)
	}
	if r, ok := rec.Releases[label]; ok {
		return r
	}
	r := NewReleaseRecord(DateUnknown, sha)
	rec.Releases[label] = r
	return r
}

// FindRelease locates a release by exact label match, or failing that
// by commit SHA (exact or prefix) against every entry's historical set.
// It returns the label, the matched SHA (the label head on a label
// match) and the entry itself.
func (rec *RepositoryRecord) FindRelease(spec string) (label, sha string, r *ReleaseRecord, ok bool) {
	if rec == nil || len(rec.Releases) == 0 {
		return "", "", nil, false
	}
	if found, exists := rec.Releases[spec]; exists {
		return spec, found.Latest, found, true
	}
	for name, rel := range rec.Releases {
		if full, found := rel.MatchSHA(spec); found {
			return name, full, rel, true
		}
	}
	return "", "", nil, false
}

// NewestRelease selects the release with the most recent parseable
// published date. Entries carrying the unknown-date sentinel are
// excluded from the comparison.
func (rec *RepositoryRecord) NewestRelease() (label string, r *ReleaseRecord, ok bool) {
	if rec == nil {
		return "", nil, false
	}
	var newest time.Time
	for name, rel := range rec.Releases {
		if rel.PublishedDate == DateUnknown {
			continue
		}
		ts, err := time.Parse(time.RFC3339, rel.PublishedDate)
		if err != nil {
			continue
		}
		if !ok || ts.After(newest) {
			newest = ts
			label, r, ok = name, rel, true
		}
	}
	return label, r, ok
}

// ScanOutcome is the transient result of one orchestration run. It is
// never persisted; failure is a value here, not an exception path.
type ScanOutcome struct {
	Success    bool
	ActionRef  string
	ScanType   string
	Version    string
	CommitSHA  string
	ScanPath   string
	ReportPath string
	TokensUsed int
	Cost       float64
	Err        error
}
