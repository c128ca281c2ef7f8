// internal/github/ref.go
package github

import (
	"strings"

	apperrors "github.com/suchithnarayan/actions-guard-hub/internal/errors"
)

// ParseActionReference splits an action reference into its owner, repo
// and version components. Accepted forms:
//
//	owner/repo@version
//	owner/repo              (version defaults to "latest")
//	https://github.com/owner/repo
//
// Malformed references fail fast; nothing downstream runs for them.
func ParseActionReference(ref string) (owner, repo, version string, err error) {
	raw := strings.TrimSpace(ref)
	version = "latest"

	ownerRepo := raw
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		_, after, found := strings.Cut(raw, "github.com/")
		if !found {
			return "", "", "", &apperrors.ErrInvalidActionRef{Ref: ref}
		}
		ownerRepo = strings.Trim(after, "/")
	} else if at := strings.Index(raw, "@"); at >= 0 {
		ownerRepo = raw[:at]
		version = raw[at+1:]
		if version == "" {
			version = "latest"
		}
	}

	parts := strings.Split(ownerRepo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", &apperrors.ErrInvalidRepoFormat{Repo: ownerRepo}
	}
	return parts[0], parts[1], version, nil
}
