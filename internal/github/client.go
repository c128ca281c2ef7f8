// internal/github/client.go
package github

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/suchithnarayan/actions-guard-hub/internal/model"
	"github.com/suchithnarayan/actions-guard-hub/internal/resolve"
)

const (
	// Maximum attempts for a single API call before giving up.
	maxRetries = 3
	// Max items per page accepted by the GitHub API.
	perPage = 100
	// Pagination caps, carried over from the scanner's original limits
	// (5000 tags / 2000 releases / 5000 contributors).
	maxTagPages         = 50
	maxReleasePages     = 20
	maxContributorPages = 50
)

// Client is a wrapper around the go-github client.
type Client struct {
	gh     *github.Client
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

// withRetry runs op with exponential backoff. Rate-limit responses wait
// for the advertised reset before the next attempt; 404s are permanent.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries-1), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}

		var rateErr *github.RateLimitError
		if errors.As(err, &rateErr) {
			wait := time.Until(rateErr.Rate.Reset.Time) + time.Second
			c.logger.Warn("Rate limit exceeded, waiting for reset", "wait", wait.String())
			if !sleepCtx(ctx, wait) {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		var abuseErr *github.AbuseRateLimitError
		if errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
			c.logger.Warn("Secondary rate limit hit", "retry_after", abuseErr.RetryAfter.String())
			if !sleepCtx(ctx, *abuseErr.RetryAfter) {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// GetRepositoryStats collects a full metadata snapshot for one
// repository: the repository block, the contributor count, and every
// tag/release with its head commit and published date. The snapshot is
// what the store merges; all of its releases are unscanned.
func (c *Client) GetRepositoryStats(ctx context.Context, owner, repo string) (*model.RepositoryRecord, error) {
	var ghRepo *github.Repository
	err := c.withRetry(ctx, func() error {
		var err error
		ghRepo, _, err = c.gh.Repositories.Get(ctx, owner, repo)
		return err
	})
	if err != nil {
		return nil, err
	}

	contributors, err := c.countContributors(ctx, owner, repo)
	if err != nil {
		// A stats snapshot without a contributor count is still useful.
		c.logger.Warn("Failed to count contributors", "owner", owner, "repo", repo, "error", err)
	}

	releases, err := c.collectReleases(ctx, owner, repo)
	if err != nil {
		c.logger.Warn("Failed to collect releases", "owner", owner, "repo", repo, "error", err)
		releases = make(map[string]*model.ReleaseRecord)
	}

	return &model.RepositoryRecord{
		Repository: model.RepositoryStats{
			Owner:        owner,
			Name:         repo,
			CreatedAt:    ghRepo.GetCreatedAt().Format(time.RFC3339),
			Stars:        ghRepo.GetStargazersCount(),
			Issues:       ghRepo.GetOpenIssuesCount(),
			Contributors: contributors,
		},
		Releases:    releases,
		LastUpdated: time.Now().Format(time.RFC3339),
	}, nil
}

// collectReleases fetches all tags and overlays release published dates
// onto them. It handles API pagination transparently, with a page cap
// as a guard against pathological repositories.
func (c *Client) collectReleases(ctx context.Context, owner, repo string) (map[string]*model.ReleaseRecord, error) {
	releases := make(map[string]*model.ReleaseRecord)

	opts := &github.ListOptions{PerPage: perPage}
	for page := 1; page <= maxTagPages; page++ {
		opts.Page = page
		var tags []*github.RepositoryTag
		var resp *github.Response
		err := c.withRetry(ctx, func() error {
			var err error
			tags, resp, err = c.gh.Repositories.ListTags(ctx, owner, repo, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, tag := range tags {
			releases[tag.GetName()] = model.NewReleaseRecord(model.DateUnknown, tag.GetCommit().GetSHA())
		}
		if resp.NextPage == 0 {
			break
		}
	}

	relOpts := &github.ListOptions{PerPage: perPage}
	for page := 1; page <= maxReleasePages; page++ {
		relOpts.Page = page
		var ghReleases []*github.RepositoryRelease
		var resp *github.Response
		err := c.withRetry(ctx, func() error {
			var err error
			ghReleases, resp, err = c.gh.Repositories.ListReleases(ctx, owner, repo, relOpts)
			return err
		})
		if err != nil {
			// Tags alone are still a usable snapshot.
			c.logger.Debug("Failed to list releases", "owner", owner, "repo", repo, "error", err)
			break
		}
		for _, rel := range ghReleases {
			if entry, ok := releases[rel.GetTagName()]; ok && rel.PublishedAt != nil {
				entry.PublishedDate = rel.GetPublishedAt().Format(time.RFC3339)
			}
		}
		if resp.NextPage == 0 {
			break
		}
	}

	c.logger.Info("Collected releases", "owner", owner, "repo", repo, "count", len(releases))
	return releases, nil
}

// countContributors pages through the contributor list (anonymous
// included) and counts entries.
func (c *Client) countContributors(ctx context.Context, owner, repo string) (int, error) {
	total := 0
	opts := &github.ListContributorsOptions{
		Anon:        "true",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	for page := 1; page <= maxContributorPages; page++ {
		opts.Page = page
		var contributors []*github.Contributor
		var resp *github.Response
		err := c.withRetry(ctx, func() error {
			var err error
			contributors, resp, err = c.gh.Repositories.ListContributors(ctx, owner, repo, opts)
			return err
		})
		if err != nil {
			return total, err
		}
		total += len(contributors)
		if resp.NextPage == 0 || len(contributors) < perPage {
			break
		}
	}
	return total, nil
}

// GetLatestRelease returns the newest published release, or nil when
// the repository has none.
func (c *Client) GetLatestRelease(ctx context.Context, owner, repo string) (*resolve.ReleaseInfo, error) {
	var rel *github.RepositoryRelease
	err := c.withRetry(ctx, func() error {
		var err error
		rel, _, err = c.gh.Repositories.GetLatestRelease(ctx, owner, repo)
		return err
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &resolve.ReleaseInfo{
		Tag:    rel.GetTagName(),
		Commit: rel.GetTargetCommitish(),
	}, nil
}

// GetDefaultBranch returns the repository's default branch name.
func (c *Client) GetDefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	var ghRepo *github.Repository
	err := c.withRetry(ctx, func() error {
		var err error
		ghRepo, _, err = c.gh.Repositories.Get(ctx, owner, repo)
		return err
	})
	if err != nil {
		return "", err
	}
	return ghRepo.GetDefaultBranch(), nil
}

// ListOrgActionRepos lists repositories in an organization that carry
// an action manifest at their root, returned as "owner/name" strings.
func (c *Client) ListOrgActionRepos(ctx context.Context, org string) ([]string, error) {
	var actionRepos []string

	opts := &github.RepositoryListByOrgOptions{
		Type:        "public",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	for {
		var repos []*github.Repository
		var resp *github.Response
		err := c.withRetry(ctx, func() error {
			var err error
			repos, resp, err = c.gh.Repositories.ListByOrg(ctx, org, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, r := range repos {
			if r.GetArchived() {
				continue
			}
			if c.hasActionManifest(ctx, r.GetOwner().GetLogin(), r.GetName()) {
				actionRepos = append(actionRepos, r.GetFullName())
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.logger.Info("Collected organization action repositories", "org", org, "count", len(actionRepos))
	return actionRepos, nil
}

// hasActionManifest reports whether the repository root contains
// action.yml or action.yaml.
func (c *Client) hasActionManifest(ctx context.Context, owner, repo string) bool {
	for _, manifest := range []string{"action.yml", "action.yaml"} {
		file, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, manifest, nil)
		if err == nil && file != nil {
			return true
		}
	}
	return false
}
