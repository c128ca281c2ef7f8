// internal/github/client_test.go
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suchithnarayan/actions-guard-hub/internal/model"
)

// setupTestClient creates a httptest server and a client pointing to it.
// The enterprise base URL prefixes every route with /api/v3.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := NewClient("", logger)

	testClient, err := github.NewClient(server.Client()).WithEnterpriseURLs(server.URL, server.URL)
	require.NoError(t, err)
	client.gh = testClient

	return client, server
}

func TestClient_GetRepositoryStats(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/actions/checkout", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{
			"name": "checkout",
			"owner": {"login": "actions"},
			"stargazers_count": 100,
			"open_issues_count": 5,
			"created_at": "2020-01-01T00:00:00Z",
			"default_branch": "main"
		}`)
	})
	mux.HandleFunc("/api/v3/repos/actions/checkout/contributors", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("anon"))
		fmt.Fprintln(w, `[{"login": "alice"}, {"login": "bob"}, {"id": 3, "type": "Anonymous"}]`)
	})
	mux.HandleFunc("/api/v3/repos/actions/checkout/tags", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `[
			{"name": "v4", "commit": {"sha": "aaa1111aaa1111aaa1111aaa1111aaa1111aaa11"}},
			{"name": "v3", "commit": {"sha": "bbb2222bbb2222bbb2222bbb2222bbb2222bbb22"}}
		]`)
	})
	mux.HandleFunc("/api/v3/repos/actions/checkout/releases", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `[{"tag_name": "v4", "published_at": "2024-01-15T00:00:00Z"}]`)
	})

	client, server := setupTestClient(t, mux)
	defer server.Close()

	rec, err := client.GetRepositoryStats(context.Background(), "actions", "checkout")

	require.NoError(t, err)
	assert.Equal(t, "actions", rec.Repository.Owner)
	assert.Equal(t, "checkout", rec.Repository.Name)
	assert.Equal(t, 100, rec.Repository.Stars)
	assert.Equal(t, 5, rec.Repository.Issues)
	assert.Equal(t, 3, rec.Repository.Contributors)
	assert.NotEmpty(t, rec.LastUpdated)

	require.Len(t, rec.Releases, 2)
	v4, ok := rec.Releases["v4"]
	require.True(t, ok)
	assert.Equal(t, "aaa1111aaa1111aaa1111aaa1111aaa1111aaa11", v4.Latest)
	assert.Equal(t, "2024-01-15T00:00:00Z", v4.PublishedDate, "release date overlaid on the tag")
	assert.False(t, v4.Scanned)

	v3, ok := rec.Releases["v3"]
	require.True(t, ok)
	assert.Equal(t, model.DateUnknown, v3.PublishedDate, "tag without a release keeps the sentinel")
}

func TestClient_Retry(t *testing.T) {
	t.Run("retries on 503 and succeeds", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&requestCount, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprintln(w, `{"name": "checkout", "default_branch": "main"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		branch, err := client.GetDefaultBranch(context.Background(), "actions", "checkout")

		require.NoError(t, err)
		assert.Equal(t, "main", branch)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount), "should have made two requests")
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetDefaultBranch(context.Background(), "actions", "checkout")

		require.Error(t, err)
		assert.Equal(t, int32(maxRetries), atomic.LoadInt32(&requestCount))
	})

	t.Run("404 is permanent", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetDefaultBranch(context.Background(), "actions", "missing")

		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount), "404 must not be retried")
	})
}

func TestClient_GetLatestRelease(t *testing.T) {
	t.Run("returns the release", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `{"tag_name": "v4", "target_commitish": "aaa1111aaa1111aaa1111aaa1111aaa1111aaa11"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		rel, err := client.GetLatestRelease(context.Background(), "actions", "checkout")

		require.NoError(t, err)
		require.NotNil(t, rel)
		assert.Equal(t, "v4", rel.Tag)
		assert.Equal(t, "aaa1111aaa1111aaa1111aaa1111aaa1111aaa11", rel.Commit)
	})

	t.Run("no releases yields nil without error", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		rel, err := client.GetLatestRelease(context.Background(), "actions", "checkout")

		require.NoError(t, err)
		assert.Nil(t, rel)
	})
}

func TestClient_ListOrgActionRepos(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/orgs/myorg/repos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `[
			{"name": "deploy-action", "full_name": "myorg/deploy-action", "owner": {"login": "myorg"}},
			{"name": "old-action", "full_name": "myorg/old-action", "owner": {"login": "myorg"}, "archived": true},
			{"name": "website", "full_name": "myorg/website", "owner": {"login": "myorg"}}
		]`)
	})
	mux.HandleFunc("/api/v3/repos/myorg/deploy-action/contents/action.yml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type": "file", "name": "action.yml", "path": "action.yml"}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"message": "Not Found"}`)
	})

	client, server := setupTestClient(t, mux)
	defer server.Close()

	repos, err := client.ListOrgActionRepos(context.Background(), "myorg")

	require.NoError(t, err)
	assert.Equal(t, []string{"myorg/deploy-action"}, repos,
		"archived repositories and repositories without a manifest are skipped")
}
