// internal/api/handler_test.go
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suchithnarayan/actions-guard-hub/internal/model"
	"github.com/suchithnarayan/actions-guard-hub/internal/store"
)

func setupRouter(t *testing.T) (http.Handler, *store.Store, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(filepath.Join(t.TempDir(), "action-stats.json"), logger)
	require.NoError(t, err)

	frontendDir := t.TempDir()
	return NewRouter(st, frontendDir, logger), st, frontendDir
}

func doRequest(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealthCheck(t *testing.T) {
	router, _, _ := setupRouter(t)

	rr := doRequest(t, router, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rr.Body.String())
}

func TestListRepos(t *testing.T) {
	router, st, _ := setupRouter(t)
	st.RecordScan("actions/checkout", "v4", "aaa1111aaa1111aaa1111aaa1111aaa1111aaa11", "scan-results/x.json")

	rr := doRequest(t, router, "/v1/repos")

	assert.Equal(t, http.StatusOK, rr.Code)
	var repos []string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &repos))
	assert.Equal(t, []string{"actions/checkout"}, repos)
}

func TestGetRepo(t *testing.T) {
	router, st, _ := setupRouter(t)
	st.RecordScan("actions/checkout", "v4", "aaa1111aaa1111aaa1111aaa1111aaa1111aaa11", "scan-results/x.json")

	t.Run("found", func(t *testing.T) {
		rr := doRequest(t, router, "/v1/repos/actions/checkout")

		assert.Equal(t, http.StatusOK, rr.Code)
		var rec model.RepositoryRecord
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
		rel, ok := rec.Release("v4")
		require.True(t, ok)
		assert.True(t, rel.Scanned)
	})

	t.Run("not found", func(t *testing.T) {
		rr := doRequest(t, router, "/v1/repos/actions/unknown")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestGetReleases(t *testing.T) {
	router, st, _ := setupRouter(t)
	st.RecordScan("actions/checkout", "v4", "aaa1111aaa1111aaa1111aaa1111aaa1111aaa11", "scan-results/x.json")

	rr := doRequest(t, router, "/v1/repos/actions/checkout/releases")

	assert.Equal(t, http.StatusOK, rr.Code)
	var releases map[string]*model.ReleaseRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &releases))
	require.Contains(t, releases, "v4")
	assert.Equal(t, "aaa1111aaa1111aaa1111aaa1111aaa1111aaa11", releases["v4"].Latest)
}

func TestGetOverview(t *testing.T) {
	router, _, frontendDir := setupRouter(t)

	t.Run("not generated yet", func(t *testing.T) {
		rr := doRequest(t, router, "/v1/overview")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("serves the document", func(t *testing.T) {
		overview := `[{"action": "actions/checkout@v4", "issues": {}}]`
		require.NoError(t, os.WriteFile(filepath.Join(frontendDir, "security-overview.json"), []byte(overview), 0o644))

		rr := doRequest(t, router, "/v1/overview")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		assert.JSONEq(t, overview, rr.Body.String())
	})
}
