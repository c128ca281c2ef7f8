// internal/api/handler.go
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/suchithnarayan/actions-guard-hub/internal/store"
)

// Handler is the container for API dependencies.
type Handler struct {
	store       *store.Store
	frontendDir string
	logger      *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
// The API is read-only: it exposes the scan state document and the
// generated overview, never mutates them.
func NewRouter(st *store.Store, frontendDir string, logger *slog.Logger) http.Handler {
	h := &Handler{
		store:       st,
		frontendDir: frontendDir,
		logger:      logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos", h.listRepos)
		r.Get("/repos/{owner}/{name}", h.getRepo)
		r.Get("/repos/{owner}/{name}/releases", h.getReleases)
		r.Get("/overview", h.getOverview)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listRepos returns every repository key currently in the store.
// GET /v1/repos
func (h *Handler) listRepos(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.store.Snapshot())
}

// getRepo returns the full record for one repository.
// GET /v1/repos/{owner}/{name}
func (h *Handler) getRepo(w http.ResponseWriter, r *http.Request) {
	rec := h.store.Get(chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name"))
	if rec == nil {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

// getReleases returns only the release map for one repository.
// GET /v1/repos/{owner}/{name}/releases
func (h *Handler) getReleases(w http.ResponseWriter, r *http.Request) {
	rec := h.store.Get(chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name"))
	if rec == nil {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return
	}
	respondWithJSON(w, http.StatusOK, rec.Releases)
}

// getOverview serves the generated security overview document.
// GET /v1/overview
func (h *Handler) getOverview(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(h.frontendDir, "security-overview.json")
	data, err := os.ReadFile(path)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Overview not generated yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
