package api

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/cdnprobe/cdnprobe/pkg/engine"
	"github.com/cdnprobe/cdnprobe/pkg/run"
	"github.com/cdnprobe/cdnprobe/server/internal/alerts"
	"github.com/cdnprobe/cdnprobe/server/internal/store"
)

// Prefixes are the path prefixes the Handler serves. The server mounts the
// Handler on each of them.
var Prefixes = []string{"/api/", "/api-test/", "/tests/", "/purge", "/health", "/metrics"}

// Deps are the collaborators of a Handler. Only Store and Alerts are required.
type Deps struct {
	Store  *store.Store
	Alerts *alerts.Engine

	// History persists finished runs. Nil disables the history routes.
	History      *store.History
	HistoryLimit int

	// Publishers receive every event of every run started through the API,
	// after the store and alert engine have seen it.
	Publishers []run.Publisher

	// Clients reports the number of connected WebSocket clients.
	Clients func() int

	// Auth wraps the routes that start runs or call vendor APIs.
	Auth func(http.Handler) http.Handler

	// CORSOrigin is sent as Access-Control-Allow-Origin. Empty disables CORS.
	CORSOrigin string
}

// Handler is the HTTP handler for the REST API, run streams and the vendor
// proxy.
type Handler struct {
	engine atomic.Pointer[engine.Engine]
	deps   Deps
	mux    *http.ServeMux
	root   http.Handler
}

// New creates a Handler that starts runs on eng and registers all routes.
func New(eng *engine.Engine, deps Deps) *Handler {
	h := &Handler{deps: deps, mux: http.NewServeMux()}
	h.engine.Store(eng)

	protect := deps.Auth
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}
	guarded := func(fn http.HandlerFunc) http.Handler { return protect(fn) }

	h.mux.HandleFunc("/health", h.liveness)
	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/metrics", h.metrics)

	h.mux.Handle("/api/v1/runs", guarded(h.startRun))
	h.mux.Handle("/tests/run", guarded(h.startRun))
	h.mux.Handle("/api/v1/runs/stream", guarded(h.streamRun))
	h.mux.Handle("/tests/run/stream", guarded(h.streamRun))
	h.mux.HandleFunc("/api/v1/runs/last", h.lastRun)
	h.mux.HandleFunc("/api/v1/runs/history", h.listHistory)
	h.mux.HandleFunc("/api/v1/runs/history/", h.getHistory) // subtree: extracts {id}

	h.mux.HandleFunc("/api/v1/providers", h.providers)
	h.mux.HandleFunc("/api/v1/endpoints", h.endpoints)
	h.mux.HandleFunc("/api/v1/diagnostics", h.diagnostics)
	h.mux.HandleFunc("/api/v1/certs", h.certs)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)

	h.mux.Handle("/api-test/", guarded(h.vendorProxy))
	h.mux.Handle("/purge", guarded(h.purge))

	h.root = withLogging(withCORS(deps.CORSOrigin, h.mux))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

// SetEngine replaces the engine used by subsequent requests. Runs already in
// flight finish on the engine they started with.
func (h *Handler) SetEngine(eng *engine.Engine) {
	h.engine.Store(eng)
}

// Engine returns the current engine.
func (h *Handler) Engine() *engine.Engine {
	return h.engine.Load()
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func methodIs(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}
