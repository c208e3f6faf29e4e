// Package server provides HTTP server construction for sheet-tree.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/sheet-tree/internal/auth"
	"github.com/alexjbarnes/sheet-tree/internal/orchestrator"
	"github.com/goccy/go-json"
)

// statusSource reports the orchestrator lifecycle for /healthz.
type statusSource interface {
	Status() orchestrator.Status
}

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Keys       *auth.Keys
	MCPHandler http.Handler
	Hub        *Hub
	Status     statusSource
	Logger     *slog.Logger
}

// NewMux builds the HTTP mux with the MCP endpoint, the tree view
// websocket and an unauthenticated health check. /mcp and /ws are
// protected by Bearer API key middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth(cfg.Status))

	authMiddleware := auth.Middleware(cfg.Keys, cfg.Logger)
	mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))
	mux.Handle("/ws", authMiddleware(cfg.Hub))

	return mux
}

// handleHealth answers 200 once the tree is ready and 503 before.
func handleHealth(src statusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		st := src.Status()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		if !st.TreeReady {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(st)
	}
}
