// Package server provides the HTTP surface of both binaries and graceful
// shutdown plumbing. Route and schema handling stays thin: decode, dispatch,
// map status codes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/efebarandurmaz/corpusd/internal/auth"
	"github.com/efebarandurmaz/corpusd/internal/chat"
	"github.com/efebarandurmaz/corpusd/internal/retriever"
)

// ChatHandler serves /chats: HEAD is the readiness probe, POST streams a chat
// answer as NDJSON.
type ChatHandler struct {
	Service *chat.Service
	Broker  *auth.Broker
	Ready   func() bool
	Log     *slog.Logger
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead:
		if h.Ready() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	case http.MethodPost:
		h.stream(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request) {
	// Readiness first: redeeming is destructive, and a 503 must not burn
	// the caller's single-use credential. HEAD exposes readiness anyway,
	// so checking it unauthenticated leaks nothing.
	if !h.Ready() {
		http.Error(w, "retriever reloading", http.StatusServiceUnavailable)
		return
	}
	if !h.Broker.Redeem(r.Context(), r.Header.Get(auth.HeaderKey), r.Header.Get(auth.HeaderSecret)) {
		http.Error(w, "invalid API key", http.StatusUnauthorized)
		return
	}

	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")

	enc := json.NewEncoder(w)
	err := h.Service.Stream(r.Context(), req, func(ev chat.Event) error {
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		// Headers may already be gone; all that is left is the log.
		h.Log.Error("chat stream failed", "error", err)
	}
}

// ReloadHandler serves POST /retriever/reload. The caller authorizes with a
// one-time credential; middleware handles that.
type ReloadHandler struct {
	Reloader *retriever.Reloader
	Log      *slog.Logger
}

func (h *ReloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.Reloader.Reload(r.Context()); err != nil {
		h.Log.Error("retriever reload failed", "error", err)
		http.Error(w, "failed to reload retriever: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthHandler serves GET /health on both binaries.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}

// NewRagRouter assembles the retrieval service's routes.
func NewRagRouter(chatH *ChatHandler, reloadH *ReloadHandler, broker *auth.Broker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/chats", chatH)
	mux.Handle("/retriever/reload", auth.Middleware(broker, reloadH))
	mux.Handle("/health", HealthHandler())
	return mux
}

// NewIndexerRouter assembles the indexer's admin routes.
func NewIndexerRouter() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", HealthHandler())
	return mux
}
