package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatcher processes one chat turn and returns the reply text.
type Dispatcher interface {
	HandleTurn(ctx context.Context, userEmail, text string) string
}

// ChatHandler exposes the assistant over HTTP: one POST per turn.
type ChatHandler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewChatHandler constructs the handler.
func NewChatHandler(dispatcher Dispatcher, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		dispatcher: dispatcher,
		logger:     logger.With("component", "chat_handler"),
	}
}

type chatRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP handles POST /chat.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug("rejected chat request", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	email := strings.TrimSpace(req.Email)
	message := strings.TrimSpace(req.Message)
	if email == "" || !strings.Contains(email, "@") {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "a valid email is required"})
		return
	}
	if message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}

	reply := h.dispatcher.HandleTurn(r.Context(), email, message)
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// NewRouter wires the chat, health and metrics endpoints.
func NewRouter(dispatcher Dispatcher, logger *slog.Logger, registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/chat", NewChatHandler(dispatcher, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
