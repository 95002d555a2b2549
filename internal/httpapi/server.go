package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatd/internal/chat"
	"chatd/internal/embed"
	"chatd/internal/manager"
	"chatd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Ready() bool
	CreateSession(ctx context.Context, opts manager.SessionOptions) (*chat.Session, error)
	Session(id string) (*chat.Session, error)
	DestroySession(id string) error
	Embed(ctx context.Context, modelID, text string) ([]float32, string, error)
	Rank(ctx context.Context, modelID, query string, docs []string, limit int) ([]embed.Ranked, string, error)
}

type server struct {
	svc Service
}

func NewMux(svc Service) http.Handler {
	s := &server{svc: svc}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if h := corsHandler(); h != nil {
		r.Use(h)
	}
	// Compression for JSON endpoints; NDJSON streams are left alone
	r.Use(middleware.Compress(5, "application/json"))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(inflightMiddleware)

		r.Get("/models", s.handleModels)
		r.Get("/status", s.handleStatus)

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Delete("/", s.handleDestroySession)
			r.Post("/say", s.handleSay)
			r.Post("/stop", s.handleStop)
			r.Get("/ws", s.handleSessionSocket)
			r.Get("/history", s.handleGetHistory)
			r.Put("/history", s.handlePutHistory)
			r.Delete("/history", s.handleResetHistory)
			r.Put("/sampler", s.handleSetSampler)
			r.Put("/tools", s.handleSetTools)
			r.Put("/thinking", s.handleSetThinking)
			r.Put("/system_prompt", s.handleSetSystemPrompt)
		})

		r.Post("/embed", s.handleEmbed)
		r.Post("/similarity", s.handleSimilarity)
		r.Post("/rank", s.handleRank)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: s.svc.ListModels()})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// decodeJSON enforces the JSON content type and body limit, then decodes
// into v. It writes the error response itself and reports success.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		// oversized bodies get the same answer to avoid leaking the limit
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Warn().Err(err).Msg("encode response")
	}
}
