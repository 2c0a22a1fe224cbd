package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/prodscribe/internal/describe"
	"github.com/kalambet/prodscribe/internal/payload"
	"github.com/kalambet/prodscribe/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Describer runs one generation.
type Describer interface {
	Describe(ctx context.Context, variant string, in payload.Input) (describe.Result, error)
}

// GenerationStore is the history store behind /generations.
type GenerationStore interface {
	ListGenerations(limit, offset int) ([]storage.Generation, error)
	GetGeneration(id string) (storage.Generation, error)
	DeleteGeneration(id string) error
}

// Deps holds the dependencies of the HTTP handler.
type Deps struct {
	Describer Describer
	Fixtures  payload.Input   // blocks used when a request supplies none
	Variant   string          // variant served by /describe-product
	Store     GenerationStore // optional; nil disables /generations
	Token     string          // optional bearer token for /generations
}

// AssistantResponse is the body returned by the assistant variant.
type AssistantResponse struct {
	AssistantReply string `json:"assistant_reply"`
	ThreadID       string `json:"thread_id"`
}

// NewHandler returns the service's http.Handler.
func NewHandler(deps Deps) http.Handler {
	if deps.Variant == "" {
		deps.Variant = describe.VariantAssistant
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", handleHealth)

	r.Get("/describe-product", handleDescribe(deps))
	r.Post("/describe-product", handleDescribe(deps))
	r.Options("/describe-product", handlePreflight(deps))
	r.Get("/describe-product/{variant}", handleDescribe(deps))
	r.Post("/describe-product/{variant}", handleDescribe(deps))
	r.Options("/describe-product/{variant}", handlePreflight(deps))

	if deps.Store != nil {
		r.Group(func(r chi.Router) {
			if deps.Token != "" {
				r.Use(BearerAuth(deps.Token))
			}
			r.Get("/generations", handleListGenerations(deps))
			r.Get("/generations/{id}", handleGetGeneration(deps))
			r.Delete("/generations/{id}", handleDeleteGeneration(deps))
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func routeVariant(r *http.Request, deps Deps) (string, bool) {
	v := chi.URLParam(r, "variant")
	if v == "" {
		v = deps.Variant
	}
	switch v {
	case describe.VariantAssistant, describe.VariantCompletion:
		return v, true
	}
	return v, false
}

// setCORS advertises permissive cross-origin access. Only the completion
// variant is browser-facing.
func setCORS(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
		h.Set("Access-Control-Allow-Headers", req)
	} else {
		h.Set("Access-Control-Allow-Headers", "*")
	}
}

func handlePreflight(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		variant, ok := routeVariant(r, deps)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "unknown variant %q", variant)
			return
		}
		if variant != describe.VariantCompletion {
			httpError(w, http.StatusMethodNotAllowed, "invalid_request_error", "cross-origin access is only offered by the completion variant")
			return
		}
		setCORS(w, r)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDescribe(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		variant, ok := routeVariant(r, deps)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "unknown variant %q", variant)
			return
		}
		if variant == describe.VariantCompletion {
			setCORS(w, r)
		}

		in := deps.Fixtures
		if r.Method == http.MethodPost {
			body, err := decodeInput(w, r)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
			in = in.Merge(body)
		}

		res, err := deps.Describer.Describe(r.Context(), variant, in)
		if err != nil {
			writeDescribeError(w, err)
			return
		}

		if res.GenerationID != "" {
			w.Header().Set("X-Generation-ID", res.GenerationID)
		}
		if variant == describe.VariantCompletion {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			io.WriteString(w, res.Reply)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AssistantResponse{
			AssistantReply: res.Reply,
			ThreadID:       res.ThreadID,
		})
	}
}

// decodeInput reads an optional JSON body; an empty body yields no blocks.
func decodeInput(w http.ResponseWriter, r *http.Request) (payload.Input, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var in payload.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return payload.Input{}, nil
		}
		return payload.Input{}, err
	}
	return in, nil
}

func writeDescribeError(w http.ResponseWriter, err error) {
	var se *describe.StageError
	if !errors.As(err, &se) {
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
		return
	}

	body := map[string]any{
		"message": se.Error(),
		"type":    errorType(se.Status),
		"stage":   se.Stage,
	}
	if se.LastStatus != "" {
		body["last_status"] = se.LastStatus
	}
	if !se.Snapshot.IsAbsent() {
		body["run_snapshot"] = se.Snapshot
	}
	if !se.Output.IsAbsent() {
		body["run_output"] = se.Output
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(se.Status)
	json.NewEncoder(w).Encode(map[string]any{"error": body})
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusBadGateway:
		return "upstream_error"
	case http.StatusGatewayTimeout:
		return "timeout_error"
	default:
		return "api_error"
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
