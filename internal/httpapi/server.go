package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lazyd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.ModelEntry
	Stats(ctx context.Context, id string) (types.StatsResponse, error)
	Unload(ctx context.Context, id string) (types.UnloadResponse, error)
	Load(ctx context.Context, id string) (types.LoadResponse, error)
	ServingModels() types.ServingModelsResponse
	Status() types.StatusResponse
	Infer(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// NDJSON streams are left uncompressed.
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if opts.cors.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.cors.Origins,
			AllowedMethods: opts.cors.Methods,
			AllowedHeaders: opts.cors.Headers,
			MaxAge:         300,
		}))
	}

	h := &handlers{svc: svc}
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(requireAdminToken)
		r.Get("/models", h.listModels)
		r.Get("/models/{id}/stats", h.stats)
		r.Post("/models/{id}/unload", h.unload)
		r.Post("/models/{id}/load", h.load)
	})
	r.Get("/v1/models", h.servingModels)
	r.Get("/status", h.status)
	r.Post("/infer", h.infer)

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
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

// requireAdminToken enforces the bearer token configured with SetAdminToken.
func requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := opts.adminToken
		if want == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(want)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="lazyd-admin"`)
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type handlers struct {
	svc Service
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// listModels godoc
// @Summary  List registered workers
// @Tags     admin
// @Produce  json
// @Success  200  {object}  types.ModelsResponse
// @Failure  401  {object}  types.ErrorResponse
// @Router   /v1/admin/models [get]
func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.ModelsResponse{Models: h.svc.ListModels()})
}

// stats godoc
// @Summary  Queue statistics of one worker
// @Tags     admin
// @Produce  json
// @Param    id   path      string  true  "worker id"
// @Success  200  {object}  types.StatsResponse
// @Failure  404  {object}  types.ErrorResponse
// @Router   /v1/admin/models/{id}/stats [get]
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

// unload godoc
// @Summary  Unload an idle worker
// @Tags     admin
// @Produce  json
// @Param    id   path      string  true  "worker id"
// @Success  200  {object}  types.UnloadResponse
// @Failure  404  {object}  types.ErrorResponse
// @Failure  409  {object}  types.ErrorResponse
// @Router   /v1/admin/models/{id}/unload [post]
func (h *handlers) unload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, err := h.svc.Unload(r.Context(), id)
	if err != nil {
		status := writeServiceError(w, err)
		logger().Info().Str("worker_id", id).Int("status", status).Err(err).Msg("admin unload")
		return
	}
	logger().Info().Str("worker_id", id).Int("status", http.StatusOK).Msg("admin unload")
	writeJSON(w, resp)
}

// load godoc
// @Summary  Load and activate a configured worker
// @Tags     admin
// @Produce  json
// @Param    id   path      string  true  "worker id"
// @Success  200  {object}  types.LoadResponse
// @Failure  404  {object}  types.ErrorResponse
// @Failure  503  {object}  types.ErrorResponse
// @Router   /v1/admin/models/{id}/load [post]
func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// Activation is bound to the server lifetime, not the caller's connection.
	resp, err := h.svc.Load(baseCtx, id)
	if err != nil {
		status := writeServiceError(w, err)
		logger().Warn().Str("worker_id", id).Int("status", status).Err(err).Msg("admin load")
		return
	}
	logger().Info().Str("worker_id", id).Str("result", resp.Status).Msg("admin load")
	writeJSON(w, resp)
}

// servingModels godoc
// @Summary  List workers reachable by the serving path
// @Tags     serving
// @Produce  json
// @Success  200  {object}  types.ServingModelsResponse
// @Router   /v1/models [get]
func (h *handlers) servingModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.ServingModels())
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.Status())
}

// infer godoc
// @Summary  Stream a completion as NDJSON
// @Tags     serving
// @Accept   json
// @Produce  application/x-ndjson
// @Param    request  body  types.InferRequest  true  "inference request"
// @Failure  404  {object}  types.ErrorResponse
// @Failure  429  {object}  types.ErrorResponse
// @Failure  503  {object}  types.ErrorResponse
// @Router   /infer [post]
func (h *handlers) infer(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, opts.maxBody)
	var req types.InferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	rid := middleware.GetReqID(r.Context())
	lvl := requestLogLevel(r)
	cw := &countingWriter{w: w}
	writer := io.Writer(cw)
	if lvl >= LevelDebug {
		writer = io.MultiWriter(cw, &loggingLineWriter{requestID: rid})
	}
	if lvl >= LevelInfo {
		logger().Info().Str("path", r.URL.Path).Str("model", req.Model).Str("request_id", rid).Msg("infer start")
	}

	ctx, cancel := inferContext(r)
	defer cancel()

	start := time.Now()
	w.Header().Set("Content-Type", "application/x-ndjson")
	err := h.svc.Infer(ctx, req, writer, flush)
	status := http.StatusOK
	if err != nil {
		if abandoned(r) {
			return
		}
		if cw.n > 0 {
			// Headers are gone; report the failure as a trailing NDJSON line.
			status = statusFor(err)
			b, _ := json.Marshal(types.ErrorResponse{Error: err.Error(), Code: status})
			_, _ = w.Write(append(b, '\n'))
			if flush != nil {
				flush()
			}
		} else {
			status = writeServiceError(w, err)
		}
	}
	if lvl >= LevelInfo || (lvl >= LevelError && err != nil) {
		logger().Info().Int("status", status).Dur("dur", time.Since(start)).Str("request_id", rid).Err(err).Msg("infer end")
	}
}

// countingWriter records whether any stream bytes reached the client.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
