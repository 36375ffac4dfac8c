// Package httpapi is the thin REST binding over command.Service: one
// handler file, no auth, no request validation middleware. Nine thin
// RPC-style endpoints don't need an API framework on top of chi.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ataxco/contentforge/internal/command"
	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/platform/logger"
)

// NewRouter builds the full chi router: health endpoints plus one route
// per command.Service operation.
func NewRouter(svc *command.Service, log *logger.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(log))
	r.Use(recoverMiddleware(log))

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleHealthz)

	h := &handlers{svc: svc}
	r.Route("/v1/episodes/{episodeID}", func(r chi.Router) {
		r.Post("/trigger", h.trigger)
		r.Post("/advance", h.advance)
		r.Post("/run-stage-1", h.runStage1)
		r.Post("/run-full", h.runFull)
		r.Post("/run-from-stage", h.runFromStage)
		r.Post("/cancel", h.cancelEpisode)
		r.Get("/status", h.pipelineStatus)
	})
	r.Route("/v1/jobs/{jobID}", func(r chi.Router) {
		r.Post("/cancel", h.cancelJob)
		r.Post("/retry", h.retryJob)
	})
	return r
}

type handlers struct {
	svc *command.Service
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type triggerRequest struct {
	Stage string `json:"stage"`
	Force bool   `json:"force"`
}

func (h *handlers) trigger(w http.ResponseWriter, r *http.Request) {
	episodeID, ok := pathUUID(w, r, "episodeID")
	if !ok {
		return
	}
	var req triggerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := h.svc.Trigger(dbctx.New(r.Context()), episodeID, domain.StageName(strings.TrimSpace(req.Stage)), req.Force)
	writeResult(w, job, err)
}

func (h *handlers) advance(w http.ResponseWriter, r *http.Request) {
	episodeID, ok := pathUUID(w, r, "episodeID")
	if !ok {
		return
	}
	job, err := h.svc.Advance(dbctx.New(r.Context()), episodeID)
	writeResult(w, job, err)
}

func (h *handlers) runStage1(w http.ResponseWriter, r *http.Request) {
	episodeID, ok := pathUUID(w, r, "episodeID")
	if !ok {
		return
	}
	job, err := h.svc.RunStage1(dbctx.New(r.Context()), episodeID)
	writeResult(w, job, err)
}

func (h *handlers) runFull(w http.ResponseWriter, r *http.Request) {
	episodeID, ok := pathUUID(w, r, "episodeID")
	if !ok {
		return
	}
	job, err := h.svc.RunFull(dbctx.New(r.Context()), episodeID)
	writeResult(w, job, err)
}

type runFromStageRequest struct {
	Start string   `json:"start"`
	Skip  []string `json:"skip"`
}

func (h *handlers) runFromStage(w http.ResponseWriter, r *http.Request) {
	episodeID, ok := pathUUID(w, r, "episodeID")
	if !ok {
		return
	}
	var req runFromStageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	skip := make([]domain.StageName, len(req.Skip))
	for i, s := range req.Skip {
		skip[i] = domain.StageName(s)
	}
	job, err := h.svc.RunFromStage(dbctx.New(r.Context()), episodeID, domain.StageName(strings.TrimSpace(req.Start)), skip)
	writeResult(w, job, err)
}

func (h *handlers) cancelEpisode(w http.ResponseWriter, r *http.Request) {
	episodeID, ok := pathUUID(w, r, "episodeID")
	if !ok {
		return
	}
	count, err := h.svc.Cancel(dbctx.New(r.Context()), episodeID)
	writeResult(w, map[string]any{"status": "cancelled", "cancelled_job_count": count}, err)
}

func (h *handlers) pipelineStatus(w http.ResponseWriter, r *http.Request) {
	episodeID, ok := pathUUID(w, r, "episodeID")
	if !ok {
		return
	}
	status, err := h.svc.PipelineStatus(dbctx.New(r.Context()), episodeID)
	writeResult(w, status, err)
}

func (h *handlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	err := h.svc.JobCancel(dbctx.New(r.Context()), jobID)
	writeResult(w, map[string]string{"status": "cancelled"}, err)
}

func (h *handlers) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "jobID")
	if !ok {
		return
	}
	err := h.svc.JobRetry(dbctx.New(r.Context()), jobID)
	writeResult(w, map[string]string{"status": "queued"}, err)
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return uuid.UUID{}, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func writeResult(w http.ResponseWriter, body any, err error) {
	if err != nil {
		writeError(w, statusForKind(corerr.KindOf(err)), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

func statusForKind(k corerr.Kind) int {
	switch k {
	case corerr.KindValidation:
		return http.StatusBadRequest
	case corerr.KindNotFound:
		return http.StatusNotFound
	case corerr.KindConflict:
		return http.StatusConflict
	case corerr.KindRateLimited:
		return http.StatusTooManyRequests
	case corerr.KindExternalService, corerr.KindStorageError:
		return http.StatusBadGateway
	case corerr.KindPipeline:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": message}})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func accessLogMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			log.Info("http request", "method", r.Method, "path", r.URL.Path, "status", sw.status, "duration_ms", time.Since(start).Milliseconds())
		})
	}
}

func recoverMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered", "panic", rec, "stack", string(debug.Stack()))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
