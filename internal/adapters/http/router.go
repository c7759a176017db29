package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Maheswari-23/EVAssist/internal/config"
	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/core/ports"
	"github.com/Maheswari-23/EVAssist/internal/observability/metrics"
)

const (
	serviceName     = "api"
	maxRequestBytes = 1 << 20
)

type Router struct {
	cfg      config.Config
	queryUC  ports.QueryService
	ingestUC ports.IngestionService
	stats    ports.IndexStatsReader
	queue    ports.IngestQueue
	metrics  *metrics.HTTPServerMetrics
	logger   *slog.Logger
	now      func() time.Time
}

type RouterOption func(*Router)

// WithIngestQueue enables asynchronous ingestion triggers.
func WithIngestQueue(queue ports.IngestQueue) RouterOption {
	return func(rt *Router) {
		rt.queue = queue
	}
}

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func NewRouter(
	cfg config.Config,
	queryUC ports.QueryService,
	ingestUC ports.IngestionService,
	stats ports.IndexStatsReader,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:      cfg,
		queryUC:  queryUC,
		ingestUC: ingestUC,
		stats:    stats,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", rt.root)
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/chat", rt.chat)
	mux.HandleFunc("/chat", rt.chat)
	mux.HandleFunc("/v1/ingest", rt.ingest)
	mux.HandleFunc("/ingest", rt.ingest)
	mux.HandleFunc("/v1/index/stats", rt.indexStats)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = corsMiddleware(handler, rt.cfg.CORSOrigin)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return otelhttp.NewHandler(handler, "evassist.http")
}

func (rt *Router) root(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "EVAssist Hybrid RAG Running"})
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invalid json")
		return
	}

	ctx := r.Context()
	if rt.cfg.APIRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.APIRequestTimeout)
		defer cancel()
	}

	start := rt.now()
	answer, err := rt.queryUC.Answer(ctx, req.Query)
	elapsed := rt.now().Sub(start)
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.RecordRAGFailure(serviceName, "chat", errorCode(err), elapsed)
		}
		rt.writeDomainError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordRAGObservation(serviceName, "chat", len(answer.EVs), answer.ReviewSnippets, answer.Degraded, elapsed)
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	async := false
	if raw := r.URL.Query().Get("async"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidInput, "async must be a boolean")
			return
		}
		async = parsed
	}

	if async {
		rt.enqueueIngest(w, r)
		return
	}

	report, err := rt.ingestUC.Ingest(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) enqueueIngest(w http.ResponseWriter, r *http.Request) {
	if rt.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "ingest queue is not configured")
		return
	}

	req := domain.IngestRequest{
		ID:          uuid.NewString(),
		Reason:      "http",
		RequestedAt: rt.now().UTC(),
	}
	if err := rt.queue.PublishIngestRequest(r.Context(), req); err != nil {
		rt.logger.Error("ingest_enqueue_failed",
			"request_id", requestIDFromContext(r.Context()),
			"ingest_request_id", req.ID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "ingest queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"request_id": req.ID,
	})
}

func (rt *Router) indexStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	stats, err := rt.stats.Stats(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeDomainError logs the cause and answers with a stable code. Detail is
// only echoed back for client errors.
func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	code := errorCode(err)

	attrs := []any{
		"request_id", requestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"code", code,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		rt.logger.Error("http_handler_error", attrs...)
		writeError(w, status, code, publicMessage(code))
		return
	}
	rt.logger.Warn("http_handler_error", attrs...)

	message := publicMessage(code)
	if errors.Is(err, domain.ErrInvalidInput) {
		message = err.Error()
	}
	writeError(w, status, code, message)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
