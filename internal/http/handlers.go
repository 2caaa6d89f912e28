package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pagefront/internal/cache"
	"pagefront/internal/config"
	"pagefront/internal/invalidate"
	"pagefront/internal/metrics"
	"pagefront/internal/render"
)

const (
	HeaderCache     = "X-Cache"
	HeaderCacheTags = "X-VS-Cache-Tags"
	HeaderRequestID = "X-Request-Id"

	contentTypeHTML = "text/html; charset=utf-8"

	notReadyBody = `<html><head><meta http-equiv="refresh" content="10"></head>` +
		`<body>Waiting for the renderer to finish building. This page refreshes every 10 seconds.</body></html>`
	errorBody    = `<html><body><h1>500 | Internal Server Error</h1></body></html>`
	notFoundBody = `<html><body><h1>404 | Page Not Found</h1></body></html>`
)

type Handlers struct {
	config      *config.Config
	logger      *zap.Logger
	store       cache.Store
	registry    *render.Registry
	coordinator *render.Coordinator
	invalidator *invalidate.Service
	metrics     *metrics.Metrics
}

func New(
	config *config.Config,
	logger *zap.Logger,
	store cache.Store,
	registry *render.Registry,
	coordinator *render.Coordinator,
	invalidator *invalidate.Service,
	metrics *metrics.Metrics,
) *Handlers {
	return &Handlers{
		config:      config,
		logger:      logger,
		store:       store,
		registry:    registry,
		coordinator: coordinator,
		invalidator: invalidator,
		metrics:     metrics,
	}
}

// Routes builds the request mux. Everything not claimed by a dedicated
// route goes to the page pipeline.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/invalidate", h.HandleInvalidate)
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	if h.config.Server.AssetsDir != "" {
		mux.HandleFunc("/assets/", h.HandleAssets)
	}
	if h.config.Server.MetricsPath != "" {
		mux.Handle(h.config.Server.MetricsPath, h.metrics.Handler())
	}
	mux.HandleFunc("/", h.HandlePage)
	return h.RequestLoggingMiddleware(mux)
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", h.extractIP(r)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.String("cache", wrapped.Header().Get(HeaderCache)),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

// HandlePage serves a page from the output cache or renders it.
func (h *Handlers) HandlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.registry.Ready() {
		h.writeNotReady(w)
		return
	}

	ctx := r.Context()
	if h.config.CacheEnabled() {
		key := cache.PageKey(r.URL.RequestURI())
		entry, err := h.store.Get(ctx, key)
		switch {
		case err == nil:
			h.metrics.CacheLookup("hit")
			w.Header().Set(HeaderCache, "Hit")
			h.writePage(w, r, entry.Body, entry.Tags)
			return
		case errors.Is(err, cache.ErrNotFound):
			h.metrics.CacheLookup("miss")
		default:
			h.metrics.CacheLookup("error")
			h.logger.Warn("Cache lookup failed, rendering", zap.String("key", key), zap.Error(err))
		}
		w.Header().Set(HeaderCache, "Miss")
	}

	res, err := h.coordinator.Render(ctx, r)
	if err != nil {
		h.renderFailed(w, r, err)
		return
	}
	h.writePage(w, r, res.Body, res.Tags)
}

func (h *Handlers) writePage(w http.ResponseWriter, r *http.Request, body string, tags []string) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", contentTypeHTML)
	}
	if h.config.Cache.UseTagging {
		w.Header().Set(HeaderCacheTags, strings.Join(tags, " "))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	w.Write([]byte(body))
}

func (h *Handlers) writeNotReady(w http.ResponseWriter) {
	w.Header().Del(HeaderCache)
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(notReadyBody))
}

func (h *Handlers) renderFailed(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, render.ErrNotReady):
		h.writeNotReady(w)
	case render.IsNotFound(err):
		notFound := h.config.Render.NotFoundRoute
		if notFound == "" || r.URL.Path == notFound {
			// The not-found page itself is missing; redirecting would loop.
			w.Header().Set("Content-Type", contentTypeHTML)
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(notFoundBody))
			return
		}
		http.Redirect(w, r, notFound, http.StatusFound)
	default:
		h.logger.Error("Render failed", zap.String("url", r.URL.RequestURI()), zap.Error(err))
		w.Header().Set("Content-Type", contentTypeHTML)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(errorBody))
	}
}

type apiResponse struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Result  any    `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, code int, body apiResponse) {
	body.Code = code
	if body.Status == "" {
		body.Status = "ok"
		if code >= http.StatusBadRequest {
			body.Status = "error"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// HandleInvalidate serves GET /invalidate?tag=<tag>&key=<key>.
func (h *Handlers) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	res, err := h.invalidator.Invalidate(r.Context(), query.Get("tag"), query.Get("key"))
	switch {
	case err == nil && res.Disabled:
		h.writeJSON(w, http.StatusOK, apiResponse{Result: "Cache invalidation is not required, output cache is disabled"})
	case err == nil:
		h.writeJSON(w, http.StatusOK, apiResponse{Result: res})
	case errors.Is(err, invalidate.ErrUnauthorized):
		h.writeJSON(w, http.StatusInternalServerError, apiResponse{Message: "Invalid cache invalidation key"})
	case errors.Is(err, invalidate.ErrInvalidRequest):
		h.writeJSON(w, http.StatusInternalServerError, apiResponse{Message: "Invalid parameters for Clear cache request"})
	default:
		h.writeJSON(w, http.StatusInternalServerError, apiResponse{Message: "Cache invalidation failed", Result: res})
	}
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleReadyz reports 503 until a renderer is registered. An unreachable
// cache only degrades the answer, since pages are still served uncached.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.registry.Ready() {
		http.Error(w, "renderer not ready", http.StatusServiceUnavailable)
		return
	}
	if err := h.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("degraded: cache unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleAssets serves files below the configured assets directory.
func (h *Handlers) HandleAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	root := filepath.Clean(h.config.Server.AssetsDir)
	rel := strings.TrimPrefix(r.URL.Path, "/assets/")
	filePath := filepath.Join(root, filepath.FromSlash(rel))

	if filePath != root && !strings.HasPrefix(filePath, root+string(filepath.Separator)) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000")
	http.ServeFile(w, r, filePath)
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
