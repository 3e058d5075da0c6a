// Package api serves the conversion engine over an HTTP JSON API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pario-ai/polyglot/pkg/batch"
	"github.com/pario-ai/polyglot/pkg/lang"
	"github.com/pario-ai/polyglot/pkg/logging"
	"github.com/pario-ai/polyglot/pkg/models"
)

// DefaultMaxBodyBytes caps request bodies when Options leaves it unset.
const DefaultMaxBodyBytes = 16 << 20

// Service is the engine surface the handlers call into.
type Service interface {
	Submit(ctx context.Context, req models.ConversionRequest) (models.ConversionResult, error)
	SubmitBatch(ctx context.Context, reqs []models.ConversionRequest, limit int, timeout time.Duration) (batch.Report, error)
	ProviderStatus() []models.ProviderStatus
	ResetProvider(id string) error
	Stats() models.EngineStats
	CacheStats() models.CacheStats
	ClearCache(expiredOnly bool) (int, error)
	History(ctx context.Context, limit int) ([]models.ConversionRecord, error)
	Settings() models.EngineSettings
	Providers() []models.ProviderDescriptor
}

// Options configures a Server. A zero RateLimit disables throttling and an
// empty AllowedOrigins disables CORS.
type Options struct {
	Listen         string
	MaxBodyBytes   int64
	AllowedOrigins []string
	RateLimit      float64 // requests per second per client
	RateBurst      int
	Logger         *zap.Logger
}

// Server is the HTTP front end.
type Server struct {
	svc    Service
	opts   Options
	logger *zap.Logger
	router chi.Router
}

// New creates a Server with every route registered.
func New(svc Service, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		svc:    svc,
		opts:   opts,
		logger: logging.OrNop(opts.Logger).Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "X-Polyglot-Cache"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(newClientLimiter(opts.RateLimit, opts.RateBurst).middleware)
		}
		r.Use(s.limitBody)

		r.Post("/convert", s.handleConvert)
		r.Post("/convert/batch", s.handleConvertBatch)
		r.Get("/providers", s.handleProviders)
		r.Post("/providers/{id}/reset", s.handleResetProvider)
		r.Get("/stats", s.handleStats)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Delete("/cache", s.handleCacheClear)
		r.Get("/history", s.handleHistory)
		r.Get("/config", s.handleConfig)
		r.Post("/detect-language", s.handleDetectLanguage)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("polyglot api listening", zap.String("addr", s.opts.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req models.ConversionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.svc.Submit(r.Context(), req)
	if err != nil {
		writeConversionError(w, err)
		return
	}
	if res.CacheHit {
		w.Header().Set("X-Polyglot-Cache", "hit")
	} else {
		w.Header().Set("X-Polyglot-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, res)
}

type batchRequest struct {
	Requests       []models.ConversionRequest `json:"requests"`
	MaxConcurrency int                        `json:"max_concurrency"`
	TimeoutSeconds int                        `json:"timeout_seconds"`
}

func (s *Server) handleConvertBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Requests) == 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "requests must not be empty")
		return
	}
	rep, err := s.svc.SubmitBatch(r.Context(), body.Requests, body.MaxConcurrency, time.Duration(body.TimeoutSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, batch.ErrBatchTooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "batch_too_large", err.Error())
			return
		}
		writeConversionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportView(rep))
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.svc.ProviderStatus()})
}

func (s *Server) handleResetProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ResetProvider(chi.URLParam(r, "id")); err != nil {
		writeJSONError(w, http.StatusNotFound, "provider_not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	st := s.svc.CacheStats()
	writeJSON(w, http.StatusOK, struct {
		models.CacheStats
		HitRate float64 `json:"hit_rate"`
	}{st, st.HitRate()})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	expiredOnly, _ := strconv.ParseBool(r.URL.Query().Get("expired"))
	n, err := s.svc.ClearCache(expiredOnly)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "cache_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n, "expired_only": expiredOnly})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	recs, err := s.svc.History(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "history_unavailable", err.Error())
		return
	}
	stats := s.svc.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"conversions":  recs,
		"total_count":  stats.Total,
		"success_rate": stats.SuccessRate,
	})
}

type languageView struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	st := s.svc.Settings()
	langs := make([]languageView, 0, len(st.Languages))
	for _, l := range st.Languages {
		exts := lang.Extensions(l)
		if exts == nil {
			exts = []string{}
		}
		langs = append(langs, languageView{Name: l, Extensions: exts})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"languages":         langs,
		"conversion_styles": st.Styles,
		"providers":         s.svc.Providers(),
		"limits": map[string]any{
			"max_source_bytes":      st.MaxSourceBytes,
			"max_body_bytes":        s.opts.MaxBodyBytes,
			"max_batch_size":        st.MaxBatchSize,
			"max_concurrency":       st.MaxConcurrency,
			"call_timeout_seconds":  st.CallTimeout.Seconds(),
			"batch_timeout_seconds": st.BatchTimeout.Seconds(),
		},
		"features": map[string]bool{
			"batch_conversion": true,
			"cache":            st.CacheEnabled,
			"history":          st.HistoryEnabled,
		},
	})
}

type detectRequest struct {
	Code     string `json:"code"`
	Filename string `json:"filename"`
}

func (s *Server) handleDetectLanguage(w http.ResponseWriter, r *http.Request) {
	var body detectRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Code) == "" && body.Filename == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "code or filename is required")
		return
	}
	d := lang.Detect(body.Code, body.Filename)
	writeJSON(w, http.StatusOK, struct {
		lang.Detection
		Supported bool `json:"supported"`
	}{d, d.Language != "" && slices.Contains(s.svc.Settings().Languages, d.Language)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	statuses := s.svc.ProviderStatus()
	available := 0
	for _, st := range statuses {
		if st.Enabled && !st.CircuitOpen && st.QuotaRemaining() != 0 {
			available++
		}
	}
	status, code := "ok", http.StatusOK
	if available == 0 {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":              status,
		"providers":           len(statuses),
		"available_providers": available,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
