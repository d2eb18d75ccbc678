// Package server provides the HTTP API for discovery.
package server

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/logflow/dfgflow/pkg/cache"
	"github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/parser"
	"github.com/logflow/dfgflow/pkg/pipeline"
	"github.com/logflow/dfgflow/pkg/telemetry"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Config holds server settings.
type Config struct {
	Addr string

	// RateLimit is requests per second across all clients; 0 disables limiting.
	RateLimit float64
	Burst     int

	// MaxUploadSize caps request bodies in bytes.
	MaxUploadSize int64

	// Write controls rendering of /api/render responses.
	Write pipeline.WriteOptions
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:          ":8080",
		RateLimit:     10,
		Burst:         20,
		MaxUploadSize: 256 << 20,
	}
}

// Server handles HTTP requests.
type Server struct {
	cfg      Config
	defaults pipeline.Config
	cache    cache.Cache
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	limiter  *rate.Limiter
	mux      *http.ServeMux
}

// New creates a server. defaults seeds every request's run settings; query
// parameters override them per request.
func New(cfg Config, defaults pipeline.Config, c cache.Cache, metrics *telemetry.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultConfig().MaxUploadSize
	}

	s := &Server{
		cfg:      cfg,
		defaults: defaults,
		cache:    c,
		metrics:  metrics,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("POST /api/discover", s.instrument("discover", s.handleDiscover))
	s.mux.Handle("POST /api/render", s.instrument("render", s.handleRender))
	s.mux.Handle("GET /api/health", s.instrument("health", s.handleHealth))
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", id)
	s.mux.ServeHTTP(w, r)
}

// HTTPServer returns an http.Server for callers that manage shutdown.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument applies rate limiting, request metrics and access logging.
func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if s.limiter != nil && route != "health" && !s.limiter.Allow() {
			s.metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", "1")
			jsonError(rec, "rate limit exceeded", "", http.StatusTooManyRequests)
		} else {
			h(rec, r)
		}

		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.logger.Info("request",
			zap.String("id", w.Header().Get("X-Request-ID")),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	maxEdges, err := maxEdgesParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	out, ok := s.run(w, r)
	if !ok {
		return
	}
	if maxEdges > 0 {
		out.Result = out.Result.TopEdges(maxEdges)
	}

	var buf bytes.Buffer
	if err := pipeline.Write(r.Context(), &buf, pipeline.ArtifactJSON, out, s.cfg.Write); err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", cacheHeader(out.Cached))
	w.Write(buf.Bytes())
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	artifact, err := pipeline.ArtifactFor("", r.URL.Query().Get("output"), pipeline.ArtifactSVG)
	if err != nil || artifact == pipeline.ArtifactJSON || artifact == pipeline.ArtifactParquet {
		jsonError(w, "output must be one of dot, svg, png, pdf", string(errors.CodeUnsupportedFormat), http.StatusBadRequest)
		return
	}
	maxEdges, err := maxEdgesParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	out, ok := s.run(w, r)
	if !ok {
		return
	}

	opts := s.cfg.Write
	if maxEdges > 0 {
		opts.MaxEdges = maxEdges
	}

	var buf bytes.Buffer
	if err := pipeline.Write(r.Context(), &buf, artifact, out, opts); err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", artifact.ContentType())
	w.Header().Set("X-Cache", cacheHeader(out.Cached))
	w.Write(buf.Bytes())
}

// maxEdgesParam reads the max_edges query parameter; 0 keeps every edge.
func maxEdgesParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("max_edges")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Newf(errors.CodeInvalidFormat, "max_edges must be a non-negative integer, got %q", v)
	}
	return n, nil
}

// run reads the body and discovers it with per-request settings. On failure
// the response has been written and ok is false.
func (s *Server) run(w http.ResponseWriter, r *http.Request) (*pipeline.Output, bool) {
	cfg, name, err := s.requestConfig(r)
	if err != nil {
		s.fail(w, err)
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			jsonError(w, "request body too large", "", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		jsonError(w, "failed to read request body", "", http.StatusBadRequest)
		return nil, false
	}
	if len(body) == 0 {
		jsonError(w, "request body is empty", string(errors.CodeInvalidFormat), http.StatusBadRequest)
		return nil, false
	}

	opts := []pipeline.Option{pipeline.WithMetrics(s.metrics), pipeline.WithLogger(s.logger)}
	if s.cache != nil {
		opts = append(opts, pipeline.WithCache(s.cache))
	}
	out, err := pipeline.New(cfg, opts...).Run(r.Context(), pipeline.Source{Name: name, Data: body})
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return out, true
}

// requestConfig overlays query parameters on the server defaults and
// returns a synthetic file name carrying the input format.
func (s *Server) requestConfig(r *http.Request) (pipeline.Config, string, error) {
	cfg := s.defaults
	q := r.URL.Query()

	format := q.Get("format")
	if format == "" {
		format = "csv"
	}
	if parser.ParseFormat(format) == parser.FormatUnknown {
		return cfg, "", errors.Newf(errors.CodeUnsupportedFormat, "unsupported input format %q", format)
	}
	cfg.Format = format
	name := "upload." + format
	if r.Header.Get("Content-Encoding") == "gzip" {
		name += ".gz"
	}

	for param, dst := range map[string]*string{
		"case_id":          &cfg.Parser.CaseIDColumn,
		"activity":         &cfg.Parser.ActivityColumn,
		"timestamp":        &cfg.Parser.TimestampColumn,
		"resource":         &cfg.Parser.ResourceColumn,
		"timestamp_format": &cfg.Parser.TimestampFormat,
	} {
		if v := q.Get(param); v != "" {
			*dst = v
		}
	}
	if v := q.Get("delimiter"); v != "" {
		if len(v) != 1 {
			return cfg, "", errors.New(errors.CodeInvalidFormat, "delimiter must be a single byte")
		}
		cfg.Parser.Delimiter = v[0]
	}
	if v := q.Get("error_policy"); v != "" {
		cfg.Parser.ErrorPolicy = parser.ParseErrorPolicy(v)
	}
	if v := q.Get("engine"); v != "" {
		engine, err := pipeline.ParseEngine(v)
		if err != nil {
			return cfg, "", err
		}
		cfg.Engine = engine
	}
	if v := q.Get("performance"); v != "" {
		perf, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, "", errors.New(errors.CodeInvalidFormat, "performance must be a boolean")
		}
		cfg.Performance = perf
	}
	return cfg, name, nil
}

// fail maps a coded error onto an HTTP status.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", zap.Error(err))
	}
	if errors.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	jsonError(w, err.Error(), string(errors.GetCode(err)), status)
}

// StatusFor returns the HTTP status for an error code. Retryable errors
// are 503 so clients back off and try again.
func StatusFor(err error) int {
	if errors.IsRetryable(err) {
		return http.StatusServiceUnavailable
	}
	switch errors.GetCode(err) {
	case errors.CodeInvalidInput:
		return http.StatusUnprocessableEntity
	case errors.CodeUnsupportedFormat, errors.CodeInvalidFormat, errors.CodeMissingColumn,
		errors.CodeInvalidTimestamp, errors.CodeEncodingError, errors.CodeParseFailed:
		return http.StatusBadRequest
	case errors.CodeContextCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func cacheHeader(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// Helper functions

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message, code string, status int) {
	body := map[string]string{"error": message}
	if code != "" {
		body["code"] = code
	}
	jsonResponse(w, status, body)
}
