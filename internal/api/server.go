package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/config"
	"github.com/JakeFAU/scholar-crawler/internal/export"
	"github.com/JakeFAU/scholar-crawler/internal/metrics"
	"github.com/JakeFAU/scholar-crawler/internal/pipeline"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

// requestSlack is added to the capture deadline for the HTTP timeout.
const requestSlack = 15 * time.Second

// Capturer runs one capture and waits for its response.
type Capturer interface {
	Submit(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
}

// Exporter builds workbooks from records.
type Exporter interface {
	Export(ctx context.Context, source researcher.Source, records []researcher.Record) (export.Artifact, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Capturer  Capturer
	Store     researcher.Store
	Exporter  Exporter
	Artifacts export.Opener
	Clock     researcher.Clock
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout() + requestSlack))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/author-profile", s.authorProfile)
		r.Get("/records", s.listRecords)
		r.Route("/exports", func(r chi.Router) {
			r.Post("/", s.createExport)
			r.Get("/{handle}", s.downloadExport)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "capturedAt": s.deps.Clock.Now()})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type authorProfileRequest struct {
	Query           string `json:"query"`
	Platforms       string `json:"platforms"`
	Platform        string `json:"platform"`
	ProfileURL      string `json:"profileUrl"`
	ExportArtifact  bool   `json:"exportArtifact"`
	MaxPublications *int   `json:"maxPublications"`
}

func (req authorProfileRequest) toPipeline() (pipeline.Request, error) {
	name := req.Platforms
	if name == "" {
		name = req.Platform
	}
	platform, err := researcher.ParseSource(name)
	if err != nil {
		return pipeline.Request{}, err
	}
	maxPubs := valueOrDefault(req.MaxPublications, researcher.DefaultMaxPublications)
	if maxPubs <= 0 {
		return pipeline.Request{}, fmt.Errorf("%w: maxPublications must be > 0", researcher.ErrInvalidInput)
	}
	return pipeline.Request{
		Platform:        platform,
		Query:           strings.TrimSpace(req.Query),
		ProfileURL:      strings.TrimSpace(req.ProfileURL),
		ExportArtifact:  req.ExportArtifact,
		MaxPublications: maxPubs,
	}, nil
}

func (s *Server) authorProfile(w http.ResponseWriter, r *http.Request) {
	var body authorProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := body.toPipeline()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.deps.Capturer.Submit(r.Context(), req)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		} else if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("capture submit failed", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, captureStatus(resp), resp)
}

// Only malformed input changes the status; every other outcome is carried by the success flag.
func captureStatus(resp pipeline.Response) int {
	if resp.Error != nil && resp.Error.Kind == researcher.KindInvalidInput {
		return http.StatusBadRequest
	}
	return http.StatusOK
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.deps.Store.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("query records failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if records == nil {
		records = []researcher.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "total": len(records)})
}

type exportRequest struct {
	Source string `json:"source"`
	Limit  int    `json:"limit"`
}

func (s *Server) createExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		writeError(w, http.StatusNotImplemented, "exports are not configured")
		return
	}
	var body exportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	filter := researcher.RetainedOnly()
	filter.Limit = body.Limit
	if body.Source != "" {
		src, err := researcher.ParseSource(body.Source)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Source = src
	}
	if filter.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be >= 0")
		return
	}

	records, err := s.deps.Store.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("query records for export failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	artifact, err := s.deps.Exporter.Export(r.Context(), filter.Source, records)
	if err != nil {
		s.logger.Error("export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusCreated, artifact)
}

func (s *Server) downloadExport(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if !export.ValidHandle(handle) {
		writeError(w, http.StatusBadRequest, export.ErrInvalidHandle.Error())
		return
	}
	if s.deps.Artifacts == nil {
		writeError(w, http.StatusNotImplemented, "exports are not configured")
		return
	}
	rc, err := s.deps.Artifacts.Open(r.Context(), handle)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		s.logger.Error("open artifact failed", zap.String("handle", handle), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "artifact unavailable")
		return
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			s.logger.Warn("close artifact", zap.Error(cerr))
		}
	}()
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, handle))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("stream artifact", zap.String("handle", handle), zap.Error(err))
	}
}

func parseFilter(r *http.Request) (researcher.Filter, error) {
	filter := researcher.RetainedOnly()
	q := r.URL.Query()
	if raw := q.Get("source"); raw != "" {
		src, err := researcher.ParseSource(raw)
		if err != nil {
			return researcher.Filter{}, err
		}
		filter.Source = src
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return researcher.Filter{}, fmt.Errorf("%w: limit must be a non-negative integer", researcher.ErrInvalidInput)
		}
		filter.Limit = limit
	}
	return filter, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
