package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"

	"hydrowave/api/internal/logging"
	"hydrowave/api/internal/metrics"
)

const maxJSONBody = 1 << 20

type HTTPServer struct {
	service       *Service
	corsOrigins   []string
	authRateLimit int
}

func NewHTTPServer(service *Service, corsOrigins []string, authRateLimit int) *HTTPServer {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &HTTPServer{service: service, corsOrigins: corsOrigins, authRateLimit: authRateLimit}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(recordMetrics)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/auth", func(r chi.Router) {
		if s.authRateLimit > 0 {
			r.Use(httprate.LimitByIP(s.authRateLimit, time.Minute))
		}
		r.Post("/sign-up", s.handleSignUp)
		r.Post("/sign-in", s.handleSignIn)
		r.Group(func(r chi.Router) {
			r.Use(s.requireIdentity)
			r.Post("/sign-out", s.handleSignOut)
			r.Post("/refresh", s.handleRefresh)
			r.Get("/me", s.handleMe)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Use(s.requireIdentity)
		r.Get("/", s.handleListUsers)
		r.Get("/{userID}", s.handleGetUser)
	})

	r.Route("/reports", func(r chi.Router) {
		r.Get("/", s.handleListReports)
		r.Get("/search", s.handleSearchReports)
		r.With(s.requireIdentity).Post("/", s.handleCreateReport)

		r.Route("/{reportID}", func(r chi.Router) {
			r.Get("/", s.handleGetReport)
			r.Get("/export", s.handleExportReport)
			r.With(s.requireIdentity).Put("/", s.handleUpdateReport)
			r.With(s.requireIdentity).Delete("/", s.handleDeleteReport)

			r.Get("/comments", s.handleListComments)
			r.With(s.requireIdentity).Post("/comments", s.handleCreateComment)
			r.With(s.requireIdentity).Put("/comments/{commentID}", s.handleUpdateComment)
			r.With(s.requireIdentity).Delete("/comments/{commentID}", s.handleDeleteComment)
		})
	})

	r.Route("/geocode", func(r chi.Router) {
		r.Get("/reverse", s.handleReverseGeocode)
		r.Get("/search", s.handleSearchPlaces)
	})

	r.With(s.requireIdentity).Get("/ai/{reportID}", s.handleInsight)

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Readiness(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// requestID reuses a well-formed caller X-Request-ID or generates one, and
// exposes it to the logger through the request context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if !logging.ValidRequestID(id) {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

// recordMetrics labels requests by route pattern so ids do not explode cardinality.
func recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		metrics.TrackActiveRequest(true)
		defer metrics.TrackActiveRequest(false)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordAPIRequest(r.Method, endpoint, strconv.Itoa(status), time.Since(started))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeRawJSON sends an already-encoded JSON document.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// writeServiceError maps err and logs it when it is a server-side fault.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if !errIsClient(err) {
		logging.Ctx(r.Context()).Error().Err(err).Str("code", code).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

var errEmptyBody = errors.New("request body is required")

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func writeBodyError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
}

// pathID parses a positive integer URL parameter; label is the name shown to clients.
func pathID(r *http.Request, param, label string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, validationError(fmt.Sprintf("%s must be a positive integer", label), label)
	}
	return id, nil
}
