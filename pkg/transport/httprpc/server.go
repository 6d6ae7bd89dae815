// Package httprpc adapts the dispatcher to HTTP: POST /{interface}/{method}
// with a JSON body invokes the route, claims come from the bearer token, and
// failures map onto the dispatcher's failure taxonomy.
package httprpc

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shazaibn/nanobus/pkg/authorize"
	"github.com/shazaibn/nanobus/pkg/domain"
	"github.com/shazaibn/nanobus/pkg/engine"
)

const maxBodyBytes = 8 << 20

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanobus_http_requests_total",
		Help: "HTTP invocations partitioned by route and status.",
	}, []string{"interface", "method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nanobus_http_request_duration_seconds",
		Help:    "HTTP invocation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"interface", "method"})
)

// Config holds the transport's settings.
type Config struct {
	// Secret enables bearer token verification when non-empty.
	Secret string
	Logger *slog.Logger
}

// Server exposes a Dispatcher over HTTP.
type Server struct {
	dispatcher *engine.Dispatcher
	logger     *slog.Logger
	secret     string
	handler    http.Handler
}

// NewServer builds the HTTP adapter around the dispatcher.
func NewServer(dispatcher *engine.Dispatcher, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		dispatcher: dispatcher,
		logger:     logger,
		secret:     cfg.Secret,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/{interface}/{method}", s.handleInvoke)

	s.handler = otelhttp.NewHandler(r, "nanobus.http")
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	interfaceName := chi.URLParam(r, "interface")
	methodName := chi.URLParam(r, "method")
	start := time.Now()

	claims, err := s.claimsFromRequest(r)
	if err != nil {
		s.logger.Warn("bearer token rejected", "error", err)
		s.writeError(w, interfaceName, methodName, http.StatusUnauthorized, map[string]any{
			"type":   "Unauthenticated",
			"code":   "unauthenticated",
			"status": http.StatusUnauthorized,
		})
		return
	}

	var input any
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, interfaceName, methodName, http.StatusBadRequest, map[string]any{
			"type":   "BadRequest",
			"code":   "bad_request",
			"status": http.StatusBadRequest,
		})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			s.writeError(w, interfaceName, methodName, http.StatusBadRequest, map[string]any{
				"type":   "BadRequest",
				"code":   "bad_request",
				"status": http.StatusBadRequest,
			})
			return
		}
	}

	value, err := s.dispatcher.Handle(r.Context(), interfaceName, methodName, claims, input)
	if err != nil {
		s.writeFailure(w, interfaceName, methodName, err)
		requestDuration.WithLabelValues(interfaceName, methodName).Observe(time.Since(start).Seconds())
		return
	}

	requestsTotal.WithLabelValues(interfaceName, methodName, "200").Inc()
	requestDuration.WithLabelValues(interfaceName, methodName).Observe(time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, value)
}

// writeFailure renders a dispatcher error. Denials carry their own stable
// serialized shape; everything else renders the generic failure envelope.
func (s *Server) writeFailure(w http.ResponseWriter, interfaceName, methodName string, err error) {
	var denial *authorize.Denial
	if errors.As(err, &denial) {
		s.writeError(w, interfaceName, methodName, denial.Status, denial)
		return
	}

	kind := domain.KindOf(err)
	status := domain.StatusOf(kind)

	payload := map[string]any{
		"code":   string(kind),
		"status": status,
	}
	// Route lookups leak nothing; evaluation and unit errors carry their
	// message so callers can fix their pipelines.
	if kind != domain.KindInternal {
		payload["message"] = err.Error()
	}

	s.writeError(w, interfaceName, methodName, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, interfaceName, methodName string, status int, payload any) {
	requestsTotal.WithLabelValues(interfaceName, methodName, strconv.Itoa(status)).Inc()
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		_, _ = w.Write([]byte("null"))
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
