package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"traceapi/internal/annotated"
	"traceapi/internal/logging"
	"traceapi/internal/mix"
	"traceapi/internal/services"
	"traceapi/internal/store"
)

// RequestIDHeader carries the correlation id of a request.
const RequestIDHeader = "X-Request-ID"

// UnitService stores raw uploads and annotates them.
type UnitService interface {
	Upload(ctx context.Context, body io.Reader, format string, annotation string) (*store.Unit, error)
	Get(ctx context.Context, id int64) (*store.Unit, error)
	Annotate(ctx context.Context, unitID int64, req annotated.CreateRequest) (*store.AnnotatedUnit, error)
}

// AnnotatedUnitService reads and removes annotated units.
type AnnotatedUnitService interface {
	Get(ctx context.Context, id int64) (*store.AnnotatedUnit, error)
	List(ctx context.Context, page, limit int) ([]*store.AnnotatedUnit, error)
	Delete(ctx context.Context, id int64) error
	Download(ctx context.Context, id int64) (io.ReadCloser, *store.AnnotatedUnit, error)
}

// MixService manages mixes.
type MixService interface {
	Create(ctx context.Context, req mix.CreateRequest) (*store.Mix, error)
	Get(ctx context.Context, id int64) (*store.Mix, error)
	Find(ctx context.Context, q mix.Query) ([]*store.Mix, error)
	Delete(ctx context.Context, id int64) error
}

// GenerationService triggers and tracks mix generation.
type GenerationService interface {
	Generate(ctx context.Context, mixID int64) (*store.Generation, error)
	Status(ctx context.Context, mixID int64) (*store.Generation, error)
	Download(ctx context.Context, mixID int64) (io.ReadCloser, *store.Generation, error)
}

// Services bundles the collaborators behind the routes.
type Services struct {
	Units          UnitService
	AnnotatedUnits AnnotatedUnitService
	Mixes          MixService
	Generations    GenerationService
	// Status reports daemon state for /api/status. Optional.
	Status func(ctx context.Context) DaemonStatus
}

// Server routes HTTP requests to the trace services.
type Server struct {
	services Services
	logger   *slog.Logger
	router   *mux.Router
}

// NewServer builds the router for svc.
func NewServer(svc Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		services: svc,
		logger:   logging.NewComponentLogger(logger, "api"),
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.instrument)

	r.HandleFunc("/unit/upload", s.handleUnitUpload).Methods(http.MethodPost)
	r.HandleFunc("/unit/{id:[0-9]+}", s.handleUnitDetail).Methods(http.MethodGet)

	r.HandleFunc("/annotated_unit/create", s.handleAnnotatedUnitCreate).Methods(http.MethodPost)
	r.HandleFunc("/annotated_unit/find", s.handleAnnotatedUnitFind).Methods(http.MethodGet)
	r.HandleFunc("/annotated_unit/{id:[0-9]+}/detail", s.handleAnnotatedUnitDetail).Methods(http.MethodGet)
	r.HandleFunc("/annotated_unit/{id:[0-9]+}/delete", s.handleAnnotatedUnitDelete).Methods(http.MethodDelete)
	r.HandleFunc("/annotated_unit/{id:[0-9]+}/download", s.handleAnnotatedUnitDownload).Methods(http.MethodGet)

	r.HandleFunc("/mix/create", s.handleMixCreate).Methods(http.MethodPost)
	r.HandleFunc("/mix/find", s.handleMixFind).Methods(http.MethodPost)
	r.HandleFunc("/mix/{id:[0-9]+}/detail", s.handleMixDetail).Methods(http.MethodGet)
	r.HandleFunc("/mix/{id:[0-9]+}/delete", s.handleMixDelete).Methods(http.MethodDelete)
	r.HandleFunc("/mix/{id:[0-9]+}/generate", s.handleMixGenerate).Methods(http.MethodPost)
	r.HandleFunc("/mix/{id:[0-9]+}/generate/status", s.handleMixGenerateStatus).Methods(http.MethodGet)
	r.HandleFunc("/mix/{id:[0-9]+}/download", s.handleMixDownload).Methods(http.MethodGet)

	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeStatus(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument tags the request with a correlation id and records metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		r = r.WithContext(services.WithRequestID(r.Context(), requestID))

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)

		requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		logging.WithContext(r.Context(), s.logger).Debug("http request",
			logging.String("method", r.Method),
			logging.String("route", route),
			logging.Int("status", rec.status),
			logging.Duration("duration", elapsed),
		)
	})
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, services.Wrap(services.ErrValidation, "api", "path", "invalid id "+strconv.Quote(raw), nil)
	}
	return id, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, services.Wrap(services.ErrValidation, "api", "query", key+" must be a non-negative integer", nil)
	}
	return value, nil
}

func (s *Server) streamCapture(w http.ResponseWriter, r *http.Request, rc io.ReadCloser, filename string) {
	defer rc.Close()
	w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logging.WithContext(r.Context(), s.logger).Warn("download interrupted",
			logging.String("file", filename),
			logging.Error(err),
		)
	}
}
