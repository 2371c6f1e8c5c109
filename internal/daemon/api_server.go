package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"multitalk/internal/config"
	"multitalk/internal/logging"
	"multitalk/internal/services"
)

const maxWebhookBytes = 1 << 20

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		token:  cfg.Paths.APIToken,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.HandlerFunc { return authMiddleware(s.token, h) }

	s.handle(mux, "POST /api/jobs", "submit", auth(s.handleSubmit))
	s.handle(mux, "GET /api/jobs/{id}", "job", auth(s.handleGetJob))
	s.handle(mux, "POST /api/jobs/{id}/result", "worker_result", callbackMiddleware(s.token, s.handleWorkerResult))
	s.handle(mux, "GET /api/accounts/{id}", "account", auth(s.handleAccount))
	s.handle(mux, "GET /api/accounts/{id}/jobs", "account_jobs", auth(s.handleAccountJobs))
	s.handle(mux, "POST /api/billing/checkout", "checkout", auth(s.handleCheckout))
	s.handle(mux, "POST /api/billing/webhook/paddle", "webhook_paddle", s.handlePaddleWebhook)
	s.handle(mux, "POST /api/billing/webhook/stripe", "webhook_stripe", s.handleStripeWebhook)
	s.handle(mux, "GET /api/health", "health", auth(s.handleHealth))
	if m := s.daemon.comps.Metrics; m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	return mux
}

// handle registers h under pattern with request-id propagation and metrics.
func (s *apiServer) handle(mux *http.ServeMux, pattern, route string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(services.WithRequestID(r.Context(), requestID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rec, r)

		s.daemon.comps.Metrics.HTTPRequest(route, rec.status)
		s.log(r.Context()).Debug("api request",
			logging.String("route", route),
			logging.Int("status", rec.status),
			logging.Duration("duration", time.Since(start)),
		)
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps a taxonomy error to its HTTP status.
func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	resp := errorResponse{Error: err.Error(), Kind: string(services.Kind(err))}
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if status >= http.StatusInternalServerError {
		s.log(r.Context()).Warn("request failed",
			logging.String(logging.FieldEventType, "api_request_failed"),
			logging.String(logging.FieldErrorHint, "inspect the wrapped error for the failing component"),
			logging.String(logging.FieldImpact, "client received a server error"),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, resp)
}

func (s *apiServer) log(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, s.logger)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
