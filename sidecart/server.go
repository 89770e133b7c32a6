package sidecart

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"net/http"
	"time"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Pinger verifies database connectivity.
type Pinger interface {
	TestConnection(ctx context.Context) error
}

type healthHandler struct {
	db     Pinger
	logger *zap.Logger
}

// NewRouter builds the optional HTTP surface: /ping, /healthz and /metrics.
func NewRouter(db Pinger, metrics *Metrics, logger *zap.Logger) http.Handler {
	h := &healthHandler{db: db, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/ping"))

	router.Get("/healthz", h.health)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	return router
}

// health answers 200 when SELECT 1 succeeds and 503 otherwise.
func (h *healthHandler) health(w http.ResponseWriter, req *http.Request) {
	status, body := http.StatusOK, map[string]string{"status": "healthy"}
	if err := h.db.TestConnection(req.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		status, body = http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// serve runs an HTTP server on addr until ctx is done.
func serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("http server stopped")
	return nil
}
