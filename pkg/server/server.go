package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/config"
	"urgent-alert-relay/pkg/handlers"
)

func NewHTTPServer(config *config.Config, handler *handlers.Handler, gatherer prometheus.Gatherer, logger *logrus.Logger) *http.Server {
	return &http.Server{
		Addr:         ":" + config.Port,
		Handler:      NewRouter(handler, gatherer, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func NewRouter(handler *handlers.Handler, gatherer prometheus.Gatherer, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()

	// Push gateway
	router.HandleFunc("/events", handler.PublishEvent).Methods("POST")

	// Alert UI
	router.HandleFunc("/sessions", handler.ListSessions).Methods("GET")
	router.HandleFunc("/sessions/{kind}", handler.GetSession).Methods("GET")
	router.HandleFunc("/sessions/{kind}/accept", handler.Accept).Methods("POST")
	router.HandleFunc("/sessions/{kind}/reject", handler.Reject).Methods("POST")
	router.HandleFunc("/sessions/{kind}/cancel", handler.Cancel).Methods("POST")

	// Host application
	router.HandleFunc("/host/state", handler.HostState).Methods("POST")
	router.HandleFunc("/host/attach", handler.Attach).Methods("POST")
	router.HandleFunc("/host/attach", handler.Detach).Methods("DELETE")
	router.HandleFunc("/handoff/{kind}", handler.Handoff).Methods("GET")

	router.HandleFunc("/health", handler.Health).Methods("GET")
	router.HandleFunc("/status", handler.Status).Methods("GET")

	// Metrics endpoint
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// Add logging middleware
	router.Use(loggingMiddleware(logger))

	return router
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Debug("HTTP request processed")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
