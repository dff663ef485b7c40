package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/config"
	"support-chat-dispatcher/pkg/handlers"
)

// NewHTTPServer mounts the chat socket, the operator API and /metrics.
// The write timeout does not apply to /ws: the socket sets its own
// deadlines after the upgrade.
func NewHTTPServer(config *config.Config, handler *handlers.Handler, socket *handlers.ChatSocket, gatherer prometheus.Gatherer, logger *logrus.Logger) *http.Server {
	return &http.Server{
		Addr:         ":" + config.Port,
		Handler:      NewRouter(handler, socket, gatherer, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func NewRouter(handler *handlers.Handler, socket *handlers.ChatSocket, gatherer prometheus.Gatherer, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()

	// Chat
	router.Handle("/ws", socket).Methods("GET")

	// Operator API
	router.HandleFunc("/handoffs/next", handler.NextHandoff).Methods("POST")
	router.HandleFunc("/handoffs/stats", handler.HandoffStats).Methods("GET")
	router.HandleFunc("/handoffs/{id}", handler.GetHandoff).Methods("GET")
	router.HandleFunc("/messages/{id}/cancel", handler.CancelMessage).Methods("POST")
	router.HandleFunc("/sessions/{id}/cancel", handler.CancelSession).Methods("POST")
	router.HandleFunc("/agents/{agent}/stats", handler.AgentStats).Methods("GET")

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

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Debug("HTTP request processed")
		})
	}
}
