package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptoMarginBot/internal/ports"
)

// SetupRoutes wires every endpoint of the admin API onto a router.
func SetupRoutes(h *Handlers, logger ports.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(recoverPanics(logger))
	router.Use(logRequests(logger))

	router.HandleFunc("/health", h.Health).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/trades", h.ListTrades).Methods("GET")
	v1.HandleFunc("/trades", h.OpenTrade).Methods("POST")
	v1.HandleFunc("/trades/{id}", h.GetTrade).Methods("GET")
	v1.HandleFunc("/trades/{id}/close", h.CloseTrade).Methods("POST")
	v1.HandleFunc("/stats", h.GetStats).Methods("GET")

	return router
}

// logRequests emits one debug line per handled request.
func logRequests(logger ports.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logger == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug(r.Context(), "HTTP request", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			})
		})
	}
}

// recoverPanics turns handler panics into 500 responses.
func recoverPanics(logger ports.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if logger != nil {
						logger.Error(r.Context(), fmt.Errorf("panic: %v", v), "Panic in HTTP handler", map[string]interface{}{
							"method": r.Method,
							"path":   r.URL.Path,
						})
					}
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(ErrorResponse{Error: "Internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the status code a handler writes.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
