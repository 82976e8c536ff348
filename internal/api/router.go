package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the public routes. Client endpoints require a bearer token
// when jwtSecret is set; webhooks authenticate by signature instead.
func NewRouter(h *Handler, jwtSecret string) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	r.HandleFunc("/webhooks/{gateway}", h.WebhookHandler).Methods(http.MethodPost)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	if jwtSecret != "" {
		apiV1.Use(RequireBearer([]byte(jwtSecret)))
	}
	apiV1.HandleFunc("/transactions", h.CreateTransactionHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/transactions/verify", h.VerifyTransactionHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/transactions/status", h.TransactionStatusHandler).Methods(http.MethodGet)

	return r
}
