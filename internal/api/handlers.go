package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/gateway"
	"github.com/punchamoorthee/payrecon/internal/models"
	"github.com/punchamoorthee/payrecon/internal/service"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrecon_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payrecon_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "endpoint"})

	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrecon_webhooks_total",
		Help: "Webhook deliveries by gateway and outcome",
	}, []string{"gateway", "outcome"})
)

// Transactions is the service surface the handlers need.
type Transactions interface {
	Create(ctx context.Context, req service.CreateRequest) (*service.CreateResult, error)
	Verify(ctx context.Context, reference string) (*service.StatusView, error)
	Status(ctx context.Context, reference string) (*service.StatusView, error)
	HandleWebhook(ctx context.Context, gatewayName string, rawBody []byte, signature string) error
}

type Handler struct {
	service  Transactions
	gateways *gateway.Registry
	logger   *zap.Logger
}

func NewHandler(svc Transactions, gateways *gateway.Registry, logger *zap.Logger) *Handler {
	return &Handler{service: svc, gateways: gateways, logger: logger.Named("api")}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"}, r.Method, "/health")
}

func (h *Handler) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	body, ok := readBody(w, r, endpoint)
	if !ok {
		return
	}
	if err := validateBody(createTransactionLoader, body); err != nil {
		respondWithServiceError(w, http.StatusBadRequest, err, "POST", endpoint)
		return
	}

	var req models.CreateTransactionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}

	if sub := subjectFrom(r.Context()); sub != "" && sub != req.UserID {
		respondWithError(w, http.StatusForbidden, "userId does not match token subject", "POST", endpoint)
		return
	}

	res, err := h.service.Create(r.Context(), service.CreateRequest{
		Amount:         req.Amount,
		UserID:         req.UserID,
		Email:          req.Email,
		UserName:       req.UserName,
		DomainType:     req.DomainType,
		Gateway:        req.Gateway,
		DomainMetadata: req.DomainMetadata,
	})
	if err != nil {
		h.fail(w, err, "POST", endpoint)
		return
	}

	w.Header().Set("Location", "/api/v1/transactions/status?reference="+res.Reference)
	respondWithJSON(w, http.StatusCreated, models.CreateTransactionResponse{
		Reference:   res.Reference,
		CheckoutURL: res.CheckoutURL,
		Gateway:     res.Gateway,
	}, "POST", endpoint)
}

func (h *Handler) VerifyTransactionHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions/verify"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	body, ok := readBody(w, r, endpoint)
	if !ok {
		return
	}
	if err := validateBody(verifyTransactionLoader, body); err != nil {
		respondWithServiceError(w, http.StatusBadRequest, err, "POST", endpoint)
		return
	}
	var req models.VerifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}

	// Check ownership before reconciling so a foreign reference never
	// reaches the gateway.
	if subjectFrom(r.Context()) != "" {
		current, err := h.service.Status(r.Context(), req.Reference)
		if err != nil {
			h.fail(w, err, "POST", endpoint)
			return
		}
		if !owns(r, current) {
			respondWithError(w, http.StatusNotFound, "Transaction not found", "POST", endpoint)
			return
		}
	}

	view, err := h.service.Verify(r.Context(), req.Reference)
	if err != nil {
		h.fail(w, err, "POST", endpoint)
		return
	}
	respondWithJSON(w, http.StatusOK, statusResponse(view), "POST", endpoint)
}

func (h *Handler) TransactionStatusHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions/status"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	ref := r.URL.Query().Get("reference")
	if ref == "" {
		respondWithError(w, http.StatusBadRequest, "reference query parameter is required", "GET", endpoint)
		return
	}

	view, err := h.service.Status(r.Context(), ref)
	if err != nil {
		h.fail(w, err, "GET", endpoint)
		return
	}
	if !owns(r, view) {
		respondWithError(w, http.StatusNotFound, "Transaction not found", "GET", endpoint)
		return
	}
	respondWithJSON(w, http.StatusOK, statusResponse(view), "GET", endpoint)
}

// WebhookHandler acknowledges every authenticated delivery with 200, even
// when processing fails, so the gateway does not redeliver in a loop. Only a
// bad signature gets a 400.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/webhooks/{gateway}"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	name := mux.Vars(r)["gateway"]
	gw, err := h.gateways.Get(name)
	if err != nil {
		webhooksTotal.WithLabelValues("unknown", "unknown_gateway").Inc()
		respondWithError(w, http.StatusNotFound, "Unknown gateway", "POST", endpoint)
		return
	}

	body, ok := readBody(w, r, endpoint)
	if !ok {
		webhooksTotal.WithLabelValues(gw.Name(), "unreadable").Inc()
		return
	}

	err = h.service.HandleWebhook(r.Context(), gw.Name(), body, r.Header.Get(gw.SignatureHeader()))
	var sigErr *domain.SignatureError
	switch {
	case err == nil:
		webhooksTotal.WithLabelValues(gw.Name(), "processed").Inc()
	case errors.As(err, &sigErr):
		webhooksTotal.WithLabelValues(gw.Name(), "bad_signature").Inc()
		h.logger.Warn("webhook signature rejected", zap.String("gateway", gw.Name()))
		respondWithError(w, http.StatusBadRequest, "Invalid signature", "POST", endpoint)
		return
	default:
		webhooksTotal.WithLabelValues(gw.Name(), "error").Inc()
		h.logger.Error("webhook processing failed", zap.String("gateway", gw.Name()), zap.Error(err))
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "received"}, "POST", endpoint)
}

// fail maps a service error onto a response.
func (h *Handler) fail(w http.ResponseWriter, err error, method, endpoint string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		respondWithServiceError(w, http.StatusUnprocessableEntity, err, method, endpoint)
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Transaction not found", method, endpoint)
	case domain.IsGatewayError(err):
		h.logger.Warn("gateway error", zap.String("endpoint", endpoint), zap.Error(err))
		respondWithError(w, http.StatusBadGateway, "Payment gateway unavailable", method, endpoint)
	default:
		h.logger.Error("request failed", zap.String("endpoint", endpoint), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
	}
}

// owns reports whether the caller may see v. Another user's reference is
// answered like an unknown one.
func owns(r *http.Request, v *service.StatusView) bool {
	sub := subjectFrom(r.Context())
	return sub == "" || sub == v.UserID
}

func readBody(w http.ResponseWriter, r *http.Request, endpoint string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Unreadable request body", r.Method, endpoint)
		return nil, false
	}
	return body, true
}

func statusResponse(v *service.StatusView) models.TransactionStatus {
	return models.TransactionStatus{
		Reference:       v.Reference,
		TransactionType: v.TransactionType,
		Status:          string(v.Status),
		Amount:          v.Amount,
		PaidAt:          v.PaidAt,
		Channel:         v.Channel,
	}
}

// endpointOf labels metrics with the route template rather than the raw path.
func endpointOf(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

func respondWithServiceError(w http.ResponseWriter, code int, err error, method, endpoint string) {
	resp := models.ErrorResponse{Error: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp = models.ErrorResponse{Error: verr.Message, Field: verr.Field}
	}
	respondWithJSON(w, code, resp, method, endpoint)
}

func respondWithError(w http.ResponseWriter, code int, message, method, endpoint string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message}, method, endpoint)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
