package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/punchamoorthee/payrecon/internal/catalog"
	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/effects"
	"github.com/punchamoorthee/payrecon/internal/gateway"
	"github.com/punchamoorthee/payrecon/internal/models"
	"github.com/punchamoorthee/payrecon/internal/notify"
	"github.com/punchamoorthee/payrecon/internal/service"
	"github.com/punchamoorthee/payrecon/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "jwt-test-secret"

type server struct {
	router http.Handler
	store  *testutil.Store
	gw     *testutil.Gateway
}

func newServer(t *testing.T, jwtSecret string) *server {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	st := testutil.NewStore()
	out := &testutil.Outbox{}
	gw := testutil.NewGateway("paystack")
	reg, err := gateway.NewRegistry("paystack", gw)
	require.NoError(t, err)

	disp := effects.NewDispatcher(effects.Ports{
		Inventory: st, Availability: st, Stats: st, Staff: st, Feed: st, Pusher: out, Mailer: out,
	}, effects.NewMemoryMarkers(), notify.NewRenderer(notify.Contact{}), zap.NewNop())
	eng := service.NewEngine(cat, st, st, disp, zap.NewNop())
	svc := service.NewTransactionService(cat, reg, st, st, disp, eng, service.Options{MaxChecks: 20}, zap.NewNop())

	return &server{
		router: NewRouter(NewHandler(svc, reg, zap.NewNop()), jwtSecret),
		store:  st,
		gw:     gw,
	}
}

func (s *server) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

const gymOrder = `{"amount": 2500, "userId": "u1", "email": "u1@example.com", "userName": "Ada",
	"domainType": "gym_session", "domainMetadata": {"sessionDate": "2025-03-01"}}`

func TestCreateVerifyAndStatus(t *testing.T) {
	s := newServer(t, "")

	rr := s.do(http.MethodPost, "/api/v1/transactions", gymOrder, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created models.CreateTransactionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "G-raw1", created.Reference)
	assert.Equal(t, "https://pay.test/raw1", created.CheckoutURL)

	rr = s.do(http.MethodGet, "/api/v1/transactions/status?reference=G-raw1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var st models.TransactionStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, "pending", st.Status)

	s.gw.SetResult("raw1", "success", decimal.NewFromInt(2500))
	rr = s.do(http.MethodPost, "/api/v1/transactions/verify", `{"reference":"G-raw1"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, "success", st.Status)
	assert.Equal(t, "gym_session", st.TransactionType)
	assert.True(t, decimal.NewFromInt(2500).Equal(st.Amount))
}

func TestCreateRejectsBadBodies(t *testing.T) {
	s := newServer(t, "")

	tests := []struct {
		name string
		body string
		code int
	}{
		{"not json", `{`, http.StatusBadRequest},
		{"missing fields", `{"amount": 10}`, http.StatusBadRequest},
		{"unknown gateway", `{"amount": 10, "userId": "u1", "email": "a@b.c", "domainType": "gym_session", "gateway": "stripe"}`, http.StatusBadRequest},
		{"unknown type", `{"amount": 10, "userId": "u1", "email": "a@b.c", "domainType": "casino"}`, http.StatusUnprocessableEntity},
		{"negative amount", `{"amount": -5, "userId": "u1", "email": "a@b.c", "domainType": "gym_session"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(http.MethodPost, "/api/v1/transactions", tt.body, nil)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
		})
	}
	assert.Empty(t, s.gw.Inits())
}

func TestCreateGatewayFailureIs502(t *testing.T) {
	s := newServer(t, "")
	s.gw.FailInitialize(&domain.GatewayError{Gateway: "paystack", Op: "initialize", Err: errors.New("down")})

	rr := s.do(http.MethodPost, "/api/v1/transactions", gymOrder, nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestStatusNotFound(t *testing.T) {
	s := newServer(t, "")
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/transactions/status?reference=G-none", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/transactions/status", "", nil).Code)
}

func TestBearerAuth(t *testing.T) {
	s := newServer(t, testSecret)

	rr := s.do(http.MethodPost, "/api/v1/transactions", gymOrder, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(http.MethodPost, "/api/v1/transactions", gymOrder, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(http.MethodPost, "/api/v1/transactions", gymOrder, map[string]string{"Authorization": token(t, "someone-else")})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(http.MethodPost, "/api/v1/transactions", gymOrder, map[string]string{"Authorization": token(t, "u1")})
	assert.Equal(t, http.StatusCreated, rr.Code)

	owner := map[string]string{"Authorization": token(t, "u1")}
	stranger := map[string]string{"Authorization": token(t, "someone-else")}

	rr = s.do(http.MethodGet, "/api/v1/transactions/status?reference=G-raw1", "", stranger)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = s.do(http.MethodPost, "/api/v1/transactions/verify", `{"reference":"G-raw1"}`, stranger)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 0, s.gw.Verifies("raw1"), "foreign verify never reaches the gateway")

	rr = s.do(http.MethodGet, "/api/v1/transactions/status?reference=G-raw1", "", owner)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = s.do(http.MethodPost, "/api/v1/transactions/verify", `{"reference":"G-raw1"}`, owner)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, s.gw.Verifies("raw1"))

	// Webhooks authenticate by signature, not bearer token.
	rr = s.do(http.MethodPost, "/webhooks/paystack", `{"reference":"G-raw1","status":"success"}`, map[string]string{"X-Test-Signature": "whsec"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWebhookResponses(t *testing.T) {
	s := newServer(t, "")
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/transactions", gymOrder, nil).Code)

	body := `{"reference":"raw1","status":"success","metadata":{"transactionType":"gym_session"}}`

	rr := s.do(http.MethodPost, "/webhooks/paystack", body, map[string]string{"X-Test-Signature": "forged"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(http.MethodPost, "/webhooks/stripe", body, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	for n := 0; n < 3; n++ {
		rr = s.do(http.MethodPost, "/webhooks/paystack", body, map[string]string{"X-Test-Signature": "whsec"})
		assert.Equal(t, http.StatusOK, rr.Code)
	}
	rec, err := s.store.GetRecord(context.Background(), "service_orders", "G-raw1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, rec.Status)

	// Unknown references are still acknowledged.
	rr = s.do(http.MethodPost, "/webhooks/paystack", `{"reference":"Z-1","status":"success"}`, map[string]string{"X-Test-Signature": "whsec"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealth(t *testing.T) {
	s := newServer(t, testSecret)
	rr := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
