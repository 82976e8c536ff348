package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const flutterwaveName = "flutterwave"

// FlutterwaveOptions selects the API generation and its credentials.
// v3 authenticates with a secret key and signs webhooks with a shared verif-hash.
// v4 authenticates with OAuth2 client credentials and signs webhooks with HMAC-SHA256.
type FlutterwaveOptions struct {
	Version      string
	SecretKey    string
	SecretHash   string
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	Client       *http.Client
}

// Flutterwave talks to the Flutterwave API. Amounts cross the wire in naira.
type Flutterwave struct {
	version    string
	secretKey  string
	secretHash string
	baseURL    string
	client     *http.Client
	newRef     func() string
}

func NewFlutterwave(opts FlutterwaveOptions) *Flutterwave {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Version == "v4" && opts.ClientID != "" {
		cc := &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
		}
		// The token source refreshes ahead of expiry; the base client keeps its timeout.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = cc.Client(ctx)
	}
	return &Flutterwave{
		version:    opts.Version,
		secretKey:  opts.SecretKey,
		secretHash: opts.SecretHash,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		client:     client,
		newRef:     func() string { return "FLW_" + uuid.NewString() },
	}
}

func (f *Flutterwave) Name() string { return flutterwaveName }

func (f *Flutterwave) Version() string { return f.version }

func (f *Flutterwave) SignatureHeader() string {
	if f.version == "v4" {
		return "flutterwave-signature"
	}
	return "verif-hash"
}

type flutterwaveEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type flutterwaveTransaction struct {
	TxRef       string          `json:"tx_ref"`
	Reference   string          `json:"reference"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	CreatedAt   string          `json:"created_at"`
	PaymentType string          `json:"payment_type"`
	Processor   string          `json:"processor_response"`
	Meta        json.RawMessage `json:"meta"`
}

func (t flutterwaveTransaction) ref() string {
	if t.TxRef != "" {
		return t.TxRef
	}
	return t.Reference
}

func (f *Flutterwave) Initialize(ctx context.Context, req InitRequest) (*InitResult, error) {
	if f.version == "v4" {
		return f.initializeV4(ctx, req)
	}

	ref := f.newRef()
	payload := map[string]any{
		"tx_ref":       ref,
		"amount":       req.Amount.StringFixed(2),
		"currency":     "NGN",
		"redirect_url": req.CallbackURL,
		"customer":     map[string]string{"email": req.Email, "name": req.Name},
		"meta":         req.Metadata,
	}
	var env flutterwaveEnvelope
	raw, err := f.post(ctx, "/v3/payments", payload, "initialize", &env)
	if err != nil {
		return nil, err
	}
	var data struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || env.Status != "success" {
		return nil, &domain.GatewayError{Gateway: flutterwaveName, Op: "initialize", Err: fmt.Errorf("unexpected response: %s", env.Message)}
	}
	return &InitResult{Reference: ref, CheckoutURL: data.Link, Raw: raw}, nil
}

func (f *Flutterwave) initializeV4(ctx context.Context, req InitRequest) (*InitResult, error) {
	first, last, _ := strings.Cut(strings.TrimSpace(req.Name), " ")
	if first == "" {
		first = "Customer"
	}
	customer := map[string]any{
		"email": req.Email,
		"name":  map[string]string{"first": first, "last": last},
		"meta":  map[string]any{"user_id": req.Metadata["userId"]},
	}
	var custEnv flutterwaveEnvelope
	if _, err := f.post(ctx, "/customers", customer, "create_customer", &custEnv); err != nil {
		return nil, err
	}
	var cust struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(custEnv.Data, &cust); err != nil || cust.ID == "" {
		return nil, &domain.GatewayError{Gateway: flutterwaveName, Op: "create_customer", Err: fmt.Errorf("response carries no customer id")}
	}

	ref := f.newRef()
	charge := map[string]any{
		"reference":    ref,
		"amount":       req.Amount.StringFixed(2),
		"currency":     "NGN",
		"customer_id":  cust.ID,
		"redirect_url": req.CallbackURL,
		"meta":         req.Metadata,
	}
	var env flutterwaveEnvelope
	raw, err := f.post(ctx, "/charges", charge, "initialize", &env)
	if err != nil {
		return nil, err
	}
	var data struct {
		Link             string `json:"link"`
		AuthorizationURL string `json:"authorization_url"`
		NextAction       struct {
			RedirectURL struct {
				URL string `json:"url"`
			} `json:"redirect_url"`
		} `json:"next_action"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &domain.GatewayError{Gateway: flutterwaveName, Op: "initialize", Err: fmt.Errorf("decode charge: %w", err)}
	}
	link := data.Link
	if link == "" {
		link = data.AuthorizationURL
	}
	if link == "" {
		link = data.NextAction.RedirectURL.URL
	}
	return &InitResult{Reference: ref, CheckoutURL: link, Raw: raw}, nil
}

func (f *Flutterwave) Verify(ctx context.Context, rawRef string) (*VerifyResult, error) {
	var endpoint string
	if f.version == "v4" {
		endpoint = f.baseURL + "/transactions/" + url.PathEscape(rawRef)
	} else {
		endpoint = f.baseURL + "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(rawRef)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.GatewayError{Gateway: flutterwaveName, Op: "verify", Err: err}
	}
	f.authorize(httpReq)

	var env flutterwaveEnvelope
	raw, err := doJSON(f.client, httpReq, flutterwaveName, "verify", &env)
	if err != nil {
		return nil, err
	}
	var tx flutterwaveTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, &domain.GatewayError{Gateway: flutterwaveName, Op: "verify", Err: fmt.Errorf("decode transaction: %w", err)}
	}
	ref := tx.ref()
	if ref == "" {
		ref = rawRef
	}
	return &VerifyResult{
		Reference:       ref,
		Status:          flutterwaveStatus(tx.Status),
		Amount:          tx.Amount,
		PaidAt:          parseTime(tx.CreatedAt),
		Channel:         tx.PaymentType,
		GatewayResponse: tx.Processor,
		Metadata:        decodeMetadata(tx.Meta),
		Raw:             raw,
	}, nil
}

// VerifyWebhookSignature checks the raw body against the configured secret hash.
// v3 sends the shared secret itself; v4 sends base64(HMAC-SHA256(secret, body)).
func (f *Flutterwave) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	if f.secretHash == "" || signature == "" {
		return false
	}
	if f.version != "v4" {
		return subtle.ConstantTimeCompare([]byte(f.secretHash), []byte(signature)) == 1
	}
	mac := hmac.New(sha256.New, []byte(f.secretHash))
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (f *Flutterwave) ExtractEvent(rawBody []byte) (*domain.Event, error) {
	var payload struct {
		Event     string                 `json:"event"`
		Type      string                 `json:"type"`
		EventType string                 `json:"event.type"`
		Data      flutterwaveTransaction `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, &domain.ValidationError{Message: "malformed flutterwave event: " + err.Error()}
	}
	ref := payload.Data.ref()
	if ref == "" {
		return nil, &domain.ValidationError{Field: "data.tx_ref", Message: "missing"}
	}
	eventType := payload.Event
	if eventType == "" {
		eventType = payload.Type
	}
	if eventType == "" {
		eventType = payload.EventType
	}

	return &domain.Event{
		Type:      eventType,
		Reference: ref,
		Status:    flutterwaveStatus(payload.Data.Status),
		Amount:    payload.Data.Amount,
		PaidAt:    parseTime(payload.Data.CreatedAt),
		Channel:   payload.Data.PaymentType,
		Response:  payload.Data.Processor,
		Metadata:  decodeMetadata(payload.Data.Meta),
		Trigger:   domain.TriggerWebhook,
	}, nil
}

func (f *Flutterwave) post(ctx context.Context, path string, payload any, op string, out any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.GatewayError{Gateway: flutterwaveName, Op: op, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.GatewayError{Gateway: flutterwaveName, Op: op, Err: err}
	}
	f.authorize(httpReq)
	if f.version == "v4" {
		httpReq.Header.Set("X-Idempotency-Key", uuid.NewString())
		httpReq.Header.Set("X-Trace-Id", uuid.NewString())
	}
	return doJSON(f.client, httpReq, flutterwaveName, op, out)
}

func (f *Flutterwave) authorize(req *http.Request) {
	// v4 requests carry the OAuth2 bearer from the transport.
	if f.version != "v4" {
		req.Header.Set("Authorization", "Bearer "+f.secretKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

func flutterwaveStatus(s string) string {
	switch strings.ToLower(s) {
	case "successful", "succeeded", "success":
		return "success"
	case "failed":
		return "failed"
	case "cancelled", "canceled", "abandoned":
		return "abandoned"
	default:
		return "pending"
	}
}
