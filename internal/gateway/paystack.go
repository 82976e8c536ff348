package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/punchamoorthee/payrecon/internal/domain"
)

const paystackName = "paystack"

// Paystack talks to the Paystack transaction API. Amounts cross the wire in kobo.
type Paystack struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

func NewPaystack(secretKey, baseURL string, client *http.Client) *Paystack {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Paystack{
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
	}
}

func (p *Paystack) Name() string { return paystackName }

func (p *Paystack) SignatureHeader() string { return "X-Paystack-Signature" }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackTransaction struct {
	Reference       string          `json:"reference"`
	Status          string          `json:"status"`
	Amount          int64           `json:"amount"`
	PaidAt          string          `json:"paid_at"`
	CreatedAt       string          `json:"created_at"`
	Channel         string          `json:"channel"`
	Currency        string          `json:"currency"`
	GatewayResponse string          `json:"gateway_response"`
	Metadata        json.RawMessage `json:"metadata"`
}

func (p *Paystack) Initialize(ctx context.Context, req InitRequest) (*InitResult, error) {
	payload := map[string]any{
		"email":    req.Email,
		"amount":   ToMinor(req.Amount),
		"currency": "NGN",
		"metadata": req.Metadata,
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.GatewayError{Gateway: paystackName, Op: "initialize", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.GatewayError{Gateway: paystackName, Op: "initialize", Err: err}
	}
	p.authorize(httpReq)

	var env paystackEnvelope
	raw, err := doJSON(p.client, httpReq, paystackName, "initialize", &env)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, &domain.GatewayError{Gateway: paystackName, Op: "initialize", Err: errors.New(env.Message)}
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Reference == "" {
		return nil, &domain.GatewayError{Gateway: paystackName, Op: "initialize", Err: fmt.Errorf("response carries no reference")}
	}
	return &InitResult{Reference: data.Reference, CheckoutURL: data.AuthorizationURL, Raw: raw}, nil
}

func (p *Paystack) Verify(ctx context.Context, rawRef string) (*VerifyResult, error) {
	endpoint := p.baseURL + "/transaction/verify/" + url.PathEscape(rawRef)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.GatewayError{Gateway: paystackName, Op: "verify", Err: err}
	}
	p.authorize(httpReq)

	var env paystackEnvelope
	raw, err := doJSON(p.client, httpReq, paystackName, "verify", &env)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, &domain.GatewayError{Gateway: paystackName, Op: "verify", Err: errors.New(env.Message)}
	}

	var tx paystackTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, &domain.GatewayError{Gateway: paystackName, Op: "verify", Err: fmt.Errorf("decode transaction: %w", err)}
	}
	paidAt := parseTime(tx.PaidAt)
	if paidAt == nil {
		paidAt = parseTime(tx.CreatedAt)
	}
	return &VerifyResult{
		Reference:       tx.Reference,
		Status:          paystackStatus(tx.Status),
		Amount:          FromMinor(tx.Amount),
		PaidAt:          paidAt,
		Channel:         tx.Channel,
		GatewayResponse: tx.GatewayResponse,
		Metadata:        decodeMetadata(tx.Metadata),
		Raw:             raw,
	}, nil
}

// VerifyWebhookSignature compares HMAC-SHA512(secret, rawBody) in hex with signature.
func (p *Paystack) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	if p.secretKey == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func (p *Paystack) ExtractEvent(rawBody []byte) (*domain.Event, error) {
	var payload struct {
		Event string              `json:"event"`
		Data  paystackTransaction `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, &domain.ValidationError{Message: "malformed paystack event: " + err.Error()}
	}
	if payload.Data.Reference == "" {
		return nil, &domain.ValidationError{Field: "data.reference", Message: "missing"}
	}

	status := payload.Event
	switch payload.Event {
	case "charge.success":
		// Paystack can announce charge.success for a charge that has not settled.
		status = paystackStatus(payload.Data.Status)
	case "charge.failed", "charge.failure":
		status = "failed"
	case "charge.abandoned":
		status = "abandoned"
	}

	return &domain.Event{
		Type:      payload.Event,
		Reference: payload.Data.Reference,
		Status:    status,
		Amount:    FromMinor(payload.Data.Amount),
		PaidAt:    parseTime(payload.Data.PaidAt),
		Channel:   payload.Data.Channel,
		Response:  payload.Data.GatewayResponse,
		Metadata:  decodeMetadata(payload.Data.Metadata),
		Trigger:   domain.TriggerWebhook,
	}, nil
}

func (p *Paystack) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")
}

func paystackStatus(s string) string {
	switch s {
	case "success":
		return "success"
	case "failed", "reversed":
		return "failed"
	case "abandoned":
		return "abandoned"
	default:
		return "pending"
	}
}
