// Package gateway adapts third-party card payment APIs to one shape.
// Adapters never panic or leak transport details past this boundary; every
// upstream failure comes back as a *domain.GatewayError.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/shopspring/decimal"
)

// InitRequest starts a checkout. Amount is in major units (naira).
type InitRequest struct {
	Email       string
	Name        string
	Amount      decimal.Decimal
	Metadata    map[string]any
	CallbackURL string
}

// InitResult is the gateway's answer to a checkout request.
type InitResult struct {
	Reference   string
	CheckoutURL string
	Raw         json.RawMessage
}

// VerifyResult is a normalized transaction lookup. Status is one of
// pending, success, failed, abandoned.
type VerifyResult struct {
	Reference       string
	Status          string
	Amount          decimal.Decimal
	PaidAt          *time.Time
	Channel         string
	GatewayResponse string
	Metadata        map[string]any
	Raw             json.RawMessage
}

// Gateway is one payment provider.
type Gateway interface {
	Name() string
	Initialize(ctx context.Context, req InitRequest) (*InitResult, error)
	Verify(ctx context.Context, rawRef string) (*VerifyResult, error)
	// SignatureHeader names the request header carrying the webhook signature.
	SignatureHeader() string
	// VerifyWebhookSignature checks signature against the verbatim request body.
	VerifyWebhookSignature(rawBody []byte, signature string) bool
	ExtractEvent(rawBody []byte) (*domain.Event, error)
}

// Registry holds the configured gateways by name.
type Registry struct {
	byName map[string]Gateway
	def    string
}

func NewRegistry(defaultName string, gateways ...Gateway) (*Registry, error) {
	r := &Registry{byName: make(map[string]Gateway, len(gateways)), def: defaultName}
	for _, g := range gateways {
		r.byName[g.Name()] = g
	}
	if _, ok := r.byName[defaultName]; !ok {
		return nil, fmt.Errorf("default gateway %q is not configured", defaultName)
	}
	return r, nil
}

// Get returns the named gateway; an empty name selects the default.
func (r *Registry) Get(name string) (Gateway, error) {
	if name == "" {
		name = r.def
	}
	g, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown gateway %q", name)
	}
	return g, nil
}

func (r *Registry) Default() Gateway {
	return r.byName[r.def]
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ToMinor converts naira to kobo, rounding half away from zero.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinor converts kobo to naira.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// decodeMetadata accepts an object, a JSON-encoded object string, or nothing.
func decodeMetadata(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		if err := json.Unmarshal([]byte(s), &m); err == nil {
			return m
		}
	}
	return nil
}

// doJSON performs req and decodes a JSON body into out. Non-2xx responses are
// returned as *domain.GatewayError carrying the upstream message when present.
func doJSON(client *http.Client, req *http.Request, gw, op string, out any) (json.RawMessage, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &domain.GatewayError{Gateway: gw, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.GatewayError{Gateway: gw, Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &msg)
		if msg.Message == "" {
			msg.Message = http.StatusText(resp.StatusCode)
		}
		return body, &domain.GatewayError{Gateway: gw, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", msg.Message)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return body, &domain.GatewayError{Gateway: gw, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return body, nil
}
