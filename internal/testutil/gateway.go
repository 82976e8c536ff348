package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/punchamoorthee/payrecon/internal/gateway"
	"github.com/shopspring/decimal"
)

// Gateway is a scriptable gateway. Webhook bodies are domain.Event JSON and
// the signature is valid when it equals Secret.
type Gateway struct {
	GatewayName string
	Secret      string

	mu       sync.Mutex
	nextRef  int
	results  map[string]*gateway.VerifyResult
	verifyFn func(ctx context.Context, rawRef string) (*gateway.VerifyResult, error)
	initErr  error
	verifies map[string]int
	inits    []gateway.InitRequest
}

func NewGateway(name string) *Gateway {
	return &Gateway{
		GatewayName: name,
		Secret:      "whsec",
		results:     make(map[string]*gateway.VerifyResult),
		verifies:    make(map[string]int),
	}
}

func (g *Gateway) Name() string { return g.GatewayName }

func (g *Gateway) SignatureHeader() string { return "X-Test-Signature" }

func (g *Gateway) Initialize(_ context.Context, req gateway.InitRequest) (*gateway.InitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return nil, g.initErr
	}
	g.nextRef++
	g.inits = append(g.inits, req)
	ref := fmt.Sprintf("raw%d", g.nextRef)
	return &gateway.InitResult{Reference: ref, CheckoutURL: "https://pay.test/" + ref}, nil
}

// FailInitialize makes every Initialize return err.
func (g *Gateway) FailInitialize(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initErr = err
}

// Inits returns the Initialize requests received so far.
func (g *Gateway) Inits() []gateway.InitRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.InitRequest(nil), g.inits...)
}

// SetResult scripts the Verify answer for rawRef.
func (g *Gateway) SetResult(rawRef, status string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[rawRef] = &gateway.VerifyResult{Reference: rawRef, Status: status, Amount: amount, Channel: "card"}
}

// SetVerifyFunc overrides Verify entirely.
func (g *Gateway) SetVerifyFunc(fn func(ctx context.Context, rawRef string) (*gateway.VerifyResult, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyFn = fn
}

func (g *Gateway) Verify(ctx context.Context, rawRef string) (*gateway.VerifyResult, error) {
	g.mu.Lock()
	g.verifies[rawRef]++
	fn := g.verifyFn
	res, ok := g.results[rawRef]
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx, rawRef)
	}
	if !ok {
		return &gateway.VerifyResult{Reference: rawRef, Status: "pending"}, nil
	}
	out := *res
	return &out, nil
}

func (g *Gateway) Verifies(rawRef string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifies[rawRef]
}

func (g *Gateway) VerifyWebhookSignature(_ []byte, signature string) bool {
	return signature != "" && signature == g.Secret
}

func (g *Gateway) ExtractEvent(rawBody []byte) (*domain.Event, error) {
	var ev domain.Event
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}
	if ev.Reference == "" {
		return nil, &domain.ValidationError{Field: "reference", Message: "missing"}
	}
	ev.Trigger = domain.TriggerWebhook
	return &ev, nil
}
