package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"success", StatusSuccess},
		{"failed", StatusFailed},
		{"invoice.payment_failed", StatusFailed},
		{"transfer.failed", StatusFailed},
		{"charge.failed", StatusFailed},
		{"abandoned", StatusAbandoned},
		{"charge.abandoned", StatusAbandoned},
		{"pending", StatusPending},
		{"ongoing", StatusPending},
		{"", StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.in))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusAbandoned.Terminal())
}

func TestIsGatewayError(t *testing.T) {
	err := fmt.Errorf("verify: %w", &GatewayError{Gateway: "paystack", Op: "verify", Err: errors.New("timeout")})
	assert.True(t, IsGatewayError(err))
	assert.False(t, IsGatewayError(ErrNotFound))
	assert.Contains(t, err.Error(), "paystack verify")
}
