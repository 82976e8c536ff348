package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateTransactionRequest is the payload that opens a checkout.
type CreateTransactionRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	UserID         string          `json:"userId"`
	Email          string          `json:"email"`
	UserName       string          `json:"userName"`
	DomainType     string          `json:"domainType"`
	Gateway        string          `json:"gateway,omitempty"`
	DomainMetadata map[string]any  `json:"domainMetadata,omitempty"`
}

type CreateTransactionResponse struct {
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkoutUrl"`
	Gateway     string `json:"gateway"`
}

type VerifyRequest struct {
	Reference string `json:"reference"`
}

// TransactionStatus is returned by both verify and status lookups.
type TransactionStatus struct {
	Reference       string          `json:"reference"`
	TransactionType string          `json:"transactionType"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	PaidAt          *time.Time      `json:"paidAt"`
	Channel         string          `json:"channel,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
