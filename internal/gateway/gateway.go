package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"ledger-service/internal/domain"
)

// SettlementGateway abstracts the external money-moving providers. All
// results are normalized: a definitive provider failure surfaces as a
// ProviderError with Ambiguous=false, a timeout or transport fault after
// send as Ambiguous=true. Callers never see provider wire formats.
type SettlementGateway interface {
	// Purchase submits a VAS purchase. Called strictly before any ledger
	// write; a returned error means no money moved on our side.
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)
	// Requery asks the provider for the final status of a previous
	// purchase attempt.
	Requery(ctx context.Context, providerReference string) (*RequeryResult, error)
	// VerifyTopUp confirms a payment-gateway top-up reference.
	VerifyTopUp(ctx context.Context, reference string) (*TopUpVerification, error)
	// Disburse pushes money to an external bank account.
	Disburse(ctx context.Context, req DisburseRequest) (*DisburseResult, error)
	// QuotePrice resolves the provider-quoted price for a service
	// package. Client-supplied amounts must match this quote.
	QuotePrice(ctx context.Context, serviceType domain.VASServiceType, serviceID, variation string, clientAmount decimal.Decimal) (decimal.Decimal, error)
	// ValidateTarget checks the phone/meter/smartcard number shape for
	// the service type before anything is submitted.
	ValidateTarget(serviceType domain.VASServiceType, target string) error
}

type PurchaseRequest struct {
	RequestID   string
	ServiceType domain.VASServiceType
	ServiceID   string
	Target      string
	Variation   string
	Amount      decimal.Decimal
}

type PurchaseResult struct {
	ProviderReference string
	// Amount is the provider's authoritative debited amount; it wins
	// over the quoted price when the two differ.
	Amount      decimal.Decimal
	RawResponse []byte
}

type RequeryStatus string

const (
	RequeryDelivered RequeryStatus = "delivered"
	RequeryFailed    RequeryStatus = "failed"
	RequeryPending   RequeryStatus = "pending"
)

type RequeryResult struct {
	Status      RequeryStatus
	Amount      decimal.Decimal
	RawResponse []byte
}

type TopUpVerification struct {
	Paid      bool
	Amount    decimal.Decimal
	Channel   string
	Reference string
}

type DisburseRequest struct {
	Reference     string
	BankCode      string
	AccountNumber string
	AccountName   string
	Amount        decimal.Decimal
}

type DisburseResult struct {
	ProviderReference string
	RawResponse       []byte
}
