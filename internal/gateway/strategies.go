package gateway

import (
	"context"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/xerrors"
)

// ServiceStrategy captures what differs between the four VAS flows:
// target validation, price resolution and provider payload shaping.
// Everything else lives once in PurchaseEngine.
type ServiceStrategy interface {
	Type() domain.VASServiceType
	ValidateTarget(target string) error
	// ResolvePrice returns the authoritative quote for the selected
	// package. For amount-denominated services (airtime) the client
	// amount is the quote; for variation-priced services the provider's
	// catalog price is fetched and the client amount must match it.
	ResolvePrice(ctx context.Context, quoter VariationQuoter, serviceID, variation string, clientAmount decimal.Decimal) (decimal.Decimal, error)
	BuildPayload(req PurchaseRequest) map[string]string
}

// VariationQuoter fetches the catalog price of a variation from the
// provider. Implemented by the HTTP gateway.
type VariationQuoter interface {
	VariationPrice(ctx context.Context, serviceID, variation string) (decimal.Decimal, error)
}

type StrategyRegistry struct {
	strategies map[domain.VASServiceType]ServiceStrategy
}

func NewStrategyRegistry() *StrategyRegistry {
	r := &StrategyRegistry{strategies: make(map[domain.VASServiceType]ServiceStrategy)}
	r.Register(&airtimeStrategy{})
	r.Register(&dataStrategy{})
	r.Register(&electricityStrategy{})
	r.Register(&tvStrategy{})
	return r
}

func (r *StrategyRegistry) Register(s ServiceStrategy) {
	r.strategies[s.Type()] = s
}

func (r *StrategyRegistry) Get(t domain.VASServiceType) (ServiceStrategy, error) {
	s, ok := r.strategies[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", xerrors.ErrInvalidServiceType, t)
	}
	return s, nil
}

var (
	phonePattern     = regexp.MustCompile(`^\+?\d{10,14}$`)
	meterPattern     = regexp.MustCompile(`^\d{10,13}$`)
	smartcardPattern = regexp.MustCompile(`^\d{8,12}$`)
)

// airtime: amount-denominated, no variation catalog.
type airtimeStrategy struct{}

func (s *airtimeStrategy) Type() domain.VASServiceType { return domain.VASAirtime }

func (s *airtimeStrategy) ValidateTarget(target string) error {
	if !phonePattern.MatchString(target) {
		return fmt.Errorf("%w: bad phone number", xerrors.ErrInvalidTarget)
	}
	return nil
}

func (s *airtimeStrategy) ResolvePrice(_ context.Context, _ VariationQuoter, _, _ string, clientAmount decimal.Decimal) (decimal.Decimal, error) {
	if !clientAmount.IsPositive() {
		return decimal.Zero, xerrors.ErrInvalidAmount
	}
	return clientAmount, nil
}

func (s *airtimeStrategy) BuildPayload(req PurchaseRequest) map[string]string {
	return map[string]string{
		"request_id": req.RequestID,
		"serviceID":  req.ServiceID,
		"phone":      req.Target,
		"amount":     req.Amount.String(),
	}
}

// data: variation-priced bundles.
type dataStrategy struct{}

func (s *dataStrategy) Type() domain.VASServiceType { return domain.VASData }

func (s *dataStrategy) ValidateTarget(target string) error {
	if !phonePattern.MatchString(target) {
		return fmt.Errorf("%w: bad phone number", xerrors.ErrInvalidTarget)
	}
	return nil
}

func (s *dataStrategy) ResolvePrice(ctx context.Context, quoter VariationQuoter, serviceID, variation string, clientAmount decimal.Decimal) (decimal.Decimal, error) {
	return quotedPrice(ctx, quoter, serviceID, variation, clientAmount)
}

func (s *dataStrategy) BuildPayload(req PurchaseRequest) map[string]string {
	return map[string]string{
		"request_id":     req.RequestID,
		"serviceID":      req.ServiceID,
		"billersCode":    req.Target,
		"variation_code": req.Variation,
		"phone":          req.Target,
		"amount":         req.Amount.String(),
	}
}

// electricity: meter token purchase, amount-denominated with a minimum
// enforced provider-side; quote equals client amount.
type electricityStrategy struct{}

func (s *electricityStrategy) Type() domain.VASServiceType { return domain.VASElectricity }

func (s *electricityStrategy) ValidateTarget(target string) error {
	if !meterPattern.MatchString(target) {
		return fmt.Errorf("%w: bad meter number", xerrors.ErrInvalidTarget)
	}
	return nil
}

func (s *electricityStrategy) ResolvePrice(_ context.Context, _ VariationQuoter, _, _ string, clientAmount decimal.Decimal) (decimal.Decimal, error) {
	if !clientAmount.IsPositive() {
		return decimal.Zero, xerrors.ErrInvalidAmount
	}
	return clientAmount, nil
}

func (s *electricityStrategy) BuildPayload(req PurchaseRequest) map[string]string {
	return map[string]string{
		"request_id":     req.RequestID,
		"serviceID":      req.ServiceID,
		"billersCode":    req.Target,
		"variation_code": req.Variation, // prepaid | postpaid
		"amount":         req.Amount.String(),
	}
}

// tv: variation-priced subscription packages.
type tvStrategy struct{}

func (s *tvStrategy) Type() domain.VASServiceType { return domain.VASTV }

func (s *tvStrategy) ValidateTarget(target string) error {
	if !smartcardPattern.MatchString(target) {
		return fmt.Errorf("%w: bad smartcard number", xerrors.ErrInvalidTarget)
	}
	return nil
}

func (s *tvStrategy) ResolvePrice(ctx context.Context, quoter VariationQuoter, serviceID, variation string, clientAmount decimal.Decimal) (decimal.Decimal, error) {
	return quotedPrice(ctx, quoter, serviceID, variation, clientAmount)
}

func (s *tvStrategy) BuildPayload(req PurchaseRequest) map[string]string {
	return map[string]string{
		"request_id":        req.RequestID,
		"serviceID":         req.ServiceID,
		"billersCode":       req.Target,
		"variation_code":    req.Variation,
		"amount":            req.Amount.String(),
		"subscription_type": "change",
	}
}

func quotedPrice(ctx context.Context, quoter VariationQuoter, serviceID, variation string, clientAmount decimal.Decimal) (decimal.Decimal, error) {
	if variation == "" {
		return decimal.Zero, fmt.Errorf("%w: variation required", xerrors.ErrInvalidRequest)
	}
	price, err := quoter.VariationPrice(ctx, serviceID, variation)
	if err != nil {
		return decimal.Zero, err
	}
	if !clientAmount.IsZero() && !clientAmount.Equal(price) {
		return decimal.Zero, fmt.Errorf("%w: quoted %s, got %s",
			xerrors.ErrPriceMismatch, price.String(), clientAmount.String())
	}
	return price, nil
}
