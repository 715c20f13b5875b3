package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/xerrors"
)

// Provider response codes, VTU-style: 000 is delivered, 099 is still
// processing, anything else is a definitive rejection.
const (
	codeDelivered  = "000"
	codeProcessing = "099"
)

type providerResponse struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Paid      bool            `json:"paid"`
	Channel   string          `json:"channel,omitempty"`
	Price     decimal.Decimal `json:"price,omitempty"`
}

type endpoint struct {
	baseURL string
	apiKey  string
}

// HTTPGateway talks to the VAS, bank-disbursement and top-up providers
// over JSON HTTP with a bounded timeout per call. A timeout or transport
// fault after the request may have been delivered is Ambiguous, never a
// rejection.
type HTTPGateway struct {
	vas      endpoint
	bank     endpoint
	topup    endpoint
	client   *http.Client
	registry *StrategyRegistry
	logger   *zap.Logger
}

type HTTPGatewayConfig struct {
	VASURL   string
	VASKey   string
	BankURL  string
	BankKey  string
	TopUpURL string
	TopUpKey string
	Timeout  time.Duration
}

func NewHTTPGateway(cfg HTTPGatewayConfig, registry *StrategyRegistry, logger *zap.Logger) *HTTPGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPGateway{
		vas:      endpoint{baseURL: cfg.VASURL, apiKey: cfg.VASKey},
		bank:     endpoint{baseURL: cfg.BankURL, apiKey: cfg.BankKey},
		topup:    endpoint{baseURL: cfg.TopUpURL, apiKey: cfg.TopUpKey},
		client:   &http.Client{Timeout: cfg.Timeout},
		registry: registry,
		logger:   logger,
	}
}

func (g *HTTPGateway) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	strategy, err := g.registry.Get(req.ServiceType)
	if err != nil {
		return nil, err
	}

	raw, resp, err := g.postJSON(ctx, g.vas, "/pay", strategy.BuildPayload(req))
	if err != nil {
		return nil, g.ambiguous(err, req.RequestID)
	}

	switch resp.Code {
	case codeDelivered:
		amount := resp.Amount
		if amount.IsZero() {
			amount = req.Amount
		}
		return &PurchaseResult{
			ProviderReference: resp.Reference,
			Amount:            amount,
			RawResponse:       raw,
		}, nil
	case codeProcessing:
		return nil, &xerrors.ProviderError{
			Code:      resp.Code,
			Message:   resp.Message,
			Reference: resp.Reference,
			Ambiguous: true,
		}
	default:
		return nil, &xerrors.ProviderError{
			Code:    resp.Code,
			Message: resp.Message,
		}
	}
}

func (g *HTTPGateway) Requery(ctx context.Context, providerReference string) (*RequeryResult, error) {
	raw, resp, err := g.postJSON(ctx, g.vas, "/requery", map[string]string{
		"reference": providerReference,
	})
	if err != nil {
		return nil, g.ambiguous(err, providerReference)
	}

	var status RequeryStatus
	switch resp.Status {
	case "delivered", "successful":
		status = RequeryDelivered
	case "failed", "reversed":
		status = RequeryFailed
	default:
		status = RequeryPending
	}
	return &RequeryResult{Status: status, Amount: resp.Amount, RawResponse: raw}, nil
}

func (g *HTTPGateway) VerifyTopUp(ctx context.Context, reference string) (*TopUpVerification, error) {
	_, resp, err := g.postJSON(ctx, g.topup, "/verify", map[string]string{
		"reference": reference,
	})
	if err != nil {
		return nil, g.ambiguous(err, reference)
	}
	return &TopUpVerification{
		Paid:      resp.Paid,
		Amount:    resp.Amount,
		Channel:   resp.Channel,
		Reference: reference,
	}, nil
}

func (g *HTTPGateway) Disburse(ctx context.Context, req DisburseRequest) (*DisburseResult, error) {
	raw, resp, err := g.postJSON(ctx, g.bank, "/disburse", map[string]string{
		"reference":      req.Reference,
		"bank_code":      req.BankCode,
		"account_number": req.AccountNumber,
		"account_name":   req.AccountName,
		"amount":         req.Amount.String(),
	})
	if err != nil {
		return nil, g.ambiguous(err, req.Reference)
	}

	switch resp.Code {
	case codeDelivered:
		return &DisburseResult{ProviderReference: resp.Reference, RawResponse: raw}, nil
	case codeProcessing:
		return nil, &xerrors.ProviderError{
			Code:      resp.Code,
			Message:   resp.Message,
			Reference: resp.Reference,
			Ambiguous: true,
		}
	default:
		return nil, &xerrors.ProviderError{Code: resp.Code, Message: resp.Message}
	}
}

func (g *HTTPGateway) QuotePrice(ctx context.Context, serviceType domain.VASServiceType, serviceID, variation string, clientAmount decimal.Decimal) (decimal.Decimal, error) {
	strategy, err := g.registry.Get(serviceType)
	if err != nil {
		return decimal.Zero, err
	}
	return strategy.ResolvePrice(ctx, g, serviceID, variation, clientAmount)
}

func (g *HTTPGateway) ValidateTarget(serviceType domain.VASServiceType, target string) error {
	strategy, err := g.registry.Get(serviceType)
	if err != nil {
		return err
	}
	return strategy.ValidateTarget(target)
}

// VariationPrice implements VariationQuoter against the VAS catalog.
func (g *HTTPGateway) VariationPrice(ctx context.Context, serviceID, variation string) (decimal.Decimal, error) {
	_, resp, err := g.postJSON(ctx, g.vas, "/variations", map[string]string{
		"serviceID":      serviceID,
		"variation_code": variation,
	})
	if err != nil {
		// A catalog lookup moves no money; a fault here is a plain
		// rejection, not an ambiguous settlement.
		return decimal.Zero, &xerrors.ProviderError{Code: "lookup", Message: err.Error()}
	}
	if resp.Code != codeDelivered {
		return decimal.Zero, &xerrors.ProviderError{Code: resp.Code, Message: resp.Message}
	}
	return resp.Price, nil
}

func (g *HTTPGateway) postJSON(ctx context.Context, ep endpoint, path string, payload any) ([]byte, *providerResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal provider payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", ep.apiKey)

	httpResp, err := g.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, nil, err
	}
	if httpResp.StatusCode >= 500 {
		return nil, nil, fmt.Errorf("provider returned %d", httpResp.StatusCode)
	}

	var resp providerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("decode provider response: %w", err)
	}
	return raw, &resp, nil
}

// ambiguous wraps transport-level faults. Once the request may have
// reached the provider the outcome is unknown; the reference is kept so
// requery can settle it later.
func (g *HTTPGateway) ambiguous(err error, reference string) error {
	g.logger.Warn("provider call failed",
		zap.Error(err),
		zap.String("reference", reference))

	var provErr *xerrors.ProviderError
	if errors.As(err, &provErr) {
		return err
	}
	return &xerrors.ProviderError{
		Code:      "transport",
		Message:   err.Error(),
		Reference: reference,
		Ambiguous: true,
	}
}
