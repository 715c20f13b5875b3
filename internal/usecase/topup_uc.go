package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
	"ledger-service/internal/gateway"
	"ledger-service/internal/pkg/xerrors"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
)

type TopUpRequest struct {
	UserID    string            `json:"user_id"`
	Role      domain.WalletRole `json:"role"`
	Reference string            `json:"reference"` // payment-gateway reference
	Currency  string            `json:"currency,omitempty"`
}

type TopUpResponse struct {
	Reference    string          `json:"reference"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Status       string          `json:"status"`
}

// TopUpEngine verifies a payment-gateway reference and credits the
// wallet. The ledger reference is derived from the gateway reference,
// so the unique constraint makes double-crediting the same payment
// impossible even across retries that bypass the idempotency guard.
type TopUpEngine struct {
	guard    Guard
	store    repository.LedgerStore
	wallets  repository.WalletRepository
	gw       gateway.SettlementGateway
	currency string
	notifier *Notifier
	events   *pub.EventPublisher
	logger   *zap.Logger
}

func NewTopUpEngine(
	guard Guard,
	store repository.LedgerStore,
	wallets repository.WalletRepository,
	gw gateway.SettlementGateway,
	currency string,
	notifier *Notifier,
	events *pub.EventPublisher,
	logger *zap.Logger,
) *TopUpEngine {
	return &TopUpEngine{
		guard:    guard,
		store:    store,
		wallets:  wallets,
		gw:       gw,
		currency: currency,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

func (e *TopUpEngine) VerifyAndCredit(ctx context.Context, req *TopUpRequest) (*TopUpResponse, error) {
	if req.Reference == "" {
		return nil, xerrors.ErrInvalidRequest
	}

	key := domain.DeriveIdempotencyKey(req.UserID, "topup", map[string]string{
		"reference": req.Reference,
	})
	requestHash := domain.HashRequest(req)

	begin, err := e.guard.Begin(ctx, req.UserID, "topup", key, requestHash)
	if err != nil {
		return nil, err
	}
	if begin.State == BeginCompleted {
		var resp TopUpResponse
		if err := json.Unmarshal(begin.Response, &resp); err != nil {
			return nil, fmt.Errorf("decode cached response: %w", err)
		}
		return &resp, nil
	}

	verification, err := e.gw.VerifyTopUp(ctx, req.Reference)
	if err != nil {
		e.guard.Fail(ctx, key)
		return nil, err
	}
	if !verification.Paid {
		e.guard.Fail(ctx, key)
		return nil, xerrors.ErrTopUpNotPaid
	}
	if !verification.Amount.IsPositive() {
		e.guard.Fail(ctx, key)
		return nil, xerrors.ErrInvalidAmount
	}

	wallet, err := e.wallets.EnsureWallet(ctx, req.UserID, req.Role, e.currency)
	if err != nil {
		e.guard.Fail(ctx, key)
		return nil, err
	}

	ledgerRef := "TOP-" + req.Reference
	commit, err := e.store.RecordSuccess(ctx, &repository.LedgerWrite{
		Legs: []repository.EntryLeg{{
			WalletID:  wallet.ID,
			UserID:    req.UserID,
			Direction: domain.DirectionCredit,
			Category:  domain.CategoryTopUp,
			Amount:    verification.Amount,
			Reference: ledgerRef,
			Narration: "wallet top-up",
			Metadata: &domain.EntryMetadata{TopUp: &domain.TopUpMetadata{
				GatewayReference: req.Reference,
				Channel:          verification.Channel,
			}},
		}},
	})
	if err != nil {
		e.guard.Fail(ctx, key)
		if errors.Is(err, xerrors.ErrDuplicateReference) {
			// The payment was already credited through another path.
			return nil, xerrors.ErrDuplicateReference
		}
		return nil, err
	}

	entry := commit.Entries[0]
	resp := &TopUpResponse{
		Reference:    ledgerRef,
		Amount:       verification.Amount,
		BalanceAfter: entry.BalanceAfter,
		Status:       string(domain.EntryStatusSuccess),
	}

	respBytes, _ := json.Marshal(resp)
	e.guard.Complete(ctx, key, respBytes)

	e.notifier.Notify(req.UserID, "Wallet funded",
		fmt.Sprintf("Your wallet was credited with %s", verification.Amount.String()),
		map[string]any{"reference": ledgerRef})
	e.notifier.PushBalance(req.UserID, wallet.ID, entry.BalanceAfter)
	e.events.PublishTransactionEvent(ctx, &domain.TransactionEvent{
		EventType:    "topup.completed",
		UserID:       req.UserID,
		WalletID:     wallet.ID,
		Reference:    ledgerRef,
		Category:     domain.CategoryTopUp,
		Direction:    domain.DirectionCredit,
		Status:       domain.EntryStatusSuccess,
		Amount:       verification.Amount,
		BalanceAfter: entry.BalanceAfter,
	})

	return resp, nil
}
