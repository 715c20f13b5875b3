package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
	"ledger-service/internal/gateway"
	"ledger-service/internal/pkg/xerrors"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/pkg/utils"
)

type PurchaseRequest struct {
	UserID         string                `json:"user_id"`
	Role           domain.WalletRole     `json:"role"`
	ServiceType    domain.VASServiceType `json:"service_type"`
	ServiceID      string                `json:"service_id"`
	Target         string                `json:"target"`
	Variation      string                `json:"variation,omitempty"`
	Amount         decimal.Decimal       `json:"amount"`
	IdempotencyKey string                `json:"-"`
}

type PurchaseResponse struct {
	Reference         string                `json:"reference"`
	ProviderReference string                `json:"provider_reference"`
	ServiceType       domain.VASServiceType `json:"service_type"`
	Amount            decimal.Decimal       `json:"amount"`
	BalanceAfter      decimal.Decimal       `json:"balance_after"`
	Status            string                `json:"status"`
}

type RequeryRequest struct {
	UserID            string                `json:"user_id"`
	Role              domain.WalletRole     `json:"role"`
	ProviderReference string                `json:"provider_reference"`
	ServiceType       domain.VASServiceType `json:"service_type"`
	ServiceID         string                `json:"service_id"`
	Target            string                `json:"target"`
	Variation         string                `json:"variation,omitempty"`
	Amount            decimal.Decimal       `json:"amount"`
}

// PurchaseEngine orchestrates the four VAS flows behind one state
// machine. The defining rule: the provider is called before any ledger
// write. A rejection leaves zero ledger and zero purchase rows; only a
// confirmed success triggers the atomic debit.
type PurchaseEngine struct {
	guard    Guard
	store    repository.LedgerStore
	wallets  repository.WalletRepository
	vas      repository.VASPurchaseRepository
	gw       gateway.SettlementGateway
	refs     *utils.ReferenceGenerator
	notifier *Notifier
	events   *pub.EventPublisher
	logger   *zap.Logger
}

func NewPurchaseEngine(
	guard Guard,
	store repository.LedgerStore,
	wallets repository.WalletRepository,
	vas repository.VASPurchaseRepository,
	gw gateway.SettlementGateway,
	refs *utils.ReferenceGenerator,
	notifier *Notifier,
	events *pub.EventPublisher,
	logger *zap.Logger,
) *PurchaseEngine {
	return &PurchaseEngine{
		guard:    guard,
		store:    store,
		wallets:  wallets,
		vas:      vas,
		gw:       gw,
		refs:     refs,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

func (e *PurchaseEngine) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error) {
	if !req.ServiceType.Valid() {
		return nil, xerrors.ErrInvalidServiceType
	}
	if err := e.gw.ValidateTarget(req.ServiceType, req.Target); err != nil {
		return nil, err
	}
	if req.Amount.IsNegative() {
		return nil, xerrors.ErrInvalidAmount
	}

	key := req.IdempotencyKey
	if key == "" {
		key = domain.DeriveIdempotencyKey(req.UserID, "vas_purchase", map[string]string{
			"service_type": string(req.ServiceType),
			"service_id":   req.ServiceID,
			"target":       req.Target,
			"variation":    req.Variation,
			"amount":       req.Amount.String(),
		})
	}
	requestHash := domain.HashRequest(req)

	begin, err := e.guard.Begin(ctx, req.UserID, "vas_purchase", key, requestHash)
	if err != nil {
		return nil, err
	}
	if begin.State == BeginCompleted {
		var resp PurchaseResponse
		if err := json.Unmarshal(begin.Response, &resp); err != nil {
			return nil, fmt.Errorf("decode cached response: %w", err)
		}
		return &resp, nil
	}

	wallet, err := e.wallets.GetByUserRole(ctx, req.UserID, req.Role)
	if err != nil {
		e.guard.Fail(ctx, key)
		return nil, err
	}
	if !wallet.IsActive() {
		e.guard.Fail(ctx, key)
		return nil, xerrors.ErrWalletDisabled
	}

	// Prices are provider-quoted; a client amount that disagrees with
	// the quote is rejected before the provider is touched.
	price, err := e.gw.QuotePrice(ctx, req.ServiceType, req.ServiceID, req.Variation, req.Amount)
	if err != nil {
		e.guard.Fail(ctx, key)
		return nil, err
	}

	// Optimistic check. May be stale; the authoritative check happens
	// under the row lock at commit.
	if wallet.Balance.LessThan(price) {
		e.guard.Fail(ctx, key)
		return nil, &xerrors.InsufficientBalanceError{Available: wallet.Balance, Required: price}
	}

	reference := e.refs.GeneratePurchaseRef()
	result, err := e.gw.Purchase(ctx, gateway.PurchaseRequest{
		RequestID:   reference,
		ServiceType: req.ServiceType,
		ServiceID:   req.ServiceID,
		Target:      req.Target,
		Variation:   req.Variation,
		Amount:      price,
	})
	if err != nil {
		// No ledger write on rejection or ambiguity: the wallet was
		// never debited, so only the idempotency record flips FAILED.
		// An ambiguous error keeps the provider reference for requery.
		e.guard.Fail(ctx, key)
		e.logger.Info("purchase not confirmed",
			zap.String("user_id", req.UserID),
			zap.String("reference", reference),
			zap.Error(err))
		return nil, err
	}

	// The provider's returned amount is authoritative when it differs
	// from the quote.
	amount := result.Amount

	commit, err := e.store.RecordSuccess(ctx, &repository.LedgerWrite{
		Legs: []repository.EntryLeg{{
			WalletID:  wallet.ID,
			UserID:    req.UserID,
			Direction: domain.DirectionDebit,
			Category:  domain.CategoryVASPurchase,
			Amount:    amount,
			Reference: reference,
			Narration: fmt.Sprintf("%s purchase for %s", req.ServiceType, req.Target),
			Metadata: &domain.EntryMetadata{Purchase: &domain.PurchaseMetadata{
				ServiceType:       req.ServiceType,
				ServiceID:         req.ServiceID,
				Target:            req.Target,
				VariationCode:     req.Variation,
				ProviderReference: result.ProviderReference,
			}},
		}},
		Purchase: &domain.VASPurchase{
			ID:                uuid.NewString(),
			UserID:            req.UserID,
			ServiceType:       req.ServiceType,
			ServiceID:         req.ServiceID,
			Target:            req.Target,
			VariationCode:     req.Variation,
			Amount:            amount,
			ProviderReference: result.ProviderReference,
			ProviderResponse:  result.RawResponse,
			Status:            domain.VASPurchaseSuccess,
		},
	})
	if err != nil {
		// The provider has already delivered but the local commit
		// failed (concurrent spend drained the wallet, or the store is
		// down). Money moved externally without a ledger row; this is
		// an operator problem, not a silent retry.
		e.guard.Fail(ctx, key)
		e.logger.Error("purchase commit failed after provider confirmation",
			zap.String("user_id", req.UserID),
			zap.String("reference", reference),
			zap.String("provider_reference", result.ProviderReference),
			zap.Error(err))
		e.events.PublishOperatorAlert(ctx, &domain.OperatorAlert{
			Kind:      "purchase_commit_failed",
			UserID:    req.UserID,
			WalletID:  wallet.ID,
			Reference: result.ProviderReference,
			Detail:    err.Error(),
		})
		return nil, err
	}

	entry := commit.Entries[0]
	resp := &PurchaseResponse{
		Reference:         reference,
		ProviderReference: result.ProviderReference,
		ServiceType:       req.ServiceType,
		Amount:            amount,
		BalanceAfter:      entry.BalanceAfter,
		Status:            string(domain.EntryStatusSuccess),
	}

	respBytes, _ := json.Marshal(resp)
	e.guard.Complete(ctx, key, respBytes)

	e.notifier.Notify(req.UserID, "Purchase successful",
		fmt.Sprintf("%s purchase of %s for %s completed", req.ServiceType, amount.String(), req.Target),
		map[string]any{"reference": reference})
	e.notifier.PushBalance(req.UserID, wallet.ID, entry.BalanceAfter)
	e.events.PublishTransactionEvent(ctx, &domain.TransactionEvent{
		EventType:    "transaction.completed",
		UserID:       req.UserID,
		WalletID:     wallet.ID,
		Reference:    reference,
		Category:     domain.CategoryVASPurchase,
		Direction:    domain.DirectionDebit,
		Status:       domain.EntryStatusSuccess,
		Amount:       amount,
		BalanceAfter: entry.BalanceAfter,
	})

	return resp, nil
}

// Requery settles a previously ambiguous attempt. If the provider now
// reports delivery and no purchase row exists, the debit is committed;
// if it reports failure, a FAILED purchase row is materialized so later
// requeries short-circuit. A purchase that already has a row is
// returned as-is, and the unique provider-reference index collapses
// concurrent settles of the same attempt to one row: requery never
// re-debits.
func (e *PurchaseEngine) Requery(ctx context.Context, req *RequeryRequest) (*PurchaseResponse, error) {
	if req.ProviderReference == "" {
		return nil, xerrors.ErrInvalidRequest
	}

	if existing, err := e.vas.GetByProviderReference(ctx, req.ProviderReference); err == nil {
		return purchaseAsResponse(existing), nil
	} else if !errors.Is(err, xerrors.ErrNotFound) {
		return nil, err
	}

	result, err := e.gw.Requery(ctx, req.ProviderReference)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case gateway.RequeryFailed:
		return e.settleFailedRequery(ctx, req, result)
	case gateway.RequeryPending:
		return &PurchaseResponse{
			ProviderReference: req.ProviderReference,
			ServiceType:       req.ServiceType,
			Status:            string(domain.EntryStatusPending),
		}, nil
	}

	// Delivered: commit the debit that the original attempt never wrote.
	wallet, err := e.wallets.GetByUserRole(ctx, req.UserID, req.Role)
	if err != nil {
		return nil, err
	}

	amount := result.Amount
	if amount.IsZero() {
		amount = req.Amount
	}
	if !amount.IsPositive() {
		return nil, xerrors.ErrInvalidAmount
	}

	reference := e.refs.GeneratePurchaseRef()
	commit, err := e.store.RecordSuccess(ctx, &repository.LedgerWrite{
		Legs: []repository.EntryLeg{{
			WalletID:  wallet.ID,
			UserID:    req.UserID,
			Direction: domain.DirectionDebit,
			Category:  domain.CategoryVASPurchase,
			Amount:    amount,
			Reference: reference,
			Narration: fmt.Sprintf("%s purchase for %s (settled by requery)", req.ServiceType, req.Target),
			Metadata: &domain.EntryMetadata{Purchase: &domain.PurchaseMetadata{
				ServiceType:       req.ServiceType,
				ServiceID:         req.ServiceID,
				Target:            req.Target,
				VariationCode:     req.Variation,
				ProviderReference: req.ProviderReference,
			}},
		}},
		Purchase: &domain.VASPurchase{
			ID:                uuid.NewString(),
			UserID:            req.UserID,
			ServiceType:       req.ServiceType,
			ServiceID:         req.ServiceID,
			Target:            req.Target,
			VariationCode:     req.Variation,
			Amount:            amount,
			ProviderReference: req.ProviderReference,
			ProviderResponse:  result.RawResponse,
			Status:            domain.VASPurchaseSuccess,
		},
	})
	if err != nil {
		// A concurrent requery of the same provider reference won the
		// commit; return its row instead of failing the caller.
		if errors.Is(err, xerrors.ErrDuplicateReference) {
			existing, getErr := e.vas.GetByProviderReference(ctx, req.ProviderReference)
			if getErr != nil {
				return nil, getErr
			}
			return purchaseAsResponse(existing), nil
		}
		return nil, err
	}

	entry := commit.Entries[0]
	e.notifier.PushBalance(req.UserID, wallet.ID, entry.BalanceAfter)
	e.events.PublishTransactionEvent(ctx, &domain.TransactionEvent{
		EventType:    "transaction.completed",
		UserID:       req.UserID,
		WalletID:     wallet.ID,
		Reference:    reference,
		Category:     domain.CategoryVASPurchase,
		Direction:    domain.DirectionDebit,
		Status:       domain.EntryStatusSuccess,
		Amount:       amount,
		BalanceAfter: entry.BalanceAfter,
		Timestamp:    time.Now().UTC(),
	})

	return &PurchaseResponse{
		Reference:         reference,
		ProviderReference: req.ProviderReference,
		ServiceType:       req.ServiceType,
		Amount:            amount,
		BalanceAfter:      entry.BalanceAfter,
		Status:            string(domain.EntryStatusSuccess),
	}, nil
}

// settleFailedRequery materializes the provider's verdict: a FAILED
// entry plus a FAILED purchase row keyed by the provider reference, no
// balance change. Later requeries of the same reference short-circuit
// on the row instead of calling the provider again.
func (e *PurchaseEngine) settleFailedRequery(ctx context.Context, req *RequeryRequest, result *gateway.RequeryResult) (*PurchaseResponse, error) {
	wallet, err := e.wallets.GetByUserRole(ctx, req.UserID, req.Role)
	if err != nil {
		return nil, err
	}

	amount := result.Amount
	if amount.IsZero() {
		amount = req.Amount
	}

	reference := e.refs.GeneratePurchaseRef()
	meta := &domain.PurchaseMetadata{
		ServiceType:       req.ServiceType,
		ServiceID:         req.ServiceID,
		Target:            req.Target,
		VariationCode:     req.Variation,
		ProviderReference: req.ProviderReference,
	}
	err = e.store.RecordFailure(ctx, &domain.LedgerEntry{
		WalletID:  wallet.ID,
		UserID:    req.UserID,
		Direction: domain.DirectionDebit,
		Category:  domain.CategoryVASPurchase,
		Amount:    amount,
		Reference: reference,
		Narration: fmt.Sprintf("%s purchase for %s (failed on requery)", req.ServiceType, req.Target),
		Metadata:  &domain.EntryMetadata{Purchase: meta},
	}, &domain.VASPurchase{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		ServiceType:       req.ServiceType,
		ServiceID:         req.ServiceID,
		Target:            req.Target,
		VariationCode:     req.Variation,
		Amount:            amount,
		ProviderReference: req.ProviderReference,
		ProviderResponse:  result.RawResponse,
		Status:            domain.VASPurchaseFailed,
	})
	if err != nil {
		if errors.Is(err, xerrors.ErrDuplicateReference) {
			existing, getErr := e.vas.GetByProviderReference(ctx, req.ProviderReference)
			if getErr != nil {
				return nil, getErr
			}
			return purchaseAsResponse(existing), nil
		}
		return nil, err
	}

	return &PurchaseResponse{
		Reference:         reference,
		ProviderReference: req.ProviderReference,
		ServiceType:       req.ServiceType,
		Amount:            amount,
		Status:            string(domain.EntryStatusFailed),
	}, nil
}

func purchaseAsResponse(p *domain.VASPurchase) *PurchaseResponse {
	return &PurchaseResponse{
		Reference:         p.LedgerEntryID,
		ProviderReference: p.ProviderReference,
		ServiceType:       p.ServiceType,
		Amount:            p.Amount,
		Status:            string(p.Status),
	}
}
