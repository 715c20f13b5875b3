package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/fees"
	"ledger-service/internal/pkg/xerrors"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/pkg/utils"
)

// PinVerifier is the delegated transaction-PIN precondition. PIN
// material itself lives with the identity service.
type PinVerifier interface {
	Verify(ctx context.Context, userID, pin string) error
}

// Limits bound one debit flow: per-transaction min/max plus rolling
// daily amount and count caps.
type Limits struct {
	Min        decimal.Decimal
	Max        decimal.Decimal
	DailyCap   decimal.Decimal
	DailyCount int
}

type TransferRequest struct {
	SenderID       string            `json:"sender_id"`
	SenderRole     domain.WalletRole `json:"sender_role"`
	RecipientID    string            `json:"recipient_id"`
	RecipientRole  domain.WalletRole `json:"recipient_role"`
	Amount         decimal.Decimal   `json:"amount"`
	Pin            string            `json:"-"`
	Narration      string            `json:"narration,omitempty"`
	IdempotencyKey string            `json:"-"`
}

type TransferResponse struct {
	Reference    string          `json:"reference"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Status       string          `json:"status"`
}

// TransferEngine moves money between two internal wallets. Both legs,
// the optional fee leg and the transfer link row land in one atomic
// write; a crash mid-transfer leaves no partial movement.
type TransferEngine struct {
	guard     Guard
	store     repository.LedgerStore
	wallets   repository.WalletRepository
	transfers repository.TransferRepository
	pins      PinVerifier
	fees      *fees.Calculator
	limits    Limits
	refs      *utils.ReferenceGenerator
	notifier  *Notifier
	events    *pub.EventPublisher
	logger    *zap.Logger
}

func NewTransferEngine(
	guard Guard,
	store repository.LedgerStore,
	wallets repository.WalletRepository,
	transfers repository.TransferRepository,
	pins PinVerifier,
	feeCalc *fees.Calculator,
	limits Limits,
	refs *utils.ReferenceGenerator,
	notifier *Notifier,
	events *pub.EventPublisher,
	logger *zap.Logger,
) *TransferEngine {
	return &TransferEngine{
		guard:     guard,
		store:     store,
		wallets:   wallets,
		transfers: transfers,
		pins:      pins,
		fees:      feeCalc,
		limits:    limits,
		refs:      refs,
		notifier:  notifier,
		events:    events,
		logger:    logger,
	}
}

func (e *TransferEngine) Transfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	if req.RecipientRole == "" {
		req.RecipientRole = domain.WalletRolePassenger
	}
	if req.SenderID == req.RecipientID && req.SenderRole == req.RecipientRole {
		return nil, xerrors.ErrSelfTransfer
	}
	if err := e.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = domain.DeriveIdempotencyKey(req.SenderID, "transfer", map[string]string{
			"recipient_id":   req.RecipientID,
			"recipient_role": string(req.RecipientRole),
			"amount":         req.Amount.String(),
			"narration":      req.Narration,
		})
	}
	requestHash := domain.HashRequest(req)

	begin, err := e.guard.Begin(ctx, req.SenderID, "transfer", key, requestHash)
	if err != nil {
		return nil, err
	}
	if begin.State == BeginCompleted {
		var resp TransferResponse
		if err := json.Unmarshal(begin.Response, &resp); err != nil {
			return nil, fmt.Errorf("decode cached response: %w", err)
		}
		return &resp, nil
	}

	if err := e.pins.Verify(ctx, req.SenderID, req.Pin); err != nil {
		e.guard.Fail(ctx, key)
		return nil, fmt.Errorf("%w: %s", xerrors.ErrPinVerification, err.Error())
	}

	sender, err := e.wallets.GetByUserRole(ctx, req.SenderID, req.SenderRole)
	if err != nil {
		e.guard.Fail(ctx, key)
		return nil, err
	}
	recipient, err := e.wallets.GetByUserRole(ctx, req.RecipientID, req.RecipientRole)
	if err != nil {
		e.guard.Fail(ctx, key)
		return nil, xerrors.ErrRecipientNotFound
	}
	if !sender.IsActive() || !recipient.IsActive() {
		e.guard.Fail(ctx, key)
		return nil, xerrors.ErrWalletDisabled
	}

	if err := e.checkDailyLimits(ctx, req.SenderID, req.Amount); err != nil {
		e.guard.Fail(ctx, key)
		return nil, err
	}

	fee := e.fees.Fee(domain.CategoryTransfer, req.Amount)
	total := req.Amount.Add(fee)

	// Optimistic check; the authoritative one runs under the row lock.
	if sender.Balance.LessThan(total) {
		e.guard.Fail(ctx, key)
		return nil, &xerrors.InsufficientBalanceError{Available: sender.Balance, Required: total}
	}

	reference := e.refs.GenerateTransferRef()
	transferID := uuid.NewString()
	now := time.Now().UTC()

	legs := []repository.EntryLeg{
		{
			WalletID:  sender.ID,
			UserID:    req.SenderID,
			Direction: domain.DirectionDebit,
			Category:  domain.CategoryTransfer,
			Amount:    req.Amount,
			Reference: reference,
			Narration: req.Narration,
			Metadata: &domain.EntryMetadata{Transfer: &domain.TransferMetadata{
				TransferID:       transferID,
				CounterpartyID:   req.RecipientID,
				SenderWalletID:   sender.ID,
				ReceiverWalletID: recipient.ID,
			}},
		},
		{
			WalletID:  recipient.ID,
			UserID:    req.RecipientID,
			Direction: domain.DirectionCredit,
			Category:  domain.CategoryTransfer,
			Amount:    req.Amount,
			Reference: reference + "-CR",
			Narration: req.Narration,
			Metadata: &domain.EntryMetadata{Transfer: &domain.TransferMetadata{
				TransferID:       transferID,
				CounterpartyID:   req.SenderID,
				SenderWalletID:   sender.ID,
				ReceiverWalletID: recipient.ID,
			}},
		},
	}
	if fee.IsPositive() {
		legs = append(legs, repository.EntryLeg{
			WalletID:  sender.ID,
			UserID:    req.SenderID,
			Direction: domain.DirectionDebit,
			Category:  domain.CategoryFee,
			Amount:    fee,
			Reference: reference + "-FEE",
			Narration: "transfer fee",
			Metadata: &domain.EntryMetadata{Fee: &domain.FeeMetadata{
				AppliesTo: reference,
			}},
		})
	}

	commit, err := e.store.RecordSuccess(ctx, &repository.LedgerWrite{
		Legs: legs,
		Transfer: &domain.Transfer{
			ID:          transferID,
			Reference:   reference,
			SenderID:    req.SenderID,
			RecipientID: req.RecipientID,
			Amount:      req.Amount,
			Fee:         fee,
			Status:      domain.TransferStatusSuccess,
			Narration:   req.Narration,
			CompletedAt: now,
			CreatedAt:   now,
		},
	})
	if err != nil {
		e.guard.Fail(ctx, key)
		return nil, err
	}

	senderBalance := commit.Balances[sender.ID]
	resp := &TransferResponse{
		Reference:    reference,
		Amount:       req.Amount,
		Fee:          fee,
		BalanceAfter: senderBalance,
		Status:       string(domain.TransferStatusSuccess),
	}

	respBytes, _ := json.Marshal(resp)
	e.guard.Complete(ctx, key, respBytes)

	// Best-effort notifications; a failed push never unwinds the
	// committed transfer.
	e.notifier.Notify(req.SenderID, "Transfer sent",
		fmt.Sprintf("You sent %s", req.Amount.String()),
		map[string]any{"reference": reference})
	e.notifier.Notify(req.RecipientID, "Transfer received",
		fmt.Sprintf("You received %s", req.Amount.String()),
		map[string]any{"reference": reference})
	e.notifier.PushBalance(req.SenderID, sender.ID, senderBalance)
	e.notifier.PushBalance(req.RecipientID, recipient.ID, commit.Balances[recipient.ID])
	e.events.PublishTransactionEvent(ctx, &domain.TransactionEvent{
		EventType:    "transfer.completed",
		UserID:       req.SenderID,
		WalletID:     sender.ID,
		Reference:    reference,
		Category:     domain.CategoryTransfer,
		Direction:    domain.DirectionDebit,
		Status:       domain.EntryStatusSuccess,
		Amount:       req.Amount,
		Fee:          fee,
		BalanceAfter: senderBalance,
	})

	return resp, nil
}

func (e *TransferEngine) validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return xerrors.ErrInvalidAmount
	}
	if amount.LessThan(e.limits.Min) {
		return fmt.Errorf("%w: minimum %s", xerrors.ErrAmountBelowMinimum, e.limits.Min.String())
	}
	if amount.GreaterThan(e.limits.Max) {
		return fmt.Errorf("%w: maximum %s", xerrors.ErrAmountAboveMaximum, e.limits.Max.String())
	}
	return nil
}

// checkDailyLimits recomputes today's successful outbound volume from
// the transfer table rather than trusting any cached counter.
func (e *TransferEngine) checkDailyLimits(ctx context.Context, senderID string, amount decimal.Decimal) error {
	total, count, err := e.transfers.DailyOutboundTotals(ctx, senderID, time.Now().UTC())
	if err != nil {
		return err
	}
	if total.Add(amount).GreaterThan(e.limits.DailyCap) {
		return fmt.Errorf("%w: cap %s, used %s", xerrors.ErrDailyAmountLimitExceeded,
			e.limits.DailyCap.String(), total.String())
	}
	if count+1 > e.limits.DailyCount {
		return fmt.Errorf("%w: cap %d", xerrors.ErrDailyCountLimitExceeded, e.limits.DailyCount)
	}
	return nil
}
