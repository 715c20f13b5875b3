package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
	"ledger-service/internal/gateway"
	"ledger-service/internal/pkg/fees"
	"ledger-service/internal/pkg/xerrors"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/pkg/utils"
)

type WithdrawalRequest struct {
	UserID         string            `json:"user_id"`
	Role           domain.WalletRole `json:"role"`
	BankCode       string            `json:"bank_code"`
	AccountNumber  string            `json:"account_number"`
	AccountName    string            `json:"account_name,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	Pin            string            `json:"-"`
	IdempotencyKey string            `json:"-"`
}

type WithdrawalResponse struct {
	Reference    string          `json:"reference"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Status       string          `json:"status"`
}

// WithdrawalEngine moves wallet money to an external bank account. The
// ordering is the inverse of purchases: the debit commits first as a
// PROCESSING entry, then the disbursement runs outside any database
// transaction. A failed or ambiguous disbursement triggers a
// compensating credit — a saga step, not a rollback, because the debit
// was already durable.
type WithdrawalEngine struct {
	guard    Guard
	store    repository.LedgerStore
	wallets  repository.WalletRepository
	ledger   repository.LedgerRepository
	gw       gateway.SettlementGateway
	pins     PinVerifier
	fees     *fees.Calculator
	limits   Limits
	refs     *utils.ReferenceGenerator
	notifier *Notifier
	events   *pub.EventPublisher
	logger   *zap.Logger
}

func NewWithdrawalEngine(
	guard Guard,
	store repository.LedgerStore,
	wallets repository.WalletRepository,
	ledger repository.LedgerRepository,
	gw gateway.SettlementGateway,
	pins PinVerifier,
	feeCalc *fees.Calculator,
	limits Limits,
	refs *utils.ReferenceGenerator,
	notifier *Notifier,
	events *pub.EventPublisher,
	logger *zap.Logger,
) *WithdrawalEngine {
	return &WithdrawalEngine{
		guard:    guard,
		store:    store,
		wallets:  wallets,
		ledger:   ledger,
		gw:       gw,
		pins:     pins,
		fees:     feeCalc,
		limits:   limits,
		refs:     refs,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

func (e *WithdrawalEngine) Withdraw(ctx context.Context, req *WithdrawalRequest) (*WithdrawalResponse, error) {
	if req.BankCode == "" || req.AccountNumber == "" {
		return nil, xerrors.ErrInvalidRequest
	}
	if err := e.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = domain.DeriveIdempotencyKey(req.UserID, "withdrawal", map[string]string{
			"bank_code":      req.BankCode,
			"account_number": req.AccountNumber,
			"amount":         req.Amount.String(),
		})
	}
	requestHash := domain.HashRequest(req)

	begin, err := e.guard.Begin(ctx, req.UserID, "withdrawal", key, requestHash)
	if err != nil {
		return nil, err
	}
	if begin.State == BeginCompleted {
		var resp WithdrawalResponse
		if err := json.Unmarshal(begin.Response, &resp); err != nil {
			return nil, fmt.Errorf("decode cached response: %w", err)
		}
		return &resp, nil
	}

	if err := e.pins.Verify(ctx, req.UserID, req.Pin); err != nil {
		e.guard.Fail(ctx, key)
		return nil, fmt.Errorf("%w: %s", xerrors.ErrPinVerification, err.Error())
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

	if err := e.checkDailyLimits(ctx, req.UserID, req.Amount); err != nil {
		e.guard.Fail(ctx, key)
		return nil, err
	}

	fee := e.fees.Fee(domain.CategoryWithdrawal, req.Amount)
	total := req.Amount.Add(fee)
	reference := e.refs.GenerateWithdrawalRef()

	// Debit first. The entry stays PROCESSING while the bank call runs
	// so the money cannot be spent twice in the meantime.
	entry, err := e.store.RecordProcessingDebit(ctx, repository.EntryLeg{
		WalletID:  wallet.ID,
		UserID:    req.UserID,
		Direction: domain.DirectionDebit,
		Category:  domain.CategoryWithdrawal,
		Amount:    total,
		Reference: reference,
		Narration: fmt.Sprintf("withdrawal to %s/%s", req.BankCode, req.AccountNumber),
		Metadata: &domain.EntryMetadata{Withdrawal: &domain.WithdrawalMetadata{
			BankCode:      req.BankCode,
			AccountNumber: req.AccountNumber,
			AccountName:   req.AccountName,
		}},
	})
	if err != nil {
		e.guard.Fail(ctx, key)
		return nil, err
	}

	// Disbursement runs outside any held transaction: bank transfers
	// are long-running and must not pin a row lock.
	result, err := e.gw.Disburse(ctx, gateway.DisburseRequest{
		Reference:     reference,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		Amount:        req.Amount,
	})
	if err != nil {
		return nil, e.compensate(ctx, key, wallet, entry, reference, err)
	}

	meta := entry.Metadata
	meta.Withdrawal.ProviderReference = result.ProviderReference
	if err := e.store.SettleProcessing(ctx, entry.ID, meta); err != nil {
		// The bank has paid out; the entry must not be compensated.
		// Leave it PROCESSING for reconciliation and alert instead.
		e.logger.Error("withdrawal settle failed after disbursement",
			zap.String("reference", reference), zap.Error(err))
		e.events.PublishOperatorAlert(ctx, &domain.OperatorAlert{
			Kind:      "withdrawal_settle_failed",
			UserID:    req.UserID,
			WalletID:  wallet.ID,
			Reference: reference,
			Detail:    err.Error(),
		})
	}

	resp := &WithdrawalResponse{
		Reference:    reference,
		Amount:       req.Amount,
		Fee:          fee,
		BalanceAfter: entry.BalanceAfter,
		Status:       string(domain.EntryStatusSuccess),
	}

	respBytes, _ := json.Marshal(resp)
	e.guard.Complete(ctx, key, respBytes)

	e.notifier.Notify(req.UserID, "Withdrawal successful",
		fmt.Sprintf("Withdrawal of %s to %s completed", req.Amount.String(), req.AccountNumber),
		map[string]any{"reference": reference})
	e.notifier.PushBalance(req.UserID, wallet.ID, entry.BalanceAfter)
	e.events.PublishTransactionEvent(ctx, &domain.TransactionEvent{
		EventType:    "withdrawal.completed",
		UserID:       req.UserID,
		WalletID:     wallet.ID,
		Reference:    reference,
		Category:     domain.CategoryWithdrawal,
		Direction:    domain.DirectionDebit,
		Status:       domain.EntryStatusSuccess,
		Amount:       req.Amount,
		Fee:          fee,
		BalanceAfter: entry.BalanceAfter,
	})

	return resp, nil
}

// compensate credits the debited amount back and marks the entry
// FAILED. If the compensation itself fails, money is stuck in an
// inconsistent state: that escalates to an operator alert instead of a
// client error.
func (e *WithdrawalEngine) compensate(ctx context.Context, key string, wallet *domain.Wallet, entry *domain.LedgerEntry, reference string, cause error) error {
	e.logger.Warn("disbursement failed, compensating",
		zap.String("reference", reference),
		zap.Error(cause))

	restored, err := e.store.CompensateProcessing(ctx, entry.ID, cause.Error())
	if err != nil {
		e.logger.Error("withdrawal compensation failed: funds stuck",
			zap.String("user_id", entry.UserID),
			zap.String("wallet_id", wallet.ID),
			zap.String("reference", reference),
			zap.NamedError("cause", cause),
			zap.Error(err))
		e.events.PublishOperatorAlert(ctx, &domain.OperatorAlert{
			Kind:      "withdrawal_compensation_failed",
			UserID:    entry.UserID,
			WalletID:  wallet.ID,
			Reference: reference,
			Detail:    fmt.Sprintf("disbursement: %v; compensation: %v", cause, err),
		})
		return xerrors.ErrCompensationFailed
	}

	e.guard.Fail(ctx, key)
	e.notifier.PushBalance(entry.UserID, wallet.ID, restored)
	e.events.PublishTransactionEvent(ctx, &domain.TransactionEvent{
		EventType:    "withdrawal.compensated",
		UserID:       entry.UserID,
		WalletID:     wallet.ID,
		Reference:    reference,
		Category:     domain.CategoryWithdrawal,
		Direction:    domain.DirectionDebit,
		Status:       domain.EntryStatusFailed,
		Amount:       entry.Amount,
		BalanceAfter: restored,
		ErrorMessage: cause.Error(),
	})
	return cause
}

func (e *WithdrawalEngine) validateAmount(amount decimal.Decimal) error {
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

func (e *WithdrawalEngine) checkDailyLimits(ctx context.Context, userID string, amount decimal.Decimal) error {
	total, count, err := e.ledger.DailyDebitTotals(ctx, userID, domain.CategoryWithdrawal, time.Now().UTC())
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
