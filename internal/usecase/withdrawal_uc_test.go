package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
	"ledger-service/internal/gateway"
	"ledger-service/internal/pkg/fees"
	"ledger-service/internal/pkg/xerrors"
	"ledger-service/internal/repository"
	"ledger-service/pkg/utils"
)

func defaultWithdrawalLimits() Limits {
	return Limits{
		Min:        decimal.NewFromInt(500),
		Max:        decimal.NewFromInt(500000),
		DailyCap:   decimal.NewFromInt(2000000),
		DailyCount: 10,
	}
}

func newWithdrawalFixture(gw *stubGateway) (*WithdrawalEngine, *memStore, *fakeGuard) {
	mem := newMemStore()
	guard := newFakeGuard()
	feeCalc := fees.NewCalculator()
	if err := feeCalc.SetPolicy(domain.CategoryWithdrawal, fees.Policy{FixedFee: decimal.NewFromInt(50)}); err != nil {
		panic(err)
	}
	engine := NewWithdrawalEngine(guard, mem, mem, mem, gw, stubPins{}, feeCalc,
		defaultWithdrawalLimits(), utils.NewReferenceGenerator(), newTestNotifier(), newTestEvents(), zap.NewNop())
	return engine, mem, guard
}

func withdrawalRequest(amount int64) *WithdrawalRequest {
	return &WithdrawalRequest{
		UserID:        "user-1",
		Role:          domain.WalletRolePassenger,
		BankCode:      "058",
		AccountNumber: "0123456789",
		AccountName:   "J. Doe",
		Amount:        decimal.NewFromInt(amount),
		Pin:           "1234",
	}
}

func TestWithdrawalSettlesAfterDisbursement(t *testing.T) {
	engine, mem, guard := newWithdrawalFixture(&stubGateway{})
	wallet := mem.addWallet("user-1", domain.WalletRolePassenger, decimal.NewFromInt(1000))

	resp, err := engine.Withdraw(context.Background(), withdrawalRequest(500))
	require.NoError(t, err)

	// 500 + 50 fixed fee debited in one entry.
	assert.True(t, resp.Fee.Equal(decimal.NewFromInt(50)))
	assert.True(t, resp.BalanceAfter.Equal(decimal.NewFromInt(450)))

	entries := mem.entriesFor(wallet.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryStatusSuccess, entries[0].Status)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(550)))
	require.NotNil(t, entries[0].Metadata.Withdrawal)
	assert.NotEmpty(t, entries[0].Metadata.Withdrawal.ProviderReference)
	assert.Equal(t, 1, guard.complete)
}

func TestWithdrawalDisburseFailureCompensates(t *testing.T) {
	cause := errors.New("beneficiary bank unreachable")
	gw := &stubGateway{
		disburseFn: func(ctx context.Context, req gateway.DisburseRequest) (*gateway.DisburseResult, error) {
			return nil, cause
		},
	}
	engine, mem, guard := newWithdrawalFixture(gw)
	wallet := mem.addWallet("user-1", domain.WalletRolePassenger, decimal.NewFromInt(1000))

	_, err := engine.Withdraw(context.Background(), withdrawalRequest(500))
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	// Balance restored, entry flipped FAILED, no SUCCESS row survives.
	got, _ := mem.GetByID(context.Background(), wallet.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1000)))

	entries := mem.entriesFor(wallet.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryStatusFailed, entries[0].Status)
	assert.Equal(t, 1, guard.failed)
}

func TestWithdrawalCompensationFailureEscalates(t *testing.T) {
	gw := &stubGateway{
		disburseFn: func(ctx context.Context, req gateway.DisburseRequest) (*gateway.DisburseResult, error) {
			return nil, errors.New("disburse rejected")
		},
	}
	engine, mem, _ := newWithdrawalFixture(gw)
	wallet := mem.addWallet("user-1", domain.WalletRolePassenger, decimal.NewFromInt(1000))
	mem.failCompensate = errors.New("store down")

	_, err := engine.Withdraw(context.Background(), withdrawalRequest(500))
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrCompensationFailed)

	// Money stays debited: the PROCESSING entry is the operator's lead.
	got, _ := mem.GetByID(context.Background(), wallet.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(450)))

	entries := mem.entriesFor(wallet.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryStatusProcessing, entries[0].Status)
}

func TestWithdrawalSettleFailureKeepsProcessing(t *testing.T) {
	engine, mem, guard := newWithdrawalFixture(&stubGateway{})
	wallet := mem.addWallet("user-1", domain.WalletRolePassenger, decimal.NewFromInt(1000))
	mem.failSettle = errors.New("store down")

	// The bank has paid out, so the client still gets a success and the
	// entry is left PROCESSING for reconciliation, never compensated.
	resp, err := engine.Withdraw(context.Background(), withdrawalRequest(500))
	require.NoError(t, err)
	assert.Equal(t, string(domain.EntryStatusSuccess), resp.Status)

	entries := mem.entriesFor(wallet.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryStatusProcessing, entries[0].Status)

	got, _ := mem.GetByID(context.Background(), wallet.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(450)))
	assert.Equal(t, 1, guard.complete)
}

func TestWithdrawalInsufficientForAmountPlusFee(t *testing.T) {
	engine, mem, _ := newWithdrawalFixture(&stubGateway{})
	wallet := mem.addWallet("user-1", domain.WalletRolePassenger, decimal.NewFromInt(520))

	// 500 fits, 500+50 does not.
	_, err := engine.Withdraw(context.Background(), withdrawalRequest(500))
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrInsufficientBalance)
	assert.Empty(t, mem.entriesFor(wallet.ID))
}

func TestWithdrawalDailyCapCountsProcessing(t *testing.T) {
	engine, mem, _ := newWithdrawalFixture(&stubGateway{})
	wallet := mem.addWallet("user-1", domain.WalletRolePassenger, decimal.NewFromInt(5000000))

	// An in-flight withdrawal already holds 1,900,000 of today's cap.
	_, err := mem.RecordProcessingDebit(context.Background(), repository.EntryLeg{
		WalletID:  wallet.ID,
		UserID:    "user-1",
		Direction: domain.DirectionDebit,
		Category:  domain.CategoryWithdrawal,
		Amount:    decimal.NewFromInt(1900000),
		Reference: "WDL-INFLIGHT",
	})
	require.NoError(t, err)

	_, err = engine.Withdraw(context.Background(), withdrawalRequest(200000))
	assert.ErrorIs(t, err, xerrors.ErrDailyAmountLimitExceeded)
}

func TestWithdrawalAmountBounds(t *testing.T) {
	engine, mem, _ := newWithdrawalFixture(&stubGateway{})
	mem.addWallet("user-1", domain.WalletRolePassenger, decimal.NewFromInt(5000000))

	_, err := engine.Withdraw(context.Background(), withdrawalRequest(100))
	assert.ErrorIs(t, err, xerrors.ErrAmountBelowMinimum)

	_, err = engine.Withdraw(context.Background(), withdrawalRequest(600000))
	assert.ErrorIs(t, err, xerrors.ErrAmountAboveMaximum)
}
