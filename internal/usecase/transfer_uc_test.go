package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/fees"
	"ledger-service/internal/pkg/xerrors"
	"ledger-service/pkg/utils"
)

func defaultTransferLimits() Limits {
	return Limits{
		Min:        decimal.NewFromInt(100),
		Max:        decimal.NewFromInt(1000000),
		DailyCap:   decimal.NewFromInt(5000000),
		DailyCount: 20,
	}
}

func newTransferFixture(limits Limits, feeCalc *fees.Calculator, pins PinVerifier) (*TransferEngine, *memStore, *fakeGuard) {
	mem := newMemStore()
	guard := newFakeGuard()
	if feeCalc == nil {
		feeCalc = fees.NewCalculator()
	}
	if pins == nil {
		pins = stubPins{}
	}
	engine := NewTransferEngine(guard, mem, mem, transferView{mem}, pins, feeCalc, limits,
		utils.NewReferenceGenerator(), newTestNotifier(), newTestEvents(), zap.NewNop())
	return engine, mem, guard
}

func transferRequest(amount int64) *TransferRequest {
	return &TransferRequest{
		SenderID:      "sender-1",
		SenderRole:    domain.WalletRolePassenger,
		RecipientID:   "recipient-1",
		RecipientRole: domain.WalletRolePassenger,
		Amount:        decimal.NewFromInt(amount),
		Pin:           "1234",
	}
}

// seedTransfer plants a prior successful transfer for daily-limit math.
func seedTransfer(mem *memStore, senderID string, amount decimal.Decimal) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.transfers = append(mem.transfers, &domain.Transfer{
		ID:        uuid.NewString(),
		Reference: "TRF-SEED-" + uuid.NewString(),
		SenderID:  senderID,
		Amount:    amount,
		Status:    domain.TransferStatusSuccess,
		CreatedAt: time.Now().UTC(),
	})
}

func TestTransferMovesMoneyAtomically(t *testing.T) {
	engine, mem, _ := newTransferFixture(defaultTransferLimits(), nil, nil)
	sender := mem.addWallet("sender-1", domain.WalletRolePassenger, decimal.NewFromInt(1000))
	recipient := mem.addWallet("recipient-1", domain.WalletRolePassenger, decimal.Zero)

	resp, err := engine.Transfer(context.Background(), transferRequest(400))
	require.NoError(t, err)
	assert.True(t, resp.BalanceAfter.Equal(decimal.NewFromInt(600)))

	senderAfter, _ := mem.GetByID(context.Background(), sender.ID)
	recipientAfter, _ := mem.GetByID(context.Background(), recipient.ID)
	assert.True(t, senderAfter.Balance.Equal(decimal.NewFromInt(600)))
	assert.True(t, recipientAfter.Balance.Equal(decimal.NewFromInt(400)))

	// One debit, one credit, one linking row.
	require.Len(t, mem.entriesFor(sender.ID), 1)
	require.Len(t, mem.entriesFor(recipient.ID), 1)
	require.Len(t, mem.transfers, 1)
	assert.Equal(t, mem.entriesFor(sender.ID)[0].ID, mem.transfers[0].DebitEntryID)
	assert.Equal(t, mem.entriesFor(recipient.ID)[0].ID, mem.transfers[0].CreditEntryID)
}

func TestTransferInsufficientBalanceWritesNothing(t *testing.T) {
	engine, mem, guard := newTransferFixture(defaultTransferLimits(), nil, nil)
	sender := mem.addWallet("sender-1", domain.WalletRolePassenger, decimal.NewFromInt(1000))
	recipient := mem.addWallet("recipient-1", domain.WalletRolePassenger, decimal.Zero)

	_, err := engine.Transfer(context.Background(), transferRequest(1500))
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrInsufficientBalance)

	// Both-or-neither: zero entries on either side.
	assert.Empty(t, mem.entriesFor(sender.ID))
	assert.Empty(t, mem.entriesFor(recipient.ID))
	assert.Empty(t, mem.transfers)
	assert.Equal(t, 1, guard.failed)

	senderAfter, _ := mem.GetByID(context.Background(), sender.ID)
	assert.True(t, senderAfter.Balance.Equal(decimal.NewFromInt(1000)))
}

func TestTransferToSelfRejected(t *testing.T) {
	engine, mem, _ := newTransferFixture(defaultTransferLimits(), nil, nil)
	mem.addWallet("sender-1", domain.WalletRolePassenger, decimal.NewFromInt(1000))

	req := transferRequest(400)
	req.RecipientID = "sender-1"

	_, err := engine.Transfer(context.Background(), req)
	assert.ErrorIs(t, err, xerrors.ErrSelfTransfer)
}

func TestTransferBetweenOwnRolesAllowed(t *testing.T) {
	engine, mem, _ := newTransferFixture(defaultTransferLimits(), nil, nil)
	mem.addWallet("sender-1", domain.WalletRolePassenger, decimal.NewFromInt(1000))
	driver := mem.addWallet("sender-1", domain.WalletRoleDriver, decimal.Zero)

	req := transferRequest(400)
	req.RecipientID = "sender-1"
	req.RecipientRole = domain.WalletRoleDriver

	_, err := engine.Transfer(context.Background(), req)
	require.NoError(t, err)

	driverAfter, _ := mem.GetByID(context.Background(), driver.ID)
	assert.True(t, driverAfter.Balance.Equal(decimal.NewFromInt(400)))
}

func TestTransferUnknownRecipient(t *testing.T) {
	engine, mem, _ := newTransferFixture(defaultTransferLimits(), nil, nil)
	mem.addWallet("sender-1", domain.WalletRolePassenger, decimal.NewFromInt(1000))

	_, err := engine.Transfer(context.Background(), transferRequest(400))
	assert.ErrorIs(t, err, xerrors.ErrRecipientNotFound)
}

func TestTransferPinRejected(t *testing.T) {
	engine, mem, _ := newTransferFixture(defaultTransferLimits(), nil, stubPins{err: errors.New("wrong pin")})
	sender := mem.addWallet("sender-1", domain.WalletRolePassenger, decimal.NewFromInt(1000))
	mem.addWallet("recipient-1", domain.WalletRolePassenger, decimal.Zero)

	_, err := engine.Transfer(context.Background(), transferRequest(400))
	assert.ErrorIs(t, err, xerrors.ErrPinVerification)
	assert.Empty(t, mem.entriesFor(sender.ID))
}

func TestTransferAmountBounds(t *testing.T) {
	engine, mem, _ := newTransferFixture(defaultTransferLimits(), nil, nil)
	mem.addWallet("sender-1", domain.WalletRolePassenger, decimal.NewFromInt(10000000))
	mem.addWallet("recipient-1", domain.WalletRolePassenger, decimal.Zero)

	_, err := engine.Transfer(context.Background(), transferRequest(50))
	assert.ErrorIs(t, err, xerrors.ErrAmountBelowMinimum)

	_, err = engine.Transfer(context.Background(), transferRequest(2000000))
	assert.ErrorIs(t, err, xerrors.ErrAmountAboveMaximum)
}

func TestTransferDailyAmountCap(t *testing.T) {
	engine, mem, _ := newTransferFixture(defaultTransferLimits(), nil, nil)
	mem.addWallet("sender-1", domain.WalletRolePassenger, decimal.NewFromInt(10000000))
	mem.addWallet("recipient-1", domain.WalletRolePassenger, decimal.Zero)

	// 4,900,000 already sent today against a 5,000,000 cap.
	seedTransfer(mem, "sender-1", decimal.NewFromInt(4900000))

	_, err := engine.Transfer(context.Background(), transferRequest(200000))
	assert.ErrorIs(t, err, xerrors.ErrDailyAmountLimitExceeded)

	// 99,999 still fits under the cap.
	_, err = engine.Transfer(context.Background(), transferRequest(99999))
	assert.NoError(t, err)
}

func TestTransferDailyCountCap(t *testing.T) {
	limits := defaultTransferLimits()
	limits.DailyCount = 2
	engine, mem, _ := newTransferFixture(limits, nil, nil)
	mem.addWallet("sender-1", domain.WalletRolePassenger, decimal.NewFromInt(10000000))
	mem.addWallet("recipient-1", domain.WalletRolePassenger, decimal.Zero)

	seedTransfer(mem, "sender-1", decimal.NewFromInt(500))
	seedTransfer(mem, "sender-1", decimal.NewFromInt(500))

	_, err := engine.Transfer(context.Background(), transferRequest(400))
	assert.ErrorIs(t, err, xerrors.ErrDailyCountLimitExceeded)
}

func TestTransferFeeDebitedAsSeparateLeg(t *testing.T) {
	feeCalc := fees.NewCalculator()
	require.NoError(t, feeCalc.SetPolicy(domain.CategoryTransfer, fees.Policy{BasisPoints: 100})) // 1%
	engine, mem, _ := newTransferFixture(defaultTransferLimits(), feeCalc, nil)
	sender := mem.addWallet("sender-1", domain.WalletRolePassenger, decimal.NewFromInt(1000))
	mem.addWallet("recipient-1", domain.WalletRolePassenger, decimal.Zero)

	resp, err := engine.Transfer(context.Background(), transferRequest(400))
	require.NoError(t, err)
	assert.True(t, resp.Fee.Equal(decimal.NewFromInt(4)))

	entries := mem.entriesFor(sender.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.CategoryTransfer, entries[0].Category)
	assert.Equal(t, domain.CategoryFee, entries[1].Category)

	senderAfter, _ := mem.GetByID(context.Background(), sender.ID)
	assert.True(t, senderAfter.Balance.Equal(decimal.NewFromInt(596)))

	require.NotNil(t, mem.transfers[0].FeeEntryID)
	assert.Equal(t, entries[1].ID, *mem.transfers[0].FeeEntryID)
}

func TestTransferIdempotentReplay(t *testing.T) {
	engine, mem, _ := newTransferFixture(defaultTransferLimits(), nil, nil)
	sender := mem.addWallet("sender-1", domain.WalletRolePassenger, decimal.NewFromInt(1000))
	mem.addWallet("recipient-1", domain.WalletRolePassenger, decimal.Zero)

	req := transferRequest(400)
	req.IdempotencyKey = "transfer-retry"

	first, err := engine.Transfer(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Transfer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, mem.entriesFor(sender.ID), 1)

	senderAfter, _ := mem.GetByID(context.Background(), sender.ID)
	assert.True(t, senderAfter.Balance.Equal(decimal.NewFromInt(600)))
}
