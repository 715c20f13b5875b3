package usecase

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
	"ledger-service/internal/gateway"
	"ledger-service/internal/pkg/xerrors"
)

func newTopUpFixture(mem *memStore, gw *stubGateway) (*TopUpEngine, *fakeGuard) {
	guard := newFakeGuard()
	engine := NewTopUpEngine(guard, mem, mem, gw, "NGN", newTestNotifier(), newTestEvents(), zap.NewNop())
	return engine, guard
}

func TestTopUpCreditsWallet(t *testing.T) {
	mem := newMemStore()
	wallet := mem.addWallet("user-1", domain.WalletRolePassenger, decimal.NewFromInt(200))
	engine, guard := newTopUpFixture(mem, &stubGateway{
		verifyTopUpFn: func(ctx context.Context, reference string) (*gateway.TopUpVerification, error) {
			return &gateway.TopUpVerification{Paid: true, Amount: decimal.NewFromInt(1000), Channel: "card"}, nil
		},
	})

	resp, err := engine.VerifyAndCredit(context.Background(), &TopUpRequest{
		UserID:    "user-1",
		Role:      domain.WalletRolePassenger,
		Reference: "PAY-abc123",
	})
	require.NoError(t, err)
	assert.Equal(t, "TOP-PAY-abc123", resp.Reference)
	assert.True(t, resp.BalanceAfter.Equal(decimal.NewFromInt(1200)))

	entries := mem.entriesFor(wallet.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.DirectionCredit, entries[0].Direction)
	assert.Equal(t, domain.CategoryTopUp, entries[0].Category)
	assert.Equal(t, 1, guard.complete)
}

func TestTopUpUnpaidReferenceRejected(t *testing.T) {
	mem := newMemStore()
	wallet := mem.addWallet("user-1", domain.WalletRolePassenger, decimal.Zero)
	engine, guard := newTopUpFixture(mem, &stubGateway{
		verifyTopUpFn: func(ctx context.Context, reference string) (*gateway.TopUpVerification, error) {
			return &gateway.TopUpVerification{Paid: false}, nil
		},
	})

	_, err := engine.VerifyAndCredit(context.Background(), &TopUpRequest{
		UserID:    "user-1",
		Role:      domain.WalletRolePassenger,
		Reference: "PAY-unpaid",
	})
	assert.ErrorIs(t, err, xerrors.ErrTopUpNotPaid)
	assert.Empty(t, mem.entriesFor(wallet.ID))
	assert.Equal(t, 1, guard.failed)
}

func TestTopUpCreatesWalletOnFirstCredit(t *testing.T) {
	mem := newMemStore()
	engine, _ := newTopUpFixture(mem, &stubGateway{})

	resp, err := engine.VerifyAndCredit(context.Background(), &TopUpRequest{
		UserID:    "new-user",
		Role:      domain.WalletRolePassenger,
		Reference: "PAY-first",
	})
	require.NoError(t, err)
	assert.True(t, resp.BalanceAfter.Equal(decimal.NewFromInt(1000)))

	wallet, err := mem.GetByUserRole(context.Background(), "new-user", domain.WalletRolePassenger)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(1000)))
}

// The ledger reference is derived from the gateway reference, so even a
// retry that slips past the idempotency guard cannot credit twice.
func TestTopUpSamePaymentNeverCreditedTwice(t *testing.T) {
	mem := newMemStore()
	wallet := mem.addWallet("user-1", domain.WalletRolePassenger, decimal.Zero)

	engineA, _ := newTopUpFixture(mem, &stubGateway{})
	engineB, _ := newTopUpFixture(mem, &stubGateway{}) // separate guard, same store

	req := &TopUpRequest{UserID: "user-1", Role: domain.WalletRolePassenger, Reference: "PAY-dup"}

	_, err := engineA.VerifyAndCredit(context.Background(), req)
	require.NoError(t, err)

	_, err = engineB.VerifyAndCredit(context.Background(), req)
	assert.ErrorIs(t, err, xerrors.ErrDuplicateReference)

	got, _ := mem.GetByID(context.Background(), wallet.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1000)))
	assert.Len(t, mem.entriesFor(wallet.ID), 1)
}

func TestTopUpIdempotentReplay(t *testing.T) {
	mem := newMemStore()
	wallet := mem.addWallet("user-1", domain.WalletRolePassenger, decimal.Zero)
	engine, _ := newTopUpFixture(mem, &stubGateway{})

	req := &TopUpRequest{UserID: "user-1", Role: domain.WalletRolePassenger, Reference: "PAY-retry"}

	first, err := engine.VerifyAndCredit(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.VerifyAndCredit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, mem.entriesFor(wallet.ID), 1)
}
