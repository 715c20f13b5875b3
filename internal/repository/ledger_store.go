package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/xerrors"
)

// EntryLeg is one movement against one wallet inside a ledger write.
type EntryLeg struct {
	WalletID  string
	UserID    string
	Direction domain.EntryDirection
	Category  domain.EntryCategory
	Amount    decimal.Decimal
	Reference string
	Narration string
	Metadata  *domain.EntryMetadata
}

// LedgerWrite is a multi-leg atomic commit: every leg plus the optional
// side rows land in one database transaction or none do.
type LedgerWrite struct {
	Legs     []EntryLeg
	Purchase *domain.VASPurchase // linked to the first leg's entry
	Transfer *domain.Transfer    // legs: [0] debit, [1] credit, [2] optional fee
}

type LedgerWriteResult struct {
	Entries  []*domain.LedgerEntry
	Balances map[string]decimal.Decimal // wallet id -> balance after commit
}

// LedgerStore is the single write path for money state. Engines never
// touch wallets or entries directly; all mutations flow through here so
// the balance projection can never diverge from the entries within one
// commit.
type LedgerStore interface {
	// RecordSuccess appends SUCCESS legs and applies their balance
	// deltas atomically. Debit legs that would overdraw abort the whole
	// write with InsufficientBalanceError.
	RecordSuccess(ctx context.Context, w *LedgerWrite) (*LedgerWriteResult, error)
	// RecordProcessingDebit durably debits the wallet with a PROCESSING
	// entry. Used by withdrawal, where money leaves before the external
	// call resolves.
	RecordProcessingDebit(ctx context.Context, leg EntryLeg) (*domain.LedgerEntry, error)
	// SettleProcessing flips a PROCESSING entry to SUCCESS. The balance
	// was already applied at debit time.
	SettleProcessing(ctx context.Context, entryID string, meta *domain.EntryMetadata) error
	// CompensateProcessing restores the debited amount and marks the
	// entry FAILED in one atomic unit. The credit is the balance
	// restoration itself, not a second SUCCESS entry, so the
	// sum-of-entries invariant stays intact once the debit is FAILED.
	CompensateProcessing(ctx context.Context, entryID string, reason string) (decimal.Decimal, error)
	// RecordFailure appends a FAILED entry, plus the FAILED purchase row
	// it settles when one is given, without touching any balance.
	RecordFailure(ctx context.Context, entry *domain.LedgerEntry, purchase *domain.VASPurchase) error
}

type ledgerStore struct {
	db           *pgxpool.Pool
	walletRepo   WalletRepository
	ledgerRepo   LedgerRepository
	vasRepo      VASPurchaseRepository
	transferRepo TransferRepository
}

func NewLedgerStore(
	db *pgxpool.Pool,
	walletRepo WalletRepository,
	ledgerRepo LedgerRepository,
	vasRepo VASPurchaseRepository,
	transferRepo TransferRepository,
) LedgerStore {
	return &ledgerStore{
		db:           db,
		walletRepo:   walletRepo,
		ledgerRepo:   ledgerRepo,
		vasRepo:      vasRepo,
		transferRepo: transferRepo,
	}
}

func (s *ledgerStore) beginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

func (s *ledgerStore) RecordSuccess(ctx context.Context, w *LedgerWrite) (*LedgerWriteResult, error) {
	if len(w.Legs) == 0 {
		return nil, xerrors.ErrInvalidRequest
	}
	for _, leg := range w.Legs {
		if !leg.Amount.IsPositive() {
			return nil, xerrors.ErrInvalidAmount
		}
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock wallets in sorted order to prevent deadlocks between
	// concurrent multi-wallet writes.
	walletIDs := make([]string, 0, len(w.Legs))
	seen := make(map[string]bool)
	for _, leg := range w.Legs {
		if !seen[leg.WalletID] {
			walletIDs = append(walletIDs, leg.WalletID)
			seen[leg.WalletID] = true
		}
	}
	sort.Strings(walletIDs)

	running := make(map[string]decimal.Decimal, len(walletIDs))
	initial := make(map[string]decimal.Decimal, len(walletIDs))
	for _, id := range walletIDs {
		wallet, err := s.walletRepo.GetByIDWithLock(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !wallet.IsActive() {
			return nil, fmt.Errorf("wallet %s: %w", id, xerrors.ErrWalletDisabled)
		}
		running[id] = wallet.Balance
		initial[id] = wallet.Balance
	}

	now := time.Now().UTC()
	result := &LedgerWriteResult{Balances: make(map[string]decimal.Decimal)}

	for i := range w.Legs {
		leg := &w.Legs[i]
		before := running[leg.WalletID]

		var after decimal.Decimal
		if leg.Direction == domain.DirectionDebit {
			if before.LessThan(leg.Amount) {
				return nil, &xerrors.InsufficientBalanceError{
					Available: before,
					Required:  leg.Amount,
				}
			}
			after = before.Sub(leg.Amount)
		} else {
			after = before.Add(leg.Amount)
		}

		completed := now
		entry := &domain.LedgerEntry{
			ID:            uuid.NewString(),
			WalletID:      leg.WalletID,
			UserID:        leg.UserID,
			Direction:     leg.Direction,
			Category:      leg.Category,
			Amount:        leg.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Status:        domain.EntryStatusSuccess,
			Reference:     leg.Reference,
			Narration:     leg.Narration,
			Metadata:      leg.Metadata,
			CreatedAt:     now,
			CompletedAt:   &completed,
		}
		if err := s.ledgerRepo.CreateTx(ctx, tx, entry); err != nil {
			return nil, err
		}

		running[leg.WalletID] = after
		result.Entries = append(result.Entries, entry)
	}

	for _, id := range walletIDs {
		if err := s.walletRepo.UpdateBalanceTx(ctx, tx, id, initial[id], running[id]); err != nil {
			return nil, err
		}
		result.Balances[id] = running[id]
	}

	if w.Purchase != nil {
		w.Purchase.LedgerEntryID = result.Entries[0].ID
		if err := s.vasRepo.CreateTx(ctx, tx, w.Purchase); err != nil {
			return nil, err
		}
	}

	if w.Transfer != nil {
		w.Transfer.DebitEntryID = result.Entries[0].ID
		w.Transfer.CreditEntryID = result.Entries[1].ID
		if len(result.Entries) > 2 {
			feeID := result.Entries[2].ID
			w.Transfer.FeeEntryID = &feeID
		}
		if err := s.transferRepo.CreateTx(ctx, tx, w.Transfer); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

func (s *ledgerStore) RecordProcessingDebit(ctx context.Context, leg EntryLeg) (*domain.LedgerEntry, error) {
	if !leg.Amount.IsPositive() {
		return nil, xerrors.ErrInvalidAmount
	}
	if leg.Direction != domain.DirectionDebit {
		return nil, xerrors.ErrInvalidRequest
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	wallet, err := s.walletRepo.GetByIDWithLock(ctx, tx, leg.WalletID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive() {
		return nil, fmt.Errorf("wallet %s: %w", leg.WalletID, xerrors.ErrWalletDisabled)
	}

	before := wallet.Balance
	if before.LessThan(leg.Amount) {
		return nil, &xerrors.InsufficientBalanceError{Available: before, Required: leg.Amount}
	}
	after := before.Sub(leg.Amount)

	entry := &domain.LedgerEntry{
		ID:            uuid.NewString(),
		WalletID:      leg.WalletID,
		UserID:        leg.UserID,
		Direction:     leg.Direction,
		Category:      leg.Category,
		Amount:        leg.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        domain.EntryStatusProcessing,
		Reference:     leg.Reference,
		Narration:     leg.Narration,
		Metadata:      leg.Metadata,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.ledgerRepo.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := s.walletRepo.UpdateBalanceTx(ctx, tx, leg.WalletID, before, after); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return entry, nil
}

func (s *ledgerStore) SettleProcessing(ctx context.Context, entryID string, meta *domain.EntryMetadata) error {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.ledgerRepo.UpdateStatusTx(ctx, tx, entryID, domain.EntryStatusSuccess, meta); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *ledgerStore) CompensateProcessing(ctx context.Context, entryID string, reason string) (decimal.Decimal, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	entry, err := s.getEntryForUpdate(ctx, tx, entryID)
	if err != nil {
		return decimal.Zero, err
	}
	if entry.Status != domain.EntryStatusProcessing {
		return decimal.Zero, xerrors.ErrEntryAlreadyTerminal
	}

	wallet, err := s.walletRepo.GetByIDWithLock(ctx, tx, entry.WalletID)
	if err != nil {
		return decimal.Zero, err
	}
	restored := wallet.Balance.Add(entry.Amount)

	meta := entry.Metadata
	if meta == nil {
		meta = &domain.EntryMetadata{}
	}
	if meta.Withdrawal == nil {
		meta.Withdrawal = &domain.WithdrawalMetadata{}
	}
	meta.Withdrawal.FailureReason = reason
	meta.Withdrawal.CompensatedBy = uuid.NewString()

	if err := s.ledgerRepo.UpdateStatusTx(ctx, tx, entryID, domain.EntryStatusFailed, meta); err != nil {
		return decimal.Zero, err
	}
	if err := s.walletRepo.UpdateBalanceTx(ctx, tx, entry.WalletID, wallet.Balance, restored); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return restored, nil
}

func (s *ledgerStore) RecordFailure(ctx context.Context, entry *domain.LedgerEntry, purchase *domain.VASPurchase) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.Status = domain.EntryStatusFailed
	completed := now
	entry.CompletedAt = &completed

	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// The wallet is locked so balance_before/after record the live
	// balance at the moment the failure was settled. No balance write.
	wallet, err := s.walletRepo.GetByIDWithLock(ctx, tx, entry.WalletID)
	if err != nil {
		return err
	}
	entry.BalanceBefore = wallet.Balance
	entry.BalanceAfter = wallet.Balance

	if err := s.ledgerRepo.CreateTx(ctx, tx, entry); err != nil {
		return err
	}
	if purchase != nil {
		purchase.LedgerEntryID = entry.ID
		if err := s.vasRepo.CreateTx(ctx, tx, purchase); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *ledgerStore) getEntryForUpdate(ctx context.Context, tx pgx.Tx, entryID string) (*domain.LedgerEntry, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, entryID)
	return scanEntry(row)
}
