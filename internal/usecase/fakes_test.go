package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
	"ledger-service/internal/gateway"
	"ledger-service/internal/pkg/xerrors"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/internal/ws"
)

// memStore is an in-memory stand-in for the postgres-backed wallet,
// ledger, transfer and vas repositories plus the LedgerStore write
// path. It enforces the same rules as the real store: positive amounts,
// unique references and provider references, no overdrafts, terminal
// entries stay terminal.
type memStore struct {
	mu        sync.Mutex
	wallets   map[string]*domain.Wallet // by wallet ID
	entries   []*domain.LedgerEntry
	refs      map[string]bool
	purchases []*domain.VASPurchase
	transfers []*domain.Transfer

	failWrites     error // injected fault for RecordSuccess / RecordProcessingDebit
	failSettle     error
	failCompensate error
}

func newMemStore() *memStore {
	return &memStore{
		wallets: make(map[string]*domain.Wallet),
		refs:    make(map[string]bool),
	}
}

func (m *memStore) addWallet(userID string, role domain.WalletRole, balance decimal.Decimal) *domain.Wallet {
	w := &domain.Wallet{
		ID:       uuid.NewString(),
		UserID:   userID,
		Role:     role,
		Balance:  balance,
		Currency: "NGN",
		Status:   domain.WalletStatusActive,
	}
	m.mu.Lock()
	m.wallets[w.ID] = w
	m.mu.Unlock()
	return w
}

// --- WalletRepository ---

func (m *memStore) GetByID(ctx context.Context, id string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *memStore) GetByUserRole(ctx context.Context, userID string, role domain.WalletRole) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.UserID == userID && w.Role == role {
			cp := *w
			return &cp, nil
		}
	}
	return nil, xerrors.ErrWalletNotFound
}

func (m *memStore) GetByIDWithLock(ctx context.Context, tx pgx.Tx, id string) (*domain.Wallet, error) {
	return m.GetByID(ctx, id)
}

func (m *memStore) UpdateBalanceTx(ctx context.Context, tx pgx.Tx, walletID string, expected, newBalance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return xerrors.ErrWalletNotFound
	}
	if !w.Balance.Equal(expected) {
		return xerrors.ErrLedgerInvariantViolation
	}
	w.Balance = newBalance
	return nil
}

func (m *memStore) EnsureWallet(ctx context.Context, userID string, role domain.WalletRole, currency string) (*domain.Wallet, error) {
	if w, err := m.GetByUserRole(ctx, userID, role); err == nil {
		return w, nil
	}
	return m.addWallet(userID, role, decimal.Zero), nil
}

func (m *memStore) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.wallets))
	for id := range m.wallets {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// --- LedgerRepository ---

func (m *memStore) CreateTx(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[entry.Reference] {
		return xerrors.ErrDuplicateReference
	}
	m.refs[entry.Reference] = true
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memStore) UpdateStatusTx(ctx context.Context, tx pgx.Tx, entryID string, status domain.EntryStatus, meta *domain.EntryMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == entryID {
			if e.Status == domain.EntryStatusSuccess || e.Status == domain.EntryStatusFailed {
				return xerrors.ErrEntryAlreadyTerminal
			}
			e.Status = status
			if meta != nil {
				e.Metadata = meta
			}
			now := time.Now().UTC()
			e.CompletedAt = &now
			return nil
		}
	}
	return xerrors.ErrEntryNotFound
}

func (m *memStore) GetByReference(ctx context.Context, reference string) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Reference == reference {
			return e, nil
		}
	}
	return nil, xerrors.ErrEntryNotFound
}

func (m *memStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) SumSuccessByDirection(ctx context.Context, walletID string) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credit, debit := decimal.Zero, decimal.Zero
	for _, e := range m.entries {
		if e.WalletID != walletID || e.Status != domain.EntryStatusSuccess {
			continue
		}
		if e.Direction == domain.DirectionCredit {
			credit = credit.Add(e.Amount)
		} else {
			debit = debit.Add(e.Amount)
		}
	}
	return credit, debit, nil
}

func (m *memStore) CountNonTerminal(ctx context.Context, walletID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.entries {
		if e.WalletID == walletID &&
			(e.Status == domain.EntryStatusPending || e.Status == domain.EntryStatusProcessing) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) DailyDebitTotals(ctx context.Context, userID string, category domain.EntryCategory, day time.Time) (decimal.Decimal, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	total, count := decimal.Zero, 0
	for _, e := range m.entries {
		if e.UserID != userID || e.Category != category || e.Direction != domain.DirectionDebit {
			continue
		}
		if e.Status != domain.EntryStatusProcessing && e.Status != domain.EntryStatusSuccess {
			continue
		}
		if e.CreatedAt.Before(midnight) {
			continue
		}
		total = total.Add(e.Amount)
		count++
	}
	return total, count, nil
}

// --- TransferRepository ---

func (m *memStore) CreateTransferTx(ctx context.Context, tx pgx.Tx, t *domain.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, t)
	return nil
}

func (m *memStore) GetTransferByReference(ctx context.Context, reference string) (*domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transfers {
		if t.Reference == reference {
			return t, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (m *memStore) DailyOutboundTotals(ctx context.Context, senderID string, day time.Time) (decimal.Decimal, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	total, count := decimal.Zero, 0
	for _, t := range m.transfers {
		if t.SenderID != senderID || t.Status != domain.TransferStatusSuccess {
			continue
		}
		if t.CreatedAt.Before(midnight) {
			continue
		}
		total = total.Add(t.Amount)
		count++
	}
	return total, count, nil
}

// --- VASPurchaseRepository ---

func (m *memStore) GetByProviderReference(ctx context.Context, providerRef string) (*domain.VASPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.ProviderReference == providerRef {
			return p, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (m *memStore) GetByLedgerEntryID(ctx context.Context, entryID string) (*domain.VASPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.LedgerEntryID == entryID {
			return p, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

// --- LedgerStore ---

func (m *memStore) RecordSuccess(ctx context.Context, w *repository.LedgerWrite) (*repository.LedgerWriteResult, error) {
	if m.failWrites != nil {
		return nil, m.failWrites
	}
	if len(w.Legs) == 0 {
		return nil, xerrors.ErrInvalidRequest
	}
	for _, leg := range w.Legs {
		if !leg.Amount.IsPositive() {
			return nil, xerrors.ErrInvalidAmount
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, leg := range w.Legs {
		if m.refs[leg.Reference] {
			return nil, xerrors.ErrDuplicateReference
		}
	}
	if w.Purchase != nil {
		for _, p := range m.purchases {
			if p.ProviderReference == w.Purchase.ProviderReference {
				return nil, xerrors.ErrDuplicateReference
			}
		}
	}

	running := make(map[string]decimal.Decimal)
	for _, leg := range w.Legs {
		if _, ok := running[leg.WalletID]; !ok {
			wallet, ok := m.wallets[leg.WalletID]
			if !ok {
				return nil, xerrors.ErrWalletNotFound
			}
			if !wallet.IsActive() {
				return nil, xerrors.ErrWalletDisabled
			}
			running[leg.WalletID] = wallet.Balance
		}
	}

	now := time.Now().UTC()
	result := &repository.LedgerWriteResult{Balances: make(map[string]decimal.Decimal)}

	for i := range w.Legs {
		leg := &w.Legs[i]
		before := running[leg.WalletID]

		var after decimal.Decimal
		if leg.Direction == domain.DirectionDebit {
			if before.LessThan(leg.Amount) {
				return nil, &xerrors.InsufficientBalanceError{Available: before, Required: leg.Amount}
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
		m.refs[leg.Reference] = true
		m.entries = append(m.entries, entry)
		running[leg.WalletID] = after
		result.Entries = append(result.Entries, entry)
	}

	for id, balance := range running {
		m.wallets[id].Balance = balance
		result.Balances[id] = balance
	}

	if w.Purchase != nil {
		w.Purchase.LedgerEntryID = result.Entries[0].ID
		w.Purchase.CreatedAt = now
		m.purchases = append(m.purchases, w.Purchase)
	}
	if w.Transfer != nil {
		w.Transfer.DebitEntryID = result.Entries[0].ID
		w.Transfer.CreditEntryID = result.Entries[1].ID
		if len(result.Entries) > 2 {
			feeID := result.Entries[2].ID
			w.Transfer.FeeEntryID = &feeID
		}
		w.Transfer.CreatedAt = now
		m.transfers = append(m.transfers, w.Transfer)
	}

	return result, nil
}

func (m *memStore) RecordProcessingDebit(ctx context.Context, leg repository.EntryLeg) (*domain.LedgerEntry, error) {
	if m.failWrites != nil {
		return nil, m.failWrites
	}
	if !leg.Amount.IsPositive() {
		return nil, xerrors.ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	wallet, ok := m.wallets[leg.WalletID]
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	if m.refs[leg.Reference] {
		return nil, xerrors.ErrDuplicateReference
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
		Direction:     domain.DirectionDebit,
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
	m.refs[leg.Reference] = true
	m.entries = append(m.entries, entry)
	wallet.Balance = after
	return entry, nil
}

func (m *memStore) SettleProcessing(ctx context.Context, entryID string, meta *domain.EntryMetadata) error {
	if m.failSettle != nil {
		return m.failSettle
	}
	return m.UpdateStatusTx(ctx, nil, entryID, domain.EntryStatusSuccess, meta)
}

func (m *memStore) CompensateProcessing(ctx context.Context, entryID string, reason string) (decimal.Decimal, error) {
	if m.failCompensate != nil {
		return decimal.Zero, m.failCompensate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID != entryID {
			continue
		}
		if e.Status != domain.EntryStatusProcessing {
			return decimal.Zero, xerrors.ErrEntryAlreadyTerminal
		}
		wallet := m.wallets[e.WalletID]
		wallet.Balance = wallet.Balance.Add(e.Amount)
		e.Status = domain.EntryStatusFailed
		if e.Metadata != nil && e.Metadata.Withdrawal != nil {
			e.Metadata.Withdrawal.FailureReason = reason
		}
		now := time.Now().UTC()
		e.CompletedAt = &now
		return wallet.Balance, nil
	}
	return decimal.Zero, xerrors.ErrEntryNotFound
}

func (m *memStore) RecordFailure(ctx context.Context, entry *domain.LedgerEntry, purchase *domain.VASPurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[entry.Reference] {
		return xerrors.ErrDuplicateReference
	}
	if purchase != nil {
		for _, p := range m.purchases {
			if p.ProviderReference == purchase.ProviderReference {
				return xerrors.ErrDuplicateReference
			}
		}
	}
	w, ok := m.wallets[entry.WalletID]
	if !ok {
		return xerrors.ErrWalletNotFound
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.Status = domain.EntryStatusFailed
	entry.BalanceBefore = w.Balance
	entry.BalanceAfter = w.Balance
	entry.CreatedAt = now
	entry.CompletedAt = &now
	m.refs[entry.Reference] = true
	m.entries = append(m.entries, entry)
	if purchase != nil {
		purchase.LedgerEntryID = entry.ID
		purchase.CreatedAt = now
		m.purchases = append(m.purchases, purchase)
	}
	return nil
}

// entriesFor returns all entries of a wallet, for assertions.
func (m *memStore) entriesFor(walletID string) []*domain.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.LedgerEntry
	for _, e := range m.entries {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	return out
}

// transferView adapts memStore to the TransferRepository interface,
// whose method names collide with the ledger ones.
type transferView struct{ m *memStore }

func (v transferView) CreateTx(ctx context.Context, tx pgx.Tx, t *domain.Transfer) error {
	return v.m.CreateTransferTx(ctx, tx, t)
}

func (v transferView) GetByReference(ctx context.Context, reference string) (*domain.Transfer, error) {
	return v.m.GetTransferByReference(ctx, reference)
}

func (v transferView) DailyOutboundTotals(ctx context.Context, senderID string, day time.Time) (decimal.Decimal, int, error) {
	return v.m.DailyOutboundTotals(ctx, senderID, day)
}

// vasView adapts memStore to the VASPurchaseRepository interface.
type vasView struct{ m *memStore }

func (v vasView) CreateTx(ctx context.Context, tx pgx.Tx, p *domain.VASPurchase) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	for _, existing := range v.m.purchases {
		if existing.ProviderReference == p.ProviderReference {
			return xerrors.ErrDuplicateReference
		}
	}
	v.m.purchases = append(v.m.purchases, p)
	return nil
}

func (v vasView) GetByProviderReference(ctx context.Context, providerRef string) (*domain.VASPurchase, error) {
	return v.m.GetByProviderReference(ctx, providerRef)
}

func (v vasView) GetByLedgerEntryID(ctx context.Context, entryID string) (*domain.VASPurchase, error) {
	return v.m.GetByLedgerEntryID(ctx, entryID)
}

// --- Guard ---

type guardRecord struct {
	status   string
	response []byte
}

type fakeGuard struct {
	mu       sync.Mutex
	records  map[string]*guardRecord
	failed   int
	complete int
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{records: make(map[string]*guardRecord)}
}

func (g *fakeGuard) Begin(ctx context.Context, userID, operation, key, requestHash string) (*BeginResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[key]
	if !ok || rec.status == "FAILED" {
		g.records[key] = &guardRecord{status: "PENDING"}
		return &BeginResult{State: BeginFresh}, nil
	}
	if rec.status == "COMPLETED" {
		return &BeginResult{State: BeginCompleted, Response: rec.response}, nil
	}
	return nil, xerrors.ErrIdempotencyConflict
}

func (g *fakeGuard) Complete(ctx context.Context, key string, response []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[key] = &guardRecord{status: "COMPLETED", response: response}
	g.complete++
}

func (g *fakeGuard) Fail(ctx context.Context, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[key] = &guardRecord{status: "FAILED"}
	g.failed++
}

// --- SettlementGateway ---

type stubGateway struct {
	purchaseFn    func(ctx context.Context, req gateway.PurchaseRequest) (*gateway.PurchaseResult, error)
	requeryFn     func(ctx context.Context, providerReference string) (*gateway.RequeryResult, error)
	verifyTopUpFn func(ctx context.Context, reference string) (*gateway.TopUpVerification, error)
	disburseFn    func(ctx context.Context, req gateway.DisburseRequest) (*gateway.DisburseResult, error)
	quoteFn       func(ctx context.Context, serviceType domain.VASServiceType, serviceID, variation string, clientAmount decimal.Decimal) (decimal.Decimal, error)
}

func (s *stubGateway) Purchase(ctx context.Context, req gateway.PurchaseRequest) (*gateway.PurchaseResult, error) {
	if s.purchaseFn != nil {
		return s.purchaseFn(ctx, req)
	}
	return &gateway.PurchaseResult{ProviderReference: "PROV-" + req.RequestID, Amount: req.Amount}, nil
}

func (s *stubGateway) Requery(ctx context.Context, providerReference string) (*gateway.RequeryResult, error) {
	if s.requeryFn != nil {
		return s.requeryFn(ctx, providerReference)
	}
	return &gateway.RequeryResult{Status: gateway.RequeryPending}, nil
}

func (s *stubGateway) VerifyTopUp(ctx context.Context, reference string) (*gateway.TopUpVerification, error) {
	if s.verifyTopUpFn != nil {
		return s.verifyTopUpFn(ctx, reference)
	}
	return &gateway.TopUpVerification{Paid: true, Amount: decimal.NewFromInt(1000), Channel: "card", Reference: reference}, nil
}

func (s *stubGateway) Disburse(ctx context.Context, req gateway.DisburseRequest) (*gateway.DisburseResult, error) {
	if s.disburseFn != nil {
		return s.disburseFn(ctx, req)
	}
	return &gateway.DisburseResult{ProviderReference: "BANK-" + req.Reference}, nil
}

func (s *stubGateway) QuotePrice(ctx context.Context, serviceType domain.VASServiceType, serviceID, variation string, clientAmount decimal.Decimal) (decimal.Decimal, error) {
	if s.quoteFn != nil {
		return s.quoteFn(ctx, serviceType, serviceID, variation, clientAmount)
	}
	return clientAmount, nil
}

func (s *stubGateway) ValidateTarget(serviceType domain.VASServiceType, target string) error {
	if target == "" {
		return xerrors.ErrInvalidTarget
	}
	return nil
}

// --- PinVerifier ---

type stubPins struct{ err error }

func (p stubPins) Verify(ctx context.Context, userID, pin string) error {
	return p.err
}

// --- shared test deps ---

func newTestNotifier() *Notifier {
	return NewNotifier(ws.NewHub(zap.NewNop()), zap.NewNop())
}

// newTestEvents builds a real publisher pointed at unreachable brokers;
// publishing is fire-and-forget, so failures only log.
func newTestEvents() *pub.EventPublisher {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	return pub.NewEventPublisher(rdb, []string{"127.0.0.1:1"}, "test_events", zap.NewNop())
}
