package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSnapshot is one reconciliation observation for a wallet:
// the stored balance, the balance recomputed from SUCCESS ledger
// entries, and the drift between them. Append-only time series.
type BalanceSnapshot struct {
	ID                string          `json:"id"`
	WalletID          string          `json:"wallet_id"`
	StoredBalance     decimal.Decimal `json:"stored_balance"`
	ComputedBalance   decimal.Decimal `json:"computed_balance"`
	Drift             decimal.Decimal `json:"drift"`
	Reconciled        bool            `json:"reconciled"`
	PendingEntryCount int             `json:"pending_entry_count"`
	CreatedAt         time.Time       `json:"created_at"`
}

// DriftTolerance absorbs sub-cent rounding when comparing stored and
// recomputed balances.
var DriftTolerance = decimal.NewFromFloat(0.01)
