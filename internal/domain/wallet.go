package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type WalletRole string

const (
	WalletRolePassenger WalletRole = "passenger"
	WalletRoleDriver    WalletRole = "driver"
	WalletRoleAgent     WalletRole = "agent"
)

type WalletStatus string

const (
	WalletStatusActive   WalletStatus = "active"
	WalletStatusDisabled WalletStatus = "disabled"
)

// Wallet holds the denormalized balance for one user-role profile.
// Balance is a cached projection of the ledger; it is mutated only
// through the ledger store's atomic writes, never directly.
type Wallet struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Role      WalletRole      `json:"role"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Status    WalletStatus    `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}
