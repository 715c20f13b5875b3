package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionEvent is published to the event stream after a terminal
// ledger write. Consumers (receipts, analytics, push delivery) are
// downstream; publishing is always fire-and-forget.
type TransactionEvent struct {
	EventType    string          `json:"event_type"` // transaction.completed, transaction.failed, withdrawal.compensated, ...
	UserID       string          `json:"user_id"`
	WalletID     string          `json:"wallet_id"`
	Reference    string          `json:"reference"`
	Category     EntryCategory   `json:"category"`
	Direction    EntryDirection  `json:"direction"`
	Status       EntryStatus     `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee,omitempty"`
	BalanceAfter decimal.Decimal `json:"balance_after,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// OperatorAlert flags money stuck in an inconsistent state, e.g. a
// withdrawal debit whose compensating credit could not be applied.
type OperatorAlert struct {
	Kind      string    `json:"kind"`
	UserID    string    `json:"user_id"`
	WalletID  string    `json:"wallet_id"`
	Reference string    `json:"reference"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}
