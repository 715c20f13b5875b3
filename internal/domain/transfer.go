package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferStatus string

const (
	TransferStatusSuccess TransferStatus = "SUCCESS"
	TransferStatusFailed  TransferStatus = "FAILED"
)

// Transfer links the debit and credit legs of one peer-to-peer movement.
// Both legs are written in the same database transaction as this row,
// so either all three exist or none do.
type Transfer struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	SenderID      string          `json:"sender_id"`
	RecipientID   string          `json:"recipient_id"`
	DebitEntryID  string          `json:"debit_entry_id"`
	CreditEntryID string          `json:"credit_entry_id"`
	FeeEntryID    *string         `json:"fee_entry_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Status        TransferStatus  `json:"status"`
	Narration     string          `json:"narration,omitempty"`
	CompletedAt   time.Time       `json:"completed_at"`
	CreatedAt     time.Time       `json:"created_at"`
}
