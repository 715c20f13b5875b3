package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryDirection string

const (
	DirectionCredit EntryDirection = "CREDIT"
	DirectionDebit  EntryDirection = "DEBIT"
)

type EntryCategory string

const (
	CategoryTopUp       EntryCategory = "topup"
	CategoryVASPurchase EntryCategory = "vas_purchase"
	CategoryTransfer    EntryCategory = "transfer"
	CategoryWithdrawal  EntryCategory = "withdrawal"
	CategoryFee         EntryCategory = "fee"
	CategoryCommission  EntryCategory = "commission"
)

type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "PENDING"
	EntryStatusProcessing EntryStatus = "PROCESSING"
	EntryStatusSuccess    EntryStatus = "SUCCESS"
	EntryStatusFailed     EntryStatus = "FAILED"
)

// LedgerEntry is one immutable money movement against a wallet. Once the
// status is terminal (SUCCESS or FAILED) the row is never updated again.
type LedgerEntry struct {
	ID            string          `json:"id"`
	WalletID      string          `json:"wallet_id"`
	UserID        string          `json:"user_id"`
	Direction     EntryDirection  `json:"direction"`
	Category      EntryCategory   `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Status        EntryStatus     `json:"status"`
	Reference     string          `json:"reference"`
	Narration     string          `json:"narration,omitempty"`
	Metadata      *EntryMetadata  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

func (e *LedgerEntry) IsTerminal() bool {
	return e.Status == EntryStatusSuccess || e.Status == EntryStatusFailed
}

// Signed returns the entry amount with direction applied: credits
// positive, debits negative.
func (e *LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == DirectionDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// EntryMetadata is a tagged union keyed by entry category. Exactly one
// branch is set for a given entry; the zero value means no metadata.
type EntryMetadata struct {
	Purchase   *PurchaseMetadata   `json:"purchase,omitempty"`
	Transfer   *TransferMetadata   `json:"transfer,omitempty"`
	Withdrawal *WithdrawalMetadata `json:"withdrawal,omitempty"`
	TopUp      *TopUpMetadata      `json:"topup,omitempty"`
	Fee        *FeeMetadata        `json:"fee,omitempty"`
}

type PurchaseMetadata struct {
	ServiceType       VASServiceType `json:"service_type"`
	ServiceID         string         `json:"service_id"`
	Target            string         `json:"target"`
	VariationCode     string         `json:"variation_code,omitempty"`
	ProviderReference string         `json:"provider_reference"`
}

type TransferMetadata struct {
	TransferID       string `json:"transfer_id"`
	CounterpartyID   string `json:"counterparty_id"`
	SenderWalletID   string `json:"sender_wallet_id"`
	ReceiverWalletID string `json:"receiver_wallet_id"`
}

type WithdrawalMetadata struct {
	BankCode          string `json:"bank_code"`
	AccountNumber     string `json:"account_number"`
	AccountName       string `json:"account_name,omitempty"`
	ProviderReference string `json:"provider_reference,omitempty"`
	CompensatedBy     string `json:"compensated_by,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

type TopUpMetadata struct {
	GatewayReference string `json:"gateway_reference"`
	Channel          string `json:"channel,omitempty"`
}

type FeeMetadata struct {
	AppliesTo string `json:"applies_to"` // reference of the entry the fee belongs to
	Policy    string `json:"policy,omitempty"`
}
