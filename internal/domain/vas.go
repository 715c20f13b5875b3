package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type VASServiceType string

const (
	VASAirtime     VASServiceType = "airtime"
	VASData        VASServiceType = "data"
	VASElectricity VASServiceType = "electricity"
	VASTV          VASServiceType = "tv"
)

type VASPurchaseStatus string

const (
	VASPurchaseSuccess VASPurchaseStatus = "SUCCESS"
	VASPurchaseFailed  VASPurchaseStatus = "FAILED"
)

// VASPurchase records one third-party purchase attempt that actually moved
// money. Rejected attempts never materialize a row; the idempotency record
// alone carries the failure. Linked 1:1 to its ledger entry.
type VASPurchase struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	LedgerEntryID     string            `json:"ledger_entry_id"`
	ServiceType       VASServiceType    `json:"service_type"`
	ServiceID         string            `json:"service_id"`
	Target            string            `json:"target"` // phone, meter or smartcard number
	VariationCode     string            `json:"variation_code,omitempty"`
	Amount            decimal.Decimal   `json:"amount"`
	ProviderReference string            `json:"provider_reference"`
	ProviderResponse  []byte            `json:"-"` // raw payload kept for audit and requery
	Status            VASPurchaseStatus `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (t VASServiceType) Valid() bool {
	switch t {
	case VASAirtime, VASData, VASElectricity, VASTV:
		return true
	}
	return false
}
