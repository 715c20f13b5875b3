package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ReferenceGenerator mints externally-visible transaction references.
// References are prefixed ULIDs: sortable by creation time and unique
// without a round-trip to the database.
type ReferenceGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewReferenceGenerator() *ReferenceGenerator {
	return &ReferenceGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (g *ReferenceGenerator) newULID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

func (g *ReferenceGenerator) generatePrefixed(prefix string) string {
	return fmt.Sprintf("%s-%s", strings.ToUpper(prefix), g.newULID())
}

// GenerateTransactionRef mints a generic ledger-entry reference.
// Format: TXN-{ULID}
func (g *ReferenceGenerator) GenerateTransactionRef() string {
	return g.generatePrefixed("TXN")
}

// GenerateTransferRef mints a peer-transfer reference.
// Format: TRF-{ULID}
func (g *ReferenceGenerator) GenerateTransferRef() string {
	return g.generatePrefixed("TRF")
}

// GenerateWithdrawalRef mints a bank-withdrawal reference.
// Format: WDL-{ULID}
func (g *ReferenceGenerator) GenerateWithdrawalRef() string {
	return g.generatePrefixed("WDL")
}

// GeneratePurchaseRef mints a VAS-purchase request id sent to the
// provider. Format: VAS-{ULID}
func (g *ReferenceGenerator) GeneratePurchaseRef() string {
	return g.generatePrefixed("VAS")
}

// GenerateTopUpRef mints a top-up reference.
// Format: TOP-{ULID}
func (g *ReferenceGenerator) GenerateTopUpRef() string {
	return g.generatePrefixed("TOP")
}

// ValidateReference checks the PREFIX-{ULID} shape without hitting
// storage. Prefix must match when non-empty.
func ValidateReference(ref, prefix string) bool {
	parts := strings.SplitN(ref, "-", 2)
	if len(parts) != 2 {
		return false
	}
	if prefix != "" && parts[0] != strings.ToUpper(prefix) {
		return false
	}
	if len(parts[1]) != 26 {
		return false
	}
	_, err := ulid.Parse(parts[1])
	return err == nil
}
