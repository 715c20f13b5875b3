package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ledger-service/internal/domain"
)

// Policy is one fee rule: a percentage in basis points plus an optional
// fixed component, clamped by min/max. A zero policy charges nothing.
type Policy struct {
	BasisPoints int64
	FixedFee    decimal.Decimal
	MinFee      decimal.Decimal
	MaxFee      decimal.Decimal // zero means no cap
}

// Calculator resolves fees per entry category. Policies are set once at
// startup from config; there is no per-request rule lookup.
type Calculator struct {
	policies map[domain.EntryCategory]Policy
}

func NewCalculator() *Calculator {
	return &Calculator{policies: make(map[domain.EntryCategory]Policy)}
}

func (c *Calculator) SetPolicy(category domain.EntryCategory, p Policy) error {
	if p.BasisPoints < 0 || p.BasisPoints > 10000 {
		return fmt.Errorf("basis points out of range (0-10000): %d", p.BasisPoints)
	}
	c.policies[category] = p
	return nil
}

// Fee computes the fee for an amount in the given category, rounded to
// 2 decimal places.
func (c *Calculator) Fee(category domain.EntryCategory, amount decimal.Decimal) decimal.Decimal {
	p, ok := c.policies[category]
	if !ok {
		return decimal.Zero
	}

	rate := decimal.NewFromInt(p.BasisPoints).Div(decimal.NewFromInt(10000))
	fee := amount.Mul(rate).Add(p.FixedFee)

	if fee.LessThan(p.MinFee) {
		fee = p.MinFee
	}
	if p.MaxFee.IsPositive() && fee.GreaterThan(p.MaxFee) {
		fee = p.MaxFee
	}

	return fee.Round(2)
}
