package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferencesCarryTheirPrefix(t *testing.T) {
	g := NewReferenceGenerator()
	cases := []struct {
		prefix string
		mint   func() string
	}{
		{"TXN", g.GenerateTransactionRef},
		{"TRF", g.GenerateTransferRef},
		{"WDL", g.GenerateWithdrawalRef},
		{"VAS", g.GeneratePurchaseRef},
		{"TOP", g.GenerateTopUpRef},
	}
	for _, tc := range cases {
		ref := tc.mint()
		assert.True(t, strings.HasPrefix(ref, tc.prefix+"-"), "ref %s", ref)
		assert.True(t, ValidateReference(ref, tc.prefix), "ref %s", ref)
	}
}

func TestReferencesAreUniqueAndSortable(t *testing.T) {
	g := NewReferenceGenerator()

	refs := make([]string, 0, 1000)
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		ref := g.GenerateTransactionRef()
		require.False(t, seen[ref], "duplicate reference %s", ref)
		seen[ref] = true
		refs = append(refs, ref)
	}

	// Monotonic entropy keeps same-millisecond references ordered.
	for i := 1; i < len(refs); i++ {
		assert.True(t, refs[i-1] < refs[i], "%s not before %s", refs[i-1], refs[i])
	}
}

func TestValidateReference(t *testing.T) {
	g := NewReferenceGenerator()
	ref := g.GenerateTransferRef()

	assert.True(t, ValidateReference(ref, "TRF"))
	assert.True(t, ValidateReference(ref, "trf"), "prefix check is case-insensitive on the expectation")
	assert.True(t, ValidateReference(ref, ""), "empty prefix skips the prefix check")

	assert.False(t, ValidateReference(ref, "WDL"))
	assert.False(t, ValidateReference("TRF-", "TRF"))
	assert.False(t, ValidateReference("TRF-notaulid", "TRF"))
	assert.False(t, ValidateReference("noseparator", "TRF"))
	assert.False(t, ValidateReference("", ""))
}
