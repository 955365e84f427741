package journal

import (
	"testing"

	"papertrade/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeHashDeterministic(t *testing.T) {
	amount := decimal.RequireFromString("1000")
	a := computeHash("e1", "u1", amount, types.LedgerEntryTypeReserve, 1, nil)
	b := computeHash("e1", "u1", amount, types.LedgerEntryTypeReserve, 1, nil)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestComputeHashChains(t *testing.T) {
	amount := decimal.RequireFromString("1000")
	genesis := computeHash("e1", "u1", amount, types.LedgerEntryTypeReserve, 1, nil)
	next := computeHash("e2", "u1", amount, types.LedgerEntryTypeRelease, 2, &genesis)

	assert.NotEqual(t, genesis, next)

	// Tampering with any linked field produces a different chain hash.
	tampered := computeHash("e2", "u1", decimal.RequireFromString("999"), types.LedgerEntryTypeRelease, 2, &genesis)
	assert.NotEqual(t, next, tampered)

	other := computeHash("e2", "u1", amount, types.LedgerEntryTypeRelease, 2, nil)
	assert.NotEqual(t, next, other)
}
