package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscrowReleaseReference(t *testing.T) {
	assert.Equal(t, "qr-escrow-release:ord_123", EscrowReleaseReference("qr", "ord_123"))
	assert.Equal(t, "code-escrow-release:ord_123", EscrowReleaseReference("code", "ord_123"))
}

func TestSplitSettlement(t *testing.T) {
	fee, net := SplitSettlement(10000, 0.02)
	assert.Equal(t, int64(200), fee)
	assert.Equal(t, int64(9800), net)

	// fee + net always reconstructs the gross amount
	for _, total := range []int64{1, 49, 50, 99, 101, 12345, 999999} {
		fee, net := SplitSettlement(total, 0.02)
		assert.Equal(t, total, fee+net)
		assert.GreaterOrEqual(t, fee, int64(0))
	}
}

func TestSplitSettlementRounding(t *testing.T) {
	// 2% of 49 is 0.98, rounds to 1
	fee, net := SplitSettlement(49, 0.02)
	assert.Equal(t, int64(1), fee)
	assert.Equal(t, int64(48), net)

	// 2% of 24 is 0.48, rounds to 0
	fee, net = SplitSettlement(24, 0.02)
	assert.Equal(t, int64(0), fee)
	assert.Equal(t, int64(24), net)
}
