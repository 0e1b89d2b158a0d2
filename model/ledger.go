package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeEarning = "earning"
	EntryStatusSuccess     = "success"
)

// WalletLedgerEntry is an append-only credit on a user's wallet ledger.
// Balance aggregation happens elsewhere; this core only ever inserts.
type WalletLedgerEntry struct {
	ID              int64                  `json:"-"`
	EntryID         string                 `json:"entry_id"`
	UserID          string                 `json:"user_id"`
	Amount          int64                  `json:"amount"`
	TransactionType string                 `json:"transaction_type"`
	Status          string                 `json:"status"`
	Reference       string                 `json:"reference"`
	MetaData        map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// EscrowReleaseReference builds the idempotency reference that ties one
// escrow release to at most one ledger entry. Uniqueness is enforced by a
// database constraint on the reference column.
func EscrowReleaseReference(method, orderID string) string {
	return fmt.Sprintf("%s-escrow-release:%s", method, orderID)
}

// SplitSettlement carves the platform fee out of a gross amount in minor
// units. Fee is rounded half away from zero; the net always makes fee+net
// equal the gross amount.
func SplitSettlement(total int64, feePercent float64) (fee int64, net int64) {
	fee = decimal.NewFromInt(total).
		Mul(decimal.NewFromFloat(feePercent)).
		Round(0).
		IntPart()
	return fee, total - fee
}
