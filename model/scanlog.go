package model

import (
	"time"
)

// Scan results. Repeated WRONG_SELLER or INVALID_CODE entries for one order
// are a fraud signal consumed by a separate detection service, so every
// redemption attempt is recorded with its specific outcome.
const (
	ScanResultReleased        = "RELEASED"
	ScanResultOrderNotFound   = "ORDER_NOT_FOUND"
	ScanResultNotFound        = "NOT_FOUND"
	ScanResultAlreadyScanned  = "ALREADY_SCANNED"
	ScanResultExpired         = "EXPIRED"
	ScanResultWrongSeller     = "WRONG_SELLER"
	ScanResultWrongKind       = "WRONG_KIND"
	ScanResultInvalidCode     = "INVALID_CODE"
	ScanResultEscrowReleased  = "ESCROW_ALREADY_RELEASED"
	ScanResultSettlementError = "SETTLEMENT_ERROR"
)

// ScanLogEntry is an append-only forensic record of a redemption attempt.
// It is never mutated after insert.
type ScanLogEntry struct {
	ID           int64                  `json:"-"`
	ScanID       string                 `json:"scan_id"`
	CredentialID string                 `json:"credential_id,omitempty"`
	OrderID      string                 `json:"order_id"`
	SellerID     string                 `json:"seller_id"`
	Result       string                 `json:"result"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	MetaData     map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
