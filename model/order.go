package model

import (
	"time"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusPacked     = "packed"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCompleted  = "completed"
	OrderStatusDisputed   = "disputed"
	OrderStatusCancelled  = "cancelled"

	EscrowStatusHolding  = "holding"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
)

// Order is owned by the order placement service. This core reads it, and
// writes only status and escrow_status during settlement.
type Order struct {
	ID           int64                  `json:"-"`
	OrderID      string                 `json:"order_id"`
	BuyerID      string                 `json:"buyer_id"`
	SellerID     string                 `json:"seller_id"`
	ProductID    string                 `json:"product_id"`
	Quantity     int64                  `json:"quantity"`
	TotalAmount  int64                  `json:"total_amount"`
	Status       string                 `json:"status"`
	EscrowStatus string                 `json:"escrow_status"`
	CreatedAt    time.Time              `json:"created_at"`
	MetaData     map[string]interface{} `json:"meta_data,omitempty"`
}

// DeliveryVerifiable reports whether the order has progressed far enough for
// the buyer to hand over a delivery credential.
func (o *Order) DeliveryVerifiable() bool {
	return o.Status == OrderStatusShipped || o.Status == OrderStatusDelivered
}
