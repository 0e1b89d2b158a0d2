/*
Copyright 2025 Soko Market Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sokomarket/soko/internal/apierror"
	"github.com/sokomarket/soko/model"
	"github.com/lib/pq"
)

func (d Datasource) CreateOrder(ctx context.Context, order *model.Order) (*model.Order, error) {
	metaDataJSON, err := json.Marshal(order.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	if order.OrderID == "" {
		order.OrderID = model.GenerateUUIDWithSuffix("ord")
	}
	order.CreatedAt = time.Now()
	if order.Status == "" {
		order.Status = model.OrderStatusPending
	}
	if order.EscrowStatus == "" {
		order.EscrowStatus = model.EscrowStatusHolding
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO orders (order_id, buyer_id, seller_id, product_id, quantity, total_amount, status, escrow_status, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, order.OrderID, order.BuyerID, order.SellerID, order.ProductID, order.Quantity, order.TotalAmount, order.Status, order.EscrowStatus, order.CreatedAt, metaDataJSON)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Order with this ID already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create order", err)
	}

	return order, nil
}

func (d Datasource) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, order_id, buyer_id, seller_id, product_id, quantity, total_amount, status, escrow_status, created_at, meta_data
		FROM orders
		WHERE order_id = $1
	`, orderID)

	return scanOrder(row)
}

func (d Datasource) GetOrderForSeller(ctx context.Context, orderID, sellerID string) (*model.Order, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, order_id, buyer_id, seller_id, product_id, quantity, total_amount, status, escrow_status, created_at, meta_data
		FROM orders
		WHERE order_id = $1 AND seller_id = $2
	`, orderID, sellerID)

	return scanOrder(row)
}

func (d Datasource) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE orders SET status = $2 WHERE order_id = $1
	`, orderID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order status", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrOrderNotFound, "Order not found", nil)
	}
	return nil
}

// ReleaseOrderEscrow is the compare-and-set that moves escrow out of holding.
// The WHERE clause carries the expected state, so a concurrent release makes
// exactly one caller see a true result.
func (d Datasource) ReleaseOrderEscrow(ctx context.Context, orderID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, escrow_status = $3
		WHERE order_id = $1 AND escrow_status = $4
	`, orderID, model.OrderStatusCompleted, model.EscrowStatusReleased, model.EscrowStatusHolding)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release order escrow", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release order escrow", err)
	}
	return rows == 1, nil
}

// RevertOrderEscrow is the compensating write for a settlement that released
// escrow but failed to record its ledger entry.
func (d Datasource) RevertOrderEscrow(ctx context.Context, orderID, orderStatus, escrowStatus string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE orders SET status = $2, escrow_status = $3 WHERE order_id = $1
	`, orderID, orderStatus, escrowStatus)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to revert order escrow", err)
	}
	return nil
}

func (d Datasource) GetOrdersBySeller(ctx context.Context, sellerID string, limit, offset int) ([]*model.Order, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, order_id, buyer_id, seller_id, product_id, quantity, total_amount, status, escrow_status, created_at, meta_data
		FROM orders
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, sellerID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve orders", err)
	}
	defer rows.Close()

	orders := []*model.Order{}
	for rows.Next() {
		order := model.Order{}
		var metaDataJSON []byte
		err = rows.Scan(&order.ID, &order.OrderID, &order.BuyerID, &order.SellerID, &order.ProductID, &order.Quantity, &order.TotalAmount, &order.Status, &order.EscrowStatus, &order.CreatedAt, &metaDataJSON)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan order data", err)
		}
		if len(metaDataJSON) > 0 {
			if err = json.Unmarshal(metaDataJSON, &order.MetaData); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
			}
		}
		orders = append(orders, &order)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over orders", err)
	}

	return orders, nil
}

func scanOrder(row *sql.Row) (*model.Order, error) {
	order := model.Order{}
	var metaDataJSON []byte
	err := row.Scan(&order.ID, &order.OrderID, &order.BuyerID, &order.SellerID, &order.ProductID, &order.Quantity, &order.TotalAmount, &order.Status, &order.EscrowStatus, &order.CreatedAt, &metaDataJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrOrderNotFound, "Order not found", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve order", err)
	}
	if len(metaDataJSON) > 0 {
		if err = json.Unmarshal(metaDataJSON, &order.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	return &order, nil
}
