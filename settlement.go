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

package soko

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sokomarket/soko/config"
	"github.com/sokomarket/soko/database"
	"github.com/sokomarket/soko/internal/notification"
	"github.com/sokomarket/soko/model"
)

// SettlementResult is the outcome of an escrow release. AlreadyProcessed is
// set when the release turned out to be a replay of an earlier settlement, in
// which case the existing ledger entry is returned.
type SettlementResult struct {
	Order            *model.Order             `json:"order"`
	Entry            *model.WalletLedgerEntry `json:"ledger_entry"`
	Fee              int64                    `json:"fee"`
	Net              int64                    `json:"net"`
	AlreadyProcessed bool                     `json:"already_processed"`
}

// ReleaseEscrow moves the order's escrow to released and credits the seller's
// wallet ledger with the net amount. The unique ledger reference makes the
// whole operation idempotent: replays surface the original entry instead of
// paying twice.
func (s *Soko) ReleaseEscrow(ctx context.Context, order *model.Order, method string) (*SettlementResult, error) {
	ctx, span := tracer.Start(ctx, "ReleaseEscrow")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	reference := model.EscrowReleaseReference(method, order.OrderID)

	// Fast path for replays: if the reference already has an entry, this
	// settlement happened.
	if existing, err := s.datasource.GetLedgerEntryByRef(ctx, reference); err == nil {
		return s.replayResult(ctx, order, existing)
	}

	fee, net := model.SplitSettlement(order.TotalAmount, conf.Escrow.FeePercent)

	released, err := s.datasource.ReleaseOrderEscrow(ctx, order.OrderID)
	if err != nil {
		return nil, err
	}
	if !released {
		// Someone else moved the escrow first. If their ledger entry is
		// already visible this is a replay, otherwise the order was settled
		// through another method.
		if existing, err := s.datasource.GetLedgerEntryByRef(ctx, reference); err == nil {
			return s.replayResult(ctx, order, existing)
		}
		return nil, fmt.Errorf("escrow for order %s is no longer holding", order.OrderID)
	}

	entry := &model.WalletLedgerEntry{
		UserID:          order.SellerID,
		Amount:          net,
		TransactionType: model.TransactionTypeEarning,
		Status:          model.EntryStatusSuccess,
		Reference:       reference,
		MetaData: map[string]interface{}{
			"order_id":     order.OrderID,
			"buyer_id":     order.BuyerID,
			"product_id":   order.ProductID,
			"gross_amount": order.TotalAmount,
			"fee_amount":   fee,
			"method":       method,
		},
	}

	entry, err = s.datasource.RecordLedgerEntry(ctx, entry)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateReference) {
			// Lost the insert race to a concurrent replay. The money moved
			// exactly once; hand back the winning entry.
			if existing, refErr := s.datasource.GetLedgerEntryByRef(ctx, reference); refErr == nil {
				return s.replayResult(ctx, order, existing)
			}
			return nil, err
		}
		s.compensateRelease(ctx, order)
		return nil, err
	}

	order.Status = model.OrderStatusCompleted
	order.EscrowStatus = model.EscrowStatusReleased

	s.dispatchSettlementNotifications(order, net)

	return &SettlementResult{
		Order:            order,
		Entry:            entry,
		Fee:              fee,
		Net:              net,
		AlreadyProcessed: false,
	}, nil
}

func (s *Soko) replayResult(ctx context.Context, order *model.Order, entry *model.WalletLedgerEntry) (*SettlementResult, error) {
	// Re-read the order so the replay response reflects its settled state.
	current, err := s.datasource.GetOrder(ctx, order.OrderID)
	if err != nil {
		current = order
	}
	fee := current.TotalAmount - entry.Amount
	return &SettlementResult{
		Order:            current,
		Entry:            entry,
		Fee:              fee,
		Net:              entry.Amount,
		AlreadyProcessed: true,
	}, nil
}

// compensateRelease undoes the escrow flip after a failed ledger insert so
// the order does not end up released with no matching wallet credit. A
// failure here leaves inconsistent money state, which goes straight to the
// operator channel.
func (s *Soko) compensateRelease(ctx context.Context, order *model.Order) {
	err := s.datasource.RevertOrderEscrow(ctx, order.OrderID, model.OrderStatusDelivered, model.EscrowStatusHolding)
	if err != nil {
		notification.NotifyError(fmt.Errorf("escrow release compensation failed for order %s: %v", order.OrderID, err))
		return
	}
	logrus.Warnf("settlement for order %s rolled back after ledger failure", order.OrderID)
}

// settlementNotifications builds the notifications one settlement produces.
// The seller is told about the net credit, never the gross order amount.
func settlementNotifications(order *model.Order, net int64) []NewNotification {
	return []NewNotification{
		{
			Event:  EventWalletCredited,
			UserID: order.SellerID,
			Payload: map[string]interface{}{
				"order_id": order.OrderID,
				"amount":   net,
			},
		},
		{
			Event:  EventEscrowReleased,
			UserID: order.BuyerID,
			Payload: map[string]interface{}{
				"order_id": order.OrderID,
				"status":   order.Status,
			},
		},
	}
}

// dispatchSettlementNotifications enqueues the post-settlement notifications
// off the request path. Notification failures never unwind a settlement.
func (s *Soko) dispatchSettlementNotifications(order *model.Order, net int64) {
	go func() {
		for _, n := range settlementNotifications(order, net) {
			if err := s.queue.queueNotification(n); err != nil {
				logrus.Errorf("failed to enqueue %s notification for order %s: %v", n.Event, order.OrderID, err)
			}
		}
	}()
}
