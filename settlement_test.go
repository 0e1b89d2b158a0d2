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
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/sokomarket/soko/model"
)

func ledgerEntryRows(entry *model.WalletLedgerEntry) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "entry_id", "user_id", "amount", "transaction_type", "status", "reference", "meta_data", "created_at"}).
		AddRow(1, entry.EntryID, entry.UserID, entry.Amount, entry.TransactionType, entry.Status, entry.Reference, nil, entry.CreatedAt)
}

func TestReleaseEscrow(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()

	mock.ExpectQuery("SELECT .+ FROM wallet_ledger_entries").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := s.ReleaseEscrow(context.Background(), order, model.CredentialKindQR)
	assert.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, int64(200), result.Fee)
	assert.Equal(t, int64(9800), result.Net)
	assert.Equal(t, int64(9800), result.Entry.Amount)
	assert.Equal(t, model.OrderStatusCompleted, result.Order.Status)
	assert.Contains(t, result.Entry.EntryID, "wal_")

	// The entry metadata identifies the settlement without a join back to the
	// order row.
	assert.Equal(t, order.BuyerID, result.Entry.MetaData["buyer_id"])
	assert.Equal(t, order.ProductID, result.Entry.MetaData["product_id"])
	assert.Equal(t, order.TotalAmount, result.Entry.MetaData["gross_amount"])
	assert.Equal(t, int64(200), result.Entry.MetaData["fee_amount"])
	assert.Equal(t, model.CredentialKindQR, result.Entry.MetaData["method"])

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestReleaseEscrowReplayReturnsOriginalEntry(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()
	settled := shippedOrder()
	settled.Status = model.OrderStatusCompleted
	settled.EscrowStatus = model.EscrowStatusReleased

	existing := &model.WalletLedgerEntry{
		EntryID:         "wal_original",
		UserID:          order.SellerID,
		Amount:          9800,
		TransactionType: model.TransactionTypeEarning,
		Status:          model.EntryStatusSuccess,
		Reference:       model.EscrowReleaseReference(model.CredentialKindQR, order.OrderID),
		CreatedAt:       time.Now().Add(-time.Hour),
	}

	mock.ExpectQuery("SELECT .+ FROM wallet_ledger_entries").WillReturnRows(ledgerEntryRows(existing))
	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(orderRows(settled))

	result, err := s.ReleaseEscrow(context.Background(), order, model.CredentialKindQR)
	assert.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)
	assert.Equal(t, "wal_original", result.Entry.EntryID)
	assert.Equal(t, int64(9800), result.Net)
	assert.Equal(t, int64(200), result.Fee)
	assert.Equal(t, model.EscrowStatusReleased, result.Order.EscrowStatus)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestReleaseEscrowLedgerFailureRollsBack(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()

	mock.ExpectQuery("SELECT .+ FROM wallet_ledger_entries").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_ledger_entries").WillReturnError(errors.New("connection reset"))
	// Compensating write puts the order back to delivered/holding.
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := s.ReleaseEscrow(context.Background(), order, model.CredentialKindQR)
	assert.Error(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestReleaseEscrowLostCASRace(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()

	existing := &model.WalletLedgerEntry{
		EntryID:         "wal_winner",
		UserID:          order.SellerID,
		Amount:          9800,
		TransactionType: model.TransactionTypeEarning,
		Status:          model.EntryStatusSuccess,
		Reference:       model.EscrowReleaseReference(model.CredentialKindQR, order.OrderID),
		CreatedAt:       time.Now(),
	}
	settled := shippedOrder()
	settled.Status = model.OrderStatusCompleted
	settled.EscrowStatus = model.EscrowStatusReleased

	mock.ExpectQuery("SELECT .+ FROM wallet_ledger_entries").WillReturnError(sql.ErrNoRows)
	// Zero rows affected: a concurrent settlement moved the escrow first.
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .+ FROM wallet_ledger_entries").WillReturnRows(ledgerEntryRows(existing))
	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(orderRows(settled))

	result, err := s.ReleaseEscrow(context.Background(), order, model.CredentialKindQR)
	assert.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)
	assert.Equal(t, "wal_winner", result.Entry.EntryID)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSettlementNotificationsCarryNetAmount(t *testing.T) {
	order := shippedOrder()
	order.Status = model.OrderStatusCompleted
	order.EscrowStatus = model.EscrowStatusReleased

	notifications := settlementNotifications(order, 9800)
	assert.Len(t, notifications, 2)

	seller := notifications[0]
	assert.Equal(t, EventWalletCredited, seller.Event)
	assert.Equal(t, order.SellerID, seller.UserID)
	payload := seller.Payload.(map[string]interface{})
	// The seller hears about the net credit, not the 10,000 gross.
	assert.Equal(t, int64(9800), payload["amount"])

	buyer := notifications[1]
	assert.Equal(t, EventEscrowReleased, buyer.Event)
	assert.Equal(t, order.BuyerID, buyer.UserID)
}
