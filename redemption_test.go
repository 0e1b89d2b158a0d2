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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/sokomarket/soko/internal/apierror"
	"github.com/sokomarket/soko/model"
)

func signedTestToken(t *testing.T, order *model.Order) string {
	t.Helper()
	token, err := model.SignDeliveryToken(model.TokenPayload{
		OrderID:  order.OrderID,
		BuyerID:  order.BuyerID,
		SellerID: order.SellerID,
		IssuedAt: time.Now().Unix(),
		Nonce:    "nonce-1",
	}, []byte("test-signing-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %s", err)
	}
	return token
}

func activeQRCredential(order *model.Order, token string) *model.Credential {
	return &model.Credential{
		CredentialID:   "crd_qr",
		OrderID:        order.OrderID,
		BuyerID:        order.BuyerID,
		SellerID:       order.SellerID,
		Kind:           model.CredentialKindQR,
		SecretMaterial: token,
		ExpiresAt:      time.Now().Add(10 * time.Minute),
		Status:         model.CredentialStatusActive,
		CreatedAt:      time.Now(),
	}
}

func activeCodeCredential(order *model.Order, code string) *model.Credential {
	return &model.Credential{
		CredentialID:   "crd_code",
		OrderID:        order.OrderID,
		BuyerID:        order.BuyerID,
		SellerID:       order.SellerID,
		Kind:           model.CredentialKindCode,
		SecretMaterial: model.HashDeliveryCode(code, order.OrderID, order.SellerID),
		ExpiresAt:      time.Now().Add(10 * time.Minute),
		Status:         model.CredentialStatusActive,
		CreatedAt:      time.Now(),
	}
}

// expectSettlement covers the shared database trail of a successful release:
// no prior ledger entry, the escrow compare-and-set, the wallet credit, and
// the audit record.
func expectSettlement(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT .+ FROM wallet_ledger_entries").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO delivery_scan_logs").WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestRedeemQR(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()
	token := signedTestToken(t, order)
	credential := activeQRCredential(order, token)

	mock.ExpectQuery("SELECT .+ FROM delivery_credentials").WillReturnRows(credentialRows(credential))
	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(orderRows(order))
	mock.ExpectQuery("UPDATE delivery_credentials").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow(order.OrderID))
	expectSettlement(mock)

	result, err := s.RedeemQR(context.Background(), token, order.SellerID)
	assert.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, int64(200), result.Fee)
	assert.Equal(t, int64(9800), result.Net)
	assert.Equal(t, model.EscrowStatusReleased, result.Order.EscrowStatus)
	assert.Equal(t, order.SellerID, result.Entry.UserID)
	assert.Equal(t, model.EscrowReleaseReference(model.CredentialKindQR, order.OrderID), result.Entry.Reference)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRedeemQRTamperedToken(t *testing.T) {
	s, _, _ := newTestSoko(t)
	order := shippedOrder()
	token := signedTestToken(t, order)

	_, err := s.RedeemQR(context.Background(), token+"x", order.SellerID)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, apierror.Code(err))
}

func TestRedeemQRWrongSeller(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()
	token := signedTestToken(t, order)
	credential := activeQRCredential(order, token)

	mock.ExpectQuery("SELECT .+ FROM delivery_credentials").WillReturnRows(credentialRows(credential))
	mock.ExpectExec("INSERT INTO delivery_scan_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := s.RedeemQR(context.Background(), token, "usr_impostor")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrWrongSeller, apierror.Code(err))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRedeemQRExpiredCredentialIsDeleted(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()
	token := signedTestToken(t, order)
	credential := activeQRCredential(order, token)
	credential.ExpiresAt = time.Now().Add(-1 * time.Minute)

	mock.ExpectQuery("SELECT .+ FROM delivery_credentials").WillReturnRows(credentialRows(credential))
	mock.ExpectQuery("DELETE FROM delivery_credentials").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow(order.OrderID))
	mock.ExpectExec("INSERT INTO delivery_scan_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := s.RedeemQR(context.Background(), token, order.SellerID)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrExpired, apierror.Code(err))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRedeemQRLosesScanRace(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()
	token := signedTestToken(t, order)
	credential := activeQRCredential(order, token)

	mock.ExpectQuery("SELECT .+ FROM delivery_credentials").WillReturnRows(credentialRows(credential))
	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(orderRows(order))
	// The compare-and-set matches no row: a concurrent scan got there first.
	mock.ExpectQuery("UPDATE delivery_credentials").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}))
	mock.ExpectExec("INSERT INTO delivery_scan_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := s.RedeemQR(context.Background(), token, order.SellerID)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrAlreadyScanned, apierror.Code(err))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRedeemCode(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()
	credential := activeCodeCredential(order, "4815162")

	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(orderRows(order))
	mock.ExpectQuery("SELECT .+ FROM delivery_credentials").WillReturnRows(credentialRows(credential))
	mock.ExpectQuery("UPDATE delivery_credentials").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow(order.OrderID))
	expectSettlement(mock)

	result, err := s.RedeemCode(context.Background(), order.OrderID, "4815162", order.SellerID)
	assert.NoError(t, err)
	assert.Equal(t, int64(9800), result.Net)
	assert.Equal(t, model.EscrowReleaseReference(model.CredentialKindCode, order.OrderID), result.Entry.Reference)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRedeemCodeWrongCodeKeepsCredential(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()
	credential := activeCodeCredential(order, "4815162")

	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(orderRows(order))
	mock.ExpectQuery("SELECT .+ FROM delivery_credentials").WillReturnRows(credentialRows(credential))
	// Only the audit insert follows. No DELETE: a typo must not burn the code.
	mock.ExpectExec("INSERT INTO delivery_scan_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := s.RedeemCode(context.Background(), order.OrderID, "1234567", order.SellerID)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInvalidCode, apierror.Code(err))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRedeemCodeWrongSeller(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()

	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(orderRows(order))
	mock.ExpectExec("INSERT INTO delivery_scan_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := s.RedeemCode(context.Background(), order.OrderID, "4815162", "usr_impostor")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrWrongSeller, apierror.Code(err))
}

func TestRedeemCodeEscrowAlreadyReleased(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()
	order.Status = model.OrderStatusCompleted
	order.EscrowStatus = model.EscrowStatusReleased

	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(orderRows(order))
	mock.ExpectExec("INSERT INTO delivery_scan_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := s.RedeemCode(context.Background(), order.OrderID, "4815162", order.SellerID)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrEscrowReleased, apierror.Code(err))
}

func TestRedeemCodeWrongKind(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()
	token := signedTestToken(t, order)
	credential := activeQRCredential(order, token)

	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(orderRows(order))
	mock.ExpectQuery("SELECT .+ FROM delivery_credentials").WillReturnRows(credentialRows(credential))
	mock.ExpectExec("INSERT INTO delivery_scan_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := s.RedeemCode(context.Background(), order.OrderID, "4815162", order.SellerID)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrWrongKind, apierror.Code(err))
}

func TestGetScanAttempts(t *testing.T) {
	s, mock, _ := newTestSoko(t)
	order := shippedOrder()

	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(orderRows(order))
	mock.ExpectQuery("SELECT .+ FROM delivery_scan_logs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "scan_id", "credential_id", "order_id", "seller_id", "result", "error_message", "meta_data", "created_at"}).
			AddRow(2, "scn_2", "crd_qr", order.OrderID, order.SellerID, model.ScanResultReleased, "", nil, time.Now()).
			AddRow(1, "scn_1", "crd_qr", order.OrderID, "usr_impostor", model.ScanResultWrongSeller, "", nil, time.Now().Add(-time.Minute)))

	entries, err := s.GetScanAttempts(context.Background(), order.OrderID, order.SellerID, 10, 0)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, model.ScanResultReleased, entries[0].Result)
	assert.Equal(t, model.ScanResultWrongSeller, entries[1].Result)
}
