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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/sokomarket/soko/internal/apierror"
	"github.com/sokomarket/soko/model"
)

func TestSaveCredentialSupersedesPrior(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM delivery_credentials").
		WithArgs("ord_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO delivery_credentials").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	credential, err := ds.SaveCredential(context.Background(), &model.Credential{
		OrderID:        "ord_1",
		BuyerID:        "usr_buyer",
		SellerID:       "usr_seller",
		Kind:           model.CredentialKindQR,
		SecretMaterial: "token",
		ExpiresAt:      time.Now().Add(30 * time.Minute),
	})
	assert.NoError(t, err)
	assert.Contains(t, credential.CredentialID, "crd_")
	assert.Equal(t, model.CredentialStatusActive, credential.Status)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSaveCredentialRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM delivery_credentials").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO delivery_credentials").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = ds.SaveCredential(context.Background(), &model.Credential{OrderID: "ord_1"})
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrInternalServer, apierror.Code(err))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

type spyCache struct {
	deleted []string
}

func (s *spyCache) Set(_ context.Context, _ string, _ interface{}, _ time.Duration) error {
	return nil
}

func (s *spyCache) Get(_ context.Context, _ string, _ interface{}) error {
	return nil
}

func (s *spyCache) Delete(_ context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	return nil
}

func TestDeleteCredentialDropsCachedEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	spy := &spyCache{}
	ds := Datasource{Conn: db, Cache: spy}

	mock.ExpectQuery("DELETE FROM delivery_credentials").
		WithArgs("crd_stale").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow("ord_1"))

	err = ds.DeleteCredential(context.Background(), "crd_stale")
	assert.NoError(t, err)
	assert.Contains(t, spy.deleted, "credential:active:ord_1")
}

func TestDeleteCredentialAlreadyGone(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	spy := &spyCache{}
	ds := Datasource{Conn: db, Cache: spy}

	mock.ExpectQuery("DELETE FROM delivery_credentials").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}))

	err = ds.DeleteCredential(context.Background(), "crd_gone")
	assert.NoError(t, err)
	assert.Empty(t, spy.deleted)
}

func TestMarkCredentialScannedWinsRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("UPDATE delivery_credentials").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow("ord_1"))

	scanned, err := ds.MarkCredentialScanned(context.Background(), "crd_1")
	assert.NoError(t, err)
	assert.True(t, scanned)
}

func TestMarkCredentialScannedLosesRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("UPDATE delivery_credentials").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}))

	scanned, err := ds.MarkCredentialScanned(context.Background(), "crd_1")
	assert.NoError(t, err)
	assert.False(t, scanned)
}
