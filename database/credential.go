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
	"fmt"
	"time"

	"github.com/sokomarket/soko/internal/apierror"
	"github.com/sokomarket/soko/model"
)

const activeCredentialCacheTTL = 5 * time.Minute

func activeCredentialCacheKey(orderID string) string {
	return fmt.Sprintf("credential:active:%s", orderID)
}

// SaveCredential supersedes whatever credential the order currently has and
// inserts the new one, in one transaction. A stale QR on the buyer's screen
// stops working the moment a new one is issued.
func (d Datasource) SaveCredential(ctx context.Context, credential *model.Credential) (*model.Credential, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM delivery_credentials WHERE order_id = $1
	`, credential.OrderID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to supersede prior credential", err)
	}

	credential.CredentialID = model.GenerateUUIDWithSuffix("crd")
	credential.Status = model.CredentialStatusActive
	credential.CreatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO delivery_credentials (credential_id, order_id, buyer_id, seller_id, kind, secret_material, expires_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, credential.CredentialID, credential.OrderID, credential.BuyerID, credential.SellerID, credential.Kind, credential.SecretMaterial, credential.ExpiresAt, credential.Status, credential.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save credential", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit credential", err)
	}

	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, activeCredentialCacheKey(credential.OrderID))
	}

	return credential, nil
}

func (d Datasource) GetCredentialByToken(ctx context.Context, token string) (*model.Credential, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, credential_id, order_id, buyer_id, seller_id, kind, secret_material, expires_at, status, scanned_at, created_at
		FROM delivery_credentials
		WHERE secret_material = $1 AND kind = $2
	`, token, model.CredentialKindQR)

	return scanCredential(row)
}

func (d Datasource) GetActiveCredentialForOrder(ctx context.Context, orderID string) (*model.Credential, error) {
	if d.Cache != nil {
		cached := model.Credential{}
		if err := d.Cache.Get(ctx, activeCredentialCacheKey(orderID), &cached); err == nil && cached.CredentialID != "" {
			return &cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, credential_id, order_id, buyer_id, seller_id, kind, secret_material, expires_at, status, scanned_at, created_at
		FROM delivery_credentials
		WHERE order_id = $1 AND status = $2
	`, orderID, model.CredentialStatusActive)

	credential, err := scanCredential(row)
	if err != nil {
		return nil, err
	}

	if d.Cache != nil {
		// Cache errors are swallowed; the database already answered.
		_ = d.Cache.Set(ctx, activeCredentialCacheKey(orderID), credential, activeCredentialCacheTTL)
	}

	return credential, nil
}

// MarkCredentialScanned flips the credential from active to scanned. The
// status predicate makes the flip first-wins under concurrent redemption, so
// exactly one caller sees true.
func (d Datasource) MarkCredentialScanned(ctx context.Context, credentialID string) (bool, error) {
	row := d.Conn.QueryRowContext(ctx, `
		UPDATE delivery_credentials
		SET status = $2, scanned_at = $3
		WHERE credential_id = $1 AND status = $4
		RETURNING order_id
	`, credentialID, model.CredentialStatusScanned, time.Now(), model.CredentialStatusActive)

	var orderID string
	err := row.Scan(&orderID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark credential scanned", err)
	}

	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, activeCredentialCacheKey(orderID))
	}
	return true, nil
}

// DeleteCredential removes the credential and drops the order's cached
// active-credential entry, so a status read right after an expiry cleanup
// sees the absence immediately instead of the cached row.
func (d Datasource) DeleteCredential(ctx context.Context, credentialID string) error {
	row := d.Conn.QueryRowContext(ctx, `
		DELETE FROM delivery_credentials WHERE credential_id = $1
		RETURNING order_id
	`, credentialID)

	var orderID string
	if err := row.Scan(&orderID); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete credential", err)
	}

	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, activeCredentialCacheKey(orderID))
	}
	return nil
}

func scanCredential(row *sql.Row) (*model.Credential, error) {
	credential := model.Credential{}
	var scannedAt sql.NullTime
	err := row.Scan(&credential.ID, &credential.CredentialID, &credential.OrderID, &credential.BuyerID, &credential.SellerID, &credential.Kind, &credential.SecretMaterial, &credential.ExpiresAt, &credential.Status, &scannedAt, &credential.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Credential not found", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve credential", err)
	}
	if scannedAt.Valid {
		credential.ScannedAt = &scannedAt.Time
	}
	return &credential, nil
}
