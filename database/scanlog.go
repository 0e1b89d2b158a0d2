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
	"encoding/json"
	"time"

	"github.com/sokomarket/soko/internal/apierror"
	"github.com/sokomarket/soko/model"
)

func (d Datasource) RecordScanAttempt(ctx context.Context, entry *model.ScanLogEntry) error {
	metaDataJSON, err := json.Marshal(entry.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	entry.ScanID = model.GenerateUUIDWithSuffix("scn")
	entry.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO delivery_scan_logs (scan_id, credential_id, order_id, seller_id, result, error_message, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ScanID, entry.CredentialID, entry.OrderID, entry.SellerID, entry.Result, entry.ErrorMessage, metaDataJSON, entry.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record scan attempt", err)
	}

	return nil
}

func (d Datasource) GetScanAttempts(ctx context.Context, orderID string, limit, offset int) ([]*model.ScanLogEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, scan_id, credential_id, order_id, seller_id, result, error_message, meta_data, created_at
		FROM delivery_scan_logs
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, orderID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve scan attempts", err)
	}
	defer rows.Close()

	entries := []*model.ScanLogEntry{}
	for rows.Next() {
		entry := model.ScanLogEntry{}
		var metaDataJSON []byte
		err = rows.Scan(&entry.ID, &entry.ScanID, &entry.CredentialID, &entry.OrderID, &entry.SellerID, &entry.Result, &entry.ErrorMessage, &metaDataJSON, &entry.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan audit entry", err)
		}
		if len(metaDataJSON) > 0 {
			if err = json.Unmarshal(metaDataJSON, &entry.MetaData); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
			}
		}
		entries = append(entries, &entry)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over scan attempts", err)
	}

	return entries, nil
}
