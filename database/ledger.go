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

// RecordLedgerEntry appends a wallet credit. The unique constraint on the
// reference column is the final authority on settlement idempotency, so a
// unique violation comes back as ErrDuplicateReference rather than a generic
// database error.
func (d Datasource) RecordLedgerEntry(ctx context.Context, entry *model.WalletLedgerEntry) (*model.WalletLedgerEntry, error) {
	metaDataJSON, err := json.Marshal(entry.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	entry.EntryID = model.GenerateUUIDWithSuffix("wal")
	entry.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO wallet_ledger_entries (entry_id, user_id, amount, transaction_type, status, reference, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.EntryID, entry.UserID, entry.Amount, entry.TransactionType, entry.Status, entry.Reference, metaDataJSON, entry.CreatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrDuplicateReference
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record ledger entry", err)
	}

	return entry, nil
}

func (d Datasource) GetLedgerEntryByRef(ctx context.Context, reference string) (*model.WalletLedgerEntry, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, entry_id, user_id, amount, transaction_type, status, reference, meta_data, created_at
		FROM wallet_ledger_entries
		WHERE reference = $1
	`, reference)

	entry := model.WalletLedgerEntry{}
	var metaDataJSON []byte
	err := row.Scan(&entry.ID, &entry.EntryID, &entry.UserID, &entry.Amount, &entry.TransactionType, &entry.Status, &entry.Reference, &metaDataJSON, &entry.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Ledger entry not found", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entry", err)
	}
	if len(metaDataJSON) > 0 {
		if err = json.Unmarshal(metaDataJSON, &entry.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}

	return &entry, nil
}

func (d Datasource) GetLedgerEntriesByUser(ctx context.Context, userID string, limit, offset int) ([]*model.WalletLedgerEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, entry_id, user_id, amount, transaction_type, status, reference, meta_data, created_at
		FROM wallet_ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entries", err)
	}
	defer rows.Close()

	entries := []*model.WalletLedgerEntry{}
	for rows.Next() {
		entry := model.WalletLedgerEntry{}
		var metaDataJSON []byte
		err = rows.Scan(&entry.ID, &entry.EntryID, &entry.UserID, &entry.Amount, &entry.TransactionType, &entry.Status, &entry.Reference, &metaDataJSON, &entry.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry", err)
		}
		if len(metaDataJSON) > 0 {
			if err = json.Unmarshal(metaDataJSON, &entry.MetaData); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
			}
		}
		entries = append(entries, &entry)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over ledger entries", err)
	}

	return entries, nil
}
