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
	"errors"

	"github.com/sokomarket/soko/model"
)

// ErrDuplicateReference is returned when a ledger entry insert hits the
// unique reference constraint. Callers treat it as "already settled".
var ErrDuplicateReference = errors.New("ledger reference already exists")

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	order      // Interface for order and escrow state operations
	credential // Interface for delivery credential operations
	ledger     // Interface for wallet ledger operations
	scanLog    // Interface for the delivery scan audit trail
}

// order defines methods for reading orders and moving their escrow state.
type order interface {
	CreateOrder(ctx context.Context, order *model.Order) (*model.Order, error)                  // Creates a new order with escrow held
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)                         // Retrieves an order by ID
	GetOrderForSeller(ctx context.Context, orderID, sellerID string) (*model.Order, error)      // Retrieves an order scoped to a seller
	UpdateOrderStatus(ctx context.Context, orderID, status string) error                        // Updates the fulfilment status of an order
	ReleaseOrderEscrow(ctx context.Context, orderID string) (bool, error)                       // Atomically moves escrow from holding to released
	RevertOrderEscrow(ctx context.Context, orderID, orderStatus, escrowStatus string) error     // Compensating write used when settlement fails midway
	GetOrdersBySeller(ctx context.Context, sellerID string, limit, offset int) ([]*model.Order, error)
}

// credential defines methods for delivery credential lifecycle management.
type credential interface {
	SaveCredential(ctx context.Context, credential *model.Credential) (*model.Credential, error) // Replaces any prior credential for the order and inserts the new one
	GetCredentialByToken(ctx context.Context, token string) (*model.Credential, error)           // Looks up a QR credential by its signed token
	GetActiveCredentialForOrder(ctx context.Context, orderID string) (*model.Credential, error)  // Retrieves the active credential attached to an order
	MarkCredentialScanned(ctx context.Context, credentialID string) (bool, error)                // Atomically flips a credential from active to scanned
	DeleteCredential(ctx context.Context, credentialID string) error                             // Removes a credential, used on expiry
}

// ledger defines methods for the append-only wallet ledger.
type ledger interface {
	RecordLedgerEntry(ctx context.Context, entry *model.WalletLedgerEntry) (*model.WalletLedgerEntry, error) // Inserts a ledger entry, enforcing reference uniqueness
	GetLedgerEntryByRef(ctx context.Context, reference string) (*model.WalletLedgerEntry, error)             // Retrieves a ledger entry by its idempotency reference
	GetLedgerEntriesByUser(ctx context.Context, userID string, limit, offset int) ([]*model.WalletLedgerEntry, error)
}

// scanLog defines methods for the append-only delivery scan audit trail.
type scanLog interface {
	RecordScanAttempt(ctx context.Context, entry *model.ScanLogEntry) error                              // Appends a scan attempt, success or failure
	GetScanAttempts(ctx context.Context, orderID string, limit, offset int) ([]*model.ScanLogEntry, error) // Retrieves scan attempts for an order, newest first
}
