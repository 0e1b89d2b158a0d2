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
	"database/sql"
	"log"
	"sync"

	"github.com/sokomarket/soko/cache"

	"github.com/sokomarket/soko/config"

	"github.com/pkg/errors"

	_ "github.com/lib/pq"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		ca, errCache := cache.NewCache()
		if errCache != nil {
			err = errCache
			return
		}
		instance = &Datasource{Conn: con, Cache: ca}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database connection")
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, errors.Wrap(err, "database is unreachable")
	}
	err = createOrderTable(db)
	if err != nil {
		return nil, err
	}
	err = createCredentialTable(db)
	if err != nil {
		return nil, err
	}
	err = createLedgerEntryTable(db)
	if err != nil {
		return nil, err
	}
	err = createScanLogTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createOrderTable creates a PostgreSQL table for the Order struct
func createOrderTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			product_id TEXT,
			quantity BIGINT NOT NULL DEFAULT 1,
			total_amount BIGINT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			escrow_status TEXT NOT NULL DEFAULT 'holding',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			meta_data JSONB
		)
	`)
	return err
}

// createCredentialTable creates a PostgreSQL table for the Credential struct.
// The partial unique index keeps at most one active credential per order.
func createCredentialTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS delivery_credentials (
			id SERIAL PRIMARY KEY,
			credential_id TEXT NOT NULL UNIQUE,
			order_id TEXT NOT NULL REFERENCES orders(order_id),
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			secret_material TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			scanned_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS one_active_credential_per_order
			ON delivery_credentials (order_id) WHERE status = 'active';
	`)
	return err
}

// createLedgerEntryTable creates a PostgreSQL table for the WalletLedgerEntry
// struct. The unique reference column is the settlement idempotency anchor.
func createLedgerEntryTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS wallet_ledger_entries (
			id SERIAL PRIMARY KEY,
			entry_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			transaction_type TEXT NOT NULL,
			status TEXT NOT NULL,
			reference TEXT NOT NULL UNIQUE,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// createScanLogTable creates a PostgreSQL table for the ScanLogEntry struct
func createScanLogTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS delivery_scan_logs (
			id SERIAL PRIMARY KEY,
			scan_id TEXT NOT NULL UNIQUE,
			credential_id TEXT,
			order_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			result TEXT NOT NULL,
			error_message TEXT,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_scan_logs_order ON delivery_scan_logs (order_id, created_at DESC);
	`)
	return err
}
