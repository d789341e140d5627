package migrations

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SchemaVersion is stamped on every document row so older shapes can be
// told apart if the schema ever changes.
const SchemaVersion = 1

// Run creates the schema required by the PharmaNear backend. Statements are
// idempotent and portable between SQLite and PostgreSQL.
func Run(db *sqlx.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS medicines (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            canonical_name TEXT NOT NULL,
            strengths TEXT NOT NULL DEFAULT '[]',
            routes TEXT NOT NULL DEFAULT '[]',
            schema_version INTEGER NOT NULL DEFAULT 1,
            created_at TEXT NOT NULL
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS medicines_canonical_name_idx ON medicines (canonical_name);`,
		`CREATE TABLE IF NOT EXISTS pharmacies (
            id TEXT PRIMARY KEY,
            user_name TEXT NOT NULL,
            owner_name TEXT NOT NULL,
            license_number TEXT NOT NULL DEFAULT '',
            address TEXT NOT NULL DEFAULT '',
            city TEXT NOT NULL,
            state TEXT NOT NULL DEFAULT '',
            pincode TEXT NOT NULL DEFAULT '',
            latitude DOUBLE PRECISION,
            longitude DOUBLE PRECISION,
            opening_hours TEXT NOT NULL DEFAULT '',
            closing_hours TEXT NOT NULL DEFAULT '',
            phone_number TEXT NOT NULL,
            location_url TEXT NOT NULL DEFAULT '',
            password TEXT NOT NULL,
            session_epoch INTEGER NOT NULL DEFAULT 0,
            schema_version INTEGER NOT NULL DEFAULT 1,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS pharmacies_user_name_idx ON pharmacies (user_name);`,
		`CREATE TABLE IF NOT EXISTS stock_ledgers (
            pharmacy_id TEXT PRIMARY KEY,
            version INTEGER NOT NULL DEFAULT 1,
            schema_version INTEGER NOT NULL DEFAULT 1,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS stock_lines (
            pharmacy_id TEXT NOT NULL,
            position INTEGER NOT NULL,
            medicine_id TEXT NOT NULL,
            quantity INTEGER NOT NULL CHECK (quantity >= 0),
            unit_price DOUBLE PRECISION NOT NULL CHECK (unit_price >= 0),
            PRIMARY KEY (pharmacy_id, medicine_id)
        );`,
		`CREATE INDEX IF NOT EXISTS stock_lines_medicine_idx ON stock_lines (medicine_id);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
