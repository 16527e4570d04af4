package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS plates (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		plate_number       TEXT NOT NULL,
		timestamp          TIMESTAMPTZ NOT NULL,
		image_url          TEXT,
		image_storage_path TEXT,
		confidence         NUMERIC(5,2) NOT NULL DEFAULT 0,
		letters            TEXT,
		numbers            TEXT,
		bbox               JSONB,
		notes              TEXT,
		location           TEXT,
		vehicle_type       TEXT,
		is_verified        BOOLEAN NOT NULL DEFAULT false,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_plates_user_id ON plates(user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_plates_timestamp ON plates(timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_plates_plate_number ON plates(plate_number);`,
}

// Open connects to the remote record database and applies migrations.
func Open(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := runMigrations(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
