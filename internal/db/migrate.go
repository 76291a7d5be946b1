package db

import (
	"fmt"

	"github.com/metergate/walletledger/internal/models"

	"gorm.io/gorm"
)

// Migrate creates or updates the ledger schema.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.Key{},
		&models.Transaction{},
	)
}
