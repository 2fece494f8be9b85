// Package db manages the GORM connection and schema migration for Crewline.
package db

import (
	"fmt"

	"github.com/zulandar/crewline/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN for connecting to the Crewline database.
func DSN(host string, port int, database string) string {
	return fmt.Sprintf("root@tcp(%s:%d)/%s?parseTime=true", host, port, database)
}

// Connect opens a GORM connection to the MySQL server.
func Connect(host string, port int, database string) (*gorm.DB, error) {
	dsn := DSN(host, port, database)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return db, nil
}

// Migrate creates or updates the Crewline tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Integration{},
		&models.Worker{},
		&models.WorkerTask{},
	); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}
