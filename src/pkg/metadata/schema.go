package metadata

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var schemaMigrations embed.FS

// runSchemaMigrations 使用嵌入的 SQL 文件升级 metadata 表结构
func runSchemaMigrations(db *sql.DB, logger *logrus.Entry) error {
	sourceDriver, err := iofs.New(schemaMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source: %w", err)
	}

	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	mig, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	fromVersion, dirty, _ := mig.Version()
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	toVersion, _, _ := mig.Version()
	if fromVersion != toVersion {
		logger.WithFields(logrus.Fields{
			"from_version": fromVersion,
			"to_version":   toVersion,
			"was_dirty":    dirty,
		}).Info("store schema migrated")
	}
	return nil
}
