package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeRelayURLs = "2026-08-10_normalize_source_relay_urls"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeRelayURLs, apply: normalizeSourceRelayURLs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeSourceRelayURLs strips trailing slashes left behind by an early
// ingest path so per-relay grouping keys match pool URLs.
func normalizeSourceRelayURLs(db *gorm.DB) error {
	tables := []string{"articles", "comments", "highlights", "media_items", "generic_events"}
	for _, table := range tables {
		statement := "UPDATE " + table +
			" SET source_relay = rtrim(source_relay, '/')" +
			" WHERE source_relay LIKE '%/';"
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}
