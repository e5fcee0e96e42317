package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/secrets"
	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/wishes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationHashLegacyPasswords = "2026-10-01_hash_legacy_wish_passwords"

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

func applyMigrations(db *gorm.DB, hasher SecretHasher, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationHashLegacyPasswords, apply: func(tx *gorm.DB) error {
			return hashLegacyPasswords(tx, hasher, logger)
		}},
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

// hashLegacyPasswords rewrites every stored snapshot so plaintext wish
// passwords are replaced by their hashes. Blobs that are not JSON arrays of
// objects are left for the store to discard on load.
func hashLegacyPasswords(db *gorm.DB, hasher SecretHasher, logger *zap.Logger) error {
	var blobs []wishes.Blob
	if err := db.Find(&blobs).Error; err != nil {
		return err
	}

	for _, blob := range blobs {
		var records []map[string]any
		if err := json.Unmarshal([]byte(blob.Value), &records); err != nil {
			if logger != nil {
				logger.Warn("skipping undecodable wish snapshot", zap.String("blob_key", blob.Key), zap.Error(err))
			}
			continue
		}

		changed := 0
		for _, record := range records {
			password, ok := record["password"].(string)
			if !ok || password == "" || secrets.IsHashed(password) {
				continue
			}
			hashed, err := hasher.Hash(password)
			if err != nil {
				return fmt.Errorf("hash password for %v: %w", record["id"], err)
			}
			record["password"] = hashed
			changed++
		}
		if changed == 0 {
			continue
		}

		encoded, err := json.Marshal(records)
		if err != nil {
			return err
		}
		if err := db.Model(&wishes.Blob{}).
			Where("blob_key = ?", blob.Key).
			Update("blob_value", string(encoded)).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("hashed legacy wish passwords", zap.String("blob_key", blob.Key), zap.Int("count", changed))
		}
	}
	return nil
}
