package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/wishes"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SecretHasher hashes legacy plaintext passwords during migrations.
type SecretHasher interface {
	Hash(plain string) (string, error)
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, hasher SecretHasher, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("secret hasher is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&wishes.Blob{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, hasher, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
