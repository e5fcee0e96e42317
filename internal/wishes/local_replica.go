package wishes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultLocalKey names the blob holding the local snapshot.
const DefaultLocalKey = "mm-wishes"

var errMissingDatabase = errors.New("database handle is required")

// LocalReplicaConfig describes the local fallback store.
type LocalReplicaConfig struct {
	Database *gorm.DB
	Key      string
	Clock    func() time.Time
}

// LocalReplica keeps the full collection as one JSON array blob in SQLite.
type LocalReplica struct {
	db    *gorm.DB
	key   string
	clock func() time.Time
}

// NewLocalReplica validates the configuration and returns a LocalReplica.
func NewLocalReplica(cfg LocalReplicaConfig) (*LocalReplica, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = DefaultLocalKey
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &LocalReplica{db: cfg.Database, key: key, clock: clock}, nil
}

// Load returns the stored records, or nothing when no snapshot was written yet.
func (r *LocalReplica) Load(ctx context.Context) ([]any, error) {
	var blob Blob
	err := r.db.WithContext(ctx).Where("blob_key = ?", r.key).Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wishes: local load: %w", err)
	}
	return decodeSnapshot([]byte(blob.Value))
}

// Save overwrites the snapshot with the full collection.
func (r *LocalReplica) Save(ctx context.Context, wishes []Wish) error {
	encoded, err := encodeSnapshot(wishes)
	if err != nil {
		return fmt.Errorf("wishes: local encode: %w", err)
	}
	blob := Blob{
		Key:             r.key,
		Value:           string(encoded),
		UpdatedAtMillis: r.clock().UnixMilli(),
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "blob_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"blob_value", "updated_at_ms"}),
		}).
		Create(&blob).Error
	if err != nil {
		return fmt.Errorf("wishes: local save: %w", err)
	}
	return nil
}
