package wishes

import (
	"errors"
	"fmt"
)

const (
	// MaxMessageLength bounds the wish message in runes.
	MaxMessageLength = 100
	// MaxAuthorLength bounds the author name in runes.
	MaxAuthorLength = 20
	// MaxColorLength bounds the presentation color token in runes.
	MaxColorLength = 32
	// MaxWishes caps the collection at what the remote document store accepts.
	MaxWishes = 1000

	maxIdentifierLength = 190

	// DefaultColor is used when a record carries no color.
	DefaultColor = "#fff"
	// CenterCoordinate is the default position on either axis.
	CenterCoordinate = 50.0
	minCoordinate    = 0.0
	maxCoordinate    = 100.0
)

var (
	// ErrCollectionFull indicates that the collection already holds MaxWishes records.
	ErrCollectionFull = errors.New("wishes: collection full")
	// ErrReplicaUnavailable indicates that a replica is not configured or cannot be reached.
	ErrReplicaUnavailable = errors.New("wishes: replica unavailable")
	// ErrReplicaNotConfigured indicates that a replica has no credentials; it wraps ErrReplicaUnavailable.
	ErrReplicaNotConfigured = fmt.Errorf("%w: not configured", ErrReplicaUnavailable)
	// ErrMalformedSnapshot indicates that persisted data could not be decoded as JSON.
	ErrMalformedSnapshot = errors.New("wishes: malformed snapshot")
	// ErrTooManyWishes indicates a snapshot larger than the remote store accepts.
	ErrTooManyWishes = errors.New("wishes: too many wishes")
	// ErrPasswordChanged indicates that a wish's password changed after the caller authorized against it.
	ErrPasswordChanged = errors.New("wishes: password changed")
)

// Wish is a single pinned message. Field names match the documents kept in the remote store.
type Wish struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Message   string  `json:"message"`
	Author    string  `json:"author"`
	Password  string  `json:"password"`
	Color     string  `json:"color"`
	CreatedAt int64   `json:"createdAt"`
}

// Protected reports whether the wish requires a password for edit or delete.
func (w Wish) Protected() bool {
	return w.Password != ""
}

// Draft carries the user-editable fields of a wish.
// An empty Password means "no protection" on add and "keep the current password" on edit.
type Draft struct {
	Message  string
	Author   string
	Color    string
	X        float64
	Y        float64
	Password string
}

// Blob is a string-keyed persisted document used by the local replica.
type Blob struct {
	Key             string `gorm:"column:blob_key;primaryKey;size:190;not null"`
	Value           string `gorm:"column:blob_value;type:text;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Blob) TableName() string {
	return "replica_blobs"
}

// Precondition is checked against the current wish under the store lock before
// an edit or delete applies. It must not block.
type Precondition func(current Wish) error

// PasswordUnchanged rejects the mutation when the stored password is no longer
// the one the caller authorized against.
func PasswordUnchanged(expected string) Precondition {
	return func(current Wish) error {
		if current.Password != expected {
			return ErrPasswordChanged
		}
		return nil
	}
}
