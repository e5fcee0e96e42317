package wishes

import (
	"fmt"

	"github.com/google/uuid"
)

// IDProvider issues identifiers for new wishes.
type IDProvider interface {
	NewID() (string, error)
}

// IDProviderFunc adapts a plain function to IDProvider.
type IDProviderFunc func() (string, error)

func (f IDProviderFunc) NewID() (string, error) {
	return f()
}

// NewUUIDProvider returns an IDProvider issuing time-ordered UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return IDProviderFunc(func() (string, error) {
		value, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("wishes: new id: %w", err)
		}
		return value.String(), nil
	})
}
