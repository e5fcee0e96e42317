package secrets

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmptySecret indicates that an empty value was supplied for hashing.
	ErrEmptySecret = errors.New("secrets: empty secret")
	// ErrInvalidCost indicates a bcrypt cost outside the supported range.
	ErrInvalidCost = errors.New("secrets: invalid bcrypt cost")
)

// DefaultCost is the bcrypt cost used when none is configured.
const DefaultCost = bcrypt.DefaultCost

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// Hasher produces bcrypt hashes for wish passwords.
type Hasher struct {
	cost int
}

// NewHasher validates the cost and returns a Hasher.
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns the bcrypt hash of plain. It always hashes, so a typed password
// that happens to look like a bcrypt hash is still protected. Callers migrating
// stored values check IsHashed first.
func (h *Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptySecret
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("secrets: hash: %w", err)
	}
	return string(hashed), nil
}

// IsHashed reports whether value looks like a bcrypt hash.
func IsHashed(value string) bool {
	if len(value) != 60 {
		return false
	}
	for _, prefix := range bcryptPrefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}

// Matches reports whether attempt hashes to hashed.
func Matches(hashed, attempt string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(attempt)) == nil
}
