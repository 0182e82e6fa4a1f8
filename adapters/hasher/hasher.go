// Package hasher provides password hashing implementations for password
// fields.
package hasher

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/entitycore/core/types"
	"github.com/artpar/entitycore/ports"
)

// Bcrypt uses bcrypt for hashing.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher with the given cost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Hash generates a bcrypt hash from plaintext.
func (h *Bcrypt) Hash(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
}

// Compare checks if plaintext matches hash.
func (h *Bcrypt) Compare(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// IsHash reports whether s is a bcrypt hash, so stored values are not
// hashed twice when an entity is saved again.
func (h *Bcrypt) IsHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// Ensure interface compliance.
var (
	_ ports.Hasher       = (*Bcrypt)(nil)
	_ types.HashDetector = (*Bcrypt)(nil)
)

// FakePrefix marks values produced by Fake.
const FakePrefix = "fake$"

// Fake provides a reversible hasher for testing (NOT FOR PRODUCTION).
type Fake struct{}

// Hash prefixes the plaintext.
func (Fake) Hash(plaintext string) ([]byte, error) {
	return []byte(FakePrefix + plaintext), nil
}

// Compare checks the prefixed plaintext.
func (Fake) Compare(hash []byte, plaintext string) bool {
	return string(hash) == FakePrefix+plaintext
}

// IsHash reports whether s carries the fake prefix.
func (Fake) IsHash(s string) bool {
	return strings.HasPrefix(s, FakePrefix)
}

// Ensure interface compliance.
var (
	_ ports.Hasher       = Fake{}
	_ types.HashDetector = Fake{}
)
