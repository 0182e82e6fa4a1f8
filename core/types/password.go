package types

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/language"
)

// Hasher hashes plaintext secrets.
type Hasher interface {
	Hash(plaintext string) ([]byte, error)
	Compare(hash []byte, plaintext string) bool
}

// HashDetector is implemented by hashers that can recognize their own
// output.
type HashDetector interface {
	IsHash(s string) bool
}

// Password stores a one-way hash of its input. Values that are already
// bcrypt hashes pass through unchanged so loaded rows can be saved again.
type Password struct {
	hasher Hasher
}

// NewPassword builds a password type over the given hasher.
func NewPassword(h Hasher) Password {
	return Password{hasher: h}
}

func (Password) Kind() Kind     { return KindPassword }
func (Password) Copyable() bool { return false }

func (p Password) ToObject(value any) (any, error) {
	s, ok := value.(string)
	if value == nil || (ok && s == "") {
		return nil, nil
	}
	if !ok {
		return nil, conversionError(MsgWrongType, fmt.Sprintf("%T", value))
	}
	if p.isHash(s) {
		return s, nil
	}
	if p.hasher == nil {
		return nil, fmt.Errorf("password field has no hasher")
	}
	hash, err := p.hasher.Hash(s)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Matches reports whether plaintext hashes to the stored value.
func (p Password) Matches(stored any, plaintext string) bool {
	s, ok := stored.(string)
	if !ok || p.hasher == nil {
		return false
	}
	return p.hasher.Compare([]byte(s), plaintext)
}

func (Password) ToString(value any, _ language.Tag) string {
	if value == nil {
		return ""
	}
	return "********"
}

func (p Password) FromString(text string, _ language.Tag) (any, error) {
	return p.ToObject(text)
}

func (p Password) isHash(s string) bool {
	if d, ok := p.hasher.(HashDetector); ok {
		return d.IsHash(s)
	}
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}
