package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
	"golang.org/x/crypto/pbkdf2"

	"github.com/opsdash/authgate/internal/core/domain"
)

// PBKDF2 parameters. Stored rows carry only salt and hash, so changing the
// iteration count invalidates existing hashes.
const (
	DefaultIterations = 10000
	SaltBytes         = 16
	KeyBytes          = 64
	MinPasswordLength = 8
)

var (
	ErrEmptyPassword = errors.New("password cannot be empty")
	ErrMalformedHash = errors.New("stored password hash is malformed")
)

// PasswordHasher derives PBKDF2-HMAC-SHA512 hashes with a per-credential salt.
type PasswordHasher struct {
	iterations int
	minLength  int
}

// NewPasswordHasher clamps iterations and minLength to their floors.
func NewPasswordHasher(iterations, minLength int) *PasswordHasher {
	if iterations < DefaultIterations {
		iterations = DefaultIterations
	}
	if minLength < MinPasswordLength {
		minLength = MinPasswordLength
	}
	return &PasswordHasher{iterations: iterations, minLength: minLength}
}

// Hash returns a fresh hex salt and the hex-encoded derived key.
func (h *PasswordHasher) Hash(password string) (salt, hash string, err error) {
	if password == "" {
		return "", "", ErrEmptyPassword
	}

	raw := make([]byte, SaltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", oops.Code("AUTH_SALT_FAILED").
			With("requested_bytes", SaltBytes).
			Wrap(err)
	}
	salt = hex.EncodeToString(raw)

	return salt, hex.EncodeToString(h.derive(password, salt)), nil
}

// Verify recomputes the hash with the stored salt. A malformed stored value
// is an error, not a mismatch.
func (h *PasswordHasher) Verify(password, salt, hash string) (bool, error) {
	if salt == "" {
		return false, ErrMalformedHash
	}
	expected, err := hex.DecodeString(hash)
	if err != nil || len(expected) != KeyBytes {
		return false, ErrMalformedHash
	}

	computed := h.derive(password, salt)
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// The hex salt string, not its decoded bytes, is the KDF salt input. Rows
// written by the previous deployment were produced that way.
func (h *PasswordHasher) derive(password, salt string) []byte {
	return pbkdf2.Key([]byte(password), []byte(salt), h.iterations, KeyBytes, sha512.New)
}

// ValidateStrength reports the first rule the password breaks.
func (h *PasswordHasher) ValidateStrength(password string) error {
	if utf8.RuneCountInString(password) < h.minLength {
		return domain.NewValidationError("Password must be at least %d characters long", h.minLength)
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	switch {
	case !upper:
		return domain.NewValidationError("Password must contain at least one uppercase letter")
	case !lower:
		return domain.NewValidationError("Password must contain at least one lowercase letter")
	case !digit:
		return domain.NewValidationError("Password must contain at least one number")
	}
	return nil
}

// MinLength is the enforced minimum password length.
func (h *PasswordHasher) MinLength() int { return h.minLength }
