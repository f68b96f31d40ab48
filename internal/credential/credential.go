// Package credential hashes and verifies user passwords. Current hashes are
// bcrypt; 64-hex SHA-256 digests from the previous deployment are still
// accepted so existing accounts keep working, and callers are told when a
// verified credential should be rehashed.
package credential

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type Scheme string

const (
	SchemeBcrypt       Scheme = "bcrypt"
	SchemeLegacySHA256 Scheme = "legacy-sha256"
	SchemeUnknown      Scheme = "unknown"
)

var ErrMismatch = errors.New("credential mismatch")

// DetectScheme classifies a stored password value. Anything that is neither a
// bcrypt hash nor a 64-hex digest is treated as unknown and never verifies.
func DetectScheme(stored string) Scheme {
	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		return SchemeBcrypt
	}
	if len(stored) == 64 && isHex(stored) {
		return SchemeLegacySHA256
	}
	return SchemeUnknown
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify checks a plaintext password against a stored value under whichever
// scheme the stored value carries. A nil error means the password matched.
func Verify(stored, password string) error {
	switch DetectScheme(stored) {
	case SchemeBcrypt:
		if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)); err != nil {
			return ErrMismatch
		}
		return nil
	case SchemeLegacySHA256:
		digest := sha256.Sum256([]byte(password))
		want := strings.ToLower(stored)
		got := hex.EncodeToString(digest[:])
		if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
			return ErrMismatch
		}
		return nil
	default:
		return ErrMismatch
	}
}

// NeedsUpgrade reports whether a stored value that just verified should be
// replaced with a current-scheme hash.
func NeedsUpgrade(stored string) bool {
	return DetectScheme(stored) != SchemeBcrypt
}
