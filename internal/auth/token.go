// Package auth resolves opaque bearer tokens into verified principals.
// Tokens follow the format base58(key || sha256(key)[0:4]) where key is 16
// random bytes. The checksum lets the gateway reject mangled tokens before
// touching the session store; issuers minting other formats need the check
// turned off with WithTokenFormatCheck.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"regexp"

	"github.com/mr-tron/base58"
)

const (
	tokenKeySize      = 16
	tokenChecksumSize = 4
)

var tokenRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

// NewToken mints a fresh, well-formed session token.
func NewToken() (string, error) {
	var key [tokenKeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return "", fmt.Errorf("generate token key: %w", err)
	}
	return EncodeToken(key[:]), nil
}

// EncodeToken builds a token from raw key bytes:
// base58(key + sha256(key)[0:4]).
func EncodeToken(key []byte) string {
	hash := sha256.Sum256(key)
	payload := make([]byte, 0, len(key)+tokenChecksumSize)
	payload = append(payload, key...)
	payload = append(payload, hash[:tokenChecksumSize]...)
	return base58.Encode(payload)
}

// ValidateToken checks the token format and checksum. It does not consult
// the session store.
func ValidateToken(token string) error {
	if !tokenRegex.MatchString(token) {
		return errors.New("token contains characters outside the base58 alphabet")
	}

	decoded, err := base58.Decode(token)
	if err != nil {
		return fmt.Errorf("invalid base58 in token: %w", err)
	}
	if len(decoded) != tokenKeySize+tokenChecksumSize {
		return fmt.Errorf("invalid token length: expected %d, got %d", tokenKeySize+tokenChecksumSize, len(decoded))
	}

	key := decoded[:tokenKeySize]
	checksum := decoded[tokenKeySize:]
	hash := sha256.Sum256(key)
	if subtle.ConstantTimeCompare(checksum, hash[:tokenChecksumSize]) != 1 {
		return errors.New("token checksum mismatch")
	}
	return nil
}
