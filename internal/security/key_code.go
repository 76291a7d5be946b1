// Package security generates wallet key codes.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// keyCodePrefix is the prefix used for generated wallet key codes.
const keyCodePrefix = "WK-"

// GenerateKeyCode creates a new random wallet code. Codes are uppercase so
// that lookups stay case-insensitive for callers typing them by hand.
func GenerateKeyCode() (string, error) {
	secret := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate key code: %w", err)
	}
	return keyCodePrefix + strings.ToUpper(hex.EncodeToString(secret)), nil
}
