package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// base58Address matches a base58-encoded Solana public key. Encoded keys are
// 32 bytes, which yields 32 to 44 characters in the bitcoin alphabet.
var base58Address = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ValidateWallet trims the address and checks that it looks like a Solana
// public key. It returns the trimmed address or an error wrapping
// ErrInvalidWallet.
func ValidateWallet(addr string) (string, error) {
	trimmed := strings.TrimSpace(addr)
	if !base58Address.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidWallet, trimmed)
	}
	return trimmed, nil
}
