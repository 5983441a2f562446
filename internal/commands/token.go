package commands

import (
	"fmt"
	"strings"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidateToken checks a token identifier. With strictMint the token must be
// a base58 Solana mint address of 32 to 44 characters.
func ValidateToken(token string, strictMint bool) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return &InvalidTokenError{Token: token, Reason: "token is required"}
	}
	if strings.ContainsAny(token, "/ \t\n") {
		return &InvalidTokenError{Token: token, Reason: "token must not contain slashes or whitespace"}
	}
	if len(token) > 64 {
		return &InvalidTokenError{Token: token, Reason: "token is too long"}
	}
	if !strictMint {
		return nil
	}

	if len(token) < 32 || len(token) > 44 {
		return &InvalidTokenError{Token: token, Reason: fmt.Sprintf("length %d, expected 32-44 characters", len(token))}
	}
	for _, r := range token {
		if !strings.ContainsRune(base58Alphabet, r) {
			return &InvalidTokenError{Token: token, Reason: fmt.Sprintf("invalid character %q, must be base58", r)}
		}
	}
	return nil
}
