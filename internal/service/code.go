package service

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
)

// DefaultCodeLength is the handoff code length.
const DefaultCodeLength = 6

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// generateCode returns a random upper-case base32 code of n characters.
func generateCode(n int) (string, error) {
	if n <= 0 {
		n = DefaultCodeLength
	}

	// 5 bits per character.
	buf := make([]byte, (n*5+7)/8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return codeEncoding.EncodeToString(buf)[:n], nil
}
