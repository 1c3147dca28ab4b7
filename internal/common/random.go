package common

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomBytes returns size cryptographically random bytes.
func RandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// RandomHex generates a random hexadecimal string from size random bytes.
// The resulting string is twice as long as size, since each byte encodes
// to two hex characters.
func RandomHex(size int) (string, error) {
	b, err := RandomBytes(size)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// WipeBytes overwrites the contents of b with zeros. Useful for removing
// password material from memory after use. A nil slice is a no-op.
func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
