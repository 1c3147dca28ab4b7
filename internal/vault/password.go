package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/archeonlabs/cloudcore/internal/common"
)

const (
	// KDF parameters. Changing any of these invalidates every stored hash.
	pbkdf2Iterations = 300000
	hashBytes        = 32
	saltBytes        = 16
)

// HashPassword derives the password hash with PBKDF2-HMAC-SHA256. When
// saltHex is empty a fresh random salt is generated; otherwise the hash is
// deterministic for the given salt, which is what verification relies on.
// Both return values are hex-encoded.
func HashPassword(password, saltHex string) (string, string, error) {
	var salt []byte
	if saltHex == "" {
		var err error
		salt, err = common.RandomBytes(saltBytes)
		if err != nil {
			return "", "", err
		}
	} else {
		var err error
		salt, err = hex.DecodeString(saltHex)
		if err != nil {
			return "", "", fmt.Errorf("invalid salt: %w", err)
		}
	}

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, hashBytes, sha256.New)
	return hex.EncodeToString(key), hex.EncodeToString(salt), nil
}
