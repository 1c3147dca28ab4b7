// Package identity derives the stable per-user key used across all
// collections: a one-way hash of the normalized email. The raw email never
// serves as a primary key and the derivation is never reversed.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Guest is the reserved email of the anonymous account.
const Guest = "guest"

// Offline is the placeholder identity behind degraded tokens.
const Offline = "offline_user"

// Normalize lowercases and trims an email before any derivation.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Derive returns the hex SHA-256 of the normalized email. It is a pure
// function: equal emails always map to the same identity.
func Derive(email string) string {
	sum := sha256.Sum256([]byte(Normalize(email)))
	return hex.EncodeToString(sum[:])
}

// DeriveCode returns the document key for the verification code bound to an
// email. Codes live in their own keyspace so they can never collide with a
// user identity.
func DeriveCode(email string) string {
	sum := sha256.Sum256([]byte("code_" + Normalize(email)))
	return hex.EncodeToString(sum[:])
}

// LocalPart returns the part of the email before '@', used as the default
// display name. Emails without '@' fall back to a generic name.
func LocalPart(email string) string {
	e := Normalize(email)
	if i := strings.IndexByte(e, '@'); i > 0 {
		return e[:i]
	}
	return "Usuario"
}
