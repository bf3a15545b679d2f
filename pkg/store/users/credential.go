package users

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. These follow the RFC 9106 low-memory profile, which
// keeps login latency acceptable on small self-hosted machines.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32

	// SaltLength is the per-user salt size in bytes.
	SaltLength = 16
)

// kdfSem bounds concurrent argon2 derivations. Each derivation allocates
// argonMemory KiB, so unbounded concurrent logins would let a burst of
// clients exhaust memory; the gate caps KDF memory at maxConcurrentKDF *
// 64 MiB while other sessions queue.
const maxConcurrentKDF = 4

var kdfSem = make(chan struct{}, maxConcurrentKDF)

func deriveKey(password string, salt []byte) []byte {
	kdfSem <- struct{}{}
	defer func() { <-kdfSem }()
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// MinPasswordLength is the minimum required password length.
const MinPasswordLength = 4

// MaxPasswordLength bounds password input so a hostile client cannot make
// the server hash megabytes of key material.
const MaxPasswordLength = 128

// ErrInvalidCredentials is returned when a username/password pair does not
// match a stored account. Callers must not distinguish "unknown user" from
// "wrong password".
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrPasswordTooShort is returned when a password is too short.
var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

// ErrPasswordTooLong is returned when a password is too long.
var ErrPasswordTooLong = fmt.Errorf("password must be at most %d characters", MaxPasswordLength)

// NewSalt generates a fresh random salt, hex-encoded for storage.
func NewSalt() (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(salt), nil
}

// HashPassword derives the argon2id hash of password under the hex-encoded
// salt, returning it hex-encoded.
func HashPassword(password, saltHex string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	hash := deriveKey(password, salt)
	return hex.EncodeToString(hash), nil
}

// VerifyPassword checks password against a stored salt and hash in constant
// time with respect to the hash contents.
func VerifyPassword(password, saltHex, hashHex string) bool {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}

	got := deriveKey(password, salt)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// ValidatePassword checks if a password meets the length requirements.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}
