// Package credential implements the CredentialStore: password
// hashing/verification for human users via golang.org/x/crypto's
// argon2 subpackage (already a declared dependency), and a plain
// SHA-256-hex digest for API keys, where only one-way comparison
// against a stored hash is ever needed.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

const (
	argonTime    = 2
	argonMemory  = 19456 // KiB
	argonThreads = 1
	argonKeyLen  = 32
	argonSaltLen = 16

	minPasswordLength = 8
)

// HashPassword derives an Argon2id hash of password and encodes it,
// together with its salt and parameters, into a single
// self-describing string (the PHC-style encoding Argon2id
// implementations conventionally use).
func HashPassword(password string) (string, error) {
	if err := ValidatePasswordStrength(password); err != nil {
		return "", err
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", rerrors.Unknown("failed to generate password salt", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
	return encoded, nil
}

// VerifyPassword checks a plaintext password against an encoded hash
// produced by HashPassword, using a constant-time comparison.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, rerrors.Unknown("unrecognized password hash format", nil)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, rerrors.Unknown("malformed password hash version", err)
	}

	var memory uint32
	var time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, rerrors.Unknown("malformed password hash parameters", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, rerrors.Unknown("malformed password hash salt", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, rerrors.Unknown("malformed password hash digest", err)
	}

	got := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// ValidatePasswordStrength enforces the minimum password policy of
//: at least 8 characters.
func ValidatePasswordStrength(password string) error {
	if len(password) < minPasswordLength {
		return rerrors.Validation("password does not meet strength requirements", rerrors.Violation{
			Field:   "password",
			Message: fmt.Sprintf("must be at least %d characters", minPasswordLength),
			Code:    "too_short",
		})
	}
	return nil
}

// HashAPIKey returns the hex-encoded SHA-256 digest of a plaintext API
// key. Only this digest is ever persisted.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey checks a plaintext key against a stored SHA-256 digest
// using a constant-time comparison.
func VerifyAPIKey(plaintext, storedHash string) bool {
	got := HashAPIKey(plaintext)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}

// GenerateAPIKey produces a new random plaintext API key. The caller is
// responsible for showing the plaintext to the user exactly once and
// persisting only HashAPIKey(plaintext).
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", rerrors.Unknown("failed to generate api key", err)
	}
	return "rdc_" + base64.RawURLEncoding.EncodeToString(raw), nil
}
