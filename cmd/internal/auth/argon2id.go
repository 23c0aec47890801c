package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidDigest is returned for malformed or unsupported digest strings.
var ErrInvalidDigest = errors.New("auth: invalid argon2id digest")

const argon2Version = 19 // argon2.Version (0x13)

// Hashing defaults for HashSecret (key issuance tooling).
const (
	hashMemoryKiB   = 64 * 1024
	hashIterations  = 3
	hashParallelism = 1
	hashSaltLen     = 16
	hashKeyLen      = 32
)

// Verification caps. Digests are operator-configured, but refusing
// pathological parameters keeps a mistyped digest from burning memory.
const (
	maxMemoryKiB   = 256 * 1024
	maxIterations  = 16
	maxParallelism = 8
)

// HashSecret produces an encoded Argon2id digest for a secret:
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<key_b64>
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("auth: empty secret")
	}

	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, hashIterations, hashMemoryKiB, hashParallelism, hashKeyLen)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version, hashMemoryKiB, hashIterations, hashParallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// verifyArgon2id checks a secret against an encoded digest in constant
// time. (true, nil) for a match, (false, nil) for mismatch, and
// (false, ErrInvalidDigest) for malformed digests.
func verifyArgon2id(encoded, secret string) (bool, error) {
	memory, iterations, parallelism, salt, expected, err := decodeDigest(encoded)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

func decodeDigest(encoded string) (memory, iterations uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, ErrInvalidDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2Version {
		return 0, 0, 0, nil, nil, ErrInvalidDigest
	}

	var par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &par); err != nil {
		return 0, 0, 0, nil, nil, ErrInvalidDigest
	}
	if memory == 0 || memory > maxMemoryKiB ||
		iterations == 0 || iterations > maxIterations ||
		par == 0 || par > maxParallelism {
		return 0, 0, 0, nil, nil, ErrInvalidDigest
	}

	b64 := base64.RawStdEncoding
	salt, err = b64.DecodeString(parts[4])
	if err != nil || len(salt) < 8 || len(salt) > 64 {
		return 0, 0, 0, nil, nil, ErrInvalidDigest
	}
	key, err = b64.DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > 128 {
		return 0, 0, 0, nil, nil, ErrInvalidDigest
	}

	return memory, iterations, uint8(par), salt, key, nil
}
