// Package auth is courier's authentication gate: given request
// credentials it yields a caller identity or fails with ErrUnauthorized.
// The core trusts the identity it produces and never re-verifies it.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned when the gate rejects a request. It is
// surfaced before any core logic runs.
var ErrUnauthorized = errors.New("unauthorized")

// Gate authenticates an HTTP request and returns the caller identity.
type Gate interface {
	Authenticate(r *http.Request) (string, error)
}

// KeyGate verifies "Authorization: Bearer <identity>.<secret>" credentials
// against per-identity Argon2id digests.
type KeyGate struct {
	log  *slog.Logger
	keys map[string]string // identity -> encoded argon2id digest
}

// NewKeyGate constructs a gate from an identity -> digest map.
func NewKeyGate(log *slog.Logger, keys map[string]string) (*KeyGate, error) {
	if len(keys) == 0 {
		return nil, errors.New("auth: no keys configured")
	}
	return &KeyGate{log: log, keys: keys}, nil
}

// ParseKeySpec parses the COURIER_AUTH_KEYS format:
// "identity:digest;identity:digest". Semicolon-separated because Argon2id
// digests contain commas.
func ParseKeySpec(spec string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		identity, digest, ok := strings.Cut(part, ":")
		identity = strings.TrimSpace(identity)
		digest = strings.TrimSpace(digest)
		if !ok || identity == "" || !strings.HasPrefix(digest, "$argon2id$") {
			return nil, fmt.Errorf("auth: malformed key entry %q", identity)
		}
		out[identity] = digest
	}
	return out, nil
}

// Authenticate validates the bearer credential and returns its identity.
func (g *KeyGate) Authenticate(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return "", fmt.Errorf("%w: missing bearer credential", ErrUnauthorized)
	}

	token := strings.TrimSpace(strings.TrimPrefix(raw, prefix))
	identity, secret, ok := strings.Cut(token, ".")
	if !ok || identity == "" || secret == "" {
		return "", fmt.Errorf("%w: malformed credential", ErrUnauthorized)
	}

	digest, ok := g.keys[identity]
	if !ok {
		return "", fmt.Errorf("%w: unknown identity", ErrUnauthorized)
	}

	match, err := verifyArgon2id(digest, secret)
	if err != nil {
		g.log.Warn("auth.digest.invalid", "identity", identity, "err", err)
		return "", fmt.Errorf("%w: invalid digest", ErrUnauthorized)
	}
	if !match {
		return "", fmt.Errorf("%w: bad secret", ErrUnauthorized)
	}
	return identity, nil
}

// InsecureGate accepts every request and reads the caller identity from the
// X-Wa-ID header. Dev-only: used when no keys are configured.
type InsecureGate struct{}

// Authenticate returns the self-declared identity, which may be empty.
func (InsecureGate) Authenticate(r *http.Request) (string, error) {
	return strings.TrimSpace(r.Header.Get("X-Wa-ID")), nil
}

// FromEnvSpec wires the gate from the COURIER_AUTH_KEYS value. An empty
// spec yields the insecure dev gate (loudly).
func FromEnvSpec(log *slog.Logger, spec string) (Gate, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		log.Warn("auth.disabled.dev_gate", "hint", "set COURIER_AUTH_KEYS to enable authentication")
		return InsecureGate{}, nil
	}

	keys, err := ParseKeySpec(spec)
	if err != nil {
		return nil, err
	}
	return NewKeyGate(log, keys)
}
