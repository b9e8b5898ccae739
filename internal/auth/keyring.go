package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
)

type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (Identity, bool)
}

// KeyRing holds static API keys by SHA-256 digest; plaintext keys are not
// kept once parsed.
type KeyRing struct {
	byDigest map[[sha256.Size]byte]Identity
}

// ParseKeyRing reads comma-separated key:principal:role|role entries, the
// LLMSQL_AUTH_STATIC_KEYS format. An empty spec yields a ring that accepts
// no key.
func ParseKeyRing(spec string) (*KeyRing, error) {
	ring := &KeyRing{byDigest: map[[sha256.Size]byte]Identity{}}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, identity, err := parseKeyEntry(entry)
		if err != nil {
			return nil, err
		}
		digest := sha256.Sum256([]byte(key))
		if _, dup := ring.byDigest[digest]; dup {
			return nil, fmt.Errorf("static key for %s is listed twice", identity.Principal)
		}
		ring.byDigest[digest] = identity
	}
	return ring, nil
}

func parseKeyEntry(entry string) (string, Identity, error) {
	key, rest, ok := strings.Cut(entry, ":")
	principal, roleList, ok2 := strings.Cut(rest, ":")
	if !ok || !ok2 || strings.Contains(roleList, ":") {
		return "", Identity{}, fmt.Errorf("invalid static key entry: expected key:principal:role|role")
	}
	key, principal = strings.TrimSpace(key), strings.TrimSpace(principal)
	if key == "" || principal == "" {
		return "", Identity{}, fmt.Errorf("invalid static key entry for %q: empty key or principal", principal)
	}

	var roles []Role
	for _, raw := range strings.Split(roleList, "|") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		role, err := ParseRole(raw)
		if err != nil {
			return "", Identity{}, fmt.Errorf("static key for %s: %w", principal, err)
		}
		if !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("static key for %s: at least one role is required", principal)
	}
	slices.Sort(roles)
	return key, Identity{Principal: principal, Roles: roles}, nil
}

func (k *KeyRing) Authenticate(_ context.Context, apiKey string) (Identity, bool) {
	if apiKey == "" {
		return Identity{}, false
	}
	identity, ok := k.byDigest[sha256.Sum256([]byte(apiKey))]
	return identity, ok
}

func (k *KeyRing) Len() int {
	return len(k.byDigest)
}
