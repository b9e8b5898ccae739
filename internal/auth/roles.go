package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role grants access to one group of API operations.
type Role string

const (
	// RoleComparisonRunner may start trials (POST /v1/text-to-sql).
	RoleComparisonRunner Role = "comparison_runner"
	// RoleRecordReader may read stored records, exports and schemas.
	RoleRecordReader Role = "record_reader"
	// RoleAdmin implies every other role.
	RoleAdmin Role = "admin"
)

var ErrForbidden = errors.New("forbidden")

func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case RoleComparisonRunner, RoleRecordReader, RoleAdmin:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Identity is the caller behind an API key. Principal names the team or tool
// the key was issued to.
type Identity struct {
	Principal string
	Roles     []Role
}

func (i Identity) Allows(role Role) bool {
	for _, granted := range i.Roles {
		if granted == role || granted == RoleAdmin {
			return true
		}
	}
	return false
}

type contextKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(Identity)
	return identity, ok
}

// Require returns an error wrapping ErrForbidden when the identity on ctx
// lacks role. A context without identity passes: Middleware attaches one to
// every request it lets through, so its absence means auth is off.
func Require(ctx context.Context, role Role) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.Allows(role) {
		return nil
	}
	return fmt.Errorf("%w: %s lacks role %s", ErrForbidden, identity.Principal, role)
}
