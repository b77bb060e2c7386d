package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrTokenExpired signals an expired bearer token.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals a malformed or unverifiable bearer token.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the provider-neutral view of a verified token.
type Claims struct {
	Subject string
	Email   string
	Values  map[string]any
}

// TokenVerifier verifies bearer tokens issued by an identity provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// RoleLookup resolves a stored role for a user, e.g. from the profiles table. Returning an
// error that reports IsNotFound means the user has no stored role.
type RoleLookup func(ctx context.Context, uid string) (string, error)

func rolesFromClaims(claims map[string]any, key string) []string {
	raw, ok := claims[key]
	if !ok {
		return nil
	}
	var candidates []string
	switch v := raw.(type) {
	case string:
		candidates = []string{v}
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case map[string]any:
		for role, enabled := range v {
			if b, ok := enabled.(bool); ok && b {
				candidates = append(candidates, role)
			}
		}
	case bool:
		// {"admin": true} style custom claims
		if v {
			candidates = []string{key}
		}
	}
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		role := normaliseRole(candidate)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func claimString(claims map[string]any, key string) string {
	if s, ok := claims[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
