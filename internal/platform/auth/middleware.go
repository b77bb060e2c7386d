package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

const defaultRoleClaim = "role"

// Authenticator turns bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier  TokenVerifier
	provider  string
	roleClaim string
	roles     RoleLookup
	logger    *zap.Logger
}

type Option func(*Authenticator)

// WithRoleClaim overrides the claim roles are read from.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithRoleLookup consults stored profiles in addition to token claims.
func WithRoleLookup(lookup RoleLookup) Option {
	return func(a *Authenticator) {
		a.roles = lookup
	}
}

func WithProviderName(name string) Option {
	return func(a *Authenticator) {
		a.provider = name
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:  verifier,
		roleClaim: defaultRoleClaim,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Authenticate attaches an identity when a bearer token is present. Requests without a token
// pass through anonymously; a present but invalid token is rejected.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return a.middleware(next, false)
}

// RequireAuth rejects requests without a valid bearer token.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return a.middleware(next, true)
}

func (a *Authenticator) middleware(next http.Handler, required bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, ok := IdentityFromContext(ctx); ok {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := bearerToken(header)
		if !ok {
			if required || strings.TrimSpace(header) != "" {
				writeAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if a == nil || a.verifier == nil {
			writeAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
			return
		}

		claims, err := a.verifier.Verify(ctx, token)
		if err != nil {
			requestctx.Logger(ctx).Debug("bearer token rejected", zap.Error(err))
			if errors.Is(err, ErrTokenExpired) {
				writeAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "token expired")
				return
			}
			writeAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "token invalid")
			return
		}

		identity := &Identity{
			UID:      claims.Subject,
			Email:    claims.Email,
			Roles:    rolesFromClaims(claims.Values, a.roleClaim),
			Provider: a.provider,
		}
		a.mergeStoredRole(ctx, identity)
		if len(identity.Roles) == 0 {
			identity.Roles = []string{RoleCustomer}
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
	})
}

func (a *Authenticator) mergeStoredRole(ctx context.Context, identity *Identity) {
	if a.roles == nil {
		return
	}
	role, err := a.roles(ctx, identity.UID)
	if err != nil {
		var nf interface{ IsNotFound() bool }
		if errors.As(err, &nf) && nf.IsNotFound() {
			return
		}
		a.logger.Warn("role lookup failed", zap.String("uid", identity.UID), zap.Error(err))
		return
	}
	if role = normaliseRole(role); role != "" && !identity.HasRole(role) {
		identity.Roles = append(identity.Roles, role)
	}
}

// RequireRole rejects anonymous callers with 401 and callers lacking role with 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(r.Context(), w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if !identity.HasRole(role) {
				writeAuthError(r.Context(), w, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
