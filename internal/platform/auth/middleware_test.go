package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubVerifier struct {
	claims   Claims
	err      error
	received string
}

func (s *stubVerifier) Verify(_ context.Context, token string) (Claims, error) {
	s.received = token
	return s.claims, s.err
}

type notFoundErr struct{}

func (notFoundErr) Error() string    { return "not found" }
func (notFoundErr) IsNotFound() bool { return true }

func serve(t *testing.T, chain func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var seen *Identity
	handler := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	code, _ := payload["error"].(string)
	return code
}

func TestRequireAuthAttachesIdentity(t *testing.T) {
	verifier := &stubVerifier{claims: Claims{Subject: "uid-1", Email: "a@example.com", Values: map[string]any{"role": []any{"Admin", "admin"}}}}
	authn := NewAuthenticator(verifier, WithProviderName("jwt"))

	rec, identity := serve(t, authn.RequireAuth, "Bearer token-1")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if verifier.received != "token-1" {
		t.Fatalf("unexpected token %q", verifier.received)
	}
	if identity == nil || identity.UID != "uid-1" || !identity.IsAdmin() || len(identity.Roles) != 1 || identity.Provider != "jwt" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestRequireAuthRejections(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
		code   string
	}{
		{name: "missing header", code: "unauthenticated"},
		{name: "wrong scheme", header: "Basic abc", code: "unauthenticated"},
		{name: "expired", header: "Bearer t", err: ErrTokenExpired, code: "token_expired"},
		{name: "invalid", header: "Bearer t", err: ErrTokenInvalid, code: "invalid_token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(&stubVerifier{err: tc.err, claims: Claims{Subject: "u"}})
			rec, _ := serve(t, authn.RequireAuth, tc.header)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if got := errorCode(t, rec); got != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, got)
			}
		})
	}
}

func TestAuthenticateAllowsAnonymous(t *testing.T) {
	authn := NewAuthenticator(&stubVerifier{err: ErrTokenInvalid})
	rec, identity := serve(t, authn.Authenticate, "")
	if rec.Code != http.StatusNoContent || identity != nil {
		t.Fatalf("expected anonymous pass-through, got %d %+v", rec.Code, identity)
	}
	rec, _ = serve(t, authn.Authenticate, "Bearer broken")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected invalid token to be rejected, got %d", rec.Code)
	}
}

func TestRoleLookupAddsStoredRole(t *testing.T) {
	verifier := &stubVerifier{claims: Claims{Subject: "uid-2"}}
	lookups := map[string]error{}
	authn := NewAuthenticator(verifier, WithRoleLookup(func(_ context.Context, uid string) (string, error) {
		if err, ok := lookups[uid]; ok {
			return "", err
		}
		return "admin", nil
	}))

	_, identity := serve(t, authn.RequireAuth, "Bearer t")
	if identity == nil || !identity.IsAdmin() {
		t.Fatalf("expected stored admin role, got %+v", identity)
	}

	lookups["uid-2"] = notFoundErr{}
	_, identity = serve(t, authn.RequireAuth, "Bearer t")
	if identity == nil || identity.IsAdmin() || !identity.HasRole(RoleCustomer) {
		t.Fatalf("expected default customer role, got %+v", identity)
	}

	lookups["uid-2"] = errors.New("db down")
	_, identity = serve(t, authn.RequireAuth, "Bearer t")
	if identity == nil || identity.IsAdmin() {
		t.Fatalf("lookup failure must not grant admin, got %+v", identity)
	}
}

func TestRequireRole(t *testing.T) {
	admin := func(next http.Handler) http.Handler {
		return NewAuthenticator(&stubVerifier{claims: Claims{Subject: "u", Values: map[string]any{"role": "admin"}}}).RequireAuth(RequireRole(RoleAdmin)(next))
	}
	customer := func(next http.Handler) http.Handler {
		return NewAuthenticator(&stubVerifier{claims: Claims{Subject: "u"}}).RequireAuth(RequireRole(RoleAdmin)(next))
	}

	if rec, _ := serve(t, admin, "Bearer t"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected admin to pass, got %d", rec.Code)
	}
	rec, _ := serve(t, customer, "Bearer t")
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "forbidden" {
		t.Fatalf("expected 403 forbidden, got %d", rec.Code)
	}
	rec, _ = serve(t, RequireRole(RoleAdmin), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}
}

func TestRolesFromClaimsShapes(t *testing.T) {
	cases := map[string]struct {
		claims map[string]any
		want   int
	}{
		"string":    {claims: map[string]any{"role": "Admin"}, want: 1},
		"list":      {claims: map[string]any{"role": []any{"admin", "staff", 3}}, want: 2},
		"flag map":  {claims: map[string]any{"role": map[string]any{"admin": true, "staff": false}}, want: 1},
		"missing":   {claims: map[string]any{}, want: 0},
		"empty str": {claims: map[string]any{"role": "  "}, want: 0},
	}
	for name, tc := range cases {
		if got := rolesFromClaims(tc.claims, "role"); len(got) != tc.want {
			t.Fatalf("%s: expected %d roles, got %v", name, tc.want, got)
		}
	}
}
