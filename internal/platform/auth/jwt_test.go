package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestJWTVerifierHS256(t *testing.T) {
	verifier, err := NewJWTVerifier(WithHMACSecret("s3cret"), WithIssuer("https://auth.example"), WithAudience("checkout"))
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	valid := jwt.MapClaims{
		"sub":   "user-1",
		"email": "u@example.com",
		"iss":   "https://auth.example",
		"aud":   "checkout",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"role":  "admin",
	}
	claims, err := verifier.Verify(context.Background(), signHS256(t, "s3cret", valid))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "u@example.com" || claims.Values["role"] != "admin" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	expired := jwt.MapClaims{"sub": "user-1", "iss": "https://auth.example", "aud": "checkout", "exp": time.Now().Add(-time.Minute).Unix()}
	if _, err := verifier.Verify(context.Background(), signHS256(t, "s3cret", expired)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	if _, err := verifier.Verify(context.Background(), signHS256(t, "other", valid)); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected bad signature to be invalid, got %v", err)
	}

	wrongAud := jwt.MapClaims{"sub": "user-1", "iss": "https://auth.example", "aud": "billing", "exp": time.Now().Add(time.Hour).Unix()}
	if _, err := verifier.Verify(context.Background(), signHS256(t, "s3cret", wrongAud)); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected audience mismatch, got %v", err)
	}

	noSub := jwt.MapClaims{"iss": "https://auth.example", "aud": "checkout", "exp": time.Now().Add(time.Hour).Unix()}
	if _, err := verifier.Verify(context.Background(), signHS256(t, "s3cret", noSub)); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected missing subject to be invalid, got %v", err)
	}
}

func TestNewJWTVerifierRequiresKeyMaterial(t *testing.T) {
	if _, err := NewJWTVerifier(); err == nil {
		t.Fatalf("expected error without secret or jwks")
	}
}

func TestJWTVerifierJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &key.PublicKey, KeyID: "kid-1", Algorithm: "RS256", Use: "sig"}}}
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(set)
	}))
	defer server.Close()

	verifier, err := NewJWTVerifier(WithJWKS(NewJWKSCache(server.URL, WithJWKSHTTPClient(server.Client()))))
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}

	sign := func(kid string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "user-9", "exp": time.Now().Add(time.Hour).Unix()})
		token.Header["kid"] = kid
		signed, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return signed
	}

	for i := 0; i < 3; i++ {
		claims, err := verifier.Verify(context.Background(), sign("kid-1"))
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if claims.Subject != "user-9" {
			t.Fatalf("unexpected subject %s", claims.Subject)
		}
	}
	if fetches.Load() != 1 {
		t.Fatalf("expected cached key set, got %d fetches", fetches.Load())
	}

	if _, err := verifier.Verify(context.Background(), sign("kid-unknown")); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected unknown kid to be invalid, got %v", err)
	}
	if fetches.Load() != 2 {
		t.Fatalf("expected refresh on unknown kid, got %d fetches", fetches.Load())
	}
}

func TestMaxAgeFrom(t *testing.T) {
	if got := maxAgeFrom("public, max-age=300, must-revalidate"); got != 5*time.Minute {
		t.Fatalf("unexpected max-age %s", got)
	}
	if got := maxAgeFrom("no-cache"); got != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}
