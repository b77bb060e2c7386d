package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

const (
	defaultJWKSRefreshInterval = 15 * time.Minute
	defaultJWKSFetchTimeout    = 5 * time.Second
)

var (
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// JWKSCache fetches a JSON Web Key Set and keeps it until the response's max-age runs out. An
// unknown kid forces one refresh so key rotation is picked up immediately.
type JWKSCache struct {
	url     string
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
	refresh time.Duration

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time

	fetchMu sync.Mutex
}

type JWKSOption func(*JWKSCache)

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
		now:     time.Now,
		refresh: defaultJWKSRefreshInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Key returns the public key for kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if key, ok := c.cached(kid); ok {
		return key, nil
	}
	if err := c.fetch(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.cached(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) cached(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keys == nil || !c.now().Before(c.expiry) {
		return nil, false
	}
	jwk, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (c *JWKSCache) fetch(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultJWKSFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" || !jwk.Valid() || !jwk.IsPublic() {
			continue
		}
		keys[jwk.KeyID] = jwk
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := c.refresh
	if maxAge := maxAgeFrom(resp.Header.Get("Cache-Control")); maxAge > 0 {
		validity = maxAge
	}

	c.mu.Lock()
	c.keys = keys
	c.expiry = c.now().Add(validity)
	c.mu.Unlock()

	c.logger.Debug("jwks refreshed", zap.Int("keys", len(keys)), zap.Duration("valid_for", validity))
	return nil
}

func maxAgeFrom(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// JWTVerifier verifies bearer JWTs signed either with a shared HS256 secret or with keys
// published at a JWKS endpoint.
type JWTVerifier struct {
	secret   []byte
	jwks     *JWKSCache
	issuer   string
	audience string
}

type JWTOption func(*JWTVerifier)

func WithHMACSecret(secret string) JWTOption {
	return func(v *JWTVerifier) {
		if secret != "" {
			v.secret = []byte(secret)
		}
	}
}

func WithJWKS(cache *JWKSCache) JWTOption {
	return func(v *JWTVerifier) {
		v.jwks = cache
	}
}

func WithIssuer(issuer string) JWTOption {
	return func(v *JWTVerifier) {
		v.issuer = strings.TrimSpace(issuer)
	}
}

func WithAudience(audience string) JWTOption {
	return func(v *JWTVerifier) {
		v.audience = strings.TrimSpace(audience)
	}
}

func NewJWTVerifier(opts ...JWTOption) (*JWTVerifier, error) {
	v := &JWTVerifier{}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if len(v.secret) == 0 && v.jwks == nil {
		return nil, errors.New("auth: jwt verifier requires a secret or a jwks url")
	}
	return v, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, raw string) (Claims, error) {
	methods := make([]string, 0, 3)
	if len(v.secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if v.jwks != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg())
	}
	parser := jwt.NewParser(jwt.WithValidMethods(methods))

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
			return v.secret, nil
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return v.jwks.Key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return Claims{}, fmt.Errorf("%w: unexpected issuer", ErrTokenInvalid)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return Claims{}, fmt.Errorf("%w: unexpected audience", ErrTokenInvalid)
	}
	subject := claimString(claims, "sub")
	if subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return Claims{Subject: subject, Email: claimString(claims, "email"), Values: claims}, nil
}
