package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/idempotency"
	"github.com/hanko-field/checkout/internal/platform/textutil"
	"github.com/hanko-field/checkout/internal/services"
)

const maxCheckoutRequestBody = 64 * 1024

// CheckoutHandlers exposes checkout session, quote and shipping method endpoints.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	origins     originPolicy
	limiter     *keyedRateLimiter
	idempotency idempotency.Store
	idemHeader  string
	idemOpts    []idempotency.MiddlewareOption
}

type CheckoutOption func(*CheckoutHandlers)

// WithAllowedOrigins restricts which Origin headers may be used as redirect base.
func WithAllowedOrigins(origins []string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.origins.allowed = normaliseOrigins(origins)
	}
}

// WithPublicBaseURL is the redirect base used when the request offers nothing usable.
func WithPublicBaseURL(base string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.origins.fallback = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

func WithCheckoutRateLimit(perMinute, burst int) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newKeyedRateLimiter(perMinute, burst, nil)
	}
}

// WithIdempotencyStore guards session creation with replayable idempotency keys.
func WithIdempotencyStore(store idempotency.Store, opts ...idempotency.MiddlewareOption) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = store
		h.idemOpts = append(h.idemOpts, opts...)
	}
}

// WithIdempotencyHeader changes the header carrying the client's idempotency key.
func WithIdempotencyHeader(name string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if name = strings.TrimSpace(name); name != "" {
			h.idemHeader = name
			h.idemOpts = append(h.idemOpts, idempotency.WithHeader(name))
		}
	}
}

func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{authn: authn, checkout: checkout, idemHeader: idempotency.HeaderName}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the checkout endpoints. Session and quote require a bearer token; the
// shipping method listing is public.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/shipping-methods", h.listShippingMethods)

	r.Group(func(group chi.Router) {
		if h.authn != nil {
			group.Use(h.authn.RequireAuth)
		}
		group.Use(h.limiter.Middleware)
		group.With(idempotency.Middleware(h.idempotency, h.idemOpts...)).Post("/checkout/session", h.createSession)
		group.Post("/checkout/quote", h.quote)
	})
}

type checkoutRequest struct {
	Items            []domain.CartLineRequest `json:"items"`
	Shipping         *domain.Address          `json:"shipping"`
	Billing          *domain.Address          `json:"billing"`
	Currency         string                   `json:"currency"`
	ShippingMethodID string                   `json:"shippingMethodId"`
}

type checkoutSessionResponse struct {
	SessionID string `json:"sessionId,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
	URL       string `json:"url"`
}

type checkoutQuoteResponse struct {
	Items          []domain.ResolvedLineItem `json:"items"`
	Totals         domain.OrderTotals        `json:"totals"`
	ShippingMethod domain.ShippingMethod     `json:"shippingMethod"`
	Currency       string                    `json:"currency"`
}

type shippingMethodsResponse struct {
	Methods []domain.ShippingMethod `json:"methods"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req checkoutRequest
	if err := httpx.DecodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.CreateCheckoutSessionCommand{
		UserID:           identity.UID,
		Guest:            domain.GuestContact{Email: strings.TrimSpace(identity.Email)},
		Items:            req.Items,
		ShippingAddress:  sanitizeAddress(req.Shipping),
		BillingAddress:   sanitizeAddress(req.Billing),
		Currency:         strings.TrimSpace(req.Currency),
		ShippingMethodID: strings.TrimSpace(req.ShippingMethodID),
		Origin:           h.origins.resolve(r),
		IdempotencyKey:   gatewayIdempotencyKey(identity.UID, r.Header.Get(h.idemHeader)),
	}

	result, err := h.checkout.CreateSession(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, checkoutSessionResponse{
		SessionID: result.SessionID,
		OrderID:   result.OrderID,
		URL:       result.URL,
	})
}

func (h *CheckoutHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req checkoutRequest
	if err := httpx.DecodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	quote, err := h.checkout.Quote(ctx, services.QuoteCheckoutCommand{
		Items:            req.Items,
		ShippingAddress:  sanitizeAddress(req.Shipping),
		BillingAddress:   sanitizeAddress(req.Billing),
		Currency:         strings.TrimSpace(req.Currency),
		ShippingMethodID: strings.TrimSpace(req.ShippingMethodID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, checkoutQuoteResponse{
		Items:          quote.Items,
		Totals:         quote.Totals,
		ShippingMethod: quote.ShippingMethod,
		Currency:       quote.Currency,
	})
}

func (h *CheckoutHandlers) listShippingMethods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	methods, err := h.checkout.ShippingMethods(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if methods == nil {
		methods = []domain.ShippingMethod{}
	}
	httpx.WriteJSON(w, http.StatusOK, shippingMethodsResponse{Methods: methods})
}

// gatewayIdempotencyKey scopes the client key to the caller so two users cannot collide on the
// gateway side.
func gatewayIdempotencyKey(uid, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(uid + "|" + key))
	return "checkout_" + hex.EncodeToString(sum[:16])
}

type originPolicy struct {
	allowed  map[string]struct{}
	fallback string
}

// resolve picks the redirect base: an acceptable Origin header, then the request's own scheme
// and host, then the configured public base URL.
func (p originPolicy) resolve(r *http.Request) string {
	if origin, ok := parseOrigin(r.Header.Get("Origin")); ok {
		if _, allowed := p.allowed[origin]; len(p.allowed) == 0 || allowed {
			return origin
		}
	}
	if host := strings.TrimSpace(r.Host); host != "" {
		scheme := "https"
		if r.TLS == nil {
			scheme = "http"
			if proto := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); proto == "https" {
				scheme = proto
			}
		}
		if origin, ok := parseOrigin(scheme + "://" + host); ok {
			return origin
		}
	}
	return p.fallback
}

func parseOrigin(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	if u.Hostname() == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

func normaliseOrigins(origins []string) map[string]struct{} {
	out := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		if normalised, ok := parseOrigin(strings.TrimRight(origin, "/")); ok {
			out[normalised] = struct{}{}
		}
	}
	return out
}

func sanitizeAddress(addr *domain.Address) *domain.Address {
	if addr == nil {
		return nil
	}
	clean := *addr
	clean.Name = textutil.StripMarkup(addr.Name, 200)
	clean.Email = textutil.StripMarkup(addr.Email, 254)
	clean.Phone = textutil.StripMarkup(addr.Phone, 40)
	clean.Line1 = textutil.StripMarkup(addr.Line1, 200)
	clean.Line2 = textutil.StripMarkup(addr.Line2, 200)
	clean.City = textutil.StripMarkup(addr.City, 120)
	clean.State = textutil.StripMarkup(addr.State, 120)
	clean.PostalCode = textutil.StripMarkup(addr.PostalCode, 20)
	clean.Country = textutil.StripMarkup(addr.Country, 80)

	// The raw snapshot is only kept when nothing had to be cleaned out of it.
	if clean.Name != addr.Name || clean.Email != addr.Email || clean.Phone != addr.Phone ||
		clean.Line1 != addr.Line1 || clean.Line2 != addr.Line2 || clean.City != addr.City ||
		clean.State != addr.State || clean.PostalCode != addr.PostalCode || clean.Country != addr.Country {
		clean.Raw = nil
	}
	return &clean
}
