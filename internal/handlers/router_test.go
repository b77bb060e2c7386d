package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout/internal/domain"
)

type stubReadiness struct {
	report domain.ReadinessReport
}

func (s stubReadiness) Collect(context.Context) domain.ReadinessReport {
	return s.report
}

func TestRouterNotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	NewRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if code, _ := decodeErrorCode(t, rr); code != errorNotFoundCode {
		t.Fatalf("unexpected code %s", code)
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type")
	}
}

func TestRouterHealthz(t *testing.T) {
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(WithBuildVersion("1.2.3"))))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"version":"1.2.3"`) {
		t.Fatalf("unexpected healthz %d %s", rr.Code, rr.Body.String())
	}
}

func TestRouterReadyz(t *testing.T) {
	cases := []struct {
		status domain.HealthStatus
		want   int
	}{
		{domain.HealthStatusOK, http.StatusOK},
		{domain.HealthStatusDegraded, http.StatusOK},
		{domain.HealthStatusError, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			health := NewHealthHandlers(WithReadiness(stubReadiness{report: domain.ReadinessReport{Status: tc.status}}))
			rr := httptest.NewRecorder()
			NewRouter(WithHealthHandlers(health)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestRouterMountsGroups(t *testing.T) {
	router := NewRouter(
		WithCheckoutRoutes(NewCheckoutHandlers(testAuthenticator(), &stubCheckoutService{}).Routes),
		WithWebhookRoutes(func(r chi.Router) {
			r.Post("/stripe", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
		}),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/shipping-methods", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected shipping methods under api prefix, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected webhook route, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected unconfigured orders group to be not implemented, got %d", rr.Code)
	}
}
