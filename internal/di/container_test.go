package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/config"
	"github.com/hanko-field/checkout/internal/repositories"
)

type stubProducts struct{}

func (stubProducts) FindByIDs(context.Context, []string) (map[string]domain.Product, error) {
	return map[string]domain.Product{}, nil
}

type stubOrders struct {
	repositories.OrderRepository
}

type stubPayments struct {
	repositories.OrderPaymentRepository
}

func testConfig() config.Config {
	return config.Config{Checkout: config.CheckoutConfig{Currency: "USD"}}
}

func TestNewContainerRequiresRepositories(t *testing.T) {
	if _, err := NewContainer(testConfig(), Registry{}, Collaborators{}); err == nil {
		t.Fatalf("expected error without product repository")
	}
	if _, err := NewContainer(testConfig(), Registry{Products: stubProducts{}}, Collaborators{}); err == nil {
		t.Fatalf("expected error without order repositories")
	}
}

func TestNewContainerBuildsServices(t *testing.T) {
	reg := Registry{Products: stubProducts{}, Orders: stubOrders{}, OrderPayments: stubPayments{}}
	container, err := NewContainer(testConfig(), reg, Collaborators{})
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	if container.Services.Checkout == nil || container.Services.Fulfillment == nil || container.Services.Orders == nil {
		t.Fatalf("expected all services, got %+v", container.Services)
	}

	methods, err := container.Services.Checkout.ShippingMethods(context.Background())
	if err != nil {
		t.Fatalf("shipping methods: %v", err)
	}
	if len(methods) != 2 {
		t.Fatalf("expected fallback shipping methods without a repository, got %+v", methods)
	}
}

func TestNewContainerLoadsTaxZones(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zones.json")
	if err := os.WriteFile(path, []byte(`[{"label":"Test VAT","rate":0.2,"countryCodes":["ZZ"]}]`), 0o600); err != nil {
		t.Fatalf("write zones: %v", err)
	}
	cfg := testConfig()
	cfg.Pricing.TaxZonesFile = path
	reg := Registry{Products: stubProducts{}, Orders: stubOrders{}, OrderPayments: stubPayments{}}
	if _, err := NewContainer(cfg, reg, Collaborators{}); err != nil {
		t.Fatalf("new container: %v", err)
	}

	if err := os.WriteFile(path, []byte(`[{"label":"","rate":2}]`), 0o600); err != nil {
		t.Fatalf("write zones: %v", err)
	}
	if _, err := NewContainer(cfg, reg, Collaborators{}); err == nil {
		t.Fatalf("expected invalid zone table to be rejected")
	}
}

func TestServiceLoggerLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := serviceLogger(zap.New(core))

	log(context.Background(), "checkout.session.created", map[string]any{"session_id": "cs_1"})
	log(context.Background(), "checkout.gateway.failed", map[string]any{"error": "timeout"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Level != zap.DebugLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["error"] != "timeout" {
		t.Fatalf("expected error field, got %v", entries[1].ContextMap())
	}
}
