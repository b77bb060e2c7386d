package di

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/config"
	"github.com/hanko-field/checkout/internal/repositories"
	"github.com/hanko-field/checkout/internal/services"
)

// Registry holds the repositories the checkout pipeline reads and writes.
type Registry struct {
	Products        repositories.ProductRepository
	ShippingMethods repositories.ShippingMethodRepository
	Orders          repositories.OrderRepository
	OrderPayments   repositories.OrderPaymentRepository
	UnitOfWork      repositories.UnitOfWork
}

// Collaborators are the non-repository dependencies shared by the services. Payments may be nil,
// which switches checkout to directly created pending orders.
type Collaborators struct {
	Payments payments.Provider
	Events   services.OrderEventPublisher
	Metrics  services.OutcomeRecorder
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout    services.CheckoutService
	Fulfillment services.FulfillmentService
	Orders      services.OrderService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config   config.Config
	Registry Registry
	Services Services
}

// NewContainer validates the registry and builds every service.
func NewContainer(cfg config.Config, reg Registry, collab Collaborators) (*Container, error) {
	if reg.Products == nil {
		return nil, errors.New("di: product repository is required")
	}
	if reg.Orders == nil || reg.OrderPayments == nil {
		return nil, errors.New("di: order repositories are required")
	}
	if collab.Logger == nil {
		collab.Logger = zap.NewNop()
	}
	if collab.Clock == nil {
		collab.Clock = time.Now
	}

	svc, err := buildServices(cfg, reg, collab)
	if err != nil {
		return nil, err
	}
	return &Container{Config: cfg, Registry: reg, Services: svc}, nil
}

func buildServices(cfg config.Config, reg Registry, collab Collaborators) (Services, error) {
	zones, err := loadTaxZones(cfg.Pricing.TaxZonesFile)
	if err != nil {
		return Services{}, err
	}
	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{TaxZones: zones})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	resolver, err := services.NewLineItemResolver(services.LineItemResolverDeps{
		Products: reg.Products,
		Logger:   serviceLogger(collab.Logger.Named("catalog")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build line item resolver: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Resolver:        resolver,
		Pricing:         pricing,
		ShippingMethods: reg.ShippingMethods,
		Payments:        collab.Payments,
		Orders:          reg.Orders,
		OrderPayments:   reg.OrderPayments,
		UnitOfWork:      reg.UnitOfWork,
		Events:          collab.Events,
		Metrics:         collab.Metrics,
		DefaultCurrency: cfg.Checkout.Currency,
		Timeout:         cfg.Checkout.Timeout,
		Clock:           collab.Clock,
		Logger:          serviceLogger(collab.Logger.Named("checkout")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	fulfillment, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Resolver:      resolver,
		Payments:      collab.Payments,
		Orders:        reg.Orders,
		OrderPayments: reg.OrderPayments,
		UnitOfWork:    reg.UnitOfWork,
		Events:        collab.Events,
		Metrics:       collab.Metrics,
		Clock:         collab.Clock,
		Logger:        serviceLogger(collab.Logger.Named("fulfillment")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders,
		OrderPayments: reg.OrderPayments,
		UnitOfWork:    reg.UnitOfWork,
		Events:        collab.Events,
		Metrics:       collab.Metrics,
		Clock:         collab.Clock,
		Logger:        serviceLogger(collab.Logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	return Services{Checkout: checkout, Fulfillment: fulfillment, Orders: orders}, nil
}

// loadTaxZones reads the override table. An empty path keeps the built-in zones.
func loadTaxZones(path string) ([]domain.TaxZone, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tax zones %s: %w", path, err)
	}
	zones, err := services.ParseTaxZones(data)
	if err != nil {
		return nil, fmt.Errorf("parse tax zones %s: %w", path, err)
	}
	return zones, nil
}

// serviceLogger adapts zap to the event/fields logger the services accept.
func serviceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		if _, failed := fields["error"]; failed {
			logger.Warn(event, zFields...)
			return
		}
		logger.Debug(event, zFields...)
	}
}
