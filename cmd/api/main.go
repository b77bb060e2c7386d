package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"gorm.io/gorm"

	"github.com/hanko-field/checkout/internal/di"
	"github.com/hanko-field/checkout/internal/handlers"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/config"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/platform/idempotency"
	"github.com/hanko-field/checkout/internal/platform/jobs"
	"github.com/hanko-field/checkout/internal/platform/observability"
	"github.com/hanko-field/checkout/internal/platform/postgres"
	"github.com/hanko-field/checkout/internal/platform/secrets"
	platformstorage "github.com/hanko-field/checkout/internal/platform/storage"
	"github.com/hanko-field/checkout/internal/repositories"
	firestoreRepo "github.com/hanko-field/checkout/internal/repositories/firestore"
	postgresRepo "github.com/hanko-field/checkout/internal/repositories/postgres"
	"github.com/hanko-field/checkout/internal/services"
)

const webhookTolerance = 5 * time.Minute

func main() {
	ctx := context.Background()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(secretProject(envValues)),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	dbLogger := logger.Named("postgres")
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(cfg.Database.URL, dbLogger); err != nil {
			logger.Fatal("failed to apply migrations", zap.Error(err))
		}
	}
	db, err := postgres.Open(ctx, cfg.Database, postgres.WithLogger(dbLogger))
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			logger.Warn("postgres close error", zap.Error(err))
		}
	}()

	registry, profiles, checks, closeCatalog := buildRegistry(ctx, logger, cfg, db)
	defer closeCatalog()

	authenticator := buildAuthenticator(ctx, logger.Named("auth"), cfg, profiles)
	provider := buildPaymentProvider(logger.Named("payments"), cfg)

	var events services.OrderEventPublisher
	pubsubClient, topic := buildOrderTopic(ctx, logger, cfg)
	if topic != nil {
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		events = publisher
		checks = append(checks, repositories.DependencyCheck{
			Name:     "pubsub",
			Optional: true,
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		})
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	container, err := di.NewContainer(cfg, registry, di.Collaborators{
		Payments: provider,
		Events:   events,
		Metrics:  observability.NewOutcomeRecorder(nil, logger.Named("metrics")),
		Logger:   logger,
		Clock:    time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}

	idempotencyStore, err := idempotency.NewPostgresStore(db)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		idempotency.RunSweeper(sweepCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	var webhookOpts []handlers.WebhookOption
	if bucket := strings.TrimSpace(cfg.Storage.WebhookArchiveBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		writer, err := platformstorage.NewGCSWriter(storageClient)
		if err != nil {
			logger.Fatal("failed to initialise storage writer", zap.Error(err))
		}
		archive, err := platformstorage.NewWebhookArchive(writer, bucket)
		if err != nil {
			logger.Fatal("failed to initialise webhook archive", zap.Error(err))
		}
		webhookOpts = append(webhookOpts, handlers.WithWebhookArchive(archive))
	}

	checks = append([]repositories.DependencyCheck{{
		Name:  "postgres",
		Check: func(ctx context.Context) error { return postgres.Ping(ctx, db) },
	}}, checks...)
	readiness, err := repositories.NewReadinessProbe(checks)
	if err != nil {
		logger.Fatal("failed to initialise readiness probe", zap.Error(err))
	}

	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, container.Services.Checkout,
		handlers.WithAllowedOrigins(cfg.Checkout.AllowedOrigins),
		handlers.WithPublicBaseURL(cfg.Checkout.PublicBaseURL),
		handlers.WithCheckoutRateLimit(cfg.RateLimits.CheckoutPerMinute, cfg.RateLimits.CheckoutBurst),
		handlers.WithIdempotencyStore(idempotencyStore, idempotency.WithTTL(cfg.Idempotency.TTL)),
		handlers.WithIdempotencyHeader(cfg.Idempotency.Header),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders)
	webhookHandlers := handlers.NewWebhookHandlers(
		payments.NewStripeWebhookVerifier(cfg.PSP.StripeWebhookSecret, webhookTolerance),
		container.Services.Fulfillment,
		webhookOpts...,
	)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithReadiness(readiness),
		handlers.WithBuildVersion(envValues["API_BUILD_VERSION"]),
	)

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLogger(httpLogger),
			observability.Recoverer,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(orderHandlers.PaymentRoutes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Security.Environment),
			zap.String("catalog_backend", cfg.Catalog.Backend),
			zap.String("auth_provider", cfg.Auth.Provider),
			zap.Bool("payments_enabled", provider != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err, ok := <-serverErr:
		if ok && err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	stopSweep()
	sweepWG.Wait()
	logger.Info("server stopped")
}

// buildRegistry selects the catalog backend. Orders, payments and profiles always live in
// Postgres; only products and shipping methods can be served from Firestore.
func buildRegistry(ctx context.Context, logger *zap.Logger, cfg config.Config, db *gorm.DB) (di.Registry, *postgresRepo.ProfileRepository, []repositories.DependencyCheck, func()) {
	orders, err := postgresRepo.NewOrderRepository(db)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	orderPayments, err := postgresRepo.NewPaymentRepository(db)
	if err != nil {
		logger.Fatal("failed to initialise payment repository", zap.Error(err))
	}
	profiles, err := postgresRepo.NewProfileRepository(db)
	if err != nil {
		logger.Fatal("failed to initialise profile repository", zap.Error(err))
	}
	unitOfWork := postgres.NewUnitOfWork(db,
		postgres.WithTxAttempts(cfg.Database.TxAttempts),
		postgres.WithTxTimeout(cfg.Database.TxTimeout),
	)
	registry := di.Registry{
		Orders:        orders,
		OrderPayments: orderPayments,
		UnitOfWork:    unitOfWork,
	}

	if cfg.Catalog.Backend != config.CatalogBackendFirestore {
		products, err := postgresRepo.NewProductRepository(db)
		if err != nil {
			logger.Fatal("failed to initialise product repository", zap.Error(err))
		}
		shipping, err := postgresRepo.NewShippingMethodRepository(db)
		if err != nil {
			logger.Fatal("failed to initialise shipping method repository", zap.Error(err))
		}
		registry.Products = products
		registry.ShippingMethods = shipping
		return registry, profiles, nil, func() {}
	}

	provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithLogger(logger.Named("firestore")))
	products, err := firestoreRepo.NewProductRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise firestore product repository", zap.Error(err))
	}
	shipping, err := firestoreRepo.NewShippingMethodRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise firestore shipping method repository", zap.Error(err))
	}
	registry.Products = products
	registry.ShippingMethods = shipping

	check := repositories.DependencyCheck{
		Name:     "firestore",
		Optional: true,
		Check: func(ctx context.Context) error {
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			iter := client.Collections(ctx)
			if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
				return pfirestore.WrapError("collections", err)
			}
			return nil
		},
	}
	closeFn := func() {
		if err := provider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}
	return registry, profiles, []repositories.DependencyCheck{check}, closeFn
}

func buildAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config, profiles *postgresRepo.ProfileRepository) *auth.Authenticator {
	var verifier auth.TokenVerifier
	switch cfg.Auth.Provider {
	case config.AuthProviderJWT:
		opts := []auth.JWTOption{
			auth.WithHMACSecret(cfg.Auth.JWT.Secret),
			auth.WithIssuer(cfg.Auth.JWT.Issuer),
			auth.WithAudience(cfg.Auth.JWT.Audience),
		}
		if url := strings.TrimSpace(cfg.Auth.JWT.JWKSURL); url != "" {
			opts = append(opts, auth.WithJWKS(auth.NewJWKSCache(url, auth.WithJWKSLogger(logger))))
		}
		jwtVerifier, err := auth.NewJWTVerifier(opts...)
		if err != nil {
			logger.Fatal("failed to initialise jwt verifier", zap.Error(err))
		}
		verifier = jwtVerifier
	default:
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		verifier = firebaseVerifier
	}

	opts := []auth.Option{
		auth.WithProviderName(cfg.Auth.Provider),
		auth.WithRoleClaim(cfg.Auth.RoleClaim),
		auth.WithLogger(logger),
	}
	if cfg.Auth.RoleLookup && profiles != nil {
		opts = append(opts, auth.WithRoleLookup(profiles.FindRole))
	}
	return auth.NewAuthenticator(verifier, opts...)
}

// buildPaymentProvider returns nil when no Stripe key is configured; checkout then creates
// pending orders directly.
func buildPaymentProvider(logger *zap.Logger, cfg config.Config) payments.Provider {
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		logger.Warn("stripe api key not configured, checkout falls back to manual orders")
		return nil
	}
	stripeLogger := func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("stripe log", zFields...)
	}
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:    cfg.PSP.StripeAPIKey,
		AccountID: cfg.PSP.StripeAccountID,
		Logger:    stripeLogger,
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	breaker, err := payments.NewBreakerProvider(stripeProvider, payments.BreakerConfig{
		Name:                "stripe",
		ConsecutiveFailures: uint32(cfg.PSP.BreakerFailures),
		OpenTimeout:         cfg.PSP.BreakerTimeout,
		Logger:              stripeLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment circuit breaker", zap.Error(err))
	}
	return breaker
}

// buildOrderTopic connects to the order event topic. Publishing is disabled without a project.
func buildOrderTopic(ctx context.Context, logger *zap.Logger, cfg config.Config) (*pubsub.Client, *pubsub.Topic) {
	project := strings.TrimSpace(cfg.PubSub.ProjectID)
	topicID := strings.TrimSpace(cfg.PubSub.OrderTopic)
	if project == "" || topicID == "" {
		logger.Info("order event publishing disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	return client, client.Topic(topicID)
}

func secretProject(env map[string]string) string {
	for _, key := range []string{"API_SECRETS_PROJECT_ID", "API_FIREBASE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"} {
		if value := strings.TrimSpace(env[key]); value != "" {
			return value
		}
	}
	return ""
}

// requiredSecretNames lists secrets that must resolve outside local development.
func requiredSecretNames(env map[string]string) []string {
	environment := strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
	if environment == "" || environment == "local" || environment == "test" {
		return nil
	}
	names := []string{"Database.URL", "PSP.StripeWebhookSecret"}
	if strings.TrimSpace(env["API_PSP_STRIPE_API_KEY"]) != "" {
		names = append(names, "PSP.StripeAPIKey")
	}
	return names
}

func traceProjectID(cfg config.Config) string {
	if cfg.Firestore.ProjectID != "" {
		return cfg.Firestore.ProjectID
	}
	if cfg.PubSub.ProjectID != "" {
		return cfg.PubSub.ProjectID
	}
	return cfg.Firebase.ProjectID
}
