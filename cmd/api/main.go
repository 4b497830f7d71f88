package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/webshop/internal/di"
	"github.com/hanko-field/webshop/internal/handlers"
	"github.com/hanko-field/webshop/internal/payments"
	"github.com/hanko-field/webshop/internal/platform/auth"
	"github.com/hanko-field/webshop/internal/platform/config"
	"github.com/hanko-field/webshop/internal/platform/events"
	pfirestore "github.com/hanko-field/webshop/internal/platform/firestore"
	"github.com/hanko-field/webshop/internal/platform/idempotency"
	"github.com/hanko-field/webshop/internal/platform/observability"
	"github.com/hanko-field/webshop/internal/platform/secrets"
	"github.com/hanko-field/webshop/internal/repositories"
	firestoreRepo "github.com/hanko-field/webshop/internal/repositories/firestore"
	"github.com/hanko-field/webshop/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	// Secret references stay unresolved in the first pass; it only supplies the resolver settings.
	bootstrap, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(
		func(_ context.Context, ref string) (string, error) { return ref, nil },
	)))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	resolver, err := secrets.NewResolver(ctx, nil,
		secrets.WithProject(bootstrap.Secrets.ProjectID),
		secrets.WithCacheTTL(bootstrap.Secrets.CacheTTL),
		secrets.WithFallbackFile(bootstrap.Secrets.FallbackFile),
		secrets.WithLogger(logger.Named("secrets")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var secretErr *config.SecretError
		if errors.As(err, &secretErr) {
			logger.Fatal("failed to resolve secret", zap.String("field", secretErr.Field), zap.Error(secretErr.Err))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	var eventsTopic *pubsub.Topic
	if topicID := strings.TrimSpace(cfg.PubSub.EventsTopic); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		eventsTopic = pubsubClient.Topic(topicID)
		defer eventsTopic.Stop()
	}

	health, err := newHealthRepository(firestoreProvider, eventsTopic, resolver)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	registry, err := firestoreRepo.NewRegistry(firestoreProvider, health)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	containerOpts := []di.Option{
		di.WithLogger(logger),
		di.WithBuildInfo(buildInfo),
	}
	if eventsTopic != nil {
		publisher, err := events.NewPubSubEventPublisher(eventsTopic,
			events.WithSource(cfg.Security.Environment),
			events.WithCartOrdering(),
		)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		containerOpts = append(containerOpts, di.WithEventPublisher(publisher))
	}
	paymentManager, err := buildPaymentManager(logger.Named("payments"), cfg.Payments)
	if err != nil {
		logger.Fatal("failed to initialise payment gateways", zap.Error(err))
	}
	if paymentManager != nil {
		containerOpts = append(containerOpts, di.WithPaymentGateway(paymentManager))
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	shopperMiddleware := handlers.ShopperMiddleware(svc.Customers, svc.Guests, handlers.CookieSettings{
		GuestCookie:     cfg.Guest.CookieName,
		CartCountCookie: cfg.Guest.CartCountCookie,
		TTL:             cfg.Guest.CookieTTL,
		Secure:          cfg.Guest.CookieSecure,
	})

	serviceTokens, err := auth.NewServiceTokenVerifier(auth.ServiceTokenConfig{
		Keys:     auth.NewKeySet(cfg.Security.JWKSURL, &http.Client{Timeout: 5 * time.Second}, time.Now),
		Audience: cfg.Security.OIDCAudience,
		Issuers:  cfg.Security.OIDCIssuers,
		Logger:   logger.Named("auth"),
	})
	if err != nil {
		logger.Fatal("failed to initialise service token verifier", zap.Error(err))
	}

	idempotencyOpts := []idempotency.Option{
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithRequester(handlers.ShopperRequester),
	}
	if cfg.Idempotency.Required {
		idempotencyOpts = append(idempotencyOpts, idempotency.WithRequiredKey())
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotency.NewFirestoreStore(firestoreClient, cfg.Idempotency.Collection),
		idempotencyOpts...,
	)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(buildInfo),
			handlers.WithHealthSystemService(svc.System),
		)),
		handlers.WithShopperMiddlewares(authenticator.OptionalFirebaseAuth(), shopperMiddleware),
		handlers.WithCartRoutes(handlers.NewCartHandlers(svc.Cart, svc.Promotions, svc.Loyalty).Routes),
		handlers.WithGuestRoutes(handlers.NewGuestHandlers(svc.Guests).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(svc.Checkout).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(svc.Orders).Routes),
		handlers.WithInternalRoutes(handlers.NewInternalHandlers(svc.Orders).Routes),
		handlers.WithInternalMiddlewares(serviceTokens.Middleware()),
	}
	if svc.Payments != nil {
		opts = append(opts,
			handlers.WithPaymentRoutes(handlers.NewPaymentHandlers(svc.Payments, idempotencyMiddleware).Routes),
			handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(svc.Payments).Routes),
			handlers.WithWebhookMiddlewares(handlers.RateLimitByIP(cfg.Payments.WebhookPerMinute)),
		)
	} else {
		logger.Warn("no payment gateway configured; payment routes are disabled")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("webshop api listening",
			zap.String("environment", buildInfo.Environment),
			zap.String("version", buildInfo.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newHealthRepository(provider *pfirestore.Provider, topic *pubsub.Topic, resolver *secrets.Resolver) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{{
		Name:     "firestore",
		Timeout:  1500 * time.Millisecond,
		Critical: true,
		Check:    provider.Ping,
	}}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	if resolver != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := resolver.ResolveSecret(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

// buildPaymentManager returns nil when no gateway can create payment pages.
func buildPaymentManager(logger *zap.Logger, cfg config.PaymentsConfig) (*payments.Manager, error) {
	if strings.TrimSpace(cfg.StripeAPIKey) == "" {
		return nil, nil
	}
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.StripeAPIKey,
		Logger: observability.EventLogger(logger.Named("stripe")),
		Clock:  time.Now,
	})
	if err != nil {
		return nil, err
	}

	opts := []payments.ManagerOption{payments.WithDefaultProvider("stripe")}
	if secret := strings.TrimSpace(cfg.StripeWebhookSecret); secret != "" {
		verifier, err := payments.NewStripeWebhookVerifier(secret)
		if err != nil {
			return nil, err
		}
		opts = append(opts, payments.WithVerifier("stripe", verifier))
	}
	gateways := make([]string, 0, len(cfg.GatewaySecrets))
	for gateway := range cfg.GatewaySecrets {
		gateways = append(gateways, gateway)
	}
	sort.Strings(gateways)
	for _, gateway := range gateways {
		verifier, err := payments.NewHMACVerifier(cfg.GatewaySecrets[gateway])
		if err != nil {
			return nil, fmt.Errorf("gateway %s: %w", gateway, err)
		}
		opts = append(opts, payments.WithVerifier(gateway, verifier))
	}

	manager, err := payments.NewManager(map[string]payments.Provider{"stripe": stripeProvider}, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("payment gateways ready",
		zap.Strings("providers", manager.GatewayTypes()),
		zap.Strings("callbackGateways", gateways),
	)
	return manager, nil
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
