package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/webshop/internal/payments"
	"github.com/hanko-field/webshop/internal/platform/config"
	"github.com/hanko-field/webshop/internal/platform/observability"
	"github.com/hanko-field/webshop/internal/repositories"
	"github.com/hanko-field/webshop/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart       services.CartService
	Guests     services.GuestSessionService
	Checkout   services.CheckoutService
	Customers  services.CustomerService
	Orders     services.OrderService
	Payments   services.PaymentService
	Loyalty    services.LoyaltyService
	Promotions services.PromotionService
	Counters   services.CounterService
	System     services.SystemService
	Events     *services.EventBus
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	gateway   *payments.Manager
	publisher services.EventPublisher
	build     services.BuildInfo
	clock     func() time.Time
}

// WithLogger sets the base logger each service derives its named logger from.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPaymentGateway enables the payment service. Without a gateway Services.Payments stays nil.
func WithPaymentGateway(manager *payments.Manager) Option {
	return func(o *options) {
		o.gateway = manager
	}
}

// WithEventPublisher forwards lifecycle events after in-process subscribers ran.
func WithEventPublisher(publisher services.EventPublisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

// WithBuildInfo sets the metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) {
		o.build = build
	}
}

// WithClock overrides the clock shared by all services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore registry,
// tests can supply the in-memory one.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.build.Environment == "" {
		o.build.Environment = cfg.Security.Environment
	}

	svc, err := buildServices(ctx, reg, cfg, o)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, o options) (Services, error) {
	var svc Services
	named := func(name string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(o.logger.Named(name))
	}

	pricer, err := services.NewCartPricingEngine(services.CartPricingEngineDeps{
		Catalog:       reg.Catalog(),
		ShippingRules: reg.ShippingRules(),
		Coupons:       reg.Coupons(),
		PricingRules:  reg.PricingRules(),
		Loyalty:       reg.Loyalty(),
		Now:           o.clock,
		Logger:        named("pricing"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	svc.Customers, err = services.NewCustomerService(services.CustomerServiceDeps{
		Customers:  reg.Customers(),
		Contacts:   reg.Contacts(),
		Settings:   reg.Settings(),
		UnitOfWork: reg,
		Clock:      o.clock,
		Logger:     named("customers"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build customer service: %w", err)
	}

	svc.Loyalty, err = services.NewLoyaltyService(services.LoyaltyServiceDeps{
		Carts:      reg.Carts(),
		Settings:   reg.Settings(),
		Customers:  reg.Customers(),
		Ledger:     reg.Loyalty(),
		Parties:    svc.Customers,
		UnitOfWork: reg,
		Pricer:     pricer,
		Clock:      o.clock,
		Logger:     named("loyalty"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build loyalty service: %w", err)
	}

	svc.Promotions, err = services.NewPromotionService(services.PromotionServiceDeps{
		Carts:        reg.Carts(),
		Settings:     reg.Settings(),
		Customers:    reg.Customers(),
		Coupons:      reg.Coupons(),
		PricingRules: reg.PricingRules(),
		Invoices:     reg.Invoices(),
		Parties:      svc.Customers,
		Pricer:       pricer,
		Clock:        o.clock,
		Logger:       named("promotions"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promotion service: %w", err)
	}

	svc.Events = services.NewEventBus(services.EventBusDeps{
		Publisher: o.publisher,
		Clock:     o.clock,
		Logger:    named("events"),
	})
	if err := services.RegisterLifecycleSubscribers(svc.Events, svc.Loyalty, svc.Promotions); err != nil {
		return Services{}, fmt.Errorf("register lifecycle subscribers: %w", err)
	}

	svc.Cart, err = services.NewCartService(services.CartServiceDeps{
		Repository:    reg.Carts(),
		Settings:      reg.Settings(),
		Catalog:       reg.Catalog(),
		Customers:     reg.Customers(),
		Addresses:     reg.Addresses(),
		ShippingRules: reg.ShippingRules(),
		Parties:       svc.Customers,
		Loyalty:       svc.Loyalty,
		Pricer:        pricer,
		Events:        svc.Events,
		Clock:         o.clock,
		Logger:        named("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	svc.Guests, err = services.NewGuestSessionService(services.GuestSessionServiceDeps{
		Carts:      reg.Carts(),
		Settings:   reg.Settings(),
		Catalog:    reg.Catalog(),
		Customers:  reg.Customers(),
		Parties:    svc.Customers,
		UnitOfWork: reg,
		Pricer:     pricer,
		Events:     svc.Events,
		Clock:      o.clock,
		Logger:     named("guests"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build guest session service: %w", err)
	}

	svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:         reg.Carts(),
		Settings:      reg.Settings(),
		Customers:     reg.Customers(),
		Contacts:      reg.Contacts(),
		Addresses:     reg.Addresses(),
		ShippingRules: reg.ShippingRules(),
		Parties:       svc.Customers,
		Loyalty:       svc.Loyalty,
		Pricer:        pricer,
		Clock:         o.clock,
		Logger:        named("checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	svc.Counters, err = services.NewCounterService(services.CounterServiceDeps{
		Repository:    reg.Counters(),
		Clock:         o.clock,
		OrderSeries:   cfg.Shop.OrderSeries,
		InvoiceSeries: cfg.Shop.InvoiceSeries,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Carts:           reg.Carts(),
		Orders:          reg.Orders(),
		Invoices:        reg.Invoices(),
		PaymentEntries:  reg.PaymentEntries(),
		PaymentRequests: reg.PaymentRequests(),
		Settings:        reg.Settings(),
		Catalog:         reg.Catalog(),
		Customers:       reg.Customers(),
		Coupons:         reg.Coupons(),
		Counters:        svc.Counters,
		Parties:         svc.Customers,
		Pricer:          pricer,
		Events:          svc.Events,
		Clock:           o.clock,
		Logger:          named("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	if o.gateway != nil {
		svc.Payments, err = services.NewPaymentService(services.PaymentServiceDeps{
			Carts:         reg.Carts(),
			Settings:      reg.Settings(),
			Customers:     reg.Customers(),
			Requests:      reg.PaymentRequests(),
			Orders:        svc.Orders,
			Parties:       svc.Customers,
			Pricer:        pricer,
			Gateway:       o.gateway,
			Events:        svc.Events,
			ReturnBaseURL: cfg.Shop.PublicBaseURL,
			ThankYouPath:  cfg.Shop.ThankYouPath,
			FailurePath:   cfg.Shop.FailurePath,
			Locale:        cfg.Shop.Language,
			Clock:         o.clock,
			Logger:        named("payments"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Settings:         reg.Settings(),
			Clock:            o.clock,
			Build:            o.build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}
