package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mixmall/api/internal/logistics"
	"github.com/mixmall/api/internal/payments"
	"github.com/mixmall/api/internal/platform/config"
	"github.com/mixmall/api/internal/platform/storage"
	"github.com/mixmall/api/internal/repositories"
	"github.com/mixmall/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing   services.PricingEngine
	Inventory services.InventoryService
	Orders    services.OrderService
	Payments  services.PaymentService
	Logistics services.LogisticsService
	Exports   services.ExportService
	System    services.SystemService
	Audit     services.AuditLogService
}

// Collaborators carries the external clients the service layer depends on.
// They are constructed in cmd/api from runtime configuration; tests can
// supply fakes.
type Collaborators struct {
	Gateway  *payments.Manager
	Webhooks *payments.StripeWebhook
	Refunder services.GatewayRefunder
	Tracker  *logistics.Kuaidi100Client
	Uploader *storage.Uploader
	Signer   *storage.Client
	// RefundUnitOfWork must run a single attempt; refunds wrap an external
	// gateway call that must not re-execute on retry.
	RefundUnitOfWork repositories.UnitOfWork
	Events           services.OrderEventPublisher
	Build            services.BuildInfo
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and supporting infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// collaborators, while tests can supply in-memory registries and fakes.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, collab Collaborators) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, collab)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, collab Collaborators) (Services, error) {
	var svc Services

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Clock:      time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Clock:     time.Now,
		Logger:    collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	pricingEngine, err := services.NewPricingEngine(services.PricingEngineDeps{
		Inventory: reg.Inventory(),
		Coupons:   reg.Coupons(),
		Tiers:     reg.ReductionTiers(),
		Clock:     time.Now,
		Logger:    collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricingEngine

	commission := services.CommissionRates{
		Level1Bps: cfg.Commission.Level1Bps,
		Level2Bps: cfg.Commission.Level2Bps,
	}
	if !cfg.Features.EnableCommission {
		commission = services.CommissionRates{}
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:           reg.Orders(),
		Catalog:          reg.Inventory(),
		Coupons:          reg.Coupons(),
		Users:            reg.Users(),
		MoneyLogs:        reg.MoneyLogs(),
		ReturnAddresses:  reg.ReturnAddresses(),
		Express:          reg.Express(),
		Inventory:        inventorySvc,
		Pricing:          pricingEngine,
		Refunder:         collab.Refunder,
		UnitOfWork:       reg,
		RefundUnitOfWork: collab.RefundUnitOfWork,
		Commission:       commission,
		Clock:            time.Now,
		Events:           collab.Events,
		Logger:           collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:     reg.Orders(),
		Users:      reg.Users(),
		MoneyLogs:  reg.MoneyLogs(),
		UnitOfWork: reg,
		Gateway:    collab.Gateway,
		Webhooks:   collab.Webhooks,
		Pepper:     cfg.PSP.PayPasswordPepper,
		Currency:   cfg.PSP.Currency,
		SuccessURL: cfg.PSP.CheckoutSuccessURL,
		CancelURL:  cfg.PSP.CheckoutCancelURL,
		Clock:      time.Now,
		Events:     collab.Events,
		Logger:     collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	logisticsSvc, err := services.NewLogisticsService(services.LogisticsServiceDeps{
		Orders:  reg.Orders(),
		Express: reg.Express(),
		Tracker: collab.Tracker,
		Logger:  collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build logistics service: %w", err)
	}
	svc.Logistics = logisticsSvc

	exportSvc, err := services.NewExportService(services.ExportServiceDeps{
		Orders:   reg.Orders(),
		Uploader: collab.Uploader,
		Signer:   collab.Signer,
		Bucket:   cfg.Storage.ExportsBucket,
		Clock:    time.Now,
		Logger:   collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build export service: %w", err)
	}
	svc.Exports = exportSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            time.Now,
		Build:            collab.Build,
		Audit:            auditSvc,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
