package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/mixmall/api/internal/platform/firestore"
	"github.com/mixmall/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the shared
// provider so services can be assembled from a single dependency.
type Registry struct {
	provider *pfirestore.Provider
	uow      *UnitOfWork

	orders          *OrderRepository
	inventory       *InventoryRepository
	coupons         *CouponRepository
	users           *UserRepository
	moneyLogs       *MoneyLogRepository
	reductionTiers  *ReductionTierRepository
	returnAddresses *ReturnAddressRepository
	express         *ExpressRepository
	auditLogs       *AuditLogRepository
	health          repositories.HealthRepository
}

// NewRegistry constructs all Firestore repositories against the provider.
// The health repository is supplied by the caller because its probe set
// spans more than Firestore.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	if health == nil {
		return nil, errors.New("registry requires health repository")
	}

	uow, err := NewUnitOfWork(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	moneyLogs, err := NewMoneyLogRepository(provider)
	if err != nil {
		return nil, err
	}
	tiers, err := NewReductionTierRepository(provider)
	if err != nil {
		return nil, err
	}
	returnAddresses, err := NewReturnAddressRepository(provider)
	if err != nil {
		return nil, err
	}
	express, err := NewExpressRepository(provider)
	if err != nil {
		return nil, err
	}
	auditLogs, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:        provider,
		uow:             uow,
		orders:          orders,
		inventory:       inventory,
		coupons:         coupons,
		users:           users,
		moneyLogs:       moneyLogs,
		reductionTiers:  tiers,
		returnAddresses: returnAddresses,
		express:         express,
		auditLogs:       auditLogs,
		health:          health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx delegates to the registry's unit of work.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

func (r *Registry) Orders() repositories.OrderRepository                 { return r.orders }
func (r *Registry) Inventory() repositories.InventoryRepository          { return r.inventory }
func (r *Registry) Coupons() repositories.CouponRepository               { return r.coupons }
func (r *Registry) Users() repositories.UserRepository                   { return r.users }
func (r *Registry) MoneyLogs() repositories.MoneyLogRepository           { return r.moneyLogs }
func (r *Registry) ReductionTiers() repositories.ReductionTierRepository { return r.reductionTiers }
func (r *Registry) ReturnAddresses() repositories.ReturnAddressRepository {
	return r.returnAddresses
}
func (r *Registry) Express() repositories.ExpressRepository   { return r.express }
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.auditLogs }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }

var _ repositories.Registry = (*Registry)(nil)
