package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/logistics"
	"github.com/mixmall/api/internal/repositories"
)

var (
	// ErrLogisticsInvalidInput signals the caller provided invalid tracking data.
	ErrLogisticsInvalidInput = errors.New("logistics: invalid input")
	// ErrLogisticsNotShipped indicates the order carries no shipment to track yet.
	ErrLogisticsNotShipped = errors.New("logistics: order not shipped")
	// ErrLogisticsUnavailable wraps upstream tracking failures.
	ErrLogisticsUnavailable = errors.New("logistics: tracking unavailable")
)

// shipmentTracker abstracts logistics.Kuaidi100Client for easier testing.
type shipmentTracker interface {
	Query(ctx context.Context, req logistics.QueryRequest) (logistics.QueryResult, error)
}

// LogisticsServiceDeps bundles collaborators required to construct the logistics service.
type LogisticsServiceDeps struct {
	Orders  repositories.OrderRepository
	Express repositories.ExpressRepository
	Tracker shipmentTracker
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type logisticsService struct {
	orders  repositories.OrderRepository
	express repositories.ExpressRepository
	tracker shipmentTracker
	logger  func(context.Context, string, map[string]any)
}

// NewLogisticsService wires dependencies into a concrete LogisticsService implementation.
func NewLogisticsService(deps LogisticsServiceDeps) (LogisticsService, error) {
	if deps.Orders == nil {
		return nil, errors.New("logistics service: order repository is required")
	}
	if deps.Express == nil {
		return nil, errors.New("logistics service: express repository is required")
	}
	if deps.Tracker == nil {
		return nil, errors.New("logistics service: shipment tracker is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &logisticsService{
		orders:  deps.Orders,
		express: deps.Express,
		tracker: deps.Tracker,
		logger:  logger,
	}, nil
}

// ListCompanies returns the carriers known to the storefront.
func (s *logisticsService) ListCompanies(ctx context.Context) ([]ExpressCompany, error) {
	companies, err := s.express.List(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return companies, nil
}

// Track resolves the live scan trace for the buyer's shipped order.
func (s *logisticsService) Track(ctx context.Context, cmd TrackCommand) (LogisticsInfo, error) {
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if userID == "" {
		return LogisticsInfo{}, fmt.Errorf("%w: user id is required", ErrLogisticsInvalidInput)
	}
	if orderID == "" {
		return LogisticsInfo{}, fmt.Errorf("%w: order id is required", ErrLogisticsInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return LogisticsInfo{}, s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return LogisticsInfo{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	if order.ShipperCode == "" || order.TrackingNumber == "" {
		return LogisticsInfo{}, fmt.Errorf("%w: order %s", ErrLogisticsNotShipped, order.OrderNumber)
	}

	result, err := s.tracker.Query(ctx, logistics.QueryRequest{
		ShipperCode:    order.ShipperCode,
		TrackingNumber: order.TrackingNumber,
		Phone:          strings.TrimSpace(cmd.Phone),
	})
	if err != nil {
		s.logger(ctx, "logistics.track.failed", map[string]any{
			"order":   order.ID,
			"shipper": order.ShipperCode,
			"error":   err.Error(),
		})
		return LogisticsInfo{}, fmt.Errorf("%w: %v", ErrLogisticsUnavailable, err)
	}

	return LogisticsInfo{
		Company: s.companyFor(ctx, order.ShipperCode),
		State:   result.State,
		Traces:  result.Traces,
	}, nil
}

// companyFor joins carrier metadata; a missing carrier record degrades to the bare code.
func (s *logisticsService) companyFor(ctx context.Context, code string) ExpressCompany {
	company, err := s.express.FindByCode(ctx, code)
	if err != nil {
		return domain.ExpressCompany{Code: code, Name: code}
	}
	return company
}

func (s *logisticsService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("logistics: repository unavailable: %w", err)
		}
	}
	return err
}
