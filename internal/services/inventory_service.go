package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mixmall/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryItemNotFound indicates the product or SKU could not be located.
	ErrInventoryItemNotFound = errors.New("inventory: item not found")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo   repositories.InventoryRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo:   deps.Inventory,
		clock:  clock,
		logger: logger,
	}, nil
}

// Reserve decrements stock for every line. All reads run before the first
// write so the call composes with a surrounding Firestore transaction.
func (s *inventoryService) Reserve(ctx context.Context, lines []OrderLine) error {
	if err := validateInventoryLines(lines); err != nil {
		return err
	}

	for _, line := range lines {
		product, err := s.repo.GetProduct(ctx, line.ProductID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		sku, err := s.repo.GetSKU(ctx, line.SKUID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if product.Stock < line.Quantity || sku.Stock < line.Quantity {
			return fmt.Errorf("%w: %s", ErrInventoryInsufficientStock, line.Title)
		}
	}

	for _, line := range lines {
		adj := repositories.StockAdjustment{ProductID: line.ProductID, SKUID: line.SKUID, Delta: -line.Quantity}
		if err := s.repo.Adjust(ctx, adj); err != nil {
			return s.mapRepositoryError(err)
		}
	}
	return nil
}

// Release restores stock for every line. Products or SKUs that disappeared
// since the order was placed are skipped so refunds never get stuck.
func (s *inventoryService) Release(ctx context.Context, lines []OrderLine) error {
	if err := validateInventoryLines(lines); err != nil {
		return err
	}

	restorable := make([]OrderLine, 0, len(lines))
	for _, line := range lines {
		if _, err := s.repo.GetProduct(ctx, line.ProductID); err != nil {
			if isInventoryNotFound(err) {
				s.logger(ctx, "inventory.release.skipped", map[string]any{
					"product": line.ProductID,
					"sku":     line.SKUID,
					"reason":  "product missing",
				})
				continue
			}
			return s.mapRepositoryError(err)
		}
		if _, err := s.repo.GetSKU(ctx, line.SKUID); err != nil {
			if isInventoryNotFound(err) {
				s.logger(ctx, "inventory.release.skipped", map[string]any{
					"product": line.ProductID,
					"sku":     line.SKUID,
					"reason":  "sku missing",
				})
				continue
			}
			return s.mapRepositoryError(err)
		}
		restorable = append(restorable, line)
	}

	for _, line := range restorable {
		adj := repositories.StockAdjustment{ProductID: line.ProductID, SKUID: line.SKUID, Delta: line.Quantity}
		if err := s.repo.Adjust(ctx, adj); err != nil {
			return s.mapRepositoryError(err)
		}
	}
	return nil
}

// RecordSales bumps product sales counters after a completed purchase.
func (s *inventoryService) RecordSales(ctx context.Context, lines []OrderLine) error {
	if err := validateInventoryLines(lines); err != nil {
		return err
	}

	quantities := make(map[string]int, len(lines))
	ordered := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, seen := quantities[line.ProductID]; !seen {
			ordered = append(ordered, line.ProductID)
		}
		quantities[line.ProductID] += line.Quantity
	}

	for _, productID := range ordered {
		if err := s.repo.IncrementSales(ctx, productID, quantities[productID]); err != nil {
			return s.mapRepositoryError(err)
		}
	}
	return nil
}

// ApplyRating folds the buyer's stars into each distinct product on the order.
func (s *inventoryService) ApplyRating(ctx context.Context, lines []OrderLine, stars int) error {
	if err := validateInventoryLines(lines); err != nil {
		return err
	}
	if stars < 0 || stars > 5 {
		return fmt.Errorf("%w: stars must be between 0 and 5", ErrInventoryInvalidInput)
	}

	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if _, dup := seen[line.ProductID]; dup {
			continue
		}
		seen[line.ProductID] = struct{}{}
		if err := s.repo.ApplyRating(ctx, line.ProductID, stars); err != nil {
			if isInventoryNotFound(err) {
				s.logger(ctx, "inventory.rating.skipped", map[string]any{
					"product": line.ProductID,
					"reason":  "product missing",
				})
				continue
			}
			return s.mapRepositoryError(err)
		}
	}
	return nil
}

func validateInventoryLines(lines []OrderLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
		}
		if strings.TrimSpace(line.SKUID) == "" {
			return fmt.Errorf("%w: sku id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
		}
	}
	return nil
}

func isInventoryNotFound(err error) bool {
	var invErr *repositories.InventoryError
	return errors.As(err, &invErr) && invErr.IsNotFound()
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch {
		case invErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInventoryItemNotFound, err)
		case invErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrInventoryInsufficientStock, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInventoryItemNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrInventoryInsufficientStock, err)
		}
	}
	return err
}
