package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mixmall/api/internal/domain"
	pfirestore "github.com/mixmall/api/internal/platform/firestore"
	"github.com/mixmall/api/internal/repositories"
)

const (
	productCollection = "products"
	skuCollection     = "skus"
)

// InventoryRepository manages product and SKU stock. Inside a unit-of-work
// transaction negative adjustments are written blind; the service layer reads
// the stock first and Firestore serialisability keeps the guard honest.
// Standalone adjustments run their own guarded transaction.
type InventoryRepository struct {
	provider *pfirestore.Provider
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{provider: provider}, nil
}

// Adjust applies the delta to the product and SKU stock documents. Negative
// deltas below the available stock fail with an insufficient stock error.
func (r *InventoryRepository) Adjust(ctx context.Context, adj repositories.StockAdjustment) error {
	if r == nil || r.provider == nil {
		return errors.New("inventory repository not initialised")
	}
	productID := strings.TrimSpace(adj.ProductID)
	skuID := strings.TrimSpace(adj.SKUID)
	if productID == "" {
		return repositories.NewInventoryError(repositories.InventoryErrorUnknown, "inventory adjust: product id is required", nil)
	}
	if skuID == "" {
		return repositories.NewInventoryError(repositories.InventoryErrorUnknown, "inventory adjust: sku id is required", nil)
	}
	if adj.Delta == 0 {
		return nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return wrapInventoryError("inventory.adjust", err)
	}
	productRef := client.Collection(productCollection).Doc(productID)
	skuRef := client.Collection(skuCollection).Doc(skuID)

	if _, inTx := txFromContext(ctx); inTx {
		return wrapInventoryError("inventory.adjust", r.incrementStock(ctx, productRef, skuRef, adj.Delta))
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if adj.Delta < 0 {
			product, err := r.readProduct(withTx(ctx, tx), productRef)
			if err != nil {
				return err
			}
			sku, err := r.readSKU(withTx(ctx, tx), skuRef)
			if err != nil {
				return err
			}
			if product.Stock+adj.Delta < 0 {
				return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock,
					fmt.Sprintf("insufficient stock for product %s", productID), nil)
			}
			if sku.Stock+adj.Delta < 0 {
				return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock,
					fmt.Sprintf("insufficient stock for sku %s", skuID), nil)
			}
		}
		return r.incrementStock(withTx(ctx, tx), productRef, skuRef, adj.Delta)
	})
	return wrapInventoryError("inventory.adjust", err)
}

func (r *InventoryRepository) incrementStock(ctx context.Context, productRef, skuRef *firestore.DocumentRef, delta int) error {
	now := time.Now().UTC()
	updates := []firestore.Update{
		{Path: "stock", Value: firestore.Increment(delta)},
		{Path: "updatedAt", Value: now},
	}
	if err := updateDoc(ctx, productRef, updates); err != nil {
		return err
	}
	return updateDoc(ctx, skuRef, updates)
}

// GetProduct loads a product, treating deleted documents as missing.
func (r *InventoryRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("inventory repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Product{}, wrapInventoryError("inventory.getProduct", err)
	}
	product, err := r.readProduct(ctx, client.Collection(productCollection).Doc(productID))
	if err != nil {
		return domain.Product{}, wrapInventoryError("inventory.getProduct", err)
	}
	return product, nil
}

// GetSKU loads a SKU, treating deleted documents as missing.
func (r *InventoryRepository) GetSKU(ctx context.Context, skuID string) (domain.SKU, error) {
	if r == nil || r.provider == nil {
		return domain.SKU{}, errors.New("inventory repository not initialised")
	}
	skuID = strings.TrimSpace(skuID)
	if skuID == "" {
		return domain.SKU{}, errors.New("sku id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.SKU{}, wrapInventoryError("inventory.getSKU", err)
	}
	sku, err := r.readSKU(ctx, client.Collection(skuCollection).Doc(skuID))
	if err != nil {
		return domain.SKU{}, wrapInventoryError("inventory.getSKU", err)
	}
	return sku, nil
}

// IncrementSales bumps the product sales counter.
func (r *InventoryRepository) IncrementSales(ctx context.Context, productID string, quantity int) error {
	if r == nil || r.provider == nil {
		return errors.New("inventory repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product id is required")
	}
	if quantity <= 0 {
		return nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return wrapInventoryError("inventory.incrementSales", err)
	}
	updates := []firestore.Update{
		{Path: "sales", Value: firestore.Increment(quantity)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if err := updateDoc(ctx, client.Collection(productCollection).Doc(productID), updates); err != nil {
		return wrapInventoryError("inventory.incrementSales", err)
	}
	return nil
}

// ApplyRating folds one 0-5 star rating into the product aggregates. The
// rating ratio is the percentage of earned stars over the maximum possible.
func (r *InventoryRepository) ApplyRating(ctx context.Context, productID string, stars int) error {
	if r == nil || r.provider == nil {
		return errors.New("inventory repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product id is required")
	}
	if stars < 0 || stars > 5 {
		return repositories.NewInventoryError(repositories.InventoryErrorUnknown, "inventory apply rating: stars must be between 0 and 5", nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return wrapInventoryError("inventory.applyRating", err)
	}
	ref := client.Collection(productCollection).Doc(productID)

	apply := func(ctx context.Context) error {
		product, err := r.readProduct(ctx, ref)
		if err != nil {
			return err
		}
		count := product.RatingCount + 1
		total := product.RatingTotal + stars
		ratio := 100
		if count > 0 {
			ratio = (total*100 + count*5/2) / (count * 5)
		}
		updates := []firestore.Update{
			{Path: "ratingCount", Value: count},
			{Path: "ratingTotal", Value: total},
			{Path: "ratingRatio", Value: ratio},
			{Path: "updatedAt", Value: time.Now().UTC()},
		}
		return updateDoc(ctx, ref, updates)
	}

	if _, inTx := txFromContext(ctx); inTx {
		return wrapInventoryError("inventory.applyRating", apply(ctx))
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return apply(withTx(ctx, tx))
	})
	return wrapInventoryError("inventory.applyRating", err)
}

func (r *InventoryRepository) readProduct(ctx context.Context, ref *firestore.DocumentRef) (domain.Product, error) {
	snap, err := getDoc(ctx, ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound,
				fmt.Sprintf("product %s not found", ref.ID), err)
		}
		return domain.Product{}, err
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s: %w", ref.ID, err)
	}
	if doc.Deleted {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound,
			fmt.Sprintf("product %s is deleted", ref.ID), nil)
	}
	product := doc.toDomain()
	product.ID = ref.ID
	return product, nil
}

func (r *InventoryRepository) readSKU(ctx context.Context, ref *firestore.DocumentRef) (domain.SKU, error) {
	snap, err := getDoc(ctx, ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.SKU{}, repositories.NewInventoryError(repositories.InventoryErrorSKUNotFound,
				fmt.Sprintf("sku %s not found", ref.ID), err)
		}
		return domain.SKU{}, err
	}
	var doc skuDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.SKU{}, fmt.Errorf("decode sku %s: %w", ref.ID, err)
	}
	if doc.Deleted {
		return domain.SKU{}, repositories.NewInventoryError(repositories.InventoryErrorSKUNotFound,
			fmt.Sprintf("sku %s is deleted", ref.ID), nil)
	}
	sku := doc.toDomain()
	sku.ID = ref.ID
	return sku, nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	Title       string    `firestore:"title"`
	Image       string    `firestore:"image,omitempty"`
	Price       int64     `firestore:"price"`
	Stock       int       `firestore:"stock"`
	Sales       int       `firestore:"sales"`
	RatingCount int       `firestore:"ratingCount"`
	RatingTotal int       `firestore:"ratingTotal"`
	RatingRatio int       `firestore:"ratingRatio"`
	Deleted     bool      `firestore:"deleted"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain() domain.Product {
	return domain.Product{
		Title:       strings.TrimSpace(d.Title),
		Image:       strings.TrimSpace(d.Image),
		Price:       d.Price,
		Stock:       d.Stock,
		Sales:       d.Sales,
		RatingCount: d.RatingCount,
		RatingTotal: d.RatingTotal,
		RatingRatio: d.RatingRatio,
		Deleted:     d.Deleted,
		UpdatedAt:   d.UpdatedAt,
	}
}

type skuDocument struct {
	ProductID string    `firestore:"productId"`
	SpecText  string    `firestore:"specText,omitempty"`
	Price     int64     `firestore:"price"`
	Stock     int       `firestore:"stock"`
	Deleted   bool      `firestore:"deleted"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d skuDocument) toDomain() domain.SKU {
	return domain.SKU{
		ProductID: strings.TrimSpace(d.ProductID),
		SpecText:  strings.TrimSpace(d.SpecText),
		Price:     d.Price,
		Stock:     d.Stock,
		Deleted:   d.Deleted,
		UpdatedAt: d.UpdatedAt,
	}
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)
