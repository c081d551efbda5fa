package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for inventory operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInsufficientStock indicates requested quantity exceeds availability.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorProductNotFound indicates the product document is missing or deleted.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
	// InventoryErrorSKUNotFound indicates the SKU document is missing or deleted.
	InventoryErrorSKUNotFound InventoryErrorCode = "inventory_sku_not_found"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Op      string
	Code    InventoryErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the error concerns a missing product or SKU.
func (e *InventoryError) IsNotFound() bool {
	return e != nil && (e.Code == InventoryErrorProductNotFound || e.Code == InventoryErrorSKUNotFound)
}

// IsConflict reports whether the error concerns a failed stock guard.
func (e *InventoryError) IsConflict() bool {
	return e != nil && e.Code == InventoryErrorInsufficientStock
}

// IsUnavailable always reports false; transient backend failures are wrapped
// by the persistence layer instead.
func (e *InventoryError) IsUnavailable() bool {
	return false
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
