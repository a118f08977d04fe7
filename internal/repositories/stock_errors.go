package repositories

import (
	"errors"
	"fmt"
)

// StockErrorCode enumerates failure causes for stock mutations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates the requested quantity exceeds the remaining stock.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates the product document does not exist.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorProductInactive indicates the product is no longer sellable.
	StockErrorProductInactive StockErrorCode = "stock_product_inactive"
)

// StockError wraps stock failures with machine readable codes.
type StockError struct {
	Code      StockErrorCode
	ProductID string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Code {
	case StockErrorInsufficient:
		return fmt.Sprintf("stock: product %s has %d available, %d requested", e.ProductID, e.Available, e.Requested)
	case StockErrorProductNotFound:
		return fmt.Sprintf("stock: product %s not found", e.ProductID)
	case StockErrorProductInactive:
		return fmt.Sprintf("stock: product %s inactive", e.ProductID)
	}
	if e.Err != nil {
		return fmt.Sprintf("stock: product %s: %v", e.ProductID, e.Err)
	}
	return fmt.Sprintf("stock: product %s: %s", e.ProductID, e.Code)
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, productID string, requested, available int) *StockError {
	return &StockError{
		Code:      code,
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// IsStockCode reports whether err is a StockError with the given code.
func IsStockCode(err error, code StockErrorCode) bool {
	var stockErr *StockError
	if errors.As(err, &stockErr) {
		return stockErr.Code == code
	}
	return false
}
