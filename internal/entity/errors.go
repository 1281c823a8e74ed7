package entity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("you do not have the credentials for this resource")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrVersionConflict   = errors.New("concurrency exception")
)

// InsufficientStockError identifies the product that could not cover a request.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("the item %q exceeds the available quantity (available: %d, requested: %d)",
		e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
