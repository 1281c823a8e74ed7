package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"go.uber.org/zap"
)

const searchLimit = 10

// CatalogService manages the shared product catalog.
type CatalogService struct {
	products repository.ProductRepository
	logger   *zap.Logger
}

func NewCatalogService(products repository.ProductRepository, logger *zap.Logger) *CatalogService {
	return &CatalogService{products: products, logger: logger}
}

// GetProducts returns all products ordered by name.
func (s *CatalogService) GetProducts(ctx context.Context) ([]entity.Product, error) {
	products, err := s.products.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []entity.Product{}
	}
	return products, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (*entity.Product, error) {
	return s.products.GetProduct(ctx, id)
}

// Search matches product names case-insensitively, returning at most ten.
func (s *CatalogService) Search(ctx context.Context, text string) ([]entity.Product, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: search text is required", entity.ErrInvalidInput)
	}
	products, err := s.products.Search(ctx, text, searchLimit)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []entity.Product{}
	}
	return products, nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, p entity.Product) (*entity.Product, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.products.Create(ctx, &p); err != nil {
		return nil, err
	}
	s.logger.Info("Service: Product created", zap.String("product_id", p.ID))
	return &p, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, id string, p entity.Product) (*entity.Product, error) {
	p.ID = id
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.products.Update(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateStock sets the absolute stock of a product.
func (s *CatalogService) UpdateStock(ctx context.Context, id string, quantity int) (*entity.Product, error) {
	if err := s.products.UpdateStock(ctx, id, quantity); err != nil {
		return nil, err
	}
	return s.products.GetProduct(ctx, id)
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	return s.products.Delete(ctx, id)
}

// Seed fills an empty catalog.
func (s *CatalogService) Seed(ctx context.Context, products []entity.Product) error {
	if err := s.products.Seed(ctx, products); err != nil {
		return fmt.Errorf("failed to seed products: %w", err)
	}
	return nil
}
