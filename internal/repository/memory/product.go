// Package memory provides in-process implementations of the repositories.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"github.com/google/uuid"
)

type productRepository struct {
	mu sync.RWMutex
	m  map[string]entity.Product
}

// NewProductRepository creates an empty ProductRepository held in memory.
func NewProductRepository() repository.ProductRepository {
	return &productRepository{m: make(map[string]entity.Product)}
}

func (r *productRepository) GetProduct(ctx context.Context, id string) (*entity.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, entity.ErrNotFound)
	}
	return &p, nil
}

func (r *productRepository) UpdateStock(ctx context.Context, id string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: stock must be >= 0", entity.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	if !ok {
		return fmt.Errorf("product %s: %w", id, entity.ErrNotFound)
	}
	p.Stock = quantity
	r.m[id] = p
	return nil
}

func (r *productRepository) DecrementStock(ctx context.Context, id string, quantity int) (*entity.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, entity.ErrNotFound)
	}
	if p.Stock < quantity {
		return nil, fmt.Errorf("product %s: %w", id, entity.ErrInsufficientStock)
	}
	p.Stock -= quantity
	r.m[id] = p
	return &p, nil
}

func (r *productRepository) RestoreStock(ctx context.Context, id string, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	if !ok {
		return fmt.Errorf("product %s: %w", id, entity.ErrNotFound)
	}
	p.Stock += quantity
	r.m[id] = p
	return nil
}

func (r *productRepository) FindAll(ctx context.Context) ([]entity.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	products := make([]entity.Product, 0, len(r.m))
	for _, p := range r.m {
		products = append(products, p)
	}
	sortProducts(products)
	return products, nil
}

func (r *productRepository) Search(ctx context.Context, text string, limit int) ([]entity.Product, error) {
	needle := strings.ToLower(strings.TrimSpace(text))
	r.mu.RLock()
	var products []entity.Product
	for _, p := range r.m {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			products = append(products, p)
		}
	}
	r.mu.RUnlock()
	sortProducts(products)
	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}
	return products, nil
}

func (r *productRepository) Create(ctx context.Context, p *entity.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[p.ID]; ok {
		return fmt.Errorf("product %s: %w", p.ID, entity.ErrAlreadyExists)
	}
	r.m[p.ID] = *p
	return nil
}

func (r *productRepository) Update(ctx context.Context, p *entity.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.m[p.ID]
	if !ok {
		return fmt.Errorf("product %s: %w", p.ID, entity.ErrNotFound)
	}
	p.CreatedAt = cur.CreatedAt
	r.m[p.ID] = *p
	return nil
}

func (r *productRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; !ok {
		return fmt.Errorf("product %s: %w", id, entity.ErrNotFound)
	}
	delete(r.m, id)
	return nil
}

func (r *productRepository) Seed(ctx context.Context, products []entity.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.m) > 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, p := range products {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		r.m[p.ID] = p
	}
	return nil
}

func sortProducts(products []entity.Product) {
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
}
