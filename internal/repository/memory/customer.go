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

type customerRepository struct {
	mu      sync.RWMutex
	m       map[string]entity.Customer
	byEmail map[string]string
}

// NewCustomerRepository creates an empty CustomerRepository held in memory.
func NewCustomerRepository() repository.CustomerRepository {
	return &customerRepository{
		m:       make(map[string]entity.Customer),
		byEmail: make(map[string]string),
	}
}

func (r *customerRepository) GetCustomer(ctx context.Context, id string) (*entity.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, entity.ErrNotFound)
	}
	return &c, nil
}

func (r *customerRepository) FindBySeller(ctx context.Context, sellerID string) ([]entity.Customer, error) {
	r.mu.RLock()
	var customers []entity.Customer
	for _, c := range r.m {
		if c.SellerID == sellerID {
			customers = append(customers, c)
		}
	}
	r.mu.RUnlock()
	sort.Slice(customers, func(i, j int) bool { return customers[i].ID < customers[j].ID })
	return customers, nil
}

func (r *customerRepository) Create(ctx context.Context, c *entity.Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	email := strings.ToLower(c.Email)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byEmail[email]; taken {
		return fmt.Errorf("customer %s: %w", c.Email, entity.ErrAlreadyExists)
	}
	r.m[c.ID] = *c
	r.byEmail[email] = c.ID
	return nil
}

func (r *customerRepository) Update(ctx context.Context, c *entity.Customer) error {
	email := strings.ToLower(c.Email)
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.m[c.ID]
	if !ok {
		return fmt.Errorf("customer %s: %w", c.ID, entity.ErrNotFound)
	}
	if owner, taken := r.byEmail[email]; taken && owner != c.ID {
		return fmt.Errorf("customer %s: %w", c.Email, entity.ErrAlreadyExists)
	}
	delete(r.byEmail, strings.ToLower(cur.Email))
	c.CreatedAt = cur.CreatedAt
	r.m[c.ID] = *c
	r.byEmail[email] = c.ID
	return nil
}

func (r *customerRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[id]
	if !ok {
		return fmt.Errorf("customer %s: %w", id, entity.ErrNotFound)
	}
	delete(r.byEmail, strings.ToLower(c.Email))
	delete(r.m, id)
	return nil
}
