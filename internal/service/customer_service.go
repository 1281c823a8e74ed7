package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"go.uber.org/zap"
)

// CustomerService manages the customers of each seller.
type CustomerService struct {
	customers repository.CustomerRepository
	logger    *zap.Logger
}

func NewCustomerService(customers repository.CustomerRepository, logger *zap.Logger) *CustomerService {
	return &CustomerService{customers: customers, logger: logger}
}

// CreateCustomer registers a customer owned by requester.
func (s *CustomerService) CreateCustomer(ctx context.Context, requester string, c entity.Customer) (*entity.Customer, error) {
	c.ID = ""
	c.SellerID = requester
	if err := validateCustomer(c); err != nil {
		return nil, err
	}
	if err := s.customers.Create(ctx, &c); err != nil {
		return nil, err
	}
	s.logger.Info("Service: Customer created", zap.String("seller_id", requester), zap.String("customer_id", c.ID))
	return &c, nil
}

func (s *CustomerService) ListCustomers(ctx context.Context, requester string) ([]entity.Customer, error) {
	customers, err := s.customers.FindBySeller(ctx, requester)
	if err != nil {
		return nil, err
	}
	if customers == nil {
		customers = []entity.Customer{}
	}
	return customers, nil
}

func (s *CustomerService) GetCustomer(ctx context.Context, requester, id string) (*entity.Customer, error) {
	c, err := s.customers.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.SellerID != requester {
		return nil, entity.ErrForbidden
	}
	return c, nil
}

func (s *CustomerService) UpdateCustomer(ctx context.Context, requester, id string, c entity.Customer) (*entity.Customer, error) {
	if _, err := s.GetCustomer(ctx, requester, id); err != nil {
		return nil, err
	}
	c.ID = id
	c.SellerID = requester
	if err := validateCustomer(c); err != nil {
		return nil, err
	}
	if err := s.customers.Update(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CustomerService) DeleteCustomer(ctx context.Context, requester, id string) error {
	if _, err := s.GetCustomer(ctx, requester, id); err != nil {
		return err
	}
	return s.customers.Delete(ctx, id)
}

func validateCustomer(c entity.Customer) error {
	if strings.TrimSpace(c.FirstName) == "" && strings.TrimSpace(c.LastName) == "" {
		return fmt.Errorf("%w: customer name is required", entity.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("%w: invalid email %q", entity.ErrInvalidInput, c.Email)
	}
	return nil
}
