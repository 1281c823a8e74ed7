package main

import (
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/shopspring/decimal"
)

// seedCatalog is the demo catalog loaded into an empty product store.
func seedCatalog() []entity.Product {
	return []entity.Product{
		{ID: "prod-001", Name: "Wireless Noise-Cancelling Headphones", Price: decimal.RequireFromString("349.99"), Stock: 50},
		{ID: "prod-002", Name: "Mechanical Keyboard RGB", Price: decimal.RequireFromString("179.99"), Stock: 120},
		{ID: "prod-003", Name: "Ultrawide Curved Monitor 34\"", Price: decimal.RequireFromString("699.99"), Stock: 30},
		{ID: "prod-004", Name: "Ergonomic Office Chair", Price: decimal.RequireFromString("549.99"), Stock: 25},
		{ID: "prod-005", Name: "Smart LED Desk Lamp", Price: decimal.RequireFromString("89.99"), Stock: 200},
		{ID: "prod-006", Name: "Premium Laptop Backpack", Price: decimal.RequireFromString("129.99"), Stock: 80},
	}
}
