package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/service"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Handler handles HTTP requests for the application.
type Handler struct {
	orderSvc    *service.OrderService
	catalogSvc  *service.CatalogService
	customerSvc *service.CustomerService
	leaderboard *service.LeaderboardPublisher
	logger      *zap.Logger
	keepAlive   time.Duration
}

func NewHandler(
	orderSvc *service.OrderService,
	catalogSvc *service.CatalogService,
	customerSvc *service.CustomerService,
	leaderboard *service.LeaderboardPublisher,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		orderSvc:    orderSvc,
		catalogSvc:  catalogSvc,
		customerSvc: customerSvc,
		leaderboard: leaderboard,
		logger:      logger,
		keepAlive:   15 * time.Second,
	}
}

// NewRouter registers every route and wraps the mux with tracing, request
// ids, access logging and CORS.
func NewRouter(h *Handler, tp trace.TracerProvider) http.Handler {
	mux := http.NewServeMux()
	handleFunc := func(pattern string, handlerFunc func(http.ResponseWriter, *http.Request)) {
		mux.Handle(pattern, otelhttp.WithRouteTag(pattern, http.HandlerFunc(handlerFunc)))
	}
	h.RegisterRoutes(handleFunc)

	handler := otelhttp.NewHandler(mux, "sales-backend-http", otelhttp.WithTracerProvider(tp))
	return EnableCORS(WithRequestID(WithLogging(h.logger)(handler)))
}

func (h *Handler) RegisterRoutes(handleFunc func(pattern string, handlerFunc func(http.ResponseWriter, *http.Request))) {
	handleFunc("GET /healthz", h.handleHealth)

	handleFunc("GET /api/products", h.handleGetProducts)
	handleFunc("GET /api/products/search", h.handleSearchProducts)
	handleFunc("GET /api/products/{id}", h.handleGetProduct)
	handleFunc("POST /api/products", h.handleCreateProduct)
	handleFunc("PUT /api/products/{id}", h.handleUpdateProduct)
	handleFunc("PUT /api/products/{id}/stock", h.handleUpdateStock)
	handleFunc("DELETE /api/products/{id}", h.handleDeleteProduct)

	handleFunc("GET /api/customers", h.handleListCustomers)
	handleFunc("POST /api/customers", h.handleCreateCustomer)
	handleFunc("GET /api/customers/{id}", h.handleGetCustomer)
	handleFunc("PUT /api/customers/{id}", h.handleUpdateCustomer)
	handleFunc("DELETE /api/customers/{id}", h.handleDeleteCustomer)

	handleFunc("GET /api/orders", h.handleListOrders)
	handleFunc("POST /api/orders", h.handleCreateOrder)
	handleFunc("GET /api/orders/{id}", h.handleGetOrder)
	handleFunc("PATCH /api/orders/{id}", h.handleUpdateOrder)
	handleFunc("DELETE /api/orders/{id}", h.handleDeleteOrder)
	handleFunc("GET /api/orders/{id}/history", h.handleOrderHistory)

	handleFunc("GET /api/leaderboard/top-customers", h.handleTopCustomers)
	handleFunc("GET /api/leaderboard/top-customers/stream", h.handleTopCustomersStream)
	handleFunc("GET /api/leaderboard/top-sellers", h.handleTopSellers)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON reads a JSON body, answering 400 on malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

// --- Products ---

func (h *Handler) handleGetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalogSvc.GetProducts(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalogSvc.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalogSvc.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// productRequest is the body of product create and replace. Name, stock
// and price must all be present.
type productRequest struct {
	ID    string           `json:"id,omitempty"`
	Name  *string          `json:"name"`
	Stock *int             `json:"stock"`
	Price *decimal.Decimal `json:"price"`
}

func (req productRequest) product() (entity.Product, error) {
	switch {
	case req.Name == nil:
		return entity.Product{}, fmt.Errorf("%w: name is required", entity.ErrInvalidInput)
	case req.Stock == nil:
		return entity.Product{}, fmt.Errorf("%w: stock is required", entity.ErrInvalidInput)
	case req.Price == nil:
		return entity.Product{}, fmt.Errorf("%w: price is required", entity.ErrInvalidInput)
	}
	return entity.Product{ID: req.ID, Name: *req.Name, Stock: *req.Stock, Price: *req.Price}, nil
}

func (h *Handler) decodeProduct(w http.ResponseWriter, r *http.Request) (entity.Product, bool) {
	var req productRequest
	if !decodeJSON(w, r, &req) {
		return entity.Product{}, false
	}
	p, err := req.product()
	if err != nil {
		writeError(w, r, h.logger, err)
		return entity.Product{}, false
	}
	return p, true
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}
	p, err := h.catalogSvc.CreateProduct(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}
	p, err := h.catalogSvc.UpdateProduct(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type updateStockRequest struct {
	Stock *int `json:"stock"`
}

func (h *Handler) handleUpdateStock(w http.ResponseWriter, r *http.Request) {
	var req updateStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Stock == nil {
		writeJSONError(w, http.StatusBadRequest, "validation_error", "stock is required")
		return
	}
	p, err := h.catalogSvc.UpdateStock(r.Context(), r.PathValue("id"), *req.Stock)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalogSvc.DeleteProduct(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Customers ---

func (h *Handler) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	seller, ok := sellerID(w, r)
	if !ok {
		return
	}
	customers, err := h.customerSvc.ListCustomers(r.Context(), seller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (h *Handler) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	seller, ok := sellerID(w, r)
	if !ok {
		return
	}
	var req entity.Customer
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.customerSvc.CreateCustomer(r.Context(), seller, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	seller, ok := sellerID(w, r)
	if !ok {
		return
	}
	c, err := h.customerSvc.GetCustomer(r.Context(), seller, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	seller, ok := sellerID(w, r)
	if !ok {
		return
	}
	var req entity.Customer
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.customerSvc.UpdateCustomer(r.Context(), seller, r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	seller, ok := sellerID(w, r)
	if !ok {
		return
	}
	if err := h.customerSvc.DeleteCustomer(r.Context(), seller, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Orders ---

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	seller, ok := sellerID(w, r)
	if !ok {
		return
	}
	status := entity.OrderStatus(r.URL.Query().Get("status"))
	orders, err := h.orderSvc.ListOrders(r.Context(), seller, status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	seller, ok := sellerID(w, r)
	if !ok {
		return
	}
	var req entity.PlaceOrder
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := h.orderSvc.PlaceOrder(r.Context(), seller, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	seller, ok := sellerID(w, r)
	if !ok {
		return
	}
	order, err := h.orderSvc.GetOrder(r.Context(), seller, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	seller, ok := sellerID(w, r)
	if !ok {
		return
	}
	var req entity.UpdateOrder
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := h.orderSvc.UpdateOrder(r.Context(), seller, r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	seller, ok := sellerID(w, r)
	if !ok {
		return
	}
	if err := h.orderSvc.DeleteOrder(r.Context(), seller, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type historyEntry struct {
	Version   int             `json:"version"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func (h *Handler) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	seller, ok := sellerID(w, r)
	if !ok {
		return
	}
	records, err := h.orderSvc.OrderHistory(r.Context(), seller, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	history := make([]historyEntry, len(records))
	for i, rec := range records {
		history[i] = historyEntry{
			Version:   rec.Version,
			EventType: rec.EventType,
			Payload:   json.RawMessage(rec.Payload),
			CreatedAt: rec.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, history)
}

// --- Leaderboard ---

func (h *Handler) handleTopCustomers(w http.ResponseWriter, r *http.Request) {
	entries, err := h.leaderboard.GetTopCustomers(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleTopSellers(w http.ResponseWriter, r *http.Request) {
	sellers, err := h.leaderboard.GetTopSellers(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if sellers == nil {
		sellers = []entity.SellerTotal{}
	}
	writeJSON(w, http.StatusOK, sellers)
}
