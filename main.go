package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/config"
	httpdelivery "github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/delivery/http"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging"
	amqpbroker "github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging/amqp"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging/kafka"
	memorybroker "github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging/memory"
	redisbroker "github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging/redis"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/observability"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository/memory"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository/postgres"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/service"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Application failed to run", zap.Error(err))
	}
}

// stores groups the persistence adapters selected by STORE_BACKEND.
type stores struct {
	products  repository.ProductRepository
	orders    repository.OrderRepository
	customers repository.CustomerRepository
	events    repository.EventStore
	close     func() error
}

func run(cfg config.Config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	telemetry, otelErr := observability.Setup(ctx, observability.Options{
		Endpoint:   cfg.OTelEndpoint,
		AuthHeader: cfg.OTelAuthHeader,
	})
	if otelErr != nil {
		logger.Error("Failed to setup OpenTelemetry SDK", zap.Error(otelErr))
	}
	if telemetry.Exporting {
		logger = observability.NewOTelLogger(cfg.LogLevel)
		logger.Info("Logger re-initialized with OpenTelemetry bridge")
	}
	defer func() {
		if shutdownErr := telemetry.Shutdown(context.Background()); shutdownErr != nil {
			logger.Error("Error during OpenTelemetry shutdown", zap.Error(shutdownErr))
		}
	}()

	// --- Stores ---
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	catalogSvc := service.NewCatalogService(st.products, logger)
	if cfg.SeedProducts {
		if err := catalogSvc.Seed(ctx, seedCatalog()); err != nil {
			return err
		}
	}

	// --- Messaging ---
	broker, err := newLeaderboardBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	events, closeEvents, err := newEventPublisher(cfg, telemetry.TracerProvider, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	// --- Services ---
	aggregator := service.NewLeaderboardAggregator(st.orders, st.customers, cfg.LeaderboardSize, logger)
	leaderboard := service.NewLeaderboardPublisher(broker, aggregator, cfg.LeaderboardTopic, logger)
	orderSvc := service.NewOrderService(
		st.orders,
		st.customers,
		service.NewInventoryValidator(st.products, logger),
		aggregator,
		leaderboard,
		st.events,
		events,
		logger,
		telemetry.TracerProvider,
	)
	customerSvc := service.NewCustomerService(st.customers, logger)

	// --- HTTP API ---
	handler := httpdelivery.NewHandler(orderSvc, catalogSvc, customerSvc, leaderboard, logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           httpdelivery.NewRouter(handler, telemetry.TracerProvider),
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting",
			zap.String("address", cfg.HTTPAddr),
			zap.String("store", cfg.StoreBackend),
			zap.String("leaderboard_transport", cfg.LeaderboardTransport))
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case httpErr := <-srvErr:
		if !errors.Is(httpErr, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", httpErr)
		}
		return nil
	case <-ctx.Done():
		stop()
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server graceful shutdown: %w", err)
	}
	logger.Info("HTTP server shutdown complete")
	return nil
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Info("Using in-memory stores")
		return &stores{
			products:  memory.NewProductRepository(),
			orders:    memory.NewOrderRepository(),
			customers: memory.NewCustomerRepository(),
			events:    memory.NewEventStore(),
			close:     func() error { return nil },
		}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	var db *sql.DB
	var err error
	for attempt := 1; ; attempt++ {
		db, err = postgres.InitDB(connectCtx, cfg.DatabaseURL, logger)
		if err == nil {
			break
		}
		if connectCtx.Err() != nil {
			return nil, fmt.Errorf("failed to init database: %w", err)
		}
		logger.Warn("Database not ready, retrying", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(2 * time.Second)
	}

	return &stores{
		products:  postgres.NewProductRepository(db),
		orders:    postgres.NewOrderRepository(db),
		customers: postgres.NewCustomerRepository(db),
		events:    postgres.NewEventStore(db),
		close:     db.Close,
	}, nil
}

func newLeaderboardBroker(cfg config.Config, logger *zap.Logger) (messaging.Broker, error) {
	logger = logger.With(zap.String("transport", cfg.LeaderboardTransport))
	switch cfg.LeaderboardTransport {
	case config.TransportKafka:
		return kafka.NewBroker(cfg.KafkaBrokers, cfg.SubscriberBuffer, logger)
	case config.TransportAMQP:
		conn, err := amqpbroker.Dial(cfg.AMQPURL, 5, logger)
		if err != nil {
			return nil, err
		}
		b, err := amqpbroker.NewBroker(conn, cfg.SubscriberBuffer, logger)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return b, nil
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("could not connect to redis: %w", err)
		}
		return redisbroker.NewBroker(client, cfg.SubscriberBuffer, logger), nil
	default:
		return memorybroker.NewBroker(cfg.SubscriberBuffer, logger), nil
	}
}

func newEventPublisher(cfg config.Config, tp trace.TracerProvider, logger *zap.Logger) (messaging.Publisher, func() error, error) {
	if !cfg.OrderEventsEnabled {
		return messaging.NopPublisher{}, func() error { return nil }, nil
	}
	hostname, _ := os.Hostname()
	return kafka.NewEventPublisher(cfg.KafkaBrokers, observability.ServiceName+"-"+hostname, tp, logger)
}
