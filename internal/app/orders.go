package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gozon/checkout/internal/config"
	"gozon/checkout/internal/httpapi"
	"gozon/checkout/internal/lock"
	"gozon/checkout/internal/metrics"
	"gozon/checkout/internal/order"
	"gozon/checkout/internal/payment"
	"gozon/checkout/internal/storage"
	"gozon/checkout/internal/tracing"
	"gozon/checkout/internal/websocket"
	"gozon/checkout/pkg/contracts"
	"gozon/checkout/pkg/messaging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

const ordersServiceName = "orders-service"

type updateSink interface {
	Broadcast(u websocket.OrderUpdate) bool
}

type OrdersApp struct {
	cfg       config.Orders
	logger    *slog.Logger
	store     *storage.Store
	redis     *redis.Client
	orderSvc  *order.Service
	wsHub     *websocket.Hub
	updates   updateSink
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	consumer  *messaging.Consumer
	httpSrv   *http.Server
	shutdown  func(context.Context) error
}

func NewOrders(ctx context.Context, cfg config.Orders, logger *slog.Logger) (*OrdersApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: ordersServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, cfg.DatabaseURL, storage.SchemaOrders)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	a := &OrdersApp{cfg: cfg, logger: logger, store: store, shutdown: shutdownTracing}

	var locker order.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		locker = lock.NewRedis(a.redis, cfg.LockTTL, logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	authorizer := payment.NewHTTPAuthorizer(cfg.PaymentsURL, &http.Client{Transport: tracing.Transport(nil)})
	a.orderSvc = order.NewService(storage.NewOrders(store.Pool()), locker, authorizer, logger,
		order.WithMetrics(metrics.NewSubmissions(registry)),
		order.WithAuthorizeTimeout(cfg.AuthorizeTimeout),
	)

	publisher, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.OrdersExchange)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.publisher = publisher

	consumer, err := messaging.NewRabbitConsumer(cfg.RabbitURL, cfg.OrdersExchange, messaging.QueueOptions{
		Name:      cfg.UpdatesQueue,
		Transient: true,
	}, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.consumer = consumer

	a.wsHub = websocket.NewHub()
	a.updates = a.wsHub
	a.outbox = messaging.NewOutboxDispatcher(store.Pool(), publisher, "order_outbox", cfg.OutboxInterval, cfg.OutboxBatchSize, logger)

	api := httpapi.NewOrdersServer(a.orderSvc, logger)
	wsHandler := websocket.NewHandler(a.wsHub, a.orderSvc, logger)
	api.HandleFunc("GET /orders/{orderID}/ws", wsHandler.ServeWS)
	api.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	a.httpSrv = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: tracing.WrapHandler(api, "orders-http"),
	}

	return a, nil
}

func (a *OrdersApp) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	a.outbox.Start(ctx)

	go a.wsHub.Run(ctx)

	go func() {
		errCh <- a.consumer.Start(ctx, a.handleOrderEvent)
	}()

	go func() {
		a.logger.Info("orders http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *OrdersApp) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownGracePeriod)
	defer cancel()
	if a.httpSrv != nil {
		_ = a.httpSrv.Shutdown(shutdownCtx)
	}
	a.closeAll()
	if a.shutdown != nil {
		if err := a.shutdown(shutdownCtx); err != nil {
			a.logger.Warn("shutdown tracing", "err", err)
		}
	}
}

func (a *OrdersApp) closeAll() {
	if a.consumer != nil {
		a.consumer.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.store.Close()
}

// handleOrderEvent forwards submitted orders to websocket clients connected
// to this instance.
func (a *OrdersApp) handleOrderEvent(_ context.Context, msg amqp091.Delivery) {
	if msg.Type != "" && msg.Type != contracts.EventOrderSubmitted {
		_ = msg.Ack(false)
		return
	}

	var evt contracts.OrderSubmittedEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		a.logger.Error("invalid order event", "err", err)
		_ = msg.Nack(false, false)
		return
	}

	expiresAt := evt.StateExpiresAt
	delivered := a.updates.Broadcast(websocket.OrderUpdate{
		OrderID:        evt.OrderID,
		State:          evt.State,
		StateExpiresAt: &expiresAt,
	})
	if !delivered {
		a.logger.Warn("order update dropped", "order_id", evt.OrderID, "state", evt.State)
	}
	_ = msg.Ack(false)
}

func RunOrders() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.LoadOrders()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewOrders(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}
