package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gozon/checkout/internal/config"
	"gozon/checkout/internal/httpapi"
	"gozon/checkout/internal/payment"
	"gozon/checkout/internal/storage"
	"gozon/checkout/internal/tracing"
)

const paymentsServiceName = "payments-service"

type PaymentsApp struct {
	cfg      config.Payments
	logger   *slog.Logger
	store    *storage.Store
	ledger   *payment.Ledger
	httpSrv  *http.Server
	shutdown func(context.Context) error
}

func NewPayments(ctx context.Context, cfg config.Payments, logger *slog.Logger) (*PaymentsApp, error) {
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: paymentsServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, cfg.DatabaseURL, storage.SchemaPayments)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	ledger := payment.NewLedger(store.Pool(), logger)

	api := httpapi.NewPaymentsServer(ledger, logger)
	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: tracing.WrapHandler(api, "payments-http"),
	}

	return &PaymentsApp{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		ledger:   ledger,
		httpSrv:  httpSrv,
		shutdown: shutdownTracing,
	}, nil
}

func (a *PaymentsApp) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("payments http server listening", "addr", a.cfg.HTTPAddr)
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

func (a *PaymentsApp) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	a.store.Close()
	if err := a.shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown tracing", "err", err)
	}
}

func RunPayments() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.LoadPayments()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewPayments(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}
