package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/safar/go-ticket-store/internal/audit"
	"github.com/safar/go-ticket-store/internal/config"
	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/eligibility"
	"github.com/safar/go-ticket-store/internal/fiscal"
	"github.com/safar/go-ticket-store/internal/httpapi"
	"github.com/safar/go-ticket-store/internal/logging"
	"github.com/safar/go-ticket-store/internal/orders"
	"github.com/safar/go-ticket-store/internal/outbox"
	"github.com/safar/go-ticket-store/internal/payments"
	"github.com/safar/go-ticket-store/internal/refunds"
	"github.com/safar/go-ticket-store/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to database")

	box, err := outbox.Open(cfg.Outbox.Path)
	if err != nil {
		logger.Fatal("open outbox", zap.String("path", cfg.Outbox.Path), zap.Error(err))
	}
	defer box.Close()

	clock := func() time.Time { return time.Now().UTC() }
	issuer := fiscal.NewIssuer(cfg.Fiscal.ReceiptSeries, cfg.Fiscal.InvoiceSeries)
	checker := eligibility.NewChecker(eligibility.NewSQLRegistry(db))

	orderSvc, err := orders.New(orders.Deps{
		DB:          db,
		Eligibility: checker,
		Coupons:     eligibility.NewCouponValidator(checker, clock),
		Fiscal:      issuer,
		Notifier:    box,
		Audit:       audit.MultiRecorder{box, audit.NewLogRecorder(logger.Named("audit"))},
		Logger:      logger.Named("orders"),
		Clock:       clock,
		OrderTTL:    cfg.Orders.TTL,
		MaxRetries:  cfg.Orders.MaxRetries,
		Currency:    cfg.Orders.DefaultCurrency,
	})
	if err != nil {
		logger.Fatal("build order service", zap.Error(err))
	}
	paymentSvc, err := payments.New(payments.Deps{
		DB:               db,
		Orders:           orderSvc,
		Logger:           logger.Named("payments"),
		Clock:            clock,
		MaxRetries:       cfg.Orders.MaxRetries,
		ChargebackWindow: cfg.Payments.ChargebackWindow,
	})
	if err != nil {
		logger.Fatal("build payment service", zap.Error(err))
	}
	refundSvc, err := refunds.New(refunds.Deps{
		DB:         db,
		Orders:     orderSvc,
		Fiscal:     issuer,
		Logger:     logger.Named("refunds"),
		Clock:      clock,
		MaxRetries: cfg.Orders.MaxRetries,
	})
	if err != nil {
		logger.Fatal("build refund service", zap.Error(err))
	}

	notifyLogger := logger.Named("notifications")
	deliver := func(_ context.Context, n outbox.Notification) error {
		notifyLogger.Info("ticket notification dispatched",
			zap.Int64("registration_id", n.RegistrationID),
			zap.Int("attempts", n.Attempts+1))
		return nil
	}

	jobs := scheduler.New(logger,
		scheduler.Job{Name: "expire-orders", Interval: cfg.Scheduler.ExpireSweepInterval, Run: orderSvc.SweepExpired},
		scheduler.Job{Name: "expire-coupons", Interval: cfg.Scheduler.CouponSweepInterval, Run: func(ctx context.Context) (int, error) {
			n, err := orderSvc.SweepCoupons(ctx)
			return int(n), err
		}},
		scheduler.Job{Name: "confirm-lapsed-chargebacks", Interval: cfg.Scheduler.ChargebackSweepInterval, Run: paymentSvc.SweepStaleChargebacks},
		scheduler.Job{Name: "drain-outbox", Interval: cfg.Outbox.DrainInterval, Run: func(ctx context.Context) (int, error) {
			return box.Drain(ctx, deliver)
		}},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	jobs.Start(ctx)

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: httpapi.NewRouter(httpapi.Services{
			Orders:   orderSvc,
			Payments: paymentSvc,
			Refunds:  refundSvc,
			Logger:   logger.Named("http"),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	jobs.Stop()
	logger.Info("server stopped")
}
