// README: Entry point; loads config, wires services, starts HTTP server and background schedulers.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"bazar/internal/ai"
	"bazar/internal/config"
	bazarhttp "bazar/internal/http"
	"bazar/internal/http/handlers"
	"bazar/internal/infra"
	"bazar/internal/logging"
	"bazar/internal/maps"
	"bazar/internal/modules/dispute"
	"bazar/internal/modules/ledger"
	"bazar/internal/modules/order"
	"bazar/internal/modules/reservation"
	"bazar/internal/modules/routing"
	"bazar/internal/notify"
	"bazar/internal/payment"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatalf("db init: %v", err)
	}
	redisClient := infra.NewRedis(cfg.Redis.Addr)

	notifier := &notify.LogNotifier{Log: logger}

	walletSvc := ledger.NewService(ledger.NewPGStore(dbPool), &payment.FakeProvider{})
	stockSvc := reservation.NewService(reservation.NewPGStore(dbPool))

	orderSvc := order.NewService(order.Deps{
		Store:         order.NewPGStore(dbPool),
		Wallet:        walletSvc,
		Stock:         stockSvc,
		Notifier:      notifier,
		Log:           logger,
		DisputeWindow: cfg.Dispute.Window,
	})

	var eta routing.ETASource
	if cfg.Maps.APIKey != "" {
		etaSvc, err := maps.NewETAService(cfg.Maps.APIKey)
		if err != nil {
			logger.Fatalf("maps init: %v", err)
		}
		eta = etaSvc
	}

	driverPool := routing.NewDriverPool(redisClient)
	routingSvc := routing.NewService(routing.Deps{
		Store:    routing.NewPGStore(dbPool),
		Orders:   orderSvc,
		Drivers:  driverPool,
		ETA:      eta,
		Notifier: notifier,
		Log:      logger,
		Cfg:      cfg.Routing,
	})
	orderSvc.SetRouteDirectory(routingSvc)

	var triage ai.TriageProvider
	if cfg.AI.GeminiKey != "" {
		gemini, err := ai.NewGeminiProvider(ctx, cfg.AI.GeminiKey)
		if err != nil {
			logger.Fatalf("gemini init: %v", err)
		}
		defer gemini.Close()
		triage = gemini
	}
	disputeSvc := dispute.NewService(orderSvc, triage, logger)

	var drivers handlers.DriverLocator = driverPool
	handler := bazarhttp.NewRouter(bazarhttp.RouterDeps{
		Order:   orderSvc,
		Dispute: disputeSvc,
		Wallet:  walletSvc,
		Routing: routingSvc,
		Drivers: drivers,
		Log:     logger,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	go orderSvc.RunAutoReleaseSweep(ctx, cfg.Dispute.SweepInterval)
	go routingSvc.RunScheduler(ctx)

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	logger.WithField("addr", cfg.HTTP.Addr).Info("listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal(err)
	}
}
