package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"payment-service/internal/config"
	"payment-service/internal/db"
	"payment-service/internal/event"
	"payment-service/internal/kafka"
	"payment-service/internal/logging"
	"payment-service/internal/metrics"
	"payment-service/internal/orchestrator"
	"payment-service/internal/payment"
	"payment-service/internal/payout"
	"payment-service/internal/provider"
	"payment-service/internal/provider/card"
	"payment-service/internal/provider/instapay"
	"payment-service/internal/provider/vodacash"
	"payment-service/internal/server"
	"payment-service/internal/sms"
	"payment-service/internal/sweeper"
	"payment-service/internal/wallet"
	"payment-service/internal/webhook"
)

func main() {
	cfg := config.MustLoadConfig("./config")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics)

	connStr := db.GetConnStr(cfg.Database)
	db.RunMigrations(connStr, "./migrations")

	dbpool, err := db.GetPool(connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	intentRepo := db.NewIntentRepository(dbpool)
	walletRepo := db.NewWalletRepository(dbpool)
	orderRepo := db.NewOrderRepository(dbpool)
	commissionRepo := db.NewCommissionRepository(dbpool)
	refundRepo := db.NewRefundRepository(dbpool)
	eventRepo := db.NewEventRepository(dbpool)

	smsClient := sms.NewClient(cfg.SMS)
	payoutClient := payout.NewClient(cfg.Payout)

	cardClient := card.NewClient(cfg.Providers.Card, logger)
	instapayClient := instapay.NewClient(cfg.Providers.InstaPay, logger)
	vodacashClient := vodacash.NewClient(cfg.Providers.VodaCash, smsClient, logger)

	registry := provider.NewRegistry(cardClient, instapayClient, vodacashClient)

	ledger := wallet.NewLedger(walletRepo, payoutClient, cfg.Payout.Parallelism, logger)

	schedule := payment.Schedule{
		PlatformRate:       mustDecimal(cfg.Commission.PlatformRate),
		ProcessingRate:     mustDecimal(cfg.Commission.ProcessingRate),
		ProcessingFixedFee: mustDecimal(cfg.Commission.ProcessingFixedFee),
		MinorUnitDigits:    cfg.Commission.MinorUnitDigits,
	}

	orch := orchestrator.New(intentRepo, orderRepo, commissionRepo, eventRepo, walletRepo, ledger, registry, schedule, logger)
	refundOrch := orchestrator.NewRefundOrchestrator(intentRepo, refundRepo, orderRepo, eventRepo, registry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventWriter := kafka.NewWriter(cfg.Kafka, cfg.Kafka.Topic.PaymentEvents)
	defer eventWriter.Close()

	publisher := event.NewPublisher(eventRepo, eventWriter, cfg.Outbox, logger)
	publisher.Start(ctx)

	intentSweeper := sweeper.New(intentRepo, orch, cfg.Sweeper, logger)
	intentSweeper.Start(ctx)

	webhookHandler := webhook.NewHandler(map[string]provider.WebhookDecoder{
		"card":     cardClient,
		"instapay": instapayClient,
		"vodacash": vodacashClient,
	}, intentRepo, orch, logger)

	handlers := server.NewHandlers(orch, refundOrch, ledger, walletRepo)
	mux := server.NewMux(handlers, webhookHandler)

	httpServer := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}

	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	cancel()
	if err := httpServer.Shutdown(context.Background()); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("Invalid decimal in config: %q", s)
	}
	return d
}
