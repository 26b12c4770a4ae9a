package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qwerty-development/makielli-internal-sub000/internal/app"
	"github.com/qwerty-development/makielli-internal-sub000/internal/clients"
	"github.com/qwerty-development/makielli-internal-sub000/internal/inventory"
	"github.com/qwerty-development/makielli-internal-sub000/internal/invoices"
	"github.com/qwerty-development/makielli-internal-sub000/internal/orders"
	"github.com/qwerty-development/makielli-internal-sub000/internal/platform/db"
	"github.com/qwerty-development/makielli-internal-sub000/internal/receipts"
	"github.com/qwerty-development/makielli-internal-sub000/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idemStore := shared.NewIdempotencyStore(pool)
	statementCache := clients.NewCache(redisClient, cfg.StatementTTL)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, idemStore,
		inventory.ServiceConfig{AllowNegativeStock: cfg.AllowNegativeStock}, logger)

	invoicesRepo := invoices.NewRepository(pool)
	invoicesService := invoices.NewService(invoicesRepo, statementCache, logger)

	ordersRepo := orders.NewRepository(pool)
	ordersService := orders.NewService(ordersRepo, ordersRepo, inventoryService,
		auditLogger, statementCache, orders.ServiceConfig{VATRate: cfg.VATRate}, logger)

	receiptsRepo := receipts.NewRepository(pool)
	receiptsService := receipts.NewService(receiptsRepo, invoicesService, auditLogger, statementCache, logger)

	clientsRepo := clients.NewRepository(pool)
	clientsService := clients.NewService(clientsRepo, auditLogger, statementCache, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		OrdersHandler:    orders.NewHandler(logger, ordersService),
		InvoicesHandler:  invoices.NewHandler(logger, invoicesService),
		ReceiptsHandler:  receipts.NewHandler(logger, receiptsService),
		ClientsHandler:   clients.NewHandler(logger, clientsService),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
