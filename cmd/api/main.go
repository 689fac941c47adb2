package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/subpay-backend/api/controllers"
	"github.com/angelmondragon/subpay-backend/api/routes"
	"github.com/angelmondragon/subpay-backend/internal/notifications"
	"github.com/angelmondragon/subpay-backend/internal/payments"
	"github.com/angelmondragon/subpay-backend/internal/plans"
	"github.com/angelmondragon/subpay-backend/internal/reconcile"
	"github.com/angelmondragon/subpay-backend/internal/subscriptions"
	"github.com/angelmondragon/subpay-backend/internal/usage"
	webhooksvc "github.com/angelmondragon/subpay-backend/internal/webhooks"
	"github.com/angelmondragon/subpay-backend/pkg/config"
	"github.com/angelmondragon/subpay-backend/pkg/db"
	"github.com/angelmondragon/subpay-backend/pkg/khalti"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
	"github.com/angelmondragon/subpay-backend/pkg/metrics"
	"github.com/angelmondragon/subpay-backend/pkg/migrate"
	"github.com/angelmondragon/subpay-backend/pkg/outbox"
	"github.com/angelmondragon/subpay-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayMetrics := metrics.NewGatewayMetrics(prometheus.DefaultRegisterer)
	reconcileMetrics := metrics.NewReconcileMetrics(prometheus.DefaultRegisterer)

	gateway := khalti.New(
		khalti.ConfigFromApp(cfg.Khalti),
		redis.NewKeyedStore(redisClient),
		logg,
		gatewayMetrics,
	)

	conn := dbClient.DB()
	planRepo := plans.NewRepository(conn)
	subRepo := subscriptions.NewRepository(conn)
	paymentRepo := payments.NewRepository(conn)
	usageRepo := usage.NewRepository(conn)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)

	notificationSvc, err := notifications.NewService(notifications.NewRepository(conn), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	planSvc, err := plans.NewService(planRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create plans service", err)
		os.Exit(1)
	}

	subSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		DB:       dbClient,
		Repo:     subRepo,
		Plans:    planRepo,
		Outbox:   outboxSvc,
		Notifier: notificationSvc,
		Stats:    redisClient,
		Usage:    usageRepo,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	paymentSvc, err := payments.NewService(payments.ServiceParams{
		DB:         dbClient,
		Repo:       paymentRepo,
		Subs:       subRepo,
		Gateway:    gateway,
		Outbox:     outboxSvc,
		Notifier:   notificationSvc,
		Logger:     logg,
		ReturnURL:  cfg.Khalti.ReturnURL,
		WebsiteURL: cfg.Khalti.WebsiteURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		DB:       dbClient,
		Payments: paymentRepo,
		Subs:     subRepo,
		Outbox:   outboxSvc,
		Notifier: notificationSvc,
		Metrics:  reconcileMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile engine", err)
		os.Exit(1)
	}
	paymentSvc.SetReconciler(engine)

	usageSvc, err := usage.NewService(usage.ServiceParams{
		Repo:     usageRepo,
		Subs:     subRepo,
		Payments: paymentRepo,
		Plans:    planRepo,
		Stats:    subSvc,
		Notifier: notificationSvc,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create usage service", err)
		os.Exit(1)
	}

	webhookSvc, err := webhooksvc.NewService(webhooksvc.ServiceParams{
		Repo:       webhooksvc.NewRepository(conn),
		Reconciler: engine,
		Guard:      redisClient,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhooks service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	readiness := map[string]controllers.Pinger{
		"db":    dbClient,
		"redis": redisClient,
	}

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, readiness, routes.Services{
			Plans:         planSvc,
			Subscriptions: subSvc,
			Payments:      paymentSvc,
			Usage:         usageSvc,
			Notifications: notificationSvc,
			Webhooks:      webhookSvc,
			Limiter:       redisClient,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
