package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/subpay-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/subpay-backend/api/controllers/webhooks"
	"github.com/angelmondragon/subpay-backend/api/middleware"
	"github.com/angelmondragon/subpay-backend/internal/notifications"
	"github.com/angelmondragon/subpay-backend/internal/payments"
	"github.com/angelmondragon/subpay-backend/internal/plans"
	"github.com/angelmondragon/subpay-backend/internal/subscriptions"
	"github.com/angelmondragon/subpay-backend/internal/usage"
	webhooksvc "github.com/angelmondragon/subpay-backend/internal/webhooks"
	"github.com/angelmondragon/subpay-backend/pkg/config"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
)

// Services groups everything the HTTP surface dispatches into.
type Services struct {
	Plans         *plans.Service
	Subscriptions *subscriptions.Service
	Payments      *payments.Service
	Usage         *usage.Service
	Notifications notifications.Service
	Webhooks      *webhooksvc.Service

	// Limiter throttles payment initiation per caller; nil disables it.
	Limiter middleware.RateLimiter
}

// NewRouter assembles the API. Caller identity arrives as X-User-Id /
// X-User-Role headers resolved by the identity middleware; auth proper
// lives upstream.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Gateway callbacks carry no caller identity and are always acked.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/khalti", webhookcontrollers.KhaltiWebhook(svcs.Webhooks, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(logg))

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", controllers.ListPlans(svcs.Plans, logg))
			r.Get("/{planId}", controllers.GetPlan(svcs.Plans, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(logg))
				r.Post("/", controllers.CreatePlan(svcs.Plans, logg))
				r.Post("/{planId}/deactivate", controllers.DeactivatePlan(svcs.Plans, logg))
			})
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(logg))
				r.Get("/stats", controllers.SubscriptionStats(svcs.Subscriptions, logg))
				r.Post("/{subscriptionId}/extend-trial", controllers.ExtendSubscriptionTrial(svcs.Subscriptions, logg))
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser(logg))
				r.Post("/", controllers.CreateSubscription(svcs.Subscriptions, logg))
				r.Get("/", controllers.ListSubscriptions(svcs.Subscriptions, logg))
				r.Get("/current", controllers.CurrentSubscription(svcs.Subscriptions, logg))
				r.Post("/{subscriptionId}/start-trial", controllers.StartSubscriptionTrial(svcs.Subscriptions, logg))
				r.Post("/{subscriptionId}/cancel", controllers.CancelSubscription(svcs.Subscriptions, logg))
				r.Post("/{subscriptionId}/renew", controllers.RenewSubscription(svcs.Subscriptions, logg))
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.With(middleware.RequireAdmin(logg)).
				Post("/{paymentId}/refund", controllers.RefundPayment(svcs.Payments, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser(logg))
				r.With(middleware.RateLimit(svcs.Limiter, "payments:initiate",
					cfg.RateLimit.InitiateLimit, cfg.RateLimit.InitiateWindow, logg)).
					Post("/initiate", controllers.InitiatePayment(svcs.Payments, logg))
				r.Post("/verify", controllers.VerifyPayment(svcs.Payments, logg))
				r.Get("/", controllers.ListPayments(svcs.Payments, logg))
				r.Get("/{paymentId}", controllers.GetPayment(svcs.Payments, logg))
				r.Post("/{paymentId}/retry", controllers.RetryPayment(svcs.Payments, logg))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser(logg))
			r.Get("/dashboard", controllers.Dashboard(svcs.Usage, logg))
			r.Get("/usage", controllers.UsageSummary(svcs.Usage, logg))
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.ListNotifications(svcs.Notifications, logg))
				r.Post("/{notificationId}/read", controllers.MarkNotificationRead(svcs.Notifications, logg))
				r.Post("/read-all", controllers.MarkAllNotificationsRead(svcs.Notifications, logg))
			})
		})

		r.With(middleware.RequireAdmin(logg)).
			Get("/admin/dashboard", controllers.AdminDashboard(svcs.Usage, logg))
	})

	return r
}
