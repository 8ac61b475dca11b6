package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harborline/marketfleet-backend/api/controllers"
	ordercontrollers "github.com/harborline/marketfleet-backend/api/controllers/orders"
	webhookcontrollers "github.com/harborline/marketfleet-backend/api/controllers/webhooks"
	"github.com/harborline/marketfleet-backend/api/middleware"
	"github.com/harborline/marketfleet-backend/internal/notifications"
	internalorders "github.com/harborline/marketfleet-backend/internal/orders"
	"github.com/harborline/marketfleet-backend/internal/payments"
	"github.com/harborline/marketfleet-backend/internal/payouts"
	"github.com/harborline/marketfleet-backend/internal/sellers"
	stripewebhook "github.com/harborline/marketfleet-backend/internal/webhooks/stripe"
	"github.com/harborline/marketfleet-backend/pkg/config"
	"github.com/harborline/marketfleet-backend/pkg/db"
	"github.com/harborline/marketfleet-backend/pkg/logger"
	"github.com/harborline/marketfleet-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	ordersSvc internalorders.Service,
	paymentsSvc payments.Service,
	payoutsSvc payouts.Service,
	notificationsSvc notifications.Service,
	sellersSvc sellers.Service,
	webhookSvc *stripewebhook.Service,
	metricsRegistry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if metricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payment", webhookcontrollers.StripeWebhook(webhookSvc, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.StoreContext(logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(ordersSvc, logg))
			r.Get("/", ordercontrollers.List(ordersSvc, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(ordersSvc, logg))
			r.Post("/{orderId}/ship", ordercontrollers.Ship(ordersSvc, logg))
			r.Post("/{orderId}/deliver", ordercontrollers.Deliver(ordersSvc, logg))
		})

		r.Post("/checkout", controllers.Checkout(paymentsSvc, logg))
		r.Post("/refunds", controllers.Refund(paymentsSvc, logg))

		r.Route("/payouts", func(r chi.Router) {
			r.Get("/preview", controllers.PayoutPreview(payoutsSvc, logg))
			r.Post("/", controllers.PayoutCreate(payoutsSvc, logg))
			r.Get("/", controllers.PayoutList(payoutsSvc, logg))
			r.Get("/{payoutId}", controllers.PayoutDetail(payoutsSvc, logg))
		})

		r.Route("/sellers", func(r chi.Router) {
			r.Get("/account", controllers.SellerAccount(sellersSvc, logg))
			r.Post("/account", controllers.RegisterSellerAccount(sellersSvc, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(notificationsSvc, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notificationsSvc, logg))
		})
	})

	return r
}
