package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/orderflow-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/orderflow-backend/api/controllers/webhooks"
	"github.com/angelmondragon/orderflow-backend/api/middleware"
	"github.com/angelmondragon/orderflow-backend/internal/cart"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/orderflow-backend/pkg/redis"
)

// Dependencies is everything the HTTP surface talks to. Metrics is optional.
type Dependencies struct {
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency pkgredis.IdempotencyStore
	Orders      orders.Service
	Cart        *cart.Snapshotter
	Webhooks    webhookcontrollers.SquareWebhookService
	Metrics     http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/square", webhookcontrollers.SquareWebhook(deps.Webhooks, webhookcontrollers.SquareSignature{
			Secret:          cfg.Square.WebhookSecret,
			NotificationURL: cfg.Square.WebhookURL,
			Skip:            cfg.Webhook.SkipSignature,
		}, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.ActorRoleCustomer, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Post("/checkout", ordercontrollers.Checkout(deps.Cart, deps.Orders, logg))
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Get("/lookup", ordercontrollers.DetailByNumber(deps.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.CancelOrder(deps.Orders, logg))
			r.Post("/{orderId}/return", ordercontrollers.ReturnOrder(deps.Orders, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.ActorRoleAdmin, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/stats/count", ordercontrollers.AdminCount(deps.Orders, logg))
			r.Get("/stats/revenue", ordercontrollers.AdminRevenue(deps.Orders, logg))
			r.Get("/lookup", ordercontrollers.DetailByNumber(deps.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))

			for path, action := range adminActions {
				r.Post("/{orderId}/"+path, ordercontrollers.AdminTransition(action, deps.Orders, logg))
			}
		})
	})

	return r
}

var adminActions = map[string]orders.Action{
	"confirm":  orders.ActionConfirm,
	"process":  orders.ActionProcess,
	"ship":     orders.ActionShip,
	"deliver":  orders.ActionDeliver,
	"complete": orders.ActionComplete,
	"cancel":   orders.ActionCancelByAdmin,
	"refund":   orders.ActionRefund,
	"return":   orders.ActionReturn,
	"expire":   orders.ActionExpire,
}
