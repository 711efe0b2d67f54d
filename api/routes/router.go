package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/packfinderz-dispatch/api/controllers"
	"github.com/angelmondragon/packfinderz-dispatch/api/middleware"
	"github.com/angelmondragon/packfinderz-dispatch/internal/orders"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/config"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
	pkgredis "github.com/angelmondragon/packfinderz-dispatch/pkg/redis"
)

// RedisStore is the Redis surface the HTTP layer needs.
type RedisStore interface {
	pkgredis.Pinger
	pkgredis.IdempotencyStore
	pkgredis.RateLimiter
}

// Params wires the router. Nil services answer with an internal error and a
// nil Redis disables idempotency and rate limiting.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         controllers.Pinger
	Redis      RedisStore
	Dispatch   controllers.Dispatcher
	Orders     orders.Service
	OrdersRepo orders.Repository
	Routing    controllers.RoutePlanner
	Earnings   controllers.EarningsReporter
	Sweeps     controllers.SweepRunner
	Metrics    http.Handler
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.API.CORSOrigins),
	)

	var (
		idempotencyStore pkgredis.IdempotencyStore
		limiter          pkgredis.RateLimiter
		redisPinger      controllers.Pinger
	)
	if p.Redis != nil {
		idempotencyStore = p.Redis
		limiter = p.Redis
		redisPinger = p.Redis
	}

	metricsHandler := p.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": p.DB,
			"redis":    redisPinger,
		}))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	routePolicy := middleware.NewRateLimitPolicy("route", cfg.API.RouteRateWindow, cfg.API.RouteRateLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/seller", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleSeller, enums.ActorRoleAdmin))
			r.Post("/orders/{orderId}/ready", controllers.SellerOrderReady(p.Dispatch, p.OrdersRepo, logg))
		})

		r.Route("/agent", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAgent))
			r.Use(middleware.RequireAgent(logg))
			r.Get("/orders", controllers.AgentDeliveries(p.OrdersRepo, logg))
			r.Post("/orders/{orderId}/respond", controllers.AgentRespond(p.Dispatch, logg))
			r.Post("/orders/{orderId}/pickup", controllers.AgentPickup(p.Orders, logg))
			r.Post("/orders/{orderId}/in-transit", controllers.AgentInTransit(p.Orders, logg))
			r.Post("/orders/{orderId}/deliver", controllers.AgentDeliver(p.Orders, logg))
			r.With(middleware.RateLimit(routePolicy, limiter, logg)).Post("/route", controllers.AgentRoute(p.Routing, logg))
		})

		r.Route("/client", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleClient))
			r.Post("/orders/{orderId}/cancel", controllers.CancelOrder(p.Orders, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.With(middleware.RequireRole(logg, enums.ActorRoleAdmin, enums.ActorRoleSystem)).
				Post("/sweeps/{sweep}", controllers.AdminRunSweep(p.Sweeps, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
				r.Post("/orders/{orderId}/force-reassign", controllers.AdminForceReassign(p.Dispatch, logg))
				r.Post("/orders/{orderId}/cancel", controllers.CancelOrder(p.Orders, logg))
				r.Get("/orders/{orderId}/earnings", controllers.AdminOrderEarnings(p.Earnings, logg))
			})
		})
	})

	return r
}
