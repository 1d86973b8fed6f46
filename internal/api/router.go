package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/paylane/dealflow/internal/api/handler"
	"github.com/paylane/dealflow/internal/api/middleware"
	"github.com/paylane/dealflow/internal/api/spec"
	"github.com/paylane/dealflow/internal/config"
	"github.com/paylane/dealflow/internal/idempotency"
	"github.com/paylane/dealflow/internal/service"
)

// Services bundles the wired domain services the API exposes.
type Services struct {
	Store     service.Store
	Router    *service.Router
	Disputes  *service.Disputes
	Stats     *service.Stats
	Callbacks *service.PartnerCallbacks
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	redis     redis.Cmdable
	idemStore *idempotency.Store
	svcs      Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, redisClient redis.Cmdable, idemStore *idempotency.Store, svcs Services) *Router {
	return &Router{cfg: cfg, logger: logger, db: db, redis: redisClient, idemStore: idemStore, svcs: svcs}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	dealHandler := handler.NewDealHandler(api.svcs.Router, api.svcs.Store)
	callbackHandler := handler.NewCallbackHandler(api.svcs.Callbacks, api.cfg.PartnerHMACKey, api.cfg.PartnerSkipSignature)
	disputeHandler := handler.NewDisputeHandler(api.svcs.Disputes)
	statsHandler := handler.NewStatsHandler(api.svcs.Stats)
	feeConfigHandler := handler.NewFeeConfigHandler(api.svcs.Store)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Get("/healthz/live", healthHandler.Live)
		r.Get("/healthz/ready", healthHandler.Ready)
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

		r.Post("/v1/callbacks/partner", callbackHandler.HandlePartnerCallback)
	})

	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.With(
			middleware.RequireRole(middleware.RoleMerchant),
			middleware.IdempotencyMiddleware(api.idemStore, api.logger),
		).Post("/v1/deals", dealHandler.CreateDeal)
		r.Get("/v1/deals/{id}", dealHandler.GetDeal)

		r.Get("/v1/principals/{id}/stats", statsHandler.GetStats)

		r.Post("/v1/disputes", disputeHandler.OpenDispute)
		r.With(middleware.RequireRole(middleware.RoleAdmin)).Post("/v1/disputes/{id}/take", disputeHandler.TakeDispute)
		r.With(middleware.RequireRole(middleware.RoleAdmin)).Post("/v1/disputes/{id}/resolve", disputeHandler.ResolveDispute)

		r.With(middleware.RequireRole(middleware.RoleAdmin)).Put("/v1/fee-configs", feeConfigHandler.UpsertFeeConfig)
	})

	return r
}
