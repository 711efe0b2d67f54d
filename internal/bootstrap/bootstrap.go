package bootstrap

import (
	"context"
	"fmt"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-dispatch/internal/address"
	"github.com/angelmondragon/packfinderz-dispatch/internal/cron"
	"github.com/angelmondragon/packfinderz-dispatch/internal/dispatch"
	"github.com/angelmondragon/packfinderz-dispatch/internal/earnings"
	"github.com/angelmondragon/packfinderz-dispatch/internal/notify"
	"github.com/angelmondragon/packfinderz-dispatch/internal/orders"
	"github.com/angelmondragon/packfinderz-dispatch/internal/routing"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/config"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/maps"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/metrics"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/pubsub"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/redis"
)

// Params carries the connections every binary opens itself.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	Registry prometheus.Registerer
	// Lock guards sweep runs. Nil means a Redis lock using Config.Cron.LockTTL.
	Lock cron.Lock
}

// Services is the wired dispatch graph shared by the api, cron worker and CLI.
type Services struct {
	Dispatch   *dispatch.Service
	Earnings   *earnings.Service
	Orders     orders.Service
	OrdersRepo orders.Repository
	Routing    *routing.Service
	Cron       *cron.Service
	Publisher  *notify.Dispatcher

	closers []func() error
}

// Close releases notifier connections opened by Build.
func (s *Services) Close() error {
	var errs error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, s.closers[i]())
	}
	return errs
}

// Build wires repositories, services and the sweep scheduler.
func Build(ctx context.Context, p Params) (*Services, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	cfg, logg := p.Config, p.Logger
	reg := p.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	out := &Services{}

	var topics notify.TopicPublisherSource
	if slices.Contains(cfg.Notifications.Kinds(), config.NotifierPubSub) {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		out.closers = append(out.closers, psClient.Close)
		topics = psClient
	}
	notifiers, cleanup, err := notify.FromConfig(ctx, cfg, logg, topics)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("notifiers: %w", err)
	}
	out.closers = append(out.closers, func() error { cleanup(); return nil })

	publisher, err := notify.NewDispatcher(logg, notifiers...)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	out.Publisher = publisher

	conn := p.DB.DB()
	earningsSvc, err := earnings.NewService(earnings.NewRepository(conn), logg)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	out.Earnings = earningsSvc

	dispatchMetrics := metrics.NewDispatchMetrics(reg)
	dispatchSvc, err := dispatch.NewService(dispatch.ServiceParams{
		Repo:      dispatch.NewRepository(conn),
		Tx:        p.DB,
		Earnings:  earningsSvc,
		Publisher: publisher,
		Metrics:   dispatchMetrics,
		Logger:    logg,
		Policy:    dispatch.PolicyFromConfig(cfg.Dispatch),
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	out.Dispatch = dispatchSvc

	out.OrdersRepo = orders.NewRepository(conn)
	out.Orders, err = orders.NewService(out.OrdersRepo, p.DB, earningsSvc, publisher, logg)
	if err != nil {
		_ = out.Close()
		return nil, err
	}

	routingParams := routing.ServiceParams{
		Repo:     routing.NewRepository(conn),
		Metrics:  dispatchMetrics,
		Logger:   logg,
		CacheTTL: cfg.Dispatch.RouteCacheTTL,
	}
	if p.Redis != nil {
		routingParams.Cache = p.Redis
	}
	if cfg.GoogleMaps.Enabled() {
		mapsClient, err := maps.NewClient(cfg.GoogleMaps.APIKey,
			maps.WithBaseURL(cfg.GoogleMaps.BaseURL),
			maps.WithTimeout(cfg.GoogleMaps.Timeout),
		)
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("maps client: %w", err)
		}
		routingParams.Labeler = address.NewFromMaps(mapsClient, logg)
	}
	out.Routing, err = routing.NewService(routingParams)
	if err != nil {
		_ = out.Close()
		return nil, err
	}

	lock := p.Lock
	if lock == nil {
		if p.Redis == nil {
			_ = out.Close()
			return nil, fmt.Errorf("redis client or sweep lock required")
		}
		lock, err = cron.NewRedisLock(p.Redis, cfg.Cron.LockTTL)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
	}
	sweeps, err := cron.NewSweepRegistry(dispatchSvc, cfg.Cron.RetryInterval, cfg.Cron.TimeoutInterval)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	out.Cron, err = cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: sweeps,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	return out, nil
}
